// Package invoker bridges step execution to an external tool host over HTTP.
// The engine itself never runs tools; it posts each invocation to the
// configured endpoint and treats the JSON response as the tool's result.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jordanhubbard/tapestry/internal/executor"
)

// HTTP posts tool invocations to a remote tool host
type HTTP struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTP creates an HTTP invoker. Token, when set, is sent as a bearer
// credential on every invocation.
func NewHTTP(endpoint, token string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

type invocation struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Invoke posts {tool, args} to the tool host and decodes the JSON result.
// HTTP status codes map onto error kinds so the retry policy can distinguish
// transient failures from permanent ones.
func (h *HTTP) Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(invocation{Tool: tool, Args: args})
	if err != nil {
		return nil, &executor.ToolError{Kind: executor.KindValidation, Tool: tool,
			Err: fmt.Errorf("failed to encode args: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &executor.ToolError{Kind: executor.KindValidation, Tool: tool, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		kind := executor.KindConnection
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			kind = executor.KindTimeout
		case errors.Is(err, context.Canceled):
			kind = executor.KindCancelled
		}
		return nil, &executor.ToolError{Kind: kind, Tool: tool, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &executor.ToolError{Kind: executor.KindConnection, Tool: tool, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &executor.ToolError{Kind: kindForStatus(resp.StatusCode), Tool: tool,
			Err: fmt.Errorf("tool host returned %d: %s", resp.StatusCode, truncate(body, 256))}
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &executor.ToolError{Kind: executor.KindValidation, Tool: tool,
			Err: fmt.Errorf("malformed tool response: %w", err)}
	}
	return result, nil
}

func kindForStatus(status int) executor.ErrorKind {
	switch status {
	case http.StatusNotFound:
		return executor.KindNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return executor.KindTimeout
	case http.StatusTooManyRequests:
		return executor.KindRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return executor.KindValidation
	default:
		return executor.KindConnection
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Unconfigured rejects every invocation. Used when the server runs without a
// tool endpoint, keeping prediction and pattern management available.
type Unconfigured struct{}

func (Unconfigured) Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	return nil, &executor.ToolError{Kind: executor.KindConnection, Tool: tool,
		Err: errors.New("no tool endpoint configured")}
}
