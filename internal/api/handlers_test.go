package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/tapestry/internal/engine"
	"github.com/jordanhubbard/tapestry/internal/executor"
	"github.com/jordanhubbard/tapestry/internal/pattern"
	"github.com/jordanhubbard/tapestry/pkg/config"
)

type cannedInvoker struct{}

func (cannedInvoker) Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	switch tool {
	case "memory_search":
		return map[string]interface{}{"notes": "prior work"}, nil
	case "file_read":
		return map[string]interface{}{"content": "defmodule Auth", "path": "lib/auth.ex"}, nil
	case "file_edit":
		return map[string]interface{}{"status": "success"}, nil
	case "terminal":
		return map[string]interface{}{"output": "ok"}, nil
	}
	return nil, &executor.ToolError{Kind: executor.KindNotFound, Tool: tool, Err: errors.New("unknown tool")}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Store:   pattern.NewMemoryStore(),
		Invoker: cannedInvoker{},
	})
	require.NoError(t, err)
	return NewServer(eng, nil, cfg, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSuggestEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/suggest", map[string]string{
		"task":     "Fix the bug in auth.ex line 42",
		"model_id": "gpt-4",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pred struct {
		Outcome  string                 `json:"outcome"`
		Pattern  *pattern.Pattern       `json:"pattern"`
		Bindings map[string]interface{} `json:"bindings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Equal(t, "matched", pred.Outcome)
	require.NotNil(t, pred.Pattern)
	assert.Equal(t, "investigate-and-fix", pred.Pattern.Name)
	assert.Equal(t, "auth.ex", pred.Bindings["path"])
}

func TestSuggestRejectsGet(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/suggest", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExecuteEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/execute", map[string]interface{}{
		"pattern": "investigate-and-fix",
		"input":   map[string]interface{}{"task": "fix auth", "path": "lib/auth.ex"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var exec executor.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, executor.StateCompleted, exec.State)
	assert.NotEmpty(t, exec.ID)
}

func TestExecuteInlineDefinition(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/execute", map[string]interface{}{
		"definition": map[string]interface{}{
			"name":     "one-off",
			"category": "general",
			"steps":    []map[string]interface{}{{"tool": "terminal", "args": map[string]interface{}{"command": "make test"}}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var exec executor.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, executor.StateCompleted, exec.State)
}

func TestExecuteUnknownPatternIs404(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/execute", map[string]interface{}{
		"pattern": "no-such-pattern",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteFailureReturnsExecutionState(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	// Missing the required "path" binding aborts before file_read
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/execute", map[string]interface{}{
		"pattern": "investigate-and-fix",
		"input":   map[string]interface{}{"task": "fix auth"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Execution *executor.Execution `json:"execution"`
		Error     string              `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Execution)
	assert.Equal(t, executor.StateFailed, body.Execution.State)
	assert.NotEmpty(t, body.Error)
}

func TestTaskEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"task":     "Fix the bug in auth.ex line 42",
		"model_id": "gpt-4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Prediction struct {
			Outcome string `json:"outcome"`
		} `json:"prediction"`
		Execution *executor.Execution `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "matched", body.Prediction.Outcome)
	require.NotNil(t, body.Execution)
	assert.Equal(t, executor.StateCompleted, body.Execution.State)
}

func TestPatternsListAndGet(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var patterns []*pattern.Pattern
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patterns))
	assert.NotEmpty(t, patterns)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/patterns/investigate-and-fix", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p pattern.Pattern
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "investigate-and-fix", p.Name)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/patterns/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatternCreate(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name":     "hotfix",
		"category": "debugging",
		"steps":    []map[string]interface{}{{"tool": "file_edit"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/patterns/hotfix", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPatternCreateInvalid(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMineEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	calls := []map[string]interface{}{}
	for i := 0; i < 4; i++ {
		calls = append(calls,
			map[string]interface{}{"tool": "docker_build", "args": map[string]interface{}{"tag": "x"}},
			map[string]interface{}{"tool": "docker_push", "args": map[string]interface{}{"tag": "x"}},
			map[string]interface{}{"tool": "pad_" + string(rune('a'+i))},
		)
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/patterns/mine",
		map[string]interface{}{"calls": calls})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestExecutionsWithoutHistory(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/executions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModelProfileEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).SetupRoutes()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/models/claude-haiku-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Profile struct {
			Tier string `json:"tier"`
		} `json:"profile"`
		Recommendations struct {
			UseStagedContext bool `json:"use_staged_context"`
		} `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tier1", body.Profile.Tier)
	assert.True(t, body.Recommendations.UseStagedContext)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.Default()
	cfg.Security.EnableAuth = true
	cfg.Security.JWTSecret = "test-secret"
	handler := newTestServer(t, cfg).SetupRoutes()

	// Health stays open
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// No token
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/patterns", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bad token
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
