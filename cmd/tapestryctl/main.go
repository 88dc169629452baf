package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	serverURL string
	authToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tapestryctl",
		Short: "Tapestry CLI - interact with a Tapestry server",
		Long: `tapestryctl is a command-line interface for a Tapestry workflow server.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "Tapestry server URL")
	rootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("TAPESTRY_TOKEN"), "Bearer token for authenticated servers")

	rootCmd.AddCommand(newSuggestCommand())
	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newPatternCommand())
	rootCmd.AddCommand(newExecutionCommand())
	rootCmd.AddCommand(newModelCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("TAPESTRY_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do("GET", path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, nil, data)
}

// printJSON pretty-prints a raw JSON response
func printJSON(raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// --- Commands ---

func newSuggestCommand() *cobra.Command {
	var modelID string
	cmd := &cobra.Command{
		Use:   "suggest <task description>",
		Short: "Predict which workflow pattern fits a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().post("/api/v1/suggest", map[string]string{
				"task":     strings.Join(args, " "),
				"model_id": modelID,
			})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Calling model identifier for tier adaptation")
	return cmd
}

func newExecuteCommand() *cobra.Command {
	var modelID, inputJSON string
	cmd := &cobra.Command{
		Use:   "execute <pattern-name>",
		Short: "Run a registered pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInput(inputJSON)
			if err != nil {
				return err
			}
			resp, err := newClient().post("/api/v1/execute", map[string]interface{}{
				"pattern":  args[0],
				"input":    input,
				"model_id": modelID,
			})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Calling model identifier for tier adaptation")
	cmd.Flags().StringVarP(&inputJSON, "input", "i", "", "Input bindings as a JSON object")
	return cmd
}

func newTaskCommand() *cobra.Command {
	var modelID, inputJSON string
	cmd := &cobra.Command{
		Use:   "task <task description>",
		Short: "Predict and, on a confident match, execute in one call",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInput(inputJSON)
			if err != nil {
				return err
			}
			resp, err := newClient().post("/api/v1/tasks", map[string]interface{}{
				"task":     strings.Join(args, " "),
				"input":    input,
				"model_id": modelID,
			})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Calling model identifier for tier adaptation")
	cmd.Flags().StringVarP(&inputJSON, "input", "i", "", "Extra input bindings as a JSON object")
	return cmd
}

func parseInput(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("invalid --input JSON: %w", err)
	}
	return input, nil
}
