package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPatternCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Manage workflow patterns",
	}
	cmd.AddCommand(newPatternListCommand())
	cmd.AddCommand(newPatternGetCommand())
	cmd.AddCommand(newPatternCreateCommand())
	cmd.AddCommand(newPatternMineCommand())
	return cmd
}

func newPatternListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/patterns", nil)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newPatternGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/patterns/"+args[0], nil)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newPatternCreateCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create -f <pattern.yaml>",
		Short: "Register a pattern from a YAML definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("a pattern file is required (-f)")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			var def map[string]interface{}
			if err := yaml.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("failed to parse %s: %w", file, err)
			}
			resp, err := newClient().post("/api/v1/patterns", def)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Pattern definition file")
	return cmd
}

func newPatternMineCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "mine -f <calls.yaml>",
		Short: "Mine new patterns from a tool-call log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("a tool-call log is required (-f)")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			var calls []map[string]interface{}
			if err := yaml.Unmarshal(data, &calls); err != nil {
				return fmt.Errorf("failed to parse %s: %w", file, err)
			}
			resp, err := newClient().post("/api/v1/patterns/mine", map[string]interface{}{"calls": calls})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Tool-call log file")
	return cmd
}

func newExecutionCommand() *cobra.Command {
	var patternName string
	var limit int
	cmd := &cobra.Command{
		Use:   "executions [id]",
		Short: "List or show persisted executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				resp, err := newClient().get("/api/v1/executions/"+args[0], nil)
				if err != nil {
					return err
				}
				return printJSON(resp)
			}
			params := url.Values{}
			if patternName != "" {
				params.Set("pattern", patternName)
			}
			if limit > 0 {
				params.Set("limit", fmt.Sprintf("%d", limit))
			}
			resp, err := newClient().get("/api/v1/executions", params)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&patternName, "pattern", "p", "", "Filter by pattern name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows returned")
	return cmd
}

func newModelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "model <model-id>",
		Short: "Show the capability profile for a model identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/models/"+args[0], nil)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().get("/api/v1/health", nil)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}
