package invoker

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jordanhubbard/tapestry/internal/executor"
)

// allowedCommands is the allowlist of permitted binaries for the local
// shell invoker
var allowedCommands = map[string]bool{
	// Build tools
	"go":    true,
	"make":  true,
	"cmake": true,

	// Package managers
	"npm":  true,
	"yarn": true,
	"pip":  true,
	"pip3": true,

	// Version control
	"git": true,

	// Testing
	"pytest": true,
	"jest":   true,
	"mocha":  true,

	// Common utilities (read-only operations)
	"ls":   true,
	"cat":  true,
	"grep": true,
	"find": true,
	"echo": true,
	"pwd":  true,
	"date": true,
	"wc":   true,
	"head": true,
	"tail": true,
	"diff": true,
	"tree": true,

	// Docker
	"docker": true,

	// Language tools
	"node":    true,
	"python":  true,
	"python3": true,
	"ruby":    true,
	"java":    true,
	"javac":   true,
	"rustc":   true,
	"cargo":   true,
}

// shellTools are the tool names the local invoker answers
var shellTools = map[string]bool{
	"terminal": true,
	"shell":    true,
}

// Shell runs terminal steps as local commands against an allowlist. Every
// other tool is rejected as not found. Intended for development and for
// workflows that only need the terminal tool.
type Shell struct {
	workDir string
	timeout time.Duration
}

// NewShell creates a local shell invoker rooted at workDir
func NewShell(workDir string, timeout time.Duration) *Shell {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Shell{workDir: workDir, timeout: timeout}
}

// validateCommand checks a command against the allowlist and reports whether
// it needs shell interpretation
func validateCommand(command string) ([]string, bool, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil, false, fmt.Errorf("empty command")
	}

	shellMetachars := []string{"|", "&&", "||", ";", ">", "<", "&", "`", "$(", "\"", "'", "\\"}
	requiresShell := false
	for _, meta := range shellMetachars {
		if strings.Contains(command, meta) {
			requiresShell = true
			break
		}
	}

	parts := strings.Fields(trimmed)
	if len(parts) == 0 {
		return nil, false, fmt.Errorf("invalid command")
	}

	// Base of the first part, so /usr/bin/go still matches "go"
	binary := filepath.Base(parts[0])
	if !allowedCommands[binary] {
		return nil, false, fmt.Errorf("command not allowed: %s", binary)
	}

	if requiresShell {
		return []string{command}, true, nil
	}
	return parts, false, nil
}

// Invoke runs the step's command and returns exit code, stdout, and stderr.
// A non-zero exit is still a successful invocation; the pattern's validation
// rules decide whether the step passed.
func (s *Shell) Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	if !shellTools[tool] {
		return nil, &executor.ToolError{Kind: executor.KindNotFound, Tool: tool,
			Err: fmt.Errorf("local invoker only handles terminal steps")}
	}

	command, _ := args["command"].(string)
	parts, requiresShell, err := validateCommand(command)
	if err != nil {
		return nil, &executor.ToolError{Kind: executor.KindValidation, Tool: tool, Err: err}
	}

	workDir := s.workDir
	if dir, ok := args["working_dir"].(string); ok && dir != "" {
		workDir = dir
	}

	timeout := s.timeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if requiresShell {
		cmd = exec.CommandContext(cmdCtx, "/bin/sh", "-c", parts[0])
	} else {
		cmd = exec.CommandContext(cmdCtx, parts[0], parts[1:]...)
	}
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("[Shell] Executing: %s", command)
	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started).Milliseconds()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, &executor.ToolError{Kind: executor.KindTimeout, Tool: tool,
			Err: fmt.Errorf("command exceeded %s", timeout)}
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, &executor.ToolError{Kind: executor.KindUnknown, Tool: tool, Err: runErr}
		}
	}

	status := "success"
	if exitCode != 0 {
		status = "error"
	}

	log.Printf("[Shell] Command completed: exit_code=%d duration=%dms", exitCode, duration)
	return map[string]interface{}{
		"status":      status,
		"exit_code":   exitCode,
		"output":      stdout.String(),
		"stderr":      stderr.String(),
		"duration_ms": duration,
	}, nil
}
