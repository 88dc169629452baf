package invoker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/tapestry/internal/executor"
)

func TestValidateCommand(t *testing.T) {
	cases := []struct {
		command string
		ok      bool
		shell   bool
	}{
		{"echo hello", true, false},
		{"/usr/bin/echo hello", true, false},
		{"echo hello | wc -l", true, true},
		{"rm -rf /", false, false},
		{"curl http://example.com", false, false},
		{"", false, false},
	}

	for _, tc := range cases {
		_, shell, err := validateCommand(tc.command)
		if tc.ok {
			require.NoError(t, err, tc.command)
			assert.Equal(t, tc.shell, shell, tc.command)
		} else {
			assert.Error(t, err, tc.command)
		}
	}
}

func TestShellInvokeEcho(t *testing.T) {
	inv := NewShell(t.TempDir(), time.Minute)

	result, err := inv.Invoke(context.Background(), "terminal",
		map[string]interface{}{"command": "echo hello"})
	require.NoError(t, err)

	assert.Equal(t, "success", result["status"])
	assert.Equal(t, 0, result["exit_code"])
	assert.Contains(t, result["output"], "hello")
}

func TestShellInvokeNonZeroExit(t *testing.T) {
	inv := NewShell(t.TempDir(), time.Minute)

	result, err := inv.Invoke(context.Background(), "terminal",
		map[string]interface{}{"command": "ls /definitely/not/a/real/path"})
	require.NoError(t, err)
	assert.Equal(t, "error", result["status"])
	assert.NotEqual(t, 0, result["exit_code"])
}

func TestShellInvokeRejectsDisallowed(t *testing.T) {
	inv := NewShell(t.TempDir(), time.Minute)

	_, err := inv.Invoke(context.Background(), "terminal",
		map[string]interface{}{"command": "curl http://example.com"})
	require.Error(t, err)
	assert.Equal(t, executor.KindValidation, executor.Classify(err))
}

func TestShellInvokeRejectsOtherTools(t *testing.T) {
	inv := NewShell(t.TempDir(), time.Minute)

	_, err := inv.Invoke(context.Background(), "file_edit",
		map[string]interface{}{"path": "x"})
	require.Error(t, err)
	assert.Equal(t, executor.KindNotFound, executor.Classify(err))
}
