// Package shell implements the shell_exec built-in tool: runs a command in
// a sandboxed working directory with a blocklist and timeout.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	clawforge "github.com/clawforge/clawforge"
)

// Tool executes shell commands under workspacePath.
type Tool struct {
	workspacePath  string
	defaultTimeout int // seconds
}

// New creates a shell_exec tool rooted at workspacePath. defaultTimeout <= 0
// falls back to 30 seconds.
func New(workspacePath string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Tool{workspacePath: workspacePath, defaultTimeout: defaultTimeout}
}

// Name implements executor.Tool.
func (t *Tool) Name() string { return "shell_exec" }

// Description implements executor.Tool.
func (t *Tool) Description() string {
	return "Execute a shell command in the workspace directory. Returns stdout + stderr."
}

// Parameters implements executor.Tool.
func (t *Tool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"},"timeout":{"type":"integer"}},"required":["command"]}`)
}

// RequiredCapability implements executor.CapabilityChecker.
func (t *Tool) RequiredCapability(caps clawforge.Capabilities) bool {
	return caps.CanExecuteCommands
}

var blockedSubstrings = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if="}

type execParams struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

type execResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Success  bool   `json:"success"`
}

// Execute implements executor.Tool.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params execParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("shell_exec: invalid args: %w", err)
	}
	if params.Command == "" {
		return nil, fmt.Errorf("shell_exec: command is required")
	}

	lower := strings.ToLower(params.Command)
	for _, b := range blockedSubstrings {
		if strings.Contains(lower, b) {
			return nil, fmt.Errorf("shell_exec: command blocked for safety: %s", b)
		}
	}

	timeout := t.defaultTimeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > 300 {
		timeout = 300
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			// The command could not even be spawned: this is the
			// ActionFailed path, not a completed-with-failure result.
			return nil, fmt.Errorf("shell_exec: spawn failed: %w", runErr)
		}
	}

	result := execResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Success:  cmd.ProcessState.ExitCode() == 0,
	}
	return json.Marshal(result)
}
