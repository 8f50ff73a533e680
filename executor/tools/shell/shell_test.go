package shell

import (
	"context"
	"encoding/json"
	"testing"

	clawforge "github.com/clawforge/clawforge"
)

func TestToolExecuteSuccess(t *testing.T) {
	tool := New(t.TempDir(), 5)
	args, _ := json.Marshal(execParams{Command: "echo hello"})

	raw, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	var result execResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("result did not parse: %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Errorf("result = %+v, want success exit 0", result)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestToolExecuteNonZeroExitIsNotError(t *testing.T) {
	tool := New(t.TempDir(), 5)
	args, _ := json.Marshal(execParams{Command: "exit 3"})

	raw, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("non-zero exit should not be a Go error, got: %v", err)
	}
	var result execResult
	json.Unmarshal(raw, &result)
	if result.Success || result.ExitCode != 3 {
		t.Errorf("result = %+v, want failure exit 3", result)
	}
}

func TestToolExecuteBlockedCommand(t *testing.T) {
	tool := New(t.TempDir(), 5)
	args, _ := json.Marshal(execParams{Command: "sudo rm file"})

	_, err := tool.Execute(context.Background(), args)
	if err == nil {
		t.Fatal("blocked command should return an error")
	}
}

func TestToolExecuteMissingCommand(t *testing.T) {
	tool := New(t.TempDir(), 5)
	args, _ := json.Marshal(execParams{})

	_, err := tool.Execute(context.Background(), args)
	if err == nil {
		t.Fatal("missing command should return an error")
	}
}

func TestToolRequiredCapability(t *testing.T) {
	tool := New(t.TempDir(), 5)
	if tool.RequiredCapability(clawforge.Capabilities{CanExecuteCommands: false}) {
		t.Error("RequiredCapability should be false when CanExecuteCommands is false")
	}
	if !tool.RequiredCapability(clawforge.Capabilities{CanExecuteCommands: true}) {
		t.Error("RequiredCapability should be true when CanExecuteCommands is true")
	}
}
