package executor

import (
	"context"
	"encoding/json"

	clawforge "github.com/clawforge/clawforge"
)

// Tool is the collaborator contract for a ToolCall action: a named,
// self-describing capability the Executor's tool registry can invoke. A tool
// that needs a Capabilities bit declares it by implementing
// CapabilityChecker; the capability gate enforces it uniformly rather than
// trusting tools to self-police.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// CapabilityChecker is implemented by tools that gate on a Capabilities
// bit beyond the baseline ToolCall check (tool exists in the registry).
// Tools that don't need one (pure computation) may omit it.
type CapabilityChecker interface {
	RequiredCapability(caps clawforge.Capabilities) bool
}

// ToolRegistry maps tool names to implementations, populated once at
// Executor startup with the built-in shell_exec/file_read/file_write tools.
type ToolRegistry struct {
	tools map[string]Tool
}

// NewToolRegistry constructs an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its own Name().
func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Lookup returns the tool named name, if registered.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
