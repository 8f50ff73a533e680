// Package file implements the file_read and file_write built-in tools,
// sandboxed to a workspace directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	clawforge "github.com/clawforge/clawforge"
)

const maxReadBytes = 8000

// ReadTool implements the file_read tool.
type ReadTool struct {
	workspacePath string
}

// NewReadTool creates a file_read tool rooted at workspacePath.
func NewReadTool(workspacePath string) *ReadTool { return &ReadTool{workspacePath: workspacePath} }

// Name implements executor.Tool.
func (t *ReadTool) Name() string { return "file_read" }

// Description implements executor.Tool.
func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Content is truncated to 8000 characters if large."
}

// Parameters implements executor.Tool.
func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

// RequiredCapability implements executor.CapabilityChecker.
func (t *ReadTool) RequiredCapability(caps clawforge.Capabilities) bool { return caps.CanReadFiles }

type readParams struct {
	Path string `json:"path"`
}

// Execute implements executor.Tool.
func (t *ReadTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params readParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("file_read: invalid args: %w", err)
	}
	resolved, err := resolvePath(t.workspacePath, params.Path)
	if err != nil {
		return nil, fmt.Errorf("file_read: %w", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("file_read: %w", err)
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n... (truncated)"
	}
	return json.Marshal(content)
}

// WriteTool implements the file_write tool.
type WriteTool struct {
	workspacePath string
}

// NewWriteTool creates a file_write tool rooted at workspacePath.
func NewWriteTool(workspacePath string) *WriteTool { return &WriteTool{workspacePath: workspacePath} }

// Name implements executor.Tool.
func (t *WriteTool) Name() string { return "file_write" }

// Description implements executor.Tool.
func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace. Creates parent directories if needed."
}

// Parameters implements executor.Tool.
func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
}

// RequiredCapability implements executor.CapabilityChecker.
func (t *WriteTool) RequiredCapability(caps clawforge.Capabilities) bool { return caps.CanWriteFiles }

type writeParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Execute implements executor.Tool.
func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params writeParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("file_write: invalid args: %w", err)
	}
	resolved, err := resolvePath(t.workspacePath, params.Path)
	if err != nil {
		return nil, fmt.Errorf("file_write: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return nil, fmt.Errorf("file_write: mkdir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(params.Content), 0644); err != nil {
		return nil, fmt.Errorf("file_write: %w", err)
	}
	return json.Marshal(fmt.Sprintf("Successfully wrote to %s", filepath.Base(resolved)))
}

// resolvePath rejects absolute paths and traversal, then joins against
// workspacePath, with a final lexical prefix check on the joined path.
// Symlinks inside the workspace are not resolved.
func resolvePath(workspacePath, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(workspacePath, path)
	if !strings.HasPrefix(resolved, workspacePath) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}
