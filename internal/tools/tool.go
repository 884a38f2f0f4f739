// Package tools defines the Tool interface and registry backing the
// JSON-RPC tool surface.
package tools

import "context"

// Tool is one named operation callable over JSON-RPC. Implementations
// validate their own arguments and return a ToolResult even for expected
// failures; an error return means the call itself broke.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns a short human-readable summary.
	Description() string

	// Parameters returns the JSON Schema of the input object.
	Parameters() map[string]any

	// Execute runs the tool.
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewSuccessResult wraps content in a success result.
func NewSuccessResult(content string) ToolResult {
	return ToolResult{Content: content}
}

// NewErrorResult wraps an error message in a failed result.
func NewErrorResult(msg string) ToolResult {
	return ToolResult{Content: msg, IsError: true}
}

// ObjectSchema builds the JSON Schema for an object input.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
