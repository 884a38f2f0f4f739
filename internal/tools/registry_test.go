package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{ name string }

func (t *echoTool) Name() string               { return t.name }
func (t *echoTool) Description() string        { return "echoes its input" }
func (t *echoTool) Parameters() map[string]any { return ObjectSchema(map[string]any{}) }
func (t *echoTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	return NewSuccessResult(StringArg(args, "text")), nil
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))

	res, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content)
	assert.False(t, res.IsError)
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))
	require.Error(t, r.Register(&echoTool{name: "echo"}))
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "ghost", nil)
	require.Error(t, err)
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&echoTool{name: "zeta"})
	r.MustRegister(&echoTool{name: "alpha"})
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
	assert.Equal(t, 2, r.Len())
}

func TestValidateAgentName(t *testing.T) {
	assert.NoError(t, ValidateAgentName("backend"))
	assert.NoError(t, ValidateAgentName("Backend_2-beta"))
	assert.Error(t, ValidateAgentName(""))
	assert.Error(t, ValidateAgentName("has space"))
	assert.Error(t, ValidateAgentName("dot.name"))
	assert.Error(t, ValidateAgentName("a/..\\b"))
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateText("task", "multi\nline\ttext\r\n"))
	assert.Error(t, ValidateText("task", "null\x00byte"))
	assert.Error(t, ValidateText("task", "bell\x07"))
}

func TestValidateRelPath(t *testing.T) {
	assert.NoError(t, ValidateRelPath("path", "PRD/plan.md"))
	assert.Error(t, ValidateRelPath("path", ""))
	assert.Error(t, ValidateRelPath("path", "/etc/passwd"))
	assert.Error(t, ValidateRelPath("path", "../outside"))
	assert.Error(t, ValidateRelPath("path", "a/../../b"))
	assert.Error(t, ValidateRelPath("path", "a\x00b"))
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s":    "text",
		"n":    float64(7),
		"b":    true,
		"tags": []any{"one", "two", 3},
	}
	assert.Equal(t, "text", StringArg(args, "s"))
	assert.Equal(t, "", StringArg(args, "missing"))
	assert.Equal(t, 7, IntArg(args, "n"))
	assert.Equal(t, 0, IntArg(args, "missing"))
	assert.True(t, BoolArg(args, "b"))
	assert.Equal(t, []string{"one", "two"}, StringSliceArg(args, "tags"))
}
