package fsmcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pathSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Path to inspect"}
	},
	"required": ["path"]
}`)

func echoHandler(_ context.Context, params CallToolParams) (CallToolResult, error) {
	return TextResult(string(params.Arguments)), nil
}

func newTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "test description",
		InputSchema: pathSchema,
		Handler:     echoHandler,
	}
}

func TestToolRegistry_RegisterAndList(t *testing.T) {
	r := NewToolRegistry(NewNullLogger())

	require.NoError(t, r.Register(newTool("d_tool"), newTool("a_tool"), newTool("c_tool"), newTool("b_tool")))

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []string{"a_tool", "b_tool", "c_tool", "d_tool"}, r.Names())

	for _, name := range r.Names() {
		_, ok := r.lookup(name)
		assert.True(t, ok, "listed tool %s must be dispatchable", name)
	}
}

func TestToolRegistry_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		tool    Tool
		wantErr string
	}{
		{
			name:    "empty name",
			tool:    Tool{Description: "d", InputSchema: pathSchema, Handler: echoHandler},
			wantErr: "tool name cannot be empty",
		},
		{
			name:    "empty description",
			tool:    Tool{Name: "x", InputSchema: pathSchema, Handler: echoHandler},
			wantErr: "tool description cannot be empty",
		},
		{
			name:    "missing schema",
			tool:    Tool{Name: "x", Description: "d", Handler: echoHandler},
			wantErr: "tool input schema cannot be empty",
		},
		{
			name:    "schema is not an object",
			tool:    Tool{Name: "x", Description: "d", InputSchema: json.RawMessage(`["a"]`), Handler: echoHandler},
			wantErr: "input schema must be a JSON object",
		},
		{
			name:    "uncompilable schema",
			tool:    Tool{Name: "x", Description: "d", InputSchema: json.RawMessage(`{"type": 12}`), Handler: echoHandler},
			wantErr: "invalid input schema",
		},
		{
			name:    "nil handler",
			tool:    Tool{Name: "x", Description: "d", InputSchema: pathSchema},
			wantErr: "tool handler cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewToolRegistry(nil)
			err := r.Register(tt.tool)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestToolRegistry_DuplicateKeepsFirst(t *testing.T) {
	r := NewToolRegistry(NewNullLogger())
	first := newTool("dup")
	second := newTool("dup")
	second.Description = "second"

	err := r.Register(first, second, newTool("other"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tool: dup")

	assert.Equal(t, 2, r.Len())
	got, ok := r.lookup("dup")
	require.True(t, ok)
	assert.Equal(t, "test description", got.Description)
}

func TestToolRegistry_ValidateArguments(t *testing.T) {
	r := NewToolRegistry(NewNullLogger())
	require.NoError(t, r.Register(newTool("t")))
	tool, _ := r.lookup("t")

	violations, err := tool.validateArguments(json.RawMessage(`{"path": "/tmp"}`))
	require.NoError(t, err)
	assert.Empty(t, violations)

	violations, err = tool.validateArguments(json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "path")

	violations, err = tool.validateArguments(json.RawMessage(`{"path": 3}`))
	require.NoError(t, err)
	assert.NotEmpty(t, violations)
}
