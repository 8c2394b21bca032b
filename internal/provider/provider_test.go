package provider

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessages_RoleMapping(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello", ToolCalls: []ToolCallIn{
			{CallID: "c1", Name: "shell", Arguments: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: "tool_result", Content: "src/", ToolCallID: "c1", Name: "shell"},
	}

	out := convertMessages(messages)
	require.Len(t, out, 4)

	assert.Equal(t, schema.System, out[0].Role)
	assert.Equal(t, schema.User, out[1].Role)
	assert.Equal(t, schema.Assistant, out[2].Role)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "c1", out[2].ToolCalls[0].ID)
	assert.Equal(t, "shell", out[2].ToolCalls[0].Function.Name)
	assert.Equal(t, schema.Tool, out[3].Role)
	assert.Equal(t, "c1", out[3].ToolCallID)
	assert.Equal(t, "shell", out[3].Name)
}

func TestConvertTools_DefaultSchema(t *testing.T) {
	tools := []ToolSpec{
		{
			Name:        "shell",
			Description: "run a shell command",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "command to run"}
				},
				"required": ["command"]
			}`),
		},
	}

	out := convertTools(tools)
	require.Len(t, out, 1)
	assert.Equal(t, "shell", out[0].Name)
	assert.Equal(t, "run a shell command", out[0].Desc)
}

func TestParseJSONSchemaToParams_Empty(t *testing.T) {
	assert.Nil(t, parseJSONSchemaToParams(nil))
	assert.Nil(t, parseJSONSchemaToParams(json.RawMessage("")))
}

func TestParseJSONSchemaToParams_RequiredFlag(t *testing.T) {
	raw := json.RawMessage(`{
		"properties": {
			"path": {"type": "string"},
			"limit": {"type": "integer"}
		},
		"required": ["path"]
	}`)

	params := parseJSONSchemaToParams(raw)
	require.Contains(t, params, "path")
	require.Contains(t, params, "limit")
	assert.True(t, params["path"].Required)
	assert.False(t, params["limit"].Required)
	assert.Equal(t, schema.Integer, params["limit"].Type)
}
