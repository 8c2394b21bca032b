package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubAgentTool_Parameters(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	assert.Equal(t, "sub_agent", st.ID())
	var schema map[string]any
	require.NoError(t, json.Unmarshal(st.Parameters(), &schema))
}

func TestSubAgentTool_Execute_MissingFields(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	ctx := &Context{AgentState: struct{}{}}

	_, err := st.Execute(context.Background(), json.RawMessage(`{}`), ctx)
	assert.Error(t, err)

	_, err = st.Execute(context.Background(), json.RawMessage(`{"agentType":"general"}`), ctx)
	assert.Error(t, err)
}

func TestSubAgentTool_Execute_RequiresAgentState(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	input := json.RawMessage(`{"agentType":"general","prompt":"look around"}`)

	_, err := st.Execute(context.Background(), input, &Context{})
	assert.Error(t, err)
}

func TestSubAgentTool_Execute_UnknownProfile(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	ctx := &Context{AgentState: struct{}{}}
	input := json.RawMessage(`{"agentType":"nonexistent","prompt":"hi"}`)

	_, err := st.Execute(context.Background(), input, ctx)
	assert.Error(t, err)
}

func TestSubAgentTool_Execute_RejectsPrimaryProfile(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	ctx := &Context{AgentState: struct{}{}}
	input := json.RawMessage(`{"agentType":"build","prompt":"hi"}`)

	_, err := st.Execute(context.Background(), input, ctx)
	assert.Error(t, err)
}

func TestSubAgentTool_Execute_RejectsSelfGrant(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	ctx := &Context{AgentState: struct{}{}}
	input := json.RawMessage(`{"agentType":"general","prompt":"hi","tools":["sub_agent"]}`)

	_, err := st.Execute(context.Background(), input, ctx)
	assert.Error(t, err)
}

func TestSubAgentTool_Execute_NoSpawnerReturnsPlaceholder(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	ctx := &Context{AgentState: struct{}{}}
	input := json.RawMessage(`{"agentType":"general","prompt":"hi"}`)

	result, err := st.Execute(context.Background(), input, ctx)
	require.NoError(t, err)
	assert.Equal(t, "skipped", result.Metadata["status"])
}

type fakeSpawner struct {
	result *SubAgentResult
	err    error
}

func (f *fakeSpawner) Spawn(ctx context.Context, toolCtx *Context, req SubAgentSpawnRequest) (*SubAgentResult, error) {
	return f.result, f.err
}

func TestSubAgentTool_Execute_WithSpawner(t *testing.T) {
	st := NewSubAgentTool("/tmp", nil)
	st.SetSpawner(&fakeSpawner{result: &SubAgentResult{
		Output:       "found 3 matches",
		SubSessionID: "sub-1",
		ToolLog:      []string{"grep foo"},
	}})

	ctx := &Context{AgentState: struct{}{}, SessionID: "parent-1", CallID: "call-1"}
	input := json.RawMessage(`{"agentType":"explore","prompt":"find foo"}`)

	result, err := st.Execute(context.Background(), input, ctx)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Metadata["status"])
	assert.Contains(t, result.Output, "Sub-agent tool log")
	assert.Contains(t, result.Output, "found 3 matches")
}

func TestSubAgentTool_AvailableProfiles(t *testing.T) {
	st := NewSubAgentTool("/tmp", agentprofile.NewRegistry())
	profiles := st.AvailableProfiles()
	assert.Contains(t, profiles, "general")
	assert.Contains(t, profiles, "explore")
	assert.NotContains(t, profiles, "build")
}
