package subagent

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/compaction"
	"github.com/opencode-ai/opal/internal/permission"
	"github.com/opencode-ai/opal/internal/provider"
	"github.com/opencode-ai/opal/internal/runtime"
	"github.com/opencode-ai/opal/internal/tool"
)

// fakeProvider returns the last canned response on every Stream call
// (the only one, in these tests), in the same shape internal/runtime's
// own tests use.
type fakeProvider struct{ responses [][]*schema.Message }

func (f *fakeProvider) ID() string                            { return "fake" }
func (f *fakeProvider) Name() string                          { return "fake" }
func (f *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }
func (f *fakeProvider) Models() []provider.Model {
	return []provider.Model{{ID: "model-1", ProviderID: "fake", ContextLength: 1_000_000}}
}
func (f *fakeProvider) Stream(ctx context.Context, req *provider.CompletionRequest) (*provider.Stream, error) {
	idx := 0
	if len(f.responses) > 1 {
		idx = len(f.responses) - 1
	}
	return provider.NewStream(schema.StreamReaderFromArray(f.responses[idx])), nil
}

func textResponse(text string) []*schema.Message {
	return []*schema.Message{
		{Role: schema.Assistant, Content: text},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8},
		}},
	}
}

func newTestAgentState(t *testing.T, responses [][]*schema.Message) *runtime.AgentState {
	t.Helper()

	providers := provider.NewRegistry(nil)
	providers.Register(&fakeProvider{responses: responses})

	tools := tool.NewRegistry("/tmp", nil)
	profiles := agentprofile.NewRegistry()

	deps := runtime.Deps{
		Bus:         bus.New(),
		Providers:   providers,
		Tools:       tools,
		Profiles:    profiles,
		Permissions: permission.NewChecker(nil),
		Compactor:   compaction.New(providers, compaction.Config{ContextThreshold: 0.99}),
	}

	return &runtime.AgentState{
		Deps:     deps,
		Profiles: profiles,
		Tools:    tools,
		WorkDir:  "/tmp",
		Model:    runtime.ModelRef{Provider: "fake", ID: "model-1", ThinkingLevel: provider.ThinkingOff},
		Config:   runtime.SubConfig{SubAgents: true},
	}
}

func newParentToolContext(ast *runtime.AgentState) *tool.Context {
	return &tool.Context{
		SessionID:  "parent-1",
		CallID:     "call-1",
		AgentState: ast,
	}
}

func TestSpawn_RunsChildToCompletion(t *testing.T) {
	ast := newTestAgentState(t, [][]*schema.Message{textResponse("done exploring")})
	toolCtx := newParentToolContext(ast)

	host := NewHost(nil)
	result, err := host.Spawn(context.Background(), toolCtx, tool.SubAgentSpawnRequest{
		ParentSessionID: "parent-1",
		ParentCallID:    "call-1",
		Profile:         "explore",
		Prompt:          "find the auth module",
	})

	require.NoError(t, err)
	assert.Equal(t, "done exploring", result.Output)
	assert.NotEmpty(t, result.SubSessionID)
	assert.Empty(t, result.ToolLog)
}

func TestSpawn_RejectsWhenSubAgentsDisabled(t *testing.T) {
	ast := newTestAgentState(t, [][]*schema.Message{textResponse("x")})
	ast.Config.SubAgents = false
	toolCtx := newParentToolContext(ast)

	host := NewHost(nil)
	_, err := host.Spawn(context.Background(), toolCtx, tool.SubAgentSpawnRequest{
		ParentSessionID: "parent-1",
		ParentCallID:    "call-1",
		Profile:         "explore",
		Prompt:          "anything",
	})

	require.Error(t, err)
}

func TestSpawn_RejectsPrimaryModeProfile(t *testing.T) {
	ast := newTestAgentState(t, [][]*schema.Message{textResponse("x")})
	toolCtx := newParentToolContext(ast)

	host := NewHost(nil)
	_, err := host.Spawn(context.Background(), toolCtx, tool.SubAgentSpawnRequest{
		ParentSessionID: "parent-1",
		ParentCallID:    "call-1",
		Profile:         "build",
		Prompt:          "anything",
	})

	require.Error(t, err)
}
