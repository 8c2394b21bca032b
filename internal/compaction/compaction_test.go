package compaction

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/provider"
)

type fakeProvider struct {
	id     string
	chunks []*schema.Message
}

func (f *fakeProvider) ID() string                          { return f.id }
func (f *fakeProvider) Name() string                        { return f.id }
func (f *fakeProvider) Models() []provider.Model            { return nil }
func (f *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }
func (f *fakeProvider) Stream(ctx context.Context, req *provider.CompletionRequest) (*provider.Stream, error) {
	return provider.NewStream(schema.StreamReaderFromArray(f.chunks)), nil
}

func summaryChunks(text string) []*schema.Message {
	return []*schema.Message{
		{Role: schema.Assistant, Content: text},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"}},
	}
}

func newEngine(t *testing.T, chunks []*schema.Message) *Engine {
	t.Helper()
	reg := provider.NewRegistry(nil)
	reg.Register(&fakeProvider{id: "anthropic", chunks: chunks})
	return New(reg, Config{KeepRecentTokens: 20, SummaryMaxTokens: 500})
}

func msg(id, parent string, role chat.Role, content string) *chat.Message {
	return &chat.Message{ID: id, ParentID: parent, Role: role, Content: content}
}

func buildLinearTree(messages []*chat.Message) *chat.Tree {
	tree := chat.New("s1")
	for _, m := range messages {
		m2 := *m
		m2.ParentID = ""
		tree.Append(&m2)
	}
	return tree
}

func TestShouldCompact_Threshold(t *testing.T) {
	e := New(provider.NewRegistry(nil), Config{})
	assert.False(t, e.ShouldCompact(100, 1000))
	assert.True(t, e.ShouldCompact(850, 1000))
	assert.False(t, e.ShouldCompact(100, 0))
}

func TestSplitPath_NeverSplitsToolTurn(t *testing.T) {
	path := []*chat.Message{
		msg("m1", "", chat.RoleUser, "do the thing"),
		{ID: "m2", Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{CallID: "c1", Name: "read", Arguments: json.RawMessage(`{"filePath":"a.go"}`)},
		}},
		msg("m3", "m2", chat.RoleToolResult, "file contents here"),
	}
	path[2].Name = "read"
	path[2].CallID = "c1"

	toSummarize, toKeep, heavy := splitPath(path, 5)
	require.NotNil(t, heavy)
	assert.Equal(t, 3, len(toSummarize))
	assert.Empty(t, toKeep)
	assert.Equal(t, 2, len(heavy))
}

func TestCompact_ReplacesSegmentAndScansFileTouches(t *testing.T) {
	tree := buildLinearTree([]*chat.Message{
		msg("u1", "", chat.RoleUser, "read config.go and summarize it"),
		{ID: "a1", Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{CallID: "c1", Name: "read", Arguments: json.RawMessage(`{"filePath":"config.go"}`)},
		}},
		msg("t1", "a1", chat.RoleToolResult, "package config..."),
		msg("a2", "t1", chat.RoleAssistant, "config.go defines the Config struct."),
		msg("u2", "a2", chat.RoleUser, "now edit it to add a field"),
		{ID: "a3", ParentID: "u2", Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{CallID: "c2", Name: "edit", Arguments: json.RawMessage(`{"filePath":"config.go"}`)},
		}},
		msg("t2", "a3", chat.RoleToolResult, "edited"),
		msg("a4", "t2", chat.RoleAssistant, "Done, added the field."),
	})

	reg := provider.NewRegistry(nil)
	reg.Register(&fakeProvider{id: "anthropic", chunks: summaryChunks("<Goal> finish the edit\n<Progress> read and edited config.go\n<Next> run tests")})
	e := New(reg, Config{KeepRecentTokens: 5, SummaryMaxTokens: 500})

	result, err := e.Compact(context.Background(), tree, "anthropic", "claude-sonnet-4-20250514")
	require.NoError(t, err)
	require.NotNil(t, result.Summary)

	assert.Equal(t, "compaction_summary", result.Summary.Metadata["type"])
	modified, _ := result.Summary.Metadata["modified_files"].([]string)
	assert.Contains(t, modified, "config.go")
	read, _ := result.Summary.Metadata["read_files"].([]string)
	assert.NotContains(t, read, "config.go")

	path := tree.GetPath()
	require.NotEmpty(t, path)
	assert.Equal(t, result.Summary.ID, path[0].ID)
}

func TestCompact_NothingToSummarizeWhenPathFitsBudget(t *testing.T) {
	tree := buildLinearTree([]*chat.Message{
		msg("u1", "", chat.RoleUser, "hi"),
		msg("a1", "u1", chat.RoleAssistant, "hello"),
	})
	e := New(provider.NewRegistry(nil), Config{KeepRecentTokens: 10000})

	result, err := e.Compact(context.Background(), tree, "anthropic", "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Nil(t, result.Summary)
	assert.Equal(t, result.BeforeCount, result.AfterCount)
}

func TestCompact_SummarizerProviderErrorWraps(t *testing.T) {
	tree := buildLinearTree([]*chat.Message{
		msg("u1", "", chat.RoleUser, "do a very long thing that exceeds the tiny keep budget here"),
		msg("a1", "u1", chat.RoleAssistant, "working on it with a fairly long reply to force a split"),
	})
	e := New(provider.NewRegistry(nil), Config{KeepRecentTokens: 1})

	_, err := e.Compact(context.Background(), tree, "missing-provider", "m")
	require.Error(t, err)
	var sErr *SummarizerError
	assert.ErrorAs(t, err, &sErr)
}
