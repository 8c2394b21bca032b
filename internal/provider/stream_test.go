package provider

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkReader(chunks []*schema.Message) *schema.StreamReader[*schema.Message] {
	return schema.StreamReaderFromArray(chunks)
}

func drain(t *testing.T, s *Stream) []Event {
	t.Helper()
	var events []Event
	for {
		e, ok, err := s.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		events = append(events, *e)
	}
	return events
}

func TestStream_TextDeltaAccumulation(t *testing.T) {
	chunks := []*schema.Message{
		{Role: schema.Assistant, Content: "Hello"},
		{Role: schema.Assistant, Content: "Hello world"},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"}},
	}
	s := NewStream(chunkReader(chunks))
	events := drain(t, s)

	require.Len(t, events, 5)
	assert.Equal(t, EventTextStart, events[0].Kind)
	assert.Equal(t, EventTextDelta, events[1].Kind)
	assert.Equal(t, "Hello", events[1].Delta)
	assert.Equal(t, EventTextDelta, events[2].Kind)
	assert.Equal(t, " world", events[2].Delta)
	assert.Equal(t, EventResponseDone, events[3].Kind)
	assert.Equal(t, StopStop, events[3].StopReason)
	assert.Equal(t, EventTextDone, events[4].Kind)
}

func TestStream_ToolCallByIndex(t *testing.T) {
	idx0 := 0
	chunks := []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Index: &idx0, ID: "call_1", Function: schema.FunctionCall{Name: "shell"}},
		}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Index: &idx0, Function: schema.FunctionCall{Arguments: `{"command":`}},
		}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Index: &idx0, Function: schema.FunctionCall{Arguments: `"ls"}`}},
		}},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "tool_calls"}},
	}
	s := NewStream(chunkReader(chunks))
	events := drain(t, s)

	require.Len(t, events, 5)
	assert.Equal(t, EventToolCallStart, events[0].Kind)
	assert.Equal(t, "call_1", events[0].CallID)
	assert.Equal(t, "shell", events[0].Name)
	assert.Equal(t, EventToolCallDelta, events[1].Kind)
	assert.Equal(t, EventToolCallDelta, events[2].Kind)
	assert.Equal(t, EventResponseDone, events[3].Kind)
	assert.Equal(t, StopToolCalls, events[3].StopReason)
	assert.Equal(t, EventToolCallDone, events[4].Kind)
	assert.JSONEq(t, `{"command":"ls"}`, string(events[4].Input))
}

func TestStream_ToolCallDoneDefaultsToEmptyObject(t *testing.T) {
	idx0 := 0
	chunks := []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{
			{Index: &idx0, ID: "call_1", Function: schema.FunctionCall{Name: "noop"}},
		}},
	}
	s := NewStream(chunkReader(chunks))
	events := drain(t, s)

	last := events[len(events)-1]
	assert.Equal(t, EventToolCallDone, last.Kind)
	assert.Equal(t, json.RawMessage("{}"), last.Input)
}

func TestStream_ThinkingDeltas(t *testing.T) {
	chunks := []*schema.Message{
		{Role: schema.Assistant, ReasoningContent: "let me think"},
		{Role: schema.Assistant, ReasoningContent: " some more"},
	}
	s := NewStream(chunkReader(chunks))
	events := drain(t, s)

	require.Len(t, events, 3)
	assert.Equal(t, EventThinkingStart, events[0].Kind)
	assert.Equal(t, EventThinkingDelta, events[1].Kind)
	assert.Equal(t, EventThinkingDelta, events[2].Kind)
}

func TestStream_UsageEvent(t *testing.T) {
	chunks := []*schema.Message{
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}},
	}
	s := NewStream(chunkReader(chunks))
	events := drain(t, s)

	require.Len(t, events, 2)
	assert.Equal(t, EventUsage, events[0].Kind)
	assert.Equal(t, 15, events[0].Usage.TotalTokens)
	assert.Equal(t, EventResponseDone, events[1].Kind)
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, StopToolCalls, normalizeStopReason("tool_calls", false))
	assert.Equal(t, StopToolCalls, normalizeStopReason("tool_use", false))
	assert.Equal(t, StopLength, normalizeStopReason("length", false))
	assert.Equal(t, StopError, normalizeStopReason("error", false))
	assert.Equal(t, StopStop, normalizeStopReason("stop", false))
	assert.Equal(t, StopToolCalls, normalizeStopReason("stop", true))
	assert.Equal(t, StopStop, normalizeStopReason("unknown", false))
}
