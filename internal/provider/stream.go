package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// EventKind discriminates a normalized stream Event's payload, matching
// the Provider Trait's event variants.
type EventKind string

const (
	EventTextStart      EventKind = "text_start"
	EventTextDelta       EventKind = "text_delta"
	EventTextDone        EventKind = "text_done"
	EventThinkingStart   EventKind = "thinking_start"
	EventThinkingDelta   EventKind = "thinking_delta"
	EventToolCallStart   EventKind = "tool_call_start"
	EventToolCallDelta   EventKind = "tool_call_delta"
	EventToolCallDone    EventKind = "tool_call_done"
	EventResponseDone    EventKind = "response_done"
	EventUsage           EventKind = "usage"
	EventError           EventKind = "error"
)

// StopReason is the terminal reason a response_done event carries.
type StopReason string

const (
	StopToolCalls StopReason = "tool_calls"
	StopStop      StopReason = "stop"
	StopLength    StopReason = "length"
	StopError     StopReason = "error"
)

// Usage is token accounting reported by the model.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Event is one normalized stream event. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind       EventKind
	Delta      string // text_delta / thinking_delta payload
	CallID     string // tool_call_*
	CallIndex  int    // tool_call_*, when the backend only gives an index
	Name       string // tool_call_start: the tool's name, once known
	Input      json.RawMessage // tool_call_done: the finalized, parsed arguments
	StopReason StopReason       // response_done
	Usage      *Usage           // usage
	Err        error            // error
}

// Stream folds an eino *schema.StreamReader[*schema.Message] into the
// normalized event sequence the Agent Runtime consumes. It tracks partial
// state (open text/thinking spans, per-call argument buffers) the same
// way the teacher's processMessageChunk does, generalized from its
// Part-oriented bookkeeping to bare normalized events.
type Stream struct {
	reader *schema.StreamReader[*schema.Message]

	textOpen      bool
	thinkingOpen  bool
	accumulated   string
	callOrder     []string
	callByKey     map[string]*pendingCall
	pending       []Event
	done          bool
}

type pendingCall struct {
	key       string
	callID    string
	name      string
	argBuffer string
	started   bool
}

// NewStream wraps an eino stream reader.
func NewStream(reader *schema.StreamReader[*schema.Message]) *Stream {
	return &Stream{reader: reader, callByKey: make(map[string]*pendingCall)}
}

// Close releases the underlying transport stream.
func (s *Stream) Close() { s.reader.Close() }

// Next returns the next normalized event. When the underlying stream is
// exhausted, Next synthesizes any outstanding text_done/tool_call_done
// events before returning (nil, false, nil).
func (s *Stream) Next() (*Event, bool, error) {
	for len(s.pending) == 0 && !s.done {
		if err := s.pull(); err != nil {
			return nil, false, err
		}
	}
	if len(s.pending) == 0 {
		return nil, false, nil
	}
	e := s.pending[0]
	s.pending = s.pending[1:]
	return &e, true, nil
}

func (s *Stream) emit(e Event) { s.pending = append(s.pending, e) }

func (s *Stream) pull() error {
	msg, err := s.reader.Recv()
	if err == io.EOF {
		s.finalize()
		s.done = true
		return nil
	}
	if err != nil {
		s.emit(Event{Kind: EventError, Err: err})
		s.done = true
		return nil
	}

	if msg.Content != "" {
		s.foldText(msg.Content)
	}
	if msg.ReasoningContent != "" {
		s.foldThinking(msg.ReasoningContent)
	}
	for _, tc := range msg.ToolCalls {
		s.foldToolCall(tc)
	}
	if msg.ResponseMeta != nil {
		s.foldMeta(msg.ResponseMeta)
	}
	return nil
}

func (s *Stream) foldText(content string) {
	if !s.textOpen {
		s.textOpen = true
		s.accumulated = content
		s.emit(Event{Kind: EventTextStart})
		s.emit(Event{Kind: EventTextDelta, Delta: content})
		return
	}

	var delta string
	if strings.HasPrefix(content, s.accumulated) {
		delta = content[len(s.accumulated):]
		s.accumulated = content
	} else {
		delta = content
		s.accumulated += content
	}
	if delta != "" {
		s.emit(Event{Kind: EventTextDelta, Delta: delta})
	}
}

func (s *Stream) foldThinking(content string) {
	if !s.thinkingOpen {
		s.thinkingOpen = true
		s.emit(Event{Kind: EventThinkingStart})
	}
	s.emit(Event{Kind: EventThinkingDelta, Delta: content})
}

func (s *Stream) foldToolCall(tc schema.ToolCall) {
	var key string
	switch {
	case tc.Index != nil:
		key = fmt.Sprintf("idx:%d", *tc.Index)
	case tc.ID != "":
		key = tc.ID
	default:
		return
	}

	call, exists := s.callByKey[key]
	if !exists {
		call = &pendingCall{key: key}
		s.callByKey[key] = call
		s.callOrder = append(s.callOrder, key)
	}

	if !call.started && tc.ID != "" && tc.Function.Name != "" {
		call.started = true
		call.callID = tc.ID
		call.name = tc.Function.Name
		s.emit(Event{Kind: EventToolCallStart, CallID: call.callID, Name: call.name})
	}

	if tc.Function.Arguments != "" {
		call.argBuffer += tc.Function.Arguments
		s.emit(Event{Kind: EventToolCallDelta, CallID: call.callID, Delta: tc.Function.Arguments})
	}
}

func (s *Stream) foldMeta(meta *schema.ResponseMeta) {
	if meta.Usage != nil {
		s.emit(Event{Kind: EventUsage, Usage: &Usage{
			PromptTokens:     meta.Usage.PromptTokens,
			CompletionTokens: meta.Usage.CompletionTokens,
			TotalTokens:      meta.Usage.TotalTokens,
		}})
	}
	if meta.FinishReason != "" {
		s.emit(Event{Kind: EventResponseDone, StopReason: normalizeStopReason(meta.FinishReason, len(s.callOrder) > 0)})
	}
}

func (s *Stream) finalize() {
	if s.textOpen {
		s.emit(Event{Kind: EventTextDone})
	}
	for _, key := range s.callOrder {
		call := s.callByKey[key]
		var input json.RawMessage
		if call.argBuffer != "" {
			input = json.RawMessage(call.argBuffer)
		} else {
			input = json.RawMessage("{}")
		}
		s.emit(Event{Kind: EventToolCallDone, CallID: call.callID, Input: input})
	}
}

func normalizeStopReason(raw string, hasToolCalls bool) StopReason {
	switch raw {
	case "tool_calls", "tool_use", "tool-calls":
		return StopToolCalls
	case "length", "max_tokens":
		return StopLength
	case "error":
		return StopError
	case "stop", "end_turn", "":
		if hasToolCalls {
			return StopToolCalls
		}
		return StopStop
	default:
		return StopStop
	}
}
