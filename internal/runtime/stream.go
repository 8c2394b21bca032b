package runtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/opalerr"
	"github.com/opencode-ai/opal/internal/provider"
)

// streamStep runs one provider round-trip, folding its normalized event
// sequence into a finished assistant chat.Message and emitting the
// corresponding bus events as they arrive — this is where the Provider
// Trait's wire-agnostic events become the protocol's message_start/
// message_delta/thinking_*/usage_update notifications.
func (a *Agent) streamStep(ctx context.Context, req *provider.CompletionRequest) (*chat.Message, provider.StopReason, error) {
	st := a.state.snapshot()
	prov, err := a.deps.Providers.Get(st.Model.Provider)
	if err != nil {
		return nil, provider.StopError, &opalerr.ProviderError{Cause: err}
	}

	stream, err := prov.Stream(ctx, req)
	if err != nil {
		return nil, provider.StopError, &opalerr.ProviderError{Cause: err}
	}
	defer stream.Close()

	assistant := &chat.Message{ID: chat.NewMessageID(), Role: chat.RoleAssistant}
	var text, thinking strings.Builder
	callNames := map[string]string{}
	var callOrder []string
	callInputs := map[string]json.RawMessage{}
	textStarted := false
	stopReason := provider.StopStop

	for {
		evt, ok, err := stream.Next()
		if err != nil {
			return nil, provider.StopError, &opalerr.ProviderError{Cause: err}
		}
		if !ok {
			break
		}

		switch evt.Kind {
		case provider.EventTextStart:
			if !textStarted {
				textStarted = true
				a.setStatus(StatusStreaming)
				a.publish(bus.TypeMessageStart, map[string]any{"message_id": assistant.ID})
			}
		case provider.EventTextDelta:
			text.WriteString(evt.Delta)
			a.publish(bus.TypeMessageDelta, map[string]any{"message_id": assistant.ID, "delta": evt.Delta})
		case provider.EventThinkingStart:
			a.publish(bus.TypeThinkingStart, map[string]any{"message_id": assistant.ID})
		case provider.EventThinkingDelta:
			thinking.WriteString(evt.Delta)
			a.publish(bus.TypeThinkingDelta, map[string]any{"message_id": assistant.ID, "delta": evt.Delta})
		case provider.EventToolCallStart:
			callNames[evt.CallID] = evt.Name
			callOrder = append(callOrder, evt.CallID)
		case provider.EventToolCallDone:
			callInputs[evt.CallID] = evt.Input
		case provider.EventUsage:
			a.applyUsage(evt.Usage)
			a.publish(bus.TypeUsageUpdate, map[string]any{
				"prompt_tokens":     evt.Usage.PromptTokens,
				"completion_tokens": evt.Usage.CompletionTokens,
				"total_tokens":      evt.Usage.TotalTokens,
			})
		case provider.EventResponseDone:
			stopReason = evt.StopReason
		case provider.EventError:
			return nil, provider.StopError, &opalerr.ProviderError{Cause: evt.Err}
		}
	}

	assistant.Content = text.String()
	assistant.Thinking = thinking.String()
	for _, id := range callOrder {
		input := callInputs[id]
		if input == nil {
			input = json.RawMessage("{}")
		}
		assistant.ToolCalls = append(assistant.ToolCalls, chat.ToolCall{
			CallID:    id,
			Name:      callNames[id],
			Arguments: input,
		})
	}

	a.setStatus(StatusRunning)
	return assistant, stopReason, nil
}

// streamStepWithRetry wraps streamStep with the same exponential backoff
// the teacher's loop used for transient provider failures, so a rate limit
// or dropped connection doesn't end the whole turn on the first hiccup.
func (a *Agent) streamStepWithRetry(ctx context.Context) (*chat.Message, provider.StopReason, error) {
	var assistant *chat.Message
	var stopReason provider.StopReason

	op := func() error {
		var err error
		assistant, stopReason, err = a.streamStep(ctx, a.buildRequest())
		return err
	}

	err := backoff.Retry(op, newStepBackoff(ctx))
	return assistant, stopReason, err
}

func (a *Agent) applyUsage(u *provider.Usage) {
	if u == nil {
		return
	}
	a.state.withLock(func(s *State) {
		s.TokenUsage.PromptTokens += u.PromptTokens
		s.TokenUsage.CompletionTokens += u.CompletionTokens
		s.TokenUsage.TotalTokens += u.TotalTokens
		s.LastPromptTokens = u.PromptTokens
	})
}

// buildToolSpecs renders every tool the registry carries that the
// active profile enables and the session hasn't disabled.
func (a *Agent) buildToolSpecs(profile *agentprofile.Profile, disabled []string) []provider.ToolSpec {
	disabledSet := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		disabledSet[d] = true
	}

	var specs []provider.ToolSpec
	for _, t := range a.deps.Tools.List() {
		if disabledSet[t.ID()] {
			continue
		}
		if profile != nil && !profile.ToolEnabled(t.ID()) {
			continue
		}
		specs = append(specs, provider.ToolSpec{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}
