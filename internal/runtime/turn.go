package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/opalerr"
	"github.com/opencode-ai/opal/internal/provider"
)

// runTurns drives one or more consecutive turns: the first against the
// message submit() already appended, then one more for every round of
// steers left over once a turn ends without having drained them all at
// a between-tool boundary. It owns the running/cancel bookkeeping for
// the whole chain and always leaves the Agent idle on return.
func (a *Agent) runTurns(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.Recover(fmt.Sprintf("panic: %v", r))
			return
		}
		a.turnMu.Lock()
		a.running = false
		a.cancel = nil
		a.turnMu.Unlock()
	}()

	a.setStatus(StatusRunning)
	a.publish(bus.TypeAgentStart, nil)

	for {
		aborted := a.runOneTurn(ctx)
		if aborted {
			a.setStatus(StatusIdle)
			a.publish(bus.TypeAgentAbort, nil)
			return
		}

		leftover := a.drainAllSteers()
		if leftover == "" {
			break
		}
		msg := &chat.Message{ID: chat.NewMessageID(), Role: chat.RoleUser, Content: leftover}
		a.tree.Append(msg)
		a.publish(bus.TypeMessageApplied, map[string]any{"message_id": msg.ID})
	}

	a.setStatus(StatusIdle)
	a.publish(bus.TypeAgentEnd, map[string]any{"token_usage": a.state.snapshot().TokenUsage})
}

// drainAllSteers pops every still-pending steer and joins them into one
// blank-line-separated string, per the queueing rule: steers that never
// got a between-tool boundary to ride on become the next turn's single
// concatenated user message.
func (a *Agent) drainAllSteers() string {
	var steers []string
	a.state.withLock(func(s *State) {
		steers = s.PendingSteers
		s.PendingSteers = nil
	})
	return strings.Join(steers, "\n\n")
}

// flushOneSteer pops and appends a single pending steer as a user
// message, if one is queued. Called only at between-tool boundaries,
// never mid-tool-execution.
func (a *Agent) flushOneSteer() {
	var text string
	var ok bool
	a.state.withLock(func(s *State) {
		if len(s.PendingSteers) == 0 {
			return
		}
		text = s.PendingSteers[0]
		s.PendingSteers = s.PendingSteers[1:]
		ok = true
	})
	if !ok {
		return
	}
	msg := &chat.Message{ID: chat.NewMessageID(), Role: chat.RoleUser, Content: text}
	a.tree.Append(msg)
	a.publish(bus.TypeMessageApplied, map[string]any{"message_id": msg.ID})
}

// runOneTurn runs the provider/tool step loop until the model produces a
// response with no further tool calls, MaxSteps is exhausted, or ctx is
// canceled. It reports whether the turn ended because of an abort.
func (a *Agent) runOneTurn(ctx context.Context) (aborted bool) {
	for step := 0; step < MaxSteps; step++ {
		if ctx.Err() != nil {
			return true
		}

		a.maybeCompact(ctx)

		assistant, stopReason, err := a.streamStepWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			a.publish(bus.TypeError, map[string]any{"message": err.Error()})
			return false
		}

		a.tree.Append(assistant)

		if stopReason != provider.StopToolCalls || len(assistant.ToolCalls) == 0 {
			a.publish(bus.TypeTurnEnd, map[string]any{"message_id": assistant.ID})
			return false
		}

		if aborted := a.executeTools(ctx, assistant.ToolCalls); aborted {
			return true
		}
	}

	a.publish(bus.TypeError, map[string]any{"message": "turn exceeded max steps without finishing"})
	return false
}

// buildRequest assembles the CompletionRequest for the next provider
// call from the Agent's current state and tree path.
func (a *Agent) buildRequest() *provider.CompletionRequest {
	st := a.state.snapshot()
	profile, _ := a.deps.Profiles.Get(st.Agent)

	sp := newSystemPrompt(profile, st.WorkingDir, st.Model.Provider, st.Model.ID).build()
	messages := toProviderMessages(sp, a.tree.GetPath())

	req := &provider.CompletionRequest{
		Model:         st.Model.ID,
		Messages:      messages,
		Tools:         a.buildToolSpecs(profile, st.DisabledTools),
		ThinkingLevel: st.Model.ThinkingLevel,
	}
	if profile != nil {
		if profile.Temperature != nil {
			req.Temperature = *profile.Temperature
		}
		if profile.TopP != nil {
			req.TopP = *profile.TopP
		}
	}
	return req
}

// maybeCompact checks the last recorded prompt-token ratio against the
// active model's context window and, if it has crossed the engine's
// threshold, runs a compaction pass before the next provider call.
func (a *Agent) maybeCompact(ctx context.Context) {
	st := a.state.snapshot()
	if a.deps.Compactor == nil || st.LastPromptTokens == 0 {
		return
	}
	model, err := a.deps.Providers.GetModel(st.Model.Provider, st.Model.ID)
	if err != nil || !a.deps.Compactor.ShouldCompact(st.LastPromptTokens, model.ContextLength) {
		return
	}

	a.setStatus(StatusCompacting)
	a.publish(bus.TypeCompactionStart, map[string]any{"msg_count": len(a.tree.GetPath())})

	result, err := a.deps.Compactor.Compact(ctx, a.tree, st.Model.Provider, st.Model.ID)
	a.setStatus(StatusRunning)
	if err != nil {
		a.publish(bus.TypeError, map[string]any{"message": (&opalerr.ProviderError{Cause: err}).Error()})
		return
	}

	a.SyncMessages()
	a.publish(bus.TypeCompactionEnd, map[string]any{
		"before": result.BeforeCount,
		"after":  result.AfterCount,
	})
}
