package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/permission"
	"github.com/opencode-ai/opal/internal/tool"
)

// executeTools dispatches each of an assistant message's tool calls in
// emission order, appending one tool_result message per call and
// flushing at most one queued steer at each boundary between calls —
// never while a call is actually running. It reports whether ctx was
// canceled mid-batch.
func (a *Agent) executeTools(ctx context.Context, calls []chat.ToolCall) (aborted bool) {
	a.setStatus(StatusExecutingTools)
	defer a.setStatus(StatusRunning)

	st := a.state.snapshot()
	profile, _ := a.deps.Profiles.Get(st.Agent)

	remaining := make([]string, len(calls))
	for i, call := range calls {
		remaining[i] = call.CallID
	}
	a.state.withLock(func(s *State) { s.RemainingToolCalls = remaining })

	for i, call := range calls {
		if ctx.Err() != nil {
			return true
		}

		a.state.withLock(func(s *State) {
			s.PendingToolTask = &PendingToolTask{CallID: call.CallID, Name: call.Name}
			if len(s.RemainingToolCalls) > 0 {
				s.RemainingToolCalls = s.RemainingToolCalls[1:]
			}
		})

		result, toolErr := a.runTool(ctx, profile, st, call)

		a.state.withLock(func(s *State) { s.PendingToolTask = nil })

		resultMsg := &chat.Message{
			ID:     chat.NewMessageID(),
			Role:   chat.RoleToolResult,
			CallID: call.CallID,
			Name:   call.Name,
		}
		if toolErr != nil {
			resultMsg.Content = toolErr.Error()
			resultMsg.Metadata = map[string]any{"error": true}
		} else {
			resultMsg.Content = result.Output
			if result.Metadata != nil {
				resultMsg.Metadata = result.Metadata
			}
		}
		a.tree.Append(resultMsg)

		a.publish(bus.TypeToolExecutionEnd, map[string]any{
			"call_id": call.CallID,
			"tool":    call.Name,
			"output":  resultMsg.Content,
			"error":   toolErr != nil,
		})

		if i < len(calls)-1 {
			a.flushOneSteer()
		}
	}
	return false
}

func (a *Agent) runTool(ctx context.Context, profile *agentprofile.Profile, st State, call chat.ToolCall) (*tool.Result, error) {
	t, ok := a.deps.Tools.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", call.Name)
	}

	meta := t.Meta(call.Arguments)
	a.publish(bus.TypeToolExecutionStart, map[string]any{
		"call_id": call.CallID,
		"tool":    call.Name,
		"input":   json.RawMessage(call.Arguments),
		"meta":    meta,
	})

	if err := a.checkToolPermission(ctx, st, profile, call); err != nil {
		return nil, err
	}
	if err := a.checkDoomLoop(ctx, profile, call); err != nil {
		return nil, err
	}

	abortCh := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			close(abortCh)
		case <-done:
		}
	}()

	toolCtx := &tool.Context{
		SessionID:       st.SessionID,
		MessageID:       call.CallID,
		CallID:          call.CallID,
		Agent:           st.Agent,
		WorkDir:         st.WorkingDir,
		AbortCh:         abortCh,
		Extra:           map[string]any{"model": st.Model.ID},
		AgentState:      a.agentState(),
		QuestionHandler: a.questionHandler,
		OnMetadata: func(title string, fields map[string]any) {
			a.publish(bus.TypeToolStream, map[string]any{
				"call_id": call.CallID,
				"title":   title,
				"meta":    fields,
			})
		},
		Emit: func(eventType string, fields map[string]any) {
			merged := map[string]any{"call_id": call.CallID, "event": eventType}
			for k, v := range fields {
				merged[k] = v
			}
			a.publish(bus.TypeToolStream, merged)
		},
	}

	return t.Execute(ctx, call.Arguments, toolCtx)
}

// checkToolPermission maps a tool call onto the profile's permission
// table (bash command pattern, edit/write file path) and asks the
// shared Checker, which blocks on the RPC layer's client/confirm
// transport when the resolved action is "ask".
func (a *Agent) checkToolPermission(ctx context.Context, st State, profile *agentprofile.Profile, call chat.ToolCall) error {
	if a.deps.Permissions == nil {
		return nil
	}

	var args map[string]any
	_ = json.Unmarshal(call.Arguments, &args)

	var permType permission.PermissionType
	var action permission.PermissionAction
	var patterns []string

	switch call.Name {
	case "bash":
		permType = permission.PermBash
		cmd, _ := args["command"].(string)
		patterns = []string{cmd}
		action = permission.ActionAsk
		if profile != nil {
			action = profile.CheckBashPermission(cmd)
		}
	case "write", "edit":
		permType = permission.PermEdit
		if path, ok := args["filePath"].(string); ok {
			patterns = []string{path}
		}
		action = permission.ActionAsk
		if profile != nil {
			action = profile.GetPermission(permission.PermEdit)
		}
	case "webfetch":
		permType = permission.PermWebFetch
		action = permission.ActionAsk
		if profile != nil {
			action = profile.GetPermission(permission.PermWebFetch)
		}
	default:
		return nil
	}

	req := permission.Request{
		Type:      permType,
		Pattern:   patterns,
		SessionID: st.SessionID,
		CallID:    call.CallID,
		Title:     fmt.Sprintf("Allow %s?", call.Name),
	}
	return a.deps.Permissions.Check(ctx, req, action)
}

var doomLoopDetector = permission.NewDoomLoopDetector()

// checkDoomLoop counts the calls on the session's current path, call
// itself included (its assistant message is already appended), that the
// detector treats as the same call as call — identical tool name
// and byte-identical or near-identical arguments — and, once
// permission.DoomLoopThreshold is crossed, dispatches on the profile's
// doom_loop policy.
func (a *Agent) checkDoomLoop(ctx context.Context, profile *agentprofile.Profile, call chat.ToolCall) error {
	count := 0
	for _, m := range a.tree.GetPath() {
		if m.Role != chat.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if doomLoopDetector.Same(tc.Name, string(tc.Arguments), call.Name, string(call.Arguments)) {
				count++
			}
		}
	}
	if count < permission.DoomLoopThreshold {
		return nil
	}

	action := permission.ActionAsk
	if profile != nil {
		action = profile.GetPermission(permission.PermDoomLoop)
	}

	switch action {
	case permission.ActionAllow:
		return nil
	case permission.ActionDeny:
		return fmt.Errorf("doom loop detected: %s called %d times with identical input", call.Name, count)
	default:
		if a.deps.Permissions == nil {
			return nil
		}
		return a.deps.Permissions.Ask(ctx, permission.Request{
			Type:      permission.PermDoomLoop,
			Pattern:   []string{call.Name},
			SessionID: a.state.snapshot().SessionID,
			CallID:    call.CallID,
			Title:     fmt.Sprintf("Allow repeated %s call?", call.Name),
		})
	}
}
