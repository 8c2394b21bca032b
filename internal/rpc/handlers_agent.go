package rpc

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opal/internal/opalerr"
)

type agentTextParams struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func handleAgentPrompt(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p agentTextParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid agent/prompt params: %v", err)
	}
	agent, err := s.sessions.GetAgent(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := agent.Prompt(ctx, p.Text); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func handleAgentSteer(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p agentTextParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid agent/steer params: %v", err)
	}
	agent, err := s.sessions.GetAgent(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := agent.Steer(ctx, p.Text); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func handleAgentAbort(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid agent/abort params: %v", err)
	}
	agent, err := s.sessions.GetAgent(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := agent.Abort(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func handleAgentState(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid agent/state params: %v", err)
	}
	agent, err := s.sessions.GetAgent(p.SessionID)
	if err != nil {
		return nil, err
	}
	return agent.Snapshot(), nil
}
