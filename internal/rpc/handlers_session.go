package rpc

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opal/internal/opalerr"
)

type sessionStartParams struct {
	Directory string `json:"directory"`
	SessionID string `json:"session_id,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
}

type sessionStartResult struct {
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

func handleSessionStart(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p sessionStartParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid session/start params: %v", err)
	}
	if p.Directory == "" {
		return nil, opalerr.Validation("directory is required")
	}

	agent, err := s.sessions.StartSession(ctx, StartSessionOptions{
		Directory: p.Directory,
		SessionID: p.SessionID,
		Agent:     p.Agent,
		Provider:  p.Provider,
		Model:     p.Model,
	})
	if err != nil {
		return nil, err
	}
	s.watchSession(agent.Snapshot().SessionID)

	st := agent.Snapshot()
	return sessionStartResult{SessionID: st.SessionID, Agent: st.Agent, Provider: st.Model.Provider, Model: st.Model.ID}, nil
}

type sessionListParams struct {
	Directory string `json:"directory,omitempty"`
}

func handleSessionList(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p sessionListParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid session/list params: %v", err)
	}

	infos, err := s.sessions.ListSessions(p.Directory)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessions": infos}, nil
}

type sessionBranchParams struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

func handleSessionBranch(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p sessionBranchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid session/branch params: %v", err)
	}
	if p.SessionID == "" || p.MessageID == "" {
		return nil, opalerr.Validation("session_id and message_id are required")
	}

	agent, err := s.sessions.BranchSession(ctx, p.SessionID, p.MessageID)
	if err != nil {
		return nil, err
	}
	st := agent.Snapshot()
	return sessionStartResult{SessionID: st.SessionID, Agent: st.Agent, Provider: st.Model.Provider, Model: st.Model.ID}, nil
}

type sessionIDParams struct {
	SessionID string `json:"session_id"`
}

func handleSessionCompact(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid session/compact params: %v", err)
	}
	if p.SessionID == "" {
		return nil, opalerr.Validation("session_id is required")
	}

	result, err := s.sessions.CompactSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func handleSessionDelete(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid session/delete params: %v", err)
	}
	if p.SessionID == "" {
		return nil, opalerr.Validation("session_id is required")
	}

	if err := s.sessions.DeleteSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}
