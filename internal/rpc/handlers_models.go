package rpc

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/opal/internal/opalerr"
	"github.com/opencode-ai/opal/internal/provider"
)

type modelsListParams struct {
	Providers []string `json:"providers,omitempty"`
}

func handleModelsList(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p modelsListParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid models/list params: %v", err)
	}
	if s.providers == nil {
		return map[string]any{"models": []provider.Model{}}, nil
	}

	all := s.providers.AllModels()
	if len(p.Providers) == 0 {
		return map[string]any{"models": all}, nil
	}

	wanted := make(map[string]bool, len(p.Providers))
	for _, id := range p.Providers {
		wanted[id] = true
	}
	filtered := make([]provider.Model, 0, len(all))
	for _, m := range all {
		if wanted[m.ProviderID] {
			filtered = append(filtered, m)
		}
	}
	return map[string]any{"models": filtered}, nil
}

type modelSetParams struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

func handleModelSet(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p modelSetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid model/set params: %v", err)
	}
	agent, err := s.sessions.GetAgent(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := agent.SetModel(p.Provider, p.Model); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

type thinkingSetParams struct {
	SessionID string `json:"session_id"`
	Level     string `json:"level"`
}

func handleThinkingSet(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p thinkingSetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid thinking/set params: %v", err)
	}
	agent, err := s.sessions.GetAgent(p.SessionID)
	if err != nil {
		return nil, err
	}
	agent.SetThinkingLevel(provider.ThinkingLevel(p.Level))
	return map[string]bool{"success": true}, nil
}
