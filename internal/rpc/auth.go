package rpc

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/opencode-ai/opal/internal/opalerr"
)

// AuthStore persists provider API keys at Paths.AuthPath, one flat
// provider id -> key map, atomic-overwrite on save like the rest of the
// runtime's on-disk state.
type AuthStore struct {
	path string

	mu   sync.RWMutex
	keys map[string]string
}

// NewAuthStore loads path if it exists, or starts empty.
func NewAuthStore(path string) (*AuthStore, error) {
	a := &AuthStore{path: path, keys: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &a.keys); err != nil {
		return nil, err
	}
	return a, nil
}

// Status reports which providers have a stored key.
func (a *AuthStore) Status() map[string]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]bool, len(a.keys))
	for id := range a.keys {
		out[id] = true
	}
	return out
}

// SetKey stores providerID's key and persists the store.
func (a *AuthStore) SetKey(providerID, key string) error {
	a.mu.Lock()
	a.keys[providerID] = key
	data, err := json.MarshalIndent(a.keys, "", "  ")
	a.mu.Unlock()
	if err != nil {
		return err
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, a.path)
}

// Key returns providerID's stored key, if any.
func (a *AuthStore) Key(providerID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	k, ok := a.keys[providerID]
	return k, ok
}

func handleAuthStatus(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	if s.auth == nil {
		return map[string]any{"providers": map[string]bool{}}, nil
	}
	return map[string]any{"providers": s.auth.Status()}, nil
}

type authProviderParams struct {
	Provider string `json:"provider"`
}

// auth/login and auth/poll implement a device-code style OAuth flow for
// providers that support one. No provider in this registry does yet
// (both anthropic and openai are registered API-key-only, per
// internal/provider), so these two return a descriptive validation
// error rather than hanging on a flow nothing will ever complete.
func handleAuthLogin(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p authProviderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid auth/login params: %v", err)
	}
	return nil, opalerr.Validation("provider %s does not support OAuth login; use auth/set_key", p.Provider)
}

func handleAuthPoll(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p authProviderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid auth/poll params: %v", err)
	}
	return nil, opalerr.Validation("provider %s has no pending OAuth login to poll", p.Provider)
}

type authSetKeyParams struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}

func handleAuthSetKey(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p authSetKeyParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid auth/set_key params: %v", err)
	}
	if p.Provider == "" || p.APIKey == "" {
		return nil, opalerr.Validation("provider and api_key are required")
	}
	if s.auth == nil {
		return nil, opalerr.Validation("auth store unavailable")
	}
	if err := s.auth.SetKey(p.Provider, p.APIKey); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}
