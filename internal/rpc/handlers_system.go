package rpc

import (
	"context"
	"encoding/json"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/opalerr"
)

// Version is the opal-agent release string, set at build time by
// cmd/opal-agent via -ldflags; "dev" covers ad-hoc builds.
var Version = "dev"

type versionParams struct {
	ClientVersion string `json:"client_version,omitempty"`
}

// handleVersion reports the server's version and, when the caller sends
// client_version and the config sets min_client_version, rejects a
// client reporting an older release than the server requires. Either
// version failing to parse as semver is treated as compatible — a
// malformed version string shouldn't brick the handshake.
func handleVersion(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p versionParams
	_ = decodeParams(raw, &p)

	minVersion := ""
	if s.config != nil {
		minVersion = s.config.MinClientVersion
	}

	if minVersion != "" && p.ClientVersion != "" {
		min, errMin := semver.NewVersion(minVersion)
		client, errClient := semver.NewVersion(p.ClientVersion)
		if errMin == nil && errClient == nil && client.LessThan(min) {
			return nil, opalerr.Validation("client version %s is older than the required minimum %s", p.ClientVersion, minVersion)
		}
	}

	return map[string]string{"version": Version}, nil
}

func handlePing(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	return map[string]bool{"pong": true}, nil
}

func handleConfigGet(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	if s.config == nil {
		return &config.Config{}, nil
	}
	return s.config, nil
}

// configSetParams is a partial overlay: only non-zero fields replace the
// current config, mirroring config.mergeConfig's own layering rule so
// opal/config/set behaves like one more config layer applied at runtime.
type configSetParams struct {
	DefaultModel  *string                `json:"default_model,omitempty"`
	SmallModel    *string                `json:"small_model,omitempty"`
	SessionsDir   *string                `json:"sessions_dir,omitempty"`
	DefaultTools  []string               `json:"default_tools,omitempty"`
	DisabledTools []string               `json:"disabled_tools,omitempty"`
	Features      *config.FeatureToggles `json:"features,omitempty"`
}

func handleConfigSet(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	if s.config == nil {
		return nil, opalerr.Validation("config unavailable")
	}

	var p configSetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid opal/config/set params: %v", err)
	}

	if p.DefaultModel != nil {
		s.config.DefaultModel = *p.DefaultModel
	}
	if p.SmallModel != nil {
		s.config.SmallModel = *p.SmallModel
	}
	if p.SessionsDir != nil {
		s.config.SessionsDir = *p.SessionsDir
	}
	if p.DefaultTools != nil {
		s.config.DefaultTools = p.DefaultTools
	}
	if p.DisabledTools != nil {
		s.config.DisabledTools = p.DisabledTools
	}
	if p.Features != nil {
		s.config.Features = *p.Features
	}

	if err := config.Save(s.config, config.ProjectConfigPath(".")); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

// Settings is the client-side UI/editor preference blob: opal-agent
// treats it as opaque and only persists it, the way opal/config/get
// treats Config as structured but settings has no runtime meaning to
// the agent itself.
type Settings map[string]any

func settingsPath() string {
	return config.GetPaths().Config + "/settings.json"
}

func handleSettingsGet(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	data, err := os.ReadFile(settingsPath())
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func handleSettingsSave(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var settings Settings
	if err := decodeParams(raw, &settings); err != nil {
		return nil, opalerr.Validation("invalid settings/save params: %v", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.GetPaths().Config, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(settingsPath(), data, 0o644); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

type tasksListParams struct {
	SessionID string `json:"session_id"`
}

// tasks/list surfaces a session's outstanding work: the tool call
// currently executing, if any, and any prompts queued behind a running
// turn (the Agent State's pending_tool_task and pending_steers).
func handleTasksList(ctx context.Context, s *Server, raw json.RawMessage) (any, error) {
	var p tasksListParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, opalerr.Validation("invalid tasks/list params: %v", err)
	}
	agent, err := s.sessions.GetAgent(p.SessionID)
	if err != nil {
		return nil, err
	}

	st := agent.Snapshot()
	return map[string]any{
		"running":           st.Status != "idle",
		"pending_tool_task": st.PendingToolTask,
		"pending_steers":    st.PendingSteers,
	}, nil
}
