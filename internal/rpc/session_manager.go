package rpc

import (
	"context"

	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/compaction"
	"github.com/opencode-ai/opal/internal/runtime"
)

// StartSessionOptions seeds a new or reloaded session.
type StartSessionOptions struct {
	Directory string
	SessionID string // non-empty to reload a persisted session
	Agent     string
	Provider  string
	Model     string
}

// SessionManager is the seam between the RPC dispatch table and
// internal/supervisor's named session registry. internal/supervisor
// implements it against the rest-for-one groups it runs; tests and this
// package's own fixtures can stub it directly.
type SessionManager interface {
	StartSession(ctx context.Context, opts StartSessionOptions) (*runtime.Agent, error)
	GetAgent(sessionID string) (*runtime.Agent, error)
	BranchSession(ctx context.Context, sessionID, messageID string) (*runtime.Agent, error)
	CompactSession(ctx context.Context, sessionID string) (*compaction.Result, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(directory string) ([]chat.SessionInfo, error)
}
