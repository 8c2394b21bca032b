package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/logging"
	"github.com/opencode-ai/opal/internal/provider"
	"github.com/opencode-ai/opal/internal/subagent"
)

// HandlerFunc answers one decoded request's params, returning the value
// to marshal as result or an error mapError turns into the response's
// error object. Never both.
type HandlerFunc func(ctx context.Context, s *Server, params json.RawMessage) (any, error)

// handlers is the supported method table (spec section 4.8's method
// list); a package-level table every Server instance shares.
var handlers = map[string]HandlerFunc{
	"session/start":   handleSessionStart,
	"session/list":    handleSessionList,
	"session/branch":  handleSessionBranch,
	"session/compact": handleSessionCompact,
	"session/delete":  handleSessionDelete,

	"agent/prompt": handleAgentPrompt,
	"agent/steer":  handleAgentSteer,
	"agent/abort":  handleAgentAbort,
	"agent/state":  handleAgentState,

	"models/list": handleModelsList,
	"model/set":   handleModelSet,

	"thinking/set": handleThinkingSet,

	"auth/status":  handleAuthStatus,
	"auth/login":   handleAuthLogin,
	"auth/poll":    handleAuthPoll,
	"auth/set_key": handleAuthSetKey,

	"opal/config/get": handleConfigGet,
	"opal/config/set": handleConfigSet,
	"opal/version":    handleVersion,
	"opal/ping":       handlePing,

	"settings/get":  handleSettingsGet,
	"settings/save": handleSettingsSave,

	"tasks/list": handleTasksList,
}

// Server dispatches one connection's requests against a SessionManager
// and a process-wide bus, and forwards every event broadcast for a
// session it has seen start as an agent/event notification.
type Server struct {
	conn      *Conn
	bus       *bus.Bus
	sessions  SessionManager
	providers *provider.Registry
	config    *config.Config
	auth      *AuthStore
	relay     subagent.QuestionRelay

	mu         sync.Mutex
	subscribed map[string]bus.Unsubscribe
}

// New builds a Server. cfg and auth seed opal/config/*, opal/version,
// and auth/* responses; either may be nil in tests that don't exercise
// those methods.
func New(conn *Conn, b *bus.Bus, sessions SessionManager, providers *provider.Registry, cfg *config.Config, auth *AuthStore) *Server {
	s := &Server{
		conn:       conn,
		bus:        b,
		sessions:   sessions,
		providers:  providers,
		config:     cfg,
		auth:       auth,
		subscribed: make(map[string]bus.Unsubscribe),
	}
	s.relay = &clientRelay{conn: conn}
	return s
}

// Notifier returns the permission.Notifier this server exposes over
// client/confirm, for wiring into permission.NewChecker.
func (s *Server) Notifier() *clientNotifier { return &clientNotifier{conn: s.conn} }

// SetSessions installs the SessionManager once it exists. cmd/opal-agent
// needs this because the Notifier this Server exposes has to be built
// (and wired into a permission.Checker) before the Supervisor that
// becomes this Server's SessionManager can be constructed.
func (s *Server) SetSessions(sessions SessionManager) { s.sessions = sessions }

// QuestionRelay returns the subagent.QuestionRelay this server exposes
// over client/input.
func (s *Server) QuestionRelay() subagent.QuestionRelay { return s.relay }

// Serve reads requests off the connection until it closes or ctx is
// done, dispatching each to its handler and writing the response.
// Notifications (ids omitted) get no response, per the transport.
func (s *Server) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-s.conn.Requests():
			if !ok {
				return
			}
			s.dispatch(ctx, req)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) {
	if req.Method == "" {
		_ = s.conn.WriteResponse(newErrorResponse(req.ID, CodeParseError, "parse error", nil))
		return
	}

	if req.JSONRPC != "2.0" {
		_ = s.conn.WriteResponse(newErrorResponse(req.ID, CodeInvalidRequest, "invalid request: jsonrpc must be \"2.0\"", nil))
		return
	}

	handler, ok := handlers[req.Method]
	if !ok {
		if req.IsNotification() {
			return
		}
		_ = s.conn.WriteResponse(newErrorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method, nil))
		return
	}

	result, err := handler(ctx, s, req.Params)
	if req.IsNotification() {
		return
	}

	if err != nil {
		_ = s.conn.WriteResponse(newErrorResponse(req.ID, mapError(err).Code, mapError(err).Message, nil))
		return
	}

	resp, marshalErr := newResultResponse(req.ID, result)
	if marshalErr != nil {
		_ = s.conn.WriteResponse(newErrorResponse(req.ID, CodeInternalError, marshalErr.Error(), nil))
		return
	}
	_ = s.conn.WriteResponse(resp)
}

// watchSession subscribes once per session id, forwarding every bus
// event for it as an agent/event notification. Safe to call repeatedly;
// only the first call per session id installs a subscription.
func (s *Server) watchSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribed[sessionID]; ok || s.bus == nil {
		return
	}
	s.subscribed[sessionID] = s.bus.Subscribe(sessionID, s.forwardEvent)
}

func (s *Server) forwardEvent(e bus.Event) {
	params := map[string]any{"session_id": e.SessionID, "type": string(e.Type)}
	for k, v := range e.Fields {
		params[k] = v
	}
	if err := s.conn.WriteNotification("agent/event", params); err != nil {
		logging.Logger.Debug().Err(err).Str("session_id", e.SessionID).Msg("failed to forward agent event")
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
