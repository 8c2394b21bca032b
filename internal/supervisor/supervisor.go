package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/compaction"
	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/logging"
	"github.com/opencode-ai/opal/internal/mcpclient"
	"github.com/opencode-ai/opal/internal/opalerr"
	"github.com/opencode-ai/opal/internal/permission"
	"github.com/opencode-ai/opal/internal/provider"
	"github.com/opencode-ai/opal/internal/rpc"
	"github.com/opencode-ai/opal/internal/runtime"
	"github.com/opencode-ai/opal/internal/storage"
	"github.com/opencode-ai/opal/internal/subagent"
	"github.com/opencode-ai/opal/internal/tool"
)

// terminalEvents are the bus event types after which a session's tree is
// worth re-snapshotting: whatever just happened, the turn is over and the
// tree won't change again until the next prompt.
var terminalEvents = map[bus.Type]bool{
	bus.TypeAgentEnd:       true,
	bus.TypeAgentAbort:     true,
	bus.TypeAgentRecovered: true,
	bus.TypeError:          true,
}

// Group is one session's process/task group: its Agent Runtime plus the
// tool registry built for it. A sub-agent pool has no separate
// representation here — internal/subagent.Host spawns child Agents
// on demand and they are never registered in this map, matching the
// spec's "rest-for-one: restart a crashed child and its dependents, but
// never its providers" — a session's own crash never needs anything
// outside its own Group restarted.
type Group struct {
	Agent *runtime.Agent
	Tools *tool.Registry
}

// Supervisor is the Session Supervisor: the named session_id -> Group
// registry, plus the process-wide singletons every session's Agent
// borrows (providers, profiles, permission checker, compaction engine,
// sub-agent host).
type Supervisor struct {
	cfg         *config.Config
	providers   *provider.Registry
	bus         *bus.Bus
	profiles    *agentprofile.Registry
	checker     *permission.Checker
	compactor   *compaction.Engine
	subAgents   *subagent.Host
	mcp         *mcpclient.Manager
	storage     *storage.Storage
	sessionsDir string

	mu     sync.RWMutex
	groups map[string]*Group
}

// New constructs a Supervisor. checker must already be wired to its
// Notifier (internal/rpc.Server.Notifier plus clientNotifier.SetChecker)
// before any session starts, since every session's Deps share it. relay
// is handed straight to the one shared subagent.Host; it may be nil in
// tests.
func New(cfg *config.Config, providers *provider.Registry, b *bus.Bus, checker *permission.Checker, relay subagent.QuestionRelay) *Supervisor {
	profiles := agentprofile.NewRegistry()
	profiles.LoadFromConfig(cfg.Agent)

	sessionsDir := cfg.SessionsDir
	if sessionsDir == "" {
		sessionsDir = config.GetPaths().SessionsPath()
	}
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		logging.Logger.Warn().Err(err).Str("dir", sessionsDir).Msg("failed to create sessions directory")
	}

	s := &Supervisor{
		cfg:         cfg,
		providers:   providers,
		bus:         b,
		profiles:    profiles,
		checker:     checker,
		compactor:   compaction.New(providers, compaction.DefaultConfig),
		subAgents:   subagent.NewHost(relay),
		mcp:         mcpclient.New(),
		storage:     storage.New(config.GetPaths().StoragePath()),
		sessionsDir: sessionsDir,
		groups:      make(map[string]*Group),
	}
	b.SubscribeAll(s.onEvent)
	return s
}

func (s *Supervisor) onEvent(e bus.Event) {
	if !terminalEvents[e.Type] {
		return
	}
	g, ok := s.group(e.SessionID)
	if !ok {
		return
	}
	if err := g.Agent.Tree().Save(s.sessionsDir); err != nil {
		logging.Logger.Warn().Err(err).Str("session_id", e.SessionID).Msg("failed to persist session snapshot")
	}
}

func (s *Supervisor) group(sessionID string) (*Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[sessionID]
	return g, ok
}

func (s *Supervisor) snapshotPath(sessionID string) string {
	return filepath.Join(s.sessionsDir, sessionID+".dets")
}

func newSessionID() string { return ulid.Make().String() }

func (s *Supervisor) resolveModel(providerID, modelID string) (runtime.ModelRef, error) {
	if providerID == "" && modelID == "" {
		m, err := s.providers.DefaultModel()
		if err != nil {
			return runtime.ModelRef{}, err
		}
		return runtime.ModelRef{Provider: m.ProviderID, ID: m.ID}, nil
	}
	if providerID == "" {
		providerID, modelID = provider.ParseModelString(modelID)
	}
	if _, err := s.providers.GetModel(providerID, modelID); err != nil {
		return runtime.ModelRef{}, opalerr.NewNotFound("model", providerID+"/"+modelID)
	}
	return runtime.ModelRef{Provider: providerID, ID: modelID}, nil
}

// StartSession builds or reconnects a session's Group. A SessionID that
// already names a live Group is returned as-is (a client reattaching to
// a session it already started); a SessionID with no live Group but a
// snapshot on disk reloads the tree; anything else starts fresh.
func (s *Supervisor) StartSession(ctx context.Context, opts rpc.StartSessionOptions) (*runtime.Agent, error) {
	if existing, ok := s.group(opts.SessionID); ok && opts.SessionID != "" {
		return existing.Agent, nil
	}

	dir := opts.Directory
	if dir == "" {
		dir = "."
	}

	sessionID := opts.SessionID
	var tree *chat.Tree
	if sessionID != "" {
		if loaded, err := chat.LoadFrom(s.snapshotPath(sessionID)); err == nil {
			tree = loaded
		}
	}
	if tree == nil {
		if sessionID == "" {
			sessionID = newSessionID()
		}
		tree = chat.New(sessionID)
	}

	agentName := opts.Agent
	if agentName == "" {
		agentName = "build"
	}
	if _, err := s.profiles.Get(agentName); err != nil {
		return nil, opalerr.Validation("unknown agent profile: %s", agentName)
	}

	model, err := s.resolveModel(opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}

	tools := tool.DefaultRegistry(dir, s.storage)
	if s.cfg.Features.SubAgents {
		tools.RegisterSubAgentTool(s.profiles)
		tools.SetSubAgentSpawner(s.subAgents)
	}

	var mcpServers []string
	if s.cfg.Features.MCP && len(s.cfg.MCP) > 0 {
		mcpServers = s.mcp.Load(ctx, s.cfg.MCP, tools)
	}

	deps := runtime.Deps{
		Bus:         s.bus,
		Providers:   s.providers,
		Tools:       tools,
		Profiles:    s.profiles,
		Permissions: s.checker,
		Compactor:   s.compactor,
	}

	agent := runtime.New(deps, tree, runtime.Options{
		SessionID:     sessionID,
		Agent:         agentName,
		WorkDir:       dir,
		Model:         model,
		Tools:         tools.IDs(),
		DisabledTools: s.cfg.DisabledTools,
		Config: runtime.SubConfig{
			SubAgents:  s.cfg.Features.SubAgents,
			Skills:     s.cfg.Features.Skills,
			MCP:        s.cfg.Features.MCP,
			Debug:      s.cfg.Features.Debug,
			MCPServers: mcpServers,
		},
	})

	s.mu.Lock()
	s.groups[sessionID] = &Group{Agent: agent, Tools: tools}
	s.mu.Unlock()

	return agent, nil
}

// GetAgent returns the live Agent for sessionID, or NotFound if no
// Group is registered under it.
func (s *Supervisor) GetAgent(sessionID string) (*runtime.Agent, error) {
	g, ok := s.group(sessionID)
	if !ok {
		return nil, opalerr.NewNotFound("session", sessionID)
	}
	return g.Agent, nil
}

// BranchSession moves sessionID's tree cursor to messageID, per spec
// §3's branch(id): it does not fork a new session, it repoints the
// existing one's current_id.
func (s *Supervisor) BranchSession(ctx context.Context, sessionID, messageID string) (*runtime.Agent, error) {
	agent, err := s.GetAgent(sessionID)
	if err != nil {
		return nil, err
	}
	if agent.IsRunning() {
		return nil, opalerr.Validation("cannot branch while a turn is in progress")
	}
	if err := agent.Tree().Branch(messageID); err != nil {
		return nil, err
	}
	if err := agent.Tree().Save(s.sessionsDir); err != nil {
		logging.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to persist session snapshot after branch")
	}
	return agent, nil
}

// CompactSession runs the compaction engine against sessionID's current
// path outside of any turn (the agent_runtime runs the same engine
// automatically when a turn's prompt tokens cross the context
// threshold; this is the client-triggered manual equivalent).
func (s *Supervisor) CompactSession(ctx context.Context, sessionID string) (*compaction.Result, error) {
	agent, err := s.GetAgent(sessionID)
	if err != nil {
		return nil, err
	}
	if agent.IsRunning() {
		return nil, opalerr.Validation("cannot compact while a turn is in progress")
	}

	snap := agent.Snapshot()
	result, err := s.compactor.Compact(ctx, agent.Tree(), snap.Model.Provider, snap.Model.ID)
	if err != nil {
		return nil, err
	}
	if err := agent.Tree().Save(s.sessionsDir); err != nil {
		logging.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to persist session snapshot after compact")
	}
	return result, nil
}

// DeleteSession removes sessionID's Group and its on-disk snapshot.
func (s *Supervisor) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.groups, sessionID)
	s.mu.Unlock()

	if err := os.Remove(s.snapshotPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListSessions enumerates saved sessions. An empty directory falls back
// to the configured sessions directory; a caller naming a directory gets
// the sessions saved in that directory instead. Sessions started here are
// always saved to the configured sessions directory, whatever their
// working directory.
func (s *Supervisor) ListSessions(directory string) ([]chat.SessionInfo, error) {
	dir := directory
	if dir == "" {
		dir = s.sessionsDir
	}
	return chat.ListSessions(dir)
}

var _ rpc.SessionManager = (*Supervisor)(nil)
