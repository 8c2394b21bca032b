package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/compaction"
	"github.com/opencode-ai/opal/internal/opalerr"
	"github.com/opencode-ai/opal/internal/permission"
	"github.com/opencode-ai/opal/internal/provider"
	"github.com/opencode-ai/opal/internal/tool"
)

// MaxSteps bounds how many provider round-trips a single turn may take
// before the Agent gives up and ends the turn rather than looping forever
// on tool calls.
const MaxSteps = 50

// Deps collects the collaborators an Agent borrows. internal/supervisor
// assembles one per session: the bus, providers, profiles, permission
// checker and compaction engine are shared by every session, while Tools
// is that session's own registry. Agent itself owns only its Tree.
type Deps struct {
	Bus         *bus.Bus
	Providers   *provider.Registry
	Tools       *tool.Registry
	Profiles    *agentprofile.Registry
	Permissions *permission.Checker
	Compactor   *compaction.Engine
}

// Options seeds a new Agent's initial state.
type Options struct {
	SessionID string
	Agent     string // agent profile name, resolved against Deps.Profiles
	WorkDir   string
	Model     ModelRef
	Config    SubConfig

	// Tools lists every tool id available to this session (for get_state
	// display); DisabledTools names the subset buildToolSpecs excludes
	// from a turn's tool list regardless of profile gating. Both are set
	// once at construction from the session's config layer.
	Tools         []string
	DisabledTools []string

	// QuestionHandler, when set, is installed on every tool.Context this
	// Agent builds, letting its ask_parent tool relay a question to a
	// parent session and block for the answer. Only internal/subagent
	// sets this, on the child Agent it spawns.
	QuestionHandler func(ctx context.Context, question string, choices []string) (string, error)
}

// Agent is the Agent Runtime for one session: the chat.Tree it owns plus
// the state machine driving turns against it. internal/supervisor
// constructs exactly one per live session; after a crash, runTurns'
// own deferred recover calls Recover.
type Agent struct {
	deps Deps
	tree *chat.Tree

	state *guardedState

	questionHandler func(ctx context.Context, question string, choices []string) (string, error)

	turnMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New constructs an idle Agent seeded from opts. tree may already hold
// history (the session was reloaded from disk); it is never replaced.
func New(deps Deps, tree *chat.Tree, opts Options) *Agent {
	gs := &guardedState{s: State{
		SessionID:     opts.SessionID,
		Agent:         opts.Agent,
		Status:        StatusIdle,
		Model:         opts.Model,
		WorkingDir:    opts.WorkDir,
		Config:        opts.Config,
		Tools:         opts.Tools,
		DisabledTools: opts.DisabledTools,
	}}
	return &Agent{deps: deps, tree: tree, state: gs, questionHandler: opts.QuestionHandler}
}

// Tree returns the session's message tree, for callers (sync_messages,
// get_context, persistence) that need direct read access.
func (a *Agent) Tree() *chat.Tree { return a.tree }

// Snapshot returns a point-in-time copy of the Agent State, safe to
// serialize for the get_state RPC method without racing the run loop.
func (a *Agent) Snapshot() State { return a.state.snapshot() }

// IsRunning reports whether a turn is currently in flight.
func (a *Agent) IsRunning() bool {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return a.running
}

func (a *Agent) setStatus(s Status) {
	a.state.withLock(func(st *State) { st.Status = s })
}

func (a *Agent) publish(typ bus.Type, fields map[string]any) {
	if a.deps.Bus == nil {
		return
	}
	sid := a.state.snapshot().SessionID
	_ = a.deps.Bus.Broadcast(sid, bus.NewEvent(sid, typ, fields))
}

// Prompt submits user text as the next turn's input. If the Agent is
// idle, it appends the message and starts a turn immediately; otherwise
// it queues as a steer, identically to Steer, per the queueing rule: a
// prompt that arrives mid-turn behaves exactly like a steer.
func (a *Agent) Prompt(ctx context.Context, text string) error {
	return a.submit(text)
}

// Steer submits text to be woven into the running turn at the next
// between-tool boundary, or to start a fresh turn if the Agent is idle.
func (a *Agent) Steer(ctx context.Context, text string) error {
	return a.submit(text)
}

func (a *Agent) submit(text string) error {
	if strings.TrimSpace(text) == "" {
		return opalerr.Validation("prompt text must not be empty")
	}

	a.turnMu.Lock()
	if a.running {
		a.turnMu.Unlock()
		a.state.withLock(func(s *State) {
			s.PendingSteers = append(s.PendingSteers, text)
		})
		a.publish(bus.TypeMessageQueued, map[string]any{"text": text})
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true
	a.turnMu.Unlock()

	msg := &chat.Message{
		ID:       chat.NewMessageID(),
		Role:     chat.RoleUser,
		Content:  text,
		Metadata: map[string]any{"created_at": time.Now().UnixNano()},
	}
	a.tree.Append(msg)
	a.publish(bus.TypeMessageApplied, map[string]any{"message_id": msg.ID})

	go a.runTurns(ctx)
	return nil
}

// Abort cancels the in-flight turn, if any. It is a no-op when idle.
func (a *Agent) Abort(ctx context.Context) error {
	a.turnMu.Lock()
	cancel := a.cancel
	a.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// SetModel switches the provider/model a subsequent turn streams
// against. Takes effect on the next provider call, not mid-stream.
func (a *Agent) SetModel(providerID, modelID string) error {
	if _, err := a.deps.Providers.GetModel(providerID, modelID); err != nil {
		return opalerr.NewNotFound("model", fmt.Sprintf("%s/%s", providerID, modelID))
	}
	a.state.withLock(func(s *State) {
		s.Model.Provider = providerID
		s.Model.ID = modelID
	})
	return nil
}

// SetProvider switches only the provider, keeping the current model id
// (the caller is expected to follow up with SetModel if the id doesn't
// exist on the new provider).
func (a *Agent) SetProvider(providerID string) error {
	if _, err := a.deps.Providers.Get(providerID); err != nil {
		return opalerr.NewNotFound("provider", providerID)
	}
	a.state.withLock(func(s *State) { s.Model.Provider = providerID })
	return nil
}

// SetThinkingLevel changes the reasoning effort passed to the model on
// the next turn.
func (a *Agent) SetThinkingLevel(level provider.ThinkingLevel) {
	a.state.withLock(func(s *State) { s.Model.ThinkingLevel = level })
}

// Configure replaces the session's feature toggles with cfg as a whole,
// MCPServers included; zero fields in cfg clear the current values.
func (a *Agent) Configure(cfg SubConfig) {
	a.state.withLock(func(s *State) { s.Config = cfg })
}

// SyncMessages resyncs the Agent's view of the conversation with the
// tree's current path. Compaction calls ReplacePathSegment directly on
// the shared Tree, so there is nothing to copy — this exists as the
// named hook internal/compaction's caller (the turn loop's maybeCompact)
// invokes to make the resync explicit and observable, matching the
// spec's command surface.
func (a *Agent) SyncMessages() []*chat.Message {
	return a.tree.GetPath()
}

// GetContext returns the messages that would be sent to the provider on
// the next turn, system prompt included, without starting one.
func (a *Agent) GetContext() []provider.Message {
	st := a.state.snapshot()
	profile, _ := a.deps.Profiles.Get(st.Agent)
	sp := newSystemPrompt(profile, st.WorkingDir, st.Model.Provider, st.Model.ID).build()
	return toProviderMessages(sp, a.tree.GetPath())
}

// LoadSkill records that a named skill's instructions were folded into
// context, emitting skill_loaded so observers can show it happened.
func (a *Agent) LoadSkill(name, description string) {
	a.publish(bus.TypeSkillLoaded, map[string]any{"name": name, "description": description})
}

// Recover is called by runTurns' deferred recover after a panic in the
// turn loop: it clears any tool-in-flight bookkeeping a crash could have
// left dangling, appends a synthetic assistant message describing the
// interruption, and emits agent_recovered.
func (a *Agent) Recover(reason string) {
	a.turnMu.Lock()
	a.running = false
	a.cancel = nil
	a.turnMu.Unlock()

	a.state.withLock(func(s *State) {
		s.Status = StatusIdle
		s.PendingToolTask = nil
	})

	msg := &chat.Message{
		ID:       chat.NewMessageID(),
		Role:     chat.RoleAssistant,
		Content:  "[Recovered after a crash: " + reason + "]",
		Metadata: map[string]any{"type": "crash_recovery"},
	}
	a.tree.Append(msg)
	a.publish(bus.TypeAgentRecovered, map[string]any{"reason": reason, "message_id": msg.ID})
}
