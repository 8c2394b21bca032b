package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/provider"
	"github.com/opencode-ai/opal/internal/runtime"
	"github.com/opencode-ai/opal/internal/tool"
)

// eventWaitTimeout bounds how long the collection loop waits for the
// next child event before giving up on the whole spawn.
const eventWaitTimeout = 120 * time.Second

// QuestionRelay forwards an ask_parent question to the parent session's
// user and blocks for the answer. internal/rpc implements this over its
// client/input request/response pair; tests can stub it directly.
type QuestionRelay interface {
	AskUser(ctx context.Context, parentSessionID, parentCallID, question string, choices []string) (string, error)
}

// Host is the Sub-Agent Host (spec's sub_agent tool backend): it
// satisfies tool.SubAgentSpawner by building and running a child
// runtime.Agent to completion and folding its transcript into the
// parent's tool result.
type Host struct {
	relay QuestionRelay
}

// NewHost constructs a Host. relay may be nil, in which case a spawned
// child's ask_parent calls fail immediately instead of hanging forever.
func NewHost(relay QuestionRelay) *Host {
	return &Host{relay: relay}
}

var _ tool.SubAgentSpawner = (*Host)(nil)

func newSubSessionID() string { return "sess_" + ulid.Make().String() }

// Spawn implements tool.SubAgentSpawner, per the six-step procedure:
// validate, build overrides, spawn a child from the parent's state,
// collect its events until agent_end/error/timeout, then format the
// tool log and terminate the child.
func (h *Host) Spawn(ctx context.Context, toolCtx *tool.Context, req tool.SubAgentSpawnRequest) (*tool.SubAgentResult, error) {
	ast, ok := toolCtx.AgentState.(*runtime.AgentState)
	if !ok || ast == nil {
		return nil, errors.New("sub_agent requires an active agent state")
	}
	if !ast.Config.SubAgents {
		return nil, errors.New("sub-agents are disabled for this session")
	}

	profile, err := ast.Profiles.Get(req.Profile)
	if err != nil {
		return nil, fmt.Errorf("unknown agent profile: %s", req.Profile)
	}
	if !profile.IsSubagent() {
		return nil, fmt.Errorf("profile %s cannot be used as a sub-agent (mode: %s)", req.Profile, profile.Mode)
	}
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}

	childTools := childToolRegistry(ast.Tools, req.Tools)

	childProfiles := agentprofile.NewRegistry()
	childProfile := profile.Clone()
	if req.SystemPrompt != "" {
		childProfile.Prompt = childProfile.Prompt + "\n\n" + req.SystemPrompt
	}
	childProfiles.Register(childProfile)

	model := ast.Model
	if req.Model != "" {
		providerID, modelID := provider.ParseModelString(req.Model)
		if providerID == "" {
			providerID = model.Provider
		}
		model.Provider, model.ID = providerID, modelID
	}

	childSessionID := newSubSessionID()
	childDeps := ast.Deps
	childDeps.Tools = childTools
	childDeps.Profiles = childProfiles

	var questionHandler func(ctx context.Context, question string, choices []string) (string, error)
	if h.relay != nil {
		questionHandler = func(qctx context.Context, question string, choices []string) (string, error) {
			return h.relay.AskUser(qctx, req.ParentSessionID, req.ParentCallID, question, choices)
		}
	}

	child := runtime.New(childDeps, chat.New(childSessionID), runtime.Options{
		SessionID:       childSessionID,
		Agent:           req.Profile,
		WorkDir:         ast.WorkDir,
		Model:           model,
		Config:          runtime.SubConfig{SubAgents: false, Skills: ast.Config.Skills, MCP: ast.Config.MCP, Debug: ast.Config.Debug},
		QuestionHandler: questionHandler,
	})

	collector := newCollector()
	unsubscribe := ast.Deps.Bus.Subscribe(childSessionID, collector.onEvent)
	defer unsubscribe()
	defer func() { _ = child.Abort(context.Background()) }()

	if ast.Deps.Bus != nil {
		_ = ast.Deps.Bus.Broadcast(req.ParentSessionID, bus.NewEvent(req.ParentSessionID, bus.TypeSubAgentStart, map[string]any{
			"parent_call_id": req.ParentCallID,
			"sub_session_id": childSessionID,
			"model":          model.ID,
			"label":          req.Profile,
			"tools":          req.Tools,
		}))
	}

	if err := child.Prompt(ctx, req.Prompt); err != nil {
		return nil, fmt.Errorf("sub-agent prompt failed: %w", err)
	}

	outcome, err := collector.await(ctx, req.ParentSessionID, req.ParentCallID, ast.Deps.Bus)
	if err != nil {
		return nil, err
	}

	return &tool.SubAgentResult{
		Output:       outcome.text,
		SubSessionID: childSessionID,
		ToolLog:      outcome.toolLog,
	}, nil
}

// childToolRegistry builds the tool set a child gets: the parent's own
// tools (minus sub_agent, which WithAskParent already strips), further
// narrowed to names when the caller requested a subset, plus ask_parent.
func childToolRegistry(parent *tool.Registry, names []string) *tool.Registry {
	base := parent.WithAskParent()
	if len(names) == 0 {
		return base
	}

	allowed := make(map[string]bool, len(names)+1)
	for _, n := range names {
		allowed[n] = true
	}
	allowed["ask_parent"] = true

	child := tool.NewRegistry(parent.WorkDir(), parent.Storage())
	for _, id := range base.IDs() {
		if !allowed[id] {
			continue
		}
		if t, ok := base.Get(id); ok {
			child.Register(t)
		}
	}
	return child
}

// toolLogEntry is one line of the "Sub-agent tool log" section: a tool
// call and its result, in FIFO call order, filled in once the matching
// tool_execution_end event arrives.
type toolLogEntry struct {
	tool      string
	arguments string
	result    *string
}

func (e toolLogEntry) render() string {
	result := "(pending)"
	if e.result != nil {
		result = *e.result
	}
	return fmt.Sprintf("%s(%s): %s", e.tool, e.arguments, result)
}

type subAgentOutcome struct {
	text    string
	toolLog []string
}

// collector implements step 5 of the spec procedure: accumulate text
// deltas and a FIFO tool log from a child's bus events, forwarding each
// as sub_agent_event on the parent bus, until agent_end or error.
type collector struct {
	events chan bus.Event
}

func newCollector() *collector {
	return &collector{events: make(chan bus.Event, 256)}
}

func (c *collector) onEvent(e bus.Event) {
	select {
	case c.events <- e:
	default:
		// Collection loop is falling behind; drop rather than block the
		// bus's delivery goroutine. A truncated tool log still beats a
		// stuck session.
	}
}

func (c *collector) await(ctx context.Context, parentSessionID, parentCallID string, parentBus *bus.Bus) (*subAgentOutcome, error) {
	var text string
	var order []string
	entries := make(map[string]*toolLogEntry)

	forward := func(e bus.Event) {
		if parentBus == nil {
			return
		}
		_ = parentBus.Broadcast(parentSessionID, bus.NewEvent(parentSessionID, bus.TypeSubAgentEvent, map[string]any{
			"parent_call_id": parentCallID,
			"sub_session_id": e.SessionID,
			"inner":          map[string]any{"type": string(e.Type), "fields": e.Fields},
		}))
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(eventWaitTimeout):
			return nil, errors.New("sub-agent timeout")
		case e := <-c.events:
			forward(e)

			switch e.Type {
			case bus.TypeMessageDelta:
				if delta, ok := e.Fields["delta"].(string); ok {
					text += delta
				}
			case bus.TypeToolExecutionStart:
				callID, _ := e.Fields["call_id"].(string)
				name, _ := e.Fields["tool"].(string)
				args := renderArgs(e.Fields["input"])
				entries[callID] = &toolLogEntry{tool: name, arguments: args}
				order = append(order, callID)
			case bus.TypeToolExecutionEnd:
				callID, _ := e.Fields["call_id"].(string)
				entry, ok := entries[callID]
				if !ok {
					continue
				}
				var result string
				if errFlag, _ := e.Fields["error"].(bool); errFlag {
					result = "ERROR: " + fmt.Sprint(e.Fields["output"])
				} else {
					result = fmt.Sprint(e.Fields["output"])
				}
				entry.result = &result
			case bus.TypeAgentEnd:
				return &subAgentOutcome{text: text, toolLog: renderLog(order, entries)}, nil
			case bus.TypeError:
				reason, _ := e.Fields["message"].(string)
				return nil, fmt.Errorf("sub-agent error: %s", reason)
			case bus.TypeAgentAbort:
				return nil, errors.New("sub-agent aborted")
			}
		}
	}
}

func renderLog(order []string, entries map[string]*toolLogEntry) []string {
	out := make([]string, 0, len(order))
	for _, callID := range order {
		if e, ok := entries[callID]; ok {
			out = append(out, e.render())
		}
	}
	return out
}

func renderArgs(input any) string {
	switch v := input.(type) {
	case json.RawMessage:
		return string(v)
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
