package runtime

import (
	"sync"

	"github.com/opencode-ai/opal/internal/provider"
)

// Status is the Agent State's lifecycle phase.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusRunning        Status = "running"
	StatusStreaming      Status = "streaming"
	StatusExecutingTools Status = "executing_tools"
	StatusCompacting     Status = "compacting"
)

// ModelRef names the model a turn runs against.
type ModelRef struct {
	Provider      string                 `json:"provider"`
	ID            string                 `json:"id"`
	ThinkingLevel provider.ThinkingLevel `json:"thinking_level"`
}

// SubConfig is the feature toggle set configure can flip per session.
type SubConfig struct {
	SubAgents bool     `json:"sub_agents"`
	Skills    bool     `json:"skills"`
	MCP       bool     `json:"mcp"`
	Debug     bool     `json:"debug"`
	// MCPServers names the MCP servers internal/mcpclient loaded into this
	// session's tool registry, for get_state display. Empty when MCP is
	// disabled or no server connected successfully.
	MCPServers []string `json:"mcp_servers,omitempty"`
}

// Usage accumulates token counts across a session's turns.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// PendingToolTask names the tool call currently executing, so get_state
// can report exactly where a crash left off.
type PendingToolTask struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
}

// State is the spec's Agent State record. It is owned by one Agent and
// read/written only through Agent's methods, behind guardedState's mutex — callers
// (get_state, the RPC layer) only ever see a State obtained from
// Agent.Snapshot, which is a deep-enough copy safe to serialize without
// racing the run loop.
type State struct {
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"` // agent profile name

	Status Status   `json:"status"`
	Model  ModelRef `json:"model"`

	Tools         []string `json:"tools"`
	DisabledTools []string `json:"disabled_tools"`

	PendingSteers       []string          `json:"pending_steers"`
	RemainingToolCalls  []string          `json:"remaining_tool_calls"` // call_ids not yet dispatched
	PendingToolTask     *PendingToolTask  `json:"pending_tool_task,omitempty"`

	TokenUsage       Usage `json:"token_usage"`
	LastPromptTokens int   `json:"last_prompt_tokens"`

	WorkingDir string    `json:"working_dir"`
	Config     SubConfig `json:"config"`
}

// mu guards State's mutable fields from concurrent access by the run
// loop goroutine and callers of Agent's command methods.
type guardedState struct {
	mu sync.Mutex
	s  State
}

func (g *guardedState) snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := g.s
	cp.Tools = append([]string(nil), g.s.Tools...)
	cp.DisabledTools = append([]string(nil), g.s.DisabledTools...)
	cp.PendingSteers = append([]string(nil), g.s.PendingSteers...)
	cp.RemainingToolCalls = append([]string(nil), g.s.RemainingToolCalls...)
	cp.Config.MCPServers = append([]string(nil), g.s.Config.MCPServers...)
	if g.s.PendingToolTask != nil {
		t := *g.s.PendingToolTask
		cp.PendingToolTask = &t
	}
	return cp
}

func (g *guardedState) withLock(fn func(s *State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.s)
}
