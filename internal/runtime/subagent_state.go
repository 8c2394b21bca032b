package runtime

import (
	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/tool"
)

// AgentState is the handle an Agent exposes to its own tool calls via
// tool.Context.AgentState. It is kept here, not in internal/tool, so
// that package never depends on internal/runtime; internal/subagent
// type-asserts it back to this concrete type to build a child Agent
// without internal/runtime depending on internal/subagent in turn.
type AgentState struct {
	Deps     Deps
	Profiles *agentprofile.Registry
	Tools    *tool.Registry
	WorkDir  string
	Model    ModelRef
	Config   SubConfig
}

// agentState snapshots what a tool call (in practice, only sub_agent)
// needs to spawn a child of this Agent.
func (a *Agent) agentState() *AgentState {
	st := a.state.snapshot()
	return &AgentState{
		Deps:     a.deps,
		Profiles: a.deps.Profiles,
		Tools:    a.deps.Tools,
		WorkDir:  st.WorkingDir,
		Model:    st.Model,
		Config:   st.Config,
	}
}
