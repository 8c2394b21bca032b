package tool

import (
	"sync"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/logging"
	"github.com/opencode-ai/opal/internal/storage"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	workDir string
	storage *storage.Storage
}

// NewRegistry creates a new tool registry.
func NewRegistry(workDir string, store *storage.Storage) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
		storage: store,
	}
}

// Storage returns the storage instance.
func (r *Registry) Storage() *storage.Storage {
	return r.storage
}

// WorkDir returns the working directory tools in this registry were
// constructed against.
func (r *Registry) WorkDir() string {
	return r.workDir
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logging.Logger.Debug().Str("tool", tool.ID()).Msg("registering tool")
	r.tools[tool.ID()] = tool
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	return tools
}

// IDs returns all tool IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	return ids
}

// EinoTools returns Eino-compatible tools.
func (r *Registry) EinoTools() []einotool.BaseTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]einotool.BaseTool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t.EinoTool())
	}
	return tools
}

// ToolInfos returns Eino tool infos for all tools.
func (r *Registry) ToolInfos() ([]*schema.ToolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		params := parseJSONSchemaToParams(t.Parameters())
		infos = append(infos, &schema.ToolInfo{
			Name:        t.ID(),
			Desc:        t.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos, nil
}

// DefaultRegistry creates a registry with all built-in tools except
// sub_agent, which needs an agent profile registry (RegisterSubAgentTool)
// and ask_parent, which a sub-agent's own registry adds separately
// (NewAskParentTool is only wired into a child's tool set, never a
// primary session's — see internal/subagent).
func DefaultRegistry(workDir string, store *storage.Storage) *Registry {
	r := NewRegistry(workDir, store)

	r.Register(NewReadTool(workDir))
	r.Register(NewWriteTool(workDir))
	r.Register(NewEditTool(workDir))
	r.Register(NewBashTool(workDir))
	r.Register(NewGlobTool(workDir))
	r.Register(NewGrepTool(workDir))
	r.Register(NewListTool(workDir))
	r.Register(NewWebFetchTool(workDir))

	r.Register(NewTodoWriteTool(workDir, store))
	r.Register(NewTodoReadTool(workDir, store))

	r.Register(NewBatchTool(workDir, r))

	logging.Logger.Debug().Strs("tools", r.IDs()).Msg("default tool registry created")
	return r
}

// RegisterSubAgentTool registers the sub_agent tool against profiles.
// Called once sub-agents are enabled (config.Features.SubAgents) and
// the session's depth is below the cap.
func (r *Registry) RegisterSubAgentTool(profiles *agentprofile.Registry) *SubAgentTool {
	t := NewSubAgentTool(r.workDir, profiles)
	r.Register(t)
	logging.Logger.Debug().Msg("registered sub_agent tool")
	return t
}

// SetSubAgentSpawner wires the Sub-Agent Host implementation into an
// already-registered sub_agent tool.
func (r *Registry) SetSubAgentSpawner(spawner SubAgentSpawner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tools["sub_agent"]; ok {
		if subAgentTool, ok := t.(*SubAgentTool); ok {
			subAgentTool.SetSpawner(spawner)
			logging.Logger.Debug().Msg("sub-agent spawner configured")
		}
	}
}

// WithAskParent returns a clone of this registry's tool set plus
// ask_parent, for handing to a spawned child — never called on a
// primary session's own registry.
func (r *Registry) WithAskParent() *Registry {
	child := NewRegistry(r.workDir, r.storage)
	r.mu.RLock()
	for id, t := range r.tools {
		if id == "sub_agent" {
			continue // depth cap: a child never gets its own sub_agent tool
		}
		child.tools[id] = t
	}
	r.mu.RUnlock()
	child.Register(NewAskParentTool())
	return child
}
