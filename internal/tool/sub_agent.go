package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/opencode-ai/opal/internal/agentprofile"
)

const subAgentDescription = `Delegate a task to a constrained child agent.

The sub_agent tool spawns a child agent with a fresh session, its own
event stream, and a tool set limited to a subset of the parent's own.
The child cannot spawn a sub-agent of its own (depth is capped at one
level). Use it to parallelize or isolate exploratory work the parent
doesn't want to do inline.

Available agent profiles: general, explore (or any subagent-mode
profile configured for this project).`

// SubAgentTool is the Sub-Agent Host's entry point: the "sub_agent"
// tool a primary agent calls to delegate work to a constrained child.
// It is registered only when sub-agents are enabled and the calling
// session's depth is below the cap; the registry, not this tool,
// enforces that precondition.
type SubAgentTool struct {
	workDir  string
	profiles *agentprofile.Registry
	spawner  SubAgentSpawner
}

// SubAgentSpawner is implemented by internal/subagent.Host. Kept as an
// interface here so internal/tool never imports internal/subagent.
type SubAgentSpawner interface {
	Spawn(ctx context.Context, toolCtx *Context, req SubAgentSpawnRequest) (*SubAgentResult, error)
}

// SubAgentSpawnRequest carries the overrides §4.6 allows a parent to
// set on the child it spawns.
type SubAgentSpawnRequest struct {
	ParentSessionID string
	ParentCallID    string
	Profile         string   // subagent-mode agent profile name
	Prompt          string   // required
	Tools           []string // subset of the parent's tools; never includes "sub_agent"
	Model           string   // optional override
	SystemPrompt    string   // optional override
}

// SubAgentResult is the child's final answer, already folded into the
// "Sub-agent tool log" / "Sub-agent response" sections the tool
// surfaces back to the parent's transcript.
type SubAgentResult struct {
	Output       string
	SubSessionID string
	ToolLog      []string
	Metadata     map[string]any
}

// SubAgentInput is the JSON shape of the sub_agent tool call.
type SubAgentInput struct {
	AgentType    string   `json:"agentType"`
	Prompt       string   `json:"prompt"`
	Tools        []string `json:"tools,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
}

// NewSubAgentTool creates the sub_agent tool. profiles resolves the
// requested agentType; spawner does the actual spawning (wired by
// internal/supervisor through Registry.SetSubAgentSpawner).
func NewSubAgentTool(workDir string, profiles *agentprofile.Registry) *SubAgentTool {
	if profiles == nil {
		profiles = agentprofile.NewRegistry()
	}
	return &SubAgentTool{workDir: workDir, profiles: profiles}
}

// SetSpawner wires the Sub-Agent Host implementation.
func (t *SubAgentTool) SetSpawner(spawner SubAgentSpawner) {
	t.spawner = spawner
}

func (t *SubAgentTool) ID() string          { return "sub_agent" }
func (t *SubAgentTool) Description() string { return subAgentDescription }

func (t *SubAgentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agentType": {
				"type": "string",
				"description": "The subagent profile to spawn (general, explore, or a configured custom profile)"
			},
			"prompt": {
				"type": "string",
				"description": "The task for the child agent to perform"
			},
			"tools": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Optional subset of the parent's tools to grant the child"
			},
			"model": {
				"type": "string",
				"description": "Optional model override for the child"
			},
			"systemPrompt": {
				"type": "string",
				"description": "Optional additional system prompt for the child"
			}
		},
		"required": ["agentType", "prompt"]
	}`)
}

func (t *SubAgentTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params SubAgentInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.AgentType == "" {
		return nil, fmt.Errorf("agentType is required")
	}
	if params.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if toolCtx == nil || toolCtx.AgentState == nil {
		return nil, fmt.Errorf("sub_agent requires an active agent state")
	}

	profile, err := t.profiles.Get(params.AgentType)
	if err != nil {
		return nil, fmt.Errorf("unknown agent profile: %s", params.AgentType)
	}
	if !profile.IsSubagent() {
		return nil, fmt.Errorf("profile %s cannot be used as a sub-agent (mode: %s)", params.AgentType, profile.Mode)
	}
	for _, name := range params.Tools {
		if name == "sub_agent" {
			return nil, fmt.Errorf("sub_agent cannot grant itself to its own child")
		}
	}

	toolCtx.SetMetadata(fmt.Sprintf("Delegating to %s", params.AgentType), map[string]any{
		"agentType": params.AgentType,
		"status":    "starting",
	})

	if t.spawner == nil {
		return &Result{
			Title:  fmt.Sprintf("Sub-agent: %s", params.AgentType),
			Output: fmt.Sprintf("[Sub-agent host not configured]\n\nProfile: %s\nPrompt: %s", params.AgentType, params.Prompt),
			Metadata: map[string]any{
				"agentType": params.AgentType,
				"status":    "skipped",
			},
		}, nil
	}

	result, err := t.spawner.Spawn(ctx, toolCtx, SubAgentSpawnRequest{
		ParentSessionID: toolCtx.SessionID,
		ParentCallID:    toolCtx.CallID,
		Profile:         params.AgentType,
		Prompt:          params.Prompt,
		Tools:           params.Tools,
		Model:           params.Model,
		SystemPrompt:    params.SystemPrompt,
	})
	if err != nil {
		return &Result{
			Title:  fmt.Sprintf("Sub-agent failed: %s", params.AgentType),
			Output: fmt.Sprintf("Error: %s", err.Error()),
			Metadata: map[string]any{
				"agentType": params.AgentType,
				"status":    "failed",
				"error":     err.Error(),
			},
		}, nil
	}

	metadata := map[string]any{
		"agentType":    params.AgentType,
		"status":       "completed",
		"subSessionID": result.SubSessionID,
	}
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	output := result.Output
	if len(result.ToolLog) > 0 {
		output = formatSubAgentLog(result.ToolLog) + "\n## Sub-agent response\n\n" + result.Output
	}

	return &Result{
		Title:    fmt.Sprintf("Sub-agent (%s) completed", params.AgentType),
		Output:   output,
		Metadata: metadata,
	}, nil
}

func formatSubAgentLog(entries []string) string {
	out := "## Sub-agent tool log\n\n"
	for _, e := range entries {
		out += "- " + e + "\n"
	}
	return out
}

func (t *SubAgentTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// AvailableProfiles returns the subagent-mode profile names the tool
// may currently spawn.
func (t *SubAgentTool) AvailableProfiles() []string {
	profiles := t.profiles.ListSubagents()
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}

// Meta surfaces the requested profile ahead of execution.
func (t *SubAgentTool) Meta(args json.RawMessage) map[string]any {
	var in SubAgentInput
	if err := json.Unmarshal(args, &in); err != nil || in.AgentType == "" {
		return nil
	}
	return map[string]any{"agentType": in.AgentType}
}
