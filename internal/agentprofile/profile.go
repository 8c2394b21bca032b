// Package agentprofile holds the agent profile registry: the named,
// versionable configurations (model, tools, permissions, system prompt)
// that the Agent Runtime and the Sub-Agent Host instantiate sessions
// against. A profile is data, not a running agent — internal/runtime
// owns the live AgentState a profile seeds.
package agentprofile

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opencode-ai/opal/internal/permission"
)

// Mode controls where a profile may be used.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// Permission holds the per-profile default permission actions, layered
// under the global permission config and above the built-in default
// (ask) when a request doesn't match any pattern.
type Permission struct {
	Edit        permission.PermissionAction
	Bash        map[string]permission.PermissionAction
	WebFetch    permission.PermissionAction
	ExternalDir permission.PermissionAction
	DoomLoop    permission.PermissionAction
}

// Profile is a named agent configuration: the model it runs, which
// tools it may call, its default permissions, and the system prompt
// appended ahead of session-specific instructions.
type Profile struct {
	Name        string
	Description string
	Mode        Mode
	BuiltIn     bool
	Permission  Permission
	Tools       map[string]bool
	Model       string // "provider/model", empty to inherit the session default
	Temperature *float64
	TopP        *float64
	Prompt      string
	Color       string
}

// ToolEnabled reports whether a tool ID is enabled for this profile,
// checking exact matches before wildcard patterns and defaulting to
// enabled when nothing matches.
func (p *Profile) ToolEnabled(toolID string) bool {
	if enabled, ok := p.Tools[toolID]; ok {
		return enabled
	}
	for pattern, enabled := range p.Tools {
		if matchWildcard(pattern, toolID) {
			return enabled
		}
	}
	return true
}

// CheckBashPermission resolves the permission action for a bash command
// against the profile's bash pattern table, defaulting to ask.
func (p *Profile) CheckBashPermission(command string) permission.PermissionAction {
	for pattern, action := range p.Permission.Bash {
		if matchWildcard(pattern, command) {
			return action
		}
	}
	return permission.ActionAsk
}

// GetPermission resolves the profile-level default for a permission
// type, falling back to ask when the profile leaves it unset.
func (p *Profile) GetPermission(permType permission.PermissionType) permission.PermissionAction {
	switch permType {
	case permission.PermEdit:
		if p.Permission.Edit != "" {
			return p.Permission.Edit
		}
	case permission.PermWebFetch:
		if p.Permission.WebFetch != "" {
			return p.Permission.WebFetch
		}
	case permission.PermExternalDir:
		if p.Permission.ExternalDir != "" {
			return p.Permission.ExternalDir
		}
	case permission.PermDoomLoop:
		if p.Permission.DoomLoop != "" {
			return p.Permission.DoomLoop
		}
	}
	return permission.ActionAsk
}

// IsPrimary reports whether the profile may drive a top-level session.
func (p *Profile) IsPrimary() bool {
	return p.Mode == ModePrimary || p.Mode == ModeAll
}

// IsSubagent reports whether the profile may be spawned by the
// Sub-Agent Host as a nested session.
func (p *Profile) IsSubagent() bool {
	return p.Mode == ModeSubagent || p.Mode == ModeAll
}

// Clone deep-copies the profile so registry mutation (LoadFromConfig)
// never aliases a caller's in-flight AgentState.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		Name:        p.Name,
		Description: p.Description,
		Mode:        p.Mode,
		BuiltIn:     p.BuiltIn,
		Model:       p.Model,
		Prompt:      p.Prompt,
		Color:       p.Color,
	}
	clone.Permission = Permission{
		Edit:        p.Permission.Edit,
		WebFetch:    p.Permission.WebFetch,
		ExternalDir: p.Permission.ExternalDir,
		DoomLoop:    p.Permission.DoomLoop,
	}
	if p.Permission.Bash != nil {
		clone.Permission.Bash = make(map[string]permission.PermissionAction, len(p.Permission.Bash))
		for k, v := range p.Permission.Bash {
			clone.Permission.Bash[k] = v
		}
	}
	if p.Tools != nil {
		clone.Tools = make(map[string]bool, len(p.Tools))
		for k, v := range p.Tools {
			clone.Tools[k] = v
		}
	}
	if p.Temperature != nil {
		t := *p.Temperature
		clone.Temperature = &t
	}
	if p.TopP != nil {
		t := *p.TopP
		clone.TopP = &t
	}
	return clone
}

// matchWildcard matches a tool-ID or bash-command pattern: "*" matches
// everything, "**"-bearing patterns go through doublestar, simple
// prefix/suffix globs are handled directly, everything else is exact.
func matchWildcard(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "*"))
	}
	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	return pattern == s
}

// BuiltInProfiles returns the profiles available with no configuration
// at all: one general-purpose primary agent, a read-only planning
// agent, and two subagent profiles for the sub_agent tool to spawn.
func BuiltInProfiles() map[string]*Profile {
	return map[string]*Profile{
		"build": {
			Name:        "build",
			Description: "Primary agent for executing tasks, writing code, and making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Permission: Permission{
				Edit:        permission.ActionAllow,
				Bash:        map[string]permission.PermissionAction{"*": permission.ActionAllow},
				WebFetch:    permission.ActionAllow,
				ExternalDir: permission.ActionAsk,
				DoomLoop:    permission.ActionAsk,
			},
			Tools: map[string]bool{"*": true},
		},
		"plan": {
			Name:        "plan",
			Description: "Planning agent for analysis and exploration without making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Permission: Permission{
				Edit: permission.ActionDeny,
				Bash: map[string]permission.PermissionAction{
					"grep*":      permission.ActionAllow,
					"find*":      permission.ActionAllow,
					"ls*":        permission.ActionAllow,
					"cat*":       permission.ActionAllow,
					"git status": permission.ActionAllow,
					"git diff*":  permission.ActionAllow,
					"git log*":   permission.ActionAllow,
					"*":          permission.ActionDeny,
				},
				WebFetch:    permission.ActionAllow,
				ExternalDir: permission.ActionDeny,
				DoomLoop:    permission.ActionDeny,
			},
			Tools: map[string]bool{
				"read": true, "glob": true, "grep": true, "ls": true, "bash": true,
				"edit": false, "write": false,
			},
		},
		"general": {
			Name:        "general",
			Description: "General-purpose subagent for searches and exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			Permission: Permission{
				Edit:        permission.ActionDeny,
				Bash:        map[string]permission.PermissionAction{"*": permission.ActionDeny},
				WebFetch:    permission.ActionAllow,
				ExternalDir: permission.ActionDeny,
				DoomLoop:    permission.ActionDeny,
			},
			Tools: map[string]bool{
				"read": true, "glob": true, "grep": true, "webfetch": true,
				"bash": false, "edit": false, "write": false,
			},
		},
		"explore": {
			Name:        "explore",
			Description: "Fast agent specialized for codebase exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			Permission: Permission{
				Edit:        permission.ActionDeny,
				Bash:        map[string]permission.PermissionAction{"*": permission.ActionDeny},
				WebFetch:    permission.ActionDeny,
				ExternalDir: permission.ActionDeny,
				DoomLoop:    permission.ActionDeny,
			},
			Tools: map[string]bool{
				"read": true, "glob": true, "grep": true, "ls": true,
				"bash": false, "edit": false,
			},
		},
	}
}
