package agentprofile

import (
	"fmt"
	"sync"

	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/permission"
)

// Registry is the live set of agent profiles a runtime/supervisor
// resolves "agent" names against: built-ins seeded at construction,
// overlaid with whatever internal/config.Config.Agent carries.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry returns a registry pre-populated with BuiltInProfiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]*Profile)}
	for name, p := range BuiltInProfiles() {
		r.profiles[name] = p
	}
	return r
}

// Get retrieves a profile by name.
func (r *Registry) Get(name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("agent profile not found: %s", name)
	}
	return p, nil
}

// Register adds or replaces a profile.
func (r *Registry) Register(p *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// Unregister removes a profile by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, name)
}

// List returns every registered profile.
func (r *Registry) List() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

// ListPrimary returns profiles usable as a top-level session agent.
func (r *Registry) ListPrimary() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Profile
	for _, p := range r.profiles {
		if p.IsPrimary() {
			out = append(out, p)
		}
	}
	return out
}

// ListSubagents returns profiles the Sub-Agent Host may spawn.
func (r *Registry) ListSubagents() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Profile
	for _, p := range r.profiles {
		if p.IsSubagent() {
			out = append(out, p)
		}
	}
	return out
}

// Names returns every registered profile name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	return out
}

// Exists reports whether a profile is registered under name.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[name]
	return ok
}

// LoadFromConfig overlays internal/config.Config.Agent entries onto
// the registry: an entry naming a built-in profile clones and
// customizes it (BuiltIn becomes false), an entry naming a new agent
// starts from an empty primary-mode profile.
func (r *Registry) LoadFromConfig(agents map[string]config.AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, cfg := range agents {
		p, exists := r.profiles[name]
		if !exists {
			p = &Profile{Name: name, Mode: ModePrimary, Tools: make(map[string]bool)}
		} else {
			p = p.Clone()
			p.BuiltIn = false
		}

		if cfg.Disable {
			delete(r.profiles, name)
			continue
		}
		if cfg.Description != "" {
			p.Description = cfg.Description
		}
		if cfg.Model != "" {
			p.Model = cfg.Model
		}
		if cfg.Temperature != nil {
			p.Temperature = cfg.Temperature
		}
		if cfg.TopP != nil {
			p.TopP = cfg.TopP
		}
		if cfg.Tools != nil {
			if p.Tools == nil {
				p.Tools = make(map[string]bool)
			}
			for k, v := range cfg.Tools {
				p.Tools[k] = v
			}
		}
		if cfg.Permission != nil {
			applyPermissionConfig(&p.Permission, cfg.Permission)
		}

		r.profiles[name] = p
	}
}

// applyPermissionConfig merges a config.PermissionConfig (whose Bash
// field is untyped JSON — either a blanket action string or a
// per-pattern map, per the YAML/JSON shapes the config layer accepts)
// onto a profile's Permission.
func applyPermissionConfig(dst *Permission, src *config.PermissionConfig) {
	if src.Edit != "" {
		dst.Edit = permission.PermissionAction(src.Edit)
	}
	if src.WebFetch != "" {
		dst.WebFetch = permission.PermissionAction(src.WebFetch)
	}
	if src.ExternalDir != "" {
		dst.ExternalDir = permission.PermissionAction(src.ExternalDir)
	}
	if src.DoomLoop != "" {
		dst.DoomLoop = permission.PermissionAction(src.DoomLoop)
	}
	switch bash := src.Bash.(type) {
	case string:
		if dst.Bash == nil {
			dst.Bash = make(map[string]permission.PermissionAction)
		}
		dst.Bash["*"] = permission.PermissionAction(bash)
	case map[string]interface{}:
		if dst.Bash == nil {
			dst.Bash = make(map[string]permission.PermissionAction, len(bash))
		}
		for pattern, action := range bash {
			if s, ok := action.(string); ok {
				dst.Bash[pattern] = permission.PermissionAction(s)
			}
		}
	}
}
