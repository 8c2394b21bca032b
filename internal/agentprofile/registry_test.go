package agentprofile

import (
	"testing"

	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_SeedsBuiltIns(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Exists("build"))
	assert.True(t, r.Exists("plan"))
	assert.True(t, r.Exists("general"))
	assert.True(t, r.Exists("explore"))
}

func TestRegistry_ListPrimaryAndSubagents(t *testing.T) {
	r := NewRegistry()
	primary := r.ListPrimary()
	subagents := r.ListSubagents()

	names := func(ps []*Profile) map[string]bool {
		m := make(map[string]bool)
		for _, p := range ps {
			m[p.Name] = true
		}
		return m
	}

	assert.True(t, names(primary)["build"])
	assert.True(t, names(primary)["plan"])
	assert.True(t, names(subagents)["general"])
	assert.True(t, names(subagents)["explore"])
	assert.False(t, names(subagents)["build"])
}

func TestProfile_ToolEnabled_ExactThenWildcard(t *testing.T) {
	p := &Profile{Tools: map[string]bool{"edit": false, "*": true}}
	assert.False(t, p.ToolEnabled("edit"))
	assert.True(t, p.ToolEnabled("read"))
}

func TestRegistry_LoadFromConfig_CustomizesBuiltIn(t *testing.T) {
	r := NewRegistry()
	temp := 0.5
	r.LoadFromConfig(map[string]config.AgentConfig{
		"plan": {
			Description: "Custom planning agent",
			Temperature: &temp,
			Tools:       map[string]bool{"write": true},
		},
	})

	p, err := r.Get("plan")
	require.NoError(t, err)
	assert.Equal(t, "Custom planning agent", p.Description)
	assert.False(t, p.BuiltIn)
	require.NotNil(t, p.Temperature)
	assert.Equal(t, 0.5, *p.Temperature)
	assert.True(t, p.Tools["write"])
	// Original built-in tool entries survive the overlay.
	assert.False(t, p.Tools["edit"])
}

func TestRegistry_LoadFromConfig_NewAgent(t *testing.T) {
	r := NewRegistry()
	r.LoadFromConfig(map[string]config.AgentConfig{
		"reviewer": {Description: "Reviews diffs", Model: "anthropic/claude-sonnet-4-20250514"},
	})

	p, err := r.Get("reviewer")
	require.NoError(t, err)
	assert.Equal(t, ModePrimary, p.Mode)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", p.Model)
}

func TestRegistry_LoadFromConfig_Disable(t *testing.T) {
	r := NewRegistry()
	r.LoadFromConfig(map[string]config.AgentConfig{
		"explore": {Disable: true},
	})
	assert.False(t, r.Exists("explore"))
}

func TestApplyPermissionConfig_BlanketBashString(t *testing.T) {
	p := &Profile{}
	applyPermissionConfig(&p.Permission, &config.PermissionConfig{Bash: "deny"})
	assert.Equal(t, permission.ActionDeny, p.Permission.Bash["*"])
}

func TestApplyPermissionConfig_BashPatternMap(t *testing.T) {
	p := &Profile{}
	applyPermissionConfig(&p.Permission, &config.PermissionConfig{
		Bash: map[string]interface{}{"git*": "allow", "rm*": "deny"},
	})
	assert.Equal(t, permission.ActionAllow, p.Permission.Bash["git*"])
	assert.Equal(t, permission.ActionDeny, p.Permission.Bash["rm*"])
}
