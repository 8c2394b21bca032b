package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	t.Cleanup(func() { os.Setenv("HOME", oldHome) })
	return tmpDir
}

func writeProjectConfig(t *testing.T, projectDir, name, content string) string {
	t.Helper()
	dir := filepath.Join(projectDir, ".opal")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	writeProjectConfig(t, project, "opal.yaml", `
default_model: anthropic/claude-sonnet-4-20250514
small_model: anthropic/claude-3-5-haiku-20241022
features:
  sub_agents: true
  skills: true
provider:
  anthropic:
    api_key: sk-ant-test123
agent:
  coder:
    tools:
      bash: true
      edit: true
`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.DefaultModel)
	assert.Equal(t, "anthropic/claude-3-5-haiku-20241022", cfg.SmallModel)
	assert.True(t, cfg.Features.SubAgents)
	assert.True(t, cfg.Features.Skills)
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].APIKey)
	assert.True(t, cfg.Agent["coder"].Tools["bash"])
}

func TestLoadJSONCConfig(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	writeProjectConfig(t, project, "opal.jsonc", `{
		// line comment
		"default_model": "anthropic/claude-sonnet-4-20250514",
		/* block
		   comment */
		"provider": {
			"anthropic": { "api_key": "test-key" }
		}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.DefaultModel)
	assert.Equal(t, "test-key", cfg.Provider["anthropic"].APIKey)
}

func TestEnvInterpolation(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	os.Setenv("OPAL_TEST_API_KEY", "interpolated-key")
	t.Cleanup(func() { os.Unsetenv("OPAL_TEST_API_KEY") })

	writeProjectConfig(t, project, "opal.yaml", `
provider:
  anthropic:
    api_key: "{env:OPAL_TEST_API_KEY}"
`)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "interpolated-key", cfg.Provider["anthropic"].APIKey)
}

func TestFileInterpolation(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(project, "instructions.txt"), []byte("custom instructions"), 0o644))
	writeProjectConfig(t, project, "opal.yaml", `
instructions:
  - "{file:../instructions.txt}"
`)

	cfg, err := Load(project)
	require.NoError(t, err)
	require.Len(t, cfg.Instructions, 1)
	assert.Equal(t, "custom instructions", cfg.Instructions[0])
}

func TestConfigMergePrecedence(t *testing.T) {
	home := isolateHome(t)
	project := t.TempDir()

	globalDir := filepath.Join(home, ".config", "opal")
	require.NoError(t, os.MkdirAll(globalDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "opal.yaml"), []byte(`
default_model: anthropic/claude-sonnet-4-20250514
provider:
  anthropic:
    api_key: global-key
agent:
  coder:
    tools:
      bash: true
`), 0o644))

	writeProjectConfig(t, project, "opal.yaml", `
default_model: openai/gpt-5
agent:
  coder:
    tools:
      edit: true
`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-5", cfg.DefaultModel)
	assert.Equal(t, "global-key", cfg.Provider["anthropic"].APIKey)
	assert.True(t, cfg.Agent["coder"].Tools["edit"])
}

func TestEnvVarOverridesFile(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	os.Setenv("OPAL_MODEL", "env-model")
	t.Cleanup(func() { os.Unsetenv("OPAL_MODEL") })

	writeProjectConfig(t, project, "opal.yaml", `default_model: file-model`)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.DefaultModel)
}

func TestOPALConfigOverride(t *testing.T) {
	isolateHome(t)
	tmpDir := t.TempDir()

	customPath := filepath.Join(tmpDir, "custom.yaml")
	require.NoError(t, os.WriteFile(customPath, []byte(`default_model: custom-config-model`), 0o644))

	os.Setenv("OPAL_CONFIG", customPath)
	t.Cleanup(func() { os.Unsetenv("OPAL_CONFIG") })

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "custom-config-model", cfg.DefaultModel)
}

func TestOPALConfigContent(t *testing.T) {
	isolateHome(t)

	os.Setenv("OPAL_CONFIG_CONTENT", `{"default_model": "inline-model"}`)
	t.Cleanup(func() { os.Unsetenv("OPAL_CONFIG_CONTENT") })

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "inline-model", cfg.DefaultModel)
}

func TestMCPConfig(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	writeProjectConfig(t, project, "opal.yaml", `
mcp:
  filesystem:
    type: local
    command: ["npx", "-y", "@modelcontextprotocol/server-filesystem"]
    environment:
      MCP_ROOT: /home/user
    enabled: true
    timeout: 5000
  remote-server:
    type: remote
    url: https://mcp.example.com
    headers:
      Authorization: "Bearer token"
`)

	cfg, err := Load(project)
	require.NoError(t, err)

	fs := cfg.MCP["filesystem"]
	assert.Equal(t, "local", fs.Type)
	assert.Equal(t, []string{"npx", "-y", "@modelcontextprotocol/server-filesystem"}, fs.Command)
	assert.Equal(t, "/home/user", fs.Environment["MCP_ROOT"])
	require.NotNil(t, fs.Enabled)
	assert.True(t, *fs.Enabled)
	assert.Equal(t, 5000, fs.Timeout)

	remote := cfg.MCP["remote-server"]
	assert.Equal(t, "https://mcp.example.com", remote.URL)
	assert.Equal(t, "Bearer token", remote.Headers["Authorization"])
}

func TestPermissionConfig(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	writeProjectConfig(t, project, "opal.yaml", `
permission:
  edit: allow
  bash:
    rm: deny
    chmod: ask
  webfetch: allow
  external_directory: ask
  doom_loop: ask
`)

	cfg, err := Load(project)
	require.NoError(t, err)

	require.NotNil(t, cfg.Permission)
	assert.Equal(t, "allow", cfg.Permission.Edit)
	assert.Equal(t, "ask", cfg.Permission.ExternalDir)

	bashPerm, ok := cfg.Permission.Bash.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "deny", bashPerm["rm"])
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opal.yaml")
	cfg := &Config{
		DefaultModel: "anthropic/claude-sonnet-4-20250514",
		Provider: map[string]ProviderConfig{
			"anthropic": {APIKey: "test-key"},
		},
	}
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default_model")
}

func TestInterpolateMissingFileKeepsPlaceholder(t *testing.T) {
	result := interpolate([]byte(`{"key": "{file:nonexistent.txt}"}`), t.TempDir())
	assert.Contains(t, string(result), "{file:nonexistent.txt}")
}
