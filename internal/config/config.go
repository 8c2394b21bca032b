// Package config loads the agent runtime's configuration from layered
// sources: a global config directory, a project config discovered by
// walking up to the repository root, an explicit override file or inline
// JSON, and finally environment variables, which win over everything
// else. YAML is the primary format; JSON and JSONC are accepted too.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// FeatureToggles gates the optional subsystems the Agent Runtime wires up
// on request: sub-agent spawning, skill loading, MCP client connections,
// and verbose debug logging/RPC tracing.
type FeatureToggles struct {
	SubAgents bool `yaml:"sub_agents" json:"sub_agents"`
	Skills    bool `yaml:"skills" json:"skills"`
	MCP       bool `yaml:"mcp" json:"mcp"`
	Debug     bool `yaml:"debug" json:"debug"`
}

// ProviderConfig configures one LLM backend registration.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	Disable bool   `yaml:"disable,omitempty" json:"disable,omitempty"`
}

// AgentConfig overrides runtime defaults for a named agent profile.
type AgentConfig struct {
	Model       string           `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature *float64         `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        *float64         `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	Tools       map[string]bool  `yaml:"tools,omitempty" json:"tools,omitempty"`
	Permission  *PermissionConfig `yaml:"permission,omitempty" json:"permission,omitempty"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Disable     bool             `yaml:"disable,omitempty" json:"disable,omitempty"`
}

// PermissionConfig controls whether a tool category runs without asking,
// asks the client for confirmation, or is denied outright. Bash can carry
// either a blanket string or a per-command-prefix map, mirroring the
// ambiguity the permission checker already resolves at runtime.
type PermissionConfig struct {
	Edit        string      `yaml:"edit,omitempty" json:"edit,omitempty"`
	Bash        interface{} `yaml:"bash,omitempty" json:"bash,omitempty"`
	WebFetch    string      `yaml:"webfetch,omitempty" json:"webfetch,omitempty"`
	ExternalDir string      `yaml:"external_directory,omitempty" json:"external_directory,omitempty"`
	DoomLoop    string      `yaml:"doom_loop,omitempty" json:"doom_loop,omitempty"`
}

// MCPConfig describes one Model Context Protocol server the runtime may
// dial when the mcp feature toggle is enabled.
type MCPConfig struct {
	Type        string            `yaml:"type,omitempty" json:"type,omitempty"` // "local" or "remote"
	Command     []string          `yaml:"command,omitempty" json:"command,omitempty"`
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Timeout     int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Config is the fully resolved, layered configuration for one opal-agent
// process.
type Config struct {
	Schema string `yaml:"$schema,omitempty" json:"$schema,omitempty"`

	DefaultModel  string   `yaml:"default_model,omitempty" json:"default_model,omitempty"`
	SmallModel    string   `yaml:"small_model,omitempty" json:"small_model,omitempty"`
	SessionsDir   string   `yaml:"sessions_dir,omitempty" json:"sessions_dir,omitempty"`
	DefaultTools  []string `yaml:"default_tools,omitempty" json:"default_tools,omitempty"`
	DisabledTools []string `yaml:"disabled_tools,omitempty" json:"disabled_tools,omitempty"`
	Instructions  []string `yaml:"instructions,omitempty" json:"instructions,omitempty"`

	Features FeatureToggles `yaml:"features,omitempty" json:"features,omitempty"`

	Provider   map[string]ProviderConfig `yaml:"provider,omitempty" json:"provider,omitempty"`
	Agent      map[string]AgentConfig    `yaml:"agent,omitempty" json:"agent,omitempty"`
	Permission *PermissionConfig         `yaml:"permission,omitempty" json:"permission,omitempty"`
	MCP        map[string]MCPConfig      `yaml:"mcp,omitempty" json:"mcp,omitempty"`

	// MinClientVersion, when set, rejects an opal/version handshake from a
	// client reporting an older semver than this.
	MinClientVersion string `yaml:"min_client_version,omitempty" json:"min_client_version,omitempty"`
}

// candidateNames are tried, in order, under each config directory. YAML is
// preferred; JSON/JSONC are accepted for interoperability with tooling
// that only emits plain JSON.
var candidateNames = []string{"opal.yaml", "opal.yml", "opal.json", "opal.jsonc"}

// Load resolves configuration for a run rooted at directory (typically
// the process's working directory), applying sources lowest to highest
// precedence:
//
//  1. global config directory (GetPaths().Config)
//  2. project config, discovered by walking up from directory to the
//     nearest .git root (or filesystem root if none is found)
//  3. OPAL_CONFIG, an explicit override file path
//  4. OPAL_CONFIG_CONTENT, an inline JSON/YAML document
//  5. environment variable overrides
func Load(directory string) (*Config, error) {
	cfg := &Config{
		Provider: make(map[string]ProviderConfig),
		Agent:    make(map[string]AgentConfig),
	}

	loadDotEnv(directory)

	for _, name := range candidateNames {
		loadConfigFile(filepath.Join(GetPaths().Config, name), directory, cfg)
	}

	if directory != "" {
		for _, dir := range projectConfigDirs(directory) {
			for _, name := range candidateNames {
				loadConfigFile(filepath.Join(dir, name), directory, cfg)
			}
		}
	}

	if override := os.Getenv("OPAL_CONFIG"); override != "" {
		loadConfigFile(override, directory, cfg)
	}

	if inline := os.Getenv("OPAL_CONFIG_CONTENT"); inline != "" {
		var fileCfg Config
		if err := unmarshalAny([]byte(interpolate([]byte(inline), directory)), &fileCfg); err == nil {
			mergeConfig(cfg, &fileCfg)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// projectConfigDirs returns directory, then each ancestor of it up to and
// including the nearest .git root, ordered so the root's config (loaded
// first) is overridden by configs closer to directory.
func projectConfigDirs(directory string) []string {
	abs, err := filepath.Abs(directory)
	if err != nil {
		abs = directory
	}

	var chain []string
	dir := abs
	for {
		chain = append(chain, filepath.Join(dir, ".opal"))
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	// Reverse so the repo root is loaded first and directory's own config
	// (highest precedence among project configs) is loaded last.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func loadDotEnv(directory string) {
	if directory == "" {
		return
	}
	_ = godotenv.Load(filepath.Join(directory, ".env"))
}

func loadConfigFile(path, directory string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	data = interpolate(data, filepath.Dir(path))

	var fileCfg Config
	if err := unmarshalAny(data, &fileCfg); err != nil {
		return
	}
	mergeConfig(cfg, &fileCfg)
}

// unmarshalAny decodes data as YAML, which is a superset of JSON once
// comments are stripped, so a single code path handles opal.yaml,
// opal.json, and opal.jsonc alike.
func unmarshalAny(data []byte, cfg *Config) error {
	if json.Valid(jsonc.ToJSON(data)) {
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, cfg)
}

var (
	envPattern  = regexp.MustCompile(`\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate expands {env:VAR} and {file:path} placeholders. Relative
// file paths resolve against directory. A missing file leaves the
// placeholder untouched so the caller can tell interpolation didn't
// happen; a missing env var expands to the empty string.
func interpolate(data []byte, directory string) []byte {
	data = envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
	data = filePattern.ReplaceAllFunc(data, func(match []byte) []byte {
		path := string(filePattern.FindSubmatch(match)[1])
		if !filepath.IsAbs(path) && path[0] != '~' {
			path = filepath.Join(directory, path)
		}
		path = expandHome(path)
		content, err := os.ReadFile(path)
		if err != nil {
			return match
		}
		return content
	})
	return data
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// mergeConfig layers source over target: scalars and pointers overwrite
// when set, maps merge key by key, and slices from source replace
// target's wholesale (last-loaded wins, matching the teacher's
// deep-merge precedence rule).
func mergeConfig(target, source *Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.DefaultModel != "" {
		target.DefaultModel = source.DefaultModel
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}
	if source.SessionsDir != "" {
		target.SessionsDir = source.SessionsDir
	}
	if len(source.DefaultTools) > 0 {
		target.DefaultTools = source.DefaultTools
	}
	if len(source.DisabledTools) > 0 {
		target.DisabledTools = source.DisabledTools
	}
	if len(source.Instructions) > 0 {
		target.Instructions = source.Instructions
	}

	if source.Features.SubAgents {
		target.Features.SubAgents = true
	}
	if source.Features.Skills {
		target.Features.Skills = true
	}
	if source.Features.MCP {
		target.Features.MCP = true
	}
	if source.Features.Debug {
		target.Features.Debug = true
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}
	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = make(map[string]AgentConfig)
		}
		for k, v := range source.Agent {
			target.Agent[k] = v
		}
	}
	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}
	if source.Permission != nil {
		target.Permission = source.Permission
	}
}

// applyEnvOverrides applies the highest-precedence layer: environment
// variables, which win over every file source.
func applyEnvOverrides(cfg *Config) {
	providerEnvVars := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}
	for provider, envVar := range providerEnvVars {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		p := cfg.Provider[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			cfg.Provider[provider] = p
		}
	}

	if model := os.Getenv("OPAL_MODEL"); model != "" {
		cfg.DefaultModel = model
	}
	if model := os.Getenv("OPAL_SMALL_MODEL"); model != "" {
		cfg.SmallModel = model
	}
	if dir := os.Getenv("OPAL_SESSIONS_DIR"); dir != "" {
		cfg.SessionsDir = dir
	}
	if os.Getenv("OPAL_DEBUG") != "" {
		cfg.Features.Debug = true
	}
}

// Save writes cfg as YAML to path, creating parent directories as
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
