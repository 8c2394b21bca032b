package runtime

import (
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencode-ai/opal/internal/agentprofile"
)

// systemPrompt assembles the system prompt handed to the provider ahead
// of every turn: a provider header, the profile's own prompt, a
// model-family tip sheet, live environment context, any project rule
// file, and a fixed tool-usage guide.
type systemPrompt struct {
	profile    *agentprofile.Profile
	workDir    string
	providerID string
	modelID    string
}

func newSystemPrompt(profile *agentprofile.Profile, workDir, providerID, modelID string) *systemPrompt {
	return &systemPrompt{profile: profile, workDir: workDir, providerID: providerID, modelID: modelID}
}

func (s *systemPrompt) build() string {
	var parts []string

	if header := s.providerHeader(); header != "" {
		parts = append(parts, header)
	}
	if s.profile != nil && s.profile.Prompt != "" {
		parts = append(parts, s.profile.Prompt)
	}
	if tip := s.modelTip(); tip != "" {
		parts = append(parts, tip)
	}
	parts = append(parts, s.environmentContext())
	if rules := s.customRules(); rules != "" {
		parts = append(parts, rules)
	}
	parts = append(parts, toolUsageGuide)

	return strings.Join(parts, "\n\n")
}

func (s *systemPrompt) providerHeader() string {
	switch s.providerID {
	case "anthropic":
		return `You are Claude, an AI assistant made by Anthropic, operating inside a coding-agent runtime.

IMPORTANT: You have access to tools that can read, write, and execute commands in the user's working directory. Use them responsibly.`
	case "openai":
		return `You are a helpful AI assistant with access to tools for reading, writing, and executing commands in a coding-agent runtime.

Use tools responsibly and follow the user's instructions carefully.`
	default:
		return ""
	}
}

func (s *systemPrompt) modelTip() string {
	switch {
	case strings.Contains(s.modelID, "claude"):
		return `When using tools, be decisive and take action. Don't ask for confirmation unless the action is destructive.

For file operations:
- Read a file before editing it
- Make minimal, focused changes
- Preserve existing code style and formatting`
	case strings.Contains(s.modelID, "gpt"):
		return `When working with files:
- Always read a file before making changes
- Make precise, targeted edits
- Follow existing code conventions`
	default:
		return ""
	}
}

func (s *systemPrompt) environmentContext() string {
	var env strings.Builder
	env.WriteString("# Environment Information\n\n")

	workDir := s.workDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	fmt.Fprintf(&env, "Working Directory: %s\n", workDir)
	fmt.Fprintf(&env, "Current Date: %s\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&env, "Platform: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)

	if branch := gitBranch(workDir); branch != "" {
		fmt.Fprintf(&env, "Git Branch: %s\n", branch)
	}
	if projectType := detectProjectType(workDir); projectType != "" {
		fmt.Fprintf(&env, "Project Type: %s\n", projectType)
	}

	return env.String()
}

func (s *systemPrompt) customRules() string {
	workDir := s.workDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	locations := []string{
		filepath.Join(workDir, "AGENTS.md"),
		filepath.Join(workDir, "CLAUDE.md"),
		filepath.Join(workDir, ".opencode", "rules.md"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations,
			filepath.Join(home, ".config", "opencode", "rules.md"),
			filepath.Join(home, ".claude", "rules.md"),
		)
	}

	for _, loc := range locations {
		if content, err := os.ReadFile(loc); err == nil && len(content) > 0 {
			return fmt.Sprintf("# Custom Rules\n\n%s", string(content))
		}
	}
	return ""
}

const toolUsageGuide = `# Tool Usage Guidelines

1. **File Operations**
   - Use read before edit
   - Use edit for surgical changes, write for new files
   - Always provide absolute paths

2. **Bash Commands**
   - Prefer built-in tools over bash when one covers the task
   - Include a description for every bash command

3. **Search**
   - Use glob for file discovery, grep for content search

4. **Best Practices**
   - Work iteratively, verify changes work
   - Don't modify a file you haven't read`

func gitBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "branch", "--show-current")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

var projectIndicators = map[string][]string{
	"Node.js": {"package.json"},
	"Python":  {"pyproject.toml", "setup.py", "requirements.txt"},
	"Go":      {"go.mod"},
	"Rust":    {"Cargo.toml"},
	"Java":    {"pom.xml", "build.gradle"},
	"Ruby":    {"Gemfile"},
	"PHP":     {"composer.json"},
	"C#":      {"*.csproj", "*.sln"},
	"Elixir":  {"mix.exs"},
	"Haskell": {"*.cabal", "stack.yaml"},
}

func detectProjectType(dir string) string {
	if dir == "" {
		return ""
	}
	for projectType, patterns := range projectIndicators {
		for _, pattern := range patterns {
			matches, _ := filepath.Glob(filepath.Join(dir, pattern))
			if len(matches) > 0 {
				return projectType
			}
		}
	}
	return ""
}
