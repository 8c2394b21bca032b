package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/provider"
)

// Config tunes the split and summarization behavior.
type Config struct {
	// KeepRecentTokens is the token budget reserved for the tail of the
	// path that survives compaction untouched.
	KeepRecentTokens int

	// SummaryMaxTokens bounds the summarizer's own completion.
	SummaryMaxTokens int

	// ContextThreshold is the last_prompt_tokens/context_window ratio
	// that should trigger a compaction; ShouldCompact applies it.
	ContextThreshold float64
}

// DefaultConfig mirrors the teacher's compaction defaults, retuned to the
// spec's 0.85 trigger threshold.
var DefaultConfig = Config{
	KeepRecentTokens: 4000,
	SummaryMaxTokens: 1500,
	ContextThreshold: 0.85,
}

// SummarizerError wraps a provider failure encountered while generating a
// compaction summary. The Agent Runtime treats it like any other
// ProviderError: emit an error event, end the turn, return to idle.
type SummarizerError struct {
	Cause error
}

func (e *SummarizerError) Error() string { return fmt.Sprintf("compaction summarizer failed: %v", e.Cause) }
func (e *SummarizerError) Unwrap() error  { return e.Cause }

// Engine runs the compaction procedure against a Provider it borrows a
// model from for summarization.
type Engine struct {
	providers *provider.Registry
	cfg       Config
}

// New constructs an Engine. cfg's zero value is replaced field-by-field
// with DefaultConfig.
func New(providers *provider.Registry, cfg Config) *Engine {
	if cfg.KeepRecentTokens == 0 {
		cfg.KeepRecentTokens = DefaultConfig.KeepRecentTokens
	}
	if cfg.SummaryMaxTokens == 0 {
		cfg.SummaryMaxTokens = DefaultConfig.SummaryMaxTokens
	}
	if cfg.ContextThreshold == 0 {
		cfg.ContextThreshold = DefaultConfig.ContextThreshold
	}
	return &Engine{providers: providers, cfg: cfg}
}

// ShouldCompact reports whether the ratio of lastPromptTokens to
// contextWindow has crossed the engine's threshold.
func (e *Engine) ShouldCompact(lastPromptTokens, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	return float64(lastPromptTokens)/float64(contextWindow) >= e.cfg.ContextThreshold
}

// Result reports what a Compact call did, for the compaction_end event.
type Result struct {
	BeforeCount int
	AfterCount  int
	Summary     *chat.Message
}

// Compact runs the full split/summarize/rewrite procedure against tree's
// current path. providerID/modelID name the model used for
// summarization — internal/runtime and the supervisor's CompactSession
// both pass the session's active model; config's small_model is not
// consulted.
func (e *Engine) Compact(ctx context.Context, tree *chat.Tree, providerID, modelID string) (*Result, error) {
	path := tree.GetPath()
	before := len(path)

	toSummarize, toKeep, heavyTurn := splitPath(path, e.cfg.KeepRecentTokens)
	if len(toSummarize) == 0 {
		return &Result{BeforeCount: before, AfterCount: before}, nil
	}

	prov, err := e.providers.Get(providerID)
	if err != nil {
		return nil, &SummarizerError{Cause: err}
	}

	var summaryText string
	if heavyTurn != nil {
		main, err := e.summarize(ctx, prov, modelID, toSummarize, mainSummarizerPrompt)
		if err != nil {
			return nil, err
		}
		prefix, err := e.summarize(ctx, prov, modelID, heavyTurn, toolHeavySummarizerPrompt)
		if err != nil {
			return nil, err
		}
		summaryText = main + "\n\n<Tool-heavy prefix>\n" + prefix
	} else {
		text, err := e.summarize(ctx, prov, modelID, toSummarize, mainSummarizerPrompt)
		if err != nil {
			return nil, err
		}
		summaryText = text
	}

	readFiles, modifiedFiles := scanFileTouches(toSummarize)
	priorRead, priorModified := priorFileSets(toSummarize)
	readFiles = unionStrings(readFiles, priorRead)
	modifiedFiles = unionStrings(modifiedFiles, priorModified)
	readFiles = subtractStrings(readFiles, modifiedFiles)

	summary := &chat.Message{
		ID:      chat.NewMessageID(),
		Role:    chat.RoleUser,
		Content: "[Conversation summary]\n\n" + summaryText,
		Metadata: map[string]any{
			"type":           "compaction_summary",
			"read_files":     readFiles,
			"modified_files": modifiedFiles,
		},
	}

	ids := make([]string, len(toSummarize))
	for i, m := range toSummarize {
		ids[i] = m.ID
	}
	if err := tree.ReplacePathSegment(ids, summary); err != nil {
		return nil, err
	}

	return &Result{
		BeforeCount: before,
		AfterCount:  len(toKeep) + 1,
		Summary:     summary,
	}, nil
}

func (e *Engine) summarize(ctx context.Context, prov provider.Provider, modelID string, messages []*chat.Message, systemPrompt string) (string, error) {
	req := &provider.CompletionRequest{
		Model:     modelID,
		MaxTokens: e.cfg.SummaryMaxTokens,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: serializeTranscript(messages)},
		},
	}

	stream, err := prov.Stream(ctx, req)
	if err != nil {
		return "", &SummarizerError{Cause: err}
	}
	defer stream.Close()

	var out strings.Builder
	for {
		evt, ok, err := stream.Next()
		if err != nil {
			return "", &SummarizerError{Cause: err}
		}
		if !ok {
			break
		}
		switch evt.Kind {
		case provider.EventTextDelta:
			out.WriteString(evt.Delta)
		case provider.EventError:
			return "", &SummarizerError{Cause: evt.Err}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

const mainSummarizerPrompt = `You are summarizing a coding-agent conversation so work can continue once this history is discarded.
Respond with exactly these sections, each on its own line:
<Goal> one sentence describing what the user is trying to accomplish
<Progress> what has been done so far, including files touched
<Next> the concrete next step
Be concise. Do not include anything outside these three sections.`

const toolHeavySummarizerPrompt = `Summarize only the tool calls and their results in this excerpt in one short paragraph: which tools ran, on what arguments, and what they returned or changed.`

// splitPath partitions path into (to_summarize, to_keep) by walking back
// from the end accumulating estimateTokens until keepRecentTokens is
// exhausted, then adjusts the boundary so a tool turn — an
// assistant-with-tool-calls message and the tool_result messages
// answering it — never straddles the split. When straddling is
// detected, the whole turn is pulled into to_summarize and returned
// separately as heavyTurn so Compact can summarize it with a
// tool-focused prompt in addition to the main summary.
func splitPath(path []*chat.Message, keepRecentTokens int) (toSummarize, toKeep []*chat.Message, heavyTurn []*chat.Message) {
	if len(path) == 0 {
		return nil, nil, nil
	}

	boundary := len(path)
	budget := keepRecentTokens
	for boundary > 0 {
		tok := estimateTokens(path[boundary-1])
		if budget-tok < 0 && boundary < len(path) {
			break
		}
		budget -= tok
		boundary--
	}

	if boundary > 0 && boundary < len(path) && path[boundary].Role == chat.RoleToolResult {
		turnStart := boundary
		for turnStart > 0 && path[turnStart-1].Role != chat.RoleAssistant {
			turnStart--
		}
		if turnStart > 0 {
			turnStart--
		}
		turnEnd := boundary
		for turnEnd < len(path) && path[turnEnd].Role == chat.RoleToolResult {
			turnEnd++
		}
		heavyTurn = append([]*chat.Message(nil), path[turnStart:turnEnd]...)
		boundary = turnEnd
	}

	toSummarize = append([]*chat.Message(nil), path[:boundary]...)
	toKeep = append([]*chat.Message(nil), path[boundary:]...)
	return toSummarize, toKeep, heavyTurn
}

// estimateTokens is the same rough 4-characters-per-token heuristic the
// teacher's session package uses, extended over tool call arguments.
func estimateTokens(m *chat.Message) int {
	n := len(m.Content) + len(m.Thinking)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	return n / 4
}

func serializeTranscript(messages []*chat.Message) string {
	var b strings.Builder
	b.WriteString("<conversation>\n")
	for _, m := range messages {
		switch m.Role {
		case chat.RoleUser:
			b.WriteString("[User]:\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				if m.Content != "" {
					b.WriteString("[Assistant]:\n")
					b.WriteString(m.Content)
					b.WriteString("\n\n")
				}
				b.WriteString("[Assistant tool calls]:\n")
				for _, tc := range m.ToolCalls {
					fmt.Fprintf(&b, "%s(%s)\n", tc.Name, string(tc.Arguments))
				}
				b.WriteString("\n")
			} else {
				b.WriteString("[Assistant]:\n")
				b.WriteString(m.Content)
				b.WriteString("\n\n")
			}
		case chat.RoleToolResult:
			fmt.Fprintf(&b, "[Tool result (%s)]:\n", m.Name)
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("</conversation>")
	return b.String()
}

// fileToolArgs is the subset of argument shapes read/write/edit tools
// accept that name the file they touch.
type fileToolArgs struct {
	FilePath string `json:"filePath"`
}

func scanFileTouches(messages []*chat.Message) (readFiles, modifiedFiles []string) {
	readSet := map[string]bool{}
	modSet := map[string]bool{}
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			var args fileToolArgs
			if err := json.Unmarshal(tc.Arguments, &args); err != nil || args.FilePath == "" {
				continue
			}
			switch tc.Name {
			case "read":
				readSet[args.FilePath] = true
			case "write", "edit":
				modSet[args.FilePath] = true
			}
		}
	}
	return setToSlice(readSet), setToSlice(modSet)
}

// priorFileSets recovers read_files/modified_files from any
// compaction_summary message already present in toSummarize, so
// iterated compaction unions rather than forgets earlier file touches.
func priorFileSets(toSummarize []*chat.Message) (read, modified []string) {
	for _, m := range toSummarize {
		if m.Metadata == nil {
			continue
		}
		if t, _ := m.Metadata["type"].(string); t != "compaction_summary" {
			continue
		}
		read = append(read, toStringSlice(m.Metadata["read_files"])...)
		modified = append(modified, toStringSlice(m.Metadata["modified_files"])...)
	}
	return read, modified
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func unionStrings(a, b []string) []string {
	set := map[string]bool{}
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	return setToSlice(set)
}

func subtractStrings(a, b []string) []string {
	excl := map[string]bool{}
	for _, s := range b {
		excl[s] = true
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if !excl[s] {
			out = append(out, s)
		}
	}
	return out
}
