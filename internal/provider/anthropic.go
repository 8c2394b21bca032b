package provider

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
)

// thinkingBudgets maps a requested reasoning effort to the token budget
// Claude's extended-thinking parameter uses. A level with no entry here
// (including "off") omits the parameter entirely.
var thinkingBudgets = map[ThinkingLevel]int{
	ThinkingLow:    4096,
	ThinkingMedium: 10000,
	ThinkingHigh:   32000,
}

// AnthropicProvider implements Provider for Anthropic Claude models.
type AnthropicProvider struct {
	config *AnthropicConfig
	models []Model

	mu         sync.Mutex
	chatModels map[ThinkingLevel]model.ToolCallingChatModel
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	// ID is the provider identifier; defaults to "anthropic" if empty.
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	Thinking *claude.Thinking

	UseBedrock bool
	Region     string
	Profile    string
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(ctx context.Context, config *AnthropicConfig) (*AnthropicProvider, error) {
	p := &AnthropicProvider{
		config:     config,
		models:     anthropicModels(),
		chatModels: make(map[ThinkingLevel]model.ToolCallingChatModel),
	}

	base, err := p.buildChatModel(ctx, config.Thinking)
	if err != nil {
		return nil, err
	}
	p.chatModels[""] = base
	return p, nil
}

// buildChatModel constructs one Claude chat model against the
// provider's static connection config, with thinking as its
// extended-thinking parameter (nil omits it entirely).
func (p *AnthropicProvider) buildChatModel(ctx context.Context, thinking *claude.Thinking) (model.ToolCallingChatModel, error) {
	config := p.config
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" && !config.UseBedrock {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}

	var chatModel model.ToolCallingChatModel
	var err error

	if config.UseBedrock {
		bedrockModel := "anthropic." + modelID + "-v1:0"
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			ByBedrock: true,
			Region:    config.Region,
			Profile:   config.Profile,
			Model:     bedrockModel,
			MaxTokens: config.MaxTokens,
			Thinking:  thinking,
		})
	} else {
		cfg := &claude.Config{
			APIKey:    apiKey,
			Model:     modelID,
			MaxTokens: config.MaxTokens,
			Thinking:  thinking,
		}
		if config.BaseURL != "" {
			cfg.BaseURL = &config.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("create claude model: %w", err)
	}
	return chatModel, nil
}

// modelFor returns the chat model configured for level's extended-
// thinking parameter, building and caching one lazily the first time a
// level is requested. The zero value reuses the model built at
// construction time from AnthropicConfig.Thinking.
func (p *AnthropicProvider) modelFor(ctx context.Context, level ThinkingLevel) (model.ToolCallingChatModel, error) {
	p.mu.Lock()
	if cm, ok := p.chatModels[level]; ok {
		p.mu.Unlock()
		return cm, nil
	}
	p.mu.Unlock()

	var thinking *claude.Thinking
	if budget, ok := thinkingBudgets[level]; ok {
		thinking = &claude.Thinking{Type: "enabled", BudgetTokens: budget}
	}

	cm, err := p.buildChatModel(ctx, thinking)
	if err != nil {
		return nil, fmt.Errorf("build thinking model: %w", err)
	}

	p.mu.Lock()
	p.chatModels[level] = cm
	p.mu.Unlock()
	return cm, nil
}

func (p *AnthropicProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "anthropic"
}

func (p *AnthropicProvider) Name() string    { return "Anthropic" }
func (p *AnthropicProvider) Models() []Model { return p.models }
func (p *AnthropicProvider) ChatModel() model.ToolCallingChatModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatModels[""]
}

// Stream issues a streaming completion and returns it as a normalized
// event sequence. A non-off level attaches that level's thinking budget
// and "off" omits the parameter entirely; the zero value, for callers
// that never called set_thinking_level, uses AnthropicConfig.Thinking
// (nil, and so omitted, unless the config sets it).
func (p *AnthropicProvider) Stream(ctx context.Context, req *CompletionRequest) (*Stream, error) {
	chatModel, err := p.modelFor(ctx, req.ThinkingLevel)
	if err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 {
		var err error
		chatModel, err = chatModel.WithTools(convertTools(req.Tools))
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	opts := []model.Option{
		model.WithMaxTokens(req.MaxTokens),
		model.WithTemperature(float32(req.Temperature)),
	}

	reader, err := chatModel.Stream(ctx, convertMessages(req.Messages), opts...)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return NewStream(reader), nil
}

func anthropicModels() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 64000, SupportsTools: true, SupportsVision: true, InputPrice: 3.0, OutputPrice: 15.0},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 32000, SupportsTools: true, SupportsVision: true, SupportsReasoning: true, InputPrice: 15.0, OutputPrice: 75.0},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true, InputPrice: 3.0, OutputPrice: 15.0},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true, InputPrice: 0.8, OutputPrice: 4.0},
		{ID: "claude-haiku-4-5-20251001", Name: "Claude 4.5 Haiku", ProviderID: "anthropic", ContextLength: 200000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true, InputPrice: 0.8, OutputPrice: 4.0},
	}
}
