package provider

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// reasoningEfforts maps a requested reasoning effort to the
// reasoning_effort value OpenAI's o-series/GPT-5 models accept. A level
// with no entry here (including "off") omits the parameter, leaving the
// model's own default in effect.
var reasoningEfforts = map[ThinkingLevel]string{
	ThinkingLow:    "low",
	ThinkingMedium: "medium",
	ThinkingHigh:   "high",
}

// OpenAIProvider implements Provider for OpenAI (and Azure-OpenAI-
// compatible) models.
type OpenAIProvider struct {
	config *OpenAIConfig
	models []Model

	mu         sync.Mutex
	chatModels map[ThinkingLevel]model.ToolCallingChatModel
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	// ID is the provider identifier (e.g. "openai", "qwen", "ollama");
	// defaults to "openai" if empty.
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	UseAzure   bool
	APIVersion string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(ctx context.Context, config *OpenAIConfig) (*OpenAIProvider, error) {
	p := &OpenAIProvider{
		config:     config,
		models:     openAIModels(),
		chatModels: make(map[ThinkingLevel]model.ToolCallingChatModel),
	}

	base, err := p.buildChatModel(ctx, "")
	if err != nil {
		return nil, err
	}
	p.chatModels[""] = base
	return p, nil
}

// buildChatModel constructs one OpenAI chat model against the
// provider's static connection config, with reasoningEffort as its
// reasoning_effort parameter ("" omits it entirely).
func (p *OpenAIProvider) buildChatModel(ctx context.Context, reasoningEffort string) (model.ToolCallingChatModel, error) {
	config := p.config
	apiKey := config.APIKey
	if apiKey == "" {
		if config.UseAzure {
			apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
		} else {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	modelID := config.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = "gpt-4o"
	}

	cfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
	}
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	if config.UseAzure {
		cfg.ByAzure = true
		if config.APIVersion != "" {
			cfg.APIVersion = config.APIVersion
		} else {
			cfg.APIVersion = "2024-02-15-preview"
		}
	}
	if reasoningEffort != "" {
		cfg.ReasoningEffort = &reasoningEffort
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return chatModel, nil
}

// modelFor returns the chat model configured for level's
// reasoning_effort parameter, building and caching one lazily the first
// time a level is requested. The zero value reuses the model built at
// construction time (no reasoning_effort override).
func (p *OpenAIProvider) modelFor(ctx context.Context, level ThinkingLevel) (model.ToolCallingChatModel, error) {
	p.mu.Lock()
	if cm, ok := p.chatModels[level]; ok {
		p.mu.Unlock()
		return cm, nil
	}
	p.mu.Unlock()

	cm, err := p.buildChatModel(ctx, reasoningEfforts[level])
	if err != nil {
		return nil, fmt.Errorf("build reasoning-effort model: %w", err)
	}

	p.mu.Lock()
	p.chatModels[level] = cm
	p.mu.Unlock()
	return cm, nil
}

func (p *OpenAIProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "openai"
}

func (p *OpenAIProvider) Name() string    { return "OpenAI" }
func (p *OpenAIProvider) Models() []Model { return p.models }
func (p *OpenAIProvider) ChatModel() model.ToolCallingChatModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatModels[""]
}

// Stream issues a streaming completion. GPT-5/O1-family reasoning models
// require max_completion_tokens rather than max_tokens; the eino openai
// backend exposes that as a dedicated option. ThinkingLevel maps onto
// those same models' reasoning_effort parameter; "off" and the zero
// value omit it.
func (p *OpenAIProvider) Stream(ctx context.Context, req *CompletionRequest) (*Stream, error) {
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

	opts := []model.Option{openai.WithMaxCompletionTokens(req.MaxTokens)}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}

	reader, err := chatModel.Stream(ctx, convertMessages(req.Messages), opts...)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return NewStream(reader), nil
}

func openAIModels() []Model {
	return []Model{
		{ID: "gpt-5", Name: "GPT-5", ProviderID: "openai", ContextLength: 272000, MaxOutputTokens: 128000, SupportsTools: true, SupportsVision: true, SupportsReasoning: true, InputPrice: 1.25, OutputPrice: 10.0},
		{ID: "gpt-5-mini", Name: "GPT-5 Mini", ProviderID: "openai", ContextLength: 272000, MaxOutputTokens: 128000, SupportsTools: true, SupportsVision: true, SupportsReasoning: true, InputPrice: 0.25, OutputPrice: 2.0},
		{ID: "gpt-5-nano", Name: "GPT-5 Nano", ProviderID: "openai", ContextLength: 272000, MaxOutputTokens: 128000, SupportsTools: true, SupportsVision: true, InputPrice: 0.05, OutputPrice: 0.4},
		{ID: "gpt-4o", Name: "GPT-4o", ProviderID: "openai", ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true, SupportsVision: true, InputPrice: 2.5, OutputPrice: 10.0},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ProviderID: "openai", ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true, SupportsVision: true, InputPrice: 0.15, OutputPrice: 0.6},
		{ID: "o1", Name: "O1", ProviderID: "openai", ContextLength: 200000, MaxOutputTokens: 100000, SupportsTools: true, SupportsReasoning: true, InputPrice: 15.0, OutputPrice: 60.0},
		{ID: "o1-mini", Name: "O1 Mini", ProviderID: "openai", ContextLength: 128000, MaxOutputTokens: 65536, SupportsTools: true, SupportsReasoning: true, InputPrice: 1.1, OutputPrice: 4.4},
	}
}
