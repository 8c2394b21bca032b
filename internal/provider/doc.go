// Package provider implements the Provider trait: a uniform streaming
// contract over heterogeneous LLM backends, built on the Eino framework
// (https://github.com/cloudwego/eino).
//
// # Core Components
//
//   - Provider: the interface every backend implements (ID, Name, Models,
//     Stream)
//   - Registry: resolves "provider/model" references and constructs
//     providers from configuration
//   - Stream: folds an Eino stream reader into the normalized event
//     sequence the Agent Runtime consumes (text/thinking/tool_call/usage/
//     response_done)
//
// # Supported Backends
//
// ## Anthropic (Claude)
//
// Direct API access or AWS Bedrock, extended thinking, vision, and tool
// calling:
//
//	p, err := NewAnthropicProvider(ctx, &AnthropicConfig{
//	    ID:        "anthropic",
//	    APIKey:    "sk-ant-...",
//	    Model:     "claude-sonnet-4-20250514",
//	    MaxTokens: 8192,
//	})
//
// ## OpenAI (and OpenAI-compatible)
//
// Native OpenAI API, Azure OpenAI, or any self-hosted OpenAI-compatible
// endpoint reachable via BaseURL:
//
//	p, err := NewOpenAIProvider(ctx, &OpenAIConfig{
//	    ID:        "openai",
//	    APIKey:    "sk-...",
//	    Model:     "gpt-5",
//	    MaxTokens: 4096,
//	})
//
// # Registry Usage
//
//	registry, err := InitializeProviders(ctx, cfg)
//	p, err := registry.Get("anthropic")
//	m, err := registry.GetModel("anthropic", "claude-sonnet-4-20250514")
//	m, err := registry.DefaultModel()
//	models := registry.AllModels()
//
// # Streaming
//
//	stream, err := p.Stream(ctx, &CompletionRequest{
//	    Model:     "claude-sonnet-4-20250514",
//	    Messages:  messages,
//	    Tools:     tools,
//	    MaxTokens: 4096,
//	})
//	for {
//	    event, ok, err := stream.Next()
//	    if err != nil || !ok {
//	        break
//	    }
//	    // fold event into the Agent Runtime's state machine
//	}
//	stream.Close()
package provider
