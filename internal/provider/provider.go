// Package provider defines the Provider trait: a uniform streaming
// contract over heterogeneous LLM wire formats, backed by eino chat
// models. Callers never see the wire format directly — Stream yields a
// normalized event sequence regardless of backend.
package provider

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ThinkingLevel is the enumerated reasoning effort passed to the model.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// Model describes one model a Provider can serve.
type Model struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	ProviderID        string  `json:"provider_id"`
	ContextLength     int     `json:"context_length"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	SupportsTools     bool    `json:"supports_tools"`
	SupportsVision    bool    `json:"supports_vision"`
	SupportsReasoning bool    `json:"supports_reasoning"`
	InputPrice        float64 `json:"input_price"`
	OutputPrice       float64 `json:"output_price"`
}

// ToolSpec is a tool definition as presented to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest is the normalized request every Provider accepts.
type CompletionRequest struct {
	Model         string
	Messages      []Message
	Tools         []ToolSpec
	MaxTokens     int
	Temperature   float64
	TopP          float64
	StopWords     []string
	ThinkingLevel ThinkingLevel
}

// Message is the wire-agnostic conversation entry a Provider converts to
// its backend's schema.
type Message struct {
	Role      string
	Content   string
	Thinking  string
	ToolCalls []ToolCallIn

	// ToolCallID/Name identify which call a tool_result message answers.
	ToolCallID string
	Name       string
}

// ToolCallIn is an assistant-issued call being replayed back to the model
// as history (as opposed to ToolCallStart/Delta/Done, which describe a
// call as it streams out of the model).
type ToolCallIn struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// Provider is the uniform contract over an LLM backend.
type Provider interface {
	ID() string
	Name() string
	Models() []Model
	ChatModel() model.ToolCallingChatModel
	Stream(ctx context.Context, req *CompletionRequest) (*Stream, error)
}

// convertTools yields the canonical OpenAI-style function-calling shape,
// the default tool-conversion every backend shares unless it overrides
// wire conversion.
func convertTools(tools []ToolSpec) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		params := parseJSONSchemaToParams(t.Parameters)
		out[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return out
}

func parseJSONSchemaToParams(raw json.RawMessage) map[string]*schema.ParameterInfo {
	if len(raw) == 0 {
		return nil
	}
	var js struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil
	}

	required := make(map[string]bool, len(js.Required))
	for _, r := range js.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(js.Properties))
	for name, prop := range js.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: required[name],
		}
	}
	return params
}

func convertMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		role := schema.Assistant
		switch m.Role {
		case "user":
			role = schema.User
		case "system":
			role = schema.System
		case "tool_result":
			role = schema.Tool
		}

		em := &schema.Message{Role: role, Content: m.Content}
		if m.Role == "tool_result" {
			em.ToolCallID = m.ToolCallID
			em.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			em.ToolCalls = append(em.ToolCalls, schema.ToolCall{
				ID: tc.CallID,
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, em)
	}
	return out
}
