package runtime

import (
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/provider"
)

// toProviderMessages renders a session path into the wire-agnostic
// message slice a Provider accepts, with systemPrompt prepended as the
// first (and only) system message.
func toProviderMessages(systemPrompt string, path []*chat.Message) []provider.Message {
	out := make([]provider.Message, 0, len(path)+1)
	out = append(out, provider.Message{Role: "system", Content: systemPrompt})

	for _, m := range path {
		switch m.Role {
		case chat.RoleUser:
			out = append(out, provider.Message{Role: "user", Content: m.Content})
		case chat.RoleSystem:
			out = append(out, provider.Message{Role: "system", Content: m.Content})
		case chat.RoleAssistant:
			pm := provider.Message{Role: "assistant", Content: m.Content, Thinking: m.Thinking}
			for _, tc := range m.ToolCalls {
				pm.ToolCalls = append(pm.ToolCalls, provider.ToolCallIn{
					CallID:    tc.CallID,
					Name:      tc.Name,
					Arguments: tc.Arguments,
				})
			}
			out = append(out, pm)
		case chat.RoleToolResult:
			out = append(out, provider.Message{
				Role:       "tool_result",
				Content:    m.Content,
				ToolCallID: m.CallID,
				Name:       m.Name,
			})
		}
	}
	return out
}
