// Package chat implements the session tree: a content-addressed,
// branchable store of conversation messages with durable snapshotting.
package chat

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is one entry of an assistant message's tool_calls sequence.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is the atom of conversation: a single node in the session tree.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy safe to mutate independently of msg.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// NewMessageID returns a new lexicographically-sortable message id.
func NewMessageID() string {
	return "msg_" + ulid.Make().String()
}

// TreeNode is the nested {message, children} view returned by GetTree.
type TreeNode struct {
	Message  *Message    `json:"message"`
	Children []*TreeNode `json:"children"`
}
