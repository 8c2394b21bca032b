package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
)

const askParentDescription = `Ask the parent session a question and wait for an answer.

Only available inside a sub-agent. Relays the question to the parent's
tool task, which forwards it to the client over RPC and blocks until
the user answers. Use choices to offer a fixed set of options, or omit
it for a free-text answer.`

// AskParentTool is the child half of the ask-parent protocol (§4.6): a
// sub-agent has no direct RPC access, so it relays questions through
// the Context.QuestionHandler the Sub-Agent Host installs on a child's
// tool Context.
type AskParentTool struct{}

// AskParentInput is the JSON shape of the ask_parent tool call.
type AskParentInput struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices,omitempty"`
}

// NewAskParentTool creates the ask_parent tool.
func NewAskParentTool() *AskParentTool {
	return &AskParentTool{}
}

func (t *AskParentTool) ID() string          { return "ask_parent" }
func (t *AskParentTool) Description() string { return askParentDescription }

func (t *AskParentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {
				"type": "string",
				"description": "The question to relay to the parent session's user"
			},
			"choices": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Optional fixed set of acceptable answers"
			}
		},
		"required": ["question"]
	}`)
}

func (t *AskParentTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params AskParentInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if toolCtx == nil || toolCtx.QuestionHandler == nil {
		return nil, fmt.Errorf("ask_parent is only available inside a sub-agent")
	}

	toolCtx.SetMetadata(params.Question, map[string]any{
		"question": params.Question,
		"choices":  params.Choices,
		"status":   "waiting",
	})

	answer, err := toolCtx.QuestionHandler(ctx, params.Question, params.Choices)
	if err != nil {
		return nil, fmt.Errorf("ask_parent: %w", err)
	}

	return &Result{
		Title:  "Parent answered",
		Output: answer,
		Metadata: map[string]any{
			"question": params.Question,
			"answer":   answer,
		},
	}, nil
}

func (t *AskParentTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// Meta surfaces the question ahead of execution, before the (possibly
// long) wait for the parent's reply.
func (t *AskParentTool) Meta(args json.RawMessage) map[string]any {
	var in AskParentInput
	if err := json.Unmarshal(args, &in); err != nil || in.Question == "" {
		return nil
	}
	return map[string]any{"question": in.Question}
}
