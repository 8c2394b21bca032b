package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	mcpsdk "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/opencode-ai/opal/internal/tool"
)

// bridgeTool adapts one tool discovered on an MCP server into this
// module's own tool.Tool interface. Its id is the server name and the
// server's own tool name joined with an underscore, sanitized so two
// servers can never register colliding ids.
type bridgeTool struct {
	id           string
	serverName   string
	originalName string
	description  string
	schema       json.RawMessage
	client       *mcpsdk.Client
	timeout      time.Duration
}

func newBridgeTool(serverName string, t mcpgo.Tool, client *mcpsdk.Client, timeout time.Duration) *bridgeTool {
	schema, err := json.Marshal(t.InputSchema)
	if err != nil || len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return &bridgeTool{
		id:           sanitize(serverName) + "_" + sanitize(t.Name),
		serverName:   serverName,
		originalName: t.Name,
		description:  t.Description,
		schema:       schema,
		client:       client,
		timeout:      timeout,
	}
}

func (b *bridgeTool) ID() string                  { return b.id }
func (b *bridgeTool) Description() string         { return b.description }
func (b *bridgeTool) Parameters() json.RawMessage { return b.schema }

func (b *bridgeTool) Meta(args json.RawMessage) map[string]any {
	return map[string]any{"mcp_server": b.serverName, "mcp_tool": b.originalName}
}

func (b *bridgeTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.originalName
	req.Params.Arguments = args

	resp, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp tool call failed: %w", err)
	}

	output := renderContent(resp.Content)
	if resp.IsError {
		return &tool.Result{Title: b.originalName, Output: output, Error: fmt.Errorf("%s", output)}, nil
	}
	return &tool.Result{Title: b.originalName, Output: output}, nil
}

func (b *bridgeTool) EinoTool() einotool.InvokableTool {
	return &bridgeEinoTool{tool: b}
}

// renderContent joins an MCP tool result's text parts; non-text content
// (images, embedded resources) is not surfaced to the model yet.
func renderContent(content []mcpgo.Content) string {
	var out string
	for _, c := range content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}

// bridgeEinoTool adapts a bridgeTool to eino's InvokableTool, the same
// way internal/tool's own einoToolWrapper adapts its native Tool
// implementations; duplicated here rather than exported from
// internal/tool since that type is deliberately unexported there.
type bridgeEinoTool struct {
	tool *bridgeTool
}

func (w *bridgeEinoTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := schemaParams(w.tool.schema)
	return &schema.ToolInfo{
		Name:        w.tool.ID(),
		Desc:        w.tool.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (w *bridgeEinoTool) InvokableRun(ctx context.Context, argsJSON string, opts ...einotool.Option) (string, error) {
	result, err := w.tool.Execute(ctx, json.RawMessage(argsJSON), &tool.Context{})
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// schemaParams converts a JSON Schema object into eino's flat parameter
// map, matching internal/tool's own parseJSONSchemaToParams.
func schemaParams(raw json.RawMessage) map[string]*schema.ParameterInfo {
	var parsed struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, r := range parsed.Required {
		required[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(parsed.Properties))
	for name, prop := range parsed.Properties {
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
		params[name] = &schema.ParameterInfo{Type: paramType, Desc: prop.Description, Required: required[name]}
	}
	return params
}
