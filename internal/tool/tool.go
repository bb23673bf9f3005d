// Package tool provides the tool framework the agent loop dispatches to.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/pkg/types"
)

// DefaultMaxOutput bounds the text a tool hands back to the model.
const DefaultMaxOutput = 8000

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool name the model calls.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Sensitivity reports whether calls need human approval.
	Sensitivity() types.Sensitivity

	// Execute executes the tool with validated input.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Approver is implemented by sensitive tools that describe their own
// approval prompt and grant scope.
type Approver interface {
	DescribeApproval(input json.RawMessage, toolCtx *Context) Approval
}

// Approval is what a human sees before deciding on a sensitive call.
type Approval struct {
	Prompt  string
	Preview string
	Scope   permission.Scope
}

// Context provides execution context to tools.
type Context struct {
	ConvID  string
	RoomID  string
	CallID  string
	WorkDir string

	// History returns the conversation's messages so far.
	History func() []types.Message
}

// Resolve makes path absolute against the working directory.
func (c *Context) Resolve(path string) string {
	workDir := ""
	if c != nil {
		workDir = c.WorkDir
	}
	return permission.ResolvePath(path, workDir)
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BaseTool provides a base implementation for tools.
type BaseTool struct {
	id          string
	description string
	parameters  json.RawMessage
	sensitivity types.Sensitivity
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// NewBaseTool creates a new base tool.
func NewBaseTool(id, description string, params json.RawMessage, sensitivity types.Sensitivity, execute func(context.Context, json.RawMessage, *Context) (*Result, error)) *BaseTool {
	return &BaseTool{
		id:          id,
		description: description,
		parameters:  params,
		sensitivity: sensitivity,
		execute:     execute,
	}
}

func (t *BaseTool) ID() string                     { return t.id }
func (t *BaseTool) Description() string            { return t.description }
func (t *BaseTool) Parameters() json.RawMessage    { return t.parameters }
func (t *BaseTool) Sensitivity() types.Sensitivity { return t.sensitivity }

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return t.execute(ctx, input, toolCtx)
}

// ToolInfo converts a tool declaration to the eino form sent to models.
func ToolInfo(t Tool) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.ID(),
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(t.Parameters())),
	}
}

type jsonSchemaProp struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description"`
	Enum        []string                  `json:"enum"`
	Items       *jsonSchemaProp           `json:"items"`
	Properties  map[string]jsonSchemaProp `json:"properties"`
	Required    []string                  `json:"required"`
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var root jsonSchemaProp
	if err := json.Unmarshal(schemaJSON, &root); err != nil {
		return nil
	}
	return convertProperties(root.Properties, root.Required)
}

func convertProperties(props map[string]jsonSchemaProp, required []string) map[string]*schema.ParameterInfo {
	requiredSet := make(map[string]bool)
	for _, r := range required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(props))
	for name, prop := range props {
		info := convertProperty(prop)
		info.Required = requiredSet[name]
		params[name] = info
	}
	return params
}

func convertProperty(prop jsonSchemaProp) *schema.ParameterInfo {
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

	info := &schema.ParameterInfo{
		Type: paramType,
		Desc: prop.Description,
		Enum: prop.Enum,
	}
	if prop.Items != nil {
		info.ElemInfo = convertProperty(*prop.Items)
	}
	if len(prop.Properties) > 0 {
		info.SubParams = convertProperties(prop.Properties, prop.Required)
	}
	return info
}

// truncate cuts text to limit characters, marking the cut.
func truncate(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "\n...(truncated)"
}

// decode unmarshals validated arguments into v.
func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, v); err != nil {
		return types.WrapError(types.CodeInvalidArguments, err, "decode arguments")
	}
	return nil
}

// dirScope builds a directory grant scope for filesystem tools.
func dirScope(toolName, dir string) permission.Scope {
	return permission.Scope{Kind: permission.ScopeDir, Tool: toolName, Dir: filepath.Clean(dir)}
}

func dirPrompt(verb, path, dir string) string {
	return fmt.Sprintf("Approve %s `%s`? Approving with remember grants directory `%s` and its descendants.",
		verb, path, strings.TrimSuffix(dir, string(filepath.Separator)))
}
