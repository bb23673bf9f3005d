package provider

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// Provider represents an LLM provider with Eino ChatModel.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the models this provider is known to serve.
	Models() []types.ModelInfo

	// ChatModel returns the Eino ChatModel for this provider.
	ChatModel() model.ToolCallingChatModel
}

// Request is one model call.
type Request struct {
	Model   string
	System  string
	History []types.Message
	Tools   []*schema.ToolInfo

	// Trace identifies the turn for retry records.
	Trace trace.Context
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Reply is either a final message (Content) or a set of tool calls.
type Reply struct {
	Content      string
	ToolCalls    []types.ToolCall
	FinishReason string
	Usage        Usage
}

// HasToolCalls reports whether the model asked for tools.
func (r Reply) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Backend is the model call used by the agent loop.
type Backend interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (Reply, error)

// Send calls f.
func (f BackendFunc) Send(ctx context.Context, req Request) (Reply, error) { return f(ctx, req) }

// ToEinoMessages converts history to Eino messages, prepending the system
// prompt when set.
func ToEinoMessages(system string, history []types.Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(history)+1)
	if system != "" {
		result = append(result, schema.SystemMessage(system))
	}

	for _, msg := range history {
		switch msg.Role {
		case types.RoleUser:
			result = append(result, schema.UserMessage(msg.Content))
		case types.RoleTool:
			result = append(result, &schema.Message{
				Role:       schema.Tool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.ToolName,
			})
		default:
			einoMsg := &schema.Message{Role: schema.Assistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				einoMsg.ToolCalls = append(einoMsg.ToolCalls, schema.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, einoMsg)
		}
	}
	return result
}

// FromEinoMessage converts a model output message to a Reply. Tool calls
// without an id get a generated one so results can reference them.
func FromEinoMessage(msg *schema.Message) Reply {
	if msg == nil {
		return Reply{}
	}
	reply := Reply{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + ulid.Make().String()
		}
		reply.ToolCalls = append(reply.ToolCalls, types.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if meta := msg.ResponseMeta; meta != nil {
		reply.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			reply.Usage = Usage{
				PromptTokens:     meta.Usage.PromptTokens,
				CompletionTokens: meta.Usage.CompletionTokens,
			}
		}
	}
	return reply
}
