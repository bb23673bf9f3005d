package types

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolStatus is the terminal state of a tool call request.
type ToolStatus string

const (
	ToolExecuted ToolStatus = "executed"
	ToolDenied   ToolStatus = "denied"
	ToolFailed   ToolStatus = "failed"
)

// Message is one immutable entry of a conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`

	// Assistant messages that request tools carry the calls.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Tool messages reference the call they answer.
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Status     ToolStatus `json:"status,omitempty"`
}

// HasToolCalls reports whether the message is an assistant tool-call request.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolCall is a structured request from the model to invoke a named tool.
// Arguments holds the raw JSON exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Sensitivity classifies whether a tool may run without human approval.
type Sensitivity string

const (
	Safe      Sensitivity = "safe"
	Sensitive Sensitivity = "sensitive"
)

// ParseSensitivity converts a configuration string to a Sensitivity.
func ParseSensitivity(s string) (Sensitivity, bool) {
	switch Sensitivity(s) {
	case Safe, Sensitive:
		return Sensitivity(s), true
	}
	return "", false
}

// ToolCallRequest is a tool call bound to the conversation that produced it.
type ToolCallRequest struct {
	Call        ToolCall        `json:"call"`
	Input       json.RawMessage `json:"input,omitempty"`
	ConvID      string          `json:"conv_id"`
	RoomID      string          `json:"room_id,omitempty"`
	Sensitivity Sensitivity     `json:"sensitivity"`
}

// Decision is the outcome of an approval.
type Decision string

const (
	Approve Decision = "approve"
	Deny    Decision = "deny"
)

// Approval records the human decision for a sensitive tool call.
type Approval struct {
	CallID    string    `json:"call_id"`
	Decision  Decision  `json:"decision"`
	Actor     string    `json:"actor"`
	Feedback  string    `json:"feedback,omitempty"`
	Remember  bool      `json:"remember,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Approved reports whether the decision allows execution.
func (a Approval) Approved() bool {
	return a.Decision == Approve
}

// Question is a clarification the model asked through ask_user. The turn
// stays suspended until the next message to the conversation answers it.
type Question struct {
	CallID    string    `json:"call_id"`
	ConvID    string    `json:"conv_id"`
	RoomID    string    `json:"room_id,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingApproval describes a tool call suspended until a decision arrives.
type PendingApproval struct {
	CallID      string      `json:"call_id"`
	ConvID      string      `json:"conv_id"`
	RoomID      string      `json:"room_id,omitempty"`
	Tool        string      `json:"tool"`
	Arguments   string      `json:"arguments"`
	Prompt      string      `json:"prompt"`
	Preview     string      `json:"preview,omitempty"`
	Patterns    []string    `json:"patterns,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity"`
	CreatedAt   time.Time   `json:"created_at"`
}
