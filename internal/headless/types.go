package headless

import (
	"time"

	"github.com/yabot-dev/yabot/pkg/types"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --format value.
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON, OutputJSONL:
		return OutputFormat(s), true
	case "":
		return OutputText, true
	}
	return "", false
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	// ExitSuccess indicates successful completion.
	ExitSuccess ExitCode = 0
	// ExitError indicates a general/unknown error.
	ExitError ExitCode = 1
	// ExitTimeout indicates timeout exceeded.
	ExitTimeout ExitCode = 2
	// ExitPermissionDenied indicates a tool call was denied.
	ExitPermissionDenied ExitCode = 3
	// ExitProviderError indicates the model backend was unavailable.
	ExitProviderError ExitCode = 4
	// ExitInvalidInput indicates bad prompt or missing required flags.
	ExitInvalidInput ExitCode = 5
	// ExitNotFound indicates the target conversation does not exist.
	ExitNotFound ExitCode = 6
	// ExitCancelled indicates the turn was stopped by another client.
	ExitCancelled ExitCode = 7
)

// Config holds configuration for a one-shot turn.
type Config struct {
	// Prompt is the message to send.
	Prompt string
	// ReadStdin reads the prompt from stdin when Prompt is empty.
	ReadStdin bool
	// RoomID targets the room's active conversation.
	RoomID string
	// ConvID targets a conversation directly.
	ConvID string
	// New starts a fresh conversation in RoomID.
	New bool
	// Model selects the model for the conversation before sending.
	Model string
	// AutoApprove approves every sensitive tool call. Otherwise sensitive
	// calls are denied.
	AutoApprove bool
	// OutputFormat specifies the output format (text, json, jsonl).
	OutputFormat OutputFormat
	// Timeout is the maximum execution time.
	Timeout time.Duration
	// Quiet suppresses progress output, only shows the response.
	Quiet bool
	// Verbose shows all events.
	Verbose bool
	// NoColor disables colored text output.
	NoColor bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
		Timeout:      30 * time.Minute,
	}
}

// ToolCall represents a tool call in the result.
type ToolCall struct {
	CallID    string           `json:"call_id"`
	Tool      string           `json:"tool"`
	Arguments string           `json:"arguments,omitempty"`
	Output    string           `json:"output,omitempty"`
	Status    types.ToolStatus `json:"status,omitempty"`
	Approval  *types.Approval  `json:"approval,omitempty"`
}

// Result holds the final result of a headless turn.
type Result struct {
	ConvID       string     `json:"conv_id"`
	RoomID       string     `json:"room_id,omitempty"`
	Status       string     `json:"status"` // "success", "error", "timeout", "cancelled", "permission_denied"
	Model        string     `json:"model,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	Steps        int        `json:"steps"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinalMessage string     `json:"final_message,omitempty"`
	Error        string     `json:"error,omitempty"`
	ExitCode     ExitCode   `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
