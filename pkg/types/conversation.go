// Package types provides the core data types shared by the yabot daemon and its clients.
package types

import "time"

// LoopState is the state of a conversation's agent loop.
type LoopState string

const (
	StateIdle             LoopState = "idle"
	StateAwaitingModel    LoopState = "awaiting_model"
	StateResponding       LoopState = "responding"
	StateAwaitingTool     LoopState = "awaiting_tool"
	StateAwaitingApproval LoopState = "awaiting_approval"
	StateAwaitingUser     LoopState = "awaiting_user"
	StateExecutingTool    LoopState = "executing_tool"
	StateCancelled        LoopState = "cancelled"
	StateError            LoopState = "error"
	StateBroken           LoopState = "broken"
)

// Active reports whether a loop in this state holds the exclusivity token.
func (s LoopState) Active() bool {
	switch s {
	case StateIdle, StateCancelled, StateError, StateBroken, "":
		return false
	}
	return true
}

// ConversationInfo is the summary of a conversation shown in listings.
type ConversationInfo struct {
	ConvID    string    `json:"conv_id"`
	RoomID    string    `json:"room_id,omitempty"`
	Model     string    `json:"model"`
	Messages  int       `json:"messages"`
	State     LoopState `json:"state"`
	Active    bool      `json:"active,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSnapshot is the persisted form of a conversation.
type ConversationSnapshot struct {
	ConvID    string    `json:"conv_id"`
	RoomID    string    `json:"room_id,omitempty"`
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Grants    *GrantSet `json:"grants,omitempty"`
}

// RoomState maps a chat room to its conversations.
type RoomState struct {
	RoomID        string    `json:"room_id"`
	Active        string    `json:"active"`
	Conversations []string  `json:"conversations"`
	Grants        GrantSet  `json:"grants"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GrantSet holds remembered approvals.
type GrantSet struct {
	Shell []string `json:"shell,omitempty"`
	Dirs  []string `json:"dirs,omitempty"`
	Tools []string `json:"tools,omitempty"`
}

// ModelInfo describes one entry of the model catalog.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider"`
	ContextLength int    `json:"context_length,omitempty"`
	Default       bool   `json:"default,omitempty"`
}
