package types

import "time"

// CommandType names a client-to-daemon command.
type CommandType string

const (
	CmdHello              CommandType = "hello"
	CmdSendMessage        CommandType = "send_message"
	CmdApprove            CommandType = "approve"
	CmdDeny               CommandType = "deny"
	CmdStop               CommandType = "stop"
	CmdNewConversation    CommandType = "new_conversation"
	CmdReset              CommandType = "reset"
	CmdDeleteConversation CommandType = "delete_conversation"
	CmdListConversations  CommandType = "list_conversations"
	CmdListModels         CommandType = "list_models"
	CmdSetModel           CommandType = "set_model"
	CmdUseConversation    CommandType = "use_conversation"
	CmdAttach             CommandType = "attach"
	CmdDetach             CommandType = "detach"
	CmdHelp               CommandType = "help"
)

// Command is one frame sent by a client.
type Command struct {
	Type     CommandType `json:"type"`
	ID       string      `json:"id,omitempty"`
	Sender   string      `json:"sender,omitempty"`
	RoomID   string      `json:"room_id,omitempty"`
	ConvID   string      `json:"conv_id,omitempty"`
	Text     string      `json:"text,omitempty"`
	CallID   string      `json:"call_id,omitempty"`
	Model    string      `json:"model,omitempty"`
	Remember bool        `json:"remember,omitempty"`
}

// EventType names a daemon-to-client event.
type EventType string

const (
	EventAck                 EventType = "ack"
	EventError               EventType = "error"
	EventHistory             EventType = "history"
	EventMessage             EventType = "message"
	EventState               EventType = "state"
	EventApprovalRequired    EventType = "approval_required"
	EventApprovalResolved    EventType = "approval_resolved"
	EventQuestion            EventType = "question"
	EventToolResult          EventType = "tool_result"
	EventResponse            EventType = "response"
	EventTurnError           EventType = "turn_error"
	EventCancelled           EventType = "cancelled"
	EventConversationList    EventType = "conversation_list"
	EventModelList           EventType = "model_list"
	EventConversationCreated EventType = "conversation_created"
	EventConversationReset   EventType = "conversation_reset"
	EventConversationDeleted EventType = "conversation_deleted"
	EventModelChanged        EventType = "model_changed"
	EventHelp                EventType = "help"
)

// Event is one frame sent by the daemon. ID echoes the command id on direct
// replies; Seq numbers conversation events so that every attached client
// observes the same order.
type Event struct {
	Type   EventType `json:"type"`
	ID     string    `json:"id,omitempty"`
	RoomID string    `json:"room_id,omitempty"`
	ConvID string    `json:"conv_id,omitempty"`
	Seq    uint64    `json:"seq,omitempty"`
	Time   time.Time `json:"ts"`

	Text          string             `json:"text,omitempty"`
	State         LoopState          `json:"state,omitempty"`
	Model         string             `json:"model,omitempty"`
	Message       *Message           `json:"message,omitempty"`
	Messages      []Message          `json:"messages,omitempty"`
	Approval      *PendingApproval   `json:"approval,omitempty"`
	Decision      *Approval          `json:"decision,omitempty"`
	Pending       []PendingApproval  `json:"pending,omitempty"`
	Question      *Question          `json:"question,omitempty"`
	Conversations []ConversationInfo `json:"conversations,omitempty"`
	Models        []ModelInfo        `json:"models,omitempty"`
	Error         *ErrorInfo         `json:"error,omitempty"`
}

// ErrorInfo is the wire form of an Error.
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// IsConversationEvent reports whether the event belongs to a conversation's
// ordered stream rather than being a direct reply.
func (e Event) IsConversationEvent() bool {
	return e.ConvID != "" && e.Seq > 0
}
