// Package session owns the daemon's conversations and runs their agent loops.
//
// # Registry
//
// Registry maps conversation ids to Conversations and chat rooms to their
// active conversation. A conversation is created by the first message sent to
// an unknown id (or to a room without an active conversation) and by
// NewConversation; only DeleteConversation removes it.
//
// Administrative operations (ListConversations, ListModels, NewConversation,
// Reset, DeleteConversation, SetModel, UseConversation, Attach, Detach) never
// wait for a running turn.
//
// # Turns
//
// SendMessage acquires the conversation's exclusivity token, appends the user
// message and starts the agent loop in its own goroutine. A second message
// while the token is held fails with types.ErrBusy. The loop moves through
//
//	idle → awaiting_model → responding → idle
//	             ↓
//	       awaiting_tool → awaiting_approval → executing_tool → awaiting_model
//	             ↓
//	       awaiting_user → awaiting_tool
//
// and releases the token on idle, cancelled or error. Cancel releases it
// immediately: the turn's context is cancelled, the conversation returns to
// idle and anything the abandoned goroutine produces afterwards is dropped.
//
// # Events
//
// Every change is broadcast while holding the conversation lock. Each event
// gets the next per-conversation sequence number and is delivered to every
// attached Sink and published on the event bus, so all observers see the
// same order. Attach delivers a history event carrying the sequence number
// it is current up to, atomically with respect to broadcasts.
//
// # Approvals
//
// Sensitive tools go through the permission.Checker. Grants remembered by an
// approval apply to the whole room, or to the conversation when it has no
// room. A denial becomes the call's tool result and the loop continues.
package session
