// Package server implements the client protocol server of the yabot daemon.
//
// Chat front-ends (the terminal client, chat-network bridges) connect to a
// websocket at /ws and exchange JSON frames. Observers use read-only REST
// endpoints and an SSE stream.
//
// # Endpoints
//
//   - GET /ws: websocket protocol endpoint
//   - GET /health: liveness, connected clients, conversation count
//   - GET /models: model catalog and default model
//   - GET /conversations[?room_id=]: conversation summaries
//   - GET /conversations/{convID}: one conversation with its messages
//   - GET /events[?conv_id=]: SSE stream of conversation events
//
// REST and SSE requests carry the caller identity in the X-Yabot-Identity
// header (or the identity query parameter for EventSource clients).
//
// # Frames
//
// A command frame names its type and, for conversation commands, a room_id
// or conv_id:
//
//	{"type":"send_message","id":"1","sender":"@alice:example.org","room_id":"!room","text":"hi"}
//
// Every command gets exactly one direct reply whose id echoes the command
// id: ack, error, or a typed result such as conversation_list. Conversation
// events (message, state, approval_required, tool_result, response, ...)
// arrive on every session attached to the conversation, numbered by a
// per-conversation seq. send_message attaches the sending session
// implicitly; attach replays the history before any live event.
//
// Text of the form "!name [arg]" sent with send_message is a chat command
// (see package command) and never reaches the agent loop.
//
// # Allowlist
//
// When allowed users are configured, frames whose sender (or the identity
// given by hello or the connection header) is not listed are dropped without
// a reply, logged at warn level and traced as not_allowed. REST requests get
// 403 with the error envelope instead.
//
// # Delivery
//
// Each websocket session owns an unbounded outbox drained by a single writer
// goroutine, so broadcasting under a conversation lock never blocks on the
// network and no event is lost to a slow client.
package server
