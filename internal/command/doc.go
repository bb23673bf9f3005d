/*
Package command implements the chat commands shared by every front-end.

Chat front-ends forward user text verbatim. Text starting with "!" followed
by a word is a command and is executed against the session registry instead
of being sent to the agent loop:

	!help            show the command list
	!models          list available models
	!model <name>    set the model of the active conversation
	!new             start a new conversation and make it active
	!list            list the room's conversations
	!use <id>        switch the active conversation
	!reset           clear the active conversation's memory
	!stop            stop the current response

Commands resolve "the active conversation" from the conversation the client
names, falling back to the room's active conversation. Unknown commands
reply with the help text and, for near misses, a suggestion.
*/
package command
