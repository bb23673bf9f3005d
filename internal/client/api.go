package client

import (
	"context"

	"github.com/yabot-dev/yabot/pkg/types"
)

// Target names a conversation directly or through a room's active
// conversation.
type Target struct {
	RoomID string
	ConvID string
}

func (t Target) command(typ types.CommandType) types.Command {
	return types.Command{Type: typ, RoomID: t.RoomID, ConvID: t.ConvID}
}

// Hello announces the client's identity. The reply text is the server-side
// session id.
func (c *Client) Hello(ctx context.Context) (string, error) {
	reply, err := c.Request(ctx, types.Command{Type: types.CmdHello})
	return reply.Text, err
}

// SendMessage starts a turn and returns the conversation it runs in. The
// turn's events arrive on Events.
func (c *Client) SendMessage(ctx context.Context, t Target, text string) (string, error) {
	cmd := t.command(types.CmdSendMessage)
	cmd.Text = text
	reply, err := c.Request(ctx, cmd)
	return reply.ConvID, err
}

// Approve approves a pending tool call. An empty callID selects the only
// pending call.
func (c *Client) Approve(ctx context.Context, t Target, callID string, remember bool) error {
	cmd := t.command(types.CmdApprove)
	cmd.CallID = callID
	cmd.Remember = remember
	_, err := c.Request(ctx, cmd)
	return err
}

// Deny rejects a pending tool call with optional feedback for the model.
func (c *Client) Deny(ctx context.Context, t Target, callID, feedback string) error {
	cmd := t.command(types.CmdDeny)
	cmd.CallID = callID
	cmd.Text = feedback
	_, err := c.Request(ctx, cmd)
	return err
}

// Stop cancels the active turn. It reports whether a turn was running.
func (c *Client) Stop(ctx context.Context, t Target) (bool, error) {
	reply, err := c.Request(ctx, t.command(types.CmdStop))
	return reply.Text == "stopped", err
}

// NewConversation creates a conversation, makes it the room's active one
// when roomID is set, and attaches to it.
func (c *Client) NewConversation(ctx context.Context, roomID, model string) (types.ConversationInfo, error) {
	reply, err := c.Request(ctx, types.Command{Type: types.CmdNewConversation, RoomID: roomID, Model: model})
	if err != nil {
		return types.ConversationInfo{}, err
	}
	if len(reply.Conversations) > 0 {
		return reply.Conversations[0], nil
	}
	return types.ConversationInfo{ConvID: reply.ConvID, RoomID: roomID, Model: reply.Model}, nil
}

// Reset clears a conversation's history, keeping its id.
func (c *Client) Reset(ctx context.Context, t Target) error {
	_, err := c.Request(ctx, t.command(types.CmdReset))
	return err
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, t Target) error {
	_, err := c.Request(ctx, t.command(types.CmdDeleteConversation))
	return err
}

// ListConversations lists a room's conversations, or all when roomID is
// empty.
func (c *Client) ListConversations(ctx context.Context, roomID string) ([]types.ConversationInfo, error) {
	reply, err := c.Request(ctx, types.Command{Type: types.CmdListConversations, RoomID: roomID})
	return reply.Conversations, err
}

// ListModels returns the model catalog and the default model.
func (c *Client) ListModels(ctx context.Context) ([]types.ModelInfo, string, error) {
	reply, err := c.Request(ctx, types.Command{Type: types.CmdListModels})
	return reply.Models, reply.Model, err
}

// SetModel changes the model used by a conversation's next model call.
func (c *Client) SetModel(ctx context.Context, t Target, model string) error {
	cmd := t.command(types.CmdSetModel)
	cmd.Model = model
	_, err := c.Request(ctx, cmd)
	return err
}

// UseConversation makes convID the room's active conversation.
func (c *Client) UseConversation(ctx context.Context, roomID, convID string) error {
	_, err := c.Request(ctx, types.Command{Type: types.CmdUseConversation, RoomID: roomID, ConvID: convID})
	return err
}

// Attach subscribes to a conversation. Its history arrives on Events before
// any live event.
func (c *Client) Attach(ctx context.Context, t Target) (string, error) {
	reply, err := c.Request(ctx, t.command(types.CmdAttach))
	return reply.ConvID, err
}

// Detach unsubscribes from a conversation.
func (c *Client) Detach(ctx context.Context, t Target) error {
	_, err := c.Request(ctx, t.command(types.CmdDetach))
	return err
}

// Help returns the chat command help text.
func (c *Client) Help(ctx context.Context) (string, error) {
	reply, err := c.Request(ctx, types.Command{Type: types.CmdHelp})
	return reply.Text, err
}
