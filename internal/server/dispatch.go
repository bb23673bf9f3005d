package server

import (
	"errors"
	"time"

	"github.com/yabot-dev/yabot/internal/command"
	"github.com/yabot-dev/yabot/internal/session"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// dispatch runs one command frame. Commands from identities outside the
// allowlist are dropped without a reply. Direct replies go through the
// client's outbox so they stay ordered with conversation events.
func (s *Server) dispatch(c *clientSession, cmd types.Command) {
	identity := cmd.Sender
	if identity == "" {
		identity = c.identity
	}
	if !s.allow.Allowed(identity) {
		s.refuse(identity, string(cmd.Type), cmd.RoomID, cmd.ConvID)
		return
	}

	reply, err := s.handle(c, identity, cmd)
	if err != nil {
		reply = errorEvent(cmd.ConvID, err)
	}
	if reply.ID == "" {
		reply.ID = cmd.ID
	}
	if reply.RoomID == "" {
		reply.RoomID = cmd.RoomID
	}
	reply.Time = time.Now()
	c.Deliver(reply)
}

func errorEvent(convID string, err error) types.Event {
	info := types.InfoOf(err)
	if convID == "" {
		var inv *session.InvariantError
		if errors.As(err, &inv) {
			convID = inv.ConvID
		}
	}
	return types.Event{Type: types.EventError, ConvID: convID, Text: info.Message, Error: info}
}

func ack(convID string) types.Event {
	return types.Event{Type: types.EventAck, ConvID: convID}
}

func target(cmd types.Command) session.Target {
	return session.Target{RoomID: cmd.RoomID, ConvID: cmd.ConvID}
}

func (s *Server) handle(c *clientSession, identity string, cmd types.Command) (types.Event, error) {
	switch cmd.Type {
	case types.CmdHello:
		if cmd.Sender != "" {
			c.identity = cmd.Sender
		}
		return types.Event{Type: types.EventAck, Text: c.id}, nil

	case types.CmdSendMessage:
		if parsed, ok := command.Parse(cmd.Text); ok {
			return s.runCommand(c, identity, cmd, parsed)
		}
		convID, err := s.registry.SendMessage(session.MessageRequest{
			Target: target(cmd),
			Sender: identity,
			Text:   cmd.Text,
			Sink:   c,
		})
		if err != nil {
			return errorEvent(convID, err), nil
		}
		return ack(convID), nil

	case types.CmdApprove:
		if err := s.registry.Approve(target(cmd), cmd.CallID, identity, cmd.Remember); err != nil {
			return types.Event{}, err
		}
		return ack(cmd.ConvID), nil

	case types.CmdDeny:
		if err := s.registry.Deny(target(cmd), cmd.CallID, identity, cmd.Text); err != nil {
			return types.Event{}, err
		}
		return ack(cmd.ConvID), nil

	case types.CmdStop:
		convID, err := s.registry.Resolve(target(cmd))
		if errors.Is(err, types.ErrNotFound) {
			return types.Event{Type: types.EventAck, Text: "not running"}, nil
		}
		if err != nil {
			return types.Event{}, err
		}
		stopped, err := s.registry.Cancel(convID, identity)
		if err != nil {
			return types.Event{}, err
		}
		reply := ack(convID)
		reply.Text = "not running"
		if stopped {
			reply.Text = "stopped"
		}
		return reply, nil

	case types.CmdNewConversation:
		info, err := s.registry.NewConversation(cmd.RoomID, cmd.Model, identity)
		if err != nil {
			return types.Event{}, err
		}
		if err := s.registry.Attach(info.ConvID, c); err != nil {
			return types.Event{}, err
		}
		return types.Event{
			Type:          types.EventConversationCreated,
			ConvID:        info.ConvID,
			Model:         info.Model,
			Conversations: []types.ConversationInfo{info},
		}, nil

	case types.CmdReset:
		return s.onConversation(cmd, func(convID string) error {
			return s.registry.Reset(convID, identity)
		})

	case types.CmdDeleteConversation:
		return s.onConversation(cmd, func(convID string) error {
			return s.registry.DeleteConversation(convID, identity)
		})

	case types.CmdSetModel:
		if cmd.Model == "" {
			return types.Event{}, types.NewError(types.CodeBadRequest, "set_model needs a model")
		}
		reply, err := s.onConversation(cmd, func(convID string) error {
			return s.registry.SetModel(convID, cmd.Model, identity)
		})
		reply.Model = cmd.Model
		return reply, err

	case types.CmdUseConversation:
		if cmd.RoomID == "" || cmd.ConvID == "" {
			return types.Event{}, types.NewError(types.CodeBadRequest, "use_conversation needs room_id and conv_id")
		}
		if err := s.registry.UseConversation(cmd.RoomID, cmd.ConvID); err != nil {
			return types.Event{}, err
		}
		return ack(cmd.ConvID), nil

	case types.CmdAttach:
		return s.onConversation(cmd, func(convID string) error {
			return s.registry.Attach(convID, c)
		})

	case types.CmdDetach:
		return s.onConversation(cmd, func(convID string) error {
			return s.registry.Detach(convID, c.id)
		})

	case types.CmdListConversations:
		return types.Event{
			Type:          types.EventConversationList,
			Conversations: s.registry.ListConversations(cmd.RoomID),
		}, nil

	case types.CmdListModels:
		return types.Event{
			Type:   types.EventModelList,
			Model:  s.registry.DefaultModel(),
			Models: s.registry.ListModels(),
		}, nil

	case types.CmdHelp:
		return types.Event{Type: types.EventHelp, Text: command.HelpText()}, nil
	}
	return types.Event{}, types.NewError(types.CodeBadRequest, "unknown command type %q", cmd.Type)
}

// onConversation resolves the command's target and runs fn on it.
func (s *Server) onConversation(cmd types.Command, fn func(convID string) error) (types.Event, error) {
	convID, err := s.registry.Resolve(target(cmd))
	if err != nil {
		return types.Event{}, err
	}
	if err := fn(convID); err != nil {
		return errorEvent(convID, err), nil
	}
	return ack(convID), nil
}

// runCommand executes a "!command" typed as message text. It never reaches
// the agent loop.
func (s *Server) runCommand(c *clientSession, identity string, cmd types.Command, parsed command.Command) (types.Event, error) {
	if err := s.tracer.Record(trace.EventCommand, trace.Context{RoomID: cmd.RoomID, ConvID: cmd.ConvID}, map[string]any{
		"sender":  identity,
		"command": parsed.Name,
		"arg":     parsed.Arg,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to write trace record")
	}

	res, err := s.commands.Execute(c.ctx, command.Scope{RoomID: cmd.RoomID, ConvID: cmd.ConvID, Sender: identity}, parsed)
	if err != nil {
		return types.Event{}, err
	}
	if res.Type == types.EventConversationCreated && res.ConvID != "" {
		if err := s.registry.Attach(res.ConvID, c); err != nil {
			return types.Event{}, err
		}
	}
	return types.Event{
		Type:          res.Type,
		ConvID:        res.ConvID,
		Text:          res.Text,
		Models:        res.Models,
		Conversations: res.Conversations,
	}, nil
}
