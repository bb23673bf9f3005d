package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/yabot-dev/yabot/internal/client"
	"github.com/yabot-dev/yabot/internal/headless"
	"github.com/yabot-dev/yabot/pkg/types"
)

var (
	chatRoom    string
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the daemon interactively",
	Long: `Open an interactive chat in a room on the running daemon.

Lines are sent as messages; chat commands such as !new, !list and !model
are handled by the daemon. Local commands:
  /approve [always] [call-id]   approve a pending tool call
  /deny [feedback]              deny the latest pending tool call
  /stop                         stop the running turn
  /quit                         leave the chat`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatRoom, "room", "r", headless.DefaultRoom, "Room to chat in")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Show state changes and full tool output")
}

// chatSession tracks what the local commands act on.
type chatSession struct {
	c       *client.Client
	printer *headless.Printer
	room    string

	mu      sync.Mutex
	pending []types.PendingApproval
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := connect(ctx, true)
	if err != nil {
		return err
	}
	defer c.Close()

	s := &chatSession{
		c:       c,
		printer: headless.NewPrinter(cmd.OutOrStdout(), headless.OutputText, false, chatVerbose, noColor),
		room:    chatRoom,
	}
	s.printer.Notice("connected to %s as %s, room %s (/quit to leave, !help for commands)",
		resolveURL(), resolveIdentity(), s.room)

	if _, err := c.Attach(ctx, client.Target{RoomID: s.room}); err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}

	go s.pump()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := s.handleLine(ctx, line)
		if err != nil {
			s.printer.HandleEvent(types.Event{Type: types.EventError, Error: types.InfoOf(err)})
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// pump renders events and remembers pending approvals.
func (s *chatSession) pump() {
	for ev := range s.c.Events() {
		switch ev.Type {
		case types.EventApprovalRequired:
			if ev.Approval != nil {
				s.mu.Lock()
				s.pending = append(s.pending, *ev.Approval)
				s.mu.Unlock()
			}
		case types.EventApprovalResolved:
			if ev.Decision != nil {
				s.resolved(ev.Decision.CallID)
			}
		case types.EventCancelled, types.EventConversationReset, types.EventConversationDeleted:
			s.mu.Lock()
			kept := s.pending[:0]
			for _, p := range s.pending {
				if p.ConvID != ev.ConvID {
					kept = append(kept, p)
				}
			}
			s.pending = kept
			s.mu.Unlock()
		}
		s.printer.HandleEvent(ev)
	}
}

func (s *chatSession) resolved(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p.CallID == callID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// find returns the pending approval with callID, or the latest one.
func (s *chatSession) find(callID string) (types.PendingApproval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if callID == "" {
		if len(s.pending) == 0 {
			return types.PendingApproval{}, false
		}
		return s.pending[len(s.pending)-1], true
	}
	for _, p := range s.pending {
		if p.CallID == callID {
			return p, true
		}
	}
	return types.PendingApproval{}, false
}

func (s *chatSession) handleLine(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, s.send(ctx, line)
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "exit", "q":
		return true, nil

	case "approve", "a":
		remember := false
		if word, tail, _ := strings.Cut(rest, " "); word == "always" {
			remember = true
			rest = strings.TrimSpace(tail)
		}
		p, ok := s.find(rest)
		if !ok {
			return false, fmt.Errorf("no pending approval")
		}
		return false, s.c.Approve(ctx, client.Target{ConvID: p.ConvID}, p.CallID, remember)

	case "deny", "d":
		p, ok := s.find("")
		if !ok {
			return false, fmt.Errorf("no pending approval")
		}
		return false, s.c.Deny(ctx, client.Target{ConvID: p.ConvID}, p.CallID, rest)

	case "stop":
		stopped, err := s.c.Stop(ctx, client.Target{RoomID: s.room})
		if err == nil && !stopped {
			s.printer.Notice("nothing is running")
		}
		return false, err

	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
}

// send delivers a message or chat command and renders a typed reply.
func (s *chatSession) send(ctx context.Context, text string) error {
	reply, err := s.c.Request(ctx, types.Command{
		Type:   types.CmdSendMessage,
		RoomID: s.room,
		Text:   text,
	})
	if err != nil {
		return err
	}
	if reply.Type != types.EventAck {
		s.printer.HandleEvent(reply)
	}
	return nil
}
