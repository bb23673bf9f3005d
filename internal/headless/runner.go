package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yabot-dev/yabot/internal/client"
	"github.com/yabot-dev/yabot/pkg/types"
)

// DefaultRoom is the room used when neither a room nor a conversation is
// given.
const DefaultRoom = "cli"

const deniedFeedback = "Sensitive tools are not approved in headless mode. Rerun with --yes to approve them."

// unattendedAnswer answers ask_user when nobody is there to reply.
const unattendedAnswer = "The user is not available to answer. Proceed with your best judgement and state any assumptions."

// Client is the subset of the daemon client a Runner needs.
type Client interface {
	Events() <-chan types.Event
	SendMessage(ctx context.Context, t client.Target, text string) (string, error)
	NewConversation(ctx context.Context, roomID, model string) (types.ConversationInfo, error)
	SetModel(ctx context.Context, t client.Target, model string) error
	Approve(ctx context.Context, t client.Target, callID string, remember bool) error
	Deny(ctx context.Context, t client.Target, callID, feedback string) error
	Stop(ctx context.Context, t client.Target) (bool, error)
}

// Runner sends one message to the daemon and follows the turn to its end.
type Runner struct {
	config  *Config
	client  Client
	printer *Printer
}

// NewRunner creates a new headless runner.
func NewRunner(cfg *Config, c Client) *Runner {
	return &Runner{config: cfg, client: c}
}

// Run executes the turn and returns the result. The returned error is set
// whenever the result's exit code is not ExitSuccess.
func (r *Runner) Run(ctx context.Context, stdin io.Reader, writer io.Writer) (*Result, error) {
	r.printer = NewPrinter(writer, r.config.OutputFormat, r.config.Quiet, r.config.Verbose, r.config.NoColor)
	defer r.printer.PrintFinalResult()

	prompt, err := r.getPrompt(stdin)
	if err != nil {
		return r.fail("error", ExitInvalidInput, err)
	}
	if prompt == "" {
		return r.fail("error", ExitInvalidInput, errors.New("prompt is required"))
	}

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	target, err := r.resolveTarget(runCtx)
	if err != nil {
		return r.fail("error", exitCodeFor(err), err)
	}
	if r.config.Model != "" {
		r.printer.SetModel(r.config.Model)
	}

	convID, err := r.client.SendMessage(runCtx, target, prompt)
	r.printer.SetConversation(convID, target.RoomID)
	if err != nil {
		return r.fail("error", exitCodeFor(err), err)
	}
	return r.follow(runCtx, convID)
}

// resolveTarget picks the conversation the message goes to, creating one
// when asked to or when a model is requested for a room without one.
func (r *Runner) resolveTarget(ctx context.Context) (client.Target, error) {
	target := client.Target{RoomID: r.config.RoomID, ConvID: r.config.ConvID}
	if target.RoomID == "" && target.ConvID == "" {
		target.RoomID = DefaultRoom
	}

	create := r.config.New && target.ConvID == ""
	if !create && r.config.Model != "" {
		err := r.client.SetModel(ctx, target, r.config.Model)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrNotFound) && target.ConvID == "":
			create = true
		default:
			return target, err
		}
	}
	if !create {
		return target, nil
	}

	info, err := r.client.NewConversation(ctx, target.RoomID, r.config.Model)
	if err != nil {
		return target, err
	}
	return client.Target{RoomID: target.RoomID, ConvID: info.ConvID}, nil
}

// follow renders the conversation's events until the turn ends.
func (r *Runner) follow(ctx context.Context, convID string) (*Result, error) {
	target := client.Target{ConvID: convID}
	denied := 0

	for {
		select {
		case ev, ok := <-r.client.Events():
			if !ok {
				return r.fail("error", ExitError, errors.New("connection to daemon lost"))
			}
			if ev.ConvID != convID {
				continue
			}
			if ev.Type == types.EventHistory && !r.config.Verbose {
				continue
			}
			r.printer.HandleEvent(ev)

			switch ev.Type {
			case types.EventApprovalRequired:
				if ev.Approval == nil {
					continue
				}
				if err := r.decide(ctx, target, ev.Approval); err != nil {
					return r.fail("error", exitCodeFor(err), err)
				}
				if !r.config.AutoApprove {
					denied++
				}

			case types.EventQuestion:
				if _, err := r.client.SendMessage(ctx, target, unattendedAnswer); err != nil {
					return r.fail("error", exitCodeFor(err), err)
				}

			case types.EventResponse:
				if denied > 0 {
					return r.fail("permission_denied", ExitPermissionDenied,
						fmt.Errorf("%d tool call(s) denied", denied))
				}
				r.printer.SetResult("success", ExitSuccess, nil)
				return r.printer.GetResult(), nil

			case types.EventTurnError:
				err := errors.New(errorText(ev))
				if ev.Error != nil {
					err = &types.Error{Code: ev.Error.Code, Message: ev.Error.Message}
				}
				return r.fail("error", exitCodeFor(err), err)

			case types.EventCancelled:
				return r.fail("cancelled", ExitCancelled, fmt.Errorf("turn cancelled by %s", ev.Text))
			}

		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.client.Stop(stopCtx, target)
			cancel()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return r.fail("timeout", ExitTimeout, ctx.Err())
			}
			return r.fail("cancelled", ExitCancelled, ctx.Err())
		}
	}
}

func (r *Runner) decide(ctx context.Context, target client.Target, p *types.PendingApproval) error {
	if r.config.AutoApprove {
		return r.client.Approve(ctx, target, p.CallID, false)
	}
	return r.client.Deny(ctx, target, p.CallID, deniedFeedback)
}

func (r *Runner) fail(status string, code ExitCode, err error) (*Result, error) {
	r.printer.SetResult(status, code, err)
	return r.printer.GetResult(), err
}

func (r *Runner) getPrompt(stdin io.Reader) (string, error) {
	prompt := strings.TrimSpace(r.config.Prompt)
	if prompt != "" || !r.config.ReadStdin || stdin == nil {
		return prompt, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// exitCodeFor maps an error from the daemon to an exit code.
func exitCodeFor(err error) ExitCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, types.ErrNotFound):
		return ExitNotFound
	}
	switch types.CodeOf(err) {
	case types.CodeModelUnavailable:
		return ExitProviderError
	case types.CodeBadRequest, types.CodeInvalidArguments:
		return ExitInvalidInput
	case types.CodeNotAllowed, types.CodeDenied:
		return ExitPermissionDenied
	}
	return ExitError
}
