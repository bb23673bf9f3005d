package provider

import (
	"context"
	"sync"
	"time"

	"github.com/yabot-dev/yabot/pkg/types"
)

// Step is one scripted model response.
type Step struct {
	Reply Reply
	Err   error

	// Delay postpones the response; the call still honours cancellation
	// unless IgnoreCancel is set.
	Delay        time.Duration
	IgnoreCancel bool

	// Hang blocks until the call's context is cancelled.
	Hang bool
}

// Text scripts a final answer.
func Text(content string) Step { return Step{Reply: Reply{Content: content}} }

// Calls scripts a tool-call reply.
func Calls(calls ...types.ToolCall) Step { return Step{Reply: Reply{ToolCalls: calls}} }

// Fail scripts a model_unavailable failure.
func Fail(msg string) Step {
	return Step{Err: types.NewError(types.CodeModelUnavailable, "%s", msg)}
}

// Hang scripts a call that only returns on cancellation.
func Hang() Step { return Step{Hang: true} }

// Scripted is a deterministic Backend replaying steps in order. Requests are
// recorded for inspection.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []Request
	started  chan struct{}
}

// NewScripted creates a backend that replays steps.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps, started: make(chan struct{}, 64)}
}

// Push appends steps.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Started receives once per call as it begins.
func (s *Scripted) Started() <-chan struct{} { return s.started }

// Requests returns the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Send replays the next step. An exhausted script fails with
// model_unavailable.
func (s *Scripted) Send(ctx context.Context, req Request) (Reply, error) {
	s.mu.Lock()
	req.History = append([]types.Message(nil), req.History...)
	s.requests = append(s.requests, req)
	var step Step
	exhausted := len(s.steps) == 0
	if !exhausted {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	if exhausted {
		return Reply{}, types.NewError(types.CodeModelUnavailable, "script exhausted")
	}
	if step.Hang {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}
	if step.Delay > 0 {
		if step.IgnoreCancel {
			time.Sleep(step.Delay)
		} else {
			select {
			case <-time.After(step.Delay):
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			}
		}
	}
	return step.Reply, step.Err
}
