package permission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yabot-dev/yabot/pkg/types"
)

// Request is a sensitive tool call waiting for authorization.
type Request struct {
	Pending types.PendingApproval
	Scope   Scope
}

// Notifier is called once the request is registered and can be resolved.
// Sessions use it to broadcast approval_required to attached clients.
type Notifier func(p types.PendingApproval)

type waiter struct {
	req types.PendingApproval
	ch  chan types.Approval
}

// Checker is the approval gate. It auto-approves calls covered by a grant,
// rejects shell commands matching the deny list, and otherwise suspends the
// caller until Respond is called for its call id or the context ends.
type Checker struct {
	mu      sync.Mutex
	pending map[string]*waiter // callID -> waiter
	deny    []string
	static  *Grants
	now     func() time.Time
}

// NewChecker creates a gate with configured grants and shell deny patterns.
// Configured grants apply to every conversation and are never modified.
func NewChecker(configured types.GrantSet, shellDeny []string) *Checker {
	return &Checker{
		pending: make(map[string]*waiter),
		deny:    append([]string(nil), shellDeny...),
		static:  NewGrants(configured),
		now:     time.Now,
	}
}

// Authorize resolves a sensitive call. grants holds the remembered approvals
// of the calling room or conversation and receives new ones when the human
// approves with remember set. A denied or blocked call returns a deny
// Approval and a nil error; err is only set when ctx ends first.
func (c *Checker) Authorize(ctx context.Context, grants *Grants, req Request, notify Notifier) (types.Approval, error) {
	callID := req.Pending.CallID

	if req.Scope.Kind == ScopeShell {
		if pattern, ok := c.denied(req.Scope.Command); ok {
			return types.Approval{
				CallID:    callID,
				Decision:  types.Deny,
				Actor:     "policy:shell_deny",
				Feedback:  fmt.Sprintf("command blocked by deny rule %q", pattern),
				Timestamp: c.now(),
			}, nil
		}
	}

	if label, ok := c.static.Match(req.Scope); ok {
		return c.granted(callID, label), nil
	}
	if grants != nil {
		if label, ok := grants.Match(req.Scope); ok {
			return c.granted(callID, label), nil
		}
	}

	approval, err := c.Ask(ctx, req.Pending, notify)
	if err != nil {
		return approval, err
	}
	if approval.Approved() && approval.Remember && grants != nil {
		grants.Remember(req.Scope)
	}
	return approval, nil
}

// Ask registers p as pending and blocks until a decision or ctx ends.
func (c *Checker) Ask(ctx context.Context, p types.PendingApproval, notify Notifier) (types.Approval, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now()
	}
	w := &waiter{req: p, ch: make(chan types.Approval, 1)}

	c.mu.Lock()
	if _, exists := c.pending[p.CallID]; exists {
		c.mu.Unlock()
		return types.Approval{}, types.NewError(types.CodeInvariant, "call %s already awaiting approval", p.CallID)
	}
	c.pending[p.CallID] = w
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, p.CallID)
		c.mu.Unlock()
	}()

	if notify != nil {
		notify(p)
	}

	select {
	case <-ctx.Done():
		return types.Approval{CallID: p.CallID}, ctx.Err()
	case a := <-w.ch:
		return a, nil
	}
}

// Respond delivers a decision for a pending call. It fails with a not_found
// error when nothing is waiting on callID.
func (c *Checker) Respond(callID string, a types.Approval) error {
	c.mu.Lock()
	w, ok := c.pending[callID]
	if ok {
		delete(c.pending, callID)
	}
	c.mu.Unlock()
	if !ok {
		return types.NewError(types.CodeNotFound, "no pending approval for call %s", callID)
	}

	a.CallID = callID
	if a.Timestamp.IsZero() {
		a.Timestamp = c.now()
	}
	w.ch <- a
	return nil
}

// Pending lists the approvals waiting in one conversation, oldest first.
// An empty convID lists every pending approval.
func (c *Checker) Pending(convID string) []types.PendingApproval {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.PendingApproval
	for _, w := range c.pending {
		if convID == "" || w.req.ConvID == convID {
			out = append(out, w.req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Configured returns the daemon-wide grants.
func (c *Checker) Configured() types.GrantSet {
	return c.static.Snapshot()
}

func (c *Checker) granted(callID, label string) types.Approval {
	return types.Approval{
		CallID:    callID,
		Decision:  types.Approve,
		Actor:     "grant:" + label,
		Timestamp: c.now(),
	}
}

// denied reports the first deny pattern matching any command in the line.
// Lines that fail to parse are matched against the raw text.
func (c *Checker) denied(command string) (string, bool) {
	if len(c.deny) == 0 || command == "" {
		return "", false
	}
	commands, err := ParseBashCommand(command)
	if err != nil {
		for _, p := range c.deny {
			if strings.Contains(command, strings.TrimSuffix(p, " *")) {
				return p, true
			}
		}
		return "", false
	}
	for _, cmd := range commands {
		for _, p := range c.deny {
			if MatchPattern(p, cmd) {
				return p, true
			}
		}
	}
	return "", false
}
