package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/tool"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// maxTracedOutput bounds the tool output copied into trace records.
const maxTracedOutput = 4000

// runToolCall validates, authorizes and executes one call and appends its
// result. Only loss of the token or an invariant violation ends the turn;
// every other failure becomes the call's result.
func (r *Registry) runToolCall(c *Conversation, t *turn, call types.ToolCall) error {
	c.mu.Lock()
	if !c.owns(t) {
		c.mu.Unlock()
		return errTurnEnded
	}
	tc := c.traceContext(t.traceID)
	roomID := c.roomID
	c.mu.Unlock()

	r.record(trace.EventToolCall, tc, map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"arguments": call.Arguments,
	})

	req, err := r.tools.Prepare(call, c.id, roomID)
	if err != nil {
		return r.toolResult(c, t, call, err.Error(), types.ToolFailed, err)
	}

	if r.repeats.Check(c.id, call.Name, call.Arguments) {
		err := types.NewError(types.CodeInvalidArguments,
			"refused: %s was called %d times in a row with identical arguments; change approach or ask the user",
			call.Name, permission.RepeatThreshold)
		return r.toolResult(c, t, call, err.Error(), types.ToolFailed, err)
	}

	if text, ok := r.tools.Question(req); ok {
		return r.askUser(c, t, call, text)
	}

	toolCtx := &tool.Context{
		ConvID:  c.id,
		RoomID:  roomID,
		CallID:  call.ID,
		WorkDir: r.cfg.WorkDir,
		History: c.History,
	}

	if req.Sensitivity == types.Sensitive {
		approval, err := r.authorize(c, t, req, toolCtx)
		if err != nil {
			return err
		}
		if !approval.Approved() {
			return r.toolResult(c, t, call, denialText(approval), types.ToolDenied, nil)
		}
	}

	c.mu.Lock()
	if !c.owns(t) {
		c.mu.Unlock()
		return errTurnEnded
	}
	c.setStateLocked(types.StateExecutingTool)
	c.mu.Unlock()

	result, err := r.tools.Execute(t.ctx, req, toolCtx)
	if t.ctx.Err() != nil {
		return errTurnEnded
	}
	if err != nil {
		return r.toolResult(c, t, call, err.Error(), types.ToolFailed, err)
	}
	return r.toolResult(c, t, call, result.Output, types.ToolExecuted, nil)
}

// authorize suspends the turn in the approval gate. It returns a decision,
// or errTurnEnded when the turn was stopped while waiting.
func (r *Registry) authorize(c *Conversation, t *turn, req types.ToolCallRequest, toolCtx *tool.Context) (types.Approval, error) {
	desc := r.tools.DescribeApproval(req, toolCtx)
	pending := types.PendingApproval{
		CallID:      req.Call.ID,
		ConvID:      req.ConvID,
		RoomID:      req.RoomID,
		Tool:        req.Call.Name,
		Arguments:   req.Call.Arguments,
		Prompt:      desc.Prompt,
		Preview:     desc.Preview,
		Patterns:    desc.Scope.Patterns,
		Sensitivity: req.Sensitivity,
		CreatedAt:   r.now(),
	}

	notify := func(p types.PendingApproval) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.owns(t) {
			return
		}
		c.pending = append(c.pending, p)
		c.setStateLocked(types.StateAwaitingApproval)
		r.record(trace.EventApprovalRequest, c.traceContext(t.traceID), map[string]any{
			"tool":     p.Tool,
			"call_id":  p.CallID,
			"prompt":   p.Prompt,
			"patterns": p.Patterns,
		})
		c.broadcast(types.Event{Type: types.EventApprovalRequired, Approval: &p, Text: p.Prompt})
	}

	approval, err := r.gate.Authorize(t.ctx, r.grantsFor(c), permission.Request{Pending: pending, Scope: desc.Scope}, notify)
	if err != nil {
		if t.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return approval, errTurnEnded
		}
		if errors.Is(err, types.ErrInvariant) {
			return approval, &InvariantError{ConvID: c.id, Reason: err.Error()}
		}
		return approval, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(t) {
		return approval, errTurnEnded
	}
	c.removePendingLocked(req.Call.ID)
	r.record(trace.EventApproval, c.traceContext(t.traceID), map[string]any{
		"tool":     req.Call.Name,
		"call_id":  req.Call.ID,
		"decision": string(approval.Decision),
		"actor":    approval.Actor,
		"feedback": approval.Feedback,
		"remember": approval.Remember,
	})
	c.broadcast(types.Event{Type: types.EventApprovalResolved, Decision: &approval, Text: approval.Actor})
	return approval, nil
}

// askUser suspends the turn until the next message to the conversation,
// which becomes the call's result.
func (r *Registry) askUser(c *Conversation, t *turn, call types.ToolCall, text string) error {
	q := &question{
		Question: types.Question{
			CallID:    call.ID,
			ConvID:    c.id,
			Text:      text,
			CreatedAt: r.now(),
		},
		answer: make(chan string, 1),
	}

	c.mu.Lock()
	if !c.owns(t) {
		c.mu.Unlock()
		return errTurnEnded
	}
	q.RoomID = c.roomID
	c.question = q
	c.setStateLocked(types.StateAwaitingUser)
	r.record(trace.EventAskUser, c.traceContext(t.traceID), map[string]any{
		"tool":     call.Name,
		"call_id":  call.ID,
		"question": text,
	})
	asked := q.Question
	c.broadcast(types.Event{Type: types.EventQuestion, Question: &asked, Text: text})
	c.mu.Unlock()

	select {
	case <-t.ctx.Done():
		return errTurnEnded
	case answer := <-q.answer:
		return r.toolResult(c, t, call, answer, types.ToolExecuted, nil)
	}
}

// denialText is the tool result the model receives for a denied call.
func denialText(a types.Approval) string {
	text := fmt.Sprintf("Tool call denied by %s.", a.Actor)
	if a.Feedback != "" {
		text += " Feedback: " + a.Feedback
	}
	return text + " Do not retry this call unless the user asks."
}

// toolResult appends the tool message for call and broadcasts it.
func (r *Registry) toolResult(c *Conversation, t *turn, call types.ToolCall, content string, status types.ToolStatus, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(t) {
		return errTurnEnded
	}
	msg := c.appendLocked(types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Status:     status,
	})

	data := map[string]any{
		"tool":      call.Name,
		"call_id":   call.ID,
		"arguments": call.Arguments,
		"status":    string(status),
		"output":    truncateForTrace(content),
	}
	if cause != nil {
		data["code"] = string(types.CodeOf(cause))
	}
	r.record(trace.EventToolResult, c.traceContext(t.traceID), data)
	c.broadcast(types.Event{Type: types.EventToolResult, Message: &msg})
	c.setStateLocked(types.StateAwaitingTool)
	return nil
}

func truncateForTrace(s string) string {
	if len(s) <= maxTracedOutput {
		return s
	}
	return s[:maxTracedOutput] + "...[truncated]"
}
