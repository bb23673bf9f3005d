package session

import (
	"errors"

	"github.com/yabot-dev/yabot/internal/logging"
	"github.com/yabot-dev/yabot/internal/provider"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// runTurn drives one turn to completion and releases the token.
func (r *Registry) runTurn(c *Conversation, t *turn) {
	defer r.wg.Done()
	defer close(t.done)

	err := r.loop(c, t)
	r.finishTurn(c, t, err)
}

// loop alternates model calls and tool execution until the model answers
// without tool calls, the step limit is reached, or the turn loses its
// token.
func (r *Registry) loop(c *Conversation, t *turn) error {
	for {
		if t.steps >= r.cfg.MaxSteps {
			return types.NewError(types.CodeStepLimit, "turn exceeded %d model calls", r.cfg.MaxSteps)
		}
		t.steps++

		req, ok := r.buildRequest(c, t)
		if !ok {
			return errTurnEnded
		}

		reply, err := r.backend.Send(t.ctx, req)
		if t.ctx.Err() != nil {
			return errTurnEnded
		}
		if err != nil {
			return err
		}

		if !reply.HasToolCalls() {
			return r.respond(c, t, reply)
		}

		if err := r.plan(c, t, reply); err != nil {
			return err
		}
		for _, call := range reply.ToolCalls {
			if err := r.runToolCall(c, t, call); err != nil {
				return err
			}
		}
	}
}

// buildRequest enters awaiting_model and assembles the model request from
// the current history.
func (r *Registry) buildRequest(c *Conversation, t *turn) (provider.Request, bool) {
	system := r.prompt.Build()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(t) {
		return provider.Request{}, false
	}
	c.setStateLocked(types.StateAwaitingModel)

	history := Window(c.messages, WindowConfig{
		MaxTurns:      r.cfg.MaxTurns,
		ContextLength: r.contextLength(c.model),
		SystemTokens:  estimateTokens(system),
	})
	tc := c.traceContext(t.traceID)

	text := ""
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == types.RoleUser {
		text = c.messages[n-1].Content
	}
	r.record(trace.EventPlanRequest, tc, map[string]any{
		"text":      text,
		"iteration": t.steps,
		"messages":  len(history),
	})

	return provider.Request{
		Model:   c.model,
		System:  system,
		History: history,
		Tools:   r.tools.ToolInfos(),
		Trace:   tc,
	}, true
}

func (r *Registry) contextLength(model string) int {
	for _, m := range r.cfg.Catalog {
		if m.ID == model {
			return m.ContextLength
		}
	}
	return 0
}

// respond appends the final assistant message.
func (r *Registry) respond(c *Conversation, t *turn, reply provider.Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(t) {
		return errTurnEnded
	}
	c.setStateLocked(types.StateResponding)
	msg := c.appendLocked(types.Message{Role: types.RoleAssistant, Content: reply.Content})

	r.record(trace.EventResponse, c.traceContext(t.traceID), map[string]any{
		"text":              reply.Content,
		"iterations":        t.steps,
		"tool_calls":        t.toolCalls,
		"duration_ms":       r.now().Sub(t.started).Milliseconds(),
		"finish_reason":     reply.FinishReason,
		"prompt_tokens":     reply.Usage.PromptTokens,
		"completion_tokens": reply.Usage.CompletionTokens,
	})
	c.broadcast(types.Event{Type: types.EventResponse, Message: &msg, Text: msg.Content})
	return nil
}

// plan appends the assistant message carrying the tool calls.
func (r *Registry) plan(c *Conversation, t *turn, reply provider.Reply) error {
	seen := make(map[string]bool, len(reply.ToolCalls))
	names := make([]string, 0, len(reply.ToolCalls))
	for _, call := range reply.ToolCalls {
		if call.ID == "" || seen[call.ID] {
			return types.NewError(types.CodeInvalidArguments, "model reply repeats or omits tool call id %q", call.ID)
		}
		seen[call.ID] = true
		names = append(names, call.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(t) {
		return errTurnEnded
	}
	msg := c.appendLocked(types.Message{
		Role:      types.RoleAssistant,
		Content:   reply.Content,
		ToolCalls: append([]types.ToolCall(nil), reply.ToolCalls...),
	})
	t.toolCalls += len(reply.ToolCalls)

	r.record(trace.EventPlanCreated, c.traceContext(t.traceID), map[string]any{
		"steps": names,
		"count": len(names),
		"text":  reply.Content,
	})
	c.broadcast(types.Event{Type: types.EventMessage, Message: &msg})
	c.setStateLocked(types.StateAwaitingTool)
	return nil
}

// finishTurn releases the token unless stop, reset or delete already did.
func (r *Registry) finishTurn(c *Conversation, t *turn, err error) {
	defer t.cancel()

	c.mu.Lock()
	if !c.owns(t) {
		c.mu.Unlock()
		return
	}
	c.turn = nil
	c.pending = nil
	c.question = nil
	log := logging.ForConversation(c.id, c.roomID)
	tc := c.traceContext(t.traceID)

	var invariant *InvariantError
	switch {
	case err == nil:
		c.setStateLocked(types.StateIdle)
		log.Debug().Int("iterations", t.steps).Int("tool_calls", t.toolCalls).Msg("turn completed")

	case errors.As(err, &invariant):
		c.broken = err
		r.record(trace.EventInvariant, tc, map[string]any{"reason": invariant.Reason})
		c.broadcast(types.Event{Type: types.EventTurnError, Text: err.Error(), Error: types.InfoOf(err), State: types.StateBroken})
		c.setStateLocked(types.StateBroken)
		log.Error().Err(err).Msg("conversation marked broken")

	default:
		info := types.InfoOf(err)
		event := trace.EventTurnError
		if info.Code == types.CodeModelUnavailable {
			event = trace.EventModelError
		}
		r.record(event, tc, map[string]any{
			"code":        string(info.Code),
			"error":       info.Message,
			"iterations":  t.steps,
			"duration_ms": r.now().Sub(t.started).Milliseconds(),
		})
		c.broadcast(types.Event{Type: types.EventTurnError, Text: info.Message, Error: info, State: types.StateError})
		c.setStateLocked(types.StateError)
		log.Warn().Err(err).Str("code", string(info.Code)).Msg("turn failed")
	}
	c.mu.Unlock()

	r.save(c)
	if roomID := c.RoomID(); roomID != "" {
		r.saveRoom(roomID)
	}
}
