package session

import (
	"github.com/yabot-dev/yabot/pkg/types"
)

// WindowConfig controls which part of the history is sent to the model.
type WindowConfig struct {
	// MaxTurns bounds the request to the last MaxTurns*2 messages.
	MaxTurns int

	// ContextLength is the model's context window in tokens; zero disables
	// token trimming.
	ContextLength int

	// SystemTokens is the estimated size of the system prompt.
	SystemTokens int
}

// minReserve is kept free for the model's reply.
const minReserve = 2048

// cancelledResult is the synthetic content closing a tool call that never
// produced a result.
const cancelledResult = "cancelled: the turn was stopped before this call produced a result"

// Window selects the messages for a model request. It never modifies history.
func Window(history []types.Message, cfg WindowConfig) []types.Message {
	msgs := closeDanglingCalls(history)

	if cfg.MaxTurns > 0 && len(msgs) > cfg.MaxTurns*2 {
		msgs = msgs[len(msgs)-cfg.MaxTurns*2:]
	}
	msgs = dropOrphans(msgs)

	if cfg.ContextLength > 0 {
		budget := cfg.ContextLength - reserveTokens(cfg.ContextLength) - cfg.SystemTokens
		total := 0
		for _, m := range msgs {
			total += estimateMessageTokens(m)
		}
		for total > budget && len(msgs) > 1 {
			total -= estimateMessageTokens(msgs[0])
			msgs = msgs[1:]
			for len(msgs) > 1 && msgs[0].Role == types.RoleTool {
				total -= estimateMessageTokens(msgs[0])
				msgs = msgs[1:]
			}
		}
	}
	return msgs
}

// closeDanglingCalls returns a copy of history in which every assistant tool
// call has a result, inserting synthetic failed results after the batch.
func closeDanglingCalls(history []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history))
	for i := 0; i < len(history); i++ {
		m := history[i]
		out = append(out, m)
		if !m.HasToolCalls() {
			continue
		}

		answered := make(map[string]bool)
		j := i + 1
		for ; j < len(history) && history[j].Role == types.RoleTool; j++ {
			answered[history[j].ToolCallID] = true
			out = append(out, history[j])
		}
		i = j - 1

		for _, call := range m.ToolCalls {
			if answered[call.ID] {
				continue
			}
			out = append(out, types.Message{
				ID:         m.ID + "-" + call.ID,
				Role:       types.RoleTool,
				Content:    cancelledResult,
				Timestamp:  m.Timestamp,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Status:     types.ToolFailed,
			})
		}
	}
	return out
}

// dropOrphans removes leading tool results whose call was cut off.
func dropOrphans(msgs []types.Message) []types.Message {
	for len(msgs) > 0 && msgs[0].Role == types.RoleTool {
		msgs = msgs[1:]
	}
	return msgs
}

func reserveTokens(contextLength int) int {
	return max(minReserve, contextLength/10)
}

// estimateTokens provides a rough estimate of token count.
func estimateTokens(text string) int {
	// Rough estimate: ~4 characters per token
	return len(text) / 4
}

func estimateMessageTokens(m types.Message) int {
	n := 3 + estimateTokens(m.Content)
	for _, c := range m.ToolCalls {
		n += estimateTokens(c.Name) + estimateTokens(c.Arguments)
	}
	return n
}
