package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yabot-dev/yabot/pkg/types"
)

const recentDescription = `List the most recent tool calls of this conversation with their
arguments, status and (truncated) results.`

const defaultRecentLimit = 5

// RecentCall summarises one tool call for recent_tool_calls.
type RecentCall struct {
	Tool      string           `json:"tool"`
	Arguments string           `json:"arguments"`
	Status    types.ToolStatus `json:"status"`
	Result    string           `json:"result"`
}

// NewRecentCallsTool creates recent_tool_calls.
func NewRecentCallsTool() Tool {
	params := json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {
				"type": "integer",
				"minimum": 1,
				"maximum": 50,
				"description": "How many calls to return (default 5)"
			}
		}
	}`)
	return NewBaseTool("recent_tool_calls", recentDescription, params, types.Safe, executeRecent)
}

func executeRecent(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Limit int `json:"limit,omitempty"`
	}
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultRecentLimit
	}

	var history []types.Message
	if toolCtx != nil && toolCtx.History != nil {
		history = toolCtx.History()
	}
	calls := RecentCalls(history, params.Limit)

	payload, err := json.Marshal(calls)
	if err != nil {
		return nil, err
	}
	return &Result{
		Title:  fmt.Sprintf("%d recent tool calls", len(calls)),
		Output: string(payload),
	}, nil
}

// RecentCalls pairs tool results with the assistant calls that requested
// them, newest first.
func RecentCalls(history []types.Message, limit int) []RecentCall {
	args := make(map[string]string)
	for _, m := range history {
		for _, c := range m.ToolCalls {
			args[c.ID] = c.Arguments
		}
	}

	calls := []RecentCall{}
	for i := len(history) - 1; i >= 0 && len(calls) < limit; i-- {
		m := history[i]
		if m.Role != types.RoleTool {
			continue
		}
		calls = append(calls, RecentCall{
			Tool:      m.ToolName,
			Arguments: args[m.ToolCallID],
			Status:    m.Status,
			Result:    truncate(m.Content, 500),
		})
	}
	return calls
}
