package tool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yabot-dev/yabot/pkg/types"
)

const askDescription = `Ask the user a clarification question and wait for their reply.
The reply arrives as this call's result. Use it only when the request is
ambiguous and guessing would be worse than waiting.`

// defaultQuestion is asked when the model leaves the question blank.
const defaultQuestion = "Can you clarify?"

// Asker is implemented by tools the agent loop answers with the user's next
// message instead of executing.
type Asker interface {
	Question(input json.RawMessage) string
}

// AskUserTool parks the turn on a question for the user.
type AskUserTool struct {
	*BaseTool
}

// NewAskUserTool creates ask_user.
func NewAskUserTool() *AskUserTool {
	params := json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {
				"type": "string",
				"description": "The question to put to the user"
			}
		},
		"required": ["question"]
	}`)
	t := &AskUserTool{}
	t.BaseTool = NewBaseTool("ask_user", askDescription, params, types.Safe, t.execute)
	return t
}

// Question returns the question to show, never empty.
func (t *AskUserTool) Question(input json.RawMessage) string {
	var params struct {
		Question string `json:"question"`
	}
	_ = json.Unmarshal(input, &params)
	if q := strings.TrimSpace(params.Question); q != "" {
		return q
	}
	return defaultQuestion
}

// execute only runs outside an interactive conversation, where nobody can
// answer.
func (t *AskUserTool) execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return nil, types.NewError(types.CodeToolExecutionFailed, "no user can answer %q here; continue without it", t.Question(input))
}

// Question reports the question a prepared call puts to the user, if the
// call's tool is an Asker.
func (r *Registry) Question(req types.ToolCallRequest) (string, bool) {
	t, ok := r.Get(req.Call.Name)
	if !ok {
		return "", false
	}
	a, ok := t.(Asker)
	if !ok {
		return "", false
	}
	return a.Question(req.Input), true
}
