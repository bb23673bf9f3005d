package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabot-dev/yabot/pkg/types"
)

func user(text string) types.Message {
	return types.Message{ID: "u-" + text, Role: types.RoleUser, Content: text}
}

func assistant(text string, calls ...types.ToolCall) types.Message {
	return types.Message{ID: "a-" + text, Role: types.RoleAssistant, Content: text, ToolCalls: calls}
}

func toolMsg(callID, content string) types.Message {
	return types.Message{ID: "t-" + callID, Role: types.RoleTool, Content: content, ToolCallID: callID, ToolName: "echo", Status: types.ToolExecuted}
}

func TestWindow_ClosesDanglingCalls(t *testing.T) {
	history := []types.Message{
		user("go"),
		assistant("", call("c1", "echo", "{}"), call("c2", "danger", "{}")),
		toolMsg("c1", "done"),
		user("next"),
	}
	got := Window(history, WindowConfig{})

	require.Len(t, got, 5)
	assert.Equal(t, "c1", got[2].ToolCallID)
	assert.Equal(t, "c2", got[3].ToolCallID)
	assert.Equal(t, "danger", got[3].ToolName)
	assert.Equal(t, cancelledResult, got[3].Content)
	assert.Equal(t, types.ToolFailed, got[3].Status)
	assert.Equal(t, types.RoleUser, got[4].Role)
	assert.Len(t, history, 4, "history is not modified")
}

func TestWindow_MaxTurns(t *testing.T) {
	var history []types.Message
	for i := 0; i < 10; i++ {
		history = append(history, user(fmt.Sprint(i)), assistant(fmt.Sprint(i)))
	}
	got := Window(history, WindowConfig{MaxTurns: 3})
	require.Len(t, got, 6)
	assert.Equal(t, "7", got[0].Content)
	assert.Equal(t, "9", got[5].Content)
}

func TestWindow_NeverStartsOnToolResult(t *testing.T) {
	history := []types.Message{
		user("a"),
		assistant("", call("c1", "echo", "{}"), call("c2", "echo", "{}")),
		toolMsg("c1", "one"),
		toolMsg("c2", "two"),
		assistant("done"),
		user("b"),
	}
	got := Window(history, WindowConfig{MaxTurns: 1})
	assert.Equal(t, []types.Role{types.RoleAssistant, types.RoleUser}, roles(got))

	got = Window(history, WindowConfig{MaxTurns: 2})
	assert.Equal(t, []types.Role{types.RoleAssistant, types.RoleUser}, roles(got))
}

func TestWindow_TrimsToContextLength(t *testing.T) {
	big := strings.Repeat("x", 4000)
	history := []types.Message{user(big), assistant(big), user(big), assistant(big), user("last")}

	got := Window(history, WindowConfig{ContextLength: 4096})
	require.NotEmpty(t, got)
	assert.Equal(t, "last", got[len(got)-1].Content)
	total := 0
	for _, m := range got {
		total += estimateMessageTokens(m)
	}
	assert.LessOrEqual(t, total, 4096-minReserve)

	assert.Len(t, Window(history, WindowConfig{}), 5, "zero context length disables trimming")
}

func TestWindow_KeepsLastMessageWhenOverBudget(t *testing.T) {
	history := []types.Message{user(strings.Repeat("x", 100000))}
	got := Window(history, WindowConfig{ContextLength: 4096})
	assert.Len(t, got, 1)
}

func TestReserveTokens(t *testing.T) {
	assert.Equal(t, 2048, reserveTokens(8000))
	assert.Equal(t, 12800, reserveTokens(128000))
}

func TestSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	p := NewSystemPrompt("", dir)
	out := p.Build()
	assert.True(t, strings.HasPrefix(out, DefaultSystemPrompt))
	assert.Contains(t, out, "Working Directory: "+dir)
	assert.NotContains(t, out, "AGENTS.md)")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Always run go vet."), 0o644))
	out = p.Build()
	assert.Contains(t, out, "# Project Instructions (AGENTS.md)")
	assert.Contains(t, out, "Always run go vet.")

	custom := NewSystemPrompt("You are a test bot.", dir).Build()
	assert.True(t, strings.HasPrefix(custom, "You are a test bot."))
	assert.NotContains(t, custom, "You are Yabot")
}
