package headless

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabot-dev/yabot/internal/client"
	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/provider"
	"github.com/yabot-dev/yabot/internal/server"
	"github.com/yabot-dev/yabot/internal/session"
	"github.com/yabot-dev/yabot/internal/tool"
	"github.com/yabot-dev/yabot/pkg/types"
)

var echoParams = json.RawMessage(`{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"]
}`)

// startDaemon serves a registry with a sensitive echo tool over httptest and
// returns a connected client.
func startDaemon(t *testing.T, steps ...provider.Step) (*client.Client, *session.Registry) {
	t.Helper()
	tools := tool.NewRegistry(tool.Options{})
	require.NoError(t, tools.Register(tool.NewBaseTool("echo", "echo text", echoParams, types.Sensitive,
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return &tool.Result{Output: "echo: " + in.Text}, nil
		})))
	require.NoError(t, tools.Register(tool.NewAskUserTool()))

	reg := session.NewRegistry(session.Options{
		Backend: provider.NewScripted(steps...),
		Tools:   tools,
		Gate:    permission.NewChecker(types.GrantSet{}, nil),
		Config: session.Config{
			DefaultModel: "gpt-4o-mini",
			Catalog: []types.ModelInfo{
				{ID: "gpt-4o-mini", Provider: "openai", Default: true},
				{ID: "gpt-5.2", Provider: "openai"},
			},
		},
	})
	srv := server.New(server.DefaultConfig(), server.Options{Registry: reg})
	ts := httptest.NewServer(srv.Router())

	c := client.New(client.Options{URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", Identity: "cli-user"})
	require.NoError(t, c.Connect(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		c.Close()
		srv.Shutdown(ctx)
		ts.Close()
		reg.Shutdown(ctx)
	})
	return c, reg
}

func echoCall(id string) types.ToolCall {
	return types.ToolCall{ID: id, Name: "echo", Arguments: `{"text":"hi"}`}
}

func runOnce(t *testing.T, c Client, cfg *Config) (*Result, string, error) {
	t.Helper()
	var out bytes.Buffer
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	cfg.NoColor = true
	res, err := NewRunner(cfg, c).Run(context.Background(), nil, &out)
	return res, out.String(), err
}

func TestRunner_Success(t *testing.T) {
	c, _ := startDaemon(t, provider.Text("hello from the model"))

	res, out, err := runOnce(t, c, &Config{Prompt: "hi", OutputFormat: OutputText})
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "hello from the model", res.FinalMessage)
	assert.Equal(t, DefaultRoom, res.RoomID)
	assert.NotEmpty(t, res.ConvID)
	assert.Equal(t, 1, res.Steps)
	assert.Contains(t, out, "assistant › hello from the model")
}

func TestRunner_AutoApprove(t *testing.T) {
	c, _ := startDaemon(t, provider.Calls(echoCall("call_1")), provider.Text("done"))

	res, out, err := runOnce(t, c, &Config{Prompt: "echo hi", AutoApprove: true, OutputFormat: OutputText})
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	require.Len(t, res.ToolCalls, 1)
	tc := res.ToolCalls[0]
	assert.Equal(t, "echo", tc.Tool)
	assert.Equal(t, types.ToolExecuted, tc.Status)
	assert.Equal(t, "echo: hi", tc.Output)
	require.NotNil(t, tc.Approval)
	assert.Equal(t, "cli-user", tc.Approval.Actor)
	assert.Contains(t, out, "approval required")
	assert.Contains(t, out, "approved by cli-user")
}

func TestRunner_DeniesWithoutAutoApprove(t *testing.T) {
	c, reg := startDaemon(t, provider.Calls(echoCall("call_1")), provider.Text("ok, I won't"))

	res, _, err := runOnce(t, c, &Config{Prompt: "echo hi", OutputFormat: OutputJSON})
	require.Error(t, err)
	assert.Equal(t, ExitPermissionDenied, res.ExitCode)
	assert.Equal(t, "permission_denied", res.Status)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, types.ToolDenied, res.ToolCalls[0].Status)

	detail, err := reg.Detail(res.ConvID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 4)
	assert.Contains(t, detail.Messages[2].Content, "--yes")
}

func TestRunner_ProviderError(t *testing.T) {
	c, _ := startDaemon(t, provider.Fail("upstream down"))

	res, _, err := runOnce(t, c, &Config{Prompt: "hi", OutputFormat: OutputText})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.Equal(t, ExitProviderError, res.ExitCode)
}

func TestRunner_Timeout(t *testing.T) {
	c, reg := startDaemon(t, provider.Hang())

	res, _, err := runOnce(t, c, &Config{Prompt: "hi", Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.Equal(t, "timeout", res.Status)

	assert.Eventually(t, func() bool {
		detail, err := reg.Detail(res.ConvID)
		return err == nil && !detail.State.Active()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRunner_ModelAndNewConversation(t *testing.T) {
	c, reg := startDaemon(t, provider.Text("one"), provider.Text("two"))

	first, _, err := runOnce(t, c, &Config{Prompt: "hi", Model: "gpt-5.2"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-5.2", first.Model)

	second, _, err := runOnce(t, c, &Config{Prompt: "again", New: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ConvID, second.ConvID)

	assert.Len(t, reg.ListConversations(DefaultRoom), 2)

	_, _, err = runOnce(t, c, &Config{Prompt: "x", Model: "nope"})
	require.Error(t, err)
}

func TestRunner_InvalidInput(t *testing.T) {
	c, _ := startDaemon(t)

	res, _, err := runOnce(t, c, &Config{})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidInput, res.ExitCode)

	res, _, err = runOnce(t, c, &Config{Prompt: "hi", ConvID: "missing"})
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, res.ExitCode)
}

func TestRunner_ReadsStdin(t *testing.T) {
	c, _ := startDaemon(t, provider.Text("read it"))

	var out bytes.Buffer
	cfg := &Config{ReadStdin: true, OutputFormat: OutputJSON, Timeout: 3 * time.Second}
	res, err := NewRunner(cfg, c).Run(context.Background(), strings.NewReader("  from stdin \n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "read it", res.FinalMessage)

	var printed Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, res.ConvID, printed.ConvID)
	assert.Equal(t, "success", printed.Status)
}

func TestRunner_AnswersQuestionsUnattended(t *testing.T) {
	c, reg := startDaemon(t,
		provider.Calls(types.ToolCall{ID: "q1", Name: "ask_user", Arguments: `{"question":"Which environment?"}`}),
		provider.Text("assuming staging"),
	)

	res, out, err := runOnce(t, c, &Config{Prompt: "deploy it", OutputFormat: OutputText})
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	assert.Equal(t, "assuming staging", res.FinalMessage)
	assert.Contains(t, out, "question › Which environment?")

	d, err := reg.Detail(res.ConvID)
	require.NoError(t, err)
	require.Len(t, d.Messages, 4)
	assert.Equal(t, types.RoleTool, d.Messages[2].Role)
	assert.Equal(t, unattendedAnswer, d.Messages[2].Content)
}
