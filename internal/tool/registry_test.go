package tool

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/skills"
	"github.com/yabot-dev/yabot/pkg/types"
)

func echoTool(id string, sensitivity types.Sensitivity) Tool {
	params := json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string", "minLength": 1}},
		"required": ["text"]
	}`)
	return NewBaseTool(id, "echo the text", params, sensitivity,
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			return &Result{Output: in.Text}, nil
		})
}

func testContext(t *testing.T) *Context {
	return &Context{ConvID: "conv1", CallID: "call1", WorkDir: t.TempDir()}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(Options{})
	require.NoError(t, r.Register(echoTool("echo", types.Safe)))

	got, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", got.ID())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	err := r.Register(echoTool("echo", types.Safe))
	assert.Error(t, err, "duplicate registration must fail")
}

func TestRegistry_DisabledToolsAreSkipped(t *testing.T) {
	r := NewRegistry(Options{Disabled: []string{"echo"}})
	require.NoError(t, r.Register(echoTool("echo", types.Safe)))
	require.NoError(t, r.Register(echoTool("other", types.Safe)))

	assert.Equal(t, []string{"other"}, r.IDs())
}

func TestRegistry_SensitivityOverrides(t *testing.T) {
	r := NewRegistry(Options{Sensitivity: map[string]string{
		"raised":  "sensitive",
		"lowered": "safe",
		"bogus":   "maybe",
	}})
	require.NoError(t, r.Register(echoTool("raised", types.Safe)))
	require.NoError(t, r.Register(echoTool("lowered", types.Sensitive)))
	require.NoError(t, r.Register(echoTool("bogus", types.Safe)))

	assert.Equal(t, types.Sensitive, r.Sensitivity("raised"))
	assert.Equal(t, types.Sensitive, r.Sensitivity("lowered"), "overrides never lower sensitivity")
	assert.Equal(t, types.Safe, r.Sensitivity("bogus"))
	assert.Equal(t, types.Sensitive, r.Sensitivity("unknown"))
}

func TestRegistry_Prepare(t *testing.T) {
	r := NewRegistry(Options{})
	require.NoError(t, r.Register(echoTool("echo", types.Sensitive)))

	tests := []struct {
		name    string
		call    types.ToolCall
		wantErr bool
	}{
		{"valid", types.ToolCall{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}, false},
		{"unknown tool", types.ToolCall{ID: "c2", Name: "nope", Arguments: `{}`}, true},
		{"malformed json", types.ToolCall{ID: "c3", Name: "echo", Arguments: `{"text":`}, true},
		{"not an object", types.ToolCall{ID: "c4", Name: "echo", Arguments: `["hi"]`}, true},
		{"missing required", types.ToolCall{ID: "c5", Name: "echo", Arguments: ``}, true},
		{"wrong type", types.ToolCall{ID: "c6", Name: "echo", Arguments: `{"text": 5}`}, true},
		{"empty string", types.ToolCall{ID: "c7", Name: "echo", Arguments: `{"text": ""}`}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := r.Prepare(tt.call, "conv1", "room1")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrInvalidArguments), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "conv1", req.ConvID)
			assert.Equal(t, "room1", req.RoomID)
			assert.Equal(t, types.Sensitive, req.Sensitivity)
			assert.JSONEq(t, tt.call.Arguments, string(req.Input))
		})
	}
}

func TestRegistry_PrepareSuggestsNearbyName(t *testing.T) {
	r := NewRegistry(Options{})
	require.NoError(t, r.Register(NewReadTool(0)))

	_, err := r.Prepare(types.ToolCall{Name: "read_fiel", Arguments: `{}`}, "c", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "read_file"`)
}

func TestRegistry_ExecuteClassifiesFailures(t *testing.T) {
	r := NewRegistry(Options{})
	params := json.RawMessage(`{"type":"object","properties":{}}`)
	require.NoError(t, r.Register(NewBaseTool("boom", "fails", params, types.Safe,
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			return nil, errors.New("disk on fire")
		})))
	require.NoError(t, r.Register(NewBaseTool("panics", "panics", params, types.Safe,
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			panic("unexpected")
		})))

	for _, name := range []string{"boom", "panics"} {
		req, err := r.Prepare(types.ToolCall{ID: "c", Name: name}, "conv", "")
		require.NoError(t, err)
		_, err = r.Execute(context.Background(), req, testContext(t))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrToolExecutionFailed), "%s: %v", name, err)
	}
}

func TestRegistry_ExecuteHonoursCancellation(t *testing.T) {
	r := NewRegistry(Options{})
	params := json.RawMessage(`{"type":"object","properties":{}}`)
	require.NoError(t, r.Register(NewBaseTool("wait", "blocks", params, types.Safe,
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			<-ctx.Done()
			return nil, errors.New("interrupted")
		})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := r.Prepare(types.ToolCall{ID: "c", Name: "wait"}, "conv", "")
	require.NoError(t, err)
	_, err = r.Execute(ctx, req, testContext(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_DescribeApprovalFallsBackToToolScope(t *testing.T) {
	r := NewRegistry(Options{})
	require.NoError(t, r.Register(echoTool("echo", types.Sensitive)))

	req, err := r.Prepare(types.ToolCall{ID: "c", Name: "echo", Arguments: `{"text":"x"}`}, "conv", "")
	require.NoError(t, err)
	a := r.DescribeApproval(req, testContext(t))
	assert.Equal(t, permission.ScopeTool, a.Scope.Kind)
	assert.Equal(t, "echo", a.Scope.Tool)
	assert.Contains(t, a.Prompt, "echo")
}

func TestRegistry_ToolInfos(t *testing.T) {
	r, err := DefaultRegistry(Config{WorkDir: t.TempDir()})
	require.NoError(t, err)

	infos := r.ToolInfos()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{
		"read_file", "list_dir", "get_skills_dir", "fetch_url", "recent_tool_calls",
		"ask_user", "write_file", "create_dir", "delete_path", "run_shell",
	}, names)

	assert.NotEmpty(t, infos[0].Desc)
	assert.NotNil(t, infos[0].ParamsOneOf)
}

func TestRegistry_SetSkillsReplacesSkillTools(t *testing.T) {
	dir := t.TempDir()
	writeSkill := func(file, name string) {
		body := "---\nname: " + name + "\ndescription: does " + name + "\n---\nsteps for " + name + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
	}
	writeSkill("a.md", "Alpha")

	r, err := DefaultRegistry(Config{SkillsDir: dir})
	require.NoError(t, err)
	set, errs := skills.Load([]string{dir})
	require.Empty(t, errs)
	r.SetSkills(set)

	req, err := r.Prepare(types.ToolCall{ID: "c", Name: "skill__alpha"}, "conv", "")
	require.NoError(t, err)
	assert.Equal(t, types.Safe, req.Sensitivity)
	res, err := r.Execute(context.Background(), req, testContext(t))
	require.NoError(t, err)
	assert.Contains(t, res.Output, "steps for Alpha")

	require.NoError(t, os.Remove(filepath.Join(dir, "a.md")))
	writeSkill("b.md", "Beta")
	set, _ = skills.Load([]string{dir})
	r.SetSkills(set)

	_, ok := r.Get("skill__alpha")
	assert.False(t, ok)
	_, ok = r.Get("skill__beta")
	assert.True(t, ok)
	_, ok = r.Get("read_file")
	assert.True(t, ok, "built-in tools survive a skill reload")
}

func TestClosest(t *testing.T) {
	candidates := []string{"read_file", "write_file", "run_shell"}
	assert.Equal(t, "run_shell", Closest("run_shel", candidates))
	assert.Equal(t, "", Closest("completely_different", candidates))
	assert.Equal(t, "", Closest("x", nil))
}

func toolCall(name, args string) types.ToolCall {
	return types.ToolCall{ID: "call-" + name, Name: name, Arguments: args}
}

func TestRegistry_AskUserQuestion(t *testing.T) {
	r, err := DefaultRegistry(Config{WorkDir: t.TempDir()})
	require.NoError(t, err)

	req, err := r.Prepare(types.ToolCall{ID: "c1", Name: "ask_user", Arguments: `{"question":"  Which branch?  "}`}, "conv", "")
	require.NoError(t, err)
	assert.Equal(t, types.Safe, req.Sensitivity)
	q, ok := r.Question(req)
	require.True(t, ok)
	assert.Equal(t, "Which branch?", q)

	blank, err := r.Prepare(types.ToolCall{ID: "c2", Name: "ask_user", Arguments: `{"question":""}`}, "conv", "")
	require.NoError(t, err)
	q, _ = r.Question(blank)
	assert.Equal(t, "Can you clarify?", q)

	_, err = r.Prepare(types.ToolCall{ID: "c3", Name: "ask_user", Arguments: `{}`}, "conv", "")
	assert.ErrorIs(t, err, types.ErrInvalidArguments)

	read, err := r.Prepare(types.ToolCall{ID: "c4", Name: "list_dir", Arguments: `{}`}, "conv", "")
	require.NoError(t, err)
	_, ok = r.Question(read)
	assert.False(t, ok)

	_, err = r.Execute(context.Background(), req, testContext(t))
	assert.ErrorIs(t, err, types.ErrToolExecutionFailed)
}
