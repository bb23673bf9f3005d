package tool

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabot-dev/yabot/internal/permission"
)

func runShell(t *testing.T, tool *ShellTool, ctx context.Context, input map[string]any) (shellOutput, error) {
	t.Helper()
	result, err := tool.Execute(ctx, mustJSON(t, input), testContext(t))
	if err != nil {
		return shellOutput{}, err
	}
	var out shellOutput
	require.NoError(t, json.Unmarshal([]byte(result.Output), &out))
	return out, nil
}

func TestShellTool_Execute(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	tool := NewShellTool(0, 0)

	out, err := runShell(t, tool, context.Background(), map[string]any{"command": "echo hello; echo oops >&2; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.Equal(t, 3, out.ReturnCode)
	assert.False(t, out.TimedOut)
}

func TestShellTool_Workdir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	dir := t.TempDir()
	out, err := runShell(t, NewShellTool(0, 0), context.Background(), map[string]any{"command": "pwd", "workdir": dir})
	require.NoError(t, err)
	assert.Equal(t, dir, out.Workdir)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out.Stdout), strings.TrimPrefix(dir, "/private")))
}

func TestShellTool_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	start := time.Now()
	out, err := runShell(t, NewShellTool(0, 0), context.Background(), map[string]any{"command": "sleep 5", "timeout_ms": 100})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Contains(t, out.Stderr, "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShellTool_Cancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := runShell(t, NewShellTool(0, 0), ctx, map[string]any{"command": "sleep 5 & sleep 5; wait"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShellTool_TruncatesStreams(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	out, err := runShell(t, NewShellTool(0, 20), context.Background(), map[string]any{"command": "printf '%0100d' 0"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.Stdout, "...(truncated)"))
}

func TestShellTool_DescribeApproval(t *testing.T) {
	toolCtx := testContext(t)
	a := NewShellTool(0, 0).DescribeApproval(mustJSON(t, map[string]any{"command": "git status && rm -rf build"}), toolCtx)

	assert.Equal(t, permission.ScopeShell, a.Scope.Kind)
	assert.Equal(t, []string{"git status *", "rm *"}, a.Scope.Patterns)
	assert.Contains(t, a.Prompt, "`git status && rm -rf build`")
	assert.Contains(t, a.Prompt, toolCtx.WorkDir)
	assert.Contains(t, a.Preview, "remember grants: git status *, rm *")
	assert.Contains(t, a.Preview, "modifies: "+toolCtx.WorkDir)
}
