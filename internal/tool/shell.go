package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/pkg/types"
)

const (
	DefaultShellTimeout = 60 * time.Second
	MaxShellTimeout     = 10 * time.Minute
	killGrace           = 200 * time.Millisecond
)

const shellDescription = `Run a shell command and return stdout, stderr, and exit code.

Usage:
- command is required; workdir defaults to the daemon working directory
- Optional timeout_ms bounds the run (default 60000, max 600000)
- Output streams are truncated when very long`

// ShellTool implements run_shell.
type ShellTool struct {
	shell     string
	timeout   time.Duration
	maxOutput int
}

// ShellInput represents the input for run_shell.
type ShellInput struct {
	Command   string `json:"command"`
	Workdir   string `json:"workdir,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type shellOutput struct {
	Command    string `json:"command"`
	Workdir    string `json:"workdir"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// NewShellTool creates run_shell. Zero values select the defaults.
func NewShellTool(timeout time.Duration, maxOutput int) *ShellTool {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return &ShellTool{shell: detectShell(), timeout: timeout, maxOutput: maxOutput}
}

func detectShell() string {
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *ShellTool) ID() string                     { return "run_shell" }
func (t *ShellTool) Description() string            { return shellDescription }
func (t *ShellTool) Sensitivity() types.Sensitivity { return types.Sensitive }

func (t *ShellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"minLength": 1,
				"description": "The shell command to run"
			},
			"workdir": {
				"type": "string",
				"description": "Directory to run the command in"
			},
			"timeout_ms": {
				"type": "integer",
				"minimum": 1,
				"description": "Optional timeout in milliseconds (max 600000)"
			}
		},
		"required": ["command"]
	}`)
}

// DescribeApproval shows the command, its working directory, the grant
// patterns remembering would add, and any paths that file-modifying
// commands touch.
func (t *ShellTool) DescribeApproval(input json.RawMessage, toolCtx *Context) Approval {
	var params ShellInput
	_ = decode(input, &params)
	workdir := t.workdir(params, toolCtx)

	scope := permission.ShellScope(t.ID(), params.Command)

	var preview strings.Builder
	if len(scope.Patterns) > 0 {
		fmt.Fprintf(&preview, "remember grants: %s\n", strings.Join(scope.Patterns, ", "))
	} else {
		preview.WriteString("command could not be parsed; it cannot be remembered\n")
	}
	if commands, err := permission.ParseBashCommand(params.Command); err == nil {
		for _, dir := range permission.TouchedDirs(commands, workdir) {
			fmt.Fprintf(&preview, "modifies: %s\n", dir)
		}
	}

	return Approval{
		Prompt:  fmt.Sprintf("Approve running shell command `%s` (workdir: %s)?", params.Command, workdir),
		Preview: strings.TrimRight(preview.String(), "\n"),
		Scope:   scope,
	}
}

func (t *ShellTool) workdir(params ShellInput, toolCtx *Context) string {
	if params.Workdir != "" {
		return toolCtx.Resolve(params.Workdir)
	}
	if toolCtx != nil && toolCtx.WorkDir != "" {
		return toolCtx.WorkDir
	}
	wd, _ := os.Getwd()
	return wd
}

func (t *ShellTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ShellInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}

	timeout := t.timeout
	if params.TimeoutMS > 0 {
		timeout = time.Duration(params.TimeoutMS) * time.Millisecond
		if timeout > MaxShellTimeout {
			timeout = MaxShellTimeout
		}
	}
	workdir := t.workdir(params, toolCtx)

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, t.shell, "/c", params.Command)
	} else {
		cmd = exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
		// Own process group so cancellation reaches children too.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}
	cmd.WaitDelay = killGrace
	cmd.Dir = workdir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := shellOutput{
		Command:  params.Command,
		Workdir:  workdir,
		Stdout:   truncate(stdout.String(), t.maxOutput),
		Stderr:   truncate(stderr.String(), t.maxOutput),
		TimedOut: errors.Is(cmdCtx.Err(), context.DeadlineExceeded),
	}
	if cmd.ProcessState != nil {
		out.ReturnCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if runErr != nil && !out.TimedOut && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("run %q: %w", params.Command, runErr)
	}
	if out.TimedOut {
		out.Stderr += fmt.Sprintf("\n(command timed out after %v)", timeout)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return &Result{
		Title:  params.Command,
		Output: string(payload),
		Metadata: map[string]any{
			"exit":      out.ReturnCode,
			"timed_out": out.TimedOut,
		},
	}, nil
}
