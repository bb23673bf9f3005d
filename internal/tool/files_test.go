package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/pkg/types"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestReadTool_Execute(t *testing.T) {
	toolCtx := testContext(t)
	path := filepath.Join(toolCtx.WorkDir, "test.txt")
	if err := os.WriteFile(path, []byte("Line 1\nLine 2\nLine 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := NewReadTool(0).Execute(context.Background(), mustJSON(t, map[string]any{"path": "test.txt"}), toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "Line 1\nLine 2\nLine 3\n" {
		t.Errorf("unexpected output %q", result.Output)
	}
	if result.Metadata["totalLines"] != 3 {
		t.Errorf("expected 3 lines, got %v", result.Metadata["totalLines"])
	}
}

func TestReadTool_OffsetAndLimit(t *testing.T) {
	toolCtx := testContext(t)
	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, "line"+string(rune('a'+i-1)))
	}
	path := filepath.Join(toolCtx.WorkDir, "lines.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	input := mustJSON(t, map[string]any{"path": path, "offset": 3, "limit": 2})
	result, err := NewReadTool(0).Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "linec\nlined\n" {
		t.Errorf("unexpected slice %q", result.Output)
	}
}

func TestReadTool_Errors(t *testing.T) {
	toolCtx := testContext(t)
	bin := filepath.Join(toolCtx.WorkDir, "blob.bin")
	if err := os.WriteFile(bin, []byte{0x7f, 'E', 'L', 'F', 0, 0, 1}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, path := range []string{"missing.txt", toolCtx.WorkDir, bin} {
		_, err := NewReadTool(0).Execute(context.Background(), mustJSON(t, map[string]any{"path": path}), toolCtx)
		if err == nil {
			t.Errorf("expected an error reading %s", path)
		}
	}
}

func TestReadTool_Truncates(t *testing.T) {
	toolCtx := testContext(t)
	path := filepath.Join(toolCtx.WorkDir, "big.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 100)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := NewReadTool(10).Execute(context.Background(), mustJSON(t, map[string]any{"path": path}), toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != strings.Repeat("x", 10)+"\n...(truncated)" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func decodeListing(t *testing.T, output string) listOutput {
	t.Helper()
	var out listOutput
	if err := json.Unmarshal([]byte(output), &out); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, output)
	}
	return out
}

func TestListTool_Execute(t *testing.T) {
	toolCtx := testContext(t)
	dir := toolCtx.WorkDir
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("hello"), 0o644)
	os.Mkdir(filepath.Join(dir, "a"), 0o755)
	os.WriteFile(filepath.Join(dir, "a", "nested.go"), []byte("package a"), 0o644)

	result, err := NewListTool(0).Execute(context.Background(), mustJSON(t, map[string]any{"path": "."}), toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out := decodeListing(t, result.Output)
	if out.Path != dir {
		t.Errorf("expected path %s, got %s", dir, out.Path)
	}
	want := []FileEntry{{Name: "a", Type: "dir"}, {Name: "b.txt", Type: "file", Size: 5}}
	if len(out.Entries) != len(want) {
		t.Fatalf("expected %v, got %v", want, out.Entries)
	}
	for i := range want {
		if out.Entries[i] != want[i] {
			t.Errorf("entry %d: expected %v, got %v", i, want[i], out.Entries[i])
		}
	}
}

func TestListTool_Pattern(t *testing.T) {
	toolCtx := testContext(t)
	dir := toolCtx.WorkDir
	os.MkdirAll(filepath.Join(dir, "pkg", "deep"), 0o755)
	os.WriteFile(filepath.Join(dir, "main.go"), nil, 0o644)
	os.WriteFile(filepath.Join(dir, "README.md"), nil, 0o644)
	os.WriteFile(filepath.Join(dir, "pkg", "deep", "x.go"), nil, 0o644)

	input := mustJSON(t, map[string]any{"path": dir, "pattern": "**/*.go"})
	result, err := NewListTool(0).Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out := decodeListing(t, result.Output)
	var names []string
	for _, e := range out.Entries {
		names = append(names, e.Name)
	}
	got := strings.Join(names, ",")
	if got != "main.go,"+filepath.Join("pkg", "deep", "x.go") {
		t.Errorf("unexpected matches %s", got)
	}

	_, err = NewListTool(0).Execute(context.Background(), mustJSON(t, map[string]any{"path": dir, "pattern": "[unclosed"}), toolCtx)
	if err == nil {
		t.Error("expected invalid pattern error")
	}
}

func TestListTool_NotADirectory(t *testing.T) {
	toolCtx := testContext(t)
	file := filepath.Join(toolCtx.WorkDir, "f")
	os.WriteFile(file, nil, 0o644)

	if _, err := NewListTool(0).Execute(context.Background(), mustJSON(t, map[string]any{"path": file}), toolCtx); err == nil {
		t.Error("expected error listing a file")
	}
}

func TestWriteTool_Execute(t *testing.T) {
	toolCtx := testContext(t)
	path := filepath.Join(toolCtx.WorkDir, "out.txt")

	input := mustJSON(t, map[string]any{"path": "out.txt", "content": "one\ntwo\n"})
	result, err := NewWriteTool().Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "one\ntwo\n" {
		t.Errorf("unexpected content %q", data)
	}
	if result.Metadata["created"] != true || result.Metadata["additions"] != 2 {
		t.Errorf("unexpected metadata %v", result.Metadata)
	}

	input = mustJSON(t, map[string]any{"path": path, "content": "one\nthree\n"})
	result, err = NewWriteTool().Execute(context.Background(), input, toolCtx)
	if err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if result.Metadata["created"] != false || result.Metadata["deletions"] != 1 {
		t.Errorf("unexpected metadata %v", result.Metadata)
	}
}

func TestWriteTool_ParentMustExist(t *testing.T) {
	toolCtx := testContext(t)
	input := mustJSON(t, map[string]any{"path": "missing/dir/out.txt", "content": "x"})
	if _, err := NewWriteTool().Execute(context.Background(), input, toolCtx); err == nil {
		t.Fatal("expected error when parent directory is missing")
	}
	if _, err := os.Stat(filepath.Join(toolCtx.WorkDir, "missing")); !os.IsNotExist(err) {
		t.Error("write_file must not create parent directories")
	}
}

func TestWriteTool_DescribeApproval(t *testing.T) {
	toolCtx := testContext(t)
	path := filepath.Join(toolCtx.WorkDir, "notes.txt")
	os.WriteFile(path, []byte("alpha\nbeta\n"), 0o644)

	a := NewWriteTool().DescribeApproval(mustJSON(t, map[string]any{"path": path, "content": "alpha\ngamma\n"}), toolCtx)
	if a.Scope.Kind != permission.ScopeDir || a.Scope.Dir != toolCtx.WorkDir {
		t.Errorf("expected directory scope %s, got %+v", toolCtx.WorkDir, a.Scope)
	}
	for _, want := range []string{"+1 -1", "-beta", "+gamma", "--- notes.txt"} {
		if !strings.Contains(a.Preview, want) {
			t.Errorf("preview missing %q:\n%s", want, a.Preview)
		}
	}
	if !strings.Contains(a.Prompt, path) {
		t.Errorf("prompt should name the file: %s", a.Prompt)
	}
	if data, _ := os.ReadFile(path); string(data) != "alpha\nbeta\n" {
		t.Error("describing an approval must not write")
	}
}

func TestPreviewWrite(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "sub", "new.txt")

	created := previewWrite(path, workDir, nil, false, "a\nb\n")
	if !created.Created || created.Additions != 2 || created.Deletions != 0 {
		t.Errorf("unexpected preview %+v", created)
	}
	text := created.String()
	for _, want := range []string{"+2 -0 (new file)", "--- /dev/null", "+++ " + filepath.Join("sub", "new.txt")} {
		if !strings.Contains(text, want) {
			t.Errorf("preview missing %q:\n%s", want, text)
		}
	}

	same := previewWrite(path, workDir, []byte("a\n"), true, "a\n")
	if same.Changed() || same.String() != "no changes" {
		t.Errorf("identical content should be unchanged, got %q", same.String())
	}

	outside := previewWrite("/elsewhere/x.txt", workDir, nil, false, "x")
	if outside.File != "/elsewhere/x.txt" {
		t.Errorf("paths outside the working directory stay absolute, got %q", outside.File)
	}
	if outside.metadata()["additions"] != 1 {
		t.Errorf("unexpected metadata %v", outside.metadata())
	}
}

func TestCreateDirTool(t *testing.T) {
	toolCtx := testContext(t)
	target := filepath.Join(toolCtx.WorkDir, "a", "b")

	if _, err := NewCreateDirTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": "a/b"}), toolCtx); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	if _, err := NewCreateDirTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": target}), toolCtx); err != nil {
		t.Errorf("exist_ok defaults to true: %v", err)
	}
	_, err := NewCreateDirTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": target, "exist_ok": false}), toolCtx)
	if err == nil {
		t.Error("expected error with exist_ok=false")
	}

	a := NewCreateDirTool().DescribeApproval(mustJSON(t, map[string]any{"path": "a/b"}), toolCtx)
	if a.Scope.Dir != target {
		t.Errorf("scope should be the target itself, got %s", a.Scope.Dir)
	}
}

func TestDeletePathTool(t *testing.T) {
	toolCtx := testContext(t)
	dir := filepath.Join(toolCtx.WorkDir, "d")
	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	os.WriteFile(filepath.Join(dir, "sub", "f"), []byte("x"), 0o644)

	del := NewDeletePathTool()
	if _, err := del.Execute(context.Background(), mustJSON(t, map[string]any{"path": dir}), toolCtx); err == nil {
		t.Error("non-recursive delete of a non-empty directory must fail")
	}
	if _, err := del.Execute(context.Background(), mustJSON(t, map[string]any{"path": dir, "recursive": true}), toolCtx); err != nil {
		t.Fatalf("recursive delete failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("directory still exists")
	}
	if _, err := del.Execute(context.Background(), mustJSON(t, map[string]any{"path": dir}), toolCtx); err == nil {
		t.Error("deleting a missing path must fail")
	}
	if _, err := del.Execute(context.Background(), mustJSON(t, map[string]any{"path": "/", "recursive": true}), toolCtx); err == nil {
		t.Error("deleting the root must be refused")
	}
}

func TestSkillsDirTool(t *testing.T) {
	result, err := NewSkillsDirTool("/data/skills").Execute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "/data/skills" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestRecentCalls(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: `{"path":"a"}`},
			{ID: "c2", Name: "run_shell", Arguments: `{"command":"ls"}`},
		}},
		{Role: types.RoleTool, ToolCallID: "c1", ToolName: "read_file", Content: "contents", Status: types.ToolExecuted},
		{Role: types.RoleTool, ToolCallID: "c2", ToolName: "run_shell", Content: "denied", Status: types.ToolDenied},
	}

	calls := RecentCalls(history, 5)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Tool != "run_shell" || calls[0].Status != types.ToolDenied || calls[0].Arguments != `{"command":"ls"}` {
		t.Errorf("newest call first, got %+v", calls[0])
	}

	toolCtx := &Context{History: func() []types.Message { return history }}
	result, err := NewRecentCallsTool().Execute(context.Background(), mustJSON(t, map[string]any{"limit": 1}), toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var out []RecentCall
	if err := json.Unmarshal([]byte(result.Output), &out); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if len(out) != 1 || out[0].Tool != "run_shell" {
		t.Errorf("unexpected output %+v", out)
	}
}
