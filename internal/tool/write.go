package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yabot-dev/yabot/pkg/types"
)

const writeDescription = `Write text content to a file, overwriting it.

Usage:
- path may be absolute or relative to the working directory
- The parent directory must already exist (use create_dir first)
- Requires approval; the approval shows a diff of the change`

// WriteTool implements write_file.
type WriteTool struct{}

// WriteInput represents the input for write_file.
type WriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NewWriteTool creates write_file.
func NewWriteTool() *WriteTool {
	return &WriteTool{}
}

func (t *WriteTool) ID() string                     { return "write_file" }
func (t *WriteTool) Description() string            { return writeDescription }
func (t *WriteTool) Sensitivity() types.Sensitivity { return types.Sensitive }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"minLength": 1,
				"description": "The file to write"
			},
			"content": {
				"type": "string",
				"description": "The full new content of the file"
			}
		},
		"required": ["path", "content"]
	}`)
}

// DescribeApproval previews the write as a unified diff against the
// current file content. The grant scope is the parent directory.
func (t *WriteTool) DescribeApproval(input json.RawMessage, toolCtx *Context) Approval {
	var params WriteInput
	_ = decode(input, &params)
	path := toolCtx.Resolve(params.Path)
	dir := filepath.Dir(path)

	before, err := os.ReadFile(path)
	workDir := ""
	if toolCtx != nil {
		workDir = toolCtx.WorkDir
	}
	preview := previewWrite(path, workDir, before, err == nil, params.Content)

	return Approval{
		Prompt:  dirPrompt("writing", path, dir),
		Preview: truncate(preview.String(), DefaultMaxOutput),
		Scope:   dirScope(t.ID(), dir),
	}
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	path := toolCtx.Resolve(params.Path)

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("parent directory does not exist: %s", dir)
	}

	before, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read existing file: %w", err)
	}
	existed := err == nil

	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	preview := previewWrite(path, "", before, existed, params.Content)
	return &Result{
		Title:    fmt.Sprintf("Wrote %s", filepath.Base(path)),
		Output:   fmt.Sprintf("wrote %d bytes to %s (+%d -%d)", len(params.Content), path, preview.Additions, preview.Deletions),
		Metadata: preview.metadata(),
	}, nil
}
