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

const createDirDescription = `Create a directory, including missing parents.

Usage:
- exist_ok (default true) controls whether an existing directory is an error
- Requires approval`

// CreateDirTool implements create_dir.
type CreateDirTool struct{}

// CreateDirInput represents the input for create_dir.
type CreateDirInput struct {
	Path    string `json:"path"`
	ExistOK *bool  `json:"exist_ok,omitempty"`
}

// NewCreateDirTool creates create_dir.
func NewCreateDirTool() *CreateDirTool { return &CreateDirTool{} }

func (t *CreateDirTool) ID() string                     { return "create_dir" }
func (t *CreateDirTool) Description() string            { return createDirDescription }
func (t *CreateDirTool) Sensitivity() types.Sensitivity { return types.Sensitive }

func (t *CreateDirTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"minLength": 1,
				"description": "The directory to create"
			},
			"exist_ok": {
				"type": "boolean",
				"description": "Succeed when the directory already exists (default true)"
			}
		},
		"required": ["path"]
	}`)
}

func (t *CreateDirTool) DescribeApproval(input json.RawMessage, toolCtx *Context) Approval {
	var params CreateDirInput
	_ = decode(input, &params)
	path := toolCtx.Resolve(params.Path)
	return Approval{
		Prompt: dirPrompt("creating directory", path, path),
		Scope:  dirScope(t.ID(), path),
	}
}

func (t *CreateDirTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params CreateDirInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	path := toolCtx.Resolve(params.Path)
	existOK := params.ExistOK == nil || *params.ExistOK

	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("path exists and is not a directory: %s", path)
		}
		if !existOK {
			return nil, fmt.Errorf("directory already exists: %s", path)
		}
		return &Result{Title: "Directory exists", Output: fmt.Sprintf("directory already exists: %s", path)}, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Result{
		Title:    fmt.Sprintf("Created %s", filepath.Base(path)),
		Output:   fmt.Sprintf("created directory %s", path),
		Metadata: map[string]any{"path": path},
	}, nil
}

const deletePathDescription = `Delete a file or directory.

Usage:
- Directories are only removed recursively when recursive is true
- Requires approval`

// DeletePathTool implements delete_path.
type DeletePathTool struct{}

// DeletePathInput represents the input for delete_path.
type DeletePathInput struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

// NewDeletePathTool creates delete_path.
func NewDeletePathTool() *DeletePathTool { return &DeletePathTool{} }

func (t *DeletePathTool) ID() string                     { return "delete_path" }
func (t *DeletePathTool) Description() string            { return deletePathDescription }
func (t *DeletePathTool) Sensitivity() types.Sensitivity { return types.Sensitive }

func (t *DeletePathTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"minLength": 1,
				"description": "The file or directory to delete"
			},
			"recursive": {
				"type": "boolean",
				"description": "Remove a non-empty directory and everything below it"
			}
		},
		"required": ["path"]
	}`)
}

func (t *DeletePathTool) DescribeApproval(input json.RawMessage, toolCtx *Context) Approval {
	var params DeletePathInput
	_ = decode(input, &params)
	path := toolCtx.Resolve(params.Path)
	verb := "deleting"
	if params.Recursive {
		verb = "recursively deleting"
	}
	return Approval{
		Prompt: dirPrompt(verb, path, path),
		Scope:  dirScope(t.ID(), path),
	}
}

func (t *DeletePathTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params DeletePathInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	path := toolCtx.Resolve(params.Path)
	if path == string(filepath.Separator) {
		return nil, types.NewError(types.CodeNotAllowed, "refusing to delete the filesystem root")
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("path does not exist: %s", path)
	}
	if err != nil {
		return nil, err
	}

	if info.IsDir() && params.Recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", path, err)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return &Result{
		Title:    fmt.Sprintf("Deleted %s", filepath.Base(path)),
		Output:   fmt.Sprintf("deleted %s %s", kind, path),
		Metadata: map[string]any{"path": path, "type": kind},
	}, nil
}
