package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yabot-dev/yabot/pkg/types"
)

const listDescription = `List entries in a directory path.

Usage:
- Returns a JSON object with the path and its entries (name, type, size)
- Optional pattern is a glob relative to path; "**" matches nested
  directories, e.g. "**/*.go"`

// maxListEntries bounds recursive glob listings.
const maxListEntries = 1000

// ListTool implements list_dir.
type ListTool struct {
	maxOutput int
}

// ListInput represents the input for list_dir.
type ListInput struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern,omitempty"`
}

// FileEntry represents a file or directory entry.
type FileEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

type listOutput struct {
	Path      string      `json:"path"`
	Entries   []FileEntry `json:"entries"`
	Truncated bool        `json:"truncated,omitempty"`
}

// NewListTool creates list_dir.
func NewListTool(maxOutput int) *ListTool {
	return &ListTool{maxOutput: maxOutput}
}

func (t *ListTool) ID() string                     { return "list_dir" }
func (t *ListTool) Description() string            { return listDescription }
func (t *ListTool) Sensitivity() types.Sensitivity { return types.Safe }

func (t *ListTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"minLength": 1,
				"description": "The directory to list"
			},
			"pattern": {
				"type": "string",
				"description": "Optional glob filter relative to path"
			}
		},
		"required": ["path"]
	}`)
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ListInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	listPath := toolCtx.Resolve(params.Path)

	info, err := os.Stat(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", listPath)
	}

	out := listOutput{Path: listPath, Entries: []FileEntry{}}
	if params.Pattern == "" {
		entries, err := os.ReadDir(listPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}
		for _, entry := range entries {
			out.Entries = append(out.Entries, fileEntry(entry.Name(), entry))
		}
	} else {
		if !doublestar.ValidatePattern(params.Pattern) {
			return nil, types.NewError(types.CodeInvalidArguments, "invalid glob pattern %q", params.Pattern)
		}
		fsys := os.DirFS(listPath)
		err := doublestar.GlobWalk(fsys, params.Pattern, func(p string, d fs.DirEntry) error {
			if len(out.Entries) >= maxListEntries {
				out.Truncated = true
				return doublestar.SkipDir
			}
			out.Entries = append(out.Entries, fileEntry(filepath.FromSlash(p), d))
			return ctx.Err()
		})
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", params.Pattern, err)
		}
	}

	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &Result{
		Title:  fmt.Sprintf("Listed %d items", len(out.Entries)),
		Output: truncate(string(payload), t.maxOutput),
		Metadata: map[string]any{
			"path":  listPath,
			"count": len(out.Entries),
		},
	}, nil
}

func fileEntry(name string, d fs.DirEntry) FileEntry {
	e := FileEntry{Name: name, Type: "other"}
	switch {
	case d.IsDir():
		e.Type = "dir"
	case d.Type().IsRegular():
		e.Type = "file"
		if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
	}
	return e
}
