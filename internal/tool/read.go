package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yabot-dev/yabot/pkg/types"
)

const readDescription = `Read a text file from disk.

Usage:
- path may be absolute or relative to the working directory
- Optional offset (1-based line) and limit (line count) select a range
- Binary files are refused; long content is truncated`

// ReadTool implements read_file.
type ReadTool struct {
	maxOutput int
}

// ReadInput represents the input for read_file.
type ReadInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// NewReadTool creates read_file.
func NewReadTool(maxOutput int) *ReadTool {
	return &ReadTool{maxOutput: maxOutput}
}

func (t *ReadTool) ID() string                     { return "read_file" }
func (t *ReadTool) Description() string            { return readDescription }
func (t *ReadTool) Sensitivity() types.Sensitivity { return types.Safe }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"minLength": 1,
				"description": "The file to read"
			},
			"offset": {
				"type": "integer",
				"minimum": 1,
				"description": "First line to return (1-based)"
			},
			"limit": {
				"type": "integer",
				"minimum": 1,
				"description": "Maximum number of lines to return"
			}
		},
		"required": ["path"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	path := toolCtx.Resolve(params.Path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s (use list_dir)", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		return nil, fmt.Errorf("file appears to be binary: %s", path)
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	totalLines := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		totalLines++
	}
	if params.Offset > 0 || params.Limit > 0 {
		text = sliceLines(text, params.Offset, params.Limit)
	}

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
		Output: truncate(text, t.maxOutput),
		Metadata: map[string]any{
			"file":       path,
			"bytes":      len(data),
			"totalLines": totalLines,
		},
	}, nil
}

func sliceLines(text string, offset, limit int) string {
	lines := strings.SplitAfter(text, "\n")
	start := 0
	if offset > 1 {
		start = offset - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "")
}

// isBinary checks the leading bytes for NULs or a high share of control
// characters.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	if n == 0 {
		return false
	}

	nonPrintable := 0
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}
