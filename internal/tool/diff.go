package tool

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// writePreview is what write_file changes in one file. The approval prompt
// renders it, and the call's result metadata reports its counts.
type writePreview struct {
	// File is the path shown to the user, relative to the working
	// directory when it lies inside it.
	File      string
	Created   bool
	Additions int
	Deletions int
	Patch     string
}

// previewWrite diffs the current content of a file against the content
// write_file would leave behind. before is ignored when the file does not
// exist yet.
func previewWrite(path, workDir string, before []byte, existed bool, after string) writePreview {
	p := writePreview{File: displayPath(path, workDir), Created: !existed}
	old := ""
	if existed {
		old = string(before)
	}
	if old == after && existed {
		return p
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(old, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			p.Additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			p.Deletions += countLines(d.Text)
		}
	}
	p.Patch = dmp.PatchToText(dmp.PatchMake(old, diffs))
	return p
}

// Changed reports whether the write alters the file.
func (p writePreview) Changed() bool {
	return p.Created || p.Additions+p.Deletions > 0
}

// String renders the preview shown with the approval request.
func (p writePreview) String() string {
	if !p.Changed() {
		return "no changes"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "+%d -%d", p.Additions, p.Deletions)
	from := p.File
	if p.Created {
		b.WriteString(" (new file)")
		from = "/dev/null"
	}
	if p.Patch != "" {
		fmt.Fprintf(&b, "\n--- %s\n+++ %s\n%s", from, p.File, p.Patch)
	}
	return b.String()
}

func (p writePreview) metadata() map[string]any {
	return map[string]any{
		"file":      p.File,
		"created":   p.Created,
		"additions": p.Additions,
		"deletions": p.Deletions,
	}
}

func displayPath(path, workDir string) string {
	if workDir == "" {
		return path
	}
	rel, err := filepath.Rel(workDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
