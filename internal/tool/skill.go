package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yabot-dev/yabot/internal/skills"
	"github.com/yabot-dev/yabot/pkg/types"
)

var emptyObjectSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// NewSkillTool exposes a skill as a safe tool whose result is the skill's
// instructions.
func NewSkillTool(sk skills.Skill) Tool {
	desc := fmt.Sprintf("Skill: %s. Call to load its instructions.", sk.Description)
	return NewBaseTool(sk.ToolName, desc, emptyObjectSchema, types.Safe,
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			return &Result{
				Title:    sk.Name,
				Output:   sk.Body,
				Metadata: map[string]any{"skill": sk.Name, "path": sk.Path},
			}, nil
		})
}

// NewSkillsDirTool creates get_skills_dir, which reports where new skills
// should be written.
func NewSkillsDirTool(dir string) Tool {
	return NewBaseTool("get_skills_dir",
		"Return the directory where skill markdown files are loaded from.",
		emptyObjectSchema, types.Safe,
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			return &Result{Title: "Skills directory", Output: dir}, nil
		})
}
