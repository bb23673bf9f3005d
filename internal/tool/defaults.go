package tool

import (
	"time"

	"github.com/yabot-dev/yabot/internal/skills"
)

// Config selects and tunes the built-in tool set.
type Config struct {
	WorkDir      string
	SkillsDir    string
	ShellTimeout time.Duration
	FetchTimeout time.Duration
	MaxOutput    int
	Sensitivity  map[string]string
	Disabled     []string
	Skills       *skills.Set
}

// DefaultRegistry creates a registry holding every built-in tool plus one
// tool per loaded skill.
func DefaultRegistry(cfg Config) (*Registry, error) {
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	r := NewRegistry(Options{Sensitivity: cfg.Sensitivity, Disabled: cfg.Disabled})
	builtins := []Tool{
		NewReadTool(maxOutput),
		NewListTool(maxOutput),
		NewSkillsDirTool(cfg.SkillsDir),
		NewFetchTool(cfg.FetchTimeout, maxOutput),
		NewRecentCallsTool(),
		NewAskUserTool(),
		NewWriteTool(),
		NewCreateDirTool(),
		NewDeletePathTool(),
		NewShellTool(cfg.ShellTimeout, maxOutput),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	r.SetSkills(cfg.Skills)
	return r, nil
}
