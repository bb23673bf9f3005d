package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultSystemPrompt is the base instruction set of the assistant.
const DefaultSystemPrompt = `You are Yabot, a coding-first assistant.
Primary task: help with software engineering tasks (code, tests, debugging, refactors).
Always follow project instructions in any AGENTS.md file relevant to the task.
If the user doesn't specify a target directory, assume the current working directory is the target.
Be concise and precise. Ask clarifying questions only when needed.`

// SystemPrompt builds the system prompt sent with every model request.
type SystemPrompt struct {
	override string
	workDir  string
	now      func() time.Time
}

// NewSystemPrompt creates a builder. A non-empty override replaces the base
// prompt; environment context is always appended.
func NewSystemPrompt(override, workDir string) *SystemPrompt {
	return &SystemPrompt{override: override, workDir: workDir, now: time.Now}
}

// Build constructs the complete system prompt.
func (s *SystemPrompt) Build() string {
	var parts []string

	if s.override != "" {
		parts = append(parts, s.override)
	} else {
		parts = append(parts, DefaultSystemPrompt)
	}

	parts = append(parts, s.environmentContext())

	if rules := s.loadCustomRules(); rules != "" {
		parts = append(parts, rules)
	}

	parts = append(parts, toolInstructions)

	return strings.Join(parts, "\n\n")
}

func (s *SystemPrompt) environmentContext() string {
	var env strings.Builder

	env.WriteString("# Environment Information\n\n")

	workDir := s.workDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	env.WriteString(fmt.Sprintf("Working Directory: %s\n", workDir))
	env.WriteString(fmt.Sprintf("Current Date: %s\n", s.now().Format("2006-01-02")))
	env.WriteString(fmt.Sprintf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH))

	if branch := gitBranch(workDir); branch != "" {
		env.WriteString(fmt.Sprintf("Git Branch: %s\n", branch))
	}

	return env.String()
}

// loadCustomRules loads AGENTS.md from the working directory.
func (s *SystemPrompt) loadCustomRules() string {
	if s.workDir == "" {
		return ""
	}
	content, err := os.ReadFile(filepath.Join(s.workDir, "AGENTS.md"))
	if err != nil || len(strings.TrimSpace(string(content))) == 0 {
		return ""
	}
	return fmt.Sprintf("# Project Instructions (AGENTS.md)\n\n%s", string(content))
}

const toolInstructions = `# Tool Usage

- Read files and list directories before changing them
- Sensitive tools (write_file, create_dir, delete_path, run_shell) wait for a human decision
- When a call is denied, do not retry it unless the user asks; explain or ask instead
- Skill tools (skill__*) return instructions for a task; call one before doing that task`

func gitBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "branch", "--show-current")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
