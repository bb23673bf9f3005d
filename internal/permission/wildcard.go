package permission

import (
	"strings"
)

// MatchPattern checks if a command matches a shell grant or deny pattern.
// Pattern format: "command subcommand *", "command *", "command" or "*".
// A bare "command" only matches the command without arguments.
func MatchPattern(pattern string, cmd BashCommand) bool {
	parts := strings.Fields(pattern)
	if len(parts) == 0 {
		return false
	}

	if parts[0] == "*" && len(parts) == 1 {
		return true
	}

	if parts[0] != "*" && parts[0] != cmd.Name {
		return false
	}

	if len(parts) == 1 {
		return len(cmd.Args) == 0
	}

	if parts[len(parts)-1] == "*" {
		for i := 1; i < len(parts)-1; i++ {
			argIndex := i - 1
			if argIndex >= len(cmd.Args) {
				return false
			}
			if parts[i] != "*" && parts[i] != cmd.Args[argIndex] {
				return false
			}
		}
		return true
	}

	if len(parts)-1 != len(cmd.Args) {
		return false
	}
	for i := 1; i < len(parts); i++ {
		if parts[i] != cmd.Args[i-1] {
			return false
		}
	}
	return true
}

// BuildPattern creates the grant pattern offered for a command.
// For "git commit -m msg", returns "git commit *"
// For "ls -la", returns "ls *"
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" && cmd.Args[0] == cmd.Subcommand {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.Name + " *"
}

// BuildPatterns creates grant patterns for every command in a line,
// without duplicates.
func BuildPatterns(commands []BashCommand) []string {
	seen := make(map[string]bool)
	var patterns []string

	for _, cmd := range commands {
		pattern := BuildPattern(cmd)
		if !seen[pattern] {
			seen[pattern] = true
			patterns = append(patterns, pattern)
		}
	}

	return patterns
}

// ShellScope parses a command line into an approval scope. Unparseable
// lines get no patterns, so they can never be remembered or auto-approved.
func ShellScope(tool, command string) Scope {
	s := Scope{Kind: ScopeShell, Tool: tool, Command: command}
	if commands, err := ParseBashCommand(command); err == nil {
		s.Patterns = BuildPatterns(commands)
	}
	return s
}
