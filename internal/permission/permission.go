package permission

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yabot-dev/yabot/pkg/types"
)

// ScopeKind identifies what a remembered approval covers.
type ScopeKind string

const (
	ScopeShell ScopeKind = "shell"
	ScopeDir   ScopeKind = "dir"
	ScopeTool  ScopeKind = "tool"
)

// Scope describes what approving one tool call would cover if remembered.
type Scope struct {
	Kind ScopeKind
	Tool string

	// Shell commands: the parsed command line and its approval patterns.
	Command  string
	Patterns []string

	// Filesystem tools: the absolute directory the call touches.
	Dir string
}

// Grants is a mutable set of remembered approvals for one room or
// conversation. It is safe for concurrent use.
type Grants struct {
	mu    sync.RWMutex
	shell map[string]bool
	dirs  map[string]bool
	tools map[string]bool
}

// NewGrants creates a grant set seeded from a persisted or configured set.
func NewGrants(seed types.GrantSet) *Grants {
	g := &Grants{
		shell: make(map[string]bool),
		dirs:  make(map[string]bool),
		tools: make(map[string]bool),
	}
	g.Merge(seed)
	return g
}

// Merge adds every grant in set.
func (g *Grants) Merge(set types.GrantSet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range set.Shell {
		g.shell[strings.TrimSpace(p)] = true
	}
	for _, d := range set.Dirs {
		g.dirs[normalizeDirGrant(d)] = true
	}
	for _, t := range set.Tools {
		g.tools[t] = true
	}
}

// Remember records the scope of an approved call.
func (g *Grants) Remember(s Scope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch s.Kind {
	case ScopeShell:
		for _, p := range s.Patterns {
			g.shell[p] = true
		}
	case ScopeDir:
		if s.Dir != "" {
			g.dirs[normalizeDirGrant(s.Dir)] = true
		}
	default:
		if s.Tool != "" {
			g.tools[s.Tool] = true
		}
	}
}

// Match returns the grant label covering s, if any. Labels have the form
// "shell:<pattern>", "dir:<glob>" or "tool:<name>".
func (g *Grants) Match(s Scope) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.tools[s.Tool] {
		return "tool:" + s.Tool, true
	}

	switch s.Kind {
	case ScopeShell:
		return g.matchShell(s.Command)
	case ScopeDir:
		return g.matchDir(s.Dir)
	}
	return "", false
}

// matchShell requires every command in the line to be covered by some
// remembered pattern.
func (g *Grants) matchShell(command string) (string, bool) {
	if command == "" || len(g.shell) == 0 {
		return "", false
	}
	commands, err := ParseBashCommand(command)
	if err != nil || len(commands) == 0 {
		return "", false
	}

	var used []string
	for _, cmd := range commands {
		matched := ""
		for _, p := range g.sortedShell() {
			if MatchPattern(p, cmd) {
				matched = p
				break
			}
		}
		if matched == "" {
			return "", false
		}
		used = appendUnique(used, matched)
	}
	return "shell:" + strings.Join(used, ","), true
}

func (g *Grants) matchDir(dir string) (string, bool) {
	if dir == "" {
		return "", false
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	for _, glob := range g.sortedDirs() {
		if ok, _ := doublestar.Match(glob, dir); ok {
			return "dir:" + glob, true
		}
		if base := strings.TrimSuffix(glob, "/**"); base != glob && base == dir {
			return "dir:" + glob, true
		}
	}
	return "", false
}

// Snapshot returns the grants in persisted form.
func (g *Grants) Snapshot() types.GrantSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return types.GrantSet{
		Shell: g.sortedShell(),
		Dirs:  g.sortedDirs(),
		Tools: sortedKeys(g.tools),
	}
}

// Clear removes every remembered grant.
func (g *Grants) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shell = make(map[string]bool)
	g.dirs = make(map[string]bool)
	g.tools = make(map[string]bool)
}

func (g *Grants) sortedShell() []string { return sortedKeys(g.shell) }
func (g *Grants) sortedDirs() []string  { return sortedKeys(g.dirs) }

// normalizeDirGrant turns a plain directory into a glob covering the
// directory and its descendants. Explicit globs are kept.
func normalizeDirGrant(dir string) string {
	dir = filepath.ToSlash(strings.TrimSpace(dir))
	if strings.ContainsAny(dir, "*?[{") {
		return dir
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	if dir == "/" {
		return "/**"
	}
	return dir + "/**"
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
