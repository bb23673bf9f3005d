// Package skills loads markdown skill files and exposes them as tools.
//
// A skill is a markdown file whose YAML front matter names and describes it:
//
//	---
//	name: Release Notes
//	description: Write release notes from a list of merged changes
//	---
//	Group changes by area, newest first...
//
// Each skill becomes a tool named skill__<slug>; when the model calls it the
// body is returned as the tool result.
package skills

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolPrefix prefixes every skill tool name.
const ToolPrefix = "skill__"

const boundary = "---"

// Skill is one loaded skill file.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Body        string `json:"-"`
	ToolName    string `json:"tool_name"`
	Path        string `json:"path"`
}

type frontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Set is an immutable collection of skills indexed by tool name.
type Set struct {
	skills []Skill
	byTool map[string]*Skill
}

// Skills returns the skills in load order.
func (s *Set) Skills() []Skill {
	if s == nil {
		return nil
	}
	return append([]Skill(nil), s.skills...)
}

// Get looks a skill up by tool name.
func (s *Set) Get(toolName string) (Skill, bool) {
	if s == nil {
		return Skill{}, false
	}
	sk, ok := s.byTool[toolName]
	if !ok {
		return Skill{}, false
	}
	return *sk, true
}

// Len returns the number of skills.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.skills)
}

// IsSkillTool reports whether name uses the skill tool prefix.
func IsSkillTool(name string) bool {
	return strings.HasPrefix(name, ToolPrefix)
}

// Load reads *.md files from each directory in order. Missing directories
// are skipped. Files without a front matter name and description are
// ignored; files that cannot be read or parsed are reported in errs but do
// not stop loading.
func Load(dirs []string) (*Set, []error) {
	set := &Set{byTool: make(map[string]*Skill)}
	used := make(map[string]bool)
	var errs []error

	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", dir, err))
			continue
		}
		sort.Strings(matches)

		for _, path := range matches {
			sk, ok, err := loadFile(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}
			sk.ToolName = uniqueToolName(ToolName(sk.Name), used)
			used[sk.ToolName] = true
			set.skills = append(set.skills, sk)
		}
	}

	for i := range set.skills {
		set.byTool[set.skills[i].ToolName] = &set.skills[i]
	}
	return set, errs
}

func loadFile(path string) (Skill, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, false, fmt.Errorf("read skill %s: %w", path, err)
	}

	header, body, ok := splitFrontMatter(content)
	if !ok {
		return Skill{}, false, nil
	}

	var fm frontMatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return Skill{}, false, fmt.Errorf("parse front matter of %s: %w", path, err)
	}
	fm.Name = strings.TrimSpace(fm.Name)
	fm.Description = strings.TrimSpace(fm.Description)
	if fm.Name == "" || fm.Description == "" {
		return Skill{}, false, nil
	}

	return Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Body:        strings.TrimSpace(string(body)),
		Path:        path,
	}, true, nil
}

// splitFrontMatter separates a leading "---" delimited header from the body.
func splitFrontMatter(content []byte) (header, body []byte, ok bool) {
	lines := bytes.Split(content, []byte("\n"))
	if len(lines) == 0 || strings.TrimSpace(string(lines[0])) != boundary {
		return nil, content, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(string(lines[i])) == boundary {
			return bytes.Join(lines[1:i], []byte("\n")), bytes.Join(lines[i+1:], []byte("\n")), true
		}
	}
	return nil, content, false
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ToolName derives the tool name for a skill name.
func ToolName(name string) string {
	slug := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_"), "_")
	if slug == "" {
		slug = "skill"
	}
	return ToolPrefix + slug
}

func uniqueToolName(base string, used map[string]bool) string {
	if !used[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !used[candidate] {
			return candidate
		}
	}
}
