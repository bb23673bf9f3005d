package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/cloudwego/eino/schema"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog/log"

	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/skills"
	"github.com/yabot-dev/yabot/pkg/types"
)

// Options tune a registry from configuration.
type Options struct {
	// Sensitivity overrides keyed by tool name. Overrides may only raise a
	// tool to sensitive; lowering a sensitive tool is ignored.
	Sensitivity map[string]string

	// Disabled tools are never registered.
	Disabled []string
}

type entry struct {
	tool   Tool
	schema *jsonschema.Resolved
	skill  bool
}

// Registry manages tool registration, validation and dispatch.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*entry
	order    []string
	raised   map[string]bool
	disabled map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		tools:    make(map[string]*entry),
		raised:   make(map[string]bool),
		disabled: make(map[string]bool),
	}
	for name, value := range opts.Sensitivity {
		s, ok := types.ParseSensitivity(strings.ToLower(value))
		if !ok {
			log.Warn().Str("tool", name).Str("value", value).Msg("ignoring unknown sensitivity")
			continue
		}
		if s == types.Sensitive {
			r.raised[name] = true
		}
	}
	for _, name := range opts.Disabled {
		r.disabled[name] = true
	}
	return r
}

// Register adds a tool. Its parameter schema is compiled once here.
func (r *Registry) Register(t Tool) error {
	return r.register(t, false)
}

func (r *Registry) register(t Tool, skill bool) error {
	if r.disabled[t.ID()] {
		log.Debug().Str("tool", t.ID()).Msg("tool disabled by configuration")
		return nil
	}

	resolved, err := compileSchema(t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s: %w", t.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.ID()]; exists {
		return fmt.Errorf("tool %s already registered", t.ID())
	}
	r.tools[t.ID()] = &entry{tool: t, schema: resolved, skill: skill}
	r.order = append(r.order, t.ID())
	return nil
}

func compileSchema(params json.RawMessage) (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(params, &s); err != nil {
		return nil, fmt.Errorf("parse parameter schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve parameter schema: %w", err)
	}
	return resolved, nil
}

// SetSkills replaces every skill tool with one tool per skill in set.
func (r *Registry) SetSkills(set *skills.Set) {
	r.mu.Lock()
	order := r.order[:0]
	for _, id := range r.order {
		if r.tools[id].skill {
			delete(r.tools, id)
			continue
		}
		order = append(order, id)
	}
	r.order = order
	r.mu.Unlock()

	for _, sk := range set.Skills() {
		if err := r.register(NewSkillTool(sk), true); err != nil {
			log.Warn().Err(err).Str("skill", sk.Name).Msg("skill tool not registered")
		}
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, id := range r.order {
		tools = append(tools, r.tools[id].tool)
	}
	return tools
}

// IDs returns all tool names in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Sensitivity returns the effective sensitivity of a tool, applying
// configured overrides. Unknown tools are treated as sensitive.
func (r *Registry) Sensitivity(id string) types.Sensitivity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok || r.raised[id] {
		return types.Sensitive
	}
	if e.tool.Sensitivity() == types.Sensitive {
		return types.Sensitive
	}
	return types.Safe
}

// ToolInfos returns the eino declarations of every tool.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	tools := r.List()
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, ToolInfo(t))
	}
	return infos
}

// Prepare validates a model tool call and binds it to a conversation.
// Unknown tools and arguments that are not a JSON object matching the
// tool's schema fail with an invalid_arguments error.
func (r *Registry) Prepare(call types.ToolCall, convID, roomID string) (types.ToolCallRequest, error) {
	req := types.ToolCallRequest{Call: call, ConvID: convID, RoomID: roomID}

	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		msg := fmt.Sprintf("unknown tool %q", call.Name)
		if s := r.Suggest(call.Name); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return req, types.NewError(types.CodeInvalidArguments, "%s", msg)
	}

	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return req, types.WrapError(types.CodeInvalidArguments, err, "arguments are not valid JSON")
	}
	if _, isObject := instance.(map[string]any); !isObject {
		return req, types.NewError(types.CodeInvalidArguments, "arguments must be a JSON object")
	}
	if err := e.schema.Validate(instance); err != nil {
		return req, types.WrapError(types.CodeInvalidArguments, err, "arguments do not match schema")
	}

	req.Input = json.RawMessage(raw)
	req.Sensitivity = r.Sensitivity(call.Name)
	return req, nil
}

// DescribeApproval builds the approval prompt for a prepared call.
func (r *Registry) DescribeApproval(req types.ToolCallRequest, toolCtx *Context) Approval {
	t, ok := r.Get(req.Call.Name)
	if ok {
		if a, ok := t.(Approver); ok {
			return a.DescribeApproval(req.Input, toolCtx)
		}
	}
	return Approval{
		Prompt: fmt.Sprintf("Approve calling `%s` with %s?", req.Call.Name, req.Call.Arguments),
		Scope:  permission.Scope{Kind: permission.ScopeTool, Tool: req.Call.Name},
	}
}

// Execute runs a prepared call. Tool errors and panics are returned as
// tool_execution_failed errors so the loop can feed them back to the model.
func (r *Registry) Execute(ctx context.Context, req types.ToolCallRequest, toolCtx *Context) (result *Result, err error) {
	t, ok := r.Get(req.Call.Name)
	if !ok {
		return nil, types.NewError(types.CodeInvalidArguments, "unknown tool %q", req.Call.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("tool", req.Call.Name).Interface("panic", p).Bytes("stack", debug.Stack()).Msg("tool panicked")
			result, err = nil, types.NewError(types.CodeToolExecutionFailed, "tool %s panicked: %v", req.Call.Name, p)
		}
	}()

	result, err = t.Execute(ctx, req.Input, toolCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var classified *types.Error
		if !errors.As(err, &classified) {
			err = types.WrapError(types.CodeToolExecutionFailed, err, req.Call.Name)
		}
		return nil, err
	}
	if result == nil {
		result = &Result{}
	}
	return result, nil
}

// Suggest returns the registered tool name closest to name, if any is
// close enough to be a plausible typo.
func (r *Registry) Suggest(name string) string {
	return Closest(name, r.IDs())
}

// Closest returns the candidate with the smallest edit distance to name when
// that distance is at most a third of the name's length (minimum 2).
func Closest(name string, candidates []string) string {
	best, bestDist := "", -1
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}
