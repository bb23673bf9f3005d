package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/yabot-dev/yabot/internal/session"
	"github.com/yabot-dev/yabot/pkg/types"
)

var commandRe = regexp.MustCompile(`^!(\w+)(?:\s+(.*))?$`)

// Command is a parsed chat command.
type Command struct {
	Name string `json:"name"`
	Arg  string `json:"arg,omitempty"`
}

// Parse recognizes text of the form "!name [argument]". Names are
// case-insensitive.
func Parse(text string) (Command, bool) {
	m := commandRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(m[1]), Arg: strings.TrimSpace(m[2])}, true
}

// Builtin describes one chat command.
type Builtin struct {
	Name        string
	Usage       string
	Description string
}

// BuiltinCommands returns the chat commands in help order.
func BuiltinCommands() []Builtin {
	return []Builtin{
		{Name: "help", Usage: "!help", Description: "Show this help"},
		{Name: "models", Usage: "!models", Description: "List available models"},
		{Name: "model", Usage: "!model <name>", Description: "Set the model of the active conversation"},
		{Name: "new", Usage: "!new", Description: "Start a new conversation"},
		{Name: "list", Usage: "!list", Description: "List this room's conversations"},
		{Name: "use", Usage: "!use <id>", Description: "Switch the active conversation"},
		{Name: "reset", Usage: "!reset", Description: "Clear the active conversation's memory"},
		{Name: "stop", Usage: "!stop", Description: "Stop the current response"},
	}
}

// HelpText lists the chat commands.
func HelpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range BuiltinCommands() {
		fmt.Fprintf(&b, "%-14s %s\n", c.Usage, c.Description)
	}
	return b.String()
}

// Registry is the part of the session registry commands operate on.
type Registry interface {
	ListModels() []types.ModelInfo
	DefaultModel() string
	NewConversation(roomID, model, actor string) (types.ConversationInfo, error)
	ListConversations(roomID string) []types.ConversationInfo
	UseConversation(roomID, convID string) error
	Resolve(t session.Target) (string, error)
	SetModel(convID, model, actor string) error
	Reset(convID, actor string) error
	Cancel(convID, actor string) (bool, error)
}

// ExecuteResult is the reply to a command.
type ExecuteResult struct {
	Type          types.EventType          `json:"type"`
	Text          string                   `json:"text"`
	ConvID        string                   `json:"conv_id,omitempty"`
	Models        []types.ModelInfo        `json:"models,omitempty"`
	Conversations []types.ConversationInfo `json:"conversations,omitempty"`
}

// Executor runs chat commands against the registry. Commands never enter
// the agent loop.
type Executor struct {
	registry Registry
}

// NewExecutor creates a command executor.
func NewExecutor(registry Registry) *Executor {
	return &Executor{registry: registry}
}

// Scope is where a command was typed: a room, and optionally a conversation
// the client is focused on.
type Scope struct {
	RoomID string
	ConvID string
	Sender string
}

// Execute runs cmd. User errors (unknown model, missing argument) are
// returned as reply text; only registry failures are errors.
func (e *Executor) Execute(ctx context.Context, scope Scope, cmd Command) (*ExecuteResult, error) {
	switch cmd.Name {
	case "help", "h":
		return &ExecuteResult{Type: types.EventHelp, Text: HelpText()}, nil
	case "models":
		return e.models(), nil
	case "model":
		return e.model(scope, cmd.Arg)
	case "new":
		return e.newConversation(scope)
	case "list":
		return e.list(scope), nil
	case "use":
		return e.use(scope, cmd.Arg)
	case "reset":
		return e.reset(scope)
	case "stop":
		return e.stop(scope)
	}

	text := fmt.Sprintf("Unknown command `!%s`.", cmd.Name)
	if s := suggest(cmd.Name); s != "" {
		text += fmt.Sprintf(" Did you mean `!%s`?", s)
	}
	return &ExecuteResult{Type: types.EventHelp, Text: text + "\n" + HelpText()}, nil
}

func (e *Executor) models() *ExecuteResult {
	models := e.registry.ListModels()
	var b strings.Builder
	b.WriteString("Available models:\n")
	for _, m := range models {
		mark := ""
		if m.Default {
			mark = " (default)"
		}
		fmt.Fprintf(&b, "- %s%s\n", m.ID, mark)
	}
	return &ExecuteResult{Type: types.EventModelList, Text: b.String(), Models: models}
}

func (e *Executor) model(scope Scope, name string) (*ExecuteResult, error) {
	if name == "" {
		ids := make([]string, 0)
		for _, m := range e.registry.ListModels() {
			ids = append(ids, m.ID)
		}
		return &ExecuteResult{Type: types.EventHelp, Text: "Usage: !model <name>\n" + strings.Join(ids, "\n")}, nil
	}

	convID, err := e.active(scope)
	if errors.Is(err, types.ErrNotFound) && scope.RoomID != "" {
		info, err := e.registry.NewConversation(scope.RoomID, name, scope.Sender)
		if errors.Is(err, types.ErrInvalidArguments) {
			return unknownModel(err), nil
		}
		if err != nil {
			return nil, err
		}
		return &ExecuteResult{
			Type:   types.EventModelChanged,
			Text:   fmt.Sprintf("Model set to `%s` for a new conversation `%s`.", name, info.ConvID),
			ConvID: info.ConvID,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := e.registry.SetModel(convID, name, scope.Sender); err != nil {
		if errors.Is(err, types.ErrInvalidArguments) {
			return unknownModel(err), nil
		}
		return nil, err
	}
	return &ExecuteResult{
		Type:   types.EventModelChanged,
		Text:   fmt.Sprintf("Model set to `%s` for the active conversation.", name),
		ConvID: convID,
	}, nil
}

func unknownModel(err error) *ExecuteResult {
	return &ExecuteResult{Type: types.EventError, Text: types.InfoOf(err).Message + "\nUse !models."}
}

func (e *Executor) newConversation(scope Scope) (*ExecuteResult, error) {
	info, err := e.registry.NewConversation(scope.RoomID, "", scope.Sender)
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{
		Type:          types.EventConversationCreated,
		Text:          fmt.Sprintf("Started new conversation `%s` [%s].", info.ConvID, info.Model),
		ConvID:        info.ConvID,
		Conversations: []types.ConversationInfo{info},
	}, nil
}

func (e *Executor) list(scope Scope) *ExecuteResult {
	convs := e.registry.ListConversations(scope.RoomID)
	var b strings.Builder
	if len(convs) == 0 {
		b.WriteString("No conversations yet. Send a message or use !new.")
	} else {
		b.WriteString("Conversations:\n")
		for _, c := range convs {
			mark := ""
			if c.Active {
				mark = " (active)"
			}
			fmt.Fprintf(&b, "- `%s` [%s] msgs=%d%s\n", c.ConvID, c.Model, c.Messages, mark)
		}
	}
	return &ExecuteResult{Type: types.EventConversationList, Text: b.String(), Conversations: convs}
}

func (e *Executor) use(scope Scope, convID string) (*ExecuteResult, error) {
	if convID == "" {
		return &ExecuteResult{Type: types.EventHelp, Text: "Usage: !use <conversation_id>"}, nil
	}
	if scope.RoomID == "" {
		return &ExecuteResult{Type: types.EventError, Text: "!use needs a room."}, nil
	}
	if err := e.registry.UseConversation(scope.RoomID, convID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &ExecuteResult{Type: types.EventError, Text: fmt.Sprintf("No conversation `%s`. Use !list.", convID)}, nil
		}
		return nil, err
	}
	return &ExecuteResult{
		Type:   types.EventConversationList,
		Text:   fmt.Sprintf("Switched active conversation to `%s`.", convID),
		ConvID: convID,
	}, nil
}

func (e *Executor) reset(scope Scope) (*ExecuteResult, error) {
	convID, err := e.active(scope)
	if errors.Is(err, types.ErrNotFound) {
		return &ExecuteResult{Type: types.EventError, Text: "No active conversation to reset."}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.registry.Reset(convID, scope.Sender); err != nil {
		return nil, err
	}
	return &ExecuteResult{
		Type:   types.EventConversationReset,
		Text:   "Cleared memory for the active conversation.",
		ConvID: convID,
	}, nil
}

func (e *Executor) stop(scope Scope) (*ExecuteResult, error) {
	convID, err := e.active(scope)
	if errors.Is(err, types.ErrNotFound) {
		return &ExecuteResult{Type: types.EventCancelled, Text: "No active response to stop."}, nil
	}
	if err != nil {
		return nil, err
	}
	stopped, err := e.registry.Cancel(convID, scope.Sender)
	if err != nil {
		return nil, err
	}
	text := "No active response to stop."
	if stopped {
		text = "Stopping current response."
	}
	return &ExecuteResult{Type: types.EventCancelled, Text: text, ConvID: convID}, nil
}

// active resolves the conversation a command applies to.
func (e *Executor) active(scope Scope) (string, error) {
	return e.registry.Resolve(session.Target{RoomID: scope.RoomID, ConvID: scope.ConvID})
}

// suggest returns the builtin closest to name when it is a plausible typo.
func suggest(name string) string {
	names := make([]string, 0)
	for _, c := range BuiltinCommands() {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	best, bestDist := "", len(name)
	for _, n := range names {
		if d := levenshtein.ComputeDistance(name, n); d < bestDist {
			best, bestDist = n, d
		}
	}
	if bestDist > 2 {
		return ""
	}
	return best
}
