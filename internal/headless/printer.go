package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/yabot-dev/yabot/pkg/types"
)

// palette holds the colors used for text output.
type palette struct {
	user      *color.Color
	assistant *color.Color
	tool      *color.Color
	muted     *color.Color
	approval  *color.Color
	err       *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		user:      color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgGreen, color.Bold),
		tool:      color.New(color.FgYellow),
		muted:     color.New(color.FgHiBlack),
		approval:  color.New(color.FgMagenta, color.Bold),
		err:       color.New(color.FgRed),
	}
	if noColor {
		for _, c := range []*color.Color{p.user, p.assistant, p.tool, p.muted, p.approval, p.err} {
			c.DisableColor()
		}
	}
	return p
}

// Printer renders daemon events in one of the output formats and tracks
// them for the final result.
type Printer struct {
	mu        sync.Mutex
	writer    io.Writer
	format    OutputFormat
	quiet     bool
	verbose   bool
	colors    palette
	startTime time.Time
	result    *Result
	toolCalls []ToolCall
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose, noColor bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		colors:    newPalette(noColor),
		startTime: time.Now(),
		result: &Result{
			Status:   "running",
			ExitCode: ExitSuccess,
		},
	}
}

// SetConversation sets the conversation the result describes.
func (p *Printer) SetConversation(convID, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.ConvID = convID
	p.result.RoomID = roomID
}

// SetModel updates the model in the result.
func (p *Printer) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Model = model
}

// SetResult updates the result with final values.
func (p *Printer) SetResult(status string, exitCode ExitCode, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Status = status
	p.result.ExitCode = exitCode
	if err != nil {
		p.result.Error = err.Error()
	}
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
}

// GetResult returns the current result.
func (p *Printer) GetResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
	p.result.ToolCalls = p.toolCalls
	out := *p.result
	return &out
}

// PrintFinalResult prints the final JSON result (for json format).
func (p *Printer) PrintFinalResult() {
	if p.format != OutputJSON {
		return
	}
	data, err := json.MarshalIndent(p.GetResult(), "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// Notice prints a local status line in text mode.
func (p *Printer) Notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format != OutputText || p.quiet {
		return
	}
	p.colors.muted.Fprintf(p.writer, format+"\n", args...)
}

// HandleEvent renders one event and tracks it for the result.
func (p *Printer) HandleEvent(ev types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trackEvent(ev)
	switch p.format {
	case OutputText:
		p.handleTextEvent(ev)
	case OutputJSONL:
		p.handleJSONLEvent(ev)
	}
}

// handleTextEvent outputs events in human-readable text format.
func (p *Printer) handleTextEvent(ev types.Event) {
	w, c := p.writer, p.colors
	if p.quiet {
		if ev.Type == types.EventResponse {
			fmt.Fprintln(w, ev.Text)
		}
		return
	}

	switch ev.Type {
	case types.EventAck:
		// Direct replies carry no output of their own.

	case types.EventHistory:
		fmt.Fprintln(w, c.muted.Sprintf("[%s] %d messages", truncateID(ev.ConvID), len(ev.Messages)))
		if p.verbose {
			for _, m := range ev.Messages {
				p.printMessage(m)
			}
		}
		if q := ev.Question; q != nil {
			fmt.Fprintf(w, "%s %s\n", c.approval.Sprint("question ›"), q.Text)
		}

	case types.EventMessage:
		if ev.Message != nil {
			if ev.Message.Role == types.RoleUser && !p.verbose {
				return
			}
			p.printMessage(*ev.Message)
		}

	case types.EventToolResult:
		if ev.Message != nil {
			p.printToolResult(*ev.Message)
		}

	case types.EventResponse:
		fmt.Fprintf(w, "%s %s\n", c.assistant.Sprint("assistant ›"), ev.Text)

	case types.EventState:
		if p.verbose {
			fmt.Fprintln(w, c.muted.Sprintf("[state] %s", ev.State))
		}

	case types.EventApprovalRequired:
		if a := ev.Approval; a != nil {
			fmt.Fprintf(w, "%s %s\n", c.approval.Sprint("approval required ›"), a.Prompt)
			if a.Preview != "" {
				fmt.Fprintln(w, c.muted.Sprint(indent(a.Preview)))
			}
			fmt.Fprintln(w, c.muted.Sprintf("  call %s: /approve, /approve always, or /deny [feedback]", a.CallID))
		}

	case types.EventQuestion:
		fmt.Fprintf(w, "%s %s\n", c.approval.Sprint("question ›"), ev.Text)
		fmt.Fprintln(w, c.muted.Sprint("  your next message answers it"))

	case types.EventApprovalResolved:
		if d := ev.Decision; d != nil {
			verb := "approved"
			if !d.Approved() {
				verb = "denied"
			}
			line := fmt.Sprintf("  %s by %s", verb, d.Actor)
			if d.Remember {
				line += " (remembered)"
			}
			if d.Feedback != "" {
				line += ": " + d.Feedback
			}
			fmt.Fprintln(w, c.muted.Sprint(line))
		}

	case types.EventTurnError, types.EventError:
		fmt.Fprintln(w, c.err.Sprintf("[error] %s", errorText(ev)))

	case types.EventCancelled:
		fmt.Fprintln(w, c.tool.Sprintf("[cancelled by %s]", ev.Text))

	case types.EventConversationCreated:
		fmt.Fprintln(w, c.muted.Sprintf("[new conversation %s, model %s]", ev.ConvID, ev.Model))

	case types.EventConversationReset:
		fmt.Fprintln(w, c.muted.Sprintf("[conversation %s reset by %s]", truncateID(ev.ConvID), ev.Text))

	case types.EventConversationDeleted:
		fmt.Fprintln(w, c.muted.Sprintf("[conversation %s deleted by %s]", truncateID(ev.ConvID), ev.Text))

	case types.EventModelChanged:
		fmt.Fprintln(w, c.muted.Sprintf("[model set to %s]", ev.Model))

	case types.EventConversationList:
		p.printConversations(ev.Conversations)

	case types.EventModelList:
		p.printModels(ev.Models)

	default:
		if ev.Text != "" {
			fmt.Fprintln(w, ev.Text)
		}
	}
}

func (p *Printer) printMessage(m types.Message) {
	w, c := p.writer, p.colors
	switch m.Role {
	case types.RoleUser:
		fmt.Fprintf(w, "%s %s\n", c.user.Sprint("user ›"), m.Content)
	case types.RoleAssistant:
		if m.Content != "" {
			fmt.Fprintf(w, "%s %s\n", c.assistant.Sprint("assistant ›"), m.Content)
		}
		for _, call := range m.ToolCalls {
			fmt.Fprintln(w, c.tool.Sprintf("→ %s %s", call.Name, formatToolInfo(call)))
		}
	case types.RoleTool:
		p.printToolResult(m)
	}
}

func (p *Printer) printToolResult(m types.Message) {
	w, c := p.writer, p.colors
	switch m.Status {
	case types.ToolDenied:
		fmt.Fprintln(w, c.err.Sprintf("  %s denied", m.ToolName))
	case types.ToolFailed:
		fmt.Fprintln(w, c.err.Sprintf("  %s failed: %s", m.ToolName, truncateOutput(m.Content, 200)))
	default:
		if p.verbose {
			fmt.Fprintln(w, c.muted.Sprint(indent(truncateOutput(m.Content, 2000))))
		} else {
			fmt.Fprintln(w, c.muted.Sprintf("  %s done", m.ToolName))
		}
	}
}

func (p *Printer) printConversations(convs []types.ConversationInfo) {
	if len(convs) == 0 {
		fmt.Fprintln(p.writer, p.colors.muted.Sprint("no conversations"))
		return
	}
	tw := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tCONVERSATION\tMODEL\tMESSAGES\tSTATE\tUPDATED")
	for _, info := range convs {
		marker := ""
		if info.Active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", marker, info.ConvID, info.Model,
			info.Messages, info.State, info.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func (p *Printer) printModels(models []types.ModelInfo) {
	tw := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tMODEL\tPROVIDER\tCONTEXT")
	for _, m := range models {
		marker := ""
		if m.Default {
			marker = "*"
		}
		ctx := "-"
		if m.ContextLength > 0 {
			ctx = fmt.Sprint(m.ContextLength)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, m.ID, m.Provider, ctx)
	}
	tw.Flush()
}

// handleJSONLEvent outputs events in JSONL format.
func (p *Printer) handleJSONLEvent(ev types.Event) {
	if !p.verbose && !isImportantEvent(ev.Type) {
		return
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(&Event{Type: string(ev.Type), Timestamp: ts, Data: ev})
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// trackEvent tracks events for the final result.
func (p *Printer) trackEvent(ev types.Event) {
	if ev.ConvID != "" && p.result.ConvID != "" && ev.ConvID != p.result.ConvID {
		return
	}
	switch ev.Type {
	case types.EventState:
		if ev.State == types.StateAwaitingModel {
			p.result.Steps++
		}
		if ev.Model != "" {
			p.result.Model = ev.Model
		}

	case types.EventMessage:
		if m := ev.Message; m != nil && m.HasToolCalls() {
			for _, call := range m.ToolCalls {
				p.toolCalls = append(p.toolCalls, ToolCall{CallID: call.ID, Tool: call.Name, Arguments: call.Arguments})
			}
		}

	case types.EventQuestion:

	case types.EventApprovalResolved:
		if d := ev.Decision; d != nil {
			if tc := p.findCall(d.CallID); tc != nil {
				tc.Approval = d
			}
		}

	case types.EventToolResult:
		if m := ev.Message; m != nil {
			if tc := p.findCall(m.ToolCallID); tc != nil {
				tc.Output = truncateOutput(m.Content, 500)
				tc.Status = m.Status
			}
		}

	case types.EventResponse:
		p.result.FinalMessage = ev.Text

	case types.EventModelChanged:
		p.result.Model = ev.Model
	}
}

func (p *Printer) findCall(callID string) *ToolCall {
	for i := range p.toolCalls {
		if p.toolCalls[i].CallID == callID {
			return &p.toolCalls[i]
		}
	}
	return nil
}

func errorText(ev types.Event) string {
	if ev.Error != nil {
		return fmt.Sprintf("%s: %s", ev.Error.Code, ev.Error.Message)
	}
	return ev.Text
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}

// formatToolInfo summarizes a call's arguments for display.
func formatToolInfo(call types.ToolCall) string {
	var input map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
		return truncateOutput(call.Arguments, 60)
	}

	switch call.Name {
	case "read_file", "list_dir", "write_file", "create_dir", "delete_path":
		if path, ok := input["path"].(string); ok {
			return path
		}
	case "run_shell":
		if cmd, ok := input["command"].(string); ok {
			return "$ " + truncateOutput(strings.Split(cmd, "\n")[0], 60)
		}
	case "fetch_url":
		if url, ok := input["url"].(string); ok {
			return url
		}
	}
	return truncateOutput(call.Arguments, 60)
}

func isImportantEvent(t types.EventType) bool {
	switch t {
	case types.EventMessage,
		types.EventToolResult,
		types.EventResponse,
		types.EventApprovalRequired,
		types.EventApprovalResolved,
		types.EventQuestion,
		types.EventTurnError,
		types.EventCancelled,
		types.EventError:
		return true
	default:
		return false
	}
}
