// Package trace writes the daemon's append-only JSON Lines trace.
//
// Every record carries the stable keys schema_version, event, ts, trace_id,
// room_id, conv_id and (when a model is involved) model. Event-specific data
// is merged next to them. New event kinds must keep these names for anything
// comparable to an existing key so older readers keep working.
package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// SchemaVersion is the version stamped on records written by this package.
const SchemaVersion = 1

// EnvPath overrides the trace file location.
const EnvPath = "YABOT_TRACE_PATH"

// Event kinds.
const (
	EventDaemonStart         = "daemon_start"
	EventDaemonStop          = "daemon_stop"
	EventInvoke              = "invoke"
	EventCommand             = "command"
	EventPlanRequest         = "plan_request"
	EventPlanCreated         = "plan_created"
	EventToolCall            = "tool_call"
	EventToolResult          = "tool_result"
	EventApprovalRequest     = "approval_request"
	EventApproval            = "approval"
	EventAskUser             = "ask_user"
	EventResponse            = "response"
	EventCancelled           = "cancelled"
	EventModelError          = "model_error"
	EventModelRetry          = "model_retry"
	EventTurnError           = "turn_error"
	EventInvariant           = "invariant_violation"
	EventConversationCreated = "conversation_created"
	EventConversationReset   = "conversation_reset"
	EventConversationDeleted = "conversation_deleted"
	EventModelChanged        = "model_changed"
	EventNotAllowed          = "not_allowed"
)

// reserved keys cannot be overwritten by event data.
var reserved = map[string]bool{
	"schema_version": true,
	"event":          true,
	"ts":             true,
	"trace_id":       true,
	"room_id":        true,
	"conv_id":        true,
	"model":          true,
}

// Context identifies the turn a record belongs to.
type Context struct {
	TraceID string
	RoomID  string
	ConvID  string
	Model   string
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return ulid.Make().String()
}

// Recorder is the sink used by daemon components.
type Recorder interface {
	Record(event string, tc Context, data map[string]any) error
}

// Logger appends trace records to a file, flushing each line before
// returning.
type Logger struct {
	mu     sync.Mutex
	path   string
	out    *syncWriter
	zl     zerolog.Logger
	closed bool
	now    func() time.Time
}

// syncWriter fsyncs after every write and keeps the last error, since
// zerolog reports write failures to its error handler instead of the caller.
type syncWriter struct {
	f   *os.File
	err error
}

func (w *syncWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err == nil {
		err = w.f.Sync()
	}
	w.err = err
	return n, err
}

// DefaultPath returns the trace path from the environment, or fallback.
func DefaultPath(fallback string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return fallback
}

// Open opens (creating if needed) the trace file at path.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	out := &syncWriter{f: f}
	return &Logger{path: path, out: out, zl: zerolog.New(out), now: time.Now}, nil
}

// Path returns the trace file location.
func (l *Logger) Path() string { return l.path }

// Record writes one record and syncs it to disk.
func (l *Logger) Record(event string, tc Context, data map[string]any) error {
	fields := make(map[string]any, len(data))
	for k, v := range data {
		if !reserved[k] {
			fields[k] = v
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("trace logger closed")
	}

	e := l.zl.Log().
		Int("schema_version", SchemaVersion).
		Str("event", event).
		Str("ts", l.now().UTC().Format(time.RFC3339Nano)).
		Str("trace_id", tc.TraceID).
		Str("room_id", tc.RoomID).
		Str("conv_id", tc.ConvID)
	if tc.Model != "" {
		e = e.Str("model", tc.Model)
	}
	l.out.err = nil
	e.Fields(fields).Send()
	if l.out.err != nil {
		return fmt.Errorf("write trace record: %w", l.out.err)
	}
	return nil
}

// Close closes the trace file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.out.f.Close()
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(string, Context, map[string]any) error { return nil }
