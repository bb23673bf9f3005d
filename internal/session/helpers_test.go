package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/provider"
	"github.com/yabot-dev/yabot/internal/storage"
	"github.com/yabot-dev/yabot/internal/tool"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

const waitTimeout = 3 * time.Second

// recorder is a Sink that keeps every delivered event.
type recorder struct {
	id     string
	mu     sync.Mutex
	events []types.Event
}

func newRecorder(id string) *recorder { return &recorder{id: id} }

func (r *recorder) ID() string { return r.id }

func (r *recorder) Deliver(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

func (r *recorder) ofType(typ types.EventType) []types.Event {
	var out []types.Event
	for _, ev := range r.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, typ types.EventType) types.Event {
	t.Helper()
	var found types.Event
	require.Eventually(t, func() bool {
		evs := r.ofType(typ)
		if len(evs) == 0 {
			return false
		}
		found = evs[len(evs)-1]
		return true
	}, waitTimeout, 5*time.Millisecond, "no %s event", typ)
	return found
}

// messages rebuilds the history a client sees: the history replay followed
// by every appended message.
func (r *recorder) messages() []types.Message {
	var out []types.Message
	for _, ev := range r.all() {
		switch ev.Type {
		case types.EventHistory:
			out = append([]types.Message(nil), ev.Messages...)
		case types.EventMessage, types.EventToolResult, types.EventResponse:
			out = append(out, *ev.Message)
		case types.EventConversationReset:
			out = nil
		}
	}
	return out
}

type traceRecord struct {
	event string
	tc    trace.Context
	data  map[string]any
}

type memTracer struct {
	mu      sync.Mutex
	records []traceRecord
}

func (m *memTracer) Record(event string, tc trace.Context, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, traceRecord{event, tc, data})
	return nil
}

func (m *memTracer) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.event)
	}
	return out
}

func (m *memTracer) find(event string) []traceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []traceRecord
	for _, r := range m.records {
		if r.event == event {
			out = append(out, r)
		}
	}
	return out
}

var textParams = json.RawMessage(`{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"]
}`)

// countingTool echoes its text argument and counts invocations.
func countingTool(id string, sensitivity types.Sensitivity, calls *atomic.Int32) tool.Tool {
	return tool.NewBaseTool(id, "echo the text", textParams, sensitivity,
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			calls.Add(1)
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return &tool.Result{Output: "echo: " + in.Text}, nil
		})
}

type fixture struct {
	reg     *Registry
	backend *provider.Scripted
	tracer  *memTracer
	gate    *permission.Checker
	store   *storage.Store

	echoCalls   atomic.Int32
	dangerCalls atomic.Int32
}

type fixtureOption func(*Options)

func withConfig(fn func(*Config)) fixtureOption {
	return func(o *Options) { fn(&o.Config) }
}

func newFixture(t *testing.T, steps []provider.Step, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		backend: provider.NewScripted(steps...),
		tracer:  &memTracer{},
		gate:    permission.NewChecker(types.GrantSet{}, nil),
		store:   storage.New(t.TempDir()),
	}

	tools := tool.NewRegistry(tool.Options{})
	require.NoError(t, tools.Register(countingTool("echo", types.Safe, &f.echoCalls)))
	require.NoError(t, tools.Register(countingTool("danger", types.Sensitive, &f.dangerCalls)))
	require.NoError(t, tools.Register(tool.NewAskUserTool()))

	o := Options{
		Backend: f.backend,
		Tools:   tools,
		Gate:    f.gate,
		Tracer:  f.tracer,
		Store:   f.store,
		Config: Config{
			DefaultModel: "gpt-4o-mini",
			Catalog: []types.ModelInfo{
				{ID: "gpt-4o-mini", Provider: "openai", ContextLength: 128000, Default: true},
				{ID: "gpt-5.2", Provider: "openai", ContextLength: 400000},
			},
			WorkDir: t.TempDir(),
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.reg = NewRegistry(o)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = f.reg.Shutdown(ctx)
	})
	return f
}

func (f *fixture) send(t *testing.T, target Target, text string, sink Sink) string {
	t.Helper()
	convID, err := f.reg.SendMessage(MessageRequest{Target: target, Sender: "alice", Text: text, Sink: sink})
	require.NoError(t, err)
	return convID
}

func (f *fixture) waitIdle(t *testing.T, convID string) {
	t.Helper()
	c, err := f.reg.Get(convID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.turn == nil
	}, waitTimeout, 5*time.Millisecond, "turn did not finish")
}

func (f *fixture) waitPending(t *testing.T, convID string) types.PendingApproval {
	t.Helper()
	var p []types.PendingApproval
	require.Eventually(t, func() bool {
		p = f.reg.Pending(convID)
		return len(p) == 1
	}, waitTimeout, 5*time.Millisecond, "no pending approval")
	return p[0]
}

func (f *fixture) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.backend.Started():
	case <-time.After(waitTimeout):
		t.Fatal("model call did not start")
	}
}

func call(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: args}
}

func roles(msgs []types.Message) []types.Role {
	out := make([]types.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}
