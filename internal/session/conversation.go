package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yabot-dev/yabot/internal/event"
	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// Sink receives the ordered event stream of the conversations it is attached
// to. Deliver is called with the conversation lock held and must not block.
type Sink interface {
	ID() string
	Deliver(ev types.Event)
}

// turn is one run of the agent loop. The conversation holding a non-nil turn
// owns the exclusivity token.
type turn struct {
	traceID   string
	ctx       context.Context
	cancel    context.CancelFunc
	started   time.Time
	steps     int
	toolCalls int
	done      chan struct{}
}

// question is an ask_user call waiting for the user's next message.
type question struct {
	types.Question
	answer chan string
}

// Conversation is the authoritative state of one conversation. Every field
// is guarded by mu; the agent loop only mutates it while it still owns turn.
type Conversation struct {
	mu sync.Mutex

	id       string
	roomID   string
	model    string
	messages []types.Message
	state    types.LoopState
	seq      uint64
	sinks    map[string]Sink
	pending  []types.PendingApproval
	question *question
	turn     *turn
	broken   error

	// grants holds remembered approvals when the conversation has no room.
	grants *permission.Grants

	createdAt time.Time
	updatedAt time.Time

	bus *event.Bus
	now func() time.Time

	// saveMu orders snapshot writes so a newer snapshot is never overwritten
	// by an older one.
	saveMu sync.Mutex
}

func newConversation(id, roomID, model string, bus *event.Bus, now func() time.Time) *Conversation {
	t := now()
	return &Conversation{
		id:        id,
		roomID:    roomID,
		model:     model,
		state:     types.StateIdle,
		sinks:     make(map[string]Sink),
		grants:    permission.NewGrants(types.GrantSet{}),
		createdAt: t,
		updatedAt: t,
		bus:       bus,
		now:       now,
	}
}

func restoreConversation(snap *types.ConversationSnapshot, bus *event.Bus, now func() time.Time) *Conversation {
	c := newConversation(snap.ConvID, snap.RoomID, snap.Model, bus, now)
	c.messages = append([]types.Message(nil), snap.Messages...)
	c.seq = snap.Seq
	c.createdAt = snap.CreatedAt
	c.updatedAt = snap.UpdatedAt
	if snap.Grants != nil {
		c.grants.Merge(*snap.Grants)
	}
	return c
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// RoomID returns the owning room, if any.
func (c *Conversation) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// History returns a copy of the messages.
func (c *Conversation) History() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.messages...)
}

// State returns the current loop state.
func (c *Conversation) State() types.LoopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info summarizes the conversation.
func (c *Conversation) Info() types.ConversationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

func (c *Conversation) infoLocked() types.ConversationInfo {
	return types.ConversationInfo{
		ConvID:    c.id,
		RoomID:    c.roomID,
		Model:     c.model,
		Messages:  len(c.messages),
		State:     c.state,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

// owns reports whether t still holds the exclusivity token. Callers hold mu.
func (c *Conversation) owns(t *turn) bool {
	return t != nil && c.turn == t
}

func (c *Conversation) traceContext(traceID string) trace.Context {
	return trace.Context{TraceID: traceID, RoomID: c.roomID, ConvID: c.id, Model: c.model}
}

// broadcast stamps ev with the next sequence number and delivers it to every
// attached sink and the bus. Callers hold mu, which keeps delivery order
// identical for every observer.
func (c *Conversation) broadcast(ev types.Event) {
	c.seq++
	ev.Seq = c.seq
	ev.ConvID = c.id
	ev.RoomID = c.roomID
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	for _, s := range c.sinks {
		s.Deliver(ev)
	}
	if c.bus != nil {
		_ = c.bus.Publish(ev)
	}
}

// appendLocked assigns an id and timestamp, appends msg and returns it.
func (c *Conversation) appendLocked(msg types.Message) types.Message {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}
	c.messages = append(c.messages, msg)
	c.updatedAt = msg.Timestamp
	return msg
}

func (c *Conversation) setStateLocked(s types.LoopState) {
	if c.state == s {
		return
	}
	c.state = s
	c.broadcast(types.Event{Type: types.EventState, State: s, Model: c.model})
}

func (c *Conversation) removePendingLocked(callID string) {
	for i, p := range c.pending {
		if p.CallID == callID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// historyEventLocked builds the replay delivered on attach. Its Seq is the
// last event already broadcast, so the sink continues at Seq+1.
func (c *Conversation) historyEventLocked() types.Event {
	return types.Event{
		Type:     types.EventHistory,
		ConvID:   c.id,
		RoomID:   c.roomID,
		Seq:      c.seq,
		Time:     c.now(),
		State:    c.state,
		Model:    c.model,
		Messages: append([]types.Message{}, c.messages...),
		Pending:  append([]types.PendingApproval(nil), c.pending...),
		Question: c.questionLocked(),
	}
}

func (c *Conversation) questionLocked() *types.Question {
	if c.question == nil {
		return nil
	}
	q := c.question.Question
	return &q
}

// attach registers s and delivers the history event atomically with respect
// to broadcasts. It reports false when s was already attached.
func (c *Conversation) attach(s Sink, replay bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sinks[s.ID()]; ok && !replay {
		return false
	}
	c.sinks[s.ID()] = s
	s.Deliver(c.historyEventLocked())
	return true
}

func (c *Conversation) detach(sinkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sinks[sinkID]; !ok {
		return false
	}
	delete(c.sinks, sinkID)
	return true
}

// snapshot returns the persisted form of the conversation.
func (c *Conversation) snapshot() *types.ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &types.ConversationSnapshot{
		ConvID:    c.id,
		RoomID:    c.roomID,
		Model:     c.model,
		Messages:  append([]types.Message{}, c.messages...),
		Seq:       c.seq,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	if c.roomID == "" {
		g := c.grants.Snapshot()
		if len(g.Shell)+len(g.Dirs)+len(g.Tools) > 0 {
			snap.Grants = &g
		}
	}
	return snap
}
