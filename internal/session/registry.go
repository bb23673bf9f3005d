package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/yabot-dev/yabot/internal/event"
	"github.com/yabot-dev/yabot/internal/logging"
	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/provider"
	"github.com/yabot-dev/yabot/internal/storage"
	"github.com/yabot-dev/yabot/internal/tool"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

const (
	DefaultMaxSteps = 50
	DefaultMaxTurns = 30
)

// Config holds the agent settings of the registry.
type Config struct {
	DefaultModel string

	// Catalog lists the selectable models. An empty catalog accepts any
	// model name.
	Catalog []types.ModelInfo

	MaxSteps     int
	MaxTurns     int
	SystemPrompt string
	WorkDir      string
}

// Options wires the registry to its collaborators. Backend, Tools and Gate
// are required; the rest are optional.
type Options struct {
	Backend provider.Backend
	Tools   *tool.Registry
	Gate    *permission.Checker
	Tracer  trace.Recorder
	Store   *storage.Store
	Bus     *event.Bus
	Config  Config
}

type room struct {
	id            string
	active        string
	conversations []string
	grants        *permission.Grants
	updatedAt     time.Time
}

// Registry owns every conversation and room and dispatches turns to the
// agent loop.
type Registry struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
	rooms map[string]*room

	// closed is set under r.mu and read under either r.mu or a
	// conversation's mu, so no turn starts after Shutdown cancels them.
	closed atomic.Bool

	backend provider.Backend
	tools   *tool.Registry
	gate    *permission.Checker
	tracer  trace.Recorder
	store   *storage.Store
	bus     *event.Bus
	cfg     Config
	prompt  *SystemPrompt
	repeats *permission.RepeatDetector

	roomSaveMu sync.Mutex
	wg         sync.WaitGroup
	now        func() time.Time
	log        zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	cfg := opts.Config
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop{}
	}
	return &Registry{
		convs:   make(map[string]*Conversation),
		rooms:   make(map[string]*room),
		backend: opts.Backend,
		tools:   opts.Tools,
		gate:    opts.Gate,
		tracer:  tracer,
		store:   opts.Store,
		bus:     opts.Bus,
		cfg:     cfg,
		prompt:  NewSystemPrompt(cfg.SystemPrompt, cfg.WorkDir),
		repeats: permission.NewRepeatDetector(permission.RepeatThreshold),
		now:     time.Now,
		log:     logging.Component("session"),
	}
}

// Target names a conversation directly or through a room.
type Target struct {
	RoomID string
	ConvID string
}

// MessageRequest is a user message for the agent loop.
type MessageRequest struct {
	Target
	Sender string
	Text   string

	// Sink, when set, is attached to the conversation if it is not already.
	Sink Sink
}

// Detail is a conversation with its messages and pending approvals.
type Detail struct {
	types.ConversationInfo
	Messages []types.Message         `json:"messages"`
	Pending  []types.PendingApproval `json:"pending,omitempty"`
}

func (r *Registry) record(event string, tc trace.Context, data map[string]any) {
	if err := r.tracer.Record(event, tc, data); err != nil {
		r.log.Error().Err(err).Str("event", event).Str("conv_id", tc.ConvID).Msg("failed to write trace record")
	}
}

func (r *Registry) get(convID string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.convs[convID]
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "conversation %s not found", convID)
	}
	return c, nil
}

// Get returns a conversation by id.
func (r *Registry) Get(convID string) (*Conversation, error) {
	return r.get(convID)
}

// Resolve returns the conversation a target names without creating one. A
// room-only target resolves to the room's active conversation.
func (r *Registry) Resolve(t Target) (string, error) {
	if t.ConvID != "" {
		if _, err := r.get(t.ConvID); err != nil {
			return "", err
		}
		return t.ConvID, nil
	}
	if t.RoomID == "" {
		return "", types.NewError(types.CodeBadRequest, "room_id or conv_id is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[t.RoomID]
	if !ok || rm.active == "" {
		return "", types.NewError(types.CodeNotFound, "room %s has no active conversation", t.RoomID)
	}
	return rm.active, nil
}

// roomLocked returns the room, creating it. Callers hold r.mu.
func (r *Registry) roomLocked(roomID string) *room {
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, grants: permission.NewGrants(types.GrantSet{}), updatedAt: r.now()}
		r.rooms[roomID] = rm
	}
	return rm
}

// createLocked registers a new conversation. Callers hold r.mu.
func (r *Registry) createLocked(convID, roomID, model string) (*Conversation, error) {
	if r.closed.Load() {
		return nil, errShuttingDown()
	}
	if convID == "" {
		convID = ulid.Make().String()
	}
	if _, exists := r.convs[convID]; exists {
		return nil, types.NewError(types.CodeBadRequest, "conversation %s already exists", convID)
	}
	if model == "" {
		model = r.cfg.DefaultModel
	}
	c := newConversation(convID, roomID, model, r.bus, r.now)
	r.convs[convID] = c
	if roomID != "" {
		rm := r.roomLocked(roomID)
		rm.conversations = append(rm.conversations, convID)
		rm.active = convID
		rm.updatedAt = r.now()
	}
	return c, nil
}

func (r *Registry) created(c *Conversation, actor string) {
	info := c.Info()
	r.record(trace.EventConversationCreated, trace.Context{
		TraceID: trace.NewTraceID(), RoomID: info.RoomID, ConvID: info.ConvID, Model: info.Model,
	}, map[string]any{"actor": actor})
	log := logging.ForConversation(info.ConvID, info.RoomID)
	log.Info().Str("model", info.Model).Msg("conversation created")
	r.save(c)
	if info.RoomID != "" {
		r.saveRoom(info.RoomID)
	}
}

// NewConversation creates a conversation and, for a room, makes it the
// room's active conversation. An empty model selects the default.
func (r *Registry) NewConversation(roomID, model, actor string) (types.ConversationInfo, error) {
	if model != "" {
		if err := r.validateModel(model); err != nil {
			return types.ConversationInfo{}, err
		}
	}
	r.mu.Lock()
	c, err := r.createLocked("", roomID, model)
	r.mu.Unlock()
	if err != nil {
		return types.ConversationInfo{}, err
	}
	r.created(c, actor)
	info := c.Info()
	info.Active = roomID != ""
	return info, nil
}

func errShuttingDown() error {
	return types.NewError(types.CodeModelUnavailable, "daemon is shutting down")
}

// target returns the conversation for a message, creating it on first use.
func (r *Registry) target(t Target) (*Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return nil, false, errShuttingDown()
	}

	if t.ConvID != "" {
		if c, ok := r.convs[t.ConvID]; ok {
			return c, false, nil
		}
		c, err := r.createLocked(t.ConvID, t.RoomID, "")
		return c, err == nil, err
	}
	if t.RoomID == "" {
		return nil, false, types.NewError(types.CodeBadRequest, "room_id or conv_id is required")
	}
	if rm, ok := r.rooms[t.RoomID]; ok && rm.active != "" {
		if c, ok := r.convs[rm.active]; ok {
			return c, false, nil
		}
	}
	c, err := r.createLocked("", t.RoomID, "")
	return c, err == nil, err
}

// SendMessage appends a user message and starts a turn. When the active
// turn is waiting on ask_user the message answers it instead. Otherwise it
// fails with types.ErrBusy while a turn is active.
func (r *Registry) SendMessage(req MessageRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", types.NewError(types.CodeBadRequest, "message text is empty")
	}
	c, created, err := r.target(req.Target)
	if err != nil {
		return "", err
	}
	if created {
		r.created(c, req.Sender)
	}
	if req.Sink != nil {
		c.attach(req.Sink, false)
	}

	c.mu.Lock()
	if r.closed.Load() {
		c.mu.Unlock()
		return c.id, errShuttingDown()
	}
	if c.broken != nil {
		err := c.broken
		c.mu.Unlock()
		return c.id, types.WrapError(types.CodeInvariant, err, "conversation is broken; reset it to continue")
	}
	if q := c.question; q != nil && c.turn != nil {
		c.question = nil
		r.record(trace.EventInvoke, c.traceContext(c.turn.traceID), map[string]any{
			"sender":    req.Sender,
			"text":      req.Text,
			"answer_to": q.CallID,
		})
		q.answer <- req.Text
		c.mu.Unlock()
		return c.id, nil
	}
	if c.turn != nil {
		c.mu.Unlock()
		return c.id, types.NewError(types.CodeBusy, "conversation %s is busy", c.id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &turn{
		traceID: trace.NewTraceID(),
		ctx:     ctx,
		cancel:  cancel,
		started: r.now(),
		done:    make(chan struct{}),
	}
	c.turn = t
	r.repeats.Clear(c.id)

	msg := c.appendLocked(types.Message{Role: types.RoleUser, Content: req.Text})
	r.record(trace.EventInvoke, c.traceContext(t.traceID), map[string]any{
		"sender": req.Sender,
		"text":   req.Text,
	})
	c.broadcast(types.Event{Type: types.EventMessage, Message: &msg})
	c.setStateLocked(types.StateAwaitingModel)
	r.wg.Add(1)
	c.mu.Unlock()

	go r.runTurn(c, t)
	return c.id, nil
}

// Cancel stops the active turn. It reports false when nothing was running.
// The conversation is idle when Cancel returns; a late result from a call
// that ignored cancellation is discarded.
func (r *Registry) Cancel(convID, actor string) (bool, error) {
	c, err := r.get(convID)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	stopped := r.cancelLocked(c, actor)
	c.mu.Unlock()
	if stopped {
		r.save(c)
	}
	return stopped, nil
}

// cancelLocked releases the token held by the active turn. Callers hold c.mu.
func (r *Registry) cancelLocked(c *Conversation, actor string) bool {
	t := c.turn
	if t == nil {
		return false
	}
	t.cancel()
	c.turn = nil
	state := c.state
	c.pending = nil
	c.question = nil

	r.record(trace.EventCancelled, c.traceContext(t.traceID), map[string]any{
		"actor":       actor,
		"state":       string(state),
		"iterations":  t.steps,
		"duration_ms": r.now().Sub(t.started).Milliseconds(),
	})
	log := logging.ForConversation(c.id, c.roomID)
	log.Info().Str("actor", actor).Str("state", string(state)).Msg("turn cancelled")

	c.broadcast(types.Event{Type: types.EventCancelled, Text: actor, State: types.StateCancelled})
	c.setStateLocked(types.StateCancelled)
	c.setStateLocked(types.StateIdle)
	return true
}

// Approve resolves a pending sensitive call. An empty callID selects the
// conversation's only pending approval.
func (r *Registry) Approve(t Target, callID, actor string, remember bool) error {
	return r.decide(t, types.Approval{CallID: callID, Decision: types.Approve, Actor: actor, Remember: remember})
}

// Deny rejects a pending sensitive call with optional feedback for the model.
func (r *Registry) Deny(t Target, callID, actor, feedback string) error {
	return r.decide(t, types.Approval{CallID: callID, Decision: types.Deny, Actor: actor, Feedback: feedback})
}

func (r *Registry) decide(t Target, a types.Approval) error {
	callID, err := r.pendingCall(t, a.CallID)
	if err != nil {
		return err
	}
	a.Timestamp = r.now()
	return r.gate.Respond(callID, a)
}

func (r *Registry) pendingCall(t Target, callID string) (string, error) {
	if t.ConvID == "" && t.RoomID == "" {
		if callID == "" {
			return "", types.NewError(types.CodeBadRequest, "call_id, conv_id or room_id is required")
		}
		return callID, nil
	}
	convID, err := r.Resolve(t)
	if err != nil {
		return "", err
	}
	c, err := r.get(convID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if callID != "" {
		for _, p := range c.pending {
			if p.CallID == callID {
				return callID, nil
			}
		}
		return "", types.NewError(types.CodeNotFound, "no pending approval for call %s in conversation %s", callID, convID)
	}
	switch len(c.pending) {
	case 0:
		return "", types.NewError(types.CodeNotFound, "no pending approval in conversation %s", convID)
	case 1:
		return c.pending[0].CallID, nil
	}
	return "", types.NewError(types.CodeBadRequest, "%d approvals pending in conversation %s; name a call_id", len(c.pending), convID)
}

// Attach adds sink to the conversation and delivers the history event
// before any later broadcast.
func (r *Registry) Attach(convID string, sink Sink) error {
	c, err := r.get(convID)
	if err != nil {
		return err
	}
	c.attach(sink, true)
	return nil
}

// Detach removes sink from the conversation.
func (r *Registry) Detach(convID, sinkID string) error {
	c, err := r.get(convID)
	if err != nil {
		return err
	}
	if !c.detach(sinkID) {
		return types.NewError(types.CodeNotFound, "not attached to conversation %s", convID)
	}
	return nil
}

// DetachAll removes sink from every conversation, as on disconnect.
func (r *Registry) DetachAll(sinkID string) {
	r.mu.RLock()
	convs := make([]*Conversation, 0, len(r.convs))
	for _, c := range r.convs {
		convs = append(convs, c)
	}
	r.mu.RUnlock()
	for _, c := range convs {
		c.detach(sinkID)
	}
}

// ListConversations lists a room's conversations in creation order, or every
// conversation when roomID is empty.
func (r *Registry) ListConversations(roomID string) []types.ConversationInfo {
	r.mu.RLock()
	var convs []*Conversation
	active := map[string]bool{}
	if roomID != "" {
		if rm, ok := r.rooms[roomID]; ok {
			for _, id := range rm.conversations {
				if c, ok := r.convs[id]; ok {
					convs = append(convs, c)
				}
			}
			active[rm.active] = true
		}
	} else {
		for _, c := range r.convs {
			convs = append(convs, c)
		}
		for _, rm := range r.rooms {
			active[rm.active] = true
		}
	}
	r.mu.RUnlock()

	infos := make([]types.ConversationInfo, 0, len(convs))
	for _, c := range convs {
		info := c.Info()
		info.Active = active[info.ConvID]
		infos = append(infos, info)
	}
	if roomID == "" {
		sort.SliceStable(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	}
	return infos
}

// Detail returns a conversation with its messages and pending approvals.
func (r *Registry) Detail(convID string) (Detail, error) {
	c, err := r.get(convID)
	if err != nil {
		return Detail{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Detail{
		ConversationInfo: c.infoLocked(),
		Messages:         append([]types.Message{}, c.messages...),
		Pending:          append([]types.PendingApproval(nil), c.pending...),
	}, nil
}

// Reset stops any active turn and clears the history, pending approvals and
// remembered grants. The conversation id and attached clients survive.
func (r *Registry) Reset(convID, actor string) error {
	c, err := r.get(convID)
	if err != nil {
		return err
	}

	roomID := c.RoomID()
	if roomID != "" {
		r.mu.RLock()
		if rm, ok := r.rooms[roomID]; ok {
			rm.grants.Clear()
		}
		r.mu.RUnlock()
	}

	c.mu.Lock()
	r.cancelLocked(c, actor)
	c.messages = nil
	c.pending = nil
	c.broken = nil
	c.grants.Clear()
	c.updatedAt = r.now()
	r.record(trace.EventConversationReset, c.traceContext(trace.NewTraceID()), map[string]any{"actor": actor})
	c.broadcast(types.Event{Type: types.EventConversationReset, Model: c.model, Text: actor})
	c.setStateLocked(types.StateIdle)
	c.mu.Unlock()

	r.repeats.Clear(convID)
	r.save(c)
	if roomID != "" {
		r.saveRoom(roomID)
	}
	log := logging.ForConversation(convID, roomID)
	log.Info().Str("actor", actor).Msg("conversation reset")
	return nil
}

// DeleteConversation stops any active turn, detaches every client and
// removes the conversation and its snapshot.
func (r *Registry) DeleteConversation(convID, actor string) error {
	r.mu.Lock()
	c, ok := r.convs[convID]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.CodeNotFound, "conversation %s not found", convID)
	}
	delete(r.convs, convID)
	roomID := c.roomID
	if rm, ok := r.rooms[roomID]; ok && roomID != "" {
		rm.conversations = removeString(rm.conversations, convID)
		if rm.active == convID {
			rm.active = ""
			if n := len(rm.conversations); n > 0 {
				rm.active = rm.conversations[n-1]
			}
		}
		rm.updatedAt = r.now()
	}
	r.mu.Unlock()

	c.mu.Lock()
	r.cancelLocked(c, actor)
	r.record(trace.EventConversationDeleted, c.traceContext(trace.NewTraceID()), map[string]any{"actor": actor})
	c.broadcast(types.Event{Type: types.EventConversationDeleted, Text: actor})
	c.sinks = make(map[string]Sink)
	c.mu.Unlock()

	r.repeats.Clear(convID)
	if r.store != nil {
		c.saveMu.Lock()
		if err := r.store.DeleteConversation(context.Background(), convID); err != nil {
			r.log.Error().Err(err).Str("conv_id", convID).Msg("failed to delete conversation snapshot")
		}
		c.saveMu.Unlock()
	}
	if roomID != "" {
		r.saveRoom(roomID)
	}
	log := logging.ForConversation(convID, roomID)
	log.Info().Str("actor", actor).Msg("conversation deleted")
	return nil
}

// SetModel selects the model used by the conversation's next model call.
func (r *Registry) SetModel(convID, model, actor string) error {
	if err := r.validateModel(model); err != nil {
		return err
	}
	c, err := r.get(convID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	previous := c.model
	c.model = model
	c.updatedAt = r.now()
	r.record(trace.EventModelChanged, c.traceContext(trace.NewTraceID()), map[string]any{
		"actor":    actor,
		"previous": previous,
	})
	c.broadcast(types.Event{Type: types.EventModelChanged, Model: model, Text: actor})
	c.mu.Unlock()
	r.save(c)
	return nil
}

func (r *Registry) validateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return types.NewError(types.CodeInvalidArguments, "model name is empty")
	}
	if len(r.cfg.Catalog) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.cfg.Catalog))
	for _, m := range r.cfg.Catalog {
		if m.ID == model {
			return nil
		}
		ids = append(ids, m.ID)
	}
	msg := fmt.Sprintf("unknown model %q", model)
	if s := tool.Closest(model, ids); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return types.NewError(types.CodeInvalidArguments, "%s", msg)
}

// UseConversation makes an existing conversation the room's active one.
func (r *Registry) UseConversation(roomID, convID string) error {
	if roomID == "" {
		return types.NewError(types.CodeBadRequest, "room_id is required")
	}
	r.mu.Lock()
	c, ok := r.convs[convID]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.CodeNotFound, "conversation %s not found", convID)
	}
	rm := r.roomLocked(roomID)
	if !containsString(rm.conversations, convID) {
		rm.conversations = append(rm.conversations, convID)
	}
	rm.active = convID
	rm.updatedAt = r.now()
	r.mu.Unlock()

	c.mu.Lock()
	if c.roomID == "" {
		c.roomID = roomID
	}
	c.mu.Unlock()

	r.save(c)
	r.saveRoom(roomID)
	return nil
}

// ListModels returns the model catalog. It never touches a conversation.
func (r *Registry) ListModels() []types.ModelInfo {
	return append([]types.ModelInfo(nil), r.cfg.Catalog...)
}

// DefaultModel returns the model of new conversations.
func (r *Registry) DefaultModel() string { return r.cfg.DefaultModel }

// Pending lists the approvals waiting in a conversation.
func (r *Registry) Pending(convID string) []types.PendingApproval {
	c, err := r.get(convID)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.PendingApproval(nil), c.pending...)
}

// grantsFor returns the grant set approvals in c are remembered in: the
// room's when c belongs to one, otherwise the conversation's own.
func (r *Registry) grantsFor(c *Conversation) *permission.Grants {
	roomID := c.RoomID()
	if roomID != "" {
		r.mu.Lock()
		rm := r.roomLocked(roomID)
		r.mu.Unlock()
		return rm.grants
	}
	return c.grants
}

// Load restores conversations and rooms from the store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	snaps, err := r.store.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	rooms, err := r.store.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snap := range snaps {
		if snap.Model == "" {
			snap.Model = r.cfg.DefaultModel
		}
		r.convs[snap.ConvID] = restoreConversation(snap, r.bus, r.now)
	}
	for _, st := range rooms {
		rm := &room{
			id:        st.RoomID,
			grants:    permission.NewGrants(st.Grants),
			updatedAt: st.UpdatedAt,
		}
		for _, id := range st.Conversations {
			if _, ok := r.convs[id]; ok {
				rm.conversations = append(rm.conversations, id)
			}
		}
		if _, ok := r.convs[st.Active]; ok {
			rm.active = st.Active
		}
		r.rooms[st.RoomID] = rm
	}
	r.log.Info().Int("conversations", len(snaps)).Int("rooms", len(rooms)).Msg("state restored")
	return nil
}

// Shutdown cancels every active turn, waits for the loops to exit and
// persists all conversations.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed.Store(true)
	convs := make([]*Conversation, 0, len(r.convs))
	for _, c := range r.convs {
		convs = append(convs, c)
	}
	roomIDs := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		roomIDs = append(roomIDs, id)
	}
	r.mu.Unlock()

	for _, c := range convs {
		c.mu.Lock()
		r.cancelLocked(c, "daemon")
		c.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn().Msg("shutdown timed out waiting for agent loops")
	}

	for _, c := range convs {
		r.save(c)
	}
	for _, id := range roomIDs {
		r.saveRoom(id)
	}
	return ctx.Err()
}

func (r *Registry) save(c *Conversation) {
	if r.store == nil {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	r.mu.RLock()
	_, live := r.convs[c.id]
	r.mu.RUnlock()
	if !live {
		return
	}
	if err := r.store.SaveConversation(context.Background(), c.snapshot()); err != nil {
		r.log.Error().Err(err).Str("conv_id", c.id).Msg("failed to save conversation")
	}
}

func (r *Registry) saveRoom(roomID string) {
	if r.store == nil || roomID == "" {
		return
	}
	r.roomSaveMu.Lock()
	defer r.roomSaveMu.Unlock()

	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	var st types.RoomState
	if ok {
		st = types.RoomState{
			RoomID:        rm.id,
			Active:        rm.active,
			Conversations: append([]string{}, rm.conversations...),
			Grants:        rm.grants.Snapshot(),
			UpdatedAt:     rm.updatedAt,
		}
	}
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := r.store.SaveRoom(context.Background(), &st); err != nil {
		r.log.Error().Err(err).Str("room_id", roomID).Msg("failed to save room")
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
