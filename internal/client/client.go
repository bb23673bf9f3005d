// Package client is a Go SDK for the yabot daemon's websocket protocol.
//
// Requests are correlated with their direct replies by command id.
// Conversation events and other unsolicited frames are delivered in order on
// Events. With AutoReconnect the client redials after a lost connection and
// re-attaches every conversation it was attached to.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yabot-dev/yabot/internal/event"
	"github.com/yabot-dev/yabot/internal/logging"
	"github.com/yabot-dev/yabot/pkg/types"
)

// Options configures the client.
type Options struct {
	// URL is the websocket endpoint, e.g. "ws://127.0.0.1:8765/ws".
	URL string
	// Identity is sent in the X-Yabot-Identity header and as the sender of
	// every command.
	Identity string
	// Timeout bounds each request (default: 30s).
	Timeout time.Duration
	// AutoReconnect enables reconnection after a lost connection.
	AutoReconnect bool
	// MaxReconnectAttempts limits reconnection attempts (default: 5).
	MaxReconnectAttempts int
	// ReconnectDelay is the initial delay between attempts (default: 500ms).
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between attempts (default: 10s).
	MaxReconnectDelay time.Duration
}

// ConnectionState represents the websocket connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

var (
	// ErrClosed is returned by requests after Close.
	ErrClosed = errors.New("client closed")
	// ErrDisconnected is returned when the connection drops before a reply.
	ErrDisconnected = errors.New("connection lost")
)

// Client is a websocket client for the daemon.
type Client struct {
	options Options
	log     zerolog.Logger

	wsMu sync.Mutex
	ws   *websocket.Conn

	stateMu sync.RWMutex
	state   ConnectionState

	requestID atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]chan types.Event

	attachedMu sync.Mutex
	attached   map[string]bool

	events    *event.Queue[types.Event]
	out       chan types.Event
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client. Call Connect before issuing requests.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 500 * time.Millisecond
	}
	if opts.MaxReconnectDelay == 0 {
		opts.MaxReconnectDelay = 10 * time.Second
	}

	c := &Client{
		options:  opts,
		log:      logging.Component("client"),
		state:    StateDisconnected,
		pending:  make(map[string]chan types.Event),
		attached: make(map[string]bool),
		events:   event.NewQueue[types.Event](),
		out:      make(chan types.Event),
		done:     make(chan struct{}),
	}
	go c.pump()
	return c
}

// Events delivers conversation events and other unsolicited frames in
// arrival order. It is closed by Close.
func (c *Client) Events() <-chan types.Event {
	return c.out
}

func (c *Client) pump() {
	defer close(c.out)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.done
		cancel()
	}()
	for {
		ev, ok := c.events.Pop(ctx)
		if !ok {
			return
		}
		select {
		case c.out <- ev:
		case <-c.done:
			return
		}
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(state ConnectionState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// Connect dials the daemon.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if s := c.State(); s == StateConnected || s == StateConnecting {
		return nil
	}
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	if c.options.Identity != "" {
		header.Set("X-Yabot-Identity", c.options.Identity)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.options.URL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.options.URL, err)
	}

	c.wsMu.Lock()
	c.ws = conn
	c.wsMu.Unlock()
	c.setState(StateConnected)

	go c.readMessages(conn)
	return nil
}

// Close closes the connection and stops reconnecting.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wsMu.Lock()
		if c.ws != nil {
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.ws.Close()
			c.ws = nil
		}
		c.wsMu.Unlock()
		c.setState(StateDisconnected)
		c.clearPending()
		c.events.Close()
	})
	return err
}

// Request sends cmd and waits for its direct reply. An error reply is
// returned as a *types.Error alongside the reply event.
func (c *Client) Request(ctx context.Context, cmd types.Command) (types.Event, error) {
	select {
	case <-c.done:
		return types.Event{}, ErrClosed
	default:
	}
	if cmd.ID == "" {
		cmd.ID = "c" + strconv.FormatUint(c.requestID.Add(1), 10)
	}
	if cmd.Sender == "" {
		cmd.Sender = c.options.Identity
	}

	ch := make(chan types.Event, 1)
	c.pendingMu.Lock()
	c.pending[cmd.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmd.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(cmd); err != nil {
		return types.Event{}, err
	}

	timer := time.NewTimer(c.options.Timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return types.Event{}, ErrDisconnected
		}
		c.track(cmd, reply)
		if reply.Type == types.EventError {
			return reply, replyError(reply)
		}
		return reply, nil
	case <-ctx.Done():
		return types.Event{}, ctx.Err()
	case <-timer.C:
		return types.Event{}, fmt.Errorf("%s: request timeout", cmd.Type)
	case <-c.done:
		return types.Event{}, ErrClosed
	}
}

func replyError(ev types.Event) error {
	if ev.Error == nil {
		return types.NewError(types.CodeInternal, "%s", ev.Text)
	}
	return &types.Error{Code: ev.Error.Code, Message: ev.Error.Message}
}

func (c *Client) write(cmd types.Command) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Type, err)
	}
	return nil
}

// track remembers which conversations to re-attach after a reconnect.
func (c *Client) track(cmd types.Command, reply types.Event) {
	if reply.Type == types.EventError || reply.ConvID == "" {
		return
	}
	c.attachedMu.Lock()
	defer c.attachedMu.Unlock()
	switch cmd.Type {
	case types.CmdSendMessage, types.CmdAttach, types.CmdNewConversation:
		c.attached[reply.ConvID] = true
	case types.CmdDetach, types.CmdDeleteConversation:
		delete(c.attached, reply.ConvID)
	}
}

// Attached returns the conversations the client is attached to.
func (c *Client) Attached() []string {
	c.attachedMu.Lock()
	defer c.attachedMu.Unlock()
	out := make([]string, 0, len(c.attached))
	for id := range c.attached {
		out = append(out, id)
	}
	return out
}

// readMessages reads frames from conn until it fails.
func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		var ev types.Event
		if err := conn.ReadJSON(&ev); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		if ev.ID != "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[ev.ID]
			if ok {
				delete(c.pending, ev.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- ev
				continue
			}
		}
		c.events.Push(ev)
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.wsMu.Lock()
	if c.ws != conn {
		c.wsMu.Unlock()
		return
	}
	c.ws = nil
	c.wsMu.Unlock()
	conn.Close()

	select {
	case <-c.done:
		return
	default:
	}

	c.log.Debug().Err(cause).Msg("connection lost")
	c.setState(StateDisconnected)
	c.clearPending()

	if c.options.AutoReconnect {
		go c.reconnect()
	}
}

// reconnect redials with exponential backoff, then re-attaches.
func (c *Client) reconnect() {
	c.setState(StateReconnecting)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.options.ReconnectDelay
	eb.MaxInterval = c.options.MaxReconnectDelay
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.options.MaxReconnectAttempts)), ctx)

	notify := func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Dur("wait", wait).Msg("reconnect failed")
	}
	if err := backoff.RetryNotify(func() error { return c.dial(ctx) }, b, notify); err != nil {
		c.setState(StateDisconnected)
		c.log.Warn().Err(err).Msg("giving up reconnecting")
		return
	}

	if c.options.Identity != "" {
		if _, err := c.Hello(ctx); err != nil {
			c.log.Warn().Err(err).Msg("hello after reconnect failed")
		}
	}
	for _, convID := range c.Attached() {
		if _, err := c.Request(ctx, types.Command{Type: types.CmdAttach, ConvID: convID}); err != nil {
			c.log.Warn().Err(err).Str("conv_id", convID).Msg("re-attach failed")
			if errors.Is(err, types.ErrNotFound) {
				c.attachedMu.Lock()
				delete(c.attached, convID)
				c.attachedMu.Unlock()
			}
		}
	}
}

// clearPending fails every outstanding request.
func (c *Client) clearPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[string]chan types.Event)
}
