package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/yabot-dev/yabot/internal/event"
	"github.com/yabot-dev/yabot/pkg/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxFrameSize = 1 << 20
)

// clientSession is one websocket connection. It is the session.Sink attached
// to conversations on the client's behalf; its outbox is unbounded so a slow
// client never stalls a conversation and never loses an event.
type clientSession struct {
	id     string
	srv    *Server
	conn   *websocket.Conn
	outbox *event.Queue[types.Event]
	ctx    context.Context
	cancel context.CancelFunc

	// identity is set by hello and read only by the reader goroutine.
	identity string

	closeOnce  sync.Once
	writerDone chan struct{}
}

func newClientSession(s *Server, conn *websocket.Conn, identity string) *clientSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &clientSession{
		id:         ulid.Make().String(),
		srv:        s,
		conn:       conn,
		outbox:     event.NewQueue[types.Event](),
		ctx:        ctx,
		cancel:     cancel,
		identity:   identity,
		writerDone: make(chan struct{}),
	}
}

func (c *clientSession) ID() string { return c.id }

// Deliver queues ev for the writer goroutine.
func (c *clientSession) Deliver(ev types.Event) {
	c.outbox.Push(ev)
}

func (c *clientSession) close() {
	c.closeOnce.Do(func() {
		c.outbox.Close()
		c.cancel()
		c.conn.Close()
	})
}

// writeLoop sends queued events in order until the session closes.
func (c *clientSession) writeLoop() {
	defer close(c.writerDone)
	for {
		ev, ok := c.outbox.Pop(c.ctx)
		if !ok {
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			c.srv.log.Debug().Err(err).Str("client", c.id).Msg("websocket write failed")
			c.close()
			return
		}
	}
}

// pingLoop keeps idle connections alive. WriteControl may run concurrently
// with the writer.
func (c *clientSession) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop decodes command frames and dispatches them one at a time.
func (c *clientSession) readLoop() {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.log.Debug().Err(err).Str("client", c.id).Msg("websocket read failed")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd types.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.Deliver(types.Event{
				Type:  types.EventError,
				Time:  time.Now(),
				Text:  "invalid JSON",
				Error: &types.ErrorInfo{Code: types.CodeBadRequest, Message: "invalid JSON"},
			})
			continue
		}
		c.srv.dispatch(c, cmd)
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin admits non-browser clients and browsers from configured CORS
// origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins() {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// serveWS handles GET /ws.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	u := s.upgrader()
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newClientSession(s, conn, r.Header.Get(IdentityHeader))
	if !s.addClient(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer s.removeClient(c)

	log := s.log.With().Str("client", c.id).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("client connected")

	go c.writeLoop()
	go c.pingLoop()
	c.readLoop()

	s.registry.DetachAll(c.id)
	c.close()
	<-c.writerDone
	log.Info().Msg("client disconnected")
}
