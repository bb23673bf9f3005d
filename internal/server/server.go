package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/yabot-dev/yabot/internal/command"
	"github.com/yabot-dev/yabot/internal/event"
	"github.com/yabot-dev/yabot/internal/logging"
	"github.com/yabot-dev/yabot/internal/session"
	"github.com/yabot-dev/yabot/internal/trace"
)

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	CORSOrigins  []string
	AllowedUsers []string
	ReadTimeout  time.Duration
	// WriteTimeout stays zero: websocket and SSE responses are long-lived.
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        8765,
		ReadTimeout: 30 * time.Second,
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options are the daemon components the server fronts.
type Options struct {
	Registry *session.Registry
	Bus      *event.Bus
	Tracer   trace.Recorder
}

// Server is the client protocol server: a websocket endpoint for chat
// front-ends plus read-only REST and SSE endpoints for observers.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	registry *session.Registry
	commands *command.Executor
	bus      *event.Bus
	tracer   trace.Recorder
	allow    *Allowlist
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*clientSession
	closing bool
	wg      sync.WaitGroup

	// done is closed when Shutdown starts; streaming handlers return on it
	// because http.Server.Shutdown does not cancel request contexts.
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a new Server instance.
func New(cfg *Config, opts Options) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop{}
	}
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		registry: opts.Registry,
		commands: command.NewExecutor(opts.Registry),
		bus:      opts.Bus,
		tracer:   tracer,
		allow:    NewAllowlist(cfg.AllowedUsers),
		log:      logging.Component("server"),
		clients:  make(map[string]*clientSession),
		done:     make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins(),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", IdentityHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) origins() []string {
	if len(s.config.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.config.CORSOrigins
}

// requestLogger logs each HTTP request at debug level once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr(), err)
	}
	return s.Serve(l)
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.log.Info().Str("addr", l.Addr().String()).Msg("protocol server listening")
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown ends open event streams, stops accepting connections, closes
// every websocket session and waits for their goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	s.closing = true
	srv := s.httpSrv
	clients := make([]*clientSession, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ClientCount returns the number of connected websocket sessions.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) addClient(c *clientSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c.id] = c
	s.wg.Add(1)
	return true
}

func (s *Server) removeClient(c *clientSession) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.wg.Done()
}
