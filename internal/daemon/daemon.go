// Package daemon assembles the yabot daemon from its components and runs it
// until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yabot-dev/yabot/internal/config"
	"github.com/yabot-dev/yabot/internal/event"
	"github.com/yabot-dev/yabot/internal/logging"
	"github.com/yabot-dev/yabot/internal/permission"
	"github.com/yabot-dev/yabot/internal/provider"
	"github.com/yabot-dev/yabot/internal/server"
	"github.com/yabot-dev/yabot/internal/session"
	"github.com/yabot-dev/yabot/internal/skills"
	"github.com/yabot-dev/yabot/internal/storage"
	"github.com/yabot-dev/yabot/internal/tool"
	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// ShutdownTimeout bounds a graceful shutdown started by Run.
const ShutdownTimeout = 30 * time.Second

// Options configures a daemon.
type Options struct {
	// WorkDir is the project directory searched for yabot.json and .env.
	WorkDir string

	// Config is used as is when set; otherwise it is loaded from WorkDir.
	Config *types.Config

	// PrintLogs sends logs to stderr instead of the daemon log file.
	PrintLogs bool
	// LogLevel overrides the configured log level.
	LogLevel string

	// Host and Port override the configured bind address.
	Host string
	Port int

	// Backend replaces the configured model providers.
	Backend provider.Backend
}

// Daemon owns every long-lived component.
type Daemon struct {
	cfg   *types.Config
	paths *config.Paths
	log   zerolog.Logger

	logCloser io.Closer
	tracer    *trace.Logger
	tools     *tool.Registry
	watcher   *skills.Watcher
	bus       *event.Bus
	registry  *session.Registry
	server    *server.Server

	startedAt time.Time
	stopOnce  sync.Once
	stopErr   error
}

// New builds the daemon. Nothing listens until Serve or Run.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	cfg := opts.Config
	if cfg == nil {
		workDir := opts.WorkDir
		if workDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			workDir = wd
		}
		loaded, err := config.Load(workDir)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	d := &Daemon{cfg: cfg, paths: paths}
	ok := false
	defer func() {
		if !ok {
			d.closeResources()
		}
	}()

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.Log.Level)
	logCfg.Pretty = opts.PrintLogs || cfg.Log.Pretty
	if !logCfg.Pretty {
		logCfg.File = cfg.Log.File
		if logCfg.File == "" {
			logCfg.File = paths.DaemonLogPath()
		}
	}
	closer, err := logging.Init(logCfg)
	if err != nil {
		return nil, err
	}
	d.logCloser = closer
	d.log = logging.Component("daemon")

	tracePath := cfg.TracePath
	if tracePath == "" {
		tracePath = trace.DefaultPath(paths.TracePath())
	}
	d.tracer, err = trace.Open(tracePath)
	if err != nil {
		return nil, err
	}

	backend, catalog, err := d.initBackend(ctx, opts.Backend)
	if err != nil {
		return nil, err
	}

	if err := d.initTools(); err != nil {
		return nil, err
	}

	d.bus = event.NewBus()
	d.registry = session.NewRegistry(session.Options{
		Backend: backend,
		Tools:   d.tools,
		Gate:    permission.NewChecker(cfg.Approvals, cfg.Tools.ShellDeny),
		Tracer:  d.tracer,
		Store:   storage.New(cfg.StateDir),
		Bus:     d.bus,
		Config: session.Config{
			DefaultModel: cfg.Model,
			Catalog:      catalog,
			MaxSteps:     cfg.Agent.MaxSteps,
			MaxTurns:     cfg.Agent.MaxTurns,
			SystemPrompt: cfg.Agent.SystemPrompt,
			WorkDir:      cfg.Agent.WorkDir,
		},
	})
	if err := d.registry.Load(ctx); err != nil {
		d.log.Warn().Err(err).Str("dir", cfg.StateDir).Msg("failed to restore conversations")
	}

	d.server = server.New(&server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		CORSOrigins:  cfg.Server.CORSOrigins,
		AllowedUsers: cfg.AllowedUsers,
	}, server.Options{
		Registry: d.registry,
		Bus:      d.bus,
		Tracer:   d.tracer,
	})

	ok = true
	return d, nil
}

func (d *Daemon) initBackend(ctx context.Context, override provider.Backend) (provider.Backend, []types.ModelInfo, error) {
	policy := provider.PolicyFromConfig(d.cfg.Retry)
	if override != nil {
		catalog := make([]types.ModelInfo, 0, len(d.cfg.Models))
		for _, name := range d.cfg.Models {
			catalog = append(catalog, types.ModelInfo{ID: name, Default: name == d.cfg.Model})
		}
		return provider.WithRetry(override, policy, d.tracer), catalog, nil
	}

	providers, err := provider.InitializeProviders(ctx, d.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize providers: %w", err)
	}
	catalog := providers.Catalog(d.cfg.Models, d.cfg.Model)
	return provider.WithRetry(providers, policy, d.tracer), catalog, nil
}

func (d *Daemon) initTools() error {
	set, errs := skills.Load(d.cfg.Skills.Dirs)
	for _, err := range errs {
		d.log.Warn().Err(err).Msg("skipping skill")
	}

	skillsDir := ""
	if len(d.cfg.Skills.Dirs) > 0 {
		skillsDir = d.cfg.Skills.Dirs[0]
	}
	tools, err := tool.DefaultRegistry(tool.Config{
		WorkDir:      d.cfg.Agent.WorkDir,
		SkillsDir:    skillsDir,
		ShellTimeout: time.Duration(d.cfg.Tools.ShellTimeout) * time.Millisecond,
		FetchTimeout: time.Duration(d.cfg.Tools.FetchTimeoutMS) * time.Millisecond,
		MaxOutput:    d.cfg.Tools.MaxOutput,
		Sensitivity:  d.cfg.Tools.Sensitivity,
		Disabled:     d.cfg.Tools.Disabled,
		Skills:       set,
	})
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	d.tools = tools

	if d.cfg.Skills.Watch != nil && !*d.cfg.Skills.Watch {
		return nil
	}
	w, err := skills.NewWatcher(d.cfg.Skills.Dirs, func(set *skills.Set) {
		tools.SetSkills(set)
		d.log.Info().Int("skills", set.Len()).Msg("skills reloaded")
	})
	if err != nil {
		d.log.Warn().Err(err).Msg("skills watcher disabled")
		return nil
	}
	d.watcher = w
	return nil
}

// Config returns the effective configuration.
func (d *Daemon) Config() *types.Config { return d.cfg }

// Registry returns the session registry.
func (d *Daemon) Registry() *session.Registry { return d.registry }

// Server returns the protocol server.
func (d *Daemon) Server() *server.Server { return d.server }

// TracePath returns the trace file location.
func (d *Daemon) TracePath() string { return d.tracer.Path() }

// Serve records daemon_start and serves the protocol on l until Shutdown.
func (d *Daemon) Serve(l net.Listener) error {
	d.startedAt = time.Now()
	if d.watcher != nil {
		d.watcher.Start()
	}
	d.record(trace.EventDaemonStart, map[string]any{
		"addr":          l.Addr().String(),
		"model":         d.cfg.Model,
		"models":        d.cfg.Models,
		"tools":         d.tools.IDs(),
		"allowed_users": len(d.cfg.AllowedUsers),
		"pid":           os.Getpid(),
	})
	d.log.Info().
		Str("addr", l.Addr().String()).
		Str("model", d.cfg.Model).
		Str("trace", d.tracer.Path()).
		Msg("daemon started")
	return d.server.Serve(l)
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	addr := net.JoinHostPort(d.cfg.Server.Host, fmt.Sprint(d.cfg.Server.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		d.Shutdown(context.Background())
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Serve(l)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		d.log.Info().Msg("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, d.Shutdown(shutdownCtx))
}

// Shutdown stops the server, finalizes running turns and closes every
// resource. It is safe to call more than once.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() {
		var errs []error
		if d.server != nil {
			errs = append(errs, d.server.Shutdown(ctx))
		}
		if d.registry != nil {
			errs = append(errs, d.registry.Shutdown(ctx))
		}
		if d.tracer != nil {
			data := map[string]any{}
			if !d.startedAt.IsZero() {
				data["uptime_ms"] = time.Since(d.startedAt).Milliseconds()
			}
			d.record(trace.EventDaemonStop, data)
		}
		d.log.Info().Msg("daemon stopped")
		errs = append(errs, d.closeResources())
		d.stopErr = errors.Join(errs...)
	})
	return d.stopErr
}

// record writes a daemon-level trace record; failures are logged only.
func (d *Daemon) record(event string, data map[string]any) {
	if err := d.tracer.Record(event, trace.Context{}, data); err != nil {
		d.log.Error().Err(err).Str("event", event).Msg("failed to write trace record")
	}
}

func (d *Daemon) closeResources() error {
	var errs []error
	if d.watcher != nil {
		errs = append(errs, d.watcher.Stop())
		d.watcher = nil
	}
	if d.bus != nil {
		errs = append(errs, d.bus.Close())
		d.bus = nil
	}
	if d.tracer != nil {
		errs = append(errs, d.tracer.Close())
	}
	if d.logCloser != nil {
		errs = append(errs, d.logCloser.Close())
		d.logCloser = nil
	}
	return errors.Join(errs...)
}
