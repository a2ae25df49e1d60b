// Package daemon implements focusd, the HTTP daemon that serves the focus
// API over a local SQLite store.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/runger/focus/internal/api"
	"github.com/runger/focus/internal/assemble"
	"github.com/runger/focus/internal/config"
	"github.com/runger/focus/internal/db"
	"github.com/runger/focus/internal/dismissal"
	"github.com/runger/focus/internal/events"
	"github.com/runger/focus/internal/focus"
	"github.com/runger/focus/internal/logging"
	"github.com/runger/focus/internal/maintenance"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

// Version is set at build time
var Version = "dev"

// GitCommit is set at build time
var GitCommit = ""

// Options configures a Server.
type Options struct {
	// Config is required.
	Config *config.Config

	// ConfigPath is re-read on Reload. Empty disables reload.
	ConfigPath string

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger

	// LogLevel, when set, is updated from log.level on Reload.
	LogLevel *slog.LevelVar

	// Clock overrides time.Now for the service and maintenance.
	Clock func() time.Time
}

// Server owns the database, the focus service and the HTTP server.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	level      *slog.LevelVar

	db          *db.DB
	svc         *focus.Service
	maintenance *maintenance.Runner
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener

	startTime    time.Time
	shutdownOnce sync.Once
	shutdownErr  error
	closeOnce    sync.Once
	closeErr     error
}

// NewServer opens the database and builds the service stack. The caller
// must call Close.
func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	engineOpts, err := cfg.EngineOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	engine, err := now.NewEngine(engineOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	dbPath := cfg.DBPath()
	store, err := db.Open(ctx, db.Options{Path: dbPath, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	items := workitems.NewStore(store.SQL(), logger)
	log := events.NewLog(store.SQL(), logger)
	dismissals := dismissal.NewStore(store.SQL(), dismissal.DefaultConfig(), logger)

	asmCfg := assemble.DefaultConfig()
	if cfg.Storage.EventLimit > 0 {
		asmCfg.EventLimit = cfg.Storage.EventLimit
	}
	asmCfg.Timeout = time.Duration(cfg.Storage.FetchTimeoutMs) * time.Millisecond

	svc := focus.New(focus.Deps{
		Engine:     engine,
		Items:      items,
		Events:     log,
		Dismissals: dismissals,
		Logger:     logger,
		Clock:      clock,
		Assemble:   asmCfg,
	})

	handler := api.NewHandler(svc, store, api.Config{
		ExecutePerSecond: cfg.Limits.ExecutePerSecond,
		ExecuteBurst:     cfg.Limits.ExecuteBurst,
		MaxBodyBytes:     cfg.Limits.MaxBodyBytes,
	}, logger)

	maintCfg := maintenance.Config{
		RetentionDays: cfg.Storage.RetentionDays,
		Logger:        logger,
		Clock:         clock,
	}
	if dbPath != db.MemoryPath {
		maintCfg.DBPath = dbPath
	}

	return &Server{
		cfg:         cfg,
		configPath:  opts.ConfigPath,
		logger:      logger,
		level:       opts.LogLevel,
		db:          store,
		svc:         svc,
		maintenance: maintenance.NewRunner(store.SQL(), log, items, maintCfg),
		httpServer: &http.Server{
			Handler:           handler.Routes(),
			ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		startTime: clock(),
	}, nil
}

// Service returns the focus service the server exposes.
func (s *Server) Service() *focus.Service { return s.svc }

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve handles requests until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// RunMaintenance runs the retention loop until ctx is canceled.
func (s *Server) RunMaintenance(ctx context.Context) {
	s.maintenance.Run(ctx)
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("stopping http server", "uptime", time.Since(s.startTime).Round(time.Second))
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.shutdownErr = fmt.Errorf("failed to shut down http server: %w", err)
		}
	})
	return s.shutdownErr
}

// Close closes the database. Call it after Shutdown.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Reload re-reads the config file. Only log.level takes effect without a
// restart.
func (s *Server) Reload() error {
	if s.configPath == "" {
		s.logger.Debug("no config path, ignoring reload")
		return nil
	}
	cfg, err := config.LoadFromFile(s.configPath)
	if err != nil {
		return err
	}
	if s.level != nil {
		lvl, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		s.level.Set(lvl)
	}
	logging.LogConfigReload(s.logger, s.configPath)
	return nil
}
