package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/runger/focus/internal/db"
	"github.com/runger/focus/internal/logging"
	"github.com/runger/focus/internal/signal"
)

// Run starts the daemon and blocks until shutdown.
//   - SIGTERM/SIGINT: drain in-flight requests, close the DB, release the lock
//   - SIGHUP: reload configuration from disk
//
// Run also returns when ctx is canceled.
func Run(ctx context.Context, opts Options) error {
	if opts.Config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(nil)
		opts.Logger = logger
	}

	dbPath := cfg.DBPath()
	if dbPath != db.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		lock := NewLockFile(LockFilePath(dbPath))
		if err := lock.Acquire(); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer lock.Release()
	}

	srv, err := NewServer(ctx, opts)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Listen(); err != nil {
		return err
	}

	timeout := cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = signal.DefaultShutdownTimeout
	}
	ctx, sig := signal.Setup(ctx, &signal.Config{
		Logger:          logger,
		ReloadFn:        srv.Reload,
		ShutdownFn:      srv.Shutdown,
		ShutdownTimeout: timeout,
	})
	defer sig.Stop()

	schema, err := srv.db.Version(ctx)
	if err != nil {
		logger.Warn("failed to read schema version", "error", err)
	}
	logging.LogStartup(logger, logging.StartupInfo{
		Version:       Version,
		GitCommit:     GitCommit,
		ConfigPath:    opts.ConfigPath,
		DatabasePath:  dbPath,
		SchemaVersion: schema,
		ListenAddr:    srv.Addr(),
		PID:           os.Getpid(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		srv.RunMaintenance(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	reason := "context canceled"
	if err != nil {
		reason = err.Error()
	}
	logging.LogShutdown(logger, reason)
	return err
}
