// Package signal turns process signals into daemon lifecycle events.
//
//   - SIGTERM, SIGINT: run the shutdown hook, then cancel the context
//   - SIGHUP: run the reload hook
//   - SIGPIPE: ignored, a client hanging up mid-response must not kill the daemon
package signal

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds the shutdown hook when Config leaves it unset.
const DefaultShutdownTimeout = 5 * time.Second

// Config configures a Handler.
type Config struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// ReloadFn runs on SIGHUP. Nil ignores SIGHUP.
	ReloadFn func() error

	// ShutdownFn runs once on the first shutdown signal, with a context
	// bounded by ShutdownTimeout.
	ShutdownFn func(context.Context) error

	ShutdownTimeout time.Duration
}

// Handler owns the signal subscription for one daemon run.
type Handler struct {
	logger     *slog.Logger
	sigCh      chan os.Signal
	cancel     context.CancelFunc
	reloadFn   func() error
	shutdownFn func(context.Context) error
	timeout    time.Duration
	done       chan struct{}
}

// Setup subscribes to signals and returns a context that is canceled once a
// shutdown signal has been handled. Call Stop when the daemon exits by
// another route.
func Setup(ctx context.Context, cfg *Config) (context.Context, *Handler) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handler{
		logger:     logger,
		sigCh:      make(chan os.Signal, 1),
		cancel:     cancel,
		reloadFn:   cfg.ReloadFn,
		shutdownFn: cfg.ShutdownFn,
		timeout:    timeout,
		done:       make(chan struct{}),
	}

	signal.Ignore(syscall.SIGPIPE)
	signal.Notify(h.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	go h.run(ctx)
	return ctx, h
}

func (h *Handler) run(ctx context.Context) {
	defer close(h.done)
	defer signal.Stop(h.sigCh)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("signal handler stopped")
			return
		case sig := <-h.sigCh:
			if sig == syscall.SIGHUP {
				h.reload()
				continue
			}
			h.logger.Info("shutdown signal received", "signal", sig.String())
			h.shutdown()
			return
		}
	}
}

func (h *Handler) shutdown() {
	if h.shutdownFn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		if err := h.shutdownFn(ctx); err != nil {
			h.logger.Warn("shutdown hook failed", "error", err)
		}
		cancel()
	}
	h.cancel()
}

func (h *Handler) reload() {
	if h.reloadFn == nil {
		h.logger.Debug("no reload hook, ignoring SIGHUP")
		return
	}
	if err := h.reloadFn(); err != nil {
		h.logger.Error("failed to reload configuration", "error", err)
		return
	}
	h.logger.Info("configuration reloaded")
}

// Wait blocks until the handler goroutine has exited.
func (h *Handler) Wait() {
	<-h.done
}

// Stop unsubscribes and cancels the context without running the shutdown
// hook.
func (h *Handler) Stop() {
	h.cancel()
	<-h.done
}
