// Package maintenance runs focusd's background housekeeping: it prunes old
// user events and finished work items, and vacuums the database when it has
// grown.
package maintenance

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Defaults.
const (
	DefaultInterval           = time.Hour
	DefaultRetentionDays      = 90
	DefaultPruneBatchSize     = 1000
	DefaultPruneYieldDuration = 100 * time.Millisecond
	DefaultVacuumGrowthRatio  = 2.0
)

// EventPruner deletes old user events in batches.
type EventPruner interface {
	Prune(ctx context.Context, before time.Time, limit int) (int64, error)
}

// ItemPruner deletes old finished work items in batches.
type ItemPruner interface {
	PruneFinished(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Config configures the runner.
type Config struct {
	// Interval between passes. Zero uses DefaultInterval.
	Interval time.Duration

	// RetentionDays is the age past which rows are pruned. 0 disables
	// pruning; negative uses DefaultRetentionDays.
	RetentionDays int

	PruneBatchSize     int
	PruneYieldDuration time.Duration

	// DBPath enables the VACUUM size check. Empty skips it.
	DBPath            string
	VacuumGrowthRatio float64

	Logger *slog.Logger
	Clock  func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.PruneBatchSize <= 0 {
		c.PruneBatchSize = DefaultPruneBatchSize
	}
	if c.PruneYieldDuration <= 0 {
		c.PruneYieldDuration = DefaultPruneYieldDuration
	}
	if c.VacuumGrowthRatio <= 0 {
		c.VacuumGrowthRatio = DefaultVacuumGrowthRatio
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Stats holds cumulative maintenance counters.
type Stats struct {
	Ticks               int64
	EventsPruned        int64
	ItemsPruned         int64
	VacuumsPerformed    int64
	LastTickTime        time.Time
	LastVacuumSizeBytes int64
}

// Runner performs periodic maintenance.
type Runner struct {
	db     *sql.DB
	events EventPruner
	items  ItemPruner
	cfg    Config

	mu    sync.Mutex
	stats Stats
}

// NewRunner creates a runner. db is only used for VACUUM.
func NewRunner(db *sql.DB, events EventPruner, items ItemPruner, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{db: db, events: events, items: items, cfg: cfg}
}

// GetStats returns a snapshot of the counters.
func (r *Runner) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run ticks until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.cfg.Logger.Info("maintenance runner started",
		"interval", r.cfg.Interval,
		"retention_days", r.cfg.RetentionDays,
	)
	for {
		select {
		case <-ctx.Done():
			r.cfg.Logger.Debug("maintenance runner stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one maintenance pass.
func (r *Runner) Tick(ctx context.Context) {
	r.mu.Lock()
	r.stats.Ticks++
	r.stats.LastTickTime = r.cfg.Clock()
	r.mu.Unlock()

	if r.cfg.RetentionDays > 0 {
		cutoff := r.cfg.Clock().Add(-time.Duration(r.cfg.RetentionDays) * 24 * time.Hour)
		if r.events != nil {
			n := r.prune(ctx, "user_event", cutoff, r.events.Prune)
			r.mu.Lock()
			r.stats.EventsPruned += n
			r.mu.Unlock()
		}
		if r.items != nil {
			n := r.prune(ctx, "work_item", cutoff, r.items.PruneFinished)
			r.mu.Lock()
			r.stats.ItemsPruned += n
			r.mu.Unlock()
		}
	}

	r.maybeVacuum(ctx)
}

// prune calls fn in batches until a short batch, an error or cancellation.
func (r *Runner) prune(ctx context.Context, table string, cutoff time.Time, fn func(context.Context, time.Time, int) (int64, error)) int64 {
	var total int64
	for {
		if ctx.Err() != nil {
			return total
		}
		n, err := fn(ctx, cutoff, r.cfg.PruneBatchSize)
		if err != nil {
			r.cfg.Logger.Warn("retention prune batch failed", "table", table, "error", err)
			break
		}
		total += n
		if n < int64(r.cfg.PruneBatchSize) {
			break
		}

		select {
		case <-ctx.Done():
			return total
		case <-time.After(r.cfg.PruneYieldDuration):
		}
	}

	if total > 0 {
		r.cfg.Logger.Info("retention prune completed", "table", table, "deleted", total, "cutoff", cutoff)
	}
	return total
}

// maybeVacuum runs VACUUM once the file has grown past the growth ratio
// since the last one.
func (r *Runner) maybeVacuum(ctx context.Context) {
	if r.cfg.DBPath == "" || r.db == nil {
		return
	}

	info, err := os.Stat(r.cfg.DBPath)
	if err != nil {
		r.cfg.Logger.Warn("failed to stat database for vacuum check", "error", err)
		return
	}
	size := info.Size()

	r.mu.Lock()
	last := r.stats.LastVacuumSizeBytes
	if last == 0 {
		r.stats.LastVacuumSizeBytes = size
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ratio := float64(size) / float64(last)
	if ratio < r.cfg.VacuumGrowthRatio {
		return
	}

	r.cfg.Logger.Info("running VACUUM", "current_size", size, "last_vacuum_size", last, "ratio", ratio)
	if _, err := r.db.ExecContext(ctx, "VACUUM"); err != nil {
		r.cfg.Logger.Warn("VACUUM failed", "error", err)
		return
	}

	r.mu.Lock()
	if info, err := os.Stat(r.cfg.DBPath); err == nil {
		r.stats.LastVacuumSizeBytes = info.Size()
	}
	r.stats.VacuumsPerformed++
	r.mu.Unlock()
}
