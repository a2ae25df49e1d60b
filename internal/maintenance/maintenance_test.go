package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/focus/internal/db"
	"github.com/runger/focus/internal/events"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// batchPruner hands out fixed batch sizes and records the calls.
type batchPruner struct {
	mu      sync.Mutex
	batches []int64
	err     error
	cutoffs []time.Time
}

func (p *batchPruner) Prune(_ context.Context, before time.Time, _ int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	if p.err != nil {
		return 0, p.err
	}
	if len(p.batches) == 0 {
		return 0, nil
	}
	n := p.batches[0]
	p.batches = p.batches[1:]
	return n, nil
}

func (p *batchPruner) PruneFinished(ctx context.Context, before time.Time, limit int) (int64, error) {
	return p.Prune(ctx, before, limit)
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	r := NewRunner(nil, nil, nil, Config{RetentionDays: -1})
	assert.Equal(t, DefaultInterval, r.cfg.Interval)
	assert.Equal(t, DefaultRetentionDays, r.cfg.RetentionDays)
	assert.Equal(t, DefaultPruneBatchSize, r.cfg.PruneBatchSize)
	assert.Equal(t, DefaultVacuumGrowthRatio, r.cfg.VacuumGrowthRatio)
}

func TestTick_PrunesInBatches(t *testing.T) {
	t.Parallel()
	evs := &batchPruner{batches: []int64{10, 10, 3}}
	items := &batchPruner{batches: []int64{2}}
	r := NewRunner(nil, evs, items, Config{
		RetentionDays:      30,
		PruneBatchSize:     10,
		PruneYieldDuration: time.Millisecond,
		Clock:              func() time.Time { return t0 },
	})

	r.Tick(context.Background())

	stats := r.GetStats()
	assert.Equal(t, int64(1), stats.Ticks)
	assert.Equal(t, int64(23), stats.EventsPruned)
	assert.Equal(t, int64(2), stats.ItemsPruned)
	require.Len(t, evs.cutoffs, 3)
	assert.True(t, evs.cutoffs[0].Equal(t0.Add(-30*24*time.Hour)))
}

func TestTick_RetentionDisabled(t *testing.T) {
	t.Parallel()
	evs := &batchPruner{batches: []int64{5}}
	r := NewRunner(nil, evs, evs, Config{RetentionDays: 0})

	r.Tick(context.Background())

	assert.Empty(t, evs.cutoffs)
	assert.Equal(t, int64(0), r.GetStats().EventsPruned)
}

func TestTick_PruneErrorIsLogged(t *testing.T) {
	t.Parallel()
	evs := &batchPruner{err: errors.New("disk I/O error")}
	r := NewRunner(nil, evs, nil, Config{RetentionDays: 1})

	r.Tick(context.Background())

	assert.Len(t, evs.cutoffs, 1)
	assert.Equal(t, int64(0), r.GetStats().EventsPruned)
}

func TestTick_AgainstStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, err := db.Open(ctx, db.Options{Path: db.MemoryPath})
	require.NoError(t, err)
	defer d.Close()

	log := events.NewLog(d.SQL(), nil)
	_, err = log.Append(ctx, "u1", now.EventDeferNow, nil, t0.Add(-200*24*time.Hour))
	require.NoError(t, err)
	_, err = log.Append(ctx, "u1", now.EventOverrideNow, nil, t0)
	require.NoError(t, err)

	items := workitems.NewStore(d.SQL(), nil)
	require.NoError(t, items.Upsert(ctx, "u1", now.KindAction, now.Item{ID: "1", Title: "still open", Status: "open"}))

	r := NewRunner(d.SQL(), log, items, Config{RetentionDays: 90, Clock: func() time.Time { return t0 }})
	r.Tick(ctx)

	assert.Equal(t, int64(1), r.GetStats().EventsPruned)
	evs, err := log.Recent(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, now.EventOverrideNow, evs[0].Type)

	open, err := items.ListOpen(ctx, "u1", now.KindAction)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMaybeVacuum_RecordsBaseline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "focus.db")
	d, err := db.Open(ctx, db.Options{Path: path, CheckpointInterval: -1})
	require.NoError(t, err)
	defer d.Close()

	r := NewRunner(d.SQL(), nil, nil, Config{DBPath: path})
	r.Tick(ctx)

	stats := r.GetStats()
	assert.Positive(t, stats.LastVacuumSizeBytes)
	assert.Equal(t, int64(0), stats.VacuumsPerformed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	r := NewRunner(nil, nil, nil, Config{Interval: 5 * time.Millisecond, RetentionDays: 0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.GetStats().Ticks >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
