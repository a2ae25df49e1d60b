package assemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/focus/internal/db"
	"github.com/runger/focus/internal/dismissal"
	"github.com/runger/focus/internal/events"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return t0 }

func TestAssemble_FromStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, err := db.Open(ctx, db.Options{Path: db.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	items := workitems.NewStore(d.SQL(), nil)
	log := events.NewLog(d.SQL(), nil)
	ignored := dismissal.NewStore(d.SQL(), dismissal.DefaultConfig(), nil)

	require.NoError(t, items.Upsert(ctx, "u1", now.KindAction, now.Item{ID: "a", Title: "Write", Status: now.StatusOpen}))
	require.NoError(t, items.Upsert(ctx, "u1", now.KindAction, now.Item{ID: "z", Title: "Done", Status: now.StatusDone}))
	require.NoError(t, items.Upsert(ctx, "u1", now.KindBlocker, now.Item{ID: "b", Title: "Stuck", Status: now.StatusActive}))
	_, err = log.Append(ctx, "u1", now.EventOverrideNow, nil, t0.Add(-time.Hour))
	require.NoError(t, err)
	_, err = ignored.RecordDismissal(ctx, "u1", "action:a", t0)
	require.NoError(t, err)

	a := New(items, log, ignored, DefaultConfig(), nil, clock)
	b, err := a.Assemble(ctx, "u1")
	require.NoError(t, err)

	assert.True(t, b.Now.Equal(t0))
	require.Len(t, b.Actions, 1)
	assert.Equal(t, now.ItemID("a"), b.Actions[0].ID)
	require.Len(t, b.Blockers, 1)
	assert.Empty(t, b.Decisions)
	assert.Empty(t, b.Sessions)
	require.Len(t, b.UserEvents, 1)
	assert.Equal(t, now.EventOverrideNow, b.UserEvents[0].Type)
	assert.Equal(t, []now.IgnoredCandidate{{Key: "action:a", Count: 1}}, b.IgnoredCandidates)
}

func TestAssemble_KeepsDeferBeyondEventLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, err := db.Open(ctx, db.Options{Path: db.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	items := workitems.NewStore(d.SQL(), nil)
	log := events.NewLog(d.SQL(), nil)
	ignored := dismissal.NewStore(d.SQL(), dismissal.DefaultConfig(), nil)

	deferred, err := log.Append(ctx, "u1", now.EventDeferNow, nil, t0.Add(-time.Hour))
	require.NoError(t, err)
	for i := range 5 {
		_, err = log.Append(ctx, "u1", now.EventExecutedAction, nil, t0.Add(-time.Hour+time.Duration(i+1)*time.Second))
		require.NoError(t, err)
	}

	a := New(items, log, ignored, Config{EventLimit: 3}, nil, clock)
	b, err := a.Assemble(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, b.UserEvents, 4)
	assert.Equal(t, now.EventDeferNow, b.UserEvents[0].Type)
	assert.True(t, b.UserEvents[0].Timestamp.Equal(deferred.Timestamp))
	for _, ev := range b.UserEvents[1:] {
		assert.Equal(t, now.EventExecutedAction, ev.Type)
	}

	// Already inside the window: not duplicated.
	a = New(items, log, ignored, Config{EventLimit: 10}, nil, clock)
	b, err = a.Assemble(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, b.UserEvents, 6)
}

type fakeItems struct {
	failKind now.Kind
	err      error
}

func (f fakeItems) ListOpen(ctx context.Context, _ string, kind now.Kind) ([]now.Item, error) {
	if kind == f.failKind {
		return nil, f.err
	}
	return []now.Item{}, ctx.Err()
}

type fakeEvents struct{ err error }

func (f fakeEvents) Recent(context.Context, string, int) ([]events.Event, error) {
	return nil, f.err
}

func (f fakeEvents) LatestOfTypes(context.Context, string, ...now.EventType) (events.Event, bool, error) {
	return events.Event{}, false, f.err
}

type fakeIgnored struct{}

func (fakeIgnored) Counts(context.Context, string) ([]now.IgnoredCandidate, error) {
	return nil, nil
}

func TestAssemble_FetchError(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")

	tests := []struct {
		name   string
		items  fakeItems
		events fakeEvents
		source string
	}{
		{"blockers fail", fakeItems{failKind: now.KindBlocker, err: boom}, fakeEvents{}, SourceBlockers},
		{"events fail", fakeItems{}, fakeEvents{err: boom}, SourceEvents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.items, tt.events, fakeIgnored{}, DefaultConfig(), nil, clock)
			_, err := a.Assemble(context.Background(), "u1")
			require.Error(t, err)

			fe, ok := IsFetchError(err)
			require.True(t, ok)
			assert.Equal(t, tt.source, fe.Source)
			assert.True(t, fe.Retryable())
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestAssemble_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(fakeItems{}, fakeEvents{}, fakeIgnored{}, DefaultConfig(), nil, clock)
	_, err := a.Assemble(ctx, "u1")
	require.Error(t, err)
	_, ok := IsFetchError(err)
	assert.True(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
