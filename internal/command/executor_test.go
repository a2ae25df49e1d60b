package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/focus/internal/db"
	"github.com/runger/focus/internal/now"
	"github.com/runger/focus/internal/workitems"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestExecutor(t *testing.T) (*Executor, *workitems.Store) {
	t.Helper()
	d, err := db.Open(context.Background(), db.Options{Path: db.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	store := workitems.NewStore(d.SQL(), nil)
	return NewExecutor(store, nil, func() time.Time { return t0 }), store
}

func seed(t *testing.T, s *workitems.Store, kind now.Kind, id, status string) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), "u1", kind, now.Item{ID: now.ItemID(id), Title: id, Status: status}))
}

func get(t *testing.T, s *workitems.Store, kind now.Kind, id string) now.Item {
	t.Helper()
	it, err := s.Get(context.Background(), "u1", kind, now.ItemID(id))
	require.NoError(t, err)
	return it
}

func TestExecute_CompleteAction_Idempotent(t *testing.T) {
	t.Parallel()
	e, s := newTestExecutor(t)
	ctx := context.Background()
	seed(t, s, now.KindAction, "1", now.StatusInProgress)

	cmd := Command{Op: now.OpCompleteAction, RefID: "1"}
	first := e.Execute(ctx, "u1", cmd)
	assert.True(t, first.OK)
	assert.True(t, first.Changed)
	assert.Equal(t, "action:1", first.Key)
	assert.Equal(t, now.StatusDone, get(t, s, now.KindAction, "1").Status)

	second := e.Execute(ctx, "u1", cmd)
	assert.True(t, second.OK)
	assert.False(t, second.Changed)
	assert.Equal(t, now.StatusDone, get(t, s, now.KindAction, "1").Status)
}

func TestExecute_ResolveBlocker(t *testing.T) {
	t.Parallel()
	e, s := newTestExecutor(t)
	seed(t, s, now.KindBlocker, "b", now.StatusActive)

	out := e.Execute(context.Background(), "u1", Command{Op: now.OpResolveBlocker, RefID: "b"})
	require.True(t, out.OK, out.Error)
	assert.Equal(t, now.StatusResolved, get(t, s, now.KindBlocker, "b").Status)

	out = e.Execute(context.Background(), "u1", Command{Op: now.OpResolveBlocker, RefID: "b"})
	assert.True(t, out.OK)
}

func TestExecute_TouchOps(t *testing.T) {
	t.Parallel()
	e, s := newTestExecutor(t)
	seed(t, s, now.KindSession, "s", "")
	seed(t, s, now.KindDecision, "d", now.StatusUnresolved)

	for _, cmd := range []Command{
		{Op: now.OpResumeSession, RefID: "s"},
		{Op: now.OpOpenDecision, RefID: "d"},
	} {
		out := e.Execute(context.Background(), "u1", cmd)
		require.True(t, out.OK, out.Error)
	}

	for _, it := range []now.Item{get(t, s, now.KindSession, "s"), get(t, s, now.KindDecision, "d")} {
		require.NotNil(t, it.TouchedAt)
		assert.True(t, it.TouchedAt.Equal(t0))
	}
	assert.Equal(t, now.StatusUnresolved, get(t, s, now.KindDecision, "d").Status)
}

func TestExecute_Open(t *testing.T) {
	t.Parallel()
	e, s := newTestExecutor(t)
	ctx := context.Background()
	seed(t, s, now.KindAction, "a", now.StatusOpen)
	seed(t, s, now.KindBlocker, "b", now.StatusActive)

	out := e.Execute(ctx, "u1", Command{Op: now.OpOpen, RefID: "a"})
	require.True(t, out.OK, out.Error)
	assert.Equal(t, "action:a", out.Key)
	assert.Equal(t, now.StatusInProgress, get(t, s, now.KindAction, "a").Status)

	// Explicit kind.
	out = e.Execute(ctx, "u1", Command{Op: now.OpOpen, RefID: "b", Kind: now.KindBlocker})
	require.True(t, out.OK, out.Error)
	assert.Equal(t, now.StatusActive, get(t, s, now.KindBlocker, "b").Status)
	assert.NotNil(t, get(t, s, now.KindBlocker, "b").TouchedAt)

	// Kind parsed from a candidate key.
	out = e.Execute(ctx, "u1", Command{Op: now.OpOpen, RefID: "blocker:b"})
	require.True(t, out.OK, out.Error)
	assert.Equal(t, "blocker:b", out.Key)

	// Repeated open keeps the action in progress.
	out = e.Execute(ctx, "u1", Command{Op: now.OpOpen, RefID: "a"})
	require.True(t, out.OK, out.Error)
	assert.Equal(t, now.StatusInProgress, get(t, s, now.KindAction, "a").Status)
}

func TestExecute_Failures(t *testing.T) {
	t.Parallel()
	e, s := newTestExecutor(t)
	seed(t, s, now.KindAction, "1", now.StatusOpen)

	tests := []struct {
		name   string
		userID string
		cmd    Command
		code   string
	}{
		{"unknown op", "u1", Command{Op: "launch_rocket", RefID: "1"}, CodeUnknownCommand},
		{"empty op", "u1", Command{RefID: "1"}, CodeUnknownCommand},
		{"missing user", "", Command{Op: now.OpCompleteAction, RefID: "1"}, CodeInvalidCommand},
		{"missing ref", "u1", Command{Op: now.OpCompleteAction}, CodeInvalidCommand},
		{"bad kind", "u1", Command{Op: now.OpOpen, RefID: "1", Kind: "note"}, CodeInvalidCommand},
		{"missing item", "u1", Command{Op: now.OpCompleteAction, RefID: "404"}, CodeNotFound},
		{"other user", "u2", Command{Op: now.OpCompleteAction, RefID: "1"}, CodeNotFound},
		{"open missing", "u1", Command{Op: now.OpOpen, RefID: "decision:x"}, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Execute(context.Background(), tt.userID, tt.cmd)
			assert.False(t, out.OK)
			assert.Equal(t, tt.code, out.Code)
			assert.NotEmpty(t, out.Error)
		})
	}
	assert.Equal(t, now.StatusOpen, get(t, s, now.KindAction, "1").Status)
}

type brokenStore struct{}

var errDisk = errors.New("disk on fire")

func (brokenStore) Get(context.Context, string, now.Kind, now.ItemID) (now.Item, error) {
	return now.Item{}, errDisk
}

func (brokenStore) SetStatus(context.Context, string, now.Kind, now.ItemID, string) (bool, error) {
	return false, errDisk
}

func (brokenStore) Touch(context.Context, string, now.Kind, now.ItemID, time.Time) error {
	return errDisk
}

func TestExecute_StoreError(t *testing.T) {
	t.Parallel()
	e := NewExecutor(brokenStore{}, nil, nil)

	out := e.Execute(context.Background(), "u1", Command{Op: now.OpCompleteAction, RefID: "1"})
	assert.False(t, out.OK)
	assert.Equal(t, CodeStoreError, out.Code)
}

func TestFromAction_RoundTripsEngineOutput(t *testing.T) {
	t.Parallel()
	e, s := newTestExecutor(t)
	seed(t, s, now.KindBlocker, "42", now.StatusActive)

	items, err := s.ListOpen(context.Background(), "u1", now.KindBlocker)
	require.NoError(t, err)
	res := now.Default().Compute(now.Bundle{Now: t0, Blockers: items})
	r, ok := res.(now.ResolvedNow)
	require.True(t, ok)

	out := e.Execute(context.Background(), "u1", FromAction(r.RecommendedAction.Payload))
	require.True(t, out.OK, out.Error)
	assert.Equal(t, now.StatusResolved, get(t, s, now.KindBlocker, "42").Status)
}
