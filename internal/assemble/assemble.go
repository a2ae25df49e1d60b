// Package assemble gathers a user's Signal Bundle from storage.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runger/focus/internal/events"
	"github.com/runger/focus/internal/now"
)

// Fetch sources named in FetchError.
const (
	SourceActions   = "actions"
	SourceDecisions = "decisions"
	SourceBlockers  = "blockers"
	SourceSessions  = "sessions"
	SourceEvents    = "events"
	SourceIgnored   = "ignored_candidates"
)

// FetchError reports that one source of the bundle could not be read. It
// is transient: the caller may retry, and must not present it as "nothing
// to do".
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable is always true for fetch failures.
func (e *FetchError) Retryable() bool { return true }

// IsFetchError reports whether err carries a FetchError and returns it.
func IsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ItemSource lists a user's open items of one kind.
type ItemSource interface {
	ListOpen(ctx context.Context, userID string, kind now.Kind) ([]now.Item, error)
}

// EventSource returns a user's recent events, oldest first, and the newest
// event of the given types regardless of age.
type EventSource interface {
	Recent(ctx context.Context, userID string, limit int) ([]events.Event, error)
	LatestOfTypes(ctx context.Context, userID string, types ...now.EventType) (events.Event, bool, error)
}

// IgnoredSource returns a user's dismissal counters.
type IgnoredSource interface {
	Counts(ctx context.Context, userID string) ([]now.IgnoredCandidate, error)
}

// Config tunes the assembler.
type Config struct {
	// EventLimit caps how many recent events the bundle carries.
	EventLimit int
	// Timeout bounds the whole fetch. Zero means only the caller's context
	// applies.
	Timeout time.Duration
}

// DefaultConfig returns the default assembler configuration.
func DefaultConfig() Config {
	return Config{
		EventLimit: events.DefaultRecentLimit,
		Timeout:    5 * time.Second,
	}
}

// Assembler reads every source concurrently and builds a Bundle.
type Assembler struct {
	items   ItemSource
	events  EventSource
	ignored IgnoredSource
	cfg     Config
	logger  *slog.Logger
	clock   func() time.Time
}

// New creates an assembler. A nil clock uses time.Now.
func New(items ItemSource, evs EventSource, ignored IgnoredSource, cfg Config, logger *slog.Logger, clock func() time.Time) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.EventLimit <= 0 {
		cfg.EventLimit = DefaultConfig().EventLimit
	}
	return &Assembler{items: items, events: evs, ignored: ignored, cfg: cfg, logger: logger, clock: clock}
}

// withCooldownEvent makes sure the newest defer-type event is in evs. When it
// is missing it is older than every recent event, so it goes first.
func withCooldownEvent(evs []events.Event, latest events.Event) []events.Event {
	for _, ev := range evs {
		if ev.ID == latest.ID {
			return evs
		}
	}
	out := make([]events.Event, 0, len(evs)+1)
	out = append(out, latest)
	return append(out, evs...)
}

// Assemble builds the bundle for userID. Any failing source aborts the
// others and is returned as a *FetchError.
func (a *Assembler) Assemble(ctx context.Context, userID string) (now.Bundle, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	b := now.Bundle{Now: a.clock()}
	eg, egCtx := errgroup.WithContext(ctx)

	kinds := []struct {
		kind   now.Kind
		source string
		dst    *[]now.Item
	}{
		{now.KindAction, SourceActions, &b.Actions},
		{now.KindDecision, SourceDecisions, &b.Decisions},
		{now.KindBlocker, SourceBlockers, &b.Blockers},
		{now.KindSession, SourceSessions, &b.Sessions},
	}
	for _, k := range kinds {
		eg.Go(func() error {
			items, err := a.items.ListOpen(egCtx, userID, k.kind)
			if err != nil {
				return &FetchError{Source: k.source, Err: err}
			}
			*k.dst = items
			return nil
		})
	}

	eg.Go(func() error {
		evs, err := a.events.Recent(egCtx, userID, a.cfg.EventLimit)
		if err != nil {
			return &FetchError{Source: SourceEvents, Err: err}
		}
		latest, found, err := a.events.LatestOfTypes(egCtx, userID, now.EventDeferNow, now.EventOverrideNow)
		if err != nil {
			return &FetchError{Source: SourceEvents, Err: err}
		}
		if found {
			evs = withCooldownEvent(evs, latest)
		}
		b.UserEvents = events.UserEvents(evs)
		return nil
	})

	eg.Go(func() error {
		counts, err := a.ignored.Counts(egCtx, userID)
		if err != nil {
			return &FetchError{Source: SourceIgnored, Err: err}
		}
		b.IgnoredCandidates = counts
		return nil
	})

	if err := eg.Wait(); err != nil {
		a.logger.Warn("bundle fetch failed", "user_id", userID, "error", err)
		return now.Bundle{}, err
	}

	a.logger.Debug("bundle assembled",
		"user_id", userID,
		"items", b.ItemCount(),
		"events", len(b.UserEvents),
		"ignored", len(b.IgnoredCandidates),
	)
	return b, nil
}
