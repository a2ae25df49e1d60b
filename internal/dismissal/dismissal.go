// Package dismissal persists how often a user has waved away each candidate.
//
// The counters feed the engine's ignore decay. The derived state follows the
// penalty curve:
//
//	NONE       -> never dismissed, no penalty
//	DAMPENED   -> dismissed 1-2 times, score reduced
//	SUPPRESSED -> dismissed >= threshold times, penalty at its cap
//
// Transitions:
//   - Dismiss: NONE -> DAMPENED -> SUPPRESSED (when count >= threshold)
//   - Execute: any state -> NONE (acting on a pick forgives earlier dismissals)
package dismissal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runger/focus/internal/now"
)

// State represents a dismissal suppression level.
type State string

const (
	StateNone       State = "none"
	StateDampened   State = "dampened"
	StateSuppressed State = "suppressed"
)

var errRequiredFields = errors.New("user_id and candidate key are required")

// IsValid returns true if s is a recognized dismissal state.
func (s State) IsValid() bool {
	switch s {
	case StateNone, StateDampened, StateSuppressed:
		return true
	}
	return false
}

// Config holds dismissal configuration.
type Config struct {
	// SuppressThreshold is the count at which a candidate is reported as
	// suppressed. Default: 3, where the engine's penalty reaches its cap.
	SuppressThreshold int
}

// DefaultConfig returns the default dismissal configuration.
func DefaultConfig() Config {
	return Config{
		SuppressThreshold: 3,
	}
}

// Store manages dismissal counters.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

// NewStore creates a new dismissal store.
func NewStore(db *sql.DB, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SuppressThreshold < 1 {
		cfg.SuppressThreshold = DefaultConfig().SuppressThreshold
	}
	return &Store{db: db, cfg: cfg, logger: logger}
}

// Record is one row of the ignored_candidate table.
type Record struct {
	Key             string `json:"key"`
	Count           int    `json:"count"`
	LastDismissedMs int64  `json:"last_dismissed_ms,omitempty"`
	State           State  `json:"state"`
}

// stateFor derives the state from a count.
func (s *Store) stateFor(count int) State {
	switch {
	case count <= 0:
		return StateNone
	case count >= s.cfg.SuppressThreshold:
		return StateSuppressed
	}
	return StateDampened
}

func validKey(key string) bool {
	_, _, ok := now.SplitCandidateKey(key)
	return ok
}

// RecordDismissal increments the counter for key and returns the new record.
func (s *Store) RecordDismissal(ctx context.Context, userID, key string, at time.Time) (Record, error) {
	if userID == "" || key == "" {
		return Record{}, errRequiredFields
	}
	if !validKey(key) {
		return Record{}, fmt.Errorf("invalid candidate key %q", key)
	}
	if at.IsZero() {
		at = time.Now()
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ignored_candidate (user_id, candidate_key, dismissal_count, last_dismissed_ms)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id, candidate_key) DO UPDATE SET
			dismissal_count = dismissal_count + 1,
			last_dismissed_ms = excluded.last_dismissed_ms
		RETURNING dismissal_count
	`, userID, key, at.UnixMilli()).Scan(&count)
	if err != nil {
		return Record{}, fmt.Errorf("failed to record dismissal: %w", err)
	}

	rec := Record{Key: key, Count: count, LastDismissedMs: at.UnixMilli(), State: s.stateFor(count)}
	s.logger.Debug("recorded dismissal",
		"user_id", userID,
		"key", key,
		"count", count,
		"state", rec.State,
	)
	return rec, nil
}

// Reset forgets every dismissal of key. Resetting an unknown key is not an
// error.
func (s *Store) Reset(ctx context.Context, userID, key string) error {
	if userID == "" || key == "" {
		return errRequiredFields
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM ignored_candidate WHERE user_id = ? AND candidate_key = ?",
		userID, key)
	if err != nil {
		return fmt.Errorf("failed to reset dismissals: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("reset dismissals (back to NONE)", "user_id", userID, "key", key)
	}
	return nil
}

// Get returns the record for key. A key never dismissed yields a zero
// count and StateNone.
func (s *Store) Get(ctx context.Context, userID, key string) (Record, error) {
	rec := Record{Key: key, State: StateNone}
	if userID == "" || key == "" {
		return rec, nil
	}

	err := s.db.QueryRowContext(ctx,
		"SELECT dismissal_count, last_dismissed_ms FROM ignored_candidate WHERE user_id = ? AND candidate_key = ?",
		userID, key).Scan(&rec.Count, &rec.LastDismissedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to query dismissal record: %w", err)
	}
	rec.State = s.stateFor(rec.Count)
	return rec, nil
}

// Counts returns every counter of the user ordered by key, in the shape the
// engine consumes.
func (s *Store) Counts(ctx context.Context, userID string) ([]now.IgnoredCandidate, error) {
	if userID == "" {
		return nil, errRequiredFields
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT candidate_key, dismissal_count FROM ignored_candidate WHERE user_id = ? AND dismissal_count > 0 ORDER BY candidate_key",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dismissal counts: %w", err)
	}
	defer rows.Close()

	out := []now.IgnoredCandidate{}
	for rows.Next() {
		var ic now.IgnoredCandidate
		if err := rows.Scan(&ic.Key, &ic.Count); err != nil {
			return nil, fmt.Errorf("failed to scan dismissal count: %w", err)
		}
		out = append(out, ic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dismissal counts: %w", err)
	}
	return out, nil
}

// IsSuppressed reports whether key has reached the suppression threshold.
func (s *Store) IsSuppressed(ctx context.Context, userID, key string) (bool, error) {
	rec, err := s.Get(ctx, userID, key)
	if err != nil {
		return false, err
	}
	return rec.State == StateSuppressed, nil
}
