// Package events is the append-only user event log the engine's cooldown
// guard and intent strategy read from.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runger/focus/internal/now"
)

// DefaultRecentLimit is how many events a bundle carries by default.
const DefaultRecentLimit = 50

// ErrUnknownType is returned when logging an event type the engine does not
// know.
var ErrUnknownType = errors.New("unknown event type")

var errUserRequired = errors.New("user_id is required")

// Event is a stored user event.
type Event struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      now.EventType   `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// UserEvent converts the stored event into the engine's shape.
func (e Event) UserEvent() now.UserEvent {
	return now.UserEvent{Type: e.Type, Timestamp: e.Timestamp, Payload: e.Payload}
}

// Log is the SQLite-backed event log.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	newID  func() string
}

// NewLog creates a new event log.
func NewLog(db *sql.DB, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, logger: logger, newID: uuid.NewString}
}

// Append stores one event. A nil payload is stored as empty; any other
// payload must be valid JSON.
func (l *Log) Append(ctx context.Context, userID string, typ now.EventType, payload json.RawMessage, at time.Time) (Event, error) {
	if userID == "" {
		return Event{}, errUserRequired
	}
	if !typ.IsValid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return Event{}, errors.New("payload must be valid JSON")
	}

	ev := Event{
		ID:        l.newID(),
		UserID:    userID,
		Type:      typ,
		Timestamp: at.UTC().Truncate(time.Millisecond),
		Payload:   payload,
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO user_event (event_id, user_id, type, ts_ms, payload_json)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, userID, string(typ), ev.Timestamp.UnixMilli(), string(payload))
	if err != nil {
		return Event{}, fmt.Errorf("failed to log event: %w", err)
	}

	l.logger.Debug("logged user event", "user_id", userID, "type", typ, "event_id", ev.ID)
	return ev, nil
}

// Recent returns the user's most recent events, oldest first. Events with
// the same timestamp keep insertion order.
func (l *Log) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	if userID == "" {
		return nil, errUserRequired
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, user_id, type, ts_ms, payload_json FROM (
			SELECT seq, event_id, user_id, type, ts_ms, payload_json
			FROM user_event
			WHERE user_id = ?
			ORDER BY ts_ms DESC, seq DESC
			LIMIT ?
		) ORDER BY ts_ms ASC, seq ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// LatestOfTypes returns the user's newest event whose type is in types.
// ok is false when there is none.
func (l *Log) LatestOfTypes(ctx context.Context, userID string, types ...now.EventType) (Event, bool, error) {
	if userID == "" {
		return Event{}, false, errUserRequired
	}
	if len(types) == 0 {
		return Event{}, false, nil
	}

	args := []any{userID}
	for _, t := range types {
		args = append(args, string(t))
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, user_id, type, ts_ms, payload_json
		FROM user_event
		WHERE user_id = ? AND type IN (?`+strings.Repeat(", ?", len(types)-1)+`)
		ORDER BY ts_ms DESC, seq DESC
		LIMIT 1
	`, args...)
	if err != nil {
		return Event{}, false, fmt.Errorf("failed to query latest event: %w", err)
	}
	evs, err := scanEvents(rows)
	if err != nil {
		return Event{}, false, err
	}
	if len(evs) == 0 {
		return Event{}, false, nil
	}
	return evs[0], true, nil
}

// Prune deletes up to limit events older than before, across all users, and
// returns how many were removed. Callers loop until it returns fewer than
// limit.
func (l *Log) Prune(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, errors.New("prune limit must be positive")
	}
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM user_event
		WHERE seq IN (
			SELECT seq FROM user_event WHERE ts_ms < ? LIMIT ?
		)
	`, before.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			ev      Event
			typ     string
			tsMs    int64
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &typ, &tsMs, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = now.EventType(typ)
		ev.Timestamp = time.UnixMilli(tsMs).UTC()
		if payload != "" {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}

// UserEvents converts stored events into the engine's shape.
func UserEvents(evs []Event) []now.UserEvent {
	out := make([]now.UserEvent, len(evs))
	for i, ev := range evs {
		out[i] = ev.UserEvent()
	}
	return out
}
