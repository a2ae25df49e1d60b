// Package workitems stores users' open work: actions, decisions, blockers and
// sessions.
package workitems

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/runger/focus/internal/now"
)

// ErrNotFound is returned when a user has no item with the given kind and id.
var ErrNotFound = errors.New("work item not found")

var (
	errUserRequired = errors.New("user_id is required")
	errIDRequired   = errors.New("id is required")
)

// openStatuses mirrors the candidate builder's filter so the engine is not
// handed rows it would drop anyway.
var openStatuses = map[now.Kind][]string{
	now.KindAction:   {now.StatusOpen, now.StatusInProgress, now.StatusActive},
	now.KindDecision: {now.StatusUnresolved},
	now.KindBlocker:  {now.StatusActive},
}

// Store is the SQLite-backed work item repository. Every operation is
// scoped by user.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new work item store.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func validate(userID string, kind now.Kind, id now.ItemID) error {
	if userID == "" {
		return errUserRequired
	}
	if !kind.IsValid() {
		return fmt.Errorf("unknown kind %q", kind)
	}
	if id == "" {
		return errIDRequired
	}
	return nil
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// Upsert inserts an item or replaces the stored copy.
func (s *Store) Upsert(ctx context.Context, userID string, kind now.Kind, it now.Item) error {
	if err := validate(userID, kind, it.ID); err != nil {
		return err
	}
	if strings.TrimSpace(it.Title) == "" {
		return errors.New("title is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_item (
			user_id, kind, id, title, status, priority, project,
			due_at_ms, touched_at_ms, updated_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind, id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			priority = excluded.priority,
			project = excluded.project,
			due_at_ms = excluded.due_at_ms,
			touched_at_ms = excluded.touched_at_ms,
			updated_at_ms = excluded.updated_at_ms
	`,
		userID, string(kind), string(it.ID), it.Title,
		normalizeStatus(it.Status),
		strings.ToLower(strings.TrimSpace(string(it.Priority))),
		it.Project,
		msOrNil(it.DueAt), msOrNil(it.TouchedAt),
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert work item: %w", err)
	}
	return nil
}

const selectColumns = `id, title, status, priority, project, due_at_ms, touched_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (now.Item, error) {
	var (
		it               now.Item
		id, prio         string
		dueAt, touchedAt sql.NullInt64
	)
	if err := row.Scan(&id, &it.Title, &it.Status, &prio, &it.Project, &dueAt, &touchedAt); err != nil {
		return now.Item{}, err
	}
	it.ID = now.ItemID(id)
	it.Priority = now.Priority(prio)
	if dueAt.Valid {
		t := time.UnixMilli(dueAt.Int64).UTC()
		it.DueAt = &t
	}
	if touchedAt.Valid {
		t := time.UnixMilli(touchedAt.Int64).UTC()
		it.TouchedAt = &t
	}
	return it, nil
}

// Get returns one item.
func (s *Store) Get(ctx context.Context, userID string, kind now.Kind, id now.ItemID) (now.Item, error) {
	if err := validate(userID, kind, id); err != nil {
		return now.Item{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM work_item WHERE user_id = ? AND kind = ? AND id = ?
	`, userID, string(kind), string(id))

	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return now.Item{}, ErrNotFound
		}
		return now.Item{}, fmt.Errorf("failed to get work item: %w", err)
	}
	return it, nil
}

// ListOpen returns the user's items of one kind that the engine would
// consider, ordered by id. Sessions are returned unless closed.
func (s *Store) ListOpen(ctx context.Context, userID string, kind now.Kind) ([]now.Item, error) {
	if userID == "" {
		return nil, errUserRequired
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	query := `SELECT ` + selectColumns + ` FROM work_item WHERE user_id = ? AND kind = ?`
	args := []any{userID, string(kind)}
	if statuses, ok := openStatuses[kind]; ok {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	} else {
		query += ` AND status <> ?`
		args = append(args, now.StatusClosed)
	}
	query += ` ORDER BY id`

	return s.query(ctx, query, args...)
}

// List returns every item of the user regardless of status, ordered by kind
// then id. An empty kind lists all kinds.
func (s *Store) List(ctx context.Context, userID string, kind now.Kind) ([]Record, error) {
	if userID == "" {
		return nil, errUserRequired
	}

	query := `SELECT kind, ` + selectColumns + ` FROM work_item WHERE user_id = ?`
	args := []any{userID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var k string
		it, err := scanItem(prefixScanner{rows: rows, first: &k})
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		out = append(out, Record{Kind: now.Kind(k), Item: it})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	return out, nil
}

// Record is a stored item together with its kind.
type Record struct {
	Kind now.Kind `json:"kind"`
	Item now.Item `json:"item"`
}

// prefixScanner scans one leading column before handing the rest to
// scanItem.
type prefixScanner struct {
	rows  *sql.Rows
	first *string
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.first}, dest...)...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]now.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	items := []now.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	return items, nil
}

// SetStatus changes an item's status. It reports whether the stored value
// changed; setting the current status again is a no-op.
func (s *Store) SetStatus(ctx context.Context, userID string, kind now.Kind, id now.ItemID, status string) (bool, error) {
	if err := validate(userID, kind, id); err != nil {
		return false, err
	}
	status = normalizeStatus(status)

	result, err := s.db.ExecContext(ctx, `
		UPDATE work_item SET status = ?, updated_at_ms = ?
		WHERE user_id = ? AND kind = ? AND id = ? AND status <> ?
	`, status, s.now().UnixMilli(), userID, string(kind), string(id), status)
	if err != nil {
		return false, fmt.Errorf("failed to set work item status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Debug("work item status changed", "user_id", userID, "kind", kind, "id", id, "status", status)
		return true, nil
	}
	if _, err := s.Get(ctx, userID, kind, id); err != nil {
		return false, err
	}
	return false, nil
}

// Touch records that the user just engaged with an item.
func (s *Store) Touch(ctx context.Context, userID string, kind now.Kind, id now.ItemID, at time.Time) error {
	if err := validate(userID, kind, id); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE work_item SET touched_at_ms = ?, updated_at_ms = ?
		WHERE user_id = ? AND kind = ? AND id = ?
	`, at.UnixMilli(), s.now().UnixMilli(), userID, string(kind), string(id))
	if err != nil {
		return fmt.Errorf("failed to touch work item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an item. Deleting a missing item is not an error.
func (s *Store) Delete(ctx context.Context, userID string, kind now.Kind, id now.ItemID) error {
	if err := validate(userID, kind, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM work_item WHERE user_id = ? AND kind = ? AND id = ?
	`, userID, string(kind), string(id)); err != nil {
		return fmt.Errorf("failed to delete work item: %w", err)
	}
	return nil
}

// PruneFinished deletes up to limit items in a finished status (done,
// resolved, closed) last updated before the cutoff, across all users.
func (s *Store) PruneFinished(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, errors.New("prune limit must be positive")
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM work_item
		WHERE rowid IN (
			SELECT rowid FROM work_item
			WHERE status IN (?, ?, ?) AND updated_at_ms < ?
			LIMIT ?
		)
	`, now.StatusDone, now.StatusResolved, now.StatusClosed, before.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune work items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
