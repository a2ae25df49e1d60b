package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(context.Background(), Options{Path: MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_CreatesFileAndDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "focus.db")
	d, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	defer d.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, d.Path())
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}

func TestOpen_RunsMigrations(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	version, err := d.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
	assert.NoError(t, d.Validate(ctx))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, d.SQL()))
	require.NoError(t, RunMigrations(ctx, d.SQL()))

	var n int
	require.NoError(t, d.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(Migrations()), n)
}

func TestRunMigrations_RefusesNewerSchema(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	_, err := d.SQL().ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_ts) VALUES (?, 0)`, SchemaVersion+1)
	require.NoError(t, err)

	err = RunMigrations(ctx, d.SQL())
	assert.ErrorIs(t, err, ErrSchemaVersionTooNew)
}

func TestReopen_KeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "focus.db")
	ctx := context.Background()

	d, err := Open(ctx, Options{Path: path, CheckpointInterval: -1})
	require.NoError(t, err)
	_, err = d.SQL().ExecContext(ctx, `
		INSERT INTO work_item (user_id, kind, id, title, updated_at_ms)
		VALUES ('u1', 'action', '1', 'Write report', 0)
	`)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d, err = Open(ctx, Options{Path: path, CheckpointInterval: -1})
	require.NoError(t, err)
	defer d.Close()

	var title string
	require.NoError(t, d.SQL().QueryRowContext(ctx, `SELECT title FROM work_item WHERE user_id='u1'`).Scan(&title))
	assert.Equal(t, "Write report", title)
}

func TestClose_Twice(t *testing.T) {
	t.Parallel()

	d, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "focus.db")})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.NoError(t, d.Close())
}

func TestWorkItem_RejectsUnknownKind(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	_, err := d.SQL().ExecContext(context.Background(), `
		INSERT INTO work_item (user_id, kind, id, title, updated_at_ms)
		VALUES ('u1', 'note', '1', 'x', 0)
	`)
	assert.Error(t, err)
}
