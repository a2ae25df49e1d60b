// Package db opens the focus SQLite database and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// MemoryPath opens a private in-memory database. Used by tests.
const MemoryPath = ":memory:"

// ErrDatabaseClosed is returned when an operation is attempted on a closed database.
var ErrDatabaseClosed = errors.New("database is closed")

// walCheckpointInterval bounds WAL growth in a long-running daemon.
const walCheckpointInterval = 5 * time.Minute

// DB wraps the SQLite connection and its background maintenance.
type DB struct {
	closeErr  error
	db        *sql.DB
	logger    *slog.Logger
	stopCh    chan struct{}
	stoppedCh chan struct{}
	path      string
	closeOnce sync.Once
}

// Options configures database initialization.
type Options struct {
	Logger *slog.Logger
	Path   string
	// CheckpointInterval overrides the WAL checkpoint period. Zero uses the
	// default; a negative value disables the loop.
	CheckpointInterval time.Duration
}

// Open opens the database, creating its directory when needed, and runs
// migrations. The caller must call Close.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, errors.New("database path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	memory := opts.Path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := openAndInit(ctx, opts.Path, memory)
	if err != nil {
		return nil, err
	}

	d := &DB{
		db:        sqlDB,
		logger:    logger,
		path:      opts.Path,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	interval := opts.CheckpointInterval
	if interval == 0 {
		interval = walCheckpointInterval
	}
	if memory || interval < 0 {
		close(d.stoppedCh)
	} else {
		go d.walCheckpointLoop(interval)
	}

	logger.Debug("database opened", "path", opts.Path)
	return d, nil
}

func dsn(path string, memory bool) string {
	// modernc.org/sqlite uses _pragma=name(value) syntax
	if memory {
		return "file::memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
}

func openAndInit(ctx context.Context, path string, memory bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer. For :memory: this also keeps every query on the one
	// connection that holds the data.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close stops background work and closes the connection. It is safe to
// call more than once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		close(d.stopCh)
		<-d.stoppedCh

		if d.path != MemoryPath {
			_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		}
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

// SQL returns the underlying handle for the stores.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Path returns the path the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// Ping checks that the connection is usable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	return GetSchemaVersion(ctx, d.db)
}

// Validate checks that every table and index of the schema exists.
func (d *DB) Validate(ctx context.Context) error {
	return ValidateSchema(ctx, d.db)
}

func (d *DB) walCheckpointLoop(interval time.Duration) {
	defer close(d.stoppedCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if _, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				d.logger.Warn("WAL checkpoint failed", "error", err)
			}
		}
	}
}
