package db

// SchemaVersion is the newest schema this build understands. Open refuses a
// database that is ahead of it.
const SchemaVersion = 2

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version     INTEGER PRIMARY KEY,
  applied_ts  INTEGER NOT NULL
);

-- Open work of every kind, scoped by user.
CREATE TABLE IF NOT EXISTS work_item (
  user_id        TEXT NOT NULL,
  kind           TEXT NOT NULL CHECK (kind IN ('action','decision','blocker','session')),
  id             TEXT NOT NULL,
  title          TEXT NOT NULL,
  status         TEXT NOT NULL DEFAULT '',
  priority       TEXT NOT NULL DEFAULT '',
  project        TEXT NOT NULL DEFAULT '',
  due_at_ms      INTEGER,
  touched_at_ms  INTEGER,
  updated_at_ms  INTEGER NOT NULL,
  PRIMARY KEY (user_id, kind, id)
);

CREATE INDEX IF NOT EXISTS idx_work_item_user_kind_status ON work_item(user_id, kind, status);

-- Append-only user event history.
CREATE TABLE IF NOT EXISTS user_event (
  seq           INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id      TEXT NOT NULL UNIQUE,
  user_id       TEXT NOT NULL,
  type          TEXT NOT NULL,
  ts_ms         INTEGER NOT NULL,
  payload_json  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_user_event_user_type_ts ON user_event(user_id, type, ts_ms);
CREATE INDEX IF NOT EXISTS idx_user_event_user_ts ON user_event(user_id, ts_ms);
`

// schemaV2 adds per-candidate dismissal counters.
const schemaV2 = `
CREATE TABLE IF NOT EXISTS ignored_candidate (
  user_id            TEXT NOT NULL,
  candidate_key      TEXT NOT NULL,
  dismissal_count    INTEGER NOT NULL DEFAULT 0,
  last_dismissed_ms  INTEGER NOT NULL,
  PRIMARY KEY (user_id, candidate_key)
);
`

// AllTables lists every table of the current schema.
var AllTables = []string{
	"schema_migrations",
	"work_item",
	"user_event",
	"ignored_candidate",
}

// AllIndexes lists every named index of the current schema.
var AllIndexes = []string{
	"idx_work_item_user_kind_status",
	"idx_user_event_user_type_ts",
	"idx_user_event_user_ts",
}
