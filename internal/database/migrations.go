package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "stage runs",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS stage_runs (
    id TEXT PRIMARY KEY,
    event_key TEXT NOT NULL,
    stage INTEGER NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('running', 'done', 'failed')),
    summary TEXT,
    error TEXT,
    started_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_stage_runs_event ON stage_runs(event_key, stage);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "archive",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS archive_batches (
    id TEXT PRIMARY KEY,
    event_key TEXT UNIQUE NOT NULL,
    archived_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS archive_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL REFERENCES archive_batches(id) ON DELETE CASCADE,
    source TEXT NOT NULL CHECK(source IN ('raw', 'crm', 'mdb')),
    position INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS upload_counts (
    batch_id TEXT NOT NULL REFERENCES archive_batches(id) ON DELETE CASCADE,
    audience TEXT NOT NULL CHECK(audience IN ('attendee', 'nonattendee')),
    date TEXT NOT NULL,
    type TEXT NOT NULL,
    pub_code TEXT,
    initial_count INTEGER DEFAULT 0,
    internal_records INTEGER DEFAULT 0,
    sf_tracking_code TEXT,
    sf_count INTEGER DEFAULT 0,
    udb_tracking_code TEXT,
    udb_uploaded_count INTEGER DEFAULT 0,
    udb_mastersupp INTEGER DEFAULT 0,
    udb_isactivefalse INTEGER DEFAULT 0,
    udb_hardbounce INTEGER DEFAULT 0,
    sf_new_leads INTEGER DEFAULT 0,
    sf_updated_leads INTEGER DEFAULT 0,
    sf_updated_contact INTEGER DEFAULT 0,
    converted INTEGER DEFAULT 0,
    sf_dead INTEGER DEFAULT 0,
    left_dead INTEGER DEFAULT 0,
    flipped_open INTEGER DEFAULT 0,
    contact_no_lead INTEGER DEFAULT 0,
    null_phone INTEGER DEFAULT 0,
    merged INTEGER DEFAULT 0,
    bad_email INTEGER DEFAULT 0,
    PRIMARY KEY (batch_id, audience)
);

CREATE INDEX IF NOT EXISTS idx_archive_records_batch ON archive_records(batch_id, source);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
