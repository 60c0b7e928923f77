package store

// schemaVersion1 is the initial ledger schema.
const schemaVersion1 = 1

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	event       TEXT,
	workdir     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	exit_code   INTEGER,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS steps (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	exit_code   INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	UNIQUE(run_id, seq)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id  INTEGER NOT NULL REFERENCES runs(id),
	path    TEXT NOT NULL,
	kind    TEXT NOT NULL,
	bytes   INTEGER NOT NULL DEFAULT 0,
	sha256  TEXT
);

CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);
`
