package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullInt converts a sql.NullInt64 to a plain int64 (0 if null).
func nullInt(ni sql.NullInt64) int64 {
	if ni.Valid {
		return ni.Int64
	}
	return 0
}

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersion1

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite ledger at path. Creates the parent
// directory (e.g. .gwpipe) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		// Fresh database.
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("schema_version table is empty; ledger is corrupt")
	}
	switch {
	case v == currentSchemaVersion:
		return nil
	case v > currentSchemaVersion:
		return fmt.Errorf("ledger schema version %d is newer than this build supports (%d)", v, currentSchemaVersion)
	default:
		return fmt.Errorf("unknown ledger schema version %d", v)
	}
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in "running" state and returns its id.
func (s *SqlStore) CreateRun(name, event, workdir string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs(name, event, workdir, status, started_at)
		 VALUES(?, ?, ?, ?, ?)`,
		name, event, workdir, RunRunning, nowUTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// FinishRun marks a run finished with its final status and exit code.
func (s *SqlStore) FinishRun(runID int64, status string, exitCode int) error {
	res, err := s.db.Exec(
		"UPDATE runs SET status = ?, exit_code = ?, finished_at = ? WHERE id = ?",
		status, exitCode, nowUTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %d not found", runID)
	}
	return nil
}

// RecordStep appends a stage outcome to a run. (run_id, seq) is unique.
func (s *SqlStore) RecordStep(runID int64, step Step) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO steps(run_id, seq, stage, status, exit_code, error, duration_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		runID, step.Seq, step.Stage, step.Status, step.ExitCode, step.Error, step.DurationMS,
	)
	if err != nil {
		return 0, fmt.Errorf("insert step: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// RecordArtifact records a file a run produced or verified present.
func (s *SqlStore) RecordArtifact(runID int64, a Artifact) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO artifacts(run_id, path, kind, bytes, sha256)
		 VALUES(?, ?, ?, ?, ?)`,
		runID, a.Path, a.Kind, a.Bytes, a.SHA256,
	)
	if err != nil {
		return 0, fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

const runColumns = "id, name, event, workdir, status, exit_code, started_at, finished_at"

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var event, finishedAt sql.NullString
	var exitCode sql.NullInt64
	err := row.Scan(&r.ID, &r.Name, &event, &r.WorkDir, &r.Status, &exitCode, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.Event = nullStr(event)
	r.FinishedAt = nullStr(finishedAt)
	r.ExitCode = int(nullInt(exitCode))
	return &r, nil
}

// GetRun returns the run by id, or nil when it does not exist.
func (s *SqlStore) GetRun(runID int64) (*Run, error) {
	row := s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// LastRun returns the most recently started run, or nil when the ledger
// is empty.
func (s *SqlStore) LastRun() (*Run, error) {
	row := s.db.QueryRow("SELECT " + runColumns + " FROM runs ORDER BY id DESC LIMIT 1")
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest-first. limit <= 0 means all.
func (s *SqlStore) ListRuns(limit int) ([]*Run, error) {
	q := "SELECT " + runColumns + " FROM runs ORDER BY id DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var list []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return list, nil
}

// StepsForRun returns a run's steps in execution order.
func (s *SqlStore) StepsForRun(runID int64) ([]*Step, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, seq, stage, status, exit_code, error, duration_ms
		 FROM steps WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	var list []*Step
	for rows.Next() {
		var st Step
		var errMsg sql.NullString
		if err := rows.Scan(&st.ID, &st.RunID, &st.Seq, &st.Stage, &st.Status, &st.ExitCode, &errMsg, &st.DurationMS); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Error = nullStr(errMsg)
		list = append(list, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return list, nil
}

// ArtifactsForRun returns a run's recorded artifacts in insert order.
func (s *SqlStore) ArtifactsForRun(runID int64) ([]*Artifact, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, path, kind, bytes, sha256
		 FROM artifacts WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var list []*Artifact
	for rows.Next() {
		var a Artifact
		var sum sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Path, &a.Kind, &a.Bytes, &sum); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.SHA256 = nullStr(sum)
		list = append(list, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return list, nil
}
