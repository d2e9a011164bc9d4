// Package store provides SQLite-backed persistence for instrument hysteresis
// state, relay jobs, and their audit events.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/minsuk-ha/sentinel/internal/models"
)

// Store wraps a SQLite database for all persistence operations.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at dbPath. An empty dbPath
// defaults to $TMPDIR/sentinel/data.db.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "sentinel", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instrument_state (
			instrument_id   TEXT PRIMARY KEY,
			previous_level  TEXT NOT NULL DEFAULT 'NONE',
			last_alert_at   INTEGER NOT NULL DEFAULT 0,
			last_checked_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			idempotency_key TEXT NOT NULL UNIQUE,
			source          TEXT NOT NULL,
			type            TEXT NOT NULL,
			instrument_id   TEXT NOT NULL,
			level           TEXT NOT NULL,
			delta_pct       REAL NOT NULL,
			triggered_at    INTEGER NOT NULL,
			payload_json    TEXT NOT NULL,
			ack             TEXT,
			status          TEXT NOT NULL DEFAULT 'queued',
			retries         INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_events (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id   INTEGER REFERENCES jobs(id) ON DELETE CASCADE,
			stage    TEXT NOT NULL,
			detail   TEXT,
			meta_json TEXT,
			ts       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_events_stage_ts ON job_events(stage, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveInstrumentState upserts one instrument's hysteresis state.
func (s *Store) SaveInstrumentState(st models.InstrumentState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO instrument_state
			(instrument_id, previous_level, last_alert_at, last_checked_at)
		VALUES (?,?,?,?)`,
		st.InstrumentID, st.PreviousLevel.String(),
		st.LastAlertAt.UnixNano(), st.LastCheckedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save instrument state: %w", err)
	}
	return nil
}

// LoadInstrumentStates returns all persisted states keyed by instrument ID.
func (s *Store) LoadInstrumentStates() (map[string]models.InstrumentState, error) {
	rows, err := s.db.Query(`
		SELECT instrument_id, previous_level, last_alert_at, last_checked_at
		FROM instrument_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instrument states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]models.InstrumentState)
	for rows.Next() {
		var st models.InstrumentState
		var level string
		var alertNano, checkedNano int64
		if err := rows.Scan(&st.InstrumentID, &level, &alertNano, &checkedNano); err != nil {
			return nil, fmt.Errorf("failed to scan instrument state: %w", err)
		}
		lv, err := models.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("corrupt instrument state for %s: %w", st.InstrumentID, err)
		}
		st.PreviousLevel = lv
		if alertNano > 0 {
			st.LastAlertAt = time.Unix(0, alertNano)
		}
		if checkedNano > 0 {
			st.LastCheckedAt = time.Unix(0, checkedNano)
		}
		states[st.InstrumentID] = st
	}
	return states, rows.Err()
}

// InsertJob records an envelope under its idempotency key. The UNIQUE
// constraint makes the check-and-insert atomic: for two concurrent
// deliveries of the same key, exactly one insert wins and the other comes
// back with duplicate=true and the winner's job ID.
func (s *Store) InsertJob(env models.IngestEnvelope) (jobID int64, duplicate bool, err error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	now := time.Now().UnixNano()
	res, err := s.db.Exec(`
		INSERT INTO jobs
			(idempotency_key, source, type, instrument_id, level, delta_pct,
			 triggered_at, payload_json, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(idempotency_key) DO NOTHING`,
		env.IdempotencyKey, env.Source, env.Type,
		env.Alert.InstrumentID, env.Alert.Level, env.Alert.DeltaPct,
		env.Alert.TriggeredAt.UnixNano(), string(payload), models.JobQueued,
		now, now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		row := s.db.QueryRow(`SELECT id FROM jobs WHERE idempotency_key = ?`, env.IdempotencyKey)
		if err := row.Scan(&jobID); err != nil {
			return 0, false, fmt.Errorf("failed to look up duplicate job: %w", err)
		}
		return jobID, true, nil
	}
	jobID, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read job id: %w", err)
	}
	return jobID, false, nil
}

// UpdateJobPush records the push outcome for a job.
func (s *Store) UpdateJobPush(jobID int64, ack, status string, retries int) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET ack=?, status=?, retries=?, updated_at=? WHERE id=?`,
		ack, status, retries, time.Now().UnixNano(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job push state: %w", err)
	}
	return nil
}

// AddJobEvent appends one audit event for a job.
func (s *Store) AddJobEvent(jobID int64, stage, detail string, meta any) error {
	metaJSON := "{}"
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal event meta: %w", err)
		}
		metaJSON = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO job_events (job_id, stage, detail, meta_json, ts) VALUES (?,?,?,?,?)`,
		jobID, stage, detail, metaJSON, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job event: %w", err)
	}
	return nil
}

// RecentJobs returns jobs created within the past `hours`, newest first.
func (s *Store) RecentJobs(hours, limit int) ([]models.JobRecord, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UnixNano()
	rows, err := s.db.Query(`
		SELECT id, idempotency_key, source, type, instrument_id, level, delta_pct,
		       triggered_at, COALESCE(ack, ''), status, retries, created_at, updated_at
		FROM jobs WHERE created_at >= ? ORDER BY id DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.JobRecord{}
	for rows.Next() {
		var j models.JobRecord
		var triggeredNano, createdNano, updatedNano int64
		if err := rows.Scan(
			&j.ID, &j.IdempotencyKey, &j.Source, &j.Type, &j.InstrumentID,
			&j.Level, &j.DeltaPct, &triggeredNano, &j.Ack, &j.Status, &j.Retries,
			&createdNano, &updatedNano,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.TriggeredAt = time.Unix(0, triggeredNano)
		j.CreatedAt = time.Unix(0, createdNano)
		j.UpdatedAt = time.Unix(0, updatedNano)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ErrorsCount returns the number of error-stage job events in the past
// `hours`, for the health endpoint.
func (s *Store) ErrorsCount(hours int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UnixNano()
	row := s.db.QueryRow(`SELECT COUNT(*) FROM job_events WHERE stage='error' AND ts >= ?`, cutoff)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count error events: %w", err)
	}
	return n, nil
}
