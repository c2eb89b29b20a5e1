package storage

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"propingest/models"
)

// SQLiteStore is the local operational record: terminal jobs and the error
// audit land here so an operator can inspect a box without reaching the
// primary database. Writes are best-effort; the pipeline never blocks on it.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_history (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload JSON,
		status TEXT NOT NULL,
		attempts INTEGER,
		max_attempts INTEGER,
		submitted_by TEXT,
		result_count INTEGER,
		errors JSON,
		created_at DATETIME,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS error_log (
		id INTEGER PRIMARY KEY,
		source TEXT,
		error_type TEXT,
		message TEXT,
		url TEXT,
		occurred_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_job_history_source ON job_history(source, completed_at);
	CREATE INDEX IF NOT EXISTS idx_error_log_occurred ON error_log(occurred_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordJob writes a terminal job to the history table. Upsert by job ID so
// a retried job overwrites its earlier failed row.
func (s *SQLiteStore) RecordJob(job *models.Job) {
	payload, _ := json.Marshal(job.Payload)
	errs, _ := json.Marshal(job.Errors)

	_, err := s.db.Exec(`
		INSERT INTO job_history (
			id, source, kind, payload, status, attempts, max_attempts,
			submitted_by, result_count, errors, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			result_count = excluded.result_count,
			errors = excluded.errors,
			completed_at = excluded.completed_at`,
		job.ID.String(), job.Source, job.Kind, string(payload), job.Status,
		job.Attempts, job.MaxAttempts, job.SubmittedBy, job.ResultCount,
		string(errs), job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		log.Printf("sqlite: record job %s: %v", job.ID, err)
	}
}

// RecordError appends one classified error to the local audit.
func (s *SQLiteStore) RecordError(e *models.ScrapeError) {
	_, err := s.db.Exec(`
		INSERT INTO error_log (source, error_type, message, url, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.Source, e.Type, e.Message, e.URL, e.Timestamp,
	)
	if err != nil {
		log.Printf("sqlite: record error: %v", err)
	}
}

// RecentErrors returns the newest audit rows, newest first.
func (s *SQLiteStore) RecentErrors(limit int) ([]models.ScrapeError, error) {
	rows, err := s.db.Query(`
		SELECT source, error_type, message, url, occurred_at
		FROM error_log ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScrapeError
	for rows.Next() {
		var e models.ScrapeError
		if err := rows.Scan(&e.Source, &e.Type, &e.Message, &e.URL, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentJobs returns the newest terminal jobs, newest first.
func (s *SQLiteStore) RecentJobs(limit int) ([]models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, source, kind, payload, status, attempts, max_attempts,
			submitted_by, result_count, errors, created_at, started_at, completed_at
		FROM job_history ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var (
			job         models.Job
			id          string
			payloadJSON string
			errsJSON    string
			startedAt   sql.NullTime
			completedAt sql.NullTime
		)
		if err := rows.Scan(&id, &job.Source, &job.Kind, &payloadJSON, &job.Status,
			&job.Attempts, &job.MaxAttempts, &job.SubmittedBy, &job.ResultCount,
			&errsJSON, &job.CreatedAt, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		job.ID, _ = uuid.Parse(id)
		_ = json.Unmarshal([]byte(payloadJSON), &job.Payload)
		_ = json.Unmarshal([]byte(errsJSON), &job.Errors)
		if startedAt.Valid {
			t := startedAt.Time
			job.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// PruneErrors drops audit rows older than the retention window.
func (s *SQLiteStore) PruneErrors(olderThan time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM error_log WHERE occurred_at < ?`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
