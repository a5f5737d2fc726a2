package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sitewright/sitewright/pkg/models"
)

// PostgresStore persists jobs in PostgreSQL. Used when several service
// instances share one job queue; claims rely on FOR UPDATE SKIP LOCKED
// so two workers never take the same job.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects using the DSN from config
func NewPostgresStore(config Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := config.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	lifetime := config.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		brief_hash TEXT,
		status TEXT NOT NULL,
		stage TEXT,
		progress INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		result_location TEXT,
		error_detail TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		transitions JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_brief_hash ON jobs(brief_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job record
func (s *PostgresStore) CreateJob(job *models.Job) error {
	transitions, err := json.Marshal(job.Transitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (id, brief_hash, status, stage, progress, message, result_location,
			error_detail, retry_count, cancel_requested, created_at, updated_at,
			started_at, completed_at, transitions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, job.ID, job.BriefHash, job.Status, job.Stage, job.Progress, job.Message,
		job.ResultLocation, job.ErrorDetail, job.RetryCount, job.CancelRequested,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt, string(transitions))
	return err
}

// GetJob retrieves a job by id
func (s *PostgresStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetAllJobs returns all jobs, oldest first
func (s *PostgresStore) GetAllJobs() []*models.Job {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// ClaimNextQueued takes the oldest queued job and marks it processing
func (s *PostgresStore) ClaimNextQueued() (*models.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'queued'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoQueuedJobs
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	appendTransition(job, models.JobStatusProcessing, "claimed by worker")
	job.StartedAt = &now
	job.UpdatedAt = now

	transitions, _ := json.Marshal(job.Transitions)
	if _, err := tx.Exec(`UPDATE jobs SET status = $1, started_at = $2, updated_at = $3, transitions = $4 WHERE id = $5`,
		job.Status, job.StartedAt, job.UpdatedAt, string(transitions), job.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateProgress records a stage checkpoint, keeping progress monotonic
func (s *PostgresStore) UpdateProgress(id string, stage models.Stage, progress int, message string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET stage = $1, progress = GREATEST(progress, $2), message = $3, updated_at = $4
		WHERE id = $5 AND status NOT IN ('completed', 'error', 'canceled')
	`, stage, progress, message, time.Now(), id)
	return err
}

// IncrementRetry bumps the retry counter
func (s *PostgresStore) IncrementRetry(id string, reason string) error {
	_, err := s.db.Exec(`UPDATE jobs SET retry_count = retry_count + 1, message = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now(), id)
	return err
}

// CompleteJob moves the job to completed with its artifact location
func (s *PostgresStore) CompleteJob(id, resultLocation string) error {
	return s.finalize(id, models.JobStatusCompleted, "", resultLocation, "generation complete")
}

// FailJob moves the job to error with a human-readable cause
func (s *PostgresStore) FailJob(id, errorDetail string) error {
	return s.finalize(id, models.JobStatusError, errorDetail, "", "generation failed")
}

// MarkCanceled finalizes a deferred cancellation
func (s *PostgresStore) MarkCanceled(id, reason string) error {
	return s.finalize(id, models.JobStatusCanceled, "", "", "canceled by client")
}

func (s *PostgresStore) finalize(id string, status models.JobStatus, errorDetail, resultLocation, message string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	now := time.Now()
	appendTransition(job, status, errorDetail)
	progress := job.Progress
	if status == models.JobStatusCompleted {
		progress = models.ProgressCompleted
	}
	transitions, _ := json.Marshal(job.Transitions)
	if _, err := tx.Exec(`
		UPDATE jobs SET status = $1, progress = $2, message = $3, result_location = $4,
			error_detail = $5, completed_at = $6, updated_at = $7, transitions = $8
		WHERE id = $9
	`, status, progress, message, resultLocation, errorDetail, now, now, string(transitions), id); err != nil {
		return err
	}
	return tx.Commit()
}

// RequestCancel cancels a queued job or flags a processing one
func (s *PostgresStore) RequestCancel(id string) (models.JobStatus, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", err
	}

	now := time.Now()
	switch job.Status {
	case models.JobStatusQueued:
		appendTransition(job, models.JobStatusCanceled, "canceled while queued")
		transitions, _ := json.Marshal(job.Transitions)
		if _, err := tx.Exec(`UPDATE jobs SET status = $1, message = $2, completed_at = $3, updated_at = $4, transitions = $5 WHERE id = $6`,
			job.Status, "canceled by client", now, now, string(transitions), id); err != nil {
			return "", err
		}
	case models.JobStatusProcessing:
		if _, err := tx.Exec(`UPDATE jobs SET cancel_requested = TRUE, updated_at = $1 WHERE id = $2`, now, id); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return job.Status, nil
}

// FindCompletedByBriefHash returns the newest completed job for a brief hash
func (s *PostgresStore) FindCompletedByBriefHash(hash string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE brief_hash = $1 AND status = 'completed' ORDER BY created_at DESC LIMIT 1`, hash)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetJobMetrics returns aggregated counters without loading every row
func (s *PostgresStore) GetJobMetrics() (*JobMetrics, error) {
	m := &JobMetrics{JobsByStatus: make(map[models.JobStatus]int)}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		m.JobsByStatus[status] = count
		m.TotalJobs += count
	}
	m.QueueLength = m.JobsByStatus[models.JobStatusQueued]
	m.ActiveJobs = m.JobsByStatus[models.JobStatusProcessing]

	if err := s.db.QueryRow(`SELECT COALESCE(SUM(retry_count), 0) FROM jobs`).Scan(&m.TotalRetries); err != nil {
		return nil, err
	}
	var avg sql.NullFloat64
	err = s.db.QueryRow(`
		SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		FROM jobs WHERE status = 'completed' AND started_at IS NOT NULL
	`).Scan(&avg)
	if err != nil {
		return nil, err
	}
	m.AvgDuration = avg.Float64
	return m, nil
}

// Close closes the database
func (s *PostgresStore) Close() error { return s.db.Close() }

// HealthCheck pings the database
func (s *PostgresStore) HealthCheck() error { return s.db.Ping() }
