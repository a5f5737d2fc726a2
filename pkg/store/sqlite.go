package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sitewright/sitewright/pkg/models"
)

// SQLiteStore persists jobs in a local SQLite database, so a completed
// artifact stays addressable across restarts.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL plus a busy timeout keeps concurrent status reads cheap while
	// writes stay serialized on a single connection.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
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
		cancel_requested BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		transitions TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_brief_hash ON jobs(brief_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job record
func (s *SQLiteStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	transitions, err := json.Marshal(job.Transitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (id, brief_hash, status, stage, progress, message, result_location,
			error_detail, retry_count, cancel_requested, created_at, updated_at,
			started_at, completed_at, transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.BriefHash, job.Status, job.Stage, job.Progress, job.Message,
		job.ResultLocation, job.ErrorDetail, job.RetryCount, job.CancelRequested,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt, string(transitions))
	return err
}

const jobColumns = `id, brief_hash, status, stage, progress, message, result_location,
	error_detail, retry_count, cancel_requested, created_at, updated_at,
	started_at, completed_at, transitions`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	var stage, message, resultLocation, errorDetail, briefHash, transitions sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &briefHash, &job.Status, &stage, &job.Progress, &message,
		&resultLocation, &errorDetail, &job.RetryCount, &job.CancelRequested,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt, &transitions)
	if err != nil {
		return nil, err
	}
	job.BriefHash = briefHash.String
	job.Stage = models.Stage(stage.String)
	job.Message = message.String
	job.ResultLocation = resultLocation.String
	job.ErrorDetail = errorDetail.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if transitions.String != "" {
		if err := json.Unmarshal([]byte(transitions.String), &job.Transitions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transitions: %w", err)
		}
	}
	return &job, nil
}

// GetJob retrieves a job by id
func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetAllJobs returns all jobs, oldest first
func (s *SQLiteStore) GetAllJobs() []*models.Job {
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
func (s *SQLiteStore) ClaimNextQueued() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT ` + jobColumns + ` FROM jobs WHERE status = 'queued' ORDER BY created_at LIMIT 1`)
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
	_, err = s.db.Exec(`UPDATE jobs SET status = ?, started_at = ?, updated_at = ?, transitions = ? WHERE id = ?`,
		job.Status, job.StartedAt, job.UpdatedAt, string(transitions), job.ID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateProgress records a stage checkpoint, keeping progress monotonic
func (s *SQLiteStore) UpdateProgress(id string, stage models.Stage, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE jobs SET stage = ?, progress = MAX(progress, ?), message = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'error', 'canceled')
	`, stage, progress, message, time.Now(), id)
	if err != nil {
		return err
	}
	return s.checkExists(res, id)
}

// IncrementRetry bumps the retry counter
func (s *SQLiteStore) IncrementRetry(id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE jobs SET retry_count = retry_count + 1, message = ?, updated_at = ? WHERE id = ?`,
		reason, time.Now(), id)
	if err != nil {
		return err
	}
	return s.checkExists(res, id)
}

// CompleteJob moves the job to completed with its artifact location
func (s *SQLiteStore) CompleteJob(id, resultLocation string) error {
	return s.finalize(id, models.JobStatusCompleted, "", resultLocation, "generation complete")
}

// FailJob moves the job to error with a human-readable cause
func (s *SQLiteStore) FailJob(id, errorDetail string) error {
	return s.finalize(id, models.JobStatusError, errorDetail, "", "generation failed")
}

// MarkCanceled finalizes a deferred cancellation
func (s *SQLiteStore) MarkCanceled(id, reason string) error {
	return s.finalize(id, models.JobStatusCanceled, "", "", "canceled by client")
}

func (s *SQLiteStore) finalize(id string, status models.JobStatus, errorDetail, resultLocation, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
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
	_, err = s.db.Exec(`
		UPDATE jobs SET status = ?, progress = ?, message = ?, result_location = ?,
			error_detail = ?, completed_at = ?, updated_at = ?, transitions = ?
		WHERE id = ?
	`, status, progress, message, resultLocation, errorDetail, now, now, string(transitions), id)
	return err
}

// RequestCancel cancels a queued job or flags a processing one
func (s *SQLiteStore) RequestCancel(id string) (models.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
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
		_, err = s.db.Exec(`UPDATE jobs SET status = ?, message = ?, completed_at = ?, updated_at = ?, transitions = ? WHERE id = ?`,
			job.Status, "canceled by client", now, now, string(transitions), id)
		if err != nil {
			return "", err
		}
	case models.JobStatusProcessing:
		_, err = s.db.Exec(`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return "", err
		}
	}
	return job.Status, nil
}

// FindCompletedByBriefHash returns the newest completed job for a brief hash
func (s *SQLiteStore) FindCompletedByBriefHash(hash string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE brief_hash = ? AND status = 'completed' ORDER BY created_at DESC LIMIT 1`, hash)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetJobMetrics returns aggregated counters without loading every row
func (s *SQLiteStore) GetJobMetrics() (*JobMetrics, error) {
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
		SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400.0)
		FROM jobs WHERE status = 'completed' AND started_at IS NOT NULL
	`).Scan(&avg)
	if err != nil {
		return nil, err
	}
	m.AvgDuration = avg.Float64
	return m, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error { return s.db.Close() }

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck() error { return s.db.Ping() }

func (s *SQLiteStore) checkExists(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// terminal jobs legitimately match zero rows on progress updates
		var exists int
		if err := s.db.QueryRow(`SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists); err == sql.ErrNoRows {
			return ErrJobNotFound
		}
	}
	return nil
}

func appendTransition(job *models.Job, to models.JobStatus, reason string) {
	job.Transitions = append(job.Transitions, models.StateTransition{
		From:      job.Status,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	job.Status = to
}
