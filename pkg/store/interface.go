package store

import (
	"errors"
	"time"

	"github.com/sitewright/sitewright/pkg/models"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrNoQueuedJobs = errors.New("no queued jobs")
)

// Store is the synchronized job registry shared by the engine workers
// and the status readers. Every mutation goes through one of these
// methods; GetJob and GetAllJobs always return snapshot copies so a
// concurrent poll never sees a half-applied update.
//
// Both the in-memory and the database-backed stores implement this
// interface.
type Store interface {
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	GetAllJobs() []*models.Job

	// ClaimNextQueued atomically takes the oldest queued job and marks
	// it processing. Returns ErrNoQueuedJobs when the queue is empty.
	ClaimNextQueued() (*models.Job, error)

	// UpdateProgress records a stage checkpoint. Progress is monotonic:
	// a value lower than the current one is ignored. Updates against a
	// terminal job are dropped silently (a worker may report a late
	// checkpoint after a cancellation).
	UpdateProgress(id string, stage models.Stage, progress int, message string) error

	// IncrementRetry bumps the retry counter after a transient
	// synthesis failure.
	IncrementRetry(id string, reason string) error

	// CompleteJob and FailJob move the job to a terminal state and set
	// exactly one of resultLocation / errorDetail.
	CompleteJob(id, resultLocation string) error
	FailJob(id, errorDetail string) error

	// RequestCancel cancels a queued job immediately; for a processing
	// job it records the request and leaves the decision to the worker.
	// The returned status is the job's status after the call.
	RequestCancel(id string) (models.JobStatus, error)

	// MarkCanceled finalizes a deferred cancellation at a stage boundary.
	MarkCanceled(id, reason string) error

	// FindCompletedByBriefHash returns the most recent completed job for
	// an identical brief, or ErrJobNotFound.
	FindCompletedByBriefHash(hash string) (*models.Job, error)

	// GetJobMetrics returns aggregated counters for the metrics endpoint.
	GetJobMetrics() (*JobMetrics, error)

	Close() error
	HealthCheck() error
}

// JobMetrics contains aggregated job statistics for the metrics endpoint
type JobMetrics struct {
	JobsByStatus map[models.JobStatus]int
	QueueLength  int
	ActiveJobs   int
	TotalJobs    int
	TotalRetries int
	AvgDuration  float64 // seconds, completed jobs only
}

// Config holds store configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // connection string (postgres) or file path (sqlite)

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "sqlite":
		path := config.DSN
		if path == "" {
			path = "sitewright.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, errors.New("unsupported store type: " + config.Type)
	}
}
