package store

import (
	"sync"
	"time"

	"github.com/sitewright/sitewright/pkg/models"
)

// MemoryStore is the in-memory implementation of the job store.
// A single mutex guards the map and the FIFO queue, which keeps every
// mutation on one synchronized path.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*models.Job
	queue []string // FIFO of queued job IDs
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
	}
}

// CreateJob adds a new job to the store and the admission queue
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	if job.Status == models.JobStatusQueued {
		s.queue = append(s.queue, job.ID)
	}
	return nil
}

// GetJob returns a snapshot of the job
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// GetAllJobs returns snapshots of all jobs
func (s *MemoryStore) GetAllJobs() []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	return jobs
}

// ClaimNextQueued takes the oldest queued job and marks it processing
func (s *MemoryStore) ClaimNextQueued() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]

		job, ok := s.jobs[id]
		if !ok || job.Status != models.JobStatusQueued {
			// canceled while queued, or reaped
			continue
		}

		now := time.Now()
		s.transitionLocked(job, models.JobStatusProcessing, "claimed by worker")
		job.StartedAt = &now
		job.UpdatedAt = now
		return job.Clone(), nil
	}
	return nil, ErrNoQueuedJobs
}

// UpdateProgress records a stage checkpoint, keeping progress monotonic
func (s *MemoryStore) UpdateProgress(id string, stage models.Stage, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.Stage = stage
	job.Message = message
	job.UpdatedAt = time.Now()
	return nil
}

// IncrementRetry bumps the retry counter
func (s *MemoryStore) IncrementRetry(id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.RetryCount++
	job.Message = reason
	job.UpdatedAt = time.Now()
	return nil
}

// CompleteJob moves the job to completed with its artifact location
func (s *MemoryStore) CompleteJob(id, resultLocation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now()
	s.transitionLocked(job, models.JobStatusCompleted, "")
	job.Progress = models.ProgressCompleted
	job.ResultLocation = resultLocation
	job.Message = "generation complete"
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// FailJob moves the job to error with a human-readable cause
func (s *MemoryStore) FailJob(id, errorDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now()
	s.transitionLocked(job, models.JobStatusError, errorDetail)
	job.ErrorDetail = errorDetail
	job.Message = "generation failed"
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// RequestCancel cancels a queued job or flags a processing one
func (s *MemoryStore) RequestCancel(id string) (models.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	switch {
	case job.Status == models.JobStatusQueued:
		now := time.Now()
		s.transitionLocked(job, models.JobStatusCanceled, "canceled while queued")
		job.Message = "canceled by client"
		job.CompletedAt = &now
		job.UpdatedAt = now
	case job.Status == models.JobStatusProcessing:
		job.CancelRequested = true
		job.UpdatedAt = time.Now()
	}
	return job.Status, nil
}

// MarkCanceled finalizes a deferred cancellation
func (s *MemoryStore) MarkCanceled(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now()
	s.transitionLocked(job, models.JobStatusCanceled, reason)
	job.Message = "canceled by client"
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// FindCompletedByBriefHash returns the newest completed job for a brief hash
func (s *MemoryStore) FindCompletedByBriefHash(hash string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Job
	for _, job := range s.jobs {
		if job.BriefHash != hash || job.Status != models.JobStatusCompleted {
			continue
		}
		if best == nil || job.CreatedAt.After(best.CreatedAt) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrJobNotFound
	}
	return best.Clone(), nil
}

// GetJobMetrics returns aggregated counters
func (s *MemoryStore) GetJobMetrics() (*JobMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &JobMetrics{JobsByStatus: make(map[models.JobStatus]int)}
	var totalDuration float64
	var completed int
	for _, job := range s.jobs {
		m.JobsByStatus[job.Status]++
		m.TotalJobs++
		m.TotalRetries += job.RetryCount
		switch job.Status {
		case models.JobStatusQueued:
			m.QueueLength++
		case models.JobStatusProcessing:
			m.ActiveJobs++
		case models.JobStatusCompleted:
			if job.StartedAt != nil && job.CompletedAt != nil {
				totalDuration += job.CompletedAt.Sub(*job.StartedAt).Seconds()
				completed++
			}
		}
	}
	if completed > 0 {
		m.AvgDuration = totalDuration / float64(completed)
	}
	return m, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

// HealthCheck is a no-op for the memory store
func (s *MemoryStore) HealthCheck() error { return nil }

// transitionLocked appends a state transition; caller holds the lock
func (s *MemoryStore) transitionLocked(job *models.Job, to models.JobStatus, reason string) {
	job.Transitions = append(job.Transitions, models.StateTransition{
		From:      job.Status,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	job.Status = to
}
