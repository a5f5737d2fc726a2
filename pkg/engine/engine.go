package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitewright/sitewright/pkg/assembler"
	"github.com/sitewright/sitewright/pkg/assets"
	"github.com/sitewright/sitewright/pkg/logging"
	"github.com/sitewright/sitewright/pkg/models"
	"github.com/sitewright/sitewright/pkg/retry"
	"github.com/sitewright/sitewright/pkg/store"
	"github.com/sitewright/sitewright/pkg/synth"
)

var (
	// ErrNotReady indicates the job has not reached a terminal state yet
	ErrNotReady = errors.New("generation not finished")
	// ErrJobFailed indicates the job ended in error or was canceled, so
	// there is no artifact to download.
	ErrJobFailed = errors.New("generation did not produce an artifact")
)

// ValidationError wraps an intake rejection so the API layer can map it
// to a 400 instead of a 500.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Options configures the engine
type Options struct {
	Workers      int
	RetryConfig  retry.Config
	StaleAfter   time.Duration // processing jobs untouched this long are failed
	ReapInterval time.Duration
	ResultCache  bool // reuse completed artifacts for identical briefs
}

// DefaultOptions returns the standard engine configuration
func DefaultOptions() Options {
	return Options{
		Workers:      4,
		RetryConfig:  retry.DefaultConfig(),
		StaleAfter:   15 * time.Minute,
		ReapInterval: time.Minute,
		ResultCache:  true,
	}
}

// Engine owns the generation pipeline: it accepts briefs, runs them
// through content synthesis, asset processing and assembly on a bounded
// worker pool, and tracks every job in the store.
type Engine struct {
	store     store.Store
	synth     *synth.Synthesizer
	processor *assets.Processor
	assembler *assembler.Assembler
	logger    *logging.Logger
	opts      Options

	mu       sync.Mutex
	requests map[string]*models.GenerationRequest
	cancels  map[string]context.CancelFunc

	notify chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine; call Start to launch the worker pool.
func New(st store.Store, sy *synth.Synthesizer, pr *assets.Processor, as *assembler.Assembler, logger *logging.Logger, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	return &Engine{
		store:     st,
		synth:     sy,
		processor: pr,
		assembler: as,
		logger:    logger.WithField("component", "engine"),
		opts:      opts,
		requests:  make(map[string]*models.GenerationRequest),
		cancels:   make(map[string]context.CancelFunc),
		notify:    make(chan struct{}, 1),
	}
}

// Submit validates the brief and enqueues a generation job. When the
// result cache is enabled and an identical brief already completed, the
// existing job is returned instead of scheduling new work.
func (e *Engine) Submit(req *models.GenerationRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}

	hash := req.Hash()
	if e.opts.ResultCache {
		if cached, err := e.store.FindCompletedByBriefHash(hash); err == nil {
			if _, statErr := os.Stat(cached.ResultLocation); statErr == nil {
				jobsCacheHits.Inc()
				e.logger.Info("reusing completed generation for identical brief", map[string]interface{}{
					"generation_id": cached.ID,
				})
				return cached, nil
			}
		}
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.NewString(),
		BriefHash: hash,
		Status:    models.JobStatusQueued,
		Progress:  models.ProgressQueued,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	e.mu.Lock()
	e.requests[job.ID] = req
	e.mu.Unlock()

	jobsSubmitted.Inc()
	e.logger.Info("job queued", map[string]interface{}{
		"generation_id": job.ID,
		"site_name":     req.SiteName,
		"images":        len(req.Images),
	})
	e.wake()
	return job.Clone(), nil
}

// GetStatus returns a snapshot of the job
func (e *Engine) GetStatus(id string) (*models.Job, error) {
	return e.store.GetJob(id)
}

// ListJobs returns snapshots of every known job
func (e *Engine) ListJobs() []*models.Job {
	return e.store.GetAllJobs()
}

// GetArtifact resolves the downloadable path for a finished job.
// format is "zip" (the bundle) or "html" (the entry page of the site
// tree). Unfinished jobs return ErrNotReady; failed or canceled jobs
// return ErrJobFailed.
func (e *Engine) GetArtifact(id, format string) (string, error) {
	job, err := e.store.GetJob(id)
	if err != nil {
		return "", err
	}
	if !job.Status.Terminal() {
		return "", ErrNotReady
	}
	if job.Status != models.JobStatusCompleted {
		return "", fmt.Errorf("%w: %s", ErrJobFailed, job.Status)
	}

	switch format {
	case "", "zip":
		return e.assembler.BundlePath(id), nil
	case "html", "site":
		return e.assembler.SiteDir(id), nil
	default:
		return "", &ValidationError{Err: fmt.Errorf("unknown format %q (valid: zip, html)", format)}
	}
}

// Cancel requests cancellation of a job. Queued jobs cancel
// immediately; a processing job keeps running until the active stage
// can stop (external calls are aborted right away).
func (e *Engine) Cancel(id string) (models.JobStatus, error) {
	status, err := e.store.RequestCancel(id)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	cancel := e.cancels[id]
	if status == models.JobStatusCanceled {
		delete(e.requests, id)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.logger.Info("cancellation requested", map[string]interface{}{
		"generation_id": id,
		"status":        string(status),
	})
	return status, nil
}

// Templates exposes the assembler's template catalog
func (e *Engine) Templates() []models.Template {
	return e.assembler.Catalog().List()
}

// Health reports whether the job store is reachable
func (e *Engine) Health() error {
	return e.store.HealthCheck()
}

// Metrics returns aggregated job counters from the store
func (e *Engine) Metrics() (*store.JobMetrics, error) {
	return e.store.GetJobMetrics()
}

func (e *Engine) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Engine) request(id string) *models.GenerationRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[id]
}

func (e *Engine) finishJob(id string) {
	e.mu.Lock()
	delete(e.requests, id)
	delete(e.cancels, id)
	e.mu.Unlock()
}
