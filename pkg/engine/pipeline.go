package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitewright/sitewright/pkg/logging"
	"github.com/sitewright/sitewright/pkg/models"
	"github.com/sitewright/sitewright/pkg/retry"
	"github.com/sitewright/sitewright/pkg/store"
	"github.com/sitewright/sitewright/pkg/synth"
)

const idlePoll = 2 * time.Second

// Start launches the worker pool and the stale-job reaper. Workers
// drain until ctx is canceled; Stop waits for in-flight jobs.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting worker pool", map[string]interface{}{
		"workers": e.opts.Workers,
	})
	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.wg.Add(1)
	go e.reaper(ctx)
}

// Stop blocks until every worker has finished its current job
func (e *Engine) Stop() {
	e.wg.Wait()
	e.logger.Info("worker pool stopped")
}

func (e *Engine) worker(ctx context.Context, n int) {
	defer e.wg.Done()
	logger := e.logger.WithField("worker", n)

	for {
		job, err := e.store.ClaimNextQueued()
		if err != nil {
			if !errors.Is(err, store.ErrNoQueuedJobs) {
				logger.Error("claiming job", map[string]interface{}{"error": err.Error()})
			}
			select {
			case <-ctx.Done():
				return
			case <-e.notify:
			case <-time.After(idlePoll):
			}
			continue
		}

		activeWorkers.Inc()
		e.runJob(ctx, logger, job)
		activeWorkers.Dec()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// runJob drives one claimed job through the three pipeline stages.
// Cancellation is honored between stages; during content synthesis the
// job context aborts the external call immediately. Once assembly has
// started the job runs to completion.
func (e *Engine) runJob(ctx context.Context, logger *logging.Logger, job *models.Job) {
	id := job.ID
	log := logger.WithField("generation_id", id)
	started := time.Now()

	req := e.request(id)
	if req == nil {
		// payload lost (e.g. process restart with a persistent store)
		e.fail(id, "request payload no longer available; resubmit the brief")
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()
	defer e.finishJob(id)

	log.Info("job claimed")

	tracer := otel.Tracer("sitewright/pipeline")
	jobCtx, jobSpan := tracer.Start(jobCtx, "generation",
		trace.WithAttributes(attribute.String("generation.id", id)))
	defer jobSpan.End()

	// stage 1: content synthesis, with retries on transient failures
	e.store.UpdateProgress(id, models.StageContent, models.ProgressContentStart, "generating site content")
	stageStart := time.Now()
	synthCtx, synthSpan := tracer.Start(jobCtx, "stage.content")
	var content *models.SiteContent
	err := retry.Do(synthCtx, e.opts.RetryConfig, func(err error) bool {
		if !synth.IsRetryable(err) {
			return false
		}
		synthRetries.Inc()
		e.store.IncrementRetry(id, err.Error())
		log.Warn("transient synthesis failure, retrying", map[string]interface{}{"error": err.Error()})
		return true
	}, func() error {
		var synthErr error
		content, synthErr = e.synth.Synthesize(synthCtx, req)
		return synthErr
	})
	if err != nil {
		synthSpan.RecordError(err)
	}
	synthSpan.End()
	stageDuration.WithLabelValues(string(models.StageContent)).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		if e.canceledMidStage(jobCtx, id) {
			return
		}
		e.fail(id, "content synthesis failed: "+err.Error())
		return
	}
	if e.checkCancel(id) {
		return
	}

	// stage 2: asset processing
	e.store.UpdateProgress(id, models.StageAssets, models.ProgressAssetsStart, "processing images")
	stageStart = time.Now()
	assetCtx, assetSpan := tracer.Start(jobCtx, "stage.assets",
		trace.WithAttributes(attribute.Int("images", len(req.Images))))
	variants, err := e.processor.Process(assetCtx, req.Images, req.TargetDevices)
	if err != nil {
		assetSpan.RecordError(err)
	}
	assetSpan.End()
	stageDuration.WithLabelValues(string(models.StageAssets)).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		if e.canceledMidStage(jobCtx, id) {
			return
		}
		e.fail(id, "asset processing failed: "+err.Error())
		return
	}
	if e.checkCancel(id) {
		return
	}

	// stage 3: assembly. Runs on a detached context: a cancel arriving
	// now loses the race and the job completes.
	e.store.UpdateProgress(id, models.StageAssembly, models.ProgressAssemblyStart, "assembling site")
	stageStart = time.Now()
	asmCtx, asmSpan := tracer.Start(context.WithoutCancel(jobCtx), "stage.assembly")
	artifact, err := e.assembler.Assemble(asmCtx, id, req, content, variants)
	if err != nil {
		asmSpan.RecordError(err)
	}
	asmSpan.End()
	stageDuration.WithLabelValues(string(models.StageAssembly)).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		e.fail(id, "assembly failed: "+err.Error())
		return
	}

	if err := e.store.CompleteJob(id, artifact.BundlePath); err != nil {
		log.Error("recording completion", map[string]interface{}{"error": err.Error()})
		return
	}
	jobsFinished.WithLabelValues("completed").Inc()
	jobDuration.Observe(time.Since(started).Seconds())
	log.Info("job completed", map[string]interface{}{
		"template":   artifact.TemplateID,
		"locales":    artifact.Locales,
		"bundle":     artifact.BundlePath,
		"duration_s": time.Since(started).Seconds(),
	})
}

// checkCancel finalizes a pending cancellation at a stage boundary
func (e *Engine) checkCancel(id string) bool {
	job, err := e.store.GetJob(id)
	if err != nil {
		return false
	}
	if job.Status == models.JobStatusCanceled {
		return true
	}
	if job.CancelRequested {
		e.cancelJob(id, "canceled between stages")
		return true
	}
	return false
}

// canceledMidStage distinguishes a stage failure caused by our own
// cancellation from a genuine error.
func (e *Engine) canceledMidStage(jobCtx context.Context, id string) bool {
	if jobCtx.Err() == nil {
		return false
	}
	job, err := e.store.GetJob(id)
	if err != nil || !job.CancelRequested {
		return false
	}
	e.cancelJob(id, "canceled during stage")
	return true
}

func (e *Engine) cancelJob(id, reason string) {
	if err := e.store.MarkCanceled(id, reason); err != nil {
		e.logger.Error("marking job canceled", map[string]interface{}{
			"generation_id": id, "error": err.Error(),
		})
		return
	}
	// drop any partial output so a canceled id never serves a download
	if err := e.assembler.RemoveArtifacts(id); err != nil {
		e.logger.Warn("removing partial artifacts", map[string]interface{}{
			"generation_id": id, "error": err.Error(),
		})
	}
	jobsFinished.WithLabelValues("canceled").Inc()
	e.logger.Info("job canceled", map[string]interface{}{"generation_id": id})
}

func (e *Engine) fail(id, detail string) {
	if err := e.store.FailJob(id, detail); err != nil {
		e.logger.Error("recording failure", map[string]interface{}{
			"generation_id": id, "error": err.Error(),
		})
		return
	}
	jobsFinished.WithLabelValues("error").Inc()
	e.logger.Error("job failed", map[string]interface{}{
		"generation_id": id, "detail": detail,
	})
}

// reaper fails processing jobs that have not checkpointed within
// StaleAfter, so a crashed worker cannot strand a job forever.
func (e *Engine) reaper(ctx context.Context) {
	defer e.wg.Done()
	if e.opts.StaleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(e.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-e.opts.StaleAfter)
			for _, job := range e.store.GetAllJobs() {
				if job.Status == models.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
					e.fail(job.ID, "no progress within "+e.opts.StaleAfter.String()+"; worker presumed dead")
					e.finishJob(job.ID)
				}
			}
		}
	}
}
