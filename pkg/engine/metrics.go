package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitewright_jobs_submitted_total",
		Help: "Generation jobs accepted into the queue",
	})

	jobsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitewright_jobs_cache_hits_total",
		Help: "Submissions served from a previously completed identical brief",
	})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewright_jobs_finished_total",
		Help: "Jobs reaching a terminal state, by outcome",
	}, []string{"outcome"})

	synthRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitewright_synthesis_retries_total",
		Help: "Transient content synthesis failures that were retried",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitewright_job_duration_seconds",
		Help:    "Wall time from claim to terminal state for completed jobs",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitewright_stage_duration_seconds",
		Help:    "Wall time per pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitewright_active_workers",
		Help: "Workers currently executing a job",
	})
)
