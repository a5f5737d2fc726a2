package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/sitewright/sitewright/pkg/models"
)

// MetricsHandler serves the Prometheus exposition: store-level job
// gauges rendered by hand, followed by everything in the default
// registry (pipeline counters, Go runtime collectors).
func (h *Handler) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder

		metrics, err := h.engine.Metrics()
		if err != nil {
			h.logger.Error("collecting job metrics", map[string]interface{}{"error": err.Error()})
		} else {
			sb.WriteString("# HELP sitewright_jobs Current job count by status\n")
			sb.WriteString("# TYPE sitewright_jobs gauge\n")
			for _, status := range []models.JobStatus{
				models.JobStatusQueued, models.JobStatusProcessing,
				models.JobStatusCompleted, models.JobStatusError, models.JobStatusCanceled,
			} {
				fmt.Fprintf(&sb, "sitewright_jobs{status=%q} %d\n", status, metrics.JobsByStatus[status])
			}

			sb.WriteString("# HELP sitewright_queue_length Jobs waiting for a worker\n")
			sb.WriteString("# TYPE sitewright_queue_length gauge\n")
			fmt.Fprintf(&sb, "sitewright_queue_length %d\n", metrics.QueueLength)

			sb.WriteString("# HELP sitewright_jobs_total Jobs ever created\n")
			sb.WriteString("# TYPE sitewright_jobs_total counter\n")
			fmt.Fprintf(&sb, "sitewright_jobs_total %d\n", metrics.TotalJobs)

			sb.WriteString("# HELP sitewright_retries_total Synthesis retries across all jobs\n")
			sb.WriteString("# TYPE sitewright_retries_total counter\n")
			fmt.Fprintf(&sb, "sitewright_retries_total %d\n", metrics.TotalRetries)

			sb.WriteString("# HELP sitewright_job_duration_avg_seconds Mean duration of completed jobs\n")
			sb.WriteString("# TYPE sitewright_job_duration_avg_seconds gauge\n")
			fmt.Fprintf(&sb, "sitewright_job_duration_avg_seconds %.3f\n", metrics.AvgDuration)
		}

		if families, err := prometheus.DefaultGatherer.Gather(); err == nil {
			enc := expfmt.NewEncoder(&sb, expfmt.NewFormat(expfmt.TypeTextPlain))
			for _, mf := range families {
				if err := enc.Encode(mf); err != nil {
					break
				}
			}
		}

		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		w.Write([]byte(sb.String()))
	})
}
