package metrics

import (
	"context"
	"time"

	"github.com/videoingest/videoingest/internal/workbus"
)

type JobHandler func(context.Context, *workbus.Message) error

// JobMetricsMiddleware wraps a pipeline consumer's handler with the same
// active-jobs/processed/duration instrumentation regardless of which
// pipeline it serves.
func JobMetricsMiddleware(pipeline workbus.Pipeline, next JobHandler) JobHandler {
	return func(ctx context.Context, msg *workbus.Message) error {
		start := time.Now()
		WorkerPoolActiveJobs.WithLabelValues(string(pipeline)).Inc()
		defer WorkerPoolActiveJobs.WithLabelValues(string(pipeline)).Dec()

		err := next(ctx, msg)

		duration := time.Since(start).Seconds()
		status := "success"
		if err != nil {
			status = "error"
		}

		RecordJobProcessed(string(pipeline), status, duration)

		return err
	}
}
