package metrics

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method"},
	)

	// Chunk-intake / session metrics

	ChunksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunks_received_total",
			Help: "Total number of chunks accepted by the intake handler",
		},
		[]string{"status"},
	)

	ChunkBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chunk_bytes_total",
			Help: "Total bytes accepted across all chunk uploads",
		},
	)

	SessionsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upload_sessions_by_state",
			Help: "Number of upload sessions currently in each state",
		},
		[]string{"state"},
	)

	SessionsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_sessions_completed_total",
			Help: "Total number of upload sessions that reached completed",
		},
	)

	SessionsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_sessions_expired_total",
			Help: "Total number of upload sessions reclaimed by GC",
		},
	)

	AssemblyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assembly_duration_seconds",
			Help:    "Duration of chunk assembly into the final blob",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probe_duration_seconds",
			Help:    "Duration of the metadata probe",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ThumbnailDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thumbnail_duration_seconds",
			Help:    "Duration of thumbnail generation",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	VideosByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "videos_by_state",
			Help: "Number of video records currently in each state",
		},
		[]string{"state"},
	)

	// Storage metrics

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	StorageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_bytes_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Work bus metrics

	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"pipeline"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"pipeline", "status"},
	)

	JobsProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobs_processing_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pipeline", "stage"},
	)

	JobsRetriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of jobs republished to a retry queue",
		},
		[]string{"pipeline"},
	)

	JobsDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_dead_lettered_total",
			Help: "Total number of jobs moved to a dead-letter queue",
		},
		[]string{"pipeline"},
	)

	JobsInQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_in_queue",
			Help: "Number of jobs currently in queue",
		},
		[]string{"queue"},
	)

	WorkerPoolActiveJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_pool_active_jobs",
			Help: "Number of jobs currently being processed by workers",
		},
		[]string{"pipeline"},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_size",
			Help: "Size of the worker pool",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_up",
			Help: "Application is up and running",
		},
	)
)

func NormalizePath(path string) string {
	return uuidRegex.ReplaceAllString(path, ":id")
}

func RecordChunkReceived(status string, sizeBytes int64) {
	ChunksReceivedTotal.WithLabelValues(status).Inc()
	if status == "success" {
		ChunkBytesTotal.Add(float64(sizeBytes))
	}
}

func RecordSessionCompleted() {
	SessionsCompletedTotal.Inc()
}

func RecordSessionExpired() {
	SessionsExpiredTotal.Inc()
}

func SetSessionsByState(state string, count int) {
	SessionsByState.WithLabelValues(state).Set(float64(count))
}

func SetVideosByState(state string, count int) {
	VideosByState.WithLabelValues(state).Set(float64(count))
}

func RecordAssembly(durationSeconds float64) {
	AssemblyDuration.Observe(durationSeconds)
}

func RecordProbe(durationSeconds float64) {
	ProbeDuration.Observe(durationSeconds)
}

func RecordThumbnail(durationSeconds float64) {
	ThumbnailDuration.Observe(durationSeconds)
}

func RecordJobEnqueued(pipeline string) {
	JobsEnqueuedTotal.WithLabelValues(pipeline).Inc()
}

func RecordJobProcessed(pipeline, status string, durationSeconds float64) {
	JobsProcessedTotal.WithLabelValues(pipeline, status).Inc()
	JobsProcessingDuration.WithLabelValues(pipeline, "total").Observe(durationSeconds)
}

func RecordJobStage(pipeline, stage string, durationSeconds float64) {
	JobsProcessingDuration.WithLabelValues(pipeline, stage).Observe(durationSeconds)
}

func RecordJobRetried(pipeline string) {
	JobsRetriedTotal.WithLabelValues(pipeline).Inc()
}

func RecordJobDeadLettered(pipeline string) {
	JobsDeadLetteredTotal.WithLabelValues(pipeline).Inc()
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}

func SetWorkerPoolSize(size int) {
	WorkerPoolSize.Set(float64(size))
}

func SetJobsInQueue(queue string, count int64) {
	JobsInQueue.WithLabelValues(queue).Set(float64(count))
}
