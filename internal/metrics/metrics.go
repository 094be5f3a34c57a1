// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_tasks_created_total",
		Help: "Total number of tasks created",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_tasks_completed_total",
		Help: "Total number of tasks that reached completed",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_tasks_failed_total",
		Help: "Total number of tasks that reached failed",
	})

	TasksRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_tasks_recovered_total",
		Help: "Unfinished tasks resumed from the task store at startup",
	})

	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_fetch_attempts_total",
		Help: "HTTP requests issued by the fetcher, retries included",
	})

	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_fetch_retries_total",
		Help: "Fetch attempts that failed with a transient error and were retried",
	})

	FetchRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_fetch_restarts_total",
		Help: "Resumed fetches that had to restart from zero",
	})

	FilesSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_files_succeeded_total",
		Help: "Files downloaded completely",
	})

	FilesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_files_failed_total",
		Help: "Files that failed terminally",
	})

	BytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_bytes_downloaded_total",
		Help: "Bytes received from remote servers and written to disk",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_persist_failures_total",
		Help: "Task store writes that failed",
	})

	ArchiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchd_archive_uploads_total",
		Help: "Archive uploads of completed files by result",
	}, []string{"result"})

	ActiveFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetchd_active_fetches",
		Help: "Fetchers currently running",
	})
)
