package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tessellate_jobs_submitted_total",
		Help: "Total number of jobs accepted by the scheduler",
	})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessellate_jobs_finished_total",
		Help: "Total number of jobs reaching a terminal state",
	}, []string{"outcome"}) // "completed" or the terminal error kind

	runningJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessellate_jobs_running",
		Help: "Number of jobs currently holding a worker slot",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tessellate_job_duration_seconds",
		Help:    "Wall time from slot acquisition to terminal state",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
	})

	tilesPerJob = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tessellate_tiles_per_job",
		Help:    "Number of tiles produced per job including the base view",
		Buckets: []float64{1, 2, 3, 5, 7, 10, 15, 25},
	})

	batchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tessellate_batch_retries_total",
		Help: "Total number of inference batch retries after engine timeouts",
	})
)
