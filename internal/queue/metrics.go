package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeLeases = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crawlspace_semaphore_active_leases",
		Help: "Leases currently held against tenant concurrency budgets.",
	}, []string{"tenant"})

	acquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawlspace_semaphore_acquire_seconds",
		Help:    "Time spent waiting for a semaphore grant.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	holdDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawlspace_semaphore_hold_seconds",
		Help:    "Time a lease was held before release.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	})

	promotedJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlspace_queue_promoted_jobs_total",
		Help: "Waiting-queue jobs promoted into the ready queue.",
	})

	expiredLeases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlspace_semaphore_reclaimed_leases_total",
		Help: "Expired leases reclaimed during acquire.",
	})
)
