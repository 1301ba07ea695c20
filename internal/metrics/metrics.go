// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "social_graph"

var (
	// Outcomes counts successful Follow/Unfollow calls by outcome.
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_outcomes_total",
		Help:      "Follow and unfollow calls by outcome",
	}, []string{"operation", "outcome"})

	// Errors counts failed calls by error kind.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Failed engine calls by error kind",
	}, []string{"operation", "kind"})

	// Retries counts pair transactions retried after a conflict or a busy store.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_retries_total",
		Help:      "Account store transactions retried",
	}, []string{"operation"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Engine call latency including retries",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})

	// StatusDeduplicated counts status reads served by an in-flight read of the same actor.
	StatusDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_reads_shared_total",
		Help:      "Following-status reads that joined an in-flight read",
	})

	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invariant_violations_total",
		Help:      "Inconsistencies detected in stored accounts",
	}, []string{"code"})

	Repairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "repairs_total",
		Help:      "Accounts rewritten by purge or audit repair",
	}, []string{"source"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Follow notification deliveries by sink and result",
	}, []string{"sink", "result"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Follow notifications dropped because the queue was full or closed",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "count_cache_lookups_total",
		Help:      "Count cache lookups by result",
	}, []string{"result"})
)
