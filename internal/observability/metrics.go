// Package observability exposes Prometheus collectors for the sync engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "sessions_total",
		Help:      "Sync sessions by outcome.",
	}, []string{"outcome"})

	phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "phase_duration_seconds",
		Help:      "Time spent in each coordinator phase.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"phase"})

	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "conflicts_resolved_total",
		Help:      "Conflict resolutions by winning side and rule.",
	}, []string{"winner", "reason"})

	recordsPushed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "records_pushed_total",
		Help:      "Client writes applied to the server store.",
	})

	recordsPulled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "records_pulled_total",
		Help:      "Records delivered to clients.",
	})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "sync",
		Name:      "retries_total",
		Help:      "Retried operations after transient failures or lost compare-and-swap races.",
	}, []string{"cause"})

	tombstonesPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "tombstones",
		Name:      "purged_total",
		Help:      "Tombstones physically removed after acknowledgement.",
	})

	tombstonesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "tombstones",
		Name:      "created_total",
		Help:      "Records soft-deleted through the delete endpoint.",
	})
)

func init() {
	prometheus.MustRegister(
		sessionsTotal,
		phaseDuration,
		conflictsTotal,
		recordsPushed,
		recordsPulled,
		retriesTotal,
		tombstonesPurged,
		tombstonesCreated,
	)
}

// RecordSession counts a finished sync session.
func RecordSession(outcome string) {
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// ObservePhase records how long a coordinator phase took.
func ObservePhase(phase string, d time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordConflict counts one resolver decision.
func RecordConflict(winner, reason string) {
	conflictsTotal.WithLabelValues(winner, reason).Inc()
}

// RecordPushed counts applied client writes.
func RecordPushed(n int) {
	recordsPushed.Add(float64(n))
}

// RecordPulled counts records delivered to a client.
func RecordPulled(n int) {
	recordsPulled.Add(float64(n))
}

// RecordRetry counts a retried operation.
func RecordRetry(cause string) {
	retriesTotal.WithLabelValues(cause).Inc()
}

// RecordPurged counts purged tombstones.
func RecordPurged(n int64) {
	if n <= 0 {
		return
	}
	tombstonesPurged.Add(float64(n))
}

// RecordTombstone counts a soft delete.
func RecordTombstone() {
	tombstonesCreated.Inc()
}
