// Package telemetry exposes Prometheus metrics for profile updates.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tagprofile"

// Update statuses.
const (
	StatusOK              = "ok"
	StatusExtractionError = "extraction_error"
	StatusStorageError    = "storage_error"
	StatusConflictLimit   = "version_conflict"
)

// Metrics holds the collectors of one client. A nil *Metrics records
// nothing.
type Metrics struct {
	// updates counts processed text events.
	// Labels: status (ok, extraction_error, storage_error, version_conflict)
	updates *prometheus.CounterVec

	// updateDuration measures a full process cycle including extraction.
	updateDuration prometheus.Histogram

	// conflicts counts resolutions.
	// Labels: conflict_type, action
	conflicts *prometheus.CounterVec

	// triggers counts recorded triggers.
	// Labels: action_type (create, strengthen, weaken)
	triggers *prometheus.CounterVec

	// commitRetries counts cycles re-run after a version conflict.
	commitRetries prometheus.Counter

	// extractionFailures counts failed candidate extractions.
	extractionFailures prometheus.Counter

	// rejectedCandidates counts candidates dropped as malformed.
	rejectedCandidates prometheus.Counter

	// evictedTags counts tags removed by the per-dimension cap.
	evictedTags prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Total processed text events by status",
		}, []string{"status"}),
		updateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Duration of a profile update including extraction",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Total conflict resolutions by type and action",
		}, []string{"conflict_type", "action"}),
		triggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Total recorded tag triggers by action",
		}, []string{"action_type"}),
		commitRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retries_total",
			Help:      "Total update cycles retried after a version conflict",
		}),
		extractionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Total failed candidate extractions",
		}),
		rejectedCandidates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_candidates_total",
			Help:      "Total candidates rejected as malformed",
		}),
		evictedTags: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_tags_total",
			Help:      "Total tags evicted by the per-dimension cap",
		}),
	}
}

// ObserveUpdate records one finished update.
func (m *Metrics) ObserveUpdate(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(status).Inc()
	m.updateDuration.Observe(elapsed.Seconds())
}

// Conflict records one resolution.
func (m *Metrics) Conflict(conflictType, action string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(conflictType, action).Inc()
}

// Trigger records one trigger.
func (m *Metrics) Trigger(actionType string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(actionType).Inc()
}

// CommitRetry records a retried cycle.
func (m *Metrics) CommitRetry() {
	if m == nil {
		return
	}
	m.commitRetries.Inc()
}

// ExtractionFailure records a failed extraction.
func (m *Metrics) ExtractionFailure() {
	if m == nil {
		return
	}
	m.extractionFailures.Inc()
}

// Rejected records n rejected candidates.
func (m *Metrics) Rejected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rejectedCandidates.Add(float64(n))
}

// Evicted records n evicted tags.
func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictedTags.Add(float64(n))
}
