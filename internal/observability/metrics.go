package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	passCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellness_service",
		Subsystem: "reconcile",
		Name:      "passes_total",
		Help:      "Reconciliation passes by outcome (completed, cancelled, aborted).",
	}, []string{"outcome"})
	remoteOpCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellness_service",
		Subsystem: "calendar",
		Name:      "remote_operations_total",
		Help:      "Remote calendar operations by kind and result.",
	}, []string{"kind", "result"})
	conflictGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wellness_service",
		Subsystem: "reconcile",
		Name:      "last_pass_conflicted_activities",
		Help:      "Activities left conflicted by the most recent pass.",
	})
	suggestionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellness_service",
		Subsystem: "adaptation",
		Name:      "regeneration_suggestions_total",
		Help:      "RegenerationSuggested signals emitted, by direction.",
	}, []string{"direction"})
	mappingPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wellness_service",
		Subsystem: "persistence",
		Name:      "last_mapping_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent confirmed mapping write.",
	})
)

func init() {
	prometheus.MustRegister(passCounter, remoteOpCounter, conflictGauge, suggestionCounter, mappingPersistGauge)
}

// RecordPass counts a finished reconciliation pass.
func RecordPass(outcome string) {
	passCounter.WithLabelValues(outcome).Inc()
}

// RecordRemoteOp counts one remote calendar operation attempt outcome.
func RecordRemoteOp(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	remoteOpCounter.WithLabelValues(kind, result).Inc()
}

// RecordConflicts updates the conflicted-activity gauge for the latest pass.
func RecordConflicts(count int) {
	conflictGauge.Set(float64(count))
}

// RecordSuggestion counts an emitted regeneration signal.
func RecordSuggestion(direction string) {
	suggestionCounter.WithLabelValues(direction).Inc()
}

// RecordMappingPersisted updates the mapping write watermark.
func RecordMappingPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	mappingPersistGauge.Set(float64(ts.Unix()))
}
