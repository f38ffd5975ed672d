// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts run lifecycle transitions across all runtimes. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsFailed    *prometheus.CounterVec
	runsRetried   *prometheus.CounterVec
	runsCancelled *prometheus.CounterVec
	activeRuns    *prometheus.GaugeVec
	eventsMatched *prometheus.CounterVec
}

// NewMetrics registers the run lifecycle collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granary",
			Name:      "runs_started_total",
			Help:      "Runs dispatched, including retry dispatches.",
		}, []string{"worker_id"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granary",
			Name:      "runs_completed_total",
			Help:      "Runs that exited successfully.",
		}, []string{"worker_id"}),
		runsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granary",
			Name:      "runs_failed_total",
			Help:      "Runs that failed terminally.",
		}, []string{"worker_id"}),
		runsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granary",
			Name:      "runs_retried_total",
			Help:      "Failed runs re-scheduled for a backoff retry.",
		}, []string{"worker_id"}),
		runsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granary",
			Name:      "runs_cancelled_total",
			Help:      "Runs cancelled by shutdown or external request.",
		}, []string{"worker_id"}),
		activeRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "granary",
			Name:      "active_runs",
			Help:      "Currently executing runs per worker.",
		}, []string{"worker_id"}),
		eventsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "granary",
			Name:      "events_matched_total",
			Help:      "Events that passed a worker's filters.",
		}, []string{"worker_id"}),
	}
	reg.MustRegister(m.runsStarted, m.runsCompleted, m.runsFailed,
		m.runsRetried, m.runsCancelled, m.activeRuns, m.eventsMatched)
	return m
}

func (m *Metrics) runStarted(workerID string) {
	if m != nil {
		m.runsStarted.WithLabelValues(workerID).Inc()
	}
}

func (m *Metrics) runCompleted(workerID string) {
	if m != nil {
		m.runsCompleted.WithLabelValues(workerID).Inc()
	}
}

func (m *Metrics) runFailed(workerID string) {
	if m != nil {
		m.runsFailed.WithLabelValues(workerID).Inc()
	}
}

func (m *Metrics) runRetried(workerID string) {
	if m != nil {
		m.runsRetried.WithLabelValues(workerID).Inc()
	}
}

func (m *Metrics) runCancelled(workerID string) {
	if m != nil {
		m.runsCancelled.WithLabelValues(workerID).Inc()
	}
}

func (m *Metrics) setActive(workerID string, n int) {
	if m != nil {
		m.activeRuns.WithLabelValues(workerID).Set(float64(n))
	}
}

func (m *Metrics) eventMatched(workerID string) {
	if m != nil {
		m.eventsMatched.WithLabelValues(workerID).Inc()
	}
}
