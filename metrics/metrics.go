/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes recorded by the pipeline.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeCapacity  = "capacity"
)

var (
	requestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentionbot_requests_total",
		Help: "Mention requests by terminal outcome.",
	}, []string{"outcome"})

	activeExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mentionbot_active_executions",
		Help: "Requests currently holding an admission slot.",
	})

	agentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mentionbot_agent_duration_seconds",
		Help:    "Wall-clock duration of agent executions.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// RecordOutcome counts a request reaching one of the terminal outcomes.
func RecordOutcome(outcome string) {
	requestOutcomes.WithLabelValues(outcome).Inc()
}

// ExecutionStarted marks a request entering the admission gate.
func ExecutionStarted() {
	activeExecutions.Inc()
}

// ExecutionFinished marks a request releasing its admission slot.
func ExecutionFinished() {
	activeExecutions.Dec()
}

// ObserveAgentDuration records how long one agent execution took.
func ObserveAgentDuration(d time.Duration) {
	agentDuration.Observe(d.Seconds())
}
