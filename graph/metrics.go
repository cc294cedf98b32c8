package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for graph
// execution monitoring, namespaced "langgraph_":
//
//  1. step_latency_ms (histogram): node execution duration in milliseconds.
//     Labels: run_id, node_id, status (success/error).
//  2. retries_total (counter): cumulative retry attempts across all nodes.
//     Labels: run_id, node_id, reason.
//  3. checkpoints_saved_total (counter): checkpoints persisted.
//     Labels: graph_id, reason (hitl/periodic/error).
//  4. checkpoints_expired_total (counter): checkpoints reaped by
//     DeleteExpired, per store.
//     Labels: store.
//  5. decisions_total (counter): DecisionNode evaluations.
//     Labels: engine_id, result_id, used_fallback.
//
// Thread-safe: all methods delegate to Prometheus's own atomic collectors;
// the mutex here only guards Enable/Disable.
type PrometheusMetrics struct {
	stepLatency       *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	checkpointsSaved  *prometheus.CounterVec
	checkpointsExpired *prometheus.CounterVec
	decisions         *prometheus.CounterVec

	registry prometheus.Registerer
	mu       sync.RWMutex
	enabled  bool
}

// NewPrometheusMetrics creates and registers all graph execution metrics
// with the provided registry (use prometheus.DefaultRegisterer for the
// global registry, or a fresh prometheus.NewRegistry() for isolation).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "langgraph",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "retries_total",
		Help:      "Cumulative count of node retry attempts",
	}, []string{"run_id", "node_id", "reason"})

	pm.checkpointsSaved = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "checkpoints_saved_total",
		Help:      "Checkpoints persisted by a GraphRunner",
	}, []string{"graph_id", "reason"})

	pm.checkpointsExpired = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "checkpoints_expired_total",
		Help:      "Checkpoints reaped by DeleteExpired",
	}, []string{"store"})

	pm.decisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "langgraph",
		Name:      "decisions_total",
		Help:      "DecisionNode evaluations, by outcome",
	}, []string{"engine_id", "result_id", "used_fallback"})

	return pm
}

// RecordStepLatency records how long a node execution took.
func (pm *PrometheusMetrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries records a retry attempt for a node.
func (pm *PrometheusMetrics) IncrementRetries(runID, nodeID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(runID, nodeID, reason).Inc()
}

// IncrementCheckpointsSaved records a checkpoint persisted for graphID,
// reason being one of "hitl", "periodic", or "error".
func (pm *PrometheusMetrics) IncrementCheckpointsSaved(graphID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.checkpointsSaved.WithLabelValues(graphID, reason).Inc()
}

// IncrementCheckpointsExpired records n checkpoints reaped from storeName.
func (pm *PrometheusMetrics) IncrementCheckpointsExpired(storeName string, n int) {
	if !pm.isEnabled() || n <= 0 {
		return
	}
	pm.checkpointsExpired.WithLabelValues(storeName).Add(float64(n))
}

// IncrementDecisions records a DecisionNode evaluation outcome.
func (pm *PrometheusMetrics) IncrementDecisions(engineID, resultID string, usedFallback bool) {
	if !pm.isEnabled() {
		return
	}
	fallback := "false"
	if usedFallback {
		fallback = "true"
	}
	pm.decisions.WithLabelValues(engineID, resultID, fallback).Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
