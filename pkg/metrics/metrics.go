package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Validation metrics
	RecordsValidatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankdata_records_validated_total",
			Help: "Total number of candidate records processed by the validator",
		},
		[]string{"entity", "result"}, // result: accepted, rejected
	)

	ValidationIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankdata_validation_issues_total",
			Help: "Total number of validation issues by category",
		},
		[]string{"entity", "category"},
	)

	// Risk metrics
	RiskAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankdata_risk_alerts_total",
			Help: "Total number of risk alerts emitted per rule",
		},
		[]string{"rule", "severity"},
	)

	RiskLookupDegradationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bankdata_risk_lookup_degradations_total",
			Help: "Total number of risk evaluations degraded to fail-safe by a lookup failure",
		},
	)

	// Pipeline metrics
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankdata_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bankdata_pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds per stage",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"stage"},
	)

	// Persistence gateway metrics
	GatewayQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bankdata_gateway_query_duration_seconds",
			Help:    "Persistence gateway query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation", "entity"},
	)

	DatabaseConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bankdata_database_connections",
			Help: "Number of database connections",
		},
		[]string{"state"}, // open, idle, in_use
	)

	CircuitBreakerStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bankdata_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)
