package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the orchestration engine.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	TurnsProcessed      *prometheus.CounterVec // by channel
	ToolInvocations     *prometheus.CounterVec // by tool name and outcome
	EnhancementDuration prometheus.Histogram
	CacheHits           prometheus.Counter
	StageTransitions    *prometheus.CounterVec // by target stage
}

// InitMetrics initializes the Prometheus metrics and registers a collector
// for the live connection count.
func InitMetrics(connManager *ConnectionManager) *Metrics {
	metrics := &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pathfinder_sessions_active",
			Help: "Number of live orchestration sessions",
		}),

		TurnsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pathfinder_turns_total",
			Help: "Total conversation turns processed, by transport channel",
		}, []string{"channel"}),

		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pathfinder_tool_invocations_total",
			Help: "Total tool invocations by tool name and outcome",
		}, []string{"tool", "outcome"}),

		EnhancementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pathfinder_enhancement_batch_duration_seconds",
			Help:    "Enhancement batch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pathfinder_market_cache_hits_total",
			Help: "Market data lookups served from cache",
		}),

		StageTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pathfinder_stage_transitions_total",
			Help: "Stage transitions by target stage",
		}, []string{"stage"}),
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "pathfinder_websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))

	return metrics
}
