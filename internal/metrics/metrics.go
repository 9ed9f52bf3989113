package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusUnsafe  = "unsafe"
)

var (
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdb_queries_total", Help: "Executed statements by dialect and outcome.",
	}, []string{"dialect", "status"})
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "askdb_query_duration_seconds",
		Help:    "Wall time of statements run against external databases.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"dialect"})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdb_llm_calls_total", Help: "Language model calls by purpose and outcome.",
	}, []string{"purpose", "status"})

	SchemaDiscoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdb_schema_discoveries_total", Help: "Schema discovery runs by outcome.",
	}, []string{"status"})

	PoolsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "askdb_pools_open", Help: "External connection pools currently cached.",
	})
)
