package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querytalk_turns_total",
			Help: "Total number of completed turns by outcome.",
		},
		[]string{"outcome"},
	)
	resynthesisTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querytalk_resynthesis_attempts_total",
			Help: "Total number of syntax-error re-synthesis attempts.",
		},
	)
	llmRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querytalk_llm_request_duration_seconds",
			Help:    "Chat completion request latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)
	llmRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querytalk_llm_retries_total",
			Help: "Total number of transient-failure retries against the completion service.",
		},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querytalk_query_duration_seconds",
			Help:    "SQL execution latency by outcome kind.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
		},
		[]string{"kind"},
	)
	historyWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querytalk_history_write_failures_total",
			Help: "Total number of failed history record writes.",
		},
	)
	schemaRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querytalk_schema_refresh_total",
			Help: "Total number of schema snapshot captures by trigger.",
		},
		[]string{"trigger"},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		resynthesisTotal,
		llmRequestDurationSeconds,
		llmRetriesTotal,
		queryDurationSeconds,
		historyWriteFailuresTotal,
		schemaRefreshTotal,
	)
}

func ObserveTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveResynthesis() {
	resynthesisTotal.Inc()
}

func ObserveLLMRequest(status string, duration time.Duration) {
	llmRequestDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

func ObserveLLMRetry() {
	llmRetriesTotal.Inc()
}

func ObserveQuery(kind string, duration time.Duration) {
	queryDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

func ObserveHistoryWriteFailure() {
	historyWriteFailuresTotal.Inc()
}

func ObserveSchemaRefresh(trigger string) {
	schemaRefreshTotal.WithLabelValues(trigger).Inc()
}
