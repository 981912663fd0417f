package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlrag_questions_total",
			Help: "Total number of questions received.",
		},
	)
	extractionFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlrag_extraction_fallbacks_total",
			Help: "Total number of model answers in which no SQL pattern matched.",
		},
	)
	executionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlrag_execution_failures_total",
			Help: "Total number of generated statements that failed to execute.",
		},
	)
	generationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlrag_generation_errors_total",
			Help: "Total number of failed language model calls.",
		},
	)
	retrievedTables = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlrag_retrieved_tables",
			Help:    "Number of table definitions placed in each SQL prompt.",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)
	stageDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlrag_stage_duration_ms",
			Help:    "Duration of each pipeline stage in milliseconds.",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		extractionFallbacksTotal,
		executionFailuresTotal,
		generationErrorsTotal,
		retrievedTables,
		stageDurationMs,
	)
}

func IncrementQuestions() {
	questionsTotal.Inc()
}

func IncrementExtractionFallback() {
	extractionFallbacksTotal.Inc()
}

func IncrementExecutionFailure() {
	executionFailuresTotal.Inc()
}

func IncrementGenerationError() {
	generationErrorsTotal.Inc()
}

func ObserveRetrievedTables(n int) {
	retrievedTables.Observe(float64(n))
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
