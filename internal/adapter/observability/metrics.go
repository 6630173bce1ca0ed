package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	InferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Total number of inference requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	InferenceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_request_duration_seconds",
			Help:    "Inference request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "operation"},
	)
	InferencePromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_prompt_tokens",
			Help:    "Distribution of prompt sizes in tokens",
			Buckets: []float64{64, 256, 512, 1024, 2048, 4096, 8192, 16384},
		},
	)
	InferenceCompletionTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_completion_tokens",
			Help:    "Distribution of completion sizes in tokens",
			Buckets: []float64{16, 64, 128, 256, 512, 1024, 2048, 4096},
		},
	)

	AnalysesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_enqueued_total",
			Help: "Total number of analysis runs enqueued",
		},
		[]string{"method"},
	)
	AnalysesProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyses_processing",
			Help: "Number of analysis runs currently processing",
		},
		[]string{"method"},
	)
	AnalysesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_completed_total",
			Help: "Total number of analysis runs completed",
		},
		[]string{"method"},
	)
	AnalysesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_failed_total",
			Help: "Total number of analysis runs failed",
		},
		[]string{"method"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_total",
			Help: "Total number of accepted uploads by kind",
		},
		[]string{"kind"},
	)
	RedactedSpansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redacted_spans_total",
			Help: "Total number of redacted spans by category",
		},
		[]string{"category"},
	)
	ParseOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_parse_outcomes_total",
			Help: "Total number of model replies by parse outcome",
		},
		[]string{"kind"},
	)

	// Ranking outcome distribution
	RankingScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ranking_score",
			Help:    "Distribution of ranking scores (normalized fraction [0,1])",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	ScoreDriftGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ranking_score_drift",
			Help: "Mean absolute delta between model scores and the keyword baseline",
		},
		[]string{"model"},
	)
	CircuitBreakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(InferenceRequestsTotal)
	prometheus.MustRegister(InferenceRequestDuration)
	prometheus.MustRegister(InferencePromptTokens)
	prometheus.MustRegister(InferenceCompletionTokens)
	prometheus.MustRegister(AnalysesEnqueuedTotal)
	prometheus.MustRegister(AnalysesProcessing)
	prometheus.MustRegister(AnalysesCompletedTotal)
	prometheus.MustRegister(AnalysesFailedTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(RedactedSpansTotal)
	prometheus.MustRegister(ParseOutcomesTotal)
	prometheus.MustRegister(RankingScoreHistogram)
	prometheus.MustRegister(ScoreDriftGauge)
	prometheus.MustRegister(CircuitBreakerStateGauge)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueAnalysis(method string) {
	AnalysesEnqueuedTotal.WithLabelValues(method).Inc()
}

func StartProcessingAnalysis(method string) {
	AnalysesProcessing.WithLabelValues(method).Inc()
}

func CompleteAnalysis(method string) {
	AnalysesProcessing.WithLabelValues(method).Dec()
	AnalysesCompletedTotal.WithLabelValues(method).Inc()
}

func FailAnalysis(method string) {
	AnalysesProcessing.WithLabelValues(method).Dec()
	AnalysesFailedTotal.WithLabelValues(method).Inc()
}

// ObserveRanking records the score of one completed job/resume pair.
func ObserveRanking(score float64) {
	if score >= 0 && score <= 1 {
		RankingScoreHistogram.Observe(score)
	}
}

// ObserveRedaction records span counts from one redaction pass.
func ObserveRedaction(pii, entities, bias int) {
	RedactedSpansTotal.WithLabelValues("pii").Add(float64(pii))
	RedactedSpansTotal.WithLabelValues("entity").Add(float64(entities))
	RedactedSpansTotal.WithLabelValues("bias").Add(float64(bias))
}
