package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/token-service/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the token service.
type MetricsService struct {
	registry             *prometheus.Registry
	handler              http.Handler
	requestDuration      *prometheus.HistogramVec
	requestTotal         *prometheus.CounterVec
	tokensIssued         *prometheus.CounterVec
	tokenRotations       prometheus.Counter
	tokenRevocations     *prometheus.CounterVec
	verificationFailures *prometheus.CounterVec
	keyRegenerations     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	tokensIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "Tokens signed and persisted, by token type",
	}, []string{"type"})

	tokenRotations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "token_rotations_total",
		Help: "Successful refresh token rotations",
	})

	tokenRevocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_revocations_total",
		Help: "Stored tokens flagged revoked, by token type",
	}, []string{"type"})

	verificationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_verification_failures_total",
		Help: "Rejected authentication attempts, by reason",
	}, []string{"reason"})

	keyRegenerations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signing_key_regenerations_total",
		Help: "Signing keys regenerated because the stored key could not be decrypted",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, tokensIssued, tokenRotations, tokenRevocations, verificationFailures, keyRegenerations, goroutines)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		tokensIssued:         tokensIssued,
		tokenRotations:       tokenRotations,
		tokenRevocations:     tokenRevocations,
		verificationFailures: verificationFailures,
		keyRegenerations:     keyRegenerations,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTokenIssued counts a persisted token.
func (m *MetricsService) RecordTokenIssued(tokenType models.TokenType) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(string(tokenType)).Inc()
}

// RecordRotation counts a completed refresh.
func (m *MetricsService) RecordRotation() {
	if m == nil {
		return
	}
	m.tokenRotations.Inc()
}

// RecordRevocation counts a stored token flagged revoked.
func (m *MetricsService) RecordRevocation(tokenType models.TokenType) {
	if m == nil {
		return
	}
	m.tokenRevocations.WithLabelValues(string(tokenType)).Inc()
}

// RecordVerificationFailure counts a rejected authentication attempt.
func (m *MetricsService) RecordVerificationFailure(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.verificationFailures.WithLabelValues(reason).Inc()
}

// RecordKeyRegeneration counts a signing key minted after a decryption failure.
func (m *MetricsService) RecordKeyRegeneration() {
	if m == nil {
		return
	}
	m.keyRegenerations.Inc()
}
