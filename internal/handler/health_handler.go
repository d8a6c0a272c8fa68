package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/token-service/internal/service"
	appErrors "github.com/noah-isme/token-service/pkg/errors"
	"github.com/noah-isme/token-service/pkg/response"
)

// ReadinessChecker reports whether the service can issue and verify tokens.
type ReadinessChecker interface {
	Initialized() bool
}

// HealthHandler exposes observability endpoints.
type HealthHandler struct {
	metrics *service.MetricsService
	ready   ReadinessChecker
}

// NewHealthHandler constructs a health handler.
func NewHealthHandler(metrics *service.MetricsService, ready ReadinessChecker) *HealthHandler {
	return &HealthHandler{metrics: metrics, ready: ready}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *HealthHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health godoc
// @Summary Liveness probe
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @Summary Readiness probe
// @Description Fails until the signing key has been loaded
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} response.Envelope
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.ready == nil || !h.ready.Initialized() {
		response.Error(c, appErrors.Clone(appErrors.ErrServiceUnavailable, "signing key not initialized"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
