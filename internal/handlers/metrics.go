package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MetricsHandler mounts a Prometheus exposition handler at /metrics.
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler wraps a Prometheus exposition handler.
func NewMetricsHandler(handler http.Handler) *MetricsHandler {
	return &MetricsHandler{handler: handler}
}

// Register mounts GET /metrics when a handler is set.
func (h *MetricsHandler) Register(e *echo.Echo) {
	if h.handler == nil {
		return
	}
	e.GET("/metrics", echo.WrapHandler(h.handler))
}
