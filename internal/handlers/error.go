package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/negosync/internal/engine"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// feedError maps engine errors onto HTTP errors.
func feedError(err error) error {
	switch {
	case errors.Is(err, engine.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session closed")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
