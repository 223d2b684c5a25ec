package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/memohai/negosync/internal/engine"
)

func TestFeedErrorStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "closed", err: fmt.Errorf("dismiss: %w", engine.ErrClosed), want: http.StatusServiceUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "canceled", err: context.Canceled, want: http.StatusGatewayTimeout},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var he *echo.HTTPError
			if !errors.As(feedError(tc.err), &he) {
				t.Fatalf("expected *echo.HTTPError")
			}
			if he.Code != tc.want {
				t.Fatalf("code = %d, want %d", he.Code, tc.want)
			}
		})
	}
}
