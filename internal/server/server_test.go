package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/negosync/internal/channel"
	"github.com/memohai/negosync/internal/engine"
	"github.com/memohai/negosync/internal/handlers"
	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/metrics"
	"github.com/memohai/negosync/internal/negotiation"
	"github.com/memohai/negosync/internal/notification"
)

type fakeFeed struct {
	items     []notification.Notification
	dismissed []string
	err       error
}

func (f *fakeFeed) Notifications(context.Context) ([]notification.Notification, error) {
	return f.items, f.err
}

func (f *fakeFeed) Dismiss(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for i, n := range f.items {
		if n.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			f.dismissed = append(f.dismissed, id)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFeed) DismissAll(context.Context) (int, error) {
	n := len(f.items)
	f.items = nil
	return n, f.err
}

func (f *fakeFeed) Status() engine.Status {
	return engine.Status{
		Identity:      identity.Identity{ID: "carrierY", Role: identity.RoleCarrier},
		Channel:       channel.StateConnected,
		Notifications: len(f.items),
	}
}

func newTestServer(feed *fakeFeed) *Server {
	m := metrics.New()
	m.Received("bid_negotiation_update", "channel")
	return NewServer(nil, "",
		handlers.NewPingHandler(nil),
		handlers.NewNotificationsHandler(nil, feed),
		handlers.NewMetricsHandler(m.Handler()),
	)
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestFeedRoutes(t *testing.T) {
	rate := 2800.0
	feed := &fakeFeed{items: []notification.Notification{{
		ID:        "n1",
		Event:     negotiation.Event{EventID: "e1", BidID: "b1", SenderName: "Shipper", SenderRole: identity.RoleShipper, Message: "new rate", Rate: &rate},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	s := newTestServer(feed)

	rec := serve(s, http.MethodGet, "/notifications")
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "n1", list.Items[0].ID)
	assert.Equal(t, "negotiation:|b1", list.Items[0].Notice.Tag)

	rec = serve(s, http.MethodDelete, "/notifications/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodDelete, "/notifications/n1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"n1"}, feed.dismissed)

	rec = serve(s, http.MethodDelete, "/notifications")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"dismissed":0}`, rec.Body.String())
}

func TestStatusPingAndMetrics(t *testing.T) {
	s := newTestServer(&fakeFeed{})

	rec := serve(s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, channel.StateConnected, status.Channel)

	rec = serve(s, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = serve(s, http.MethodHead, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "negosync_events_received_total")
}

func TestClosedSessionIsUnavailable(t *testing.T) {
	s := newTestServer(&fakeFeed{err: engine.ErrClosed})
	rec := serve(s, http.MethodGet, "/notifications")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
