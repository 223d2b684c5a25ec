package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/negosync/internal/engine"
	"github.com/memohai/negosync/internal/feedback"
	"github.com/memohai/negosync/internal/notification"
)

// FeedService is the session surface the local API needs.
type FeedService interface {
	Notifications(ctx context.Context) ([]notification.Notification, error)
	Dismiss(ctx context.Context, id string) (bool, error)
	DismissAll(ctx context.Context) (int, error)
	Status() engine.Status
}

// NotificationItem is one feed entry with its platform notice.
type NotificationItem struct {
	notification.Notification
	Notice feedback.PlatformNotice `json:"notice"`
}

// ListResponse is the body of GET /notifications.
type ListResponse struct {
	Items []NotificationItem `json:"items"`
}

// DismissAllResponse is the body of DELETE /notifications.
type DismissAllResponse struct {
	Dismissed int `json:"dismissed"`
}

// NotificationsHandler serves the notification feed and session status.
type NotificationsHandler struct {
	feed   FeedService
	logger *slog.Logger
}

// NewNotificationsHandler creates a feed handler over a session.
func NewNotificationsHandler(log *slog.Logger, feed FeedService) *NotificationsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NotificationsHandler{
		feed:   feed,
		logger: log.With(slog.String("handler", "notifications")),
	}
}

// Register mounts the feed routes and GET /status on the Echo instance.
func (h *NotificationsHandler) Register(e *echo.Echo) {
	group := e.Group("/notifications")
	group.GET("", h.List)
	group.DELETE("", h.DismissAll)
	group.DELETE("/:id", h.Dismiss)
	e.GET("/status", h.Status)
}

// List godoc
// @Summary List active notifications
// @Description Active negotiation notifications, most recent first
// @Tags notifications
// @Success 200 {object} ListResponse
// @Failure 503 {object} ErrorResponse
// @Router /notifications [get]
func (h *NotificationsHandler) List(c echo.Context) error {
	items, err := h.feed.Notifications(c.Request().Context())
	if err != nil {
		return feedError(err)
	}
	resp := ListResponse{Items: make([]NotificationItem, 0, len(items))}
	for _, n := range items {
		resp.Items = append(resp.Items, NotificationItem{Notification: n, Notice: feedback.NoticeFor(n)})
	}
	return c.JSON(http.StatusOK, resp)
}

// Dismiss godoc
// @Summary Dismiss notification
// @Tags notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /notifications/{id} [delete]
func (h *NotificationsHandler) Dismiss(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "notification id is required")
	}
	ok, err := h.feed.Dismiss(c.Request().Context(), id)
	if err != nil {
		return feedError(err)
	}
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "notification not found"})
	}
	h.logger.Debug("notification dismissed", slog.String("notification_id", id))
	return c.NoContent(http.StatusNoContent)
}

// DismissAll godoc
// @Summary Dismiss all notifications
// @Tags notifications
// @Success 200 {object} DismissAllResponse
// @Router /notifications [delete]
func (h *NotificationsHandler) DismissAll(c echo.Context) error {
	n, err := h.feed.DismissAll(c.Request().Context())
	if err != nil {
		return feedError(err)
	}
	return c.JSON(http.StatusOK, DismissAllResponse{Dismissed: n})
}

// Status godoc
// @Summary Session status
// @Description Live channel state, active bid, and poll health
// @Tags status
// @Success 200 {object} engine.Status
// @Router /status [get]
func (h *NotificationsHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.feed.Status())
}
