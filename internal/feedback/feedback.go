// Package feedback surfaces notifications to the user. The core only depends on Dispatcher;
// rendering technology lives behind it.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/memohai/negosync/internal/negotiation"
	"github.com/memohai/negosync/internal/notification"
)

// TagPrefix prefixes the per-thread tag of platform notices.
const TagPrefix = "negotiation:"

// Dispatcher receives every surfaced notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notification.Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n notification.Notification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, n notification.Notification) error {
	return f(ctx, n)
}

// PlatformNotice is the title/body/tag triple handed to a platform notification surface.
// Notices sharing a Tag replace each other instead of stacking.
type PlatformNotice struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// NoticeFor derives the platform notice for n.
func NoticeFor(n notification.Notification) PlatformNotice {
	title := n.SenderName
	if n.SenderRole != "" && n.SenderName != n.SenderRole.DefaultName() {
		title += " (" + n.SenderRole.String() + ")"
	}
	switch {
	case n.LoadID != "":
		title += " · load " + n.LoadID
	case n.BidID != "":
		title += " · bid " + n.BidID
	}

	body := n.Message
	if n.Rate != nil {
		rate := negotiation.FormatRate(*n.Rate)
		if !strings.Contains(body, rate) {
			if body == "" {
				body = rate
			} else {
				body += " · " + rate
			}
		}
	}
	return PlatformNotice{
		Title: title,
		Body:  body,
		Tag:   TagPrefix + n.Key().String(),
	}
}

// Multi fans a notification out to several dispatchers. Every dispatcher runs even if an
// earlier one fails.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, n notification.Notification) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log records notifications as structured log lines.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log dispatcher.
func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{logger: log.With(slog.String("component", "feedback"))}
}

func (l *Log) Dispatch(ctx context.Context, n notification.Notification) error {
	notice := NoticeFor(n)
	attrs := []any{
		slog.String("notification_id", n.ID),
		slog.String("event_id", n.EventID),
		slog.String("tag", notice.Tag),
		slog.String("sender", n.SenderName),
		slog.String("role", n.SenderRole.String()),
		slog.String("origin", string(n.Origin)),
	}
	if n.Rate != nil {
		attrs = append(attrs, slog.Float64("rate", *n.Rate))
	}
	l.logger.InfoContext(ctx, notice.Body, attrs...)
	return nil
}
