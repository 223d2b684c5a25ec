// Package cache keeps a bounded sqlite list of recently delivered negotiation messages for
// offline inspection. The live pipeline only writes to it.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memohai/negosync/db"
	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/negotiation"
	"github.com/memohai/negosync/internal/notification"
)

// DefaultMaxItems bounds the cache when no limit is configured.
const DefaultMaxItems = 50

// Entry is one cached delivery.
type Entry struct {
	Seq            int64         `json:"seq"`
	NotificationID string        `json:"notification_id"`
	EventID        string        `json:"event_id"`
	ThreadKey      string        `json:"thread_key"`
	ThreadID       string        `json:"thread_id,omitempty"`
	BidID          string        `json:"bid_id,omitempty"`
	LoadID         string        `json:"load_id,omitempty"`
	SenderID       string        `json:"sender_id"`
	SenderName     string        `json:"sender_name"`
	SenderRole     identity.Role `json:"sender_role"`
	Message        string        `json:"message"`
	Rate           *float64      `json:"rate,omitempty"`
	Origin         string        `json:"origin"`
	Alias          string        `json:"alias,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
	DeliveredAt    time.Time     `json:"delivered_at"`
}

// Cache is the sqlite-backed recent-message list.
type Cache struct {
	db     *sql.DB
	max    int
	logger *slog.Logger
}

// Open creates the cache file if needed, migrates it, and returns a handle.
func Open(ctx context.Context, log *slog.Logger, path string, maxItems int) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache dir: %w", err)
		}
	}
	logger := log.With(slog.String("component", "cache"))
	if err := RunMigrate(logger, path, db.MigrationsFS, db.MigrationsDir, "up", nil); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return &Cache{db: conn, max: maxItems, logger: logger}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Put records a delivered notification and trims the list to the configured bound.
func (c *Cache) Put(ctx context.Context, n notification.Notification) error {
	var rate sql.NullFloat64
	if n.Rate != nil {
		rate = sql.NullFloat64{Float64: *n.Rate, Valid: true}
	}
	delivered := n.CreatedAt
	if delivered.IsZero() {
		delivered = time.Now()
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO recent_messages
		(notification_id, event_id, thread_key, thread_id, bid_id, load_id, sender_id, sender_name,
		 sender_role, message, rate, origin, alias, occurred_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.EventID, n.Key().String(), n.ThreadID, n.BidID, n.LoadID, n.SenderID, n.SenderName,
		n.SenderRole.String(), n.Message, rate, string(n.Origin), n.Alias,
		n.OccurredAt.UTC().Format(time.RFC3339Nano), delivered.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("cache insert: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM recent_messages
		WHERE seq NOT IN (SELECT seq FROM recent_messages ORDER BY seq DESC LIMIT ?)`, c.max)
	if err != nil {
		return fmt.Errorf("cache trim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache commit: %w", err)
	}
	if trimmed, _ := res.RowsAffected(); trimmed > 0 {
		c.logger.Debug("cache trimmed", slog.Int64("rows", trimmed))
	}
	return nil
}

// Dispatch adapts Put to the feedback dispatcher boundary.
func (c *Cache) Dispatch(ctx context.Context, n notification.Notification) error {
	return c.Put(ctx, n)
}

// Recent returns up to limit entries, most recent first. A non-positive limit returns all.
func (c *Cache) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = c.max
	}
	rows, err := c.db.QueryContext(ctx, `SELECT seq, notification_id, event_id, thread_key, thread_id,
		bid_id, load_id, sender_id, sender_name, sender_role, message, rate, origin, alias,
		occurred_at, delivered_at
		FROM recent_messages ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("cache query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                     Entry
			role                  string
			rate                  sql.NullFloat64
			occurred, deliveredAt string
		)
		if err := rows.Scan(&e.Seq, &e.NotificationID, &e.EventID, &e.ThreadKey, &e.ThreadID,
			&e.BidID, &e.LoadID, &e.SenderID, &e.SenderName, &role, &e.Message, &rate, &e.Origin,
			&e.Alias, &occurred, &deliveredAt); err != nil {
			return nil, fmt.Errorf("cache scan: %w", err)
		}
		e.SenderRole = identity.Role(role)
		if rate.Valid {
			v := rate.Float64
			e.Rate = &v
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurred)
		e.DeliveredAt, _ = time.Parse(time.RFC3339Nano, deliveredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Notification rebuilds the notification view of a cached entry for rendering.
func (e Entry) Notification() notification.Notification {
	return notification.Notification{
		ID: e.NotificationID,
		Event: negotiation.Event{
			EventID:    e.EventID,
			ThreadID:   e.ThreadID,
			BidID:      e.BidID,
			LoadID:     e.LoadID,
			SenderID:   e.SenderID,
			SenderName: e.SenderName,
			SenderRole: e.SenderRole,
			Message:    e.Message,
			Rate:       e.Rate,
			OccurredAt: e.OccurredAt,
			Origin:     negotiation.Origin(e.Origin),
			Alias:      e.Alias,
		},
		CreatedAt: e.DeliveredAt,
	}
}
