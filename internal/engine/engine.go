// Package engine runs the negotiation pipeline on one goroutine: every inbound event, poll
// batch, dismissal, and sweep is a task executed to completion in submission order.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/memohai/negosync/internal/feedback"
	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/metrics"
	"github.com/memohai/negosync/internal/negotiation"
	"github.com/memohai/negosync/internal/notification"
	"github.com/memohai/negosync/internal/selforigin"
)

// ErrClosed is returned for work submitted after the engine stopped.
var ErrClosed = errors.New("engine closed")

// DefaultQueueSize is the task queue capacity.
const DefaultQueueSize = 256

// Task is one unit of work run on the engine goroutine.
type Task func(ctx context.Context)

// Option customizes an Engine.
type Option func(*Engine)

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *negotiation.Normalizer) Option {
	return func(e *Engine) {
		if n != nil {
			e.normalizer = n
		}
	}
}

// WithFilter replaces the default self-origin filter.
func WithFilter(f *selforigin.Filter) Option {
	return func(e *Engine) {
		if f != nil {
			e.filter = f
		}
	}
}

// WithMetrics reports pipeline activity to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSweepInterval sets how often expired notifications are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// WithQueueSize sets the task queue capacity.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// Engine owns the notification store for one session.
type Engine struct {
	logger        *slog.Logger
	id            identity.Identity
	store         *notification.Store
	dispatcher    feedback.Dispatcher
	normalizer    *negotiation.Normalizer
	filter        *selforigin.Filter
	metrics       *metrics.Metrics
	sweepInterval time.Duration
	queueSize     int

	tasks    chan Task
	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	runOnce  sync.Once
}

// New creates an engine for id. Run must be called to start processing.
func New(log *slog.Logger, id identity.Identity, store *notification.Store, dispatcher feedback.Dispatcher, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		logger:        log.With(slog.String("component", "engine")),
		id:            id,
		store:         store,
		dispatcher:    dispatcher,
		normalizer:    negotiation.NewNormalizer(),
		filter:        selforigin.NewFilter(),
		sweepInterval: time.Second,
		queueSize:     DefaultQueueSize,
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tasks = make(chan Task, e.queueSize)
	return e
}

// Store returns the session store. Callers outside the engine goroutine may only read it.
func (e *Engine) Store() *notification.Store {
	return e.store
}

// Run processes tasks until Stop is called or ctx ends. Queued tasks are discarded on exit.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("engine: Run called twice")
	}
	defer close(e.done)
	defer e.Stop()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopped:
			return nil
		case <-ticker.C:
			e.sweep()
		case task := <-e.tasks:
			select {
			case <-e.stopped:
				return nil
			default:
			}
			task(ctx)
		}
	}
}

// Stop ends the loop. No task runs after Stop returns from the loop's perspective.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Submit enqueues task. It blocks while the queue is full.
func (e *Engine) Submit(ctx context.Context, task Task) error {
	select {
	case <-e.stopped:
		return ErrClosed
	default:
	}
	select {
	case e.tasks <- task:
		return nil
	case <-e.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the engine goroutine and waits for its result.
func (e *Engine) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	if err := e.Submit(ctx, func(ctx context.Context) { result <- fn(ctx) }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// HandleRaw queues a live channel event. It matches channel.InboundHandler.
func (e *Engine) HandleRaw(alias string, raw negotiation.RawEvent) {
	err := e.Submit(context.Background(), func(ctx context.Context) {
		e.metrics.Received(alias, string(negotiation.OriginChannel))
		ev, err := e.normalizer.Normalize(raw, alias, negotiation.OriginChannel)
		if err != nil {
			e.metrics.Malformed(string(negotiation.OriginChannel))
			e.logger.Warn("dropping malformed event", slog.String("alias", alias), slog.Any("error", err))
			return
		}
		e.process(ctx, ev)
	})
	if err != nil {
		e.logger.Debug("channel event after close", slog.String("alias", alias))
	}
}

// IngestPolled queues a reconciliation batch as one task. It matches reconcile.Sink.
func (e *Engine) IngestPolled(ctx context.Context, events []negotiation.Event) error {
	return e.Submit(ctx, func(ctx context.Context) {
		for _, ev := range events {
			e.metrics.Received(ev.Alias, string(ev.Origin))
			e.process(ctx, ev)
		}
	})
}

// Notifications returns the active feed, most recent first.
func (e *Engine) Notifications(ctx context.Context) ([]notification.Notification, error) {
	var out []notification.Notification
	err := e.Do(ctx, func(context.Context) error {
		out = e.store.List()
		return nil
	})
	return out, err
}

// Dismiss removes one notification.
func (e *Engine) Dismiss(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := e.Do(ctx, func(context.Context) error {
		ok = e.store.Dismiss(id)
		e.metrics.Active(e.store.Len())
		return nil
	})
	return ok, err
}

// DismissAll clears the feed.
func (e *Engine) DismissAll(ctx context.Context) (int, error) {
	var n int
	err := e.Do(ctx, func(context.Context) error {
		n = e.store.DismissAll()
		e.metrics.Active(0)
		return nil
	})
	return n, err
}

// process runs filter, upsert, and feedback for one normalized event.
func (e *Engine) process(ctx context.Context, ev negotiation.Event) {
	if predicate := e.filter.Match(ev, e.id); predicate != "" {
		e.metrics.Suppressed(predicate)
		e.logger.Debug("suppressing own event",
			slog.String("event_id", ev.EventID),
			slog.String("predicate", predicate))
		return
	}
	n, outcome := e.store.Upsert(ev)
	e.metrics.Upserted(outcome.String(), e.store.Len())
	if !outcome.Surfaced() {
		e.logger.Debug("event not surfaced",
			slog.String("event_id", ev.EventID),
			slog.String("outcome", outcome.String()))
		return
	}
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Dispatch(ctx, n); err != nil {
		e.metrics.FeedbackFailed()
		e.logger.Warn("feedback dispatch failed", slog.String("notification_id", n.ID), slog.Any("error", err))
	}
}

func (e *Engine) sweep() {
	if removed := e.store.Sweep(); removed > 0 {
		e.metrics.Active(e.store.Len())
		e.logger.Debug("swept expired notifications", slog.Int("count", removed))
	}
}
