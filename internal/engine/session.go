package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memohai/negosync/internal/channel"
	"github.com/memohai/negosync/internal/feedback"
	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/metrics"
	"github.com/memohai/negosync/internal/negotiation"
	"github.com/memohai/negosync/internal/notification"
	"github.com/memohai/negosync/internal/reconcile"
)

var channelStates = []string{
	string(channel.StateDisconnected),
	string(channel.StateConnecting),
	string(channel.StateConnected),
	string(channel.StateUnavailable),
}

// SessionConfig wires one session. Transport and Identity are required.
type SessionConfig struct {
	Identity      identity.Identity
	Transport     channel.Transport
	Channel       channel.Config
	ActiveBid     string
	PollEnabled   bool
	Poll          reconcile.Config
	PollOptions   []reconcile.Option
	Store         notification.Config
	SweepInterval time.Duration
	Dispatcher    feedback.Dispatcher
	Metrics       *metrics.Metrics
	Clock         func() time.Time
}

// Status is a snapshot of session health.
type Status struct {
	Identity      identity.Identity `json:"identity"`
	Channel       channel.State     `json:"channel"`
	ActiveBid     string            `json:"active_bid,omitempty"`
	Notifications int               `json:"notifications"`
	PollEnabled   bool              `json:"poll_enabled"`
	LastPoll      time.Time         `json:"last_poll,omitempty"`
	LastPollError string            `json:"last_poll_error,omitempty"`
}

// Session owns the store, engine loop, channel manager, and poller of one logged-in user.
// Sessions never share state.
type Session struct {
	logger   *slog.Logger
	id       identity.Identity
	engine   *Engine
	manager  *channel.Manager
	poller   *reconcile.Poller
	polling  bool
	metrics  *metrics.Metrics
	watchers sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu          sync.Mutex
	lastPoll    time.Time
	lastPollErr string
	closed      bool
}

// StartSession builds and starts every component of a session.
func StartSession(ctx context.Context, log *slog.Logger, cfg SessionConfig) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	m := cfg.Metrics

	store := notification.NewStore(cfg.Store,
		notification.WithClock(now),
		notification.WithRemoveHook(func(_ notification.Notification, reason notification.RemoveReason) {
			m.Removed(string(reason))
		}))
	normalizer := negotiation.NewNormalizer(negotiation.WithClock(now))
	eng := New(log, cfg.Identity, store, cfg.Dispatcher,
		WithNormalizer(normalizer),
		WithMetrics(m),
		WithSweepInterval(cfg.SweepInterval))

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		logger:  log.With(slog.String("component", "session"), slog.String("user_id", cfg.Identity.ID)),
		id:      cfg.Identity,
		engine:  eng,
		polling: cfg.PollEnabled,
		metrics: m,
		ctx:     sessionCtx,
		cancel:  cancel,
	}
	go func() {
		if err := eng.Run(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("engine loop stopped", slog.Any("error", err))
		}
	}()

	pollOpts := append([]reconcile.Option{
		reconcile.WithClock(now),
		reconcile.WithObserver(s.observePoll),
	}, cfg.PollOptions...)
	s.poller = reconcile.NewPoller(log, cfg.Poll, normalizer, store, eng.IngestPolled, pollOpts...)

	s.manager = channel.NewManager(log, cfg.Transport, cfg.Channel)
	_, statuses, _ := s.manager.Subscribe(channel.DefaultStatusBuffer)
	s.watchers.Add(1)
	go s.watchChannel(statuses)

	if cfg.ActiveBid != "" {
		_ = s.manager.SetActiveBid(ctx, cfg.ActiveBid)
	}
	if cfg.PollEnabled {
		if err := s.poller.Start(ctx, cfg.Identity); err != nil {
			s.abort(ctx)
			return nil, fmt.Errorf("start poller: %w", err)
		}
	}
	if err := s.manager.Start(ctx, cfg.Identity, eng.HandleRaw); err != nil {
		s.abort(ctx)
		return nil, fmt.Errorf("start channel: %w", err)
	}
	s.logger.Info("session started", slog.String("role", cfg.Identity.Role.String()))
	return s, nil
}

// Engine returns the session event loop.
func (s *Session) Engine() *Engine {
	return s.engine
}

// Notifications returns the active feed.
func (s *Session) Notifications(ctx context.Context) ([]notification.Notification, error) {
	return s.engine.Notifications(ctx)
}

// Dismiss removes one notification.
func (s *Session) Dismiss(ctx context.Context, id string) (bool, error) {
	return s.engine.Dismiss(ctx, id)
}

// DismissAll clears the feed.
func (s *Session) DismissAll(ctx context.Context) (int, error) {
	return s.engine.DismissAll(ctx)
}

// SetActiveBid switches the bid-scoped room.
func (s *Session) SetActiveBid(ctx context.Context, bidID string) error {
	return s.manager.SetActiveBid(ctx, bidID)
}

// PollNow runs one reconciliation poll immediately.
func (s *Session) PollNow(ctx context.Context) (reconcile.Result, error) {
	return s.poller.PollOnce(ctx)
}

// Status returns a health snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Identity:      s.id,
		Channel:       s.manager.Status(),
		ActiveBid:     s.manager.ActiveBid(),
		Notifications: s.engine.Store().Len(),
		PollEnabled:   s.polling,
		LastPoll:      s.lastPoll,
		LastPollError: s.lastPollErr,
	}
}

// Close tears the session down: the poller stops first, then the channel manager unsubscribes
// every alias and leaves its rooms, and finally the loop stops so nothing mutates the store.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	var errs []error
	if err := s.poller.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}
	if err := s.manager.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop channel: %w", err))
	}
	s.engine.Stop()
	select {
	case <-s.engine.Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	s.watchers.Wait()
	s.logger.Info("session closed")
	return errors.Join(errs...)
}

func (s *Session) abort(ctx context.Context) {
	s.cancel()
	_ = s.poller.Stop(ctx)
	_ = s.manager.Stop(ctx)
	s.engine.Stop()
	s.watchers.Wait()
}

// watchChannel mirrors channel state into metrics and starts an immediate poll when the live
// channel gives up.
func (s *Session) watchChannel(statuses <-chan channel.StatusEvent) {
	defer s.watchers.Done()
	for ev := range statuses {
		s.metrics.ChannelStateChanged(string(ev.State), channelStates...)
		if ev.State != channel.StateUnavailable {
			continue
		}
		s.logger.Warn("live channel unavailable, relying on polling", slog.String("error", ev.Error))
		if s.polling && s.ctx.Err() == nil {
			s.watchers.Add(1)
			go func() {
				defer s.watchers.Done()
				_, _ = s.poller.PollOnce(s.ctx)
			}()
		}
	}
}

func (s *Session) observePoll(result reconcile.Result, err error) {
	s.metrics.Polled(err == nil, result.Skipped)
	for i := 0; i < result.Malformed; i++ {
		s.metrics.Malformed(string(negotiation.OriginPoll))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastPollErr = err.Error()
		return
	}
	s.lastPoll = time.Now().UTC()
	s.lastPollErr = ""
}
