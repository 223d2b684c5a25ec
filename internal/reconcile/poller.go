// Package reconcile pulls recent negotiation events over REST so updates missed by the live
// channel still reach the feed.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/negotiation"
)

// ErrPollFailed wraps every network, auth, or decode failure of a poll.
var ErrPollFailed = errors.New("poll failed")

// RecentPath is appended to the base URL.
const RecentPath = "/negotiations/recent"

// Coverage answers whether an event is already represented locally.
type Coverage interface {
	Covers(ev negotiation.Event) bool
}

// Sink receives the events a poll found missing, in response order.
type Sink func(ctx context.Context, events []negotiation.Event) error

// Result summarizes one poll.
type Result struct {
	Fetched   int
	Malformed int
	Skipped   int
	Submitted int
}

// Config configures the poller.
type Config struct {
	BaseURL  string
	Token    string
	Interval time.Duration
	Lookback time.Duration
	Timeout  time.Duration
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock overrides the time source used for the since window.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Poller) {
		if client != nil {
			p.client = client
		}
	}
}

// WithObserver is called after every poll, scheduled or explicit.
func WithObserver(fn func(Result, error)) Option {
	return func(p *Poller) {
		p.observe = fn
	}
}

// Poller fetches GET {base}/negotiations/recent on an interval while a session is active.
type Poller struct {
	cfg        Config
	client     *http.Client
	normalizer *negotiation.Normalizer
	coverage   Coverage
	sink       Sink
	logger     *slog.Logger
	now        func() time.Time
	observe    func(Result, error)

	pollMu sync.Mutex

	mu     sync.Mutex
	id     identity.Identity
	since  time.Time
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewPoller creates a stopped poller.
func NewPoller(log *slog.Logger, cfg Config, normalizer *negotiation.Normalizer, coverage Coverage, sink Sink, opts ...Option) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if normalizer == nil {
		normalizer = negotiation.NewNormalizer()
	}
	p := &Poller{
		cfg:        cfg,
		client:     NewHTTPClient(cfg.Timeout),
		normalizer: normalizer,
		coverage:   coverage,
		sink:       sink,
		logger:     log.With(slog.String("component", "reconcile")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewHTTPClient returns a client with bounded dial and handshake times.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Start schedules polls for id every Interval.
func (p *Poller) Start(ctx context.Context, id identity.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("reconcile: poller already started")
	}
	p.id = id
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := "@every " + p.cfg.Interval.String()
	if _, err := c.AddFunc(spec, func() { _, _ = p.PollOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule poll %q: %w", spec, err)
	}
	p.cron = c
	p.cancel = cancel
	c.Start()
	p.logger.Info("poller started", slog.Duration("interval", p.cfg.Interval))
	return nil
}

// Stop cancels the schedule and waits for an in-flight poll to finish or ctx to end.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	cancel := p.cancel
	p.cron = nil
	p.cancel = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Since returns the lower bound of the next poll window.
func (p *Poller) Since() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.since.IsZero() {
		return p.now().Add(-p.cfg.Lookback).UTC()
	}
	return p.since
}

// PollOnce fetches the window since the last successful poll and forwards every event the
// local store does not already cover. Failures are logged at debug and leave the window
// unchanged so the next tick retries it.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	result, err := p.poll(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPollFailed, err)
		p.logger.Debug("poll failed", slog.Any("error", err))
	} else if result.Submitted > 0 || result.Malformed > 0 {
		p.logger.Info("poll reconciled",
			slog.Int("fetched", result.Fetched),
			slog.Int("submitted", result.Submitted),
			slog.Int("skipped", result.Skipped),
			slog.Int("malformed", result.Malformed))
	}
	if p.observe != nil {
		p.observe(result, err)
	}
	return result, err
}

type recentResponse struct {
	Negotiations []json.RawMessage `json:"negotiations"`
}

func (p *Poller) poll(ctx context.Context) (Result, error) {
	p.mu.Lock()
	id := p.id
	p.mu.Unlock()
	if id.Validate() != nil {
		return Result{}, identity.ErrIdentityRequired
	}

	started := p.now().UTC()
	since := p.Since()
	items, err := p.fetch(ctx, id, since)
	if err != nil {
		return Result{}, err
	}

	result := Result{Fetched: len(items)}
	batch := make([]negotiation.Event, 0, len(items))
	for _, item := range items {
		raw, err := negotiation.DecodeRaw(item)
		if err != nil {
			result.Malformed++
			p.logger.Debug("undecodable poll item", slog.Any("error", err))
			continue
		}
		ev, err := p.normalizer.Normalize(raw, aliasOf(raw), negotiation.OriginPoll)
		if err != nil {
			result.Malformed++
			p.logger.Debug("dropping poll item", slog.Any("error", err))
			continue
		}
		if p.coverage != nil && p.coverage.Covers(ev) {
			result.Skipped++
			continue
		}
		batch = append(batch, ev)
	}
	if len(batch) > 0 && p.sink != nil {
		if err := p.sink(ctx, batch); err != nil {
			return result, err
		}
	}
	result.Submitted = len(batch)

	p.mu.Lock()
	p.since = started
	p.mu.Unlock()
	return result, nil
}

func (p *Poller) fetch(ctx context.Context, id identity.Identity, since time.Time) ([]json.RawMessage, error) {
	endpoint, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + RecentPath)
	if err != nil {
		return nil, fmt.Errorf("poll url: %w", err)
	}
	q := endpoint.Query()
	q.Set("since", since.Format(time.RFC3339))
	q.Set("userId", id.ID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token := strings.TrimSpace(strings.TrimPrefix(p.cfg.Token, "Bearer ")); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload recentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload.Negotiations, nil
}

// aliasOf lets poll items that name their originating alias get the same enrichment as live
// deliveries.
func aliasOf(raw negotiation.RawEvent) string {
	for _, key := range []string{"alias", "event", "eventType", "type"} {
		name, _ := raw[key].(string)
		if _, ok := negotiation.LookupProfile(name); ok {
			return name
		}
	}
	return negotiation.AliasPoll
}
