package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/negosync/internal/cache"
	"github.com/memohai/negosync/internal/channel"
	"github.com/memohai/negosync/internal/config"
	"github.com/memohai/negosync/internal/engine"
	"github.com/memohai/negosync/internal/feedback"
	"github.com/memohai/negosync/internal/handlers"
	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/logger"
	"github.com/memohai/negosync/internal/metrics"
	"github.com/memohai/negosync/internal/notification"
	"github.com/memohai/negosync/internal/reconcile"
	"github.com/memohai/negosync/internal/server"
	"github.com/memohai/negosync/internal/version"
)

var activeBid string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a session: live channel, reconciliation poll, and local feed API",
	Args:  cobra.NoArgs,
	RunE:  runSession,
}

func init() {
	runCmd.Flags().StringVar(&activeBid, "bid", "", "bid negotiation room to join (overrides auth.active_bid)")
}

func runSession(_ *cobra.Command, _ []string) error {
	app := fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideIdentity,
			metrics.New,
			provideCache,
			provideDispatcher,
			provideTransport,
			provideSession,
			provideFeed,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewNotificationsHandler),
			provideServerHandler(provideMetricsHandler),

			provideServer,
		),
		fx.Invoke(
			startSession,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if activeBid != "" {
		cfg.Auth.ActiveBid = activeBid
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideIdentity(log *slog.Logger, cfg config.Config) (identity.Identity, error) {
	token := cfg.Auth.ResolveToken()
	if token == "" {
		return identity.Identity{}, fmt.Errorf("%w: no token configured", identity.ErrIdentityRequired)
	}
	return identity.NewResolver(log, cfg.Auth.JWTSecret).Resolve(token)
}

func provideCache(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	c, err := cache.Open(context.Background(), log, cfg.Cache.Path, cfg.Cache.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}

func provideDispatcher(log *slog.Logger, cfg config.Config, c *cache.Cache) feedback.Dispatcher {
	dispatchers := feedback.Multi{
		feedback.NewTerminal(os.Stdout, feedback.TerminalConfig{
			Sound:         cfg.Feedback.Sound,
			SoundInterval: cfg.Feedback.SoundInterval.Duration,
			Color:         cfg.Feedback.Color,
		}),
		feedback.NewLog(log),
	}
	if c != nil {
		dispatchers = append(dispatchers, c)
	}
	return dispatchers
}

func provideTransport(log *slog.Logger, cfg config.Config) channel.Transport {
	return channel.NewWebsocketTransport(log, channel.WebsocketConfig{
		URL:              cfg.Channel.URL,
		Token:            cfg.Auth.ResolveToken(),
		HandshakeTimeout: cfg.Channel.HandshakeTimeout.Duration,
	})
}

type sessionParams struct {
	fx.In

	Logger     *slog.Logger
	Config     config.Config
	Identity   identity.Identity
	Transport  channel.Transport
	Dispatcher feedback.Dispatcher
	Metrics    *metrics.Metrics
}

func provideSession(lc fx.Lifecycle, params sessionParams) (*engine.Session, error) {
	cfg := params.Config
	// The session outlives the fx start context, so it gets its own.
	session, err := engine.StartSession(context.Background(), params.Logger, engine.SessionConfig{
		Identity:  params.Identity,
		Transport: params.Transport,
		Channel: channel.Config{
			ReconnectAttempts: cfg.Channel.ReconnectAttempts,
			ReconnectDelay:    cfg.Channel.ReconnectDelay.Duration,
		},
		ActiveBid:   cfg.Auth.ActiveBid,
		PollEnabled: cfg.Poll.Enabled,
		Poll: reconcile.Config{
			BaseURL:  cfg.Poll.BaseURL,
			Token:    cfg.Auth.ResolveToken(),
			Interval: cfg.Poll.Interval.Duration,
			Lookback: cfg.Poll.Lookback.Duration,
			Timeout:  cfg.Poll.Timeout.Duration,
		},
		Store: notification.Config{
			TTL:      cfg.Notification.TTL.Duration,
			MaxItems: cfg.Notification.MaxItems,
			SeenTTL:  cfg.Notification.SeenTTL.Duration,
			SeenMax:  cfg.Notification.SeenMax,
		},
		SweepInterval: cfg.Notification.SweepInterval.Duration,
		Dispatcher:    params.Dispatcher,
		Metrics:       params.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return session.Close(ctx)
		},
	})
	return session, nil
}

func provideFeed(s *engine.Session) handlers.FeedService {
	return s
}

func provideMetricsHandler(m *metrics.Metrics) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(m.Handler())
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

// provideServer returns nil when the local API is disabled by an empty address.
func provideServer(params serverParams) *server.Server {
	if params.Config.Server.Addr == "" {
		return nil
	}
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startSession(lc fx.Lifecycle, logger *slog.Logger, session *engine.Session) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			status := session.Status()
			logger.Info("negotiation sync running",
				slog.String("user_id", status.Identity.ID),
				slog.String("role", status.Identity.Role.String()),
				slog.String("active_bid", status.ActiveBid),
				slog.Bool("poll_enabled", status.PollEnabled),
			)
			return nil
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting negosync %s\n", version.GetInfo())
	if srv == nil {
		logger.Info("local api disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
