// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultServerAddr        = "127.0.0.1:8090"
	DefaultChannelURL        = "ws://127.0.0.1:8080/socket"
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPollBaseURL       = "http://127.0.0.1:8080/api"
	DefaultPollInterval      = 30 * time.Second
	DefaultPollLookback      = 5 * time.Minute
	DefaultPollTimeout       = 10 * time.Second
	DefaultNotificationTTL   = 12 * time.Second
	DefaultNotificationMax   = 20
	DefaultSweepInterval     = time.Second
	DefaultSeenTTL           = 24 * time.Hour
	DefaultSeenMax           = 5000
	DefaultCachePath         = "data/negosync.db"
	DefaultCacheMaxItems     = 50
	DefaultSoundInterval     = 2 * time.Second
	DefaultTokenEnv          = "NEGOSYNC_TOKEN"
)

// Duration is a time.Duration that decodes from TOML strings such as "12s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log          LogConfig          `toml:"log"`
	Auth         AuthConfig         `toml:"auth"`
	Channel      ChannelConfig      `toml:"channel"`
	Poll         PollConfig         `toml:"poll"`
	Notification NotificationConfig `toml:"notification"`
	Cache        CacheConfig        `toml:"cache"`
	Feedback     FeedbackConfig     `toml:"feedback"`
	Server       ServerConfig       `toml:"server"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AuthConfig holds the bearer token handed over by the session subsystem.
// Token may be left empty and supplied through the TokenEnv environment variable.
// JWTSecret, when set, makes the identity resolver verify the token signature.
type AuthConfig struct {
	Token     string `toml:"token"`
	TokenEnv  string `toml:"token_env"`
	JWTSecret string `toml:"jwt_secret"`
	ActiveBid string `toml:"active_bid"`
}

// ResolveToken returns the configured token, falling back to the environment.
func (c AuthConfig) ResolveToken() string {
	if token := strings.TrimSpace(c.Token); token != "" {
		return token
	}
	name := strings.TrimSpace(c.TokenEnv)
	if name == "" {
		name = DefaultTokenEnv
	}
	return strings.TrimSpace(os.Getenv(name))
}

// ChannelConfig holds the live event channel endpoint and reconnect policy.
type ChannelConfig struct {
	URL               string   `toml:"url"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
}

// PollConfig holds the reconciliation endpoint and schedule.
type PollConfig struct {
	Enabled  bool     `toml:"enabled"`
	BaseURL  string   `toml:"base_url"`
	Interval Duration `toml:"interval"`
	Lookback Duration `toml:"lookback"`
	Timeout  Duration `toml:"timeout"`
}

// NotificationConfig bounds the in-memory notification feed.
type NotificationConfig struct {
	TTL           Duration `toml:"ttl"`
	MaxItems      int      `toml:"max_items"`
	SweepInterval Duration `toml:"sweep_interval"`
	SeenTTL       Duration `toml:"seen_ttl"`
	SeenMax       int      `toml:"seen_max"`
}

// CacheConfig holds the sqlite file for the recent-message cache.
type CacheConfig struct {
	Enabled  bool   `toml:"enabled"`
	Path     string `toml:"path"`
	MaxItems int    `toml:"max_items"`
}

// FeedbackConfig controls terminal rendering and the audible cue.
type FeedbackConfig struct {
	Sound         bool     `toml:"sound"`
	SoundInterval Duration `toml:"sound_interval"`
	Color         bool     `toml:"color"`
}

// ServerConfig holds the local feed API listen address. Empty disables the server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			TokenEnv: DefaultTokenEnv,
		},
		Channel: ChannelConfig{
			URL:               DefaultChannelURL,
			ReconnectAttempts: DefaultReconnectAttempts,
			ReconnectDelay:    Duration{DefaultReconnectDelay},
			HandshakeTimeout:  Duration{DefaultHandshakeTimeout},
		},
		Poll: PollConfig{
			Enabled:  true,
			BaseURL:  DefaultPollBaseURL,
			Interval: Duration{DefaultPollInterval},
			Lookback: Duration{DefaultPollLookback},
			Timeout:  Duration{DefaultPollTimeout},
		},
		Notification: NotificationConfig{
			TTL:           Duration{DefaultNotificationTTL},
			MaxItems:      DefaultNotificationMax,
			SweepInterval: Duration{DefaultSweepInterval},
			SeenTTL:       Duration{DefaultSeenTTL},
			SeenMax:       DefaultSeenMax,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Path:     DefaultCachePath,
			MaxItems: DefaultCacheMaxItems,
		},
		Feedback: FeedbackConfig{
			Sound:         true,
			SoundInterval: Duration{DefaultSoundInterval},
			Color:         true,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
	}
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors restores defaults for values a file zeroed out explicitly.
func (c *Config) applyFloors() {
	if c.Channel.ReconnectAttempts < 0 {
		c.Channel.ReconnectAttempts = 0
	}
	if c.Channel.ReconnectDelay.Duration <= 0 {
		c.Channel.ReconnectDelay.Duration = DefaultReconnectDelay
	}
	if c.Poll.Interval.Duration <= 0 {
		c.Poll.Interval.Duration = DefaultPollInterval
	}
	if c.Notification.TTL.Duration <= 0 {
		c.Notification.TTL.Duration = DefaultNotificationTTL
	}
	if c.Notification.MaxItems <= 0 {
		c.Notification.MaxItems = DefaultNotificationMax
	}
	if c.Notification.SweepInterval.Duration <= 0 {
		c.Notification.SweepInterval.Duration = DefaultSweepInterval
	}
	if c.Cache.MaxItems <= 0 {
		c.Cache.MaxItems = DefaultCacheMaxItems
	}
}
