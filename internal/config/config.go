// Package config loads and validates the process configuration from
// environment variables.
//
// All values are read exactly once at startup. Required variables abort
// startup with a descriptive error before any network connection is
// attempted; optional variables fall back to documented defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Environment variable names read by FromEnv.
const (
	EnvDiscordToken      = "DISCORD_TOKEN"
	EnvRedisHost         = "REDIS_HOST"
	EnvRedisPort         = "REDIS_PORT"
	EnvRedisPassword     = "REDIS_PASSWORD"
	EnvShardCount        = "SHARD_COUNT"
	EnvMetricsHost       = "METRICS_HOST"
	EnvMetricsPort       = "METRICS_PORT"
	EnvMetricsAuth       = "METRICS_AUTH"
	EnvLoggingLevel      = "LOGGING_LEVEL"
	EnvSentryDSN         = "SENTRY_DSN"
	EnvGuildPollInterval = "GUILD_POLL_INTERVAL"
)

// Defaults applied when the corresponding optional variable is unset.
const (
	DefaultLogLevel          = "info"
	DefaultShardCount        = 1
	DefaultGuildPollInterval = 15 * time.Second
)

// Config is the immutable runtime configuration, fully populated before
// any shard client is constructed and never mutated afterwards.
type Config struct {
	// Token authenticates against the Discord gateway.
	Token string

	// RedisHost and RedisPort locate the cache the gateway state is
	// mirrored into.
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// ShardCount is the number of gateway shards to supervise.
	ShardCount int

	// GuildPollInterval is the cadence of the guild-count poller.
	GuildPollInterval time.Duration

	// LogLevel is the zerolog level name ("debug", "info", ...).
	LogLevel string

	// SentryDSN enables error reporting when non-empty.
	SentryDSN string

	// Metrics configures the optional metrics HTTP server.
	Metrics MetricsConfig
}

// MetricsConfig describes the optional Prometheus exposition endpoint.
//
// The server is enabled only when both METRICS_HOST and METRICS_PORT are
// set. A malformed METRICS_PORT disables the server without failing the
// rest of the process.
type MetricsConfig struct {
	Enabled   bool
	Host      string
	Port      int
	AuthToken string
}

// RedisAddr returns the host:port address of the cache.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// Addr returns the listen address of the metrics server.
func (m MetricsConfig) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// FromEnv reads the full configuration from the process environment.
//
// Required: DISCORD_TOKEN, REDIS_HOST, REDIS_PORT (numeric, 1-65535).
// Everything else is optional. The returned error names the offending
// variable so operators can fix the deployment without reading code.
func FromEnv() (Config, error) {
	cfg := Config{
		LogLevel:          DefaultLogLevel,
		ShardCount:        DefaultShardCount,
		GuildPollInterval: DefaultGuildPollInterval,
	}

	cfg.Token = os.Getenv(EnvDiscordToken)
	if cfg.Token == "" {
		return Config{}, missingErr(EnvDiscordToken)
	}

	cfg.RedisHost = os.Getenv(EnvRedisHost)
	if cfg.RedisHost == "" {
		return Config{}, missingErr(EnvRedisHost)
	}

	port, err := requirePort(EnvRedisPort)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisPort = port
	cfg.RedisPassword = os.Getenv(EnvRedisPassword)

	if v := os.Getenv(EnvShardCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("config: %s must be a positive integer, got %q", EnvShardCount, v)
		}
		cfg.ShardCount = n
	}

	if v := os.Getenv(EnvGuildPollInterval); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 {
			return Config{}, fmt.Errorf("config: %s must be a positive number of seconds, got %q", EnvGuildPollInterval, v)
		}
		cfg.GuildPollInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvLoggingLevel); v != "" {
		cfg.LogLevel = v
	}
	cfg.SentryDSN = os.Getenv(EnvSentryDSN)
	cfg.Metrics = metricsFromEnv()

	return cfg, nil
}

// metricsFromEnv derives the metrics server configuration. Unlike the
// required variables, a bad METRICS_PORT only disables the endpoint:
// the gateway mirror keeps running without observability rather than
// crashing over it.
func metricsFromEnv() MetricsConfig {
	host := os.Getenv(EnvMetricsHost)
	portRaw := os.Getenv(EnvMetricsPort)
	if host == "" || portRaw == "" {
		return MetricsConfig{}
	}

	port, err := strconv.Atoi(portRaw)
	if err != nil || port < 1 || port > 65535 {
		return MetricsConfig{}
	}

	return MetricsConfig{
		Enabled:   true,
		Host:      host,
		Port:      port,
		AuthToken: os.Getenv(EnvMetricsAuth),
	}
}

func requirePort(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, missingErr(name)
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be numeric, got %q", name, v)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("config: %s must be in range 1-65535, got %d", name, port)
	}
	return port, nil
}

func missingErr(name string) error {
	return errors.New("config: required environment variable " + name + " is not set")
}
