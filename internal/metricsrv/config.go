package metricsrv

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the metrics server configuration.
//
// Use DefaultConfig() to get an initialized configuration, then override
// fields as needed:
//
//	cfg := metricsrv.DefaultConfig()
//	cfg.Addr = "0.0.0.0:9100"
//	cfg.AuthToken = os.Getenv("METRICS_AUTH")
type Config struct {
	// Addr is the TCP address to listen on (default: ":9100").
	Addr string

	// AuthToken is the bearer credential required on the metrics route.
	// When empty the route is served without authentication.
	AuthToken string

	// ReadTimeout bounds reading the entire request including the body.
	// Default: 15s
	ReadTimeout time.Duration

	// ReadHeaderTimeout bounds reading the request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration

	// WriteTimeout bounds writing the response.
	// Default: 15s
	WriteTimeout time.Duration

	// IdleTimeout bounds keep-alive waits between requests.
	// Default: 60s
	IdleTimeout time.Duration

	// ShutdownTimeout is the maximum wait for in-flight scrapes to
	// finish during graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration

	// Logger receives lifecycle events and per-request debug logs.
	Logger zerolog.Logger

	// Handler serves the metric exposition. Required; set via
	// WithHandler().
	Handler http.Handler
}

// DefaultConfig returns a configuration with timeouts suited to a
// scrape-only endpoint.
func DefaultConfig() Config {
	return Config{
		Addr:              ":9100",
		Logger:            zerolog.New(os.Stderr).With().Timestamp().Logger(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}
