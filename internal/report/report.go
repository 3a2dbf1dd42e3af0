// Package report forwards errors surfaced by the gateway packet handlers
// to an external error-tracking service.
//
// Reporting is best-effort: a failure to deliver never propagates back
// into the gateway loop.
package report

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter captures errors recovered at runtime. Implementations must be
// safe for concurrent use.
type Reporter interface {
	// CaptureException records err together with contextual tags such as
	// the shard id that observed it.
	CaptureException(err error, tags map[string]string)

	// Flush blocks until buffered events are delivered or the timeout
	// elapses. Called once during shutdown.
	Flush(timeout time.Duration)
}

// Nop returns a Reporter that discards everything. Used when SENTRY_DSN
// is not configured.
func Nop() Reporter { return nopReporter{} }

type nopReporter struct{}

func (nopReporter) CaptureException(error, map[string]string) {}
func (nopReporter) Flush(time.Duration)                       {}

// Sentry reports errors to a Sentry project through its own hub, keeping
// the package-global Sentry state untouched.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry builds a Sentry reporter for the given DSN.
func NewSentry(dsn, release string) (*Sentry, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return nil, fmt.Errorf("report: init sentry client: %w", err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		if len(tags) > 0 {
			scope.SetTags(tags)
		}
		s.hub.CaptureException(err)
	})
}

func (s *Sentry) Flush(timeout time.Duration) {
	s.hub.Flush(timeout)
}
