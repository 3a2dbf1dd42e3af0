// Package metrics owns the Prometheus instruments for the supervisor:
// a gauge for the total guild count and counters for observed gateway
// events and cache commands.
//
// All instruments live on a private registry so the exposition endpoint
// serves exactly what this process registered, nothing inherited from
// the default global registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatewarden"

// Registry bundles the process instruments. Increment/set operations are
// safe for concurrent use; exposition is pull-based and eventually
// consistent with instrument state.
type Registry struct {
	registry *prometheus.Registry

	guilds        prometheus.Gauge
	gatewayEvents *prometheus.CounterVec
	cacheCommands *prometheus.CounterVec
}

// NewRegistry creates the private registry with all instruments
// pre-registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		guilds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "guilds",
			Help:      "Current number of guilds visible across all shards.",
		}),
		gatewayEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_events_total",
			Help:      "Gateway dispatch events observed, by event type.",
		}, []string{"event"}),
		cacheCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_commands_total",
			Help:      "Cache commands issued against Redis, by command name.",
		}, []string{"command"}),
	}
}

// ObserveGatewayEvent increments the gateway event counter for the given
// dispatch type (e.g. "GUILD_CREATE").
func (r *Registry) ObserveGatewayEvent(event string) {
	r.gatewayEvents.WithLabelValues(event).Inc()
}

// ObserveCacheCommand increments the cache command counter for the given
// command name (e.g. "set", "srem").
func (r *Registry) ObserveCacheCommand(command string) {
	r.cacheCommands.WithLabelValues(command).Inc()
}

// SetGuildCount overwrites the guild gauge with the latest polled total.
func (r *Registry) SetGuildCount(n int) {
	r.guilds.Set(float64(n))
}

// Handler returns the Prometheus text exposition handler for the private
// registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
