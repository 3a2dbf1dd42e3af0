package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/polaris-labs/gatewarden/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scrape serves one exposition request and returns the body.
func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRegistry_GuildGauge(t *testing.T) {
	t.Parallel()

	t.Run("given a fresh registry, when scraped, then the gauge is exposed at zero", func(t *testing.T) {
		t.Parallel()
		reg := metrics.NewRegistry()

		body := scrape(t, reg)
		assert.Contains(t, body, "gatewarden_guilds 0")
	})

	t.Run("given a polled total, when scraped, then the gauge holds the latest value", func(t *testing.T) {
		t.Parallel()
		reg := metrics.NewRegistry()

		reg.SetGuildCount(42)
		reg.SetGuildCount(17)

		body := scrape(t, reg)
		assert.Contains(t, body, "gatewarden_guilds 17")
	})
}

func TestRegistry_Counters(t *testing.T) {
	t.Parallel()

	t.Run("given observed gateway events, when scraped, then each invocation counts once", func(t *testing.T) {
		t.Parallel()
		reg := metrics.NewRegistry()

		reg.ObserveGatewayEvent("GUILD_CREATE")
		reg.ObserveGatewayEvent("GUILD_CREATE")
		reg.ObserveGatewayEvent("CHANNEL_DELETE")

		body := scrape(t, reg)
		assert.Contains(t, body, `gatewarden_gateway_events_total{event="GUILD_CREATE"} 2`)
		assert.Contains(t, body, `gatewarden_gateway_events_total{event="CHANNEL_DELETE"} 1`)
	})

	t.Run("given observed cache commands, when scraped, then each invocation counts once", func(t *testing.T) {
		t.Parallel()
		reg := metrics.NewRegistry()

		reg.ObserveCacheCommand("set")
		reg.ObserveCacheCommand("sadd")
		reg.ObserveCacheCommand("sadd")

		body := scrape(t, reg)
		assert.Contains(t, body, `gatewarden_cache_commands_total{command="set"} 1`)
		assert.Contains(t, body, `gatewarden_cache_commands_total{command="sadd"} 2`)
	})
}
