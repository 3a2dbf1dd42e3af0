package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-labs/gatewarden/internal/gateway"
)

func TestResolver_GatewayBot(t *testing.T) {
	t.Parallel()

	t.Run("given a healthy API, when resolved, then url and shard count are returned", func(t *testing.T) {
		t.Parallel()
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			assert.Equal(t, "/gateway/bot", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"url":"wss://gateway.discord.gg","shards":2}`))
		}))
		defer srv.Close()

		r := gateway.NewResolver(gateway.WithAPIBaseURL(srv.URL))
		info, err := r.GatewayBot(context.Background(), "tok")
		require.NoError(t, err)

		assert.Equal(t, "Bot tok", gotAuth)
		assert.Equal(t, "wss://gateway.discord.gg", info.URL)
		assert.Equal(t, 2, info.Shards)
	})

	t.Run("given transient 5xx responses, when resolved, then the call is retried until success", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"url":"wss://gateway.discord.gg","shards":1}`))
		}))
		defer srv.Close()

		r := gateway.NewResolver(gateway.WithAPIBaseURL(srv.URL))
		info, err := r.GatewayBot(context.Background(), "tok")
		require.NoError(t, err)

		assert.GreaterOrEqual(t, calls.Load(), int32(3))
		assert.Equal(t, "wss://gateway.discord.gg", info.URL)
	})

	t.Run("given a rejected token, when resolved, then the failure is permanent", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		r := gateway.NewResolver(gateway.WithAPIBaseURL(srv.URL))
		_, err := r.GatewayBot(context.Background(), "bad")
		require.Error(t, err)

		assert.ErrorContains(t, err, "token rejected")
		assert.Equal(t, int32(1), calls.Load())
	})
}
