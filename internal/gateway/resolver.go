package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
)

// DefaultAPIBaseURL is the Discord REST API used to resolve the gateway
// websocket URL and the recommended shard count.
const DefaultAPIBaseURL = "https://discord.com/api/v10"

// GatewayInfo is the response of GET /gateway/bot.
type GatewayInfo struct {
	URL    string `json:"url"`
	Shards int    `json:"shards"`
}

// Resolver fetches gateway connection info over REST. The zero value is
// not usable; construct with NewResolver.
type Resolver struct {
	baseURL string
	client  *http.Client
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithAPIBaseURL overrides the REST endpoint, used by tests.
func WithAPIBaseURL(url string) ResolverOption {
	return func(r *Resolver) { r.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// NewResolver builds a Resolver against the public Discord API.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		baseURL: DefaultAPIBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GatewayBot resolves the websocket URL and recommended shard count for
// the authenticated bot. Transient failures (network errors, 5xx, 429)
// are retried with exponential backoff; an auth failure is permanent.
func (r *Resolver) GatewayBot(ctx context.Context, token string) (GatewayInfo, error) {
	operation := func() (GatewayInfo, error) {
		return r.fetch(ctx, token)
	}

	info, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(time.Minute),
	)
	if err != nil {
		return GatewayInfo{}, err
	}
	return info, nil
}

func (r *Resolver) fetch(ctx context.Context, token string) (GatewayInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/gateway/bot", nil)
	if err != nil {
		return GatewayInfo{}, backoff.Permanent(fmt.Errorf("gateway: build request: %w", err))
	}
	req.Header.Set("Authorization", "Bot "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return GatewayInfo{}, fmt.Errorf("gateway: resolve gateway url: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return GatewayInfo{}, backoff.Permanent(fmt.Errorf("gateway: token rejected (status %d)", resp.StatusCode))
	default:
		return GatewayInfo{}, fmt.Errorf("gateway: unexpected status %d from gateway/bot", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayInfo{}, fmt.Errorf("gateway: read gateway/bot response: %w", err)
	}

	var info GatewayInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return GatewayInfo{}, fmt.Errorf("gateway: decode gateway/bot response: %w", err)
	}
	if info.URL == "" {
		return GatewayInfo{}, backoff.Permanent(fmt.Errorf("gateway: gateway/bot returned empty url"))
	}
	return info, nil
}
