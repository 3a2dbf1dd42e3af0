// Package supervisor owns the shard handles: it constructs and connects
// one gateway client per shard id, strictly sequentially, and keeps the
// guild-count gauge fresh on a fixed polling cadence.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/polaris-labs/gatewarden/internal/metrics"
)

// DefaultPollInterval is the guild-count polling cadence when none is
// configured.
const DefaultPollInterval = 15 * time.Second

// Shard is the supervisor's view of a connected gateway client.
type Shard interface {
	ID() int
	GuildCount(ctx context.Context) (int, error)
	Close() error
}

// ConnectFunc builds and connects the client for one shard id. It must
// not return until the shard is ready (or failed).
type ConnectFunc func(ctx context.Context, shardID int) (Shard, error)

// Config configures a Supervisor.
type Config struct {
	// ShardCount is the number of shards to bring up (>= 1).
	ShardCount int

	// PollInterval is the guild-count polling cadence.
	// Default: DefaultPollInterval.
	PollInterval time.Duration

	// Logger receives lifecycle and polling logs.
	Logger zerolog.Logger

	// Metrics receives the polled guild totals.
	Metrics *metrics.Registry

	// Connect establishes one shard. Required.
	Connect ConnectFunc
}

// Supervisor holds the ordered shard handles. Handles are created by
// Start and persist for the process lifetime; the slice is never
// mutated afterwards.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger
	shards []Shard
}

// New validates the configuration and returns an unstarted Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.ShardCount < 1 {
		return nil, fmt.Errorf("supervisor: shard count must be >= 1, got %d", cfg.ShardCount)
	}
	if cfg.Connect == nil {
		return nil, errors.New("supervisor: connect function is required")
	}
	if cfg.Metrics == nil {
		return nil, errors.New("supervisor: metrics registry is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "supervisor").Logger(),
	}, nil
}

// Start connects shards 0..ShardCount-1 strictly sequentially: shard n+1
// is not dialed until shard n is ready. Any connect failure aborts
// startup; already-connected shards are closed and the error propagates
// so the process can exit.
func (s *Supervisor) Start(ctx context.Context) error {
	for id := 0; id < s.cfg.ShardCount; id++ {
		s.logger.Info().Int("shard", id).Int("total", s.cfg.ShardCount).Msg("connecting shard")

		shard, err := s.cfg.Connect(ctx, id)
		if err != nil {
			_ = s.Close()
			return fmt.Errorf("supervisor: connect shard %d: %w", id, err)
		}

		s.shards = append(s.shards, shard)
		s.logger.Info().Int("shard", id).Msg("shard connected")
	}
	return nil
}

// Shards returns the ordered shard handles.
func (s *Supervisor) Shards() []Shard {
	return s.shards
}

// PollGuildCounts queries every shard concurrently, waits for all
// results, and publishes the sum to the gauge. Waiting for every query
// before summing keeps the gauge from under-reporting mid-poll.
func (s *Supervisor) PollGuildCounts(ctx context.Context) (int, error) {
	counts := make([]int, len(s.shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range s.shards {
		g.Go(func() error {
			n, err := shard.GuildCount(gctx)
			if err != nil {
				return fmt.Errorf("supervisor: guild count of shard %d: %w", shard.ID(), err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	s.cfg.Metrics.SetGuildCount(total)
	return total, nil
}

// RunGuildPoller polls on the configured cadence until ctx is done. A
// failed poll is logged and skipped; the previous gauge value stands
// until the next successful poll.
func (s *Supervisor) RunGuildPoller(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
		total, err := s.PollGuildCounts(pollCtx)
		cancel()

		if err != nil {
			s.logger.Warn().Err(err).Msg("guild count poll failed")
			continue
		}
		s.logger.Debug().Int("guilds", total).Msg("guild count polled")
	}
}

// Close shuts down every connected shard in order.
func (s *Supervisor) Close() error {
	var errs []error
	for _, shard := range s.shards {
		if err := shard.Close(); err != nil {
			errs = append(errs, fmt.Errorf("supervisor: close shard %d: %w", shard.ID(), err))
		}
	}
	return errors.Join(errs...)
}
