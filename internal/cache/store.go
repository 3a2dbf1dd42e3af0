// Package cache mirrors gateway state into Redis.
//
// Key layout:
//
//	guild:<id>            JSON guild projection
//	guild:<id>:channels   set of channel ids
//	channel:<id>          JSON channel projection
//	shard:<n>:guilds      set of guild ids owned by shard n
//
// Every issued command reports its name through the command hook, which
// feeds the cache-command counter.
package cache

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/polaris-labs/gatewarden/internal/discord"
)

// Store wraps a Redis client with the mirror operations the gateway
// clients need. Safe for concurrent use.
type Store struct {
	client    redis.UniversalClient
	onCommand func(name string)
}

// Option configures a Store.
type Option func(*Store)

// WithCommandHook registers a callback invoked with the Redis command
// name each time the store issues one.
func WithCommandHook(fn func(name string)) Option {
	return func(s *Store) {
		s.onCommand = fn
	}
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, addr, password string, opts ...Option) (*Store, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
	})

	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect to redis at %s: %w", addr, err)
	}
	return s, nil
}

// NewWithClient wraps an existing Redis client. Used by tests backed by
// miniredis.
func NewWithClient(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) observe(command string) {
	if s.onCommand != nil {
		s.onCommand(command)
	}
}

// Ping verifies the connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	s.observe("ping")
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// PutGuild stores the guild projection and its channel memberships.
func (s *Store) PutGuild(ctx context.Context, g discord.Guild) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("cache: marshal guild %s: %w", g.ID, err)
	}

	s.observe("set")
	if err := s.client.Set(ctx, guildKey(g.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("cache: store guild %s: %w", g.ID, err)
	}

	for _, ch := range g.Channels {
		if err := s.PutChannel(ctx, g.ID, ch); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGuild removes the guild projection, its channel set, and every
// channel belonging to it.
func (s *Store) DeleteGuild(ctx context.Context, guildID string) error {
	s.observe("smembers")
	channelIDs, err := s.client.SMembers(ctx, guildChannelsKey(guildID)).Result()
	if err != nil {
		return fmt.Errorf("cache: list channels of guild %s: %w", guildID, err)
	}

	keys := make([]string, 0, len(channelIDs)+2)
	for _, id := range channelIDs {
		keys = append(keys, channelKey(id))
	}
	keys = append(keys, guildChannelsKey(guildID), guildKey(guildID))

	s.observe("del")
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete guild %s: %w", guildID, err)
	}
	return nil
}

// PutChannel stores the channel projection and records its membership in
// the guild's channel set.
func (s *Store) PutChannel(ctx context.Context, guildID string, ch discord.Channel) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("cache: marshal channel %s: %w", ch.ID, err)
	}

	s.observe("set")
	if err := s.client.Set(ctx, channelKey(ch.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("cache: store channel %s: %w", ch.ID, err)
	}

	s.observe("sadd")
	if err := s.client.SAdd(ctx, guildChannelsKey(guildID), ch.ID).Err(); err != nil {
		return fmt.Errorf("cache: index channel %s: %w", ch.ID, err)
	}
	return nil
}

// DeleteChannel removes the channel projection and its set membership.
func (s *Store) DeleteChannel(ctx context.Context, guildID, channelID string) error {
	s.observe("srem")
	if err := s.client.SRem(ctx, guildChannelsKey(guildID), channelID).Err(); err != nil {
		return fmt.Errorf("cache: unindex channel %s: %w", channelID, err)
	}

	s.observe("del")
	if err := s.client.Del(ctx, channelKey(channelID)).Err(); err != nil {
		return fmt.Errorf("cache: delete channel %s: %w", channelID, err)
	}
	return nil
}

// SetShardGuilds replaces the guild-id set owned by a shard. Called on
// READY with the initial guild list.
func (s *Store) SetShardGuilds(ctx context.Context, shardID int, guildIDs []string) error {
	key := shardGuildsKey(shardID)

	s.observe("del")
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: reset shard %d guild set: %w", shardID, err)
	}
	if len(guildIDs) == 0 {
		return nil
	}

	members := make([]interface{}, len(guildIDs))
	for i, id := range guildIDs {
		members[i] = id
	}
	s.observe("sadd")
	if err := s.client.SAdd(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("cache: store shard %d guild set: %w", shardID, err)
	}
	return nil
}

// AddShardGuild records a single guild joining a shard.
func (s *Store) AddShardGuild(ctx context.Context, shardID int, guildID string) error {
	s.observe("sadd")
	if err := s.client.SAdd(ctx, shardGuildsKey(shardID), guildID).Err(); err != nil {
		return fmt.Errorf("cache: add guild %s to shard %d: %w", guildID, shardID, err)
	}
	return nil
}

// RemoveShardGuild records a guild leaving a shard.
func (s *Store) RemoveShardGuild(ctx context.Context, shardID int, guildID string) error {
	s.observe("srem")
	if err := s.client.SRem(ctx, shardGuildsKey(shardID), guildID).Err(); err != nil {
		return fmt.Errorf("cache: remove guild %s from shard %d: %w", guildID, shardID, err)
	}
	return nil
}

// GuildCount returns the number of guilds currently owned by a shard.
func (s *Store) GuildCount(ctx context.Context, shardID int) (int, error) {
	s.observe("scard")
	n, err := s.client.SCard(ctx, shardGuildsKey(shardID)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: count guilds of shard %d: %w", shardID, err)
	}
	return int(n), nil
}

// Guild loads a cached guild projection. Returns redis.Nil via the
// wrapped error when the guild is not cached.
func (s *Store) Guild(ctx context.Context, guildID string) (discord.Guild, error) {
	s.observe("get")
	data, err := s.client.Get(ctx, guildKey(guildID)).Bytes()
	if err != nil {
		return discord.Guild{}, fmt.Errorf("cache: load guild %s: %w", guildID, err)
	}

	var g discord.Guild
	if err := json.Unmarshal(data, &g); err != nil {
		return discord.Guild{}, fmt.Errorf("cache: decode guild %s: %w", guildID, err)
	}
	return g, nil
}

func guildKey(id string) string         { return "guild:" + id }
func guildChannelsKey(id string) string { return "guild:" + id + ":channels" }
func channelKey(id string) string       { return "channel:" + id }
func shardGuildsKey(n int) string       { return fmt.Sprintf("shard:%d:guilds", n) }
