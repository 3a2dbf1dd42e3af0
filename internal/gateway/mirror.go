package gateway

import (
	"context"

	"github.com/polaris-labs/gatewarden/internal/discord"
)

// Mirror receives the guild and channel state observed on the gateway.
// The Redis-backed implementation lives in internal/cache; tests supply
// in-memory fakes.
type Mirror interface {
	PutGuild(ctx context.Context, g discord.Guild) error
	DeleteGuild(ctx context.Context, guildID string) error
	PutChannel(ctx context.Context, guildID string, ch discord.Channel) error
	DeleteChannel(ctx context.Context, guildID, channelID string) error
	SetShardGuilds(ctx context.Context, shardID int, guildIDs []string) error
	AddShardGuild(ctx context.Context, shardID int, guildID string) error
	RemoveShardGuild(ctx context.Context, shardID int, guildID string) error
}
