package cache_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polaris-labs/gatewarden/internal/cache"
	"github.com/polaris-labs/gatewarden/internal/discord"
)

func newTestStore(t *testing.T, opts ...cache.Option) (*cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewWithClient(client, opts...), mr
}

func TestStore_GuildLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("given a guild with channels, when stored, then guild and channels are readable", func(t *testing.T) {
		t.Parallel()
		store, mr := newTestStore(t)

		g := discord.Guild{
			ID:      "100",
			Name:    "testing grounds",
			OwnerID: "7",
			Channels: []discord.Channel{
				{ID: "200", GuildID: "100", Name: "general", Type: 0},
				{ID: "201", GuildID: "100", Name: "voice", Type: 2},
			},
		}
		require.NoError(t, store.PutGuild(ctx, g))

		got, err := store.Guild(ctx, "100")
		require.NoError(t, err)
		assert.Equal(t, "testing grounds", got.Name)

		members, err := mr.SMembers("guild:100:channels")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"200", "201"}, members)
	})

	t.Run("given a stored guild, when deleted, then guild and channel keys are gone", func(t *testing.T) {
		t.Parallel()
		store, mr := newTestStore(t)

		g := discord.Guild{
			ID:       "100",
			Channels: []discord.Channel{{ID: "200", GuildID: "100"}},
		}
		require.NoError(t, store.PutGuild(ctx, g))
		require.NoError(t, store.DeleteGuild(ctx, "100"))

		assert.False(t, mr.Exists("guild:100"))
		assert.False(t, mr.Exists("guild:100:channels"))
		assert.False(t, mr.Exists("channel:200"))
	})

	t.Run("given a missing guild, when loaded, then the error wraps redis.Nil", func(t *testing.T) {
		t.Parallel()
		store, _ := newTestStore(t)

		_, err := store.Guild(ctx, "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, redis.Nil)
	})
}

func TestStore_Channels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("given a channel, when stored then deleted, then the index follows", func(t *testing.T) {
		t.Parallel()
		store, mr := newTestStore(t)

		ch := discord.Channel{ID: "300", GuildID: "100", Name: "ops"}
		require.NoError(t, store.PutChannel(ctx, "100", ch))
		assert.True(t, mr.Exists("channel:300"))

		require.NoError(t, store.DeleteChannel(ctx, "100", "300"))
		assert.False(t, mr.Exists("channel:300"))

		members, err := mr.SMembers("guild:100:channels")
		if err == nil {
			assert.NotContains(t, members, "300")
		}
	})
}

func TestStore_ShardGuilds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("given a shard guild set, when counted, then the cardinality matches", func(t *testing.T) {
		t.Parallel()
		store, _ := newTestStore(t)

		require.NoError(t, store.SetShardGuilds(ctx, 0, []string{"1", "2", "3"}))

		n, err := store.GuildCount(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("given add and remove, when counted, then membership reflects both", func(t *testing.T) {
		t.Parallel()
		store, _ := newTestStore(t)

		require.NoError(t, store.SetShardGuilds(ctx, 1, []string{"1"}))
		require.NoError(t, store.AddShardGuild(ctx, 1, "2"))
		require.NoError(t, store.RemoveShardGuild(ctx, 1, "1"))

		n, err := store.GuildCount(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("given an empty replacement set, when stored, then the count is zero", func(t *testing.T) {
		t.Parallel()
		store, _ := newTestStore(t)

		require.NoError(t, store.SetShardGuilds(ctx, 2, []string{"1", "2"}))
		require.NoError(t, store.SetShardGuilds(ctx, 2, nil))

		n, err := store.GuildCount(ctx, 2)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_CommandHook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("given a command hook, when operations run, then every command reports its name", func(t *testing.T) {
		t.Parallel()
		seen := make(map[string]int)
		store, _ := newTestStore(t, cache.WithCommandHook(func(name string) {
			seen[name]++
		}))

		require.NoError(t, store.PutChannel(ctx, "100", discord.Channel{ID: "1"}))
		require.NoError(t, store.DeleteChannel(ctx, "100", "1"))

		assert.Equal(t, 1, seen["set"])
		assert.Equal(t, 1, seen["sadd"])
		assert.Equal(t, 1, seen["srem"])
		assert.Equal(t, 1, seen["del"])
	})
}
