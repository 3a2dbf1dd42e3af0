package gateway

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/polaris-labs/gatewarden/internal/discord"
)

// Dispatch event types this client mirrors. Every dispatch, mirrored or
// not, still feeds the event counter through OnEvent.
const (
	eventReady         = "READY"
	eventGuildCreate   = "GUILD_CREATE"
	eventGuildUpdate   = "GUILD_UPDATE"
	eventGuildDelete   = "GUILD_DELETE"
	eventChannelCreate = "CHANNEL_CREATE"
	eventChannelUpdate = "CHANNEL_UPDATE"
	eventChannelDelete = "CHANNEL_DELETE"
)

// handleDispatch routes one op 0 frame. Handler errors are recovered:
// they go to OnError and the connection keeps reading.
func (c *Client) handleDispatch(ctx context.Context, eventType string, data []byte) {
	c.opts.OnEvent(eventType)

	var err error
	switch eventType {
	case eventReady:
		err = c.onReady(ctx, data)
	case eventGuildCreate:
		err = c.onGuildCreate(ctx, data)
	case eventGuildUpdate:
		err = c.onGuildUpdate(ctx, data)
	case eventGuildDelete:
		err = c.onGuildDelete(ctx, data)
	case eventChannelCreate, eventChannelUpdate:
		err = c.onChannelUpsert(ctx, data)
	case eventChannelDelete:
		err = c.onChannelDelete(ctx, data)
	default:
		// Unmirrored event; counted above, nothing to store.
	}

	if err != nil {
		c.opts.OnError(fmt.Errorf("gateway: shard %d handle %s: %w", c.opts.ShardID, eventType, err))
	}
}

func (c *Client) onReady(ctx context.Context, data []byte) error {
	var ready readyData
	if err := json.Unmarshal(data, &ready); err != nil {
		return fmt.Errorf("decode ready: %w", err)
	}

	guildIDs := make([]string, 0, len(ready.Guilds))
	c.stateMu.Lock()
	c.sessionID = ready.SessionID
	c.resumeURL = ready.ResumeGatewayURL
	c.guilds = make(map[string]struct{}, len(ready.Guilds))
	for _, g := range ready.Guilds {
		c.guilds[g.ID] = struct{}{}
		guildIDs = append(guildIDs, g.ID)
	}
	c.stateMu.Unlock()

	c.logger.Info().
		Int("guilds", len(guildIDs)).
		Str("session_id", ready.SessionID).
		Msg("shard ready")

	err := c.opts.Store.SetShardGuilds(ctx, c.opts.ShardID, guildIDs)

	// READY marks the shard connected even if the initial mirror write
	// failed; the failure is still reported by the caller.
	c.signalReady()
	return err
}

func (c *Client) onGuildCreate(ctx context.Context, data []byte) error {
	var g discord.Guild
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("decode guild: %w", err)
	}

	c.stateMu.Lock()
	c.guilds[g.ID] = struct{}{}
	c.stateMu.Unlock()

	if err := c.opts.Store.PutGuild(ctx, g); err != nil {
		return err
	}
	return c.opts.Store.AddShardGuild(ctx, c.opts.ShardID, g.ID)
}

func (c *Client) onGuildUpdate(ctx context.Context, data []byte) error {
	var g discord.Guild
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("decode guild: %w", err)
	}
	return c.opts.Store.PutGuild(ctx, g)
}

func (c *Client) onGuildDelete(ctx context.Context, data []byte) error {
	var g discord.UnavailableGuild
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("decode guild stub: %w", err)
	}

	// unavailable=true is an outage, not a removal: the guild still
	// belongs to this shard and stays cached.
	if g.Unavailable {
		return nil
	}

	c.stateMu.Lock()
	delete(c.guilds, g.ID)
	c.stateMu.Unlock()

	if err := c.opts.Store.DeleteGuild(ctx, g.ID); err != nil {
		return err
	}
	return c.opts.Store.RemoveShardGuild(ctx, c.opts.ShardID, g.ID)
}

func (c *Client) onChannelUpsert(ctx context.Context, data []byte) error {
	var ch discord.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return fmt.Errorf("decode channel: %w", err)
	}
	if ch.GuildID == "" {
		return nil // DM channels are not mirrored
	}
	return c.opts.Store.PutChannel(ctx, ch.GuildID, ch)
}

func (c *Client) onChannelDelete(ctx context.Context, data []byte) error {
	var ch discord.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return fmt.Errorf("decode channel: %w", err)
	}
	if ch.GuildID == "" {
		return nil
	}
	return c.opts.Store.DeleteChannel(ctx, ch.GuildID, ch.ID)
}
