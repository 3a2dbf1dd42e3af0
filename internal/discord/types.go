// Package discord holds the subset of Discord entities this process
// mirrors into the cache. Fields not needed by cache consumers are
// deliberately omitted; the raw dispatch payload carries far more.
package discord

// Guild is the cached projection of a Discord guild.
type Guild struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	MemberCount int       `json:"member_count,omitempty"`
	Unavailable bool      `json:"unavailable,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
}

// Channel is the cached projection of a guild channel.
type Channel struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     int    `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	Position int    `json:"position,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// UnavailableGuild is the stub shape READY and GUILD_DELETE carry.
type UnavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable,omitempty"`
}
