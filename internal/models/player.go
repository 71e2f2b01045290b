package models

import "github.com/google/uuid"

// Player represents a row in the players table. Rank tier and rating are
// supplied by the upstream roster sync; this service never computes them.
type Player struct {
	ID        uuid.UUID `json:"id"`
	DiscordID string    `json:"discord_id"`
	Nickname  string    `json:"nickname"`
	Password  string    `json:"password,omitempty"`

	RankTier int `json:"rank_tier"`
	Rating   int `json:"rating"`

	// Roles holds the guild role names carried by the player, matched against
	// the configured captain role pattern during captain assignment.
	Roles []string `json:"roles"`

	IsAdmin bool `json:"is_admin"`
}
