package models

import "github.com/google/uuid"

// BotStatus enumerates the lifecycle of a game-client automation account.
type BotStatus string

const (
	BotStatusFree     BotStatus = "free"
	BotStatusAssigned BotStatus = "assigned"
	// BotStatusFailed marks a bot whose last session start failed; it stays
	// out of the pool until an operator re-enables it.
	BotStatusFailed BotStatus = "failed"
)

// Bot represents a row in the bots table: one steam account able to host a
// lobby in the game client.
type Bot struct {
	ID          uuid.UUID `json:"id"`
	SteamID     string    `json:"steam_id"`
	AccountName string    `json:"account_name"`
	DisplayName string    `json:"display_name"`
	Status      BotStatus `json:"status"`

	// LobbyID is the owning lobby while Status == assigned, uuid.Nil otherwise.
	LobbyID uuid.UUID `json:"lobby_id,omitempty"`
}
