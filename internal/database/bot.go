package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inhouseleague/ihl/internal/models"
)

// ListBots returns every registered bot; the pool allocator is seeded from
// this at startup.
func ListBots(ctx context.Context) ([]models.Bot, error) {
	rows, err := DB.Query(ctx, `
		SELECT id, steam_id, account_name, display_name, status,
		       COALESCE(lobby_id, '00000000-0000-0000-0000-000000000000')
		FROM bots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []models.Bot
	for rows.Next() {
		var b models.Bot
		var status string
		if err := rows.Scan(&b.ID, &b.SteamID, &b.AccountName, &b.DisplayName, &status, &b.LobbyID); err != nil {
			return nil, err
		}
		b.Status = models.BotStatus(status)
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// FindOrCreateBot registers a bot account if the steam id is new, returning
// the stored record either way.
func FindOrCreateBot(ctx context.Context, steamID, accountName, displayName string) (models.Bot, error) {
	b := models.Bot{
		SteamID:     steamID,
		AccountName: accountName,
		DisplayName: displayName,
		Status:      models.BotStatusFree,
	}

	err := DB.QueryRow(ctx, `
		SELECT id, steam_id, account_name, display_name, status
		FROM bots WHERE steam_id = $1`, steamID).
		Scan(&b.ID, &b.SteamID, &b.AccountName, &b.DisplayName, &b.Status)
	if err == nil {
		return b, nil
	}
	if err != pgx.ErrNoRows {
		return models.Bot{}, err
	}

	id, _ := uuid.NewV7()
	b.ID = id
	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bots (id, steam_id, account_name, display_name, status)
			VALUES ($1, $2, $3, $4, $5)`,
			b.ID, b.SteamID, b.AccountName, b.DisplayName, string(b.Status))
		return err
	})
	if err != nil {
		return models.Bot{}, err
	}
	return b, nil
}

// BotRegistry mirrors the pool allocator's status flips into the bots table.
type BotRegistry struct{}

func (BotRegistry) MarkBotAssigned(ctx context.Context, botID, lobbyID uuid.UUID) error {
	return setBotStatus(ctx, botID, models.BotStatusAssigned, &lobbyID)
}

func (BotRegistry) MarkBotFree(ctx context.Context, botID uuid.UUID) error {
	return setBotStatus(ctx, botID, models.BotStatusFree, nil)
}

func (BotRegistry) MarkBotFailed(ctx context.Context, botID uuid.UUID) error {
	return setBotStatus(ctx, botID, models.BotStatusFailed, nil)
}

func setBotStatus(ctx context.Context, botID uuid.UUID, status models.BotStatus, lobbyID *uuid.UUID) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE bots SET status = $2, lobby_id = $3 WHERE id = $1`,
			botID, string(status), lobbyID)
		return err
	})
}
