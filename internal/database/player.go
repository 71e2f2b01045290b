package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inhouseleague/ihl/internal/models"
)

// CreatePlayer inserts a new player row. The password arrives already hashed.
func CreatePlayer(ctx context.Context, p *models.Player) error {
	q := `
	INSERT INTO players (id, discord_id, nickname, password, rank_tier, rating, roles, is_admin)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			p.ID, p.DiscordID, p.Nickname, p.Password,
			p.RankTier, p.Rating, p.Roles, p.IsAdmin)
		return err
	})
}

// GetPlayer fetches a player by id.
func GetPlayer(ctx context.Context, playerID uuid.UUID) (*models.Player, error) {
	var p models.Player
	q := `
	SELECT id, discord_id, nickname, rank_tier, rating, roles, is_admin
	FROM players
	WHERE id = $1
	`
	err := DB.QueryRow(ctx, q, playerID).Scan(
		&p.ID, &p.DiscordID, &p.Nickname, &p.RankTier, &p.Rating, &p.Roles, &p.IsAdmin)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayerByDiscordID fetches a player by discord id, password hash included
// (used by login).
func GetPlayerByDiscordID(ctx context.Context, discordID string) (*models.Player, error) {
	var p models.Player
	q := `
	SELECT id, discord_id, nickname, password, rank_tier, rating, roles, is_admin
	FROM players
	WHERE discord_id = $1
	`
	err := DB.QueryRow(ctx, q, discordID).Scan(
		&p.ID, &p.DiscordID, &p.Nickname, &p.Password,
		&p.RankTier, &p.Rating, &p.Roles, &p.IsAdmin)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePlayerSkill overwrites the externally supplied rank/rating attributes
// (called by the roster sync, never by the core).
func UpdatePlayerSkill(ctx context.Context, playerID uuid.UUID, rankTier, rating int) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE players SET rank_tier = $2, rating = $3 WHERE id = $1`,
			playerID, rankTier, rating)
		return err
	})
}
