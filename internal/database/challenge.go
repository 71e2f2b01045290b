package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inhouseleague/ihl/internal/models"
)

// CreateChallenge records a 1v1 agreement between two players.
func CreateChallenge(ctx context.Context, giverID, recipientID uuid.UUID) (*models.Challenge, error) {
	id, _ := uuid.NewV7()
	c := &models.Challenge{ID: id, GiverID: giverID, RecipientID: recipientID}
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO challenges (id, giver_id, recipient_id, accepted)
			VALUES ($1, $2, $3, false)`,
			c.ID, c.GiverID, c.RecipientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetChallengeBetween returns the pending challenge between two players in
// either direction, or pgx.ErrNoRows.
func GetChallengeBetween(ctx context.Context, a, b uuid.UUID) (*models.Challenge, error) {
	var c models.Challenge
	q := `
	SELECT id, giver_id, recipient_id, accepted
	FROM challenges
	WHERE (giver_id = $1 AND recipient_id = $2)
	   OR (giver_id = $2 AND recipient_id = $1)
	LIMIT 1
	`
	err := DB.QueryRow(ctx, q, a, b).Scan(&c.ID, &c.GiverID, &c.RecipientID, &c.Accepted)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChallengeStore is the invalidation collaborator handed to the lobby
// handlers: entering a ready check voids any challenge between the two
// players.
type ChallengeStore struct{}

func (ChallengeStore) InvalidateBetween(ctx context.Context, a, b uuid.UUID) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM challenges
			WHERE (giver_id = $1 AND recipient_id = $2)
			   OR (giver_id = $2 AND recipient_id = $1)`,
			a, b)
		return err
	})
}
