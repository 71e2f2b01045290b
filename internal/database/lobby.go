package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inhouseleague/ihl/internal/lobby"
)

// LobbyStore is the pgx-backed persistence collaborator handed to the
// orchestrator. Lobby rows and lobby_players rows are written together in
// one transaction so a half-saved transition can never be observed.
type LobbyStore struct{}

// SaveLobby upserts the lobby row and replaces its membership rows.
func (LobbyStore) SaveLobby(ctx context.Context, ls *lobby.LobbyState) error {
	q := `
	INSERT INTO lobbies (
		id, name, state, queue_type, draft_order,
		captain_1_id, captain_2_id, bot_id, ready_check_time
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		captain_1_id = EXCLUDED.captain_1_id,
		captain_2_id = EXCLUDED.captain_2_id,
		bot_id = EXCLUDED.bot_id,
		ready_check_time = EXCLUDED.ready_check_time
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			ls.ID,
			ls.Name,
			string(ls.State),
			string(ls.QueueType),
			ls.DraftOrder,
			nullableID(ls.Captain1ID),
			nullableID(ls.Captain2ID),
			nullableID(ls.BotID),
			nullableTime(ls.ReadyCheckTime),
		)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM lobby_players WHERE lobby_id = $1`, ls.ID); err != nil {
			return err
		}
		for _, lp := range ls.Players {
			_, err := tx.Exec(ctx, `
				INSERT INTO lobby_players (lobby_id, player_id, faction, ready)
				VALUES ($1, $2, $3, $4)`,
				ls.ID, lp.Player.ID, int(lp.Faction), lp.Ready,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadLobby fetches a lobby row plus its membership for startup recovery.
func LoadLobby(ctx context.Context, lobbyID uuid.UUID) (*lobby.LobbyState, error) {
	var ls lobby.LobbyState
	var captain1, captain2, botID *uuid.UUID
	var readyCheck *time.Time
	q := `
	SELECT id, name, state, queue_type, draft_order,
	       captain_1_id, captain_2_id, bot_id, ready_check_time
	FROM lobbies
	WHERE id = $1
	`
	err := DB.QueryRow(ctx, q, lobbyID).Scan(
		&ls.ID,
		&ls.Name,
		&ls.State,
		&ls.QueueType,
		&ls.DraftOrder,
		&captain1,
		&captain2,
		&botID,
		&readyCheck,
	)
	if err != nil {
		return nil, err
	}
	if readyCheck != nil {
		ls.ReadyCheckTime = *readyCheck
	}
	if captain1 != nil {
		ls.Captain1ID = *captain1
	}
	if captain2 != nil {
		ls.Captain2ID = *captain2
	}
	if botID != nil {
		ls.BotID = *botID
	}

	rows, err := DB.Query(ctx, `
		SELECT lp.player_id, lp.faction, lp.ready,
		       p.discord_id, p.nickname, p.rank_tier, p.rating, p.roles
		FROM lobby_players lp
		JOIN players p ON p.id = lp.player_id
		WHERE lp.lobby_id = $1`, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var lp lobby.LobbyPlayer
		var faction int
		if err := rows.Scan(
			&lp.Player.ID, &faction, &lp.Ready,
			&lp.Player.DiscordID, &lp.Player.Nickname,
			&lp.Player.RankTier, &lp.Player.Rating, &lp.Player.Roles,
		); err != nil {
			return nil, err
		}
		lp.Faction = lobby.Faction(faction)
		ls.Players = append(ls.Players, &lp)
	}
	return &ls, rows.Err()
}

// ActiveLobbyIDs lists lobbies that have not reached a terminal state.
func ActiveLobbyIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := DB.Query(ctx,
		`SELECT id FROM lobbies WHERE state NOT IN ($1, $2)`,
		string(lobby.StateCompleted), string(lobby.StateKilled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
