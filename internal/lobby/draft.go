// internal/lobby/draft.go
package lobby

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDraftComplete    = errors.New("draft already complete")
	ErrNotCaptainsTurn  = errors.New("not this captain's turn to pick")
	ErrPlayerNotInLobby = errors.New("player is not in this lobby")
	ErrPlayerAssigned   = errors.New("player already has a faction")
)

// draftCursor returns the index into DraftOrder for the next pick: the number
// of faction assignments made so far beyond the two seated captains.
func (ls *LobbyState) draftCursor() int {
	assigned := 0
	for _, lp := range ls.Players {
		if lp.Faction != FactionNone {
			assigned++
		}
	}
	return assigned - 2
}

// NextPicker returns the captain whose turn it is to pick. ErrDraftComplete
// is returned once every rostered player has a faction or the draft order is
// exhausted.
func (ls *LobbyState) NextPicker() (uuid.UUID, error) {
	cur := ls.draftCursor()
	if cur < 0 || cur >= len(ls.DraftOrder) || ls.UnassignedCount() == 0 {
		return uuid.Nil, ErrDraftComplete
	}
	if ls.DraftOrder[cur] == 'A' {
		return ls.Captain1ID, nil
	}
	return ls.Captain2ID, nil
}

// ApplyPick assigns one unassigned player to the acting captain's faction,
// consuming one draft-order token. The pick arrives from the command layer
// between ticks; the DRAFTING_PLAYERS handler only observes the result.
func (ls *LobbyState) ApplyPick(captainID, playerID uuid.UUID) error {
	picker, err := ls.NextPicker()
	if err != nil {
		return err
	}
	if picker != captainID {
		return ErrNotCaptainsTurn
	}
	lp := ls.PlayerEntry(playerID)
	if lp == nil {
		return ErrPlayerNotInLobby
	}
	if lp.Faction != FactionNone {
		return ErrPlayerAssigned
	}
	if captainID == ls.Captain1ID {
		lp.Faction = Faction1
	} else {
		lp.Faction = Faction2
	}
	return nil
}
