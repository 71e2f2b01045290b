// internal/lobby/state.go
package lobby

import (
	"time"

	"github.com/google/uuid"

	"github.com/inhouseleague/ihl/internal/config"
	"github.com/inhouseleague/ihl/internal/models"
)

// State enumerates every lobby lifecycle state. The set is closed: Handle
// switches exhaustively over it and anything else is an invariant violation.
type State string

const (
	StateNew               State = "STATE_NEW"
	StateWaitingForQueue   State = "STATE_WAITING_FOR_QUEUE"
	StateBeginReady        State = "STATE_BEGIN_READY"
	StateCheckingReady     State = "STATE_CHECKING_READY"
	StateAssigningCaptains State = "STATE_ASSIGNING_CAPTAINS"
	StateChoosingSide      State = "STATE_CHOOSING_SIDE"
	StateDraftingPlayers   State = "STATE_DRAFTING_PLAYERS"
	StateAutobalancing     State = "STATE_AUTOBALANCING"
	StateTeamsSelected     State = "STATE_TEAMS_SELECTED"
	StateWaitingForBot     State = "STATE_WAITING_FOR_BOT"
	StateBotAssigned       State = "STATE_BOT_ASSIGNED"
	StateBotFailed         State = "STATE_BOT_FAILED"
	StateMatchInProgress   State = "STATE_MATCH_IN_PROGRESS"
	StateMatchEnded        State = "STATE_MATCH_ENDED"
	StateCompleted         State = "STATE_COMPLETED"
	StateKilled            State = "STATE_KILLED"
)

// Terminal reports whether no further transitions leave the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateKilled
}

// QueueType selects how teams are formed once the ready check passes.
type QueueType string

const (
	QueueTypeAuto      QueueType = "QUEUE_TYPE_AUTO"
	QueueTypeDraft     QueueType = "QUEUE_TYPE_DRAFT"
	QueueTypeChallenge QueueType = "QUEUE_TYPE_CHALLENGE"
)

// Faction identifies a team within a lobby. Zero means unassigned.
type Faction int

const (
	FactionNone Faction = 0
	Faction1    Faction = 1
	Faction2    Faction = 2
)

// LobbyPlayer is a membership record linking a player to a lobby. The Player
// snapshot carries the externally supplied rank/rating/roles the handlers
// read; it is never written back to the roster service.
type LobbyPlayer struct {
	Player  models.Player `json:"player"`
	Faction Faction       `json:"faction"`
	Ready   bool          `json:"ready"`
}

// LobbyState is the central mutable entity, one per active lobby. Transition
// handlers treat it as a value: they clone, mutate the clone, and return it,
// so a failed persistence write leaves the committed state untouched.
type LobbyState struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	QueueType QueueType `json:"queue_type"`

	// DraftOrder is immutable for the lifetime of the lobby.
	DraftOrder string `json:"draft_order"`

	Captain1ID uuid.UUID `json:"captain_1_id,omitempty"`
	Captain2ID uuid.UUID `json:"captain_2_id,omitempty"`
	BotID      uuid.UUID `json:"bot_id,omitempty"`

	// ReadyCheckTime is zero until the ready check starts.
	ReadyCheckTime time.Time `json:"ready_check_time,omitempty"`

	Players []*LobbyPlayer `json:"players"`

	Config config.InhouseConfig `json:"-"`
}

// New creates a lobby in StateNew with the given queue type and settings.
func New(name string, queueType QueueType, cfg config.InhouseConfig) *LobbyState {
	id, _ := uuid.NewV7()
	return &LobbyState{
		ID:         id,
		Name:       name,
		State:      StateNew,
		QueueType:  queueType,
		DraftOrder: cfg.DraftOrder,
		Config:     cfg,
	}
}

// Clone returns a deep copy; the roster slice and its entries are duplicated.
func (ls *LobbyState) Clone() *LobbyState {
	dup := *ls
	dup.Players = make([]*LobbyPlayer, len(ls.Players))
	for i, lp := range ls.Players {
		cp := *lp
		dup.Players[i] = &cp
	}
	return &dup
}

// PlayerEntry returns the membership record for a player id, or nil.
func (ls *LobbyState) PlayerEntry(playerID uuid.UUID) *LobbyPlayer {
	for _, lp := range ls.Players {
		if lp.Player.ID == playerID {
			return lp
		}
	}
	return nil
}

// AddPlayer appends a player to the roster if not already present and the
// roster is not full. Returns false when the join was a no-op.
func (ls *LobbyState) AddPlayer(p models.Player) bool {
	if ls.PlayerEntry(p.ID) != nil || len(ls.Players) >= ls.Config.RosterSize {
		return false
	}
	ls.Players = append(ls.Players, &LobbyPlayer{Player: p})
	return true
}

// RemovePlayer drops a player from the roster. Returns false if absent.
func (ls *LobbyState) RemovePlayer(playerID uuid.UUID) bool {
	for i, lp := range ls.Players {
		if lp.Player.ID == playerID {
			ls.Players = append(ls.Players[:i], ls.Players[i+1:]...)
			return true
		}
	}
	return false
}

// SetReady flags a rostered player as ready (or not). Unknown ids are ignored.
func (ls *LobbyState) SetReady(playerID uuid.UUID, ready bool) {
	if lp := ls.PlayerEntry(playerID); lp != nil {
		lp.Ready = ready
	}
}

// Full reports whether the roster has reached the configured size.
func (ls *LobbyState) Full() bool {
	return len(ls.Players) >= ls.Config.RosterSize
}

// AllReady reports whether every rostered player confirmed the ready check.
// An empty roster is never ready.
func (ls *LobbyState) AllReady() bool {
	if len(ls.Players) == 0 {
		return false
	}
	for _, lp := range ls.Players {
		if !lp.Ready {
			return false
		}
	}
	return true
}

// UnassignedCount returns how many rostered players have no faction yet.
func (ls *LobbyState) UnassignedCount() int {
	n := 0
	for _, lp := range ls.Players {
		if lp.Faction == FactionNone {
			n++
		}
	}
	return n
}

// FactionCount returns the number of players on the given faction.
func (ls *LobbyState) FactionCount(f Faction) int {
	n := 0
	for _, lp := range ls.Players {
		if lp.Faction == f {
			n++
		}
	}
	return n
}

// dropUnready removes every player that has not confirmed the ready check and
// resets the remaining ready flags for the next attempt.
func (ls *LobbyState) dropUnready() {
	kept := ls.Players[:0]
	for _, lp := range ls.Players {
		if lp.Ready {
			lp.Ready = false
			kept = append(kept, lp)
		}
	}
	ls.Players = kept
}
