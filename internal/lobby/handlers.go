// internal/lobby/handlers.go
//
// The per-state transition handlers. Handle is invoked by the orchestrator
// whenever a trigger arrives for a lobby; it clones the input, applies the
// rule for the current state, and returns the successor. Re-invoking with
// unchanged inputs returns the same result, so re-ticking is always safe.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/models"
)

// Trigger names the stimulus that caused a handler invocation. Most states
// ignore it and re-evaluate their condition; BOT_ASSIGNED and
// MATCH_IN_PROGRESS advance only on their dedicated external triggers.
type Trigger string

const (
	TriggerTick           Trigger = "tick"
	TriggerRosterChanged  Trigger = "roster_changed"
	TriggerReady          Trigger = "ready"
	TriggerPick           Trigger = "pick"
	TriggerTimer          Trigger = "timer"
	TriggerSessionStarted Trigger = "session_started"
	TriggerSessionFailed  Trigger = "session_failed"
	TriggerMatchEnded     Trigger = "match_ended"
	TriggerKill           Trigger = "kill"
)

// ErrNoBotAvailable is returned by a BotAllocator when the pool is exhausted.
// It is non-fatal: WAITING_FOR_BOT retries on the next tick.
var ErrNoBotAvailable = errors.New("no free bot available")

// ErrUnknownState means the lobby carries a state outside the closed enum,
// which is a programming invariant violation, not an expected branch.
var ErrUnknownState = errors.New("unknown lobby state")

// BotAllocator is the slice of the bot pool the handlers need.
type BotAllocator interface {
	Acquire(ctx context.Context, lobbyID uuid.UUID) (models.Bot, error)
	Release(ctx context.Context, botID uuid.UUID) error
	MarkFailed(ctx context.Context, botID uuid.UUID) error
}

// ChallengeInvalidator removes a pending challenge between two players.
// Invalidation is best-effort; failures are logged and never block a
// transition.
type ChallengeInvalidator interface {
	InvalidateBetween(ctx context.Context, a, b uuid.UUID) error
}

// Env carries the collaborators and injected sources a handler may use.
// The clock and random source are injectable so tests can pin time and
// captain selection.
type Env struct {
	Now        func() time.Time
	Rand       *rand.Rand
	Bots       BotAllocator
	Challenges ChallengeInvalidator
	Log        *log.Logger
}

// Handle runs the transition rule for the lobby's current state and returns
// the successor state. The input is never mutated.
func Handle(ctx context.Context, env Env, trigger Trigger, ls *LobbyState) (*LobbyState, error) {
	next := ls.Clone()

	switch ls.State {
	case StateNew:
		next.State = StateWaitingForQueue

	case StateWaitingForQueue:
		if next.Full() {
			next.State = StateBeginReady
		}

	case StateBeginReady:
		next.ReadyCheckTime = env.Now()
		invalidateChallenges(ctx, env, next)
		next.State = StateCheckingReady

	case StateCheckingReady:
		switch {
		case env.Now().Sub(next.ReadyCheckTime) >= next.Config.ReadyCheckTimeout:
			next.dropUnready()
			next.ReadyCheckTime = time.Time{}
			next.State = StateWaitingForQueue
		case !next.AllReady():
			// keep waiting
		case next.QueueType == QueueTypeAuto:
			next.State = StateAutobalancing
		default:
			next.State = StateChoosingSide
		}

	case StateAssigningCaptains:
		handleAssigningCaptains(env, next)

	case StateChoosingSide:
		// The table leaves a lobby without seated captains undefined here;
		// route it through captain assignment instead of seating nobody.
		if next.Captain1ID == uuid.Nil || next.Captain2ID == uuid.Nil {
			next.State = StateAssigningCaptains
			break
		}
		next.setFaction(next.Captain1ID, Faction1)
		next.setFaction(next.Captain2ID, Faction2)
		next.State = StateDraftingPlayers

	case StateDraftingPlayers:
		if next.Captain1ID == uuid.Nil && next.Captain2ID == uuid.Nil {
			// Draft abandoned (captains cleared administratively).
			next.State = StateAutobalancing
		} else if next.UnassignedCount() == 0 {
			next.State = StateTeamsSelected
		}

	case StateAutobalancing:
		Autobalance(next.Players, MetricFor(next.Config.MatchmakingSystem))
		next.State = StateTeamsSelected

	case StateTeamsSelected:
		next.State = StateWaitingForBot

	case StateWaitingForBot:
		if next.BotID != uuid.Nil {
			next.State = StateBotAssigned
			break
		}
		bot, err := env.Bots.Acquire(ctx, next.ID)
		if errors.Is(err, ErrNoBotAvailable) {
			break // retry on a later tick
		}
		if err != nil {
			return nil, fmt.Errorf("acquire bot for lobby %s: %w", next.ID, err)
		}
		next.BotID = bot.ID
		next.State = StateBotAssigned

	case StateBotAssigned:
		switch trigger {
		case TriggerSessionStarted:
			next.State = StateMatchInProgress
		case TriggerSessionFailed:
			if err := env.Bots.MarkFailed(ctx, next.BotID); err != nil {
				env.Log.WithFields(log.Fields{"lobby": next.ID, "bot": next.BotID}).
					Warnf("failed to mark bot failed: %v", err)
			}
			next.State = StateBotFailed
		}

	case StateBotFailed:
		// terminal until externally re-queued

	case StateMatchInProgress:
		if trigger == TriggerMatchEnded {
			next.State = StateMatchEnded
		}

	case StateMatchEnded:
		if next.BotID != uuid.Nil {
			if err := env.Bots.Release(ctx, next.BotID); err != nil {
				env.Log.WithFields(log.Fields{"lobby": next.ID, "bot": next.BotID}).
					Warnf("failed to release bot: %v", err)
			}
			next.BotID = uuid.Nil
		}
		next.State = StateCompleted

	case StateCompleted, StateKilled:
		// terminal

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, ls.State)
	}

	return next, nil
}

// handleAssigningCaptains implements the ASSIGNING_CAPTAINS row group:
// captains already seated and still rostered pass straight through, fewer
// than two eligible players falls back to autobalance with both captain
// fields left unset, otherwise two are drawn at random.
func handleAssigningCaptains(env Env, next *LobbyState) {
	if next.Captain1ID != uuid.Nil && next.Captain2ID != uuid.Nil &&
		next.PlayerEntry(next.Captain1ID) != nil && next.PlayerEntry(next.Captain2ID) != nil {
		next.State = StateChoosingSide
		return
	}

	eligible := next.EligibleCaptains()
	if len(eligible) < 2 {
		next.Captain1ID = uuid.Nil
		next.Captain2ID = uuid.Nil
		next.State = StateAutobalancing
		return
	}

	next.Captain1ID, next.Captain2ID = pickCaptains(env.Rand, eligible)
	next.State = StateChoosingSide
}

// setFaction seats a player on a faction, ignoring unknown ids.
func (ls *LobbyState) setFaction(playerID uuid.UUID, f Faction) {
	if lp := ls.PlayerEntry(playerID); lp != nil {
		lp.Faction = f
	}
}

// invalidateChallenges voids any pending challenge between players who are
// now in the lobby together. Errors surface as warnings only.
func invalidateChallenges(ctx context.Context, env Env, ls *LobbyState) {
	if env.Challenges == nil {
		return
	}
	for i := 0; i < len(ls.Players); i++ {
		for j := i + 1; j < len(ls.Players); j++ {
			a, b := ls.Players[i].Player.ID, ls.Players[j].Player.ID
			if err := env.Challenges.InvalidateBetween(ctx, a, b); err != nil {
				env.Log.WithFields(log.Fields{"lobby": ls.ID, "a": a, "b": b}).
					Warnf("challenge invalidation failed: %v", err)
			}
		}
	}
}
