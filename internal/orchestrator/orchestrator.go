// internal/orchestrator/orchestrator.go
//
// The Orchestrator owns every active lobby state machine. It serializes
// handler invocation per lobby, persists committed transitions, arms the
// ready-check wake-up timer, launches bot sessions, and emits one lifecycle
// event per state change.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/config"
	"github.com/inhouseleague/ihl/internal/lobby"
)

var ErrLobbyNotFound = errors.New("lobby not found")

// maxCascade bounds how many transitions a single trigger may chain through.
// The longest legal run (NEW through BOT_ASSIGNED) is well under this.
const maxCascade = 16

// Store persists committed lobby states. A save failure rolls the in-memory
// transition back and leaves the trigger eligible for replay.
type Store interface {
	SaveLobby(ctx context.Context, ls *lobby.LobbyState) error
}

// BotPool is the allocator surface the orchestrator needs: the handler slice
// plus bulk release on kill.
type BotPool interface {
	lobby.BotAllocator
	ReleaseByLobby(ctx context.Context, lobbyID uuid.UUID)
}

// SessionDriver starts the actual game session on an assigned bot. It is
// invoked asynchronously; the outcome re-enters the orchestrator as a
// session-started or session-failed trigger.
type SessionDriver interface {
	StartSession(ctx context.Context, botID uuid.UUID, snapshot *lobby.LobbyState) error
}

// managedLobby pairs a lobby state with its serialization lock and live
// ready-check timer handle.
type managedLobby struct {
	mu         sync.Mutex
	state      *lobby.LobbyState
	readyTimer *time.Timer
	sessionUp  bool
}

// Orchestrator drives all lobbies from creation to completion.
type Orchestrator struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*managedLobby

	store      Store
	pool       BotPool
	driver     SessionDriver
	challenges lobby.ChallengeInvalidator

	cfg    config.InhouseConfig
	logger *log.Logger
	rng    *rand.Rand
	now    func() time.Time

	events chan Event
}

// Option tweaks orchestrator construction; used by tests to pin time and
// randomness.
type Option func(*Orchestrator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRand overrides the random source used for captain selection.
func WithRand(rng *rand.Rand) Option {
	return func(o *Orchestrator) { o.rng = rng }
}

// New builds an orchestrator. driver and challenges may be nil when the
// corresponding collaborator is absent (tests, partial deployments).
func New(store Store, pool BotPool, driver SessionDriver, challenges lobby.ChallengeInvalidator,
	cfg config.InhouseConfig, logger *log.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lobbies:    make(map[uuid.UUID]*managedLobby),
		store:      store,
		pool:       pool,
		driver:     driver,
		challenges: challenges,
		cfg:        cfg,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		events:     make(chan Event, 256),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Events exposes the lifecycle event stream.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// CreateLobby registers a new lobby and bootstraps it out of NEW.
func (o *Orchestrator) CreateLobby(ctx context.Context, name string, queueType lobby.QueueType) (*lobby.LobbyState, error) {
	ls := lobby.New(name, queueType, o.cfg)
	if err := o.store.SaveLobby(ctx, ls); err != nil {
		return nil, fmt.Errorf("persist new lobby: %w", err)
	}

	o.mu.Lock()
	o.lobbies[ls.ID] = &managedLobby{state: ls}
	o.mu.Unlock()

	o.logger.WithFields(log.Fields{"lobby": ls.ID, "name": name, "queue_type": queueType}).
		Info("lobby created")
	return o.Advance(ctx, ls.ID, lobby.TriggerTick)
}

// AdoptLobby registers an externally loaded lobby (startup recovery).
func (o *Orchestrator) AdoptLobby(ls *lobby.LobbyState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lobbies[ls.ID] = &managedLobby{state: ls}
}

// Lobby returns a snapshot of the lobby's current committed state.
func (o *Orchestrator) Lobby(lobbyID uuid.UUID) (*lobby.LobbyState, error) {
	ml, err := o.managed(lobbyID)
	if err != nil {
		return nil, err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.state.Clone(), nil
}

// Lobbies returns snapshots of every registered lobby.
func (o *Orchestrator) Lobbies() []*lobby.LobbyState {
	o.mu.Lock()
	ids := make([]uuid.UUID, 0, len(o.lobbies))
	for id := range o.lobbies {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	out := make([]*lobby.LobbyState, 0, len(ids))
	for _, id := range ids {
		if ls, err := o.Lobby(id); err == nil {
			out = append(out, ls)
		}
	}
	return out
}

// Update applies a roster mutation (join, leave, ready, pick) to the lobby
// under its lock, persists it, and then advances the state machine with the
// given trigger. The mutation sees a clone; it is committed only if both the
// mutation and the save succeed.
func (o *Orchestrator) Update(ctx context.Context, lobbyID uuid.UUID, trigger lobby.Trigger,
	mutate func(*lobby.LobbyState) error) (*lobby.LobbyState, error) {
	ml, err := o.managed(lobbyID)
	if err != nil {
		return nil, err
	}

	ml.mu.Lock()
	next := ml.state.Clone()
	if err := mutate(next); err != nil {
		ml.mu.Unlock()
		return nil, err
	}
	if err := o.store.SaveLobby(ctx, next); err != nil {
		ml.mu.Unlock()
		return nil, fmt.Errorf("persist lobby %s: %w", lobbyID, err)
	}
	ml.state = next
	result, err := o.advanceLocked(ctx, ml, trigger)
	ml.mu.Unlock()
	return result, err
}

// Advance routes a trigger to the lobby's current-state handler. Invocations
// for the same lobby are totally ordered by the per-lobby lock.
func (o *Orchestrator) Advance(ctx context.Context, lobbyID uuid.UUID, trigger lobby.Trigger) (*lobby.LobbyState, error) {
	ml, err := o.managed(lobbyID)
	if err != nil {
		return nil, err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return o.advanceLocked(ctx, ml, trigger)
}

// advanceLocked runs handler steps until the state stops changing. The
// external trigger applies to the first step only; follow-on steps see a
// plain tick so a one-shot signal cannot be consumed twice.
func (o *Orchestrator) advanceLocked(ctx context.Context, ml *managedLobby, trigger lobby.Trigger) (*lobby.LobbyState, error) {
	env := o.env()

	for i := 0; i < maxCascade; i++ {
		cur := ml.state
		if cur.State.Terminal() {
			break
		}

		next, err := lobby.Handle(ctx, env, trigger, cur)
		if err != nil {
			o.logger.WithField("lobby", cur.ID).Errorf("handler error in %s: %v", cur.State, err)
			return cur.Clone(), err
		}
		if next.State == cur.State {
			// Roster/flag mutations inside a same-state step (e.g. dropped
			// bot acquisition attempt) carry no transition; nothing to commit.
			break
		}

		// Commit check: a kill or removal that raced this handler invocation
		// must win; never overwrite KILLED or resurrect a dropped lobby.
		if ml.state.State == lobby.StateKilled || !o.registered(cur.ID) {
			return ml.state.Clone(), nil
		}

		if err := o.store.SaveLobby(ctx, next); err != nil {
			o.logger.WithField("lobby", cur.ID).
				Errorf("persist failed, rolling back %s -> %s: %v", cur.State, next.State, err)
			return cur.Clone(), fmt.Errorf("persist lobby %s: %w", cur.ID, err)
		}

		ml.state = next
		o.afterCommit(ml, cur.State, next)
		trigger = lobby.TriggerTick
	}

	return ml.state.Clone(), nil
}

// afterCommit emits the lifecycle event and performs the entry actions bound
// to the new state: arming or clearing the ready-check wake-up and kicking
// off the bot session.
func (o *Orchestrator) afterCommit(ml *managedLobby, from lobby.State, next *lobby.LobbyState) {
	o.emit(Event{LobbyID: next.ID, From: from, To: next.State, Snapshot: next.Clone()})

	o.logger.WithFields(log.Fields{
		"lobby": next.ID,
		"from":  from,
		"to":    next.State,
	}).Info("lobby transition")

	if next.State == lobby.StateCheckingReady && from != lobby.StateCheckingReady {
		o.armReadyTimer(ml, next)
	}
	if from == lobby.StateCheckingReady && next.State != lobby.StateCheckingReady {
		o.clearReadyTimer(ml)
	}
	if next.State == lobby.StateBotAssigned && !ml.sessionUp {
		ml.sessionUp = true
		o.startSession(next)
	}
	if next.State.Terminal() || next.State == lobby.StateBotFailed {
		ml.sessionUp = false
	}
}

// armReadyTimer schedules a wake-up tick for the ready-check deadline. The
// timeout decision itself is made by the CHECKING_READY handler against the
// clock, so a stale or duplicate wake-up is harmless.
func (o *Orchestrator) armReadyTimer(ml *managedLobby, ls *lobby.LobbyState) {
	o.clearReadyTimer(ml)

	remaining := ls.Config.ReadyCheckTimeout - o.now().Sub(ls.ReadyCheckTime)
	if remaining < 0 {
		remaining = 0
	}
	lobbyID := ls.ID
	ml.readyTimer = time.AfterFunc(remaining, func() {
		if _, err := o.Advance(context.Background(), lobbyID, lobby.TriggerTimer); err != nil &&
			!errors.Is(err, ErrLobbyNotFound) {
			o.logger.WithField("lobby", lobbyID).Warnf("ready-check wakeup failed: %v", err)
		}
	})
}

func (o *Orchestrator) clearReadyTimer(ml *managedLobby) {
	if ml.readyTimer != nil {
		ml.readyTimer.Stop()
		ml.readyTimer = nil
	}
}

// startSession launches the game-session driver off the handler path; the
// result re-enters as a trigger.
func (o *Orchestrator) startSession(ls *lobby.LobbyState) {
	if o.driver == nil {
		return
	}
	snapshot := ls.Clone()
	go func() {
		trigger := lobby.TriggerSessionStarted
		if err := o.driver.StartSession(context.Background(), snapshot.BotID, snapshot); err != nil {
			o.logger.WithFields(log.Fields{"lobby": snapshot.ID, "bot": snapshot.BotID}).
				Warnf("session start failed: %v", err)
			trigger = lobby.TriggerSessionFailed
		}
		if _, err := o.Advance(context.Background(), snapshot.ID, trigger); err != nil &&
			!errors.Is(err, ErrLobbyNotFound) {
			o.logger.WithField("lobby", snapshot.ID).Warnf("session result not applied: %v", err)
		}
	}()
}

// Kill administratively aborts a lobby from any state: the ready timer is
// cancelled and any held bot released synchronously before the KILLED event
// goes out.
func (o *Orchestrator) Kill(ctx context.Context, lobbyID uuid.UUID) (*lobby.LobbyState, error) {
	ml, err := o.managed(lobbyID)
	if err != nil {
		return nil, err
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.state.State == lobby.StateKilled {
		return ml.state.Clone(), nil
	}

	o.clearReadyTimer(ml)
	o.pool.ReleaseByLobby(ctx, lobbyID)

	from := ml.state.State
	next := ml.state.Clone()
	next.State = lobby.StateKilled
	next.BotID = uuid.Nil
	next.ReadyCheckTime = time.Time{}

	if err := o.store.SaveLobby(ctx, next); err != nil {
		// The abort still wins: timers and bots are already released, so the
		// in-memory state must not revive the lobby.
		o.logger.WithField("lobby", lobbyID).Errorf("persist of killed lobby failed: %v", err)
	}
	ml.state = next
	o.emit(Event{LobbyID: lobbyID, From: from, To: lobby.StateKilled, Snapshot: next.Clone()})
	o.logger.WithFields(log.Fields{"lobby": lobbyID, "from": from}).Info("lobby killed")
	return next.Clone(), nil
}

// Requeue returns a BOT_FAILED lobby to the bot queue once an operator has
// restored the fleet. The stale bot reference is dropped so the lobby claims
// a fresh one instead of re-entering BOT_ASSIGNED on the benched account.
func (o *Orchestrator) Requeue(ctx context.Context, lobbyID uuid.UUID) (*lobby.LobbyState, error) {
	ml, err := o.managed(lobbyID)
	if err != nil {
		return nil, err
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.state.State != lobby.StateBotFailed {
		return nil, fmt.Errorf("lobby %s is in %s, only %s can be requeued",
			lobbyID, ml.state.State, lobby.StateBotFailed)
	}

	from := ml.state.State
	next := ml.state.Clone()
	next.State = lobby.StateWaitingForBot
	next.BotID = uuid.Nil

	if err := o.store.SaveLobby(ctx, next); err != nil {
		return nil, fmt.Errorf("persist lobby %s: %w", lobbyID, err)
	}
	ml.state = next
	o.afterCommit(ml, from, next)
	o.logger.WithField("lobby", lobbyID).Info("lobby requeued for a bot")
	return o.advanceLocked(ctx, ml, lobby.TriggerTick)
}

// RemoveLobby drops a terminal lobby from the registry.
func (o *Orchestrator) RemoveLobby(lobbyID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lobbies, lobbyID)
}

// Run ticks every non-terminal lobby on the given interval until the context
// is cancelled. The periodic tick is what retries WAITING_FOR_BOT and heals
// missed timer wake-ups.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			ids := make([]uuid.UUID, 0, len(o.lobbies))
			for id, ml := range o.lobbies {
				if !ml.state.State.Terminal() {
					ids = append(ids, id)
				}
			}
			o.mu.Unlock()

			for _, id := range ids {
				if _, err := o.Advance(ctx, id, lobby.TriggerTick); err != nil &&
					!errors.Is(err, ErrLobbyNotFound) {
					o.logger.WithField("lobby", id).Warnf("tick failed: %v", err)
				}
			}
		}
	}
}

func (o *Orchestrator) registered(lobbyID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.lobbies[lobbyID]
	return ok
}

func (o *Orchestrator) managed(lobbyID uuid.UUID) (*managedLobby, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ml, ok := o.lobbies[lobbyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLobbyNotFound, lobbyID)
	}
	return ml, nil
}

func (o *Orchestrator) env() lobby.Env {
	return lobby.Env{
		Now:        o.now,
		Rand:       o.rng,
		Bots:       o.pool,
		Challenges: o.challenges,
		Log:        o.logger,
	}
}

// emit pushes an event without ever blocking a transition; a full stream
// drops the event and logs it.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.WithFields(log.Fields{"lobby": ev.LobbyID, "to": ev.To}).
			Warn("event stream full, dropping lifecycle event")
	}
}
