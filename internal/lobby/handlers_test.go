// internal/lobby/handlers_test.go
package lobby

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inhouseleague/ihl/internal/config"
	"github.com/inhouseleague/ihl/internal/models"
)

// fakeBots is a scripted BotAllocator that records calls.
type fakeBots struct {
	mu       sync.Mutex
	bot      models.Bot
	err      error
	acquired []uuid.UUID
	released []uuid.UUID
	failed   []uuid.UUID
}

func (f *fakeBots) Acquire(ctx context.Context, lobbyID uuid.UUID) (models.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Bot{}, f.err
	}
	f.acquired = append(f.acquired, lobbyID)
	return f.bot, nil
}

func (f *fakeBots) Release(ctx context.Context, botID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, botID)
	return nil
}

func (f *fakeBots) MarkFailed(ctx context.Context, botID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, botID)
	return nil
}

// fakeChallenges records every invalidated pair.
type fakeChallenges struct {
	mu    sync.Mutex
	pairs [][2]uuid.UUID
}

func (f *fakeChallenges) InvalidateBetween(ctx context.Context, a, b uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, [2]uuid.UUID{a, b})
	return nil
}

func testConfig() config.InhouseConfig {
	return config.InhouseConfig{
		ReadyCheckTimeout:    5 * time.Minute,
		CaptainRankThreshold: 3,
		CaptainRoleRegexp:    `Tier ([0-9]+) Captain`,
		MatchmakingSystem:    "default",
		DraftOrder:           config.DefaultDraftOrder,
		RosterSize:           10,
	}
}

func testEnv(now time.Time, bots BotAllocator) Env {
	return Env{
		Now:  func() time.Time { return now },
		Rand: rand.New(rand.NewSource(1)),
		Bots: bots,
		Log:  logrus.New(),
	}
}

func testPlayer(n, tier int, roles ...string) models.Player {
	id, _ := uuid.NewV7()
	return models.Player{
		ID:       id,
		Nickname: fmt.Sprintf("player-%d", n),
		RankTier: tier,
		Rating:   1000 + 10*tier,
		Roles:    roles,
	}
}

// fullLobby builds a 10-player lobby in the given state. Two players carry a
// captain role and meet the rank threshold.
func fullLobby(t *testing.T, state State, queueType QueueType) *LobbyState {
	t.Helper()
	ls := New("test", queueType, testConfig())
	ls.State = state
	for i := 0; i < 10; i++ {
		var roles []string
		if i < 2 {
			roles = []string{"Tier 1 Captain"}
		}
		require.True(t, ls.AddPlayer(testPlayer(i, 3+i, roles...)))
	}
	return ls
}

func TestHandleNewBootstraps(t *testing.T) {
	ls := New("fresh", QueueTypeAuto, testConfig())
	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForQueue, next.State)
}

func TestWaitingForQueue(t *testing.T) {
	env := testEnv(time.Now(), nil)

	partial := fullLobby(t, StateWaitingForQueue, QueueTypeAuto)
	partial.RemovePlayer(partial.Players[0].Player.ID)
	next, err := Handle(context.Background(), env, TriggerRosterChanged, partial)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForQueue, next.State, "9 players must keep waiting")

	full := fullLobby(t, StateWaitingForQueue, QueueTypeAuto)
	next, err = Handle(context.Background(), env, TriggerRosterChanged, full)
	require.NoError(t, err)
	assert.Equal(t, StateBeginReady, next.State)
}

func TestBeginReadyStampsClockAndInvalidatesChallenges(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chals := &fakeChallenges{}
	env := testEnv(now, nil)
	env.Challenges = chals

	ls := fullLobby(t, StateBeginReady, QueueTypeChallenge)
	next, err := Handle(context.Background(), env, TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, StateCheckingReady, next.State)
	assert.Equal(t, now, next.ReadyCheckTime)
	// Every unordered pair among 10 players.
	assert.Len(t, chals.pairs, 45)
}

func TestCheckingReadyWaitsForConfirmations(t *testing.T) {
	now := time.Now()
	ls := fullLobby(t, StateCheckingReady, QueueTypeAuto)
	ls.ReadyCheckTime = now
	for _, lp := range ls.Players[:9] {
		lp.Ready = true
	}

	next, err := Handle(context.Background(), testEnv(now.Add(time.Minute), nil), TriggerReady, ls)
	require.NoError(t, err)
	assert.Equal(t, StateCheckingReady, next.State)
}

func TestCheckingReadyQueueTypeBranching(t *testing.T) {
	cases := []struct {
		queueType QueueType
		want      State
	}{
		{QueueTypeAuto, StateAutobalancing},
		{QueueTypeDraft, StateChoosingSide},
		{QueueTypeChallenge, StateChoosingSide},
	}
	for _, tc := range cases {
		t.Run(string(tc.queueType), func(t *testing.T) {
			now := time.Now()
			ls := fullLobby(t, StateCheckingReady, tc.queueType)
			ls.ReadyCheckTime = now
			for _, lp := range ls.Players {
				lp.Ready = true
			}

			next, err := Handle(context.Background(), testEnv(now, nil), TriggerReady, ls)
			require.NoError(t, err)
			assert.Equal(t, tc.want, next.State)
		})
	}
}

func TestCheckingReadyTimeoutDropsUnready(t *testing.T) {
	start := time.Now()
	ls := fullLobby(t, StateCheckingReady, QueueTypeAuto)
	ls.ReadyCheckTime = start
	for _, lp := range ls.Players[:6] {
		lp.Ready = true
	}

	next, err := Handle(context.Background(), testEnv(start.Add(ls.Config.ReadyCheckTimeout), nil), TriggerTimer, ls)
	require.NoError(t, err)

	assert.Equal(t, StateWaitingForQueue, next.State)
	assert.Len(t, next.Players, 6)
	assert.True(t, next.ReadyCheckTime.IsZero())
	for _, lp := range next.Players {
		assert.False(t, lp.Ready, "ready flags reset for the next attempt")
	}
}

func TestCheckingReadyZeroTimeZeroTimeout(t *testing.T) {
	// A recovered lobby with no stamp and a zero timeout counts as expired.
	ls := fullLobby(t, StateCheckingReady, QueueTypeAuto)
	ls.Config.ReadyCheckTimeout = 0
	ls.ReadyCheckTime = time.Time{}

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForQueue, next.State)
}

func TestAssigningCaptainsPicksTwoDistinct(t *testing.T) {
	ls := fullLobby(t, StateAssigningCaptains, QueueTypeDraft)

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, StateChoosingSide, next.State)
	assert.NotEqual(t, uuid.Nil, next.Captain1ID)
	assert.NotEqual(t, uuid.Nil, next.Captain2ID)
	assert.NotEqual(t, next.Captain1ID, next.Captain2ID)
	eligible := map[uuid.UUID]bool{
		ls.Players[0].Player.ID: true,
		ls.Players[1].Player.ID: true,
	}
	assert.True(t, eligible[next.Captain1ID])
	assert.True(t, eligible[next.Captain2ID])
}

func TestAssigningCaptainsKeepsSeatedPair(t *testing.T) {
	ls := fullLobby(t, StateAssigningCaptains, QueueTypeDraft)
	ls.Captain1ID = ls.Players[3].Player.ID
	ls.Captain2ID = ls.Players[7].Player.ID

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, StateChoosingSide, next.State)
	assert.Equal(t, ls.Captain1ID, next.Captain1ID)
	assert.Equal(t, ls.Captain2ID, next.Captain2ID)
}

func TestAssigningCaptainsFallbackToAutobalance(t *testing.T) {
	ls := fullLobby(t, StateAssigningCaptains, QueueTypeDraft)
	// Strip captain roles from all but one player.
	ls.Players[1].Player.Roles = nil

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, StateAutobalancing, next.State)
	assert.Equal(t, uuid.Nil, next.Captain1ID)
	assert.Equal(t, uuid.Nil, next.Captain2ID)
	assert.Equal(t, QueueTypeDraft, next.QueueType, "queue type survives the fallback")
}

func TestChoosingSideWithoutCaptains(t *testing.T) {
	ls := fullLobby(t, StateChoosingSide, QueueTypeDraft)

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)
	assert.Equal(t, StateAssigningCaptains, next.State)
}

func TestChoosingSideSeatsCaptains(t *testing.T) {
	ls := fullLobby(t, StateChoosingSide, QueueTypeDraft)
	ls.Captain1ID = ls.Players[0].Player.ID
	ls.Captain2ID = ls.Players[1].Player.ID

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, StateDraftingPlayers, next.State)
	assert.Equal(t, Faction1, next.PlayerEntry(ls.Captain1ID).Faction)
	assert.Equal(t, Faction2, next.PlayerEntry(ls.Captain2ID).Faction)
	assert.Equal(t, 8, next.UnassignedCount())
}

func TestDraftingPlayers(t *testing.T) {
	env := testEnv(time.Now(), nil)

	mid := fullLobby(t, StateDraftingPlayers, QueueTypeDraft)
	mid.Captain1ID = mid.Players[0].Player.ID
	mid.Captain2ID = mid.Players[1].Player.ID
	mid.Players[0].Faction = Faction1
	mid.Players[1].Faction = Faction2
	next, err := Handle(context.Background(), env, TriggerPick, mid)
	require.NoError(t, err)
	assert.Equal(t, StateDraftingPlayers, next.State, "draft stays open while players are unassigned")

	done := fullLobby(t, StateDraftingPlayers, QueueTypeDraft)
	done.Captain1ID = done.Players[0].Player.ID
	done.Captain2ID = done.Players[1].Player.ID
	for i, lp := range done.Players {
		if i%2 == 0 {
			lp.Faction = Faction1
		} else {
			lp.Faction = Faction2
		}
	}
	next, err = Handle(context.Background(), env, TriggerPick, done)
	require.NoError(t, err)
	assert.Equal(t, StateTeamsSelected, next.State)
}

func TestDraftingAbandonedFallsToAutobalance(t *testing.T) {
	ls := fullLobby(t, StateDraftingPlayers, QueueTypeDraft)

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)
	assert.Equal(t, StateAutobalancing, next.State)
}

func TestAutobalancingSplitsAndAdvances(t *testing.T) {
	ls := fullLobby(t, StateAutobalancing, QueueTypeAuto)

	next, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, StateTeamsSelected, next.State)
	assert.Equal(t, 5, next.FactionCount(Faction1))
	assert.Equal(t, 5, next.FactionCount(Faction2))
	assert.Equal(t, 0, next.UnassignedCount())
}

func TestWaitingForBot(t *testing.T) {
	botID, _ := uuid.NewV7()

	t.Run("acquires a free bot", func(t *testing.T) {
		bots := &fakeBots{bot: models.Bot{ID: botID}}
		ls := fullLobby(t, StateWaitingForBot, QueueTypeAuto)

		next, err := Handle(context.Background(), testEnv(time.Now(), bots), TriggerTick, ls)
		require.NoError(t, err)
		assert.Equal(t, StateBotAssigned, next.State)
		assert.Equal(t, botID, next.BotID)
		assert.Equal(t, []uuid.UUID{ls.ID}, bots.acquired)
	})

	t.Run("pool exhausted keeps waiting", func(t *testing.T) {
		bots := &fakeBots{err: ErrNoBotAvailable}
		ls := fullLobby(t, StateWaitingForBot, QueueTypeAuto)

		next, err := Handle(context.Background(), testEnv(time.Now(), bots), TriggerTick, ls)
		require.NoError(t, err)
		assert.Equal(t, StateWaitingForBot, next.State)
		assert.Equal(t, uuid.Nil, next.BotID)
	})

	t.Run("existing assignment is kept", func(t *testing.T) {
		bots := &fakeBots{}
		ls := fullLobby(t, StateWaitingForBot, QueueTypeAuto)
		ls.BotID = botID

		next, err := Handle(context.Background(), testEnv(time.Now(), bots), TriggerTick, ls)
		require.NoError(t, err)
		assert.Equal(t, StateBotAssigned, next.State)
		assert.Equal(t, botID, next.BotID)
		assert.Empty(t, bots.acquired, "no second acquire for a lobby that holds a bot")
	})
}

func TestBotAssignedTriggers(t *testing.T) {
	botID, _ := uuid.NewV7()

	t.Run("tick holds", func(t *testing.T) {
		ls := fullLobby(t, StateBotAssigned, QueueTypeAuto)
		ls.BotID = botID
		next, err := Handle(context.Background(), testEnv(time.Now(), &fakeBots{}), TriggerTick, ls)
		require.NoError(t, err)
		assert.Equal(t, StateBotAssigned, next.State)
	})

	t.Run("session started", func(t *testing.T) {
		ls := fullLobby(t, StateBotAssigned, QueueTypeAuto)
		ls.BotID = botID
		next, err := Handle(context.Background(), testEnv(time.Now(), &fakeBots{}), TriggerSessionStarted, ls)
		require.NoError(t, err)
		assert.Equal(t, StateMatchInProgress, next.State)
	})

	t.Run("session failed marks the bot", func(t *testing.T) {
		bots := &fakeBots{}
		ls := fullLobby(t, StateBotAssigned, QueueTypeAuto)
		ls.BotID = botID
		next, err := Handle(context.Background(), testEnv(time.Now(), bots), TriggerSessionFailed, ls)
		require.NoError(t, err)
		assert.Equal(t, StateBotFailed, next.State)
		assert.Equal(t, []uuid.UUID{botID}, bots.failed)
	})
}

func TestMatchInProgressAdvancesOnlyOnMatchEnded(t *testing.T) {
	ls := fullLobby(t, StateMatchInProgress, QueueTypeAuto)
	env := testEnv(time.Now(), &fakeBots{})

	next, err := Handle(context.Background(), env, TriggerTick, ls)
	require.NoError(t, err)
	assert.Equal(t, StateMatchInProgress, next.State)

	next, err = Handle(context.Background(), env, TriggerMatchEnded, ls)
	require.NoError(t, err)
	assert.Equal(t, StateMatchEnded, next.State)
}

func TestMatchEndedReleasesBotAndCompletes(t *testing.T) {
	botID, _ := uuid.NewV7()
	bots := &fakeBots{}
	ls := fullLobby(t, StateMatchEnded, QueueTypeAuto)
	ls.BotID = botID

	next, err := Handle(context.Background(), testEnv(time.Now(), bots), TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, next.State)
	assert.Equal(t, uuid.Nil, next.BotID)
	assert.Equal(t, []uuid.UUID{botID}, bots.released)
}

func TestTerminalStatesSelfLoop(t *testing.T) {
	for _, state := range []State{StateCompleted, StateKilled, StateBotFailed} {
		ls := fullLobby(t, state, QueueTypeAuto)
		next, err := Handle(context.Background(), testEnv(time.Now(), &fakeBots{}), TriggerTick, ls)
		require.NoError(t, err)
		assert.Equal(t, state, next.State)
	}
}

func TestHandleNeverMutatesInput(t *testing.T) {
	ls := fullLobby(t, StateAutobalancing, QueueTypeAuto)
	before := ls.Clone()

	_, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.NoError(t, err)

	assert.Equal(t, before.State, ls.State)
	for i, lp := range ls.Players {
		assert.Equal(t, before.Players[i].Faction, lp.Faction)
	}
}

func TestHandleIsIdempotent(t *testing.T) {
	now := time.Now()
	ls := fullLobby(t, StateCheckingReady, QueueTypeAuto)
	ls.ReadyCheckTime = now
	for _, lp := range ls.Players {
		lp.Ready = true
	}

	env := testEnv(now, nil)
	first, err := Handle(context.Background(), env, TriggerReady, ls)
	require.NoError(t, err)
	second, err := Handle(context.Background(), env, TriggerReady, ls)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
}

func TestHandleUnknownState(t *testing.T) {
	ls := fullLobby(t, State("STATE_BOGUS"), QueueTypeAuto)
	_, err := Handle(context.Background(), testEnv(time.Now(), nil), TriggerTick, ls)
	require.ErrorIs(t, err, ErrUnknownState)
}
