// internal/botpool/pool.go
//
// Pool is the exclusive allocator for game-client automation accounts. All
// status flips happen inside a single critical section so two lobbies ticking
// WAITING_FOR_BOT concurrently can never observe and claim the same free bot.
package botpool

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/lobby"
	"github.com/inhouseleague/ihl/internal/models"
)

// Registry mirrors bot status changes to durable storage. Mirroring is best
// effort: the in-memory pool is authoritative for allocation and a failed
// write is logged, not propagated.
type Registry interface {
	MarkBotAssigned(ctx context.Context, botID, lobbyID uuid.UUID) error
	MarkBotFree(ctx context.Context, botID uuid.UUID) error
	MarkBotFailed(ctx context.Context, botID uuid.UUID) error
}

// Pool tracks the fixed set of bots and hands them out one lobby at a time.
type Pool struct {
	mu       sync.Mutex
	bots     map[uuid.UUID]*models.Bot
	registry Registry
	logger   *log.Logger
}

// New builds a pool seeded with the given bots. A nil registry disables
// mirroring (used by tests).
func New(bots []models.Bot, registry Registry, logger *log.Logger) *Pool {
	p := &Pool{
		bots:     make(map[uuid.UUID]*models.Bot, len(bots)),
		registry: registry,
		logger:   logger,
	}
	for i := range bots {
		b := bots[i]
		p.bots[b.ID] = &b
	}
	return p
}

// Acquire claims a free bot for the lobby, or returns lobby.ErrNoBotAvailable.
// A bot already held by this lobby is returned as-is, so re-ticking
// WAITING_FOR_BOT after a missed commit cannot leak a second bot.
func (p *Pool) Acquire(ctx context.Context, lobbyID uuid.UUID) (models.Bot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var free []*models.Bot
	for _, b := range p.bots {
		if b.Status == models.BotStatusAssigned && b.LobbyID == lobbyID {
			return *b, nil
		}
		if b.Status == models.BotStatusFree {
			free = append(free, b)
		}
	}
	if len(free) == 0 {
		return models.Bot{}, lobby.ErrNoBotAvailable
	}
	// Deterministic pick: lowest id first.
	sort.Slice(free, func(i, j int) bool { return free[i].ID.String() < free[j].ID.String() })

	b := free[0]
	b.Status = models.BotStatusAssigned
	b.LobbyID = lobbyID
	p.mirror(ctx, func(r Registry) error { return r.MarkBotAssigned(ctx, b.ID, lobbyID) }, b.ID)
	return *b, nil
}

// Release returns a bot to the free pool.
func (p *Pool) Release(ctx context.Context, botID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bots[botID]
	if !ok {
		return nil
	}
	b.Status = models.BotStatusFree
	b.LobbyID = uuid.Nil
	p.mirror(ctx, func(r Registry) error { return r.MarkBotFree(ctx, botID) }, botID)
	return nil
}

// MarkFailed pulls a bot out of rotation until an operator re-enables it.
func (p *Pool) MarkFailed(ctx context.Context, botID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bots[botID]
	if !ok {
		return nil
	}
	b.Status = models.BotStatusFailed
	b.LobbyID = uuid.Nil
	p.mirror(ctx, func(r Registry) error { return r.MarkBotFailed(ctx, botID) }, botID)
	return nil
}

// ReleaseByLobby frees whatever bot the lobby holds, if any. Used on kill.
func (p *Pool) ReleaseByLobby(ctx context.Context, lobbyID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.bots {
		if b.Status == models.BotStatusAssigned && b.LobbyID == lobbyID {
			b.Status = models.BotStatusFree
			b.LobbyID = uuid.Nil
			p.mirror(ctx, func(r Registry) error { return r.MarkBotFree(ctx, b.ID) }, b.ID)
			return
		}
	}
}

// Register adds or re-enables a bot at runtime.
func (p *Pool) Register(bot models.Bot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := bot
	if b.Status == "" {
		b.Status = models.BotStatusFree
	}
	p.bots[b.ID] = &b
}

// Snapshot returns a copy of every bot, for listing and tests.
func (p *Pool) Snapshot() []models.Bot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Bot, 0, len(p.bots))
	for _, b := range p.bots {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (p *Pool) mirror(ctx context.Context, fn func(Registry) error, botID uuid.UUID) {
	if p.registry == nil {
		return
	}
	if err := fn(p.registry); err != nil && p.logger != nil {
		p.logger.WithField("bot", botID).Warnf("bot registry write failed: %v", err)
	}
}
