// internal/botpool/pool_test.go
package botpool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/lobby"
	"github.com/inhouseleague/ihl/internal/models"
)

func newBot(name string) models.Bot {
	id, _ := uuid.NewV7()
	return models.Bot{ID: id, AccountName: name, Status: models.BotStatusFree}
}

func TestAcquireExclusive(t *testing.T) {
	bot := newBot("solo")
	p := New([]models.Bot{bot}, nil, log.New())

	lobbyA, _ := uuid.NewV7()
	lobbyB, _ := uuid.NewV7()

	got, err := p.Acquire(context.Background(), lobbyA)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if got.ID != bot.ID {
		t.Fatalf("acquired wrong bot")
	}

	if _, err := p.Acquire(context.Background(), lobbyB); !errors.Is(err, lobby.ErrNoBotAvailable) {
		t.Fatalf("second lobby got %v, want ErrNoBotAvailable", err)
	}
}

func TestAcquireConcurrentSingleWinner(t *testing.T) {
	const contenders = 32
	p := New([]models.Bot{newBot("contested")}, nil, log.New())

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := uuid.NewV7()
			if _, err := p.Acquire(context.Background(), id); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("%d lobbies claimed the same bot", winners)
	}
}

func TestAcquireIsIdempotentPerLobby(t *testing.T) {
	p := New([]models.Bot{newBot("held")}, nil, log.New())
	lobbyID, _ := uuid.NewV7()

	first, err := p.Acquire(context.Background(), lobbyID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	again, err := p.Acquire(context.Background(), lobbyID)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("re-acquire handed out a different bot")
	}
}

func TestAcquirePicksLowestID(t *testing.T) {
	// NewV7 ids are time ordered, so creation order is id order.
	b1, b2, b3 := newBot("a"), newBot("b"), newBot("c")
	p := New([]models.Bot{b3, b1, b2}, nil, log.New())

	lobbyID, _ := uuid.NewV7()
	got, err := p.Acquire(context.Background(), lobbyID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got.ID != b1.ID {
		t.Fatalf("got %s, want the lowest id %s", got.ID, b1.ID)
	}
}

func TestReleaseReturnsBotToRotation(t *testing.T) {
	bot := newBot("cycled")
	p := New([]models.Bot{bot}, nil, log.New())

	lobbyA, _ := uuid.NewV7()
	lobbyB, _ := uuid.NewV7()

	if _, err := p.Acquire(context.Background(), lobbyA); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := p.Release(context.Background(), bot.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := p.Acquire(context.Background(), lobbyB); err != nil {
		t.Fatalf("released bot not reusable: %v", err)
	}
}

func TestMarkFailedPullsBotFromRotation(t *testing.T) {
	bot := newBot("broken")
	p := New([]models.Bot{bot}, nil, log.New())

	if err := p.MarkFailed(context.Background(), bot.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	lobbyID, _ := uuid.NewV7()
	if _, err := p.Acquire(context.Background(), lobbyID); !errors.Is(err, lobby.ErrNoBotAvailable) {
		t.Fatalf("failed bot was handed out: %v", err)
	}

	// Re-enabling through Register puts it back.
	bot.Status = models.BotStatusFree
	p.Register(bot)
	if _, err := p.Acquire(context.Background(), lobbyID); err != nil {
		t.Fatalf("re-registered bot not usable: %v", err)
	}
}

func TestReleaseByLobby(t *testing.T) {
	bot := newBot("killed")
	p := New([]models.Bot{bot}, nil, log.New())

	lobbyID, _ := uuid.NewV7()
	if _, err := p.Acquire(context.Background(), lobbyID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.ReleaseByLobby(context.Background(), lobbyID)

	snap := p.Snapshot()
	if len(snap) != 1 || snap[0].Status != models.BotStatusFree || snap[0].LobbyID != uuid.Nil {
		t.Fatalf("bot not freed after lobby release: %+v", snap)
	}

	// No-op when the lobby holds nothing.
	p.ReleaseByLobby(context.Background(), lobbyID)
}
