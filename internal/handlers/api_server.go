// internal/handlers/api_server.go
package handlers

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/inhouseleague/ihl/internal/orchestrator"
)

// Server is the HTTP command surface over the orchestrator. It also fans the
// lifecycle event stream out to WebSocket subscribers and the announce queue.
type Server struct {
	Orc    *orchestrator.Orchestrator
	Logger *log.Logger

	// Publish pushes an event to the announce queue (Redis); nil disables it.
	Publish func(ctx context.Context, ev orchestrator.Event) error

	mu          sync.Mutex
	subscribers map[uuid.UUID]chan orchestrator.Event
}

// NewServer wires a command server over the orchestrator.
func NewServer(orc *orchestrator.Orchestrator, logger *log.Logger) *Server {
	return &Server{
		Orc:         orc,
		Logger:      logger,
		subscribers: make(map[uuid.UUID]chan orchestrator.Event),
	}
}

// Run pumps orchestrator events to subscribers and the announce queue until
// the context is cancelled.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.Orc.Events():
			if s.Publish != nil {
				if err := s.Publish(ctx, ev); err != nil {
					s.Logger.WithField("lobby", ev.LobbyID).Warnf("event publish failed: %v", err)
				}
			}
			s.mu.Lock()
			for id, ch := range s.subscribers {
				select {
				case ch <- ev:
				default:
					// Slow consumer: drop the subscription rather than the pump.
					close(ch)
					delete(s.subscribers, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// subscribe registers a WebSocket consumer for lifecycle events.
func (s *Server) subscribe() (uuid.UUID, <-chan orchestrator.Event) {
	id := uuid.New()
	ch := make(chan orchestrator.Event, 32)
	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()
	return id, ch
}

func (s *Server) unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
}
