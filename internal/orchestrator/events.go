// internal/orchestrator/events.go
package orchestrator

import (
	"github.com/google/uuid"

	"github.com/inhouseleague/ihl/internal/lobby"
)

// Event is emitted once per committed state transition. Subscribers (chat
// announcements, match tracking) consume these instead of holding references
// into the core.
type Event struct {
	LobbyID  uuid.UUID         `json:"lobby_id"`
	From     lobby.State       `json:"from"`
	To       lobby.State       `json:"to"`
	Snapshot *lobby.LobbyState `json:"snapshot"`
}
