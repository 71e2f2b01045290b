// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/inhouseleague/ihl/internal/database"
	"github.com/inhouseleague/ihl/internal/lobby"
	"github.com/inhouseleague/ihl/internal/orchestrator"
)

var validQueueTypes = map[lobby.QueueType]bool{
	lobby.QueueTypeAuto:      true,
	lobby.QueueTypeDraft:     true,
	lobby.QueueTypeChallenge: true,
}

// CreateLobbyHandler opens a new lobby and bootstraps it into the queue.
func CreateLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authedPlayer(w, r); !ok {
			return
		}

		var req struct {
			Name      string          `json:"name"`
			QueueType lobby.QueueType `json:"queue_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad lobby request payload", http.StatusBadRequest)
			return
		}
		if req.QueueType == "" {
			req.QueueType = lobby.QueueTypeAuto
		}
		if !validQueueTypes[req.QueueType] {
			http.Error(w, "invalid queue type", http.StatusBadRequest)
			return
		}

		ls, err := s.Orc.CreateLobby(r.Context(), req.Name, req.QueueType)
		if err != nil {
			http.Error(w, "failed to create lobby", http.StatusInternalServerError)
			return
		}
		writeJSON(w, ls)
	}
}

// ListLobbiesHandler returns snapshots of every registered lobby.
func ListLobbiesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authedPlayer(w, r); !ok {
			return
		}
		writeJSON(w, s.Orc.Lobbies())
	}
}

// JoinLobbyHandler adds the requesting player to a lobby's queue.
func JoinLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := authedPlayer(w, r)
		if !ok {
			return
		}
		lobbyID, ok := lobbyIDFromBody(w, r)
		if !ok {
			return
		}

		p, err := database.GetPlayer(r.Context(), playerID)
		if err != nil {
			http.Error(w, "unknown player", http.StatusNotFound)
			return
		}

		ls, err := s.Orc.Update(r.Context(), lobbyID, lobby.TriggerRosterChanged, func(next *lobby.LobbyState) error {
			if next.State != lobby.StateWaitingForQueue {
				return fmt.Errorf("lobby is not accepting players in state %s", next.State)
			}
			if !next.AddPlayer(*p) {
				return errors.New("already queued or lobby full")
			}
			return nil
		})
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

// LeaveLobbyHandler removes the requesting player pre-draft. Once the ready
// check has started, the only ways out are the ready-check timeout or a kill.
func LeaveLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := authedPlayer(w, r)
		if !ok {
			return
		}
		lobbyID, ok := lobbyIDFromBody(w, r)
		if !ok {
			return
		}

		ls, err := s.Orc.Update(r.Context(), lobbyID, lobby.TriggerRosterChanged, func(next *lobby.LobbyState) error {
			if next.State != lobby.StateWaitingForQueue {
				return fmt.Errorf("cannot leave in state %s", next.State)
			}
			if !next.RemovePlayer(playerID) {
				return errors.New("not in this lobby")
			}
			return nil
		})
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

// ReadyHandler confirms the requesting player for the ready check.
func ReadyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := authedPlayer(w, r)
		if !ok {
			return
		}
		lobbyID, ok := lobbyIDFromBody(w, r)
		if !ok {
			return
		}

		ls, err := s.Orc.Update(r.Context(), lobbyID, lobby.TriggerReady, func(next *lobby.LobbyState) error {
			if next.State != lobby.StateCheckingReady {
				return fmt.Errorf("no ready check running in state %s", next.State)
			}
			next.SetReady(playerID, true)
			return nil
		})
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

// PickHandler applies a captain's draft pick.
func PickHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		captainID, ok := authedPlayer(w, r)
		if !ok {
			return
		}

		var req struct {
			LobbyID  uuid.UUID `json:"lobby_id"`
			PlayerID uuid.UUID `json:"player_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad pick payload", http.StatusBadRequest)
			return
		}

		ls, err := s.Orc.Update(r.Context(), req.LobbyID, lobby.TriggerPick, func(next *lobby.LobbyState) error {
			if next.State != lobby.StateDraftingPlayers {
				return fmt.Errorf("no draft running in state %s", next.State)
			}
			return next.ApplyPick(captainID, req.PlayerID)
		})
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

// KillLobbyHandler administratively aborts a lobby. Admin only.
func KillLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := authedPlayer(w, r)
		if !ok {
			return
		}
		p, err := database.GetPlayer(r.Context(), playerID)
		if err != nil || !p.IsAdmin {
			http.Error(w, "admin required", http.StatusForbidden)
			return
		}
		lobbyID, ok := lobbyIDFromBody(w, r)
		if !ok {
			return
		}

		ls, err := s.Orc.Kill(r.Context(), lobbyID)
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

// RequeueBotHandler returns a BOT_FAILED lobby to the bot queue once an
// operator has restored the fleet. Admin only.
func RequeueBotHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := authedPlayer(w, r)
		if !ok {
			return
		}
		p, err := database.GetPlayer(r.Context(), playerID)
		if err != nil || !p.IsAdmin {
			http.Error(w, "admin required", http.StatusForbidden)
			return
		}
		lobbyID, ok := lobbyIDFromBody(w, r)
		if !ok {
			return
		}

		ls, err := s.Orc.Requeue(r.Context(), lobbyID)
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

// SessionResultHandler is called by the external game-session driver to
// report whether the assigned bot managed to start the match.
func SessionResultHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authedPlayer(w, r); !ok {
			return
		}
		var req struct {
			LobbyID uuid.UUID `json:"lobby_id"`
			Started bool      `json:"started"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad session result payload", http.StatusBadRequest)
			return
		}

		trigger := lobby.TriggerSessionStarted
		if !req.Started {
			trigger = lobby.TriggerSessionFailed
		}
		ls, err := s.Orc.Advance(r.Context(), req.LobbyID, trigger)
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

// MatchEndedHandler is called by match tracking when the game finishes.
func MatchEndedHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authedPlayer(w, r); !ok {
			return
		}
		lobbyID, ok := lobbyIDFromBody(w, r)
		if !ok {
			return
		}

		ls, err := s.Orc.Advance(r.Context(), lobbyID, lobby.TriggerMatchEnded)
		if err != nil {
			respondAdvanceError(w, err)
			return
		}
		writeJSON(w, ls)
	}
}

func lobbyIDFromBody(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req struct {
		LobbyID uuid.UUID `json:"lobby_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LobbyID == uuid.Nil {
		http.Error(w, "missing lobby_id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return req.LobbyID, true
}

func respondAdvanceError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrLobbyNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusConflict)
}
