// internal/handlers/player.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/inhouseleague/ihl/internal/auth"
	"github.com/inhouseleague/ihl/internal/database"
	"github.com/inhouseleague/ihl/internal/models"
)

// CreatePlayerHandler registers a player account and issues a session cookie.
// Rank tier, rating, and roles arrive from the roster sync that calls this.
func CreatePlayerHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DiscordID string   `json:"discord_id"`
		Nickname  string   `json:"nickname"`
		Password  string   `json:"password"`
		RankTier  int      `json:"rank_tier"`
		Rating    int      `json:"rating"`
		Roles     []string `json:"roles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request payload", http.StatusBadRequest)
		return
	}
	if req.DiscordID == "" || req.Password == "" {
		http.Error(w, "discord_id and password are required", http.StatusBadRequest)
		return
	}

	hash, err := auth.CreateHash(req.Password, auth.Params)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	id, _ := uuid.NewV7()
	p := &models.Player{
		ID:        id,
		DiscordID: req.DiscordID,
		Nickname:  req.Nickname,
		Password:  hash,
		RankTier:  req.RankTier,
		Rating:    req.Rating,
		Roles:     req.Roles,
	}
	if err := database.CreatePlayer(r.Context(), p); err != nil {
		http.Error(w, "failed to create player", http.StatusInternalServerError)
		return
	}

	token, err := auth.CreateJWT(p.ID.String())
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: token, Path: "/", HttpOnly: true})

	p.Password = ""
	writeJSON(w, p)
}

// LoginHandler checks credentials and issues a session cookie.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DiscordID string `json:"discord_id"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request payload", http.StatusBadRequest)
		return
	}

	p, err := database.GetPlayerByDiscordID(r.Context(), req.DiscordID)
	if err != nil {
		http.Error(w, "unknown player", http.StatusUnauthorized)
		return
	}
	ok, err := auth.ComparePasswordAndHash(req.Password, p.Password)
	if err != nil || !ok {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.CreateJWT(p.ID.String())
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: token, Path: "/", HttpOnly: true})

	p.Password = ""
	writeJSON(w, p)
}
