// internal/handlers/utils.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/inhouseleague/ihl/internal/auth"
)

// extractCookieToken pulls the named cookie value out of a raw Cookie header.
func extractCookieToken(cookie, name string) string {
	parts := strings.Split(cookie, name+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// authedPlayer resolves the requesting player's id from the auth_token cookie.
func authedPlayer(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	cookie := r.Header.Get("Cookie")
	if !strings.Contains(cookie, "auth_token=") {
		http.Error(w, "missing auth_token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	playerIDStr, err := auth.AuthenticateJWT(extractCookieToken(cookie, "auth_token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return uuid.Nil, false
	}
	playerID, err := uuid.Parse(playerIDStr)
	if err != nil {
		http.Error(w, "invalid player id format in token", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return playerID, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
