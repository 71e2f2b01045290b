// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultDraftOrder is the pick sequence consumed during captain drafting:
// 'A' means captain 1 picks, 'B' means captain 2.
const DefaultDraftOrder = "ABBABAAB"

// InhouseConfig carries the per-guild matchmaking settings. It is built once
// at lobby creation and read-only from then on.
type InhouseConfig struct {
	// ReadyCheckTimeout bounds how long a ready check may run before unready
	// players are dropped back to the queue.
	ReadyCheckTimeout time.Duration

	// CaptainRankThreshold is the minimum skill metric a player needs to be
	// captain-eligible.
	CaptainRankThreshold int

	// CaptainRoleRegexp matches the guild role names that grant captain
	// eligibility, e.g. `Tier ([0-9]+) Captain`.
	CaptainRoleRegexp string

	// MatchmakingSystem selects the skill metric: "default" uses rank tier,
	// "elo" uses rating.
	MatchmakingSystem string

	DraftOrder string

	// RosterSize is the number of players required to fill a lobby.
	RosterSize int
}

// FromEnv builds an InhouseConfig from environment variables, falling back to
// the stock inhouse defaults.
func FromEnv() InhouseConfig {
	return InhouseConfig{
		ReadyCheckTimeout:    time.Duration(getEnvInt("READY_CHECK_TIMEOUT_SEC", 300)) * time.Second,
		CaptainRankThreshold: getEnvInt("CAPTAIN_RANK_THRESHOLD", 3),
		CaptainRoleRegexp:    getEnv("CAPTAIN_ROLE_REGEXP", `Tier ([0-9]+) Captain`),
		MatchmakingSystem:    getEnv("MATCHMAKING_SYSTEM", "default"),
		DraftOrder:           getEnv("DRAFT_ORDER", DefaultDraftOrder),
		RosterSize:           getEnvInt("LOBBY_ROSTER_SIZE", 10),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
