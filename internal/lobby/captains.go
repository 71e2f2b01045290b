// internal/lobby/captains.go
package lobby

import (
	"math/rand"
	"regexp"

	"github.com/google/uuid"
)

// EligibleCaptains returns the rostered players holding a role matched by the
// captain role pattern whose skill metric meets the configured threshold.
// A broken pattern yields no eligible captains, which falls the lobby through
// to autobalancing rather than blocking it.
func (ls *LobbyState) EligibleCaptains() []uuid.UUID {
	re, err := regexp.Compile(ls.Config.CaptainRoleRegexp)
	if err != nil {
		return nil
	}
	metric := MetricFor(ls.Config.MatchmakingSystem)

	var eligible []uuid.UUID
	for _, lp := range ls.Players {
		if metric(lp) < ls.Config.CaptainRankThreshold {
			continue
		}
		for _, role := range lp.Player.Roles {
			if re.MatchString(role) {
				eligible = append(eligible, lp.Player.ID)
				break
			}
		}
	}
	return eligible
}

// pickCaptains selects two distinct ids uniformly at random without
// replacement. The random source is injected so tests can pin the outcome.
func pickCaptains(rng *rand.Rand, eligible []uuid.UUID) (uuid.UUID, uuid.UUID) {
	picks := make([]uuid.UUID, len(eligible))
	copy(picks, eligible)
	rng.Shuffle(len(picks), func(i, j int) { picks[i], picks[j] = picks[j], picks[i] })
	return picks[0], picks[1]
}
