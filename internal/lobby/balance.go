// internal/lobby/balance.go
package lobby

import "sort"

// SkillMetric extracts the balancing metric from a roster entry.
type SkillMetric func(*LobbyPlayer) int

// MetricFor returns the skill metric for the configured matchmaking system:
// rating under "elo", rank tier otherwise.
func MetricFor(system string) SkillMetric {
	if system == "elo" {
		return func(lp *LobbyPlayer) int { return lp.Player.Rating }
	}
	return func(lp *LobbyPlayer) int { return lp.Player.RankTier }
}

// Autobalance splits the roster into two factions with a snake draft over the
// rank order: sorted positions 1,4,5,8,9 go to faction 1 and 2,3,6,7,10 to
// faction 2, so skill sums stay close under a greedy heuristic. Sorting is
// descending by metric with ties broken by ascending player id, which keeps
// the split deterministic for a given roster.
func Autobalance(players []*LobbyPlayer, metric SkillMetric) {
	ranked := make([]*LobbyPlayer, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		mi, mj := metric(ranked[i]), metric(ranked[j])
		if mi != mj {
			return mi > mj
		}
		return ranked[i].Player.ID.String() < ranked[j].Player.ID.String()
	})

	for i, lp := range ranked {
		// Alternate in blocks of two: A B B A A B B A ...
		if i%4 == 0 || i%4 == 3 {
			lp.Faction = Faction1
		} else {
			lp.Faction = Faction2
		}
	}
}
