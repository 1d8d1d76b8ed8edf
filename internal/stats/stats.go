// Package stats accumulates lifetime leaderboard counters per user and ranks
// players for the leaderboard endpoint. It is the only writer of the
// LeaderboardStats block embedded in persisted users.
package stats

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/game"
	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

// Sort keys accepted by the leaderboard endpoint.
const (
	SortTotal   = "total"
	SortHighest = "highest"
	SortCombos  = "combos"
	SortWins    = "wins"
	SortBest    = "best"
)

// Aggregator loads, mutates and persists per-user stats through the bridge.
type Aggregator struct {
	bridge *store.Bridge
	log    *logrus.Logger
}

func NewAggregator(bridge *store.Bridge, log *logrus.Logger) *Aggregator {
	return &Aggregator{bridge: bridge, log: log}
}

// TallyFromEvents folds a list of combo events into a per-category count map,
// for callers that record raw events instead of a tally.
func TallyFromEvents(events []string) map[string]int {
	tally := make(map[string]int, len(events))
	for _, e := range events {
		if game.ComboFromString(e) != game.ComboNone {
			tally[e]++
		}
	}
	return tally
}

// UpdatePlayerStats merges one finished game into the user's lifetime
// counters, lazily initializing a record for first-time players, and
// persists the result.
func (a *Aggregator) UpdatePlayerStats(ctx context.Context, userID string, finalScore int, won bool, comboTally map[string]int) error {
	u, err := a.bridge.LoadUser(ctx, userID)
	if err != nil {
		u = &models.User{
			ID:   userID,
			Name: "Guest" + truncate(userID, 4),
			Type: models.UserTypeGuest,
		}
	}

	st := &u.Stats
	st.GamesPlayed++
	st.TotalScore += finalScore
	if finalScore > st.HighestScore {
		st.HighestScore = finalScore
	}
	if won {
		st.GamesWon++
	}

	if st.ComboCounts == nil && len(comboTally) > 0 {
		st.ComboCounts = make(map[string]int, len(comboTally))
	}
	for name, n := range comboTally {
		combo := game.ComboFromString(name)
		if combo == game.ComboNone || n <= 0 {
			continue
		}
		st.ComboCounts[name] += n
		st.TotalCombosRolled += n
		if combo.Rank() > game.ComboFromString(st.BestCombo).Rank() {
			st.BestCombo = name
		}
	}

	return a.bridge.SaveUser(ctx, u)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Entry is a leaderboard row projected for display.
type Entry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GamesPlayed int    `json:"gamesPlayed"`
	GamesWon    int    `json:"gamesWon"`
	TotalScore  int    `json:"totalScore"`
	Highest     int    `json:"highestScore"`
	TotalCombos int    `json:"totalCombos"`
	BestCombo   string `json:"bestCombo,omitempty"`

	comboCounts map[string]int
}

// TopPlayers loads every user with at least one recorded game and sorts by
// sortKey. The "best" ordering is rank-weighted, not additive: any non-zero
// count of a rarer combo category outranks any count of a more common one.
func (a *Aggregator) TopPlayers(ctx context.Context, limit int, sortKey string) ([]Entry, error) {
	users, err := a.bridge.LoadAllUsers(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(users))
	for _, u := range users {
		if u.Stats.GamesPlayed < 1 {
			continue
		}
		entries = append(entries, Entry{
			ID:          u.ID,
			Name:        u.Name,
			GamesPlayed: u.Stats.GamesPlayed,
			GamesWon:    u.Stats.GamesWon,
			TotalScore:  u.Stats.TotalScore,
			Highest:     u.Stats.HighestScore,
			TotalCombos: u.Stats.TotalCombosRolled,
			BestCombo:   u.Stats.BestCombo,
			comboCounts: u.Stats.ComboCounts,
		})
	}

	less := func(a, b Entry) bool { return a.TotalScore > b.TotalScore }
	switch sortKey {
	case SortHighest:
		less = func(a, b Entry) bool { return a.Highest > b.Highest }
	case SortCombos:
		less = func(a, b Entry) bool { return a.TotalCombos > b.TotalCombos }
	case SortWins:
		less = func(a, b Entry) bool { return a.GamesWon > b.GamesWon }
	case SortBest:
		less = func(a, b Entry) bool { return compareBest(a.comboCounts, b.comboCounts) > 0 }
	}
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// compareBest walks the combo categories from rarest to most common and
// compares counts at the first category where the two players differ.
func compareBest(a, b map[string]int) int {
	for i := len(game.ComboRankOrder) - 1; i >= 0; i-- {
		name := string(game.ComboRankOrder[i])
		ca, cb := a[name], b[name]
		if ca != cb {
			if ca > cb {
				return 1
			}
			return -1
		}
	}
	return 0
}
