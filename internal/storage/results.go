package storage

import (
	"sort"

	"github.com/roundkeeper/internal/models"
)

// SortRoundResults orders a round's results in place. Scoring guesses come
// first, closest first (farthest first when the round inverts scoring);
// demoted guesses follow in the same order.
func SortRoundResults(results []models.RoundResult, invert bool) {
	sort.SliceStable(results, func(i, j int) bool {
		return guessBefore(&results[i].Guess, &results[j].Guess, invert)
	})
}

func guessBefore(a, b *models.Guess, invert bool) bool {
	if a.Demoted != b.Demoted {
		return !a.Demoted
	}
	if a.Distance != b.Distance {
		if invert {
			return a.Distance > b.Distance
		}
		return a.Distance < b.Distance
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// SortByCreated orders guesses by insertion time
func SortByCreated(guesses []*models.Guess) {
	sort.SliceStable(guesses, func(i, j int) bool {
		return guesses[i].CreatedAt.Before(guesses[j].CreatedAt)
	})
}

// ExclusiveDemotions returns the ids of guesses that share a streak code with
// a better-placed guess of the same round. Guesses without a streak code
// never collide.
func ExclusiveDemotions(guesses []*models.Guess, invert bool) []string {
	ordered := make([]*models.Guess, len(guesses))
	copy(ordered, guesses)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Distance != b.Distance {
			if invert {
				return a.Distance > b.Distance
			}
			return a.Distance < b.Distance
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	seen := make(map[string]bool)
	var demoted []string
	for _, g := range ordered {
		if g.StreakCode == "" {
			continue
		}
		if seen[g.StreakCode] {
			demoted = append(demoted, g.ID)
			continue
		}
		seen[g.StreakCode] = true
	}
	return demoted
}

// BuildGameResults aggregates a game's guesses per user. rounds must be in
// game order; each result holds one slot per round, nil where the user did
// not guess. Results are ordered by descending total score, then ascending
// total distance.
func BuildGameResults(rounds []*models.Round, guesses []*models.Guess, users map[string]*models.User) []models.GameResult {
	slot := make(map[string]int, len(rounds))
	for i, r := range rounds {
		slot[r.ID] = i
	}

	byUser := make(map[string]*models.GameResult)
	var order []string
	for _, g := range guesses {
		i, ok := slot[g.RoundID]
		if !ok {
			continue
		}
		res, ok := byUser[g.UserID]
		if !ok {
			res = &models.GameResult{Guesses: make([]*models.Guess, len(rounds))}
			if u, found := users[g.UserID]; found {
				res.Player = *u
			} else {
				res.Player = models.User{ID: g.UserID, Username: g.UserID}
			}
			byUser[g.UserID] = res
			order = append(order, g.UserID)
		}
		gc := *g
		res.Guesses[i] = &gc
		res.TotalScore += g.Score
		res.TotalDistance += g.Distance
		res.GuessCount++
		if !g.CreatedAt.Before(res.LastGuessAt) {
			res.LastGuessAt = g.CreatedAt
			res.Streak = g.Streak
		}
	}

	results := make([]models.GameResult, 0, len(order))
	for _, id := range order {
		results = append(results, *byUser[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].TotalScore != results[j].TotalScore {
			return results[i].TotalScore > results[j].TotalScore
		}
		return results[i].TotalDistance < results[j].TotalDistance
	})
	return results
}
