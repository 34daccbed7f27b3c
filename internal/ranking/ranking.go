// Package ranking re-orders aggregated game results for the scoring
// variants that do not rank by total score: darts and the countdown family.
package ranking

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/roundkeeper/internal/config"
	"github.com/roundkeeper/internal/models"
)

// Display markers for countdown qualification
const (
	MarkerQualified    = "✅"
	MarkerDisqualified = "❌"
)

// DefaultRounds is the number of rounds a complete game has
const DefaultRounds = 5

// Namer maps a guess to the region name the countdown rules compare.
// A nil guess or an unmappable region yields false.
type Namer func(g *models.Guess) (string, bool)

// Options are the inputs of Apply besides the results themselves
type Options struct {
	Modes  config.Modes
	Rounds int // guesses needed for a complete game, DefaultRounds when 0
	Namer  Namer
}

// Apply runs the countdown pass, then the darts pass, over results that are
// already ordered by total score. The input slice is not modified.
func Apply(results []models.GameResult, opts Options) []models.GameResult {
	out := make([]models.GameResult, len(results))
	copy(out, results)

	if opts.Modes.CountdownMode != "" && opts.Modes.CountdownMode != config.CountdownNormal && opts.Namer != nil {
		out = Countdown(out, opts.Modes.CountdownMode, opts.Modes.ABCModeLetters, opts.Namer)
	}
	if opts.Modes.IsDartsMode {
		out = Darts(out, opts.Modes.DartsTargetScore, opts.Modes.IsDartsModeBust, opts.Rounds)
	}
	return out
}

// Darts orders results by how close their total is to target.
//
// Results are split into buckets that keep their relative rank:
//   - bust on: complete at or under target, complete over target, incomplete
//   - bust off: complete, incomplete
//
// Each bucket is sorted by |total - target|, stable on ties.
func Darts(results []models.GameResult, target int, bust bool, rounds int) []models.GameResult {
	if rounds <= 0 {
		rounds = DefaultRounds
	}

	var under, over, incomplete []models.GameResult
	for _, r := range results {
		switch {
		case r.GuessCount != rounds:
			incomplete = append(incomplete, r)
		case bust && r.TotalScore > target:
			over = append(over, r)
		default:
			under = append(under, r)
		}
	}

	byDistance := func(bucket []models.GameResult) {
		sort.SliceStable(bucket, func(i, j int) bool {
			return abs(bucket[i].TotalScore-target) < abs(bucket[j].TotalScore-target)
		})
	}
	byDistance(under)
	byDistance(over)
	byDistance(incomplete)

	out := make([]models.GameResult, 0, len(results))
	out = append(out, under...)
	out = append(out, over...)
	return append(out, incomplete...)
}

// Countdown checks every result's chain of region names against mode,
// records the chain for display, marks each result qualified or not and moves
// disqualified results behind qualified ones. Relative order is preserved
// within both groups.
func Countdown(results []models.GameResult, mode, letters string, namer Namer) []models.GameResult {
	qualified := make([]models.GameResult, 0, len(results))
	var disqualified []models.GameResult

	for _, r := range results {
		names := make([]string, len(r.Guesses))
		links := make([]string, len(r.Guesses))
		valid := true
		for i, g := range r.Guesses {
			name, ok := namer(g)
			if !ok {
				links[i] = "Invalid"
				valid = false
				continue
			}
			names[i] = strings.ReplaceAll(name, " ", "")
			links[i] = names[i] + " (" + strconv.Itoa(len([]rune(names[i]))) + ")"
		}

		r.NameChain = strings.Join(links, " => ")
		if valid && Qualifies(names, mode, letters) {
			r.Marker = MarkerQualified
			qualified = append(qualified, r)
		} else {
			r.Marker = MarkerDisqualified
			disqualified = append(disqualified, r)
		}
	}
	return append(qualified, disqualified...)
}

// Qualifies reports whether a chain of names satisfies a countdown mode.
// Names are compared with spaces removed.
func Qualifies(names []string, mode, letters string) bool {
	switch mode {
	case config.CountdownDown:
		return strictly(names, func(prev, cur string) bool { return runeLen(cur) < runeLen(prev) })
	case config.CountdownUp:
		return strictly(names, func(prev, cur string) bool { return runeLen(cur) > runeLen(prev) })
	case config.CountdownAlphabeticalAZ:
		return strictly(names, func(prev, cur string) bool { return fold(cur) > fold(prev) })
	case config.CountdownAlphabeticalZA:
		return strictly(names, func(prev, cur string) bool { return fold(cur) < fold(prev) })
	case config.CountdownABC:
		return initials(names, letters)
	default:
		return true
	}
}

func strictly(names []string, ok func(prev, cur string) bool) bool {
	for i := 1; i < len(names); i++ {
		if !ok(names[i-1], names[i]) {
			return false
		}
	}
	return true
}

// initials requires the i-th name to start with the i-th letter
func initials(names []string, letters string) bool {
	var want []rune
	for _, r := range letters {
		if unicode.IsLetter(r) {
			want = append(want, unicode.ToLower(r))
		}
	}
	for i, name := range names {
		if i >= len(want) {
			return false
		}
		first := []rune(fold(name))
		if len(first) == 0 || first[0] != want[i] {
			return false
		}
	}
	return true
}

func fold(s string) string {
	return strings.ToLower(s)
}

func runeLen(s string) int {
	return len([]rune(s))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
