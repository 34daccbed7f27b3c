package scoring

import "math"

// MaxScore is the score ceiling for a single guess
const MaxScore = 5000

// decay is the per-metre falloff of the proximity curve at scale 1
const decay = 0.99866017

// WaterPlonk constrains where a guess may land
type WaterPlonk string

const (
	WaterPlonkNormal    WaterPlonk = "normal"
	WaterPlonkIllegal   WaterPlonk = "illegal"
	WaterPlonkMandatory WaterPlonk = "mandatory"
)

// Input describes one guess as seen by the calculator.
type Input struct {
	Distance       float64 // kilometres from the target
	Scale          float64 // map scale, see geo.MapScale
	TimedOut       bool    // the actor never placed a guess
	CorrectCountry bool    // guess streak code matches the round's
	OnLand         bool
}

// Modifiers are the mode toggles that affect a single guess score.
type Modifiers struct {
	WrongCountryOnly    bool
	WaterPlonk          WaterPlonk
	Invert              bool
	WrongCountryPenalty int
}

// Base returns the proximity score for a distance on a map of the given scale.
//
// The curve is 5000 at distance 0 and decays exponentially; at the map
// diagonal it has already rounded to 0.
func Base(distance, scale float64) int {
	if distance <= 0 {
		return MaxScore
	}
	if scale <= 0 {
		return 0
	}
	score := math.Round(MaxScore * math.Pow(decay, distance*1000/scale))
	return clamp(int(score))
}

// Score computes the final score of a guess.
//
// This is a pure function: identical inputs always produce identical outputs.
//
// Rules, in order:
//   - a timed-out guess scores 0 regardless of modifiers
//   - the proximity score is computed from distance and scale
//   - inversion replaces it with MaxScore minus the proximity score
//   - wrong-country-only zeroes a guess in the correct country
//   - water plonk zeroes guesses on the forbidden surface
//   - the wrong-country penalty is subtracted last, floored at 0
//
// Zeroing rules are evaluated after inversion so that a forbidden guess
// stays at 0 instead of being inverted to the ceiling.
//
// Parameters:
//   - in: the measured guess
//   - m: the active modifiers
//
// Returns:
//   - an integer in [0, MaxScore]
func Score(in Input, m Modifiers) int {
	if in.TimedOut {
		return 0
	}

	score := Base(in.Distance, in.Scale)
	if m.Invert {
		score = clamp(MaxScore - score)
	}

	if m.WrongCountryOnly && in.CorrectCountry {
		score = 0
	}

	switch m.WaterPlonk {
	case WaterPlonkIllegal:
		if !in.OnLand {
			score = 0
		}
	case WaterPlonkMandatory:
		if in.OnLand {
			score = 0
		}
	}

	if !in.CorrectCountry && m.WrongCountryPenalty > 0 {
		score = clamp(score - m.WrongCountryPenalty)
	}

	return score
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
