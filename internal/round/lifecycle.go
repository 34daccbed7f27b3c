package round

import "github.com/roundkeeper/internal/models"

// State is the lifecycle state of a session's round
type State int

const (
	NotStarted State = iota
	InRound
	Finished
)

func (s State) String() string {
	switch s {
	case InRound:
		return "in_round"
	case Finished:
		return "finished"
	default:
		return "not_started"
	}
}

// Kind classifies the difference between two seed snapshots
type Kind int

const (
	// NoChange means nothing relevant moved upstream
	NoChange Kind = iota
	// HostGuessed means the host committed a guess and the round is over
	HostGuessed
	// LocationChanged means the round was replaced without a scored guess
	LocationChanged
	// Stale means the new snapshot is older than the held one
	Stale
)

func (k Kind) String() string {
	switch k {
	case HostGuessed:
		return "host_guessed"
	case LocationChanged:
		return "location_changed"
	case Stale:
		return "stale"
	default:
		return "no_change"
	}
}

// Transition is the result of diffing two seed snapshots
type Transition struct {
	Kind Kind
	// HostGuess is the guess that ended the round, set for HostGuessed
	HostGuess *models.HostGuess
	// Next is the latest round of the new snapshot
	Next models.SeedRound
	// GameOver is set when the new snapshot carries the terminal tag
	GameOver bool
}

// Diff compares the held seed with a freshly polled one.
//
// This is a pure function over two immutable snapshots.
//
// Parameters:
//   - held: the snapshot the session acted on last
//   - next: the snapshot just polled
//   - location: the target of the session's current round
//
// Returns:
//   - HostGuessed when next carries more host guesses than held
//   - LocationChanged when only the current target moved
//   - Stale when next is behind held (fewer rounds or host guesses)
//   - NoChange otherwise
func Diff(held, next *models.Seed, location models.LatLng) Transition {
	if held == nil || next == nil {
		return Transition{Kind: NoChange}
	}

	heldGuesses := len(held.Player.Guesses)
	nextGuesses := len(next.Player.Guesses)
	if nextGuesses < heldGuesses || len(next.Rounds) < len(held.Rounds) || next.Round < held.Round {
		return Transition{Kind: Stale}
	}

	current, ok := next.CurrentRound()
	if !ok {
		return Transition{Kind: NoChange}
	}

	if nextGuesses > heldGuesses {
		t := Transition{
			Kind:     HostGuessed,
			Next:     current,
			GameOver: next.Finished(),
		}
		if g, ok := HostGuessFor(next); ok {
			t.HostGuess = &g
		}
		return t
	}

	if !current.Location().Equal(location) {
		return Transition{Kind: LocationChanged, Next: current}
	}

	return Transition{Kind: NoChange}
}

// HostGuessFor returns the host guess that closed the latest completed round.
// While a game is running the seed already points at the next round, so the
// closing guess sits two slots behind the round number; once finished, one.
func HostGuessFor(seed *models.Seed) (models.HostGuess, bool) {
	offset := 2
	if seed.Finished() {
		offset = 1
	}
	i := seed.Round - offset
	if i < 0 || i >= len(seed.Player.Guesses) {
		return models.HostGuess{}, false
	}
	return seed.Player.Guesses[i], true
}

// Next returns the lifecycle state after applying t in state s
func Next(s State, t Transition) State {
	switch {
	case s != InRound:
		return s
	case t.Kind == HostGuessed && t.GameOver:
		return Finished
	default:
		return InRound
	}
}
