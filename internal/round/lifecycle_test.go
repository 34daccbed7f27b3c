package round

import (
	"testing"

	"github.com/roundkeeper/internal/models"
)

var locs = []models.SeedRound{
	{Lat: 10, Lng: 10, PanoID: "p1"},
	{Lat: 20, Lng: 20, PanoID: "p2"},
	{Lat: 30, Lng: 30, PanoID: "p3"},
}

// seedAt builds a snapshot where the host has guessed `guessed` rounds
func seedAt(rounds, guessed int, state string) *models.Seed {
	s := &models.Seed{
		Token:  "token",
		Round:  rounds,
		State:  state,
		Rounds: append([]models.SeedRound(nil), locs[:rounds]...),
	}
	for i := 0; i < guessed; i++ {
		s.Player.Guesses = append(s.Player.Guesses, models.HostGuess{Lat: float64(i), Lng: float64(i)})
	}
	return s
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		held     *models.Seed
		next     *models.Seed
		location models.LatLng
		wantKind Kind
		wantOver bool
		wantHost *models.HostGuess
	}{
		{
			name:     "unchanged seed",
			held:     seedAt(1, 0, models.SeedStateStarted),
			next:     seedAt(1, 0, models.SeedStateStarted),
			location: locs[0].Location(),
			wantKind: NoChange,
		},
		{
			name:     "host guessed, next round opened",
			held:     seedAt(1, 0, models.SeedStateStarted),
			next:     seedAt(2, 1, models.SeedStateStarted),
			location: locs[0].Location(),
			wantKind: HostGuessed,
			wantHost: &models.HostGuess{Lat: 0, Lng: 0},
		},
		{
			name:     "host guessed last round",
			held:     seedAt(3, 2, models.SeedStateStarted),
			next:     seedAt(3, 3, models.SeedStateFinished),
			location: locs[2].Location(),
			wantKind: HostGuessed,
			wantOver: true,
			wantHost: &models.HostGuess{Lat: 2, Lng: 2},
		},
		{
			name: "location replaced without guess",
			held: seedAt(1, 0, models.SeedStateStarted),
			next: func() *models.Seed {
				s := seedAt(1, 0, models.SeedStateStarted)
				s.Rounds[0] = models.SeedRound{Lat: 50, Lng: 50}
				return s
			}(),
			location: locs[0].Location(),
			wantKind: LocationChanged,
		},
		{
			name:     "older snapshot is stale",
			held:     seedAt(2, 1, models.SeedStateStarted),
			next:     seedAt(1, 0, models.SeedStateStarted),
			location: locs[1].Location(),
			wantKind: Stale,
		},
		{
			name:     "nil snapshot",
			held:     seedAt(1, 0, models.SeedStateStarted),
			next:     nil,
			location: locs[0].Location(),
			wantKind: NoChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.held, tt.next, tt.location)
			if got.Kind != tt.wantKind {
				t.Fatalf("expected %s, got %s", tt.wantKind, got.Kind)
			}
			if got.GameOver != tt.wantOver {
				t.Errorf("expected game over %v, got %v", tt.wantOver, got.GameOver)
			}
			if tt.wantHost != nil {
				if got.HostGuess == nil {
					t.Fatalf("expected host guess %+v, got nil", *tt.wantHost)
				}
				if *got.HostGuess != *tt.wantHost {
					t.Errorf("expected host guess %+v, got %+v", *tt.wantHost, *got.HostGuess)
				}
			}
		})
	}
}

func TestDiff_Idempotent(t *testing.T) {
	held := seedAt(2, 1, models.SeedStateStarted)
	location := locs[1].Location()
	for i := 0; i < 2; i++ {
		if got := Diff(held, seedAt(2, 1, models.SeedStateStarted), location); got.Kind != NoChange {
			t.Fatalf("poll %d: expected no change, got %s", i+1, got.Kind)
		}
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		name  string
		state State
		t     Transition
		want  State
	}{
		{name: "not started ignores", state: NotStarted, t: Transition{Kind: HostGuessed}, want: NotStarted},
		{name: "round continues", state: InRound, t: Transition{Kind: HostGuessed}, want: InRound},
		{name: "replacement stays in round", state: InRound, t: Transition{Kind: LocationChanged}, want: InRound},
		{name: "terminal guess finishes", state: InRound, t: Transition{Kind: HostGuessed, GameOver: true}, want: Finished},
		{name: "finished is absorbing", state: Finished, t: Transition{Kind: LocationChanged}, want: Finished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Next(tt.state, tt.t); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
