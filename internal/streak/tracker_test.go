package streak

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/internal/storage"
)

func newGame(t *testing.T, locs ...models.LatLng) (*storage.MemoryStorage, []*models.Round) {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	if err := s.CreateGame(ctx, &models.Game{ID: "g1"}); err != nil {
		t.Fatalf("failed to create game: %v", err)
	}
	var rounds []*models.Round
	for _, loc := range locs {
		r := &models.Round{GameID: "g1", Location: loc}
		if err := s.CreateRound(ctx, r); err != nil {
			t.Fatalf("failed to create round: %v", err)
		}
		rounds = append(rounds, r)
	}
	return s, rounds
}

func TestTracker_Strict(t *testing.T) {
	ctx := context.Background()
	locs := []models.LatLng{{Lat: 1}, {Lat: 2}, {Lat: 3}}
	s, rounds := newGame(t, locs...)
	tracker := NewTracker(s, Strict, 0)

	tests := []struct {
		name       string
		round      int
		correct    bool
		last       *models.LatLng
		wantAfter  int
		wantLost   int
		wantStored int
	}{
		{name: "first correct", round: 0, correct: true, wantAfter: 1, wantStored: 1},
		{name: "second correct", round: 1, correct: true, last: &locs[0], wantAfter: 2, wantStored: 2},
		{name: "wrong loses streak", round: 2, correct: false, last: &locs[1], wantAfter: 0, wantLost: 2, wantStored: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd, err := tracker.Record(ctx, "u1", rounds[tt.round].ID, tt.correct, tt.last)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if upd.After != tt.wantAfter {
				t.Errorf("expected after %d, got %d", tt.wantAfter, upd.After)
			}
			if upd.LastStreak != tt.wantLost {
				t.Errorf("expected lost streak %d, got %d", tt.wantLost, upd.LastStreak)
			}
			stored, _ := s.GetUserStreak(ctx, "u1")
			if stored.Count != tt.wantStored {
				t.Errorf("expected stored %d, got %d", tt.wantStored, stored.Count)
			}
		})
	}
}

func TestTracker_SkipResets(t *testing.T) {
	ctx := context.Background()
	locs := []models.LatLng{{Lat: 1}, {Lat: 2}, {Lat: 3}}
	s, rounds := newGame(t, locs...)
	tracker := NewTracker(s, Strict, 0)

	if _, err := tracker.Record(ctx, "u1", rounds[0].ID, true, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// round 2 was completed without u1; the session's last location is round 2's
	upd, err := tracker.Record(ctx, "u1", rounds[2].ID, true, &locs[1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !upd.Skipped {
		t.Errorf("expected skip to be detected")
	}
	if upd.After != 1 {
		t.Errorf("expected streak to restart at 1, got %d", upd.After)
	}
}

func TestTracker_Replace(t *testing.T) {
	tests := []struct {
		name       string
		guesses    []bool // correctness of each guess in round 2, later ones replace earlier
		wantAfter  int
		wantLost   int
		wantStored int
	}{
		{name: "correct then correct", guesses: []bool{true, true}, wantAfter: 2, wantStored: 2},
		{name: "correct then wrong", guesses: []bool{true, false}, wantAfter: 0, wantLost: 1, wantStored: 0},
		{name: "wrong then correct", guesses: []bool{false, true}, wantAfter: 2, wantStored: 2},
		{name: "wrong then wrong", guesses: []bool{false, false}, wantAfter: 0, wantLost: 1, wantStored: 0},
		{name: "correct wrong correct", guesses: []bool{true, false, true}, wantAfter: 2, wantStored: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			locs := []models.LatLng{{Lat: 1}, {Lat: 2}}
			s, rounds := newGame(t, locs...)
			tracker := NewTracker(s, Strict, 0)

			if _, err := tracker.Record(ctx, "u1", rounds[0].ID, true, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			upd, err := tracker.Record(ctx, "u1", rounds[1].ID, tt.guesses[0], &locs[0])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, correct := range tt.guesses[1:] {
				prior := &models.Guess{Streak: upd.After, LastStreak: upd.LastStreak}
				upd, err = tracker.Replace(ctx, "u1", rounds[1].ID, correct, prior, &locs[0])
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}

			if upd.Skipped {
				t.Errorf("a replaced guess is not a skipped round")
			}
			if upd.After != tt.wantAfter {
				t.Errorf("expected after %d, got %d", tt.wantAfter, upd.After)
			}
			if upd.LastStreak != tt.wantLost {
				t.Errorf("expected lost streak %d, got %d", tt.wantLost, upd.LastStreak)
			}
			stored, _ := s.GetUserStreak(ctx, "u1")
			if stored.Count != tt.wantStored {
				t.Errorf("expected stored %d, got %d", tt.wantStored, stored.Count)
			}
		})
	}
}

func TestTracker_Provisional(t *testing.T) {
	ctx := context.Background()
	locs := []models.LatLng{{Lat: 1}, {Lat: 2}}
	s, rounds := newGame(t, locs...)
	_ = s.AddUserStreak(ctx, "u1", rounds[0].ID)

	t.Run("multi guess never writes", func(t *testing.T) {
		tracker := NewTracker(s, MultiGuess, 0)
		upd, err := tracker.Record(ctx, "u1", rounds[1].ID, true, &locs[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if upd.After != 2 {
			t.Errorf("expected provisional 2, got %d", upd.After)
		}
		upd, _ = tracker.Record(ctx, "u1", rounds[1].ID, false, &locs[0])
		if upd.After != 0 {
			t.Errorf("expected provisional 0, got %d", upd.After)
		}
		stored, _ := s.GetUserStreak(ctx, "u1")
		if stored.Count != 1 {
			t.Errorf("expected stored streak untouched at 1, got %d", stored.Count)
		}
	})

	t.Run("battle royale commits resets", func(t *testing.T) {
		tracker := NewTracker(s, BattleRoyale, 0)
		upd, err := tracker.Record(ctx, "u1", rounds[1].ID, false, &locs[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if upd.After != 0 || upd.LastStreak != 1 {
			t.Errorf("expected after 0 and lost 1, got %+v", upd)
		}
		stored, _ := s.GetUserStreak(ctx, "u1")
		if stored.Count != 0 {
			t.Errorf("expected stored streak reset, got %d", stored.Count)
		}
	})
}

func TestMatches(t *testing.T) {
	tests := []struct {
		code, round string
		want        bool
	}{
		{"fr", "fr", true},
		{"de", "fr", false},
		{"", "fr", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q vs %q", tt.code, tt.round), func(t *testing.T) {
			if got := Matches(tt.code, tt.round); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTracker_CommitRound(t *testing.T) {
	ctx := context.Background()
	s, rounds := newGame(t, models.LatLng{Lat: 1})
	tracker := NewTracker(s, MultiGuess, 3)

	var guesses []*models.Guess
	for i := 0; i < 40; i++ {
		code := "fr"
		if i%2 == 1 {
			code = "de"
		}
		userID := fmt.Sprintf("u%d", i)
		_ = s.AddUserStreak(ctx, userID, rounds[0].ID)
		guesses = append(guesses, &models.Guess{UserID: userID, StreakCode: code})
	}

	if err := tracker.CommitRound(ctx, rounds[0].ID, "fr", guesses); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, g := range guesses {
		stored, _ := s.GetUserStreak(ctx, g.UserID)
		want := 2
		if i%2 == 1 {
			want = 0
		}
		if stored.Count != want {
			t.Errorf("%s: expected %d, got %d", g.UserID, want, stored.Count)
		}
	}
}

// slowStore records the peak number of concurrent calls
type slowStore struct {
	mu      sync.Mutex
	active  int32
	peak    int32
	failFor string
}

func (s *slowStore) GetUserStreak(ctx context.Context, userID string) (*models.Streak, error) {
	return &models.Streak{UserID: userID}, nil
}

func (s *slowStore) AddUserStreak(ctx context.Context, userID, roundID string) error {
	return s.touch(userID)
}

func (s *slowStore) ResetUserStreak(ctx context.Context, userID string) error {
	return s.touch(userID)
}

func (s *slowStore) SetUserStreak(ctx context.Context, userID, roundID string, count int) error {
	return s.touch(userID)
}

func (s *slowStore) touch(userID string) error {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	s.mu.Lock()
	if n > s.peak {
		s.peak = n
	}
	s.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	if userID == s.failFor {
		return errors.New("write failed")
	}
	return nil
}

func TestTracker_CommitRound_BoundedFanOut(t *testing.T) {
	store := &slowStore{}
	tracker := NewTracker(store, MultiGuess, DefaultCommitConcurrency)

	var guesses []*models.Guess
	for i := 0; i < 100; i++ {
		guesses = append(guesses, &models.Guess{UserID: fmt.Sprintf("u%d", i), StreakCode: "fr"})
	}
	if err := tracker.CommitRound(context.Background(), "r1", "fr", guesses); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.peak > DefaultCommitConcurrency {
		t.Errorf("expected at most %d concurrent writes, got %d", DefaultCommitConcurrency, store.peak)
	}
	if store.peak < 2 {
		t.Errorf("expected commits to run in parallel, peak was %d", store.peak)
	}
}

func TestTracker_CommitRound_PropagatesError(t *testing.T) {
	store := &slowStore{failFor: "u3"}
	tracker := NewTracker(store, MultiGuess, 2)

	var guesses []*models.Guess
	for i := 0; i < 10; i++ {
		guesses = append(guesses, &models.Guess{UserID: fmt.Sprintf("u%d", i)})
	}
	if err := tracker.CommitRound(context.Background(), "r1", "fr", guesses); err == nil {
		t.Errorf("expected error from failing store")
	}
}
