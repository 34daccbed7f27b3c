// Package streak keeps per-user runs of consecutive correct rounds.
//
// In strict mode every guess commits immediately. When a round accepts
// several guesses per user (multi-guess, battle royale) each submission only
// gets a provisional value for display, and the authoritative commit runs
// once at round end over the round's final guesses.
package streak

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roundkeeper/internal/models"
)

// DefaultCommitConcurrency bounds the fan-out of round-end commits
const DefaultCommitConcurrency = 10

// Store is the streak subset of the repository
type Store interface {
	GetUserStreak(ctx context.Context, userID string) (*models.Streak, error)
	AddUserStreak(ctx context.Context, userID, roundID string) error
	ResetUserStreak(ctx context.Context, userID string) error
	SetUserStreak(ctx context.Context, userID, roundID string, count int) error
}

// Policy selects how a submission updates the stored streak
type Policy int

const (
	// Strict commits every guess immediately
	Strict Policy = iota
	// MultiGuess only computes provisional values; round end commits
	MultiGuess
	// BattleRoyale is provisional too, but a wrong guess commits its reset at once
	BattleRoyale
)

// Update is the outcome of recording one guess
type Update struct {
	Before     int  // stored count before this guess
	After      int  // count to display with this guess
	LastStreak int  // lost streak to report, 0 when nothing was lost
	Skipped    bool // the stored streak was reset because a round was sat out
}

// Tracker applies streak rules on top of a Store
type Tracker struct {
	store       Store
	policy      Policy
	concurrency int
}

// NewTracker creates a tracker. A non-positive concurrency uses DefaultCommitConcurrency.
func NewTracker(store Store, policy Policy, concurrency int) *Tracker {
	if concurrency <= 0 {
		concurrency = DefaultCommitConcurrency
	}
	return &Tracker{store: store, policy: policy, concurrency: concurrency}
}

// Policy returns the tracker's policy
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Matches reports whether a guess streak code counts as the correct region.
// An unknown round code never matches.
func Matches(code, roundCode string) bool {
	return roundCode != "" && code == roundCode
}

// Provisional returns the display value of a streak without committing it
func Provisional(stored int, correct bool) int {
	if !correct {
		return 0
	}
	return stored + 1
}

// Record applies one guess to the user's streak.
//
// The stored streak is reset first when its last location differs from
// lastLocation, the location of the round the session last completed.
func (t *Tracker) Record(ctx context.Context, userID, roundID string, correct bool, lastLocation *models.LatLng) (Update, error) {
	before, err := t.store.GetUserStreak(ctx, userID)
	if err != nil {
		return Update{}, fmt.Errorf("failed to get streak: %w", err)
	}

	upd := Update{Before: before.Count}
	if !correct && before.Count > 0 {
		upd.LastStreak = before.Count
	}

	stored := before.Count
	if skipped(before, lastLocation) {
		if err := t.store.ResetUserStreak(ctx, userID); err != nil {
			return Update{}, fmt.Errorf("failed to reset skipped streak: %w", err)
		}
		stored = 0
		upd.Skipped = true
	}

	switch t.policy {
	case Strict:
		if err := t.Commit(ctx, userID, roundID, correct); err != nil {
			return Update{}, err
		}
		upd.After = Provisional(stored, correct)
	case MultiGuess:
		upd.After = Provisional(stored, correct)
	case BattleRoyale:
		upd.After = Provisional(stored, correct)
		if !correct && stored > 0 {
			if err := t.store.ResetUserStreak(ctx, userID); err != nil {
				return Update{}, fmt.Errorf("failed to reset streak: %w", err)
			}
		}
	}
	return upd, nil
}

// Replace applies a guess that overwrites the user's earlier guess in the
// same round. Under Strict the earlier guess already committed, so its effect
// is undone first and the round counts once. Other policies never committed
// the earlier guess and fall back to Record.
func (t *Tracker) Replace(ctx context.Context, userID, roundID string, correct bool, prior *models.Guess, lastLocation *models.LatLng) (Update, error) {
	if t.policy != Strict || prior == nil {
		return t.Record(ctx, userID, roundID, correct, lastLocation)
	}

	current, err := t.store.GetUserStreak(ctx, userID)
	if err != nil {
		return Update{}, fmt.Errorf("failed to get streak: %w", err)
	}

	// base is the count the user held before the earlier guess
	base := 0
	switch {
	case current.LastRoundID == roundID && current.Count > 0:
		base = current.Count - 1
	case current.LastRoundID == roundID:
		base = prior.LastStreak
	case !skipped(&models.Streak{Count: prior.LastStreak, LastLocation: current.LastLocation}, lastLocation):
		base = prior.LastStreak
	}

	upd := Update{Before: base}
	if correct {
		if err := t.store.SetUserStreak(ctx, userID, roundID, base+1); err != nil {
			return Update{}, fmt.Errorf("failed to set streak: %w", err)
		}
		upd.After = base + 1
		return upd, nil
	}

	upd.LastStreak = base
	if current.Count > 0 {
		if err := t.store.ResetUserStreak(ctx, userID); err != nil {
			return Update{}, fmt.Errorf("failed to reset streak: %w", err)
		}
	}
	return upd, nil
}

func skipped(s *models.Streak, lastLocation *models.LatLng) bool {
	if s.Count == 0 || lastLocation == nil {
		return false
	}
	return s.LastLocation == nil || !s.LastLocation.Equal(*lastLocation)
}

// Commit persists the effect of one final guess
func (t *Tracker) Commit(ctx context.Context, userID, roundID string, correct bool) error {
	if correct {
		if err := t.store.AddUserStreak(ctx, userID, roundID); err != nil {
			return fmt.Errorf("failed to add streak: %w", err)
		}
		return nil
	}
	if err := t.store.ResetUserStreak(ctx, userID); err != nil {
		return fmt.Errorf("failed to reset streak: %w", err)
	}
	return nil
}

// CommitRound replays a round's final guesses against the stored streaks
// with bounded concurrency. The first failure cancels the remaining work.
func (t *Tracker) CommitRound(ctx context.Context, roundID, roundCode string, guesses []*models.Guess) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)

	for _, guess := range guesses {
		guess := guess
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return t.Commit(gctx, guess.UserID, roundID, Matches(guess.StreakCode, roundCode))
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to commit round streaks: %w", err)
	}
	return nil
}
