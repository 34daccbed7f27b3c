package storage

import (
	"context"

	"github.com/roundkeeper/internal/models"
)

// GameRepository defines operations on games
type GameRepository interface {
	// CreateGame returns ErrGameExists when a game with the same id is already stored
	CreateGame(ctx context.Context, game *models.Game) error
	GetGame(ctx context.Context, gameID string) (*models.Game, error)
	FinishGame(ctx context.Context, gameID string) error
	SetGameWinner(ctx context.Context, gameID, userID string) error
}

// RoundRepository defines operations on rounds
type RoundRepository interface {
	// CreateRound assigns the round id and its 1-based index within the game
	CreateRound(ctx context.Context, round *models.Round) error
	GetRound(ctx context.Context, roundID string) (*models.Round, error)
	GetCurrentRound(ctx context.Context, gameID string) (*models.Round, error)
	GetPreviousRound(ctx context.Context, roundID string) (*models.Round, error)
	SetRoundStreakCode(ctx context.Context, roundID, code string) error
	GetLastRoundLocation(ctx context.Context) (*models.LatLng, error)
}

// UserRepository defines operations on users
type UserRepository interface {
	GetOrCreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// GuessRepository defines operations on guesses
type GuessRepository interface {
	// CreateGuess returns ErrGuessExists when the user already guessed the round
	CreateGuess(ctx context.Context, guess *models.Guess) error
	UpdateGuess(ctx context.Context, guess *models.Guess) error
	DeleteGuess(ctx context.Context, guessID string) error
	GetUserGuess(ctx context.Context, roundID, userID string) (*models.Guess, error)
	GetUserLastGuess(ctx context.Context, userID string) (*models.Guess, error)
	GetRoundGuesses(ctx context.Context, roundID string) ([]*models.Guess, error)
	MarkGuessesExclusive(ctx context.Context, roundID string) error
}

// StreakRepository defines operations on streaks
type StreakRepository interface {
	// GetUserStreak returns a zero streak for users that never had one
	GetUserStreak(ctx context.Context, userID string) (*models.Streak, error)
	AddUserStreak(ctx context.Context, userID, roundID string) error
	ResetUserStreak(ctx context.Context, userID string) error
	// SetUserStreak overwrites a user's count and the round it was last earned in
	SetUserStreak(ctx context.Context, userID, roundID string, count int) error
}

// ResultRepository defines the ordered result reads
type ResultRepository interface {
	GetRoundResults(ctx context.Context, roundID string) ([]models.RoundResult, error)
	GetGameResults(ctx context.Context, gameID string) ([]models.GameResult, error)
}

// Repository is the persistence port of the game session.
// It is implemented by the in-memory, SQLite and Cassandra storages.
type Repository interface {
	GameRepository
	RoundRepository
	UserRepository
	GuessRepository
	StreakRepository
	ResultRepository
}

// Errors
var (
	ErrGameExists    = &StorageError{Message: "game already exists"}
	ErrGameNotFound  = &StorageError{Message: "game not found"}
	ErrRoundNotFound = &StorageError{Message: "round not found"}
	ErrUserNotFound  = &StorageError{Message: "user not found"}
	ErrGuessNotFound = &StorageError{Message: "guess not found"}
	ErrGuessExists   = &StorageError{Message: "user already has a guess for this round"}
)

// StorageError represents a storage error
type StorageError struct {
	Message string
}

func (e *StorageError) Error() string {
	return e.Message
}
