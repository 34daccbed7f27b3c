package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roundkeeper/internal/models"
)

var _ Repository = (*MemoryStorage)(nil)

// MemoryStorage provides in-memory storage for games, rounds, users,
// guesses and streaks
type MemoryStorage struct {
	mu          sync.RWMutex
	games       map[string]*models.Game
	rounds      map[string]*models.Round
	gameRounds  map[string][]string
	lastRoundID string
	users       map[string]*models.User
	guesses     map[string]*models.Guess
	guessSeq    map[string]uint64
	seq         uint64
	streaks     map[string]*models.Streak
	lastTick    time.Time
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		games:      make(map[string]*models.Game),
		rounds:     make(map[string]*models.Round),
		gameRounds: make(map[string][]string),
		users:      make(map[string]*models.User),
		guesses:    make(map[string]*models.Guess),
		guessSeq:   make(map[string]uint64),
		streaks:    make(map[string]*models.Streak),
	}
}

// now returns a strictly increasing timestamp so insertion order survives
// coarse clocks. Callers must hold the write lock.
func (s *MemoryStorage) now() time.Time {
	t := time.Now()
	if !t.After(s.lastTick) {
		t = s.lastTick.Add(time.Nanosecond)
	}
	s.lastTick = t
	return t
}

// CreateGame creates a new game
func (s *MemoryStorage) CreateGame(ctx context.Context, game *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.games[game.ID]; exists {
		return ErrGameExists
	}

	g := *game
	if g.State == "" {
		g.State = models.GameStateActive
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	s.games[g.ID] = &g
	*game = g
	return nil
}

// GetGame retrieves a game by ID
func (s *MemoryStorage) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	game, exists := s.games[gameID]
	if !exists {
		return nil, ErrGameNotFound
	}
	g := *game
	return &g, nil
}

// FinishGame marks a game as finished
func (s *MemoryStorage) FinishGame(ctx context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, exists := s.games[gameID]
	if !exists {
		return ErrGameNotFound
	}
	now := s.now()
	game.State = models.GameStateFinished
	game.FinishedAt = &now
	return nil
}

// SetGameWinner records the winner of a game
func (s *MemoryStorage) SetGameWinner(ctx context.Context, gameID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, exists := s.games[gameID]
	if !exists {
		return ErrGameNotFound
	}
	game.WinnerID = userID
	return nil
}

// CreateRound creates a new round as the latest round of its game
func (s *MemoryStorage) CreateRound(ctx context.Context, round *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.games[round.GameID]; !exists {
		return ErrGameNotFound
	}

	r := *round
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Index = len(s.gameRounds[r.GameID]) + 1
	r.CreatedAt = s.now()

	s.rounds[r.ID] = &r
	s.gameRounds[r.GameID] = append(s.gameRounds[r.GameID], r.ID)
	s.lastRoundID = r.ID
	*round = r
	return nil
}

// GetRound retrieves a round by ID
func (s *MemoryStorage) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, exists := s.rounds[roundID]
	if !exists {
		return nil, ErrRoundNotFound
	}
	r := *round
	return &r, nil
}

// GetCurrentRound retrieves the latest round of a game
func (s *MemoryStorage) GetCurrentRound(ctx context.Context, gameID string) (*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.gameRounds[gameID]
	if len(ids) == 0 {
		return nil, ErrRoundNotFound
	}
	r := *s.rounds[ids[len(ids)-1]]
	return &r, nil
}

// GetPreviousRound retrieves the round created just before roundID in the same game
func (s *MemoryStorage) GetPreviousRound(ctx context.Context, roundID string) (*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, exists := s.rounds[roundID]
	if !exists || round.Index <= 1 {
		return nil, ErrRoundNotFound
	}
	prev := *s.rounds[s.gameRounds[round.GameID][round.Index-2]]
	return &prev, nil
}

// SetRoundStreakCode stores the streak code of a round
func (s *MemoryStorage) SetRoundStreakCode(ctx context.Context, roundID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, exists := s.rounds[roundID]
	if !exists {
		return ErrRoundNotFound
	}
	round.StreakCode = code
	return nil
}

// GetLastRoundLocation returns the location of the most recently created round, or nil
func (s *MemoryStorage) GetLastRoundLocation(ctx context.Context) (*models.LatLng, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, exists := s.rounds[s.lastRoundID]
	if !exists {
		return nil, nil
	}
	loc := round.Location
	return &loc, nil
}

// GetOrCreateUser returns the stored user, creating it on first contact.
// Display attributes of an existing user are refreshed when provided.
func (s *MemoryStorage) GetOrCreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.users[user.ID]; exists {
		if user.Username != "" {
			existing.Username = user.Username
		}
		if user.Color != "" {
			existing.Color = user.Color
		}
		if user.Avatar != "" {
			existing.Avatar = user.Avatar
		}
		u := *existing
		return &u, nil
	}

	u := *user
	u.CreatedAt = s.now()
	s.users[u.ID] = &u
	out := u
	return &out, nil
}

// GetUser retrieves a user by ID
func (s *MemoryStorage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// CreateGuess stores a new guess
func (s *MemoryStorage) CreateGuess(ctx context.Context, guess *models.Guess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[guess.RoundID]; !exists {
		return ErrRoundNotFound
	}
	for _, existing := range s.guesses {
		if existing.RoundID == guess.RoundID && existing.UserID == guess.UserID {
			return ErrGuessExists
		}
	}

	g := *guess
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	g.CreatedAt = s.now()
	g.UpdatedAt = g.CreatedAt
	s.seq++
	s.guesses[g.ID] = &g
	s.guessSeq[g.ID] = s.seq
	*guess = g
	return nil
}

// UpdateGuess replaces a stored guess in place
func (s *MemoryStorage) UpdateGuess(ctx context.Context, guess *models.Guess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.guesses[guess.ID]
	if !exists {
		return ErrGuessNotFound
	}

	g := *guess
	g.RoundID = existing.RoundID
	g.UserID = existing.UserID
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = s.now()
	s.seq++
	s.guesses[g.ID] = &g
	s.guessSeq[g.ID] = s.seq
	*guess = g
	return nil
}

// DeleteGuess removes a guess
func (s *MemoryStorage) DeleteGuess(ctx context.Context, guessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.guesses[guessID]; !exists {
		return ErrGuessNotFound
	}
	delete(s.guesses, guessID)
	delete(s.guessSeq, guessID)
	return nil
}

// GetUserGuess retrieves the guess of a user for a round
func (s *MemoryStorage) GetUserGuess(ctx context.Context, roundID, userID string) (*models.Guess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.guesses {
		if g.RoundID == roundID && g.UserID == userID {
			out := *g
			return &out, nil
		}
	}
	return nil, ErrGuessNotFound
}

// GetUserLastGuess retrieves the most recently written guess of a user in any round
func (s *MemoryStorage) GetUserLastGuess(ctx context.Context, userID string) (*models.Guess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *models.Guess
	var lastSeq uint64
	for id, g := range s.guesses {
		if g.UserID != userID {
			continue
		}
		if seq := s.guessSeq[id]; last == nil || seq > lastSeq {
			last, lastSeq = g, seq
		}
	}
	if last == nil {
		return nil, ErrGuessNotFound
	}
	out := *last
	return &out, nil
}

// GetRoundGuesses retrieves all guesses of a round in insertion order
func (s *MemoryStorage) GetRoundGuesses(ctx context.Context, roundID string) ([]*models.Guess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roundGuesses(roundID), nil
}

func (s *MemoryStorage) roundGuesses(roundID string) []*models.Guess {
	var guesses []*models.Guess
	for _, g := range s.guesses {
		if g.RoundID == roundID {
			out := *g
			guesses = append(guesses, &out)
		}
	}
	SortByCreated(guesses)
	return guesses
}

// MarkGuessesExclusive demotes guesses that share a streak code with a better guess
func (s *MemoryStorage) MarkGuessesExclusive(ctx context.Context, roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, exists := s.rounds[roundID]
	if !exists {
		return ErrRoundNotFound
	}
	for _, id := range ExclusiveDemotions(s.roundGuesses(roundID), round.InvertScoring) {
		g := s.guesses[id]
		g.Demoted = true
		g.Score = 0
	}
	return nil
}

// GetUserStreak retrieves a user's streak, zero when none was recorded
func (s *MemoryStorage) GetUserStreak(ctx context.Context, userID string) (*models.Streak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streak, exists := s.streaks[userID]
	if !exists {
		return &models.Streak{UserID: userID}, nil
	}
	out := *streak
	return &out, nil
}

// AddUserStreak increments a user's streak and records the round it was earned in
func (s *MemoryStorage) AddUserStreak(ctx context.Context, userID, roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, exists := s.rounds[roundID]
	if !exists {
		return ErrRoundNotFound
	}
	streak, exists := s.streaks[userID]
	if !exists {
		streak = &models.Streak{UserID: userID}
		s.streaks[userID] = streak
	}
	loc := round.Location
	streak.Count++
	streak.LastRoundID = roundID
	streak.LastLocation = &loc
	return nil
}

// SetUserStreak overwrites a user's streak with count earned up to roundID
func (s *MemoryStorage) SetUserStreak(ctx context.Context, userID, roundID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, exists := s.rounds[roundID]
	if !exists {
		return ErrRoundNotFound
	}
	loc := round.Location
	s.streaks[userID] = &models.Streak{
		UserID:       userID,
		Count:        count,
		LastRoundID:  roundID,
		LastLocation: &loc,
	}
	return nil
}

// ResetUserStreak sets a user's streak count to zero
func (s *MemoryStorage) ResetUserStreak(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if streak, exists := s.streaks[userID]; exists {
		streak.Count = 0
	}
	return nil
}

// GetRoundResults retrieves a round's guesses joined with their users, ordered
func (s *MemoryStorage) GetRoundResults(ctx context.Context, roundID string) ([]models.RoundResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, exists := s.rounds[roundID]
	if !exists {
		return nil, ErrRoundNotFound
	}

	guesses := s.roundGuesses(roundID)
	results := make([]models.RoundResult, 0, len(guesses))
	for _, g := range guesses {
		res := models.RoundResult{Guess: *g, Player: models.User{ID: g.UserID, Username: g.UserID}}
		if u, ok := s.users[g.UserID]; ok {
			res.Player = *u
		}
		results = append(results, res)
	}
	SortRoundResults(results, round.InvertScoring)
	return results, nil
}

// GetGameResults aggregates every round of a game per user, ordered by total score
func (s *MemoryStorage) GetGameResults(ctx context.Context, gameID string) ([]models.GameResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.games[gameID]; !exists {
		return nil, ErrGameNotFound
	}

	ids := s.gameRounds[gameID]
	rounds := make([]*models.Round, 0, len(ids))
	var guesses []*models.Guess
	for _, id := range ids {
		rounds = append(rounds, s.rounds[id])
		guesses = append(guesses, s.roundGuesses(id)...)
	}
	return BuildGameResults(rounds, guesses, s.users), nil
}
