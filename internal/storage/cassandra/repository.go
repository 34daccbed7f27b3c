package cassandra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/internal/storage"
	"github.com/roundkeeper/pkg/logger"
)

var _ storage.Repository = (*Repository)(nil)

// lastRoundKey is the single row of the last_round table
const lastRoundKey = "last"

// Repository implements storage.Repository using Cassandra
type Repository struct {
	client  *Client
	logger  *logger.Logger
	timeout time.Duration
}

// NewRepository creates a new Cassandra-based repository
func NewRepository(client *Client, log *logger.Logger, timeout time.Duration) *Repository {
	return &Repository{
		client:  client,
		logger:  log,
		timeout: timeout,
	}
}

// query builds a statement bound to ctx, applying the configured timeout
// when ctx carries no deadline. The returned cancel must always be called.
func (r *Repository) query(ctx context.Context, stmt string, args ...interface{}) (*gocql.Query, context.CancelFunc, error) {
	queryCtx, cancel := ctx, context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		queryCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}

	select {
	case <-queryCtx.Done():
		cancel()
		return nil, nil, fmt.Errorf("context cancelled: %w", queryCtx.Err())
	default:
	}

	q := r.client.Session().Query(fmt.Sprintf(stmt, r.client.Keyspace()), args...).WithContext(queryCtx)
	return q, cancel, nil
}

func (r *Repository) exec(ctx context.Context, stmt string, args ...interface{}) error {
	q, cancel, err := r.query(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer cancel()
	return q.Exec()
}

func (r *Repository) scan(ctx context.Context, stmt string, args []interface{}, dest ...interface{}) error {
	q, cancel, err := r.query(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer cancel()
	return q.Scan(dest...)
}

// cas runs a lightweight transaction and reports whether it applied
func (r *Repository) cas(ctx context.Context, stmt string, args ...interface{}) (bool, error) {
	q, cancel, err := r.query(ctx, stmt, args...)
	if err != nil {
		return false, err
	}
	defer cancel()
	return q.MapScanCAS(make(map[string]interface{}))
}

func timeOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// CreateGame inserts a game with a lightweight transaction so that
// concurrent creators of the same id observe storage.ErrGameExists.
func (r *Repository) CreateGame(ctx context.Context, game *models.Game) error {
	g := *game
	if g.State == "" {
		g.State = models.GameStateActive
	}
	g.CreatedAt = time.Now().UTC()

	applied, err := r.cas(ctx, `
		INSERT INTO %s.games (id, url, map_id, map_name, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		IF NOT EXISTS`,
		g.ID, g.URL, g.MapID, g.MapName, g.State, g.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create game in Cassandra", logger.F("game_id", g.ID), logger.Err(err))
		return fmt.Errorf("failed to create game: %w", err)
	}
	if !applied {
		return storage.ErrGameExists
	}

	r.logger.Debug("Game created", logger.F("game_id", g.ID))
	*game = g
	return nil
}

// GetGame retrieves a game by id
func (r *Repository) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	var (
		g        models.Game
		finished time.Time
	)
	err := r.scan(ctx, `
		SELECT id, url, map_id, map_name, state, winner_id, created_at, finished_at
		FROM %s.games WHERE id = ?`, []interface{}{gameID},
		&g.ID, &g.URL, &g.MapID, &g.MapName, &g.State, &g.WinnerID, &g.CreatedAt, &finished,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	g.CreatedAt = timeOrZero(g.CreatedAt)
	if !finished.IsZero() {
		t := finished.UTC()
		g.FinishedAt = &t
	}
	return &g, nil
}

// FinishGame marks a game finished
func (r *Repository) FinishGame(ctx context.Context, gameID string) error {
	applied, err := r.cas(ctx, `UPDATE %s.games SET state = ?, finished_at = ? WHERE id = ? IF EXISTS`,
		models.GameStateFinished, time.Now().UTC(), gameID)
	if err != nil {
		return fmt.Errorf("failed to finish game: %w", err)
	}
	if !applied {
		return storage.ErrGameNotFound
	}
	return nil
}

// SetGameWinner records the winner of a game
func (r *Repository) SetGameWinner(ctx context.Context, gameID, userID string) error {
	applied, err := r.cas(ctx, `UPDATE %s.games SET winner_id = ? WHERE id = ? IF EXISTS`, userID, gameID)
	if err != nil {
		return fmt.Errorf("failed to set game winner: %w", err)
	}
	if !applied {
		return storage.ErrGameNotFound
	}
	return nil
}

const roundColumns = `id, game_id, idx, lat, lng, pano_id, heading, pitch, zoom, streak_code, invert_scoring, created_at`

func (r *Repository) getRound(ctx context.Context, roundID string) (*models.Round, error) {
	var rd models.Round
	err := r.scan(ctx, `SELECT `+roundColumns+` FROM %s.rounds WHERE id = ?`, []interface{}{roundID},
		&rd.ID, &rd.GameID, &rd.Index, &rd.Location.Lat, &rd.Location.Lng, &rd.PanoID,
		&rd.Heading, &rd.Pitch, &rd.Zoom, &rd.StreakCode, &rd.InvertScoring, &rd.CreatedAt,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	rd.CreatedAt = timeOrZero(rd.CreatedAt)
	return &rd, nil
}

// roundIDAt returns the id of the round at idx, or the latest one when idx is 0
func (r *Repository) roundIDAt(ctx context.Context, gameID string, idx int) (string, int, error) {
	var (
		id  string
		got int
		err error
	)
	if idx == 0 {
		err = r.scan(ctx, `SELECT round_id, idx FROM %s.rounds_by_game WHERE game_id = ? LIMIT 1`,
			[]interface{}{gameID}, &id, &got)
	} else {
		err = r.scan(ctx, `SELECT round_id, idx FROM %s.rounds_by_game WHERE game_id = ? AND idx = ?`,
			[]interface{}{gameID, idx}, &id, &got)
	}
	if errors.Is(err, gocql.ErrNotFound) {
		return "", 0, storage.ErrRoundNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to get round index: %w", err)
	}
	return id, got, nil
}

// CreateRound appends a round to its game. The index slot is claimed with a
// lightweight transaction and retried past slots claimed concurrently.
func (r *Repository) CreateRound(ctx context.Context, round *models.Round) error {
	if _, err := r.GetGame(ctx, round.GameID); err != nil {
		return err
	}

	rd := *round
	if rd.ID == "" {
		rd.ID = uuid.New().String()
	}

	_, latest, err := r.roundIDAt(ctx, rd.GameID, 0)
	if err != nil && !errors.Is(err, storage.ErrRoundNotFound) {
		return err
	}
	rd.Index = latest + 1
	for {
		applied, err := r.cas(ctx, `INSERT INTO %s.rounds_by_game (game_id, idx, round_id) VALUES (?, ?, ?) IF NOT EXISTS`,
			rd.GameID, rd.Index, rd.ID)
		if err != nil {
			return fmt.Errorf("failed to allocate round index: %w", err)
		}
		if applied {
			break
		}
		rd.Index++
	}

	rd.CreatedAt = time.Now().UTC()
	if err := r.exec(ctx, `
		INSERT INTO %s.rounds (`+roundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rd.ID, rd.GameID, rd.Index, rd.Location.Lat, rd.Location.Lng, rd.PanoID,
		rd.Heading, rd.Pitch, rd.Zoom, rd.StreakCode, rd.InvertScoring, rd.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	if err := r.exec(ctx, `INSERT INTO %s.last_round (key, round_id, lat, lng) VALUES (?, ?, ?, ?)`,
		lastRoundKey, rd.ID, rd.Location.Lat, rd.Location.Lng,
	); err != nil {
		return fmt.Errorf("failed to record last round: %w", err)
	}

	r.logger.Debug("Round created", logger.F("round_id", rd.ID), logger.F("game_id", rd.GameID), logger.F("index", strconv.Itoa(rd.Index)))
	*round = rd
	return nil
}

// GetRound retrieves a round by id
func (r *Repository) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	return r.getRound(ctx, roundID)
}

// GetCurrentRound retrieves the latest round of a game
func (r *Repository) GetCurrentRound(ctx context.Context, gameID string) (*models.Round, error) {
	id, _, err := r.roundIDAt(ctx, gameID, 0)
	if err != nil {
		return nil, err
	}
	return r.getRound(ctx, id)
}

// GetPreviousRound retrieves the round before roundID in the same game
func (r *Repository) GetPreviousRound(ctx context.Context, roundID string) (*models.Round, error) {
	round, err := r.getRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.Index <= 1 {
		return nil, storage.ErrRoundNotFound
	}
	id, _, err := r.roundIDAt(ctx, round.GameID, round.Index-1)
	if err != nil {
		return nil, err
	}
	return r.getRound(ctx, id)
}

// SetRoundStreakCode stores the streak code of a round
func (r *Repository) SetRoundStreakCode(ctx context.Context, roundID, code string) error {
	applied, err := r.cas(ctx, `UPDATE %s.rounds SET streak_code = ? WHERE id = ? IF EXISTS`, code, roundID)
	if err != nil {
		return fmt.Errorf("failed to set streak code: %w", err)
	}
	if !applied {
		return storage.ErrRoundNotFound
	}
	return nil
}

// GetLastRoundLocation returns the location of the most recently created round, or nil
func (r *Repository) GetLastRoundLocation(ctx context.Context) (*models.LatLng, error) {
	var loc models.LatLng
	err := r.scan(ctx, `SELECT lat, lng FROM %s.last_round WHERE key = ?`, []interface{}{lastRoundKey},
		&loc.Lat, &loc.Lng)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last round location: %w", err)
	}
	return &loc, nil
}

// GetOrCreateUser returns the stored user, creating it on first contact.
// Display attributes of an existing user are refreshed when provided.
func (r *Repository) GetOrCreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	existing, err := r.GetUser(ctx, user.ID)
	if errors.Is(err, storage.ErrUserNotFound) {
		u := *user
		u.CreatedAt = time.Now().UTC()
		if _, err := r.cas(ctx, `
			INSERT INTO %s.users (id, username, color, flag, avatar, created_at)
			VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			u.ID, u.Username, u.Color, u.Flag, u.Avatar, u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return r.GetUser(ctx, user.ID)
	}
	if err != nil {
		return nil, err
	}

	changed := false
	if user.Username != "" && user.Username != existing.Username {
		existing.Username, changed = user.Username, true
	}
	if user.Color != "" && user.Color != existing.Color {
		existing.Color, changed = user.Color, true
	}
	if user.Avatar != "" && user.Avatar != existing.Avatar {
		existing.Avatar, changed = user.Avatar, true
	}
	if changed {
		if err := r.exec(ctx, `UPDATE %s.users SET username = ?, color = ?, avatar = ? WHERE id = ?`,
			existing.Username, existing.Color, existing.Avatar, existing.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}
	return existing, nil
}

// GetUser retrieves a user by id
func (r *Repository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := r.scan(ctx, `SELECT id, username, color, flag, avatar, created_at FROM %s.users WHERE id = ?`,
		[]interface{}{userID}, &u.ID, &u.Username, &u.Color, &u.Flag, &u.Avatar, &u.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = timeOrZero(u.CreatedAt)
	return &u, nil
}

const guessColumns = `id, round_id, user_id, lat, lng, streak_code, distance, score, streak, last_streak,
	is_random_plonk, demoted, created_at, updated_at`

func guessDest(g *models.Guess) []interface{} {
	return []interface{}{&g.ID, &g.RoundID, &g.UserID, &g.Location.Lat, &g.Location.Lng, &g.StreakCode,
		&g.Distance, &g.Score, &g.Streak, &g.LastStreak, &g.IsRandomPlonk, &g.Demoted, &g.CreatedAt, &g.UpdatedAt}
}

// writeSeq orders guess writes per user
func writeSeq() int64 {
	return time.Now().UnixNano()
}

// CreateGuess stores a new guess. The (round, user) slot is claimed with a
// lightweight transaction; a taken slot yields storage.ErrGuessExists.
func (r *Repository) CreateGuess(ctx context.Context, guess *models.Guess) error {
	if _, err := r.getRound(ctx, guess.RoundID); err != nil {
		return err
	}

	g := *guess
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	g.Demoted = false
	g.CreatedAt = time.Now().UTC()
	g.UpdatedAt = g.CreatedAt

	applied, err := r.cas(ctx, `
		INSERT INTO %s.guesses (`+guessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		IF NOT EXISTS`, guessValues(&g)...)
	if err != nil {
		r.logger.Error("Failed to create guess in Cassandra", logger.F("round_id", g.RoundID), logger.F("user_id", g.UserID), logger.Err(err))
		return fmt.Errorf("failed to create guess: %w", err)
	}
	if !applied {
		return storage.ErrGuessExists
	}

	if err := r.indexGuess(ctx, &g); err != nil {
		return err
	}
	*guess = g
	return nil
}

func guessValues(g *models.Guess) []interface{} {
	return []interface{}{g.ID, g.RoundID, g.UserID, g.Location.Lat, g.Location.Lng, g.StreakCode,
		g.Distance, g.Score, g.Streak, g.LastStreak, g.IsRandomPlonk, g.Demoted, g.CreatedAt, g.UpdatedAt}
}

// indexGuess maintains the lookup tables of a written guess
func (r *Repository) indexGuess(ctx context.Context, g *models.Guess) error {
	if err := r.exec(ctx, `INSERT INTO %s.guess_ids (id, round_id, user_id) VALUES (?, ?, ?)`,
		g.ID, g.RoundID, g.UserID); err != nil {
		return fmt.Errorf("failed to index guess: %w", err)
	}
	if err := r.exec(ctx, `INSERT INTO %s.user_guesses (user_id, guess_id, write_seq) VALUES (?, ?, ?)`,
		g.UserID, g.ID, writeSeq()); err != nil {
		return fmt.Errorf("failed to index guess: %w", err)
	}
	return nil
}

// locateGuess resolves a guess id to its (round, user) key
func (r *Repository) locateGuess(ctx context.Context, guessID string) (string, string, error) {
	var roundID, userID string
	err := r.scan(ctx, `SELECT round_id, user_id FROM %s.guess_ids WHERE id = ?`, []interface{}{guessID}, &roundID, &userID)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", "", storage.ErrGuessNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to locate guess: %w", err)
	}
	return roundID, userID, nil
}

// UpdateGuess replaces a stored guess in place
func (r *Repository) UpdateGuess(ctx context.Context, guess *models.Guess) error {
	roundID, userID, err := r.locateGuess(ctx, guess.ID)
	if err != nil {
		return err
	}
	existing, err := r.GetUserGuess(ctx, roundID, userID)
	if err != nil {
		return err
	}

	g := *guess
	g.RoundID = roundID
	g.UserID = userID
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = time.Now().UTC()

	if err := r.exec(ctx, `
		INSERT INTO %s.guesses (`+guessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, guessValues(&g)...); err != nil {
		return fmt.Errorf("failed to update guess: %w", err)
	}
	if err := r.exec(ctx, `UPDATE %s.user_guesses SET write_seq = ? WHERE user_id = ? AND guess_id = ?`,
		writeSeq(), g.UserID, g.ID); err != nil {
		return fmt.Errorf("failed to update guess: %w", err)
	}
	*guess = g
	return nil
}

// DeleteGuess removes a guess and its lookup rows
func (r *Repository) DeleteGuess(ctx context.Context, guessID string) error {
	roundID, userID, err := r.locateGuess(ctx, guessID)
	if err != nil {
		return err
	}

	batch := r.client.Session().NewBatch(gocql.LoggedBatch).WithContext(ctx)
	ks := r.client.Keyspace()
	batch.Query(fmt.Sprintf(`DELETE FROM %s.guesses WHERE round_id = ? AND user_id = ?`, ks), roundID, userID)
	batch.Query(fmt.Sprintf(`DELETE FROM %s.guess_ids WHERE id = ?`, ks), guessID)
	batch.Query(fmt.Sprintf(`DELETE FROM %s.user_guesses WHERE user_id = ? AND guess_id = ?`, ks), userID, guessID)
	if err := r.client.Session().ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to delete guess: %w", err)
	}
	return nil
}

// GetUserGuess retrieves the guess of a user for a round
func (r *Repository) GetUserGuess(ctx context.Context, roundID, userID string) (*models.Guess, error) {
	var g models.Guess
	err := r.scan(ctx, `SELECT `+guessColumns+` FROM %s.guesses WHERE round_id = ? AND user_id = ?`,
		[]interface{}{roundID, userID}, guessDest(&g)...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrGuessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guess: %w", err)
	}
	g.CreatedAt, g.UpdatedAt = timeOrZero(g.CreatedAt), timeOrZero(g.UpdatedAt)
	return &g, nil
}

// GetUserLastGuess retrieves the most recently written guess of a user in any round
func (r *Repository) GetUserLastGuess(ctx context.Context, userID string) (*models.Guess, error) {
	q, cancel, err := r.query(ctx, `SELECT guess_id, write_seq FROM %s.user_guesses WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var (
		id, lastID string
		seq, last  int64
	)
	iter := q.Iter()
	for iter.Scan(&id, &seq) {
		if lastID == "" || seq > last {
			lastID, last = id, seq
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get user guesses: %w", err)
	}
	if lastID == "" {
		return nil, storage.ErrGuessNotFound
	}

	roundID, _, err := r.locateGuess(ctx, lastID)
	if err != nil {
		return nil, err
	}
	return r.GetUserGuess(ctx, roundID, userID)
}

// GetRoundGuesses retrieves all guesses of a round in insertion order
func (r *Repository) GetRoundGuesses(ctx context.Context, roundID string) ([]*models.Guess, error) {
	q, cancel, err := r.query(ctx, `SELECT `+guessColumns+` FROM %s.guesses WHERE round_id = ?`, roundID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var guesses []*models.Guess
	iter := q.Iter()
	for {
		var g models.Guess
		if !iter.Scan(guessDest(&g)...) {
			break
		}
		g.CreatedAt, g.UpdatedAt = timeOrZero(g.CreatedAt), timeOrZero(g.UpdatedAt)
		guesses = append(guesses, &g)
	}
	if err := iter.Close(); err != nil {
		r.logger.Error("Failed to get round guesses from Cassandra", logger.F("round_id", roundID), logger.Err(err))
		return nil, fmt.Errorf("failed to get guesses: %w", err)
	}
	storage.SortByCreated(guesses)
	return guesses, nil
}

// MarkGuessesExclusive demotes guesses that share a streak code with a better guess
func (r *Repository) MarkGuessesExclusive(ctx context.Context, roundID string) error {
	round, err := r.getRound(ctx, roundID)
	if err != nil {
		return err
	}
	guesses, err := r.GetRoundGuesses(ctx, roundID)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.Guess, len(guesses))
	for _, g := range guesses {
		byID[g.ID] = g
	}

	demoted := storage.ExclusiveDemotions(guesses, round.InvertScoring)
	if len(demoted) == 0 {
		return nil
	}

	batch := r.client.Session().NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, id := range demoted {
		batch.Query(fmt.Sprintf(`UPDATE %s.guesses SET demoted = true, score = 0 WHERE round_id = ? AND user_id = ?`,
			r.client.Keyspace()), roundID, byID[id].UserID)
	}
	if err := r.client.Session().ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to mark exclusive guesses: %w", err)
	}
	return nil
}

// GetUserStreak retrieves a user's streak, zero when none was recorded
func (r *Repository) GetUserStreak(ctx context.Context, userID string) (*models.Streak, error) {
	s := models.Streak{UserID: userID}
	err := r.scan(ctx, `SELECT count, last_round_id FROM %s.streaks WHERE user_id = ?`, []interface{}{userID},
		&s.Count, &s.LastRoundID)
	if errors.Is(err, gocql.ErrNotFound) {
		return &s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	if s.LastRoundID != "" {
		round, err := r.getRound(ctx, s.LastRoundID)
		if err != nil && !errors.Is(err, storage.ErrRoundNotFound) {
			return nil, err
		}
		if round != nil {
			loc := round.Location
			s.LastLocation = &loc
		}
	}
	return &s, nil
}

// AddUserStreak increments a user's streak and records the round it was
// earned in. Writers for one user are serialized by the caller.
func (r *Repository) AddUserStreak(ctx context.Context, userID, roundID string) error {
	if _, err := r.getRound(ctx, roundID); err != nil {
		return err
	}
	current, err := r.GetUserStreak(ctx, userID)
	if err != nil {
		return err
	}
	if err := r.exec(ctx, `INSERT INTO %s.streaks (user_id, count, last_round_id) VALUES (?, ?, ?)`,
		userID, current.Count+1, roundID); err != nil {
		return fmt.Errorf("failed to add streak: %w", err)
	}
	return nil
}

// SetUserStreak overwrites a user's streak with count earned up to roundID
func (r *Repository) SetUserStreak(ctx context.Context, userID, roundID string, count int) error {
	if _, err := r.getRound(ctx, roundID); err != nil {
		return err
	}
	if err := r.exec(ctx, `INSERT INTO %s.streaks (user_id, count, last_round_id) VALUES (?, ?, ?)`,
		userID, count, roundID); err != nil {
		return fmt.Errorf("failed to set streak: %w", err)
	}
	return nil
}

// ResetUserStreak sets a user's streak count to zero
func (r *Repository) ResetUserStreak(ctx context.Context, userID string) error {
	if _, err := r.cas(ctx, `UPDATE %s.streaks SET count = 0 WHERE user_id = ? IF EXISTS`, userID); err != nil {
		return fmt.Errorf("failed to reset streak: %w", err)
	}
	return nil
}

// users loads the users that wrote guesses, skipping unknown ids
func (r *Repository) users(ctx context.Context, guesses []*models.Guess) (map[string]*models.User, error) {
	users := make(map[string]*models.User)
	for _, g := range guesses {
		if _, ok := users[g.UserID]; ok {
			continue
		}
		u, err := r.GetUser(ctx, g.UserID)
		if errors.Is(err, storage.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users[g.UserID] = u
	}
	return users, nil
}

// GetRoundResults retrieves a round's guesses joined with their users, ordered
func (r *Repository) GetRoundResults(ctx context.Context, roundID string) ([]models.RoundResult, error) {
	round, err := r.getRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	guesses, err := r.GetRoundGuesses(ctx, roundID)
	if err != nil {
		return nil, err
	}
	users, err := r.users(ctx, guesses)
	if err != nil {
		return nil, err
	}

	results := make([]models.RoundResult, 0, len(guesses))
	for _, g := range guesses {
		player := models.User{ID: g.UserID, Username: g.UserID}
		if u, ok := users[g.UserID]; ok {
			player = *u
		}
		results = append(results, models.RoundResult{Player: player, Guess: *g})
	}
	storage.SortRoundResults(results, round.InvertScoring)
	return results, nil
}

// GetGameResults aggregates every round of a game per user, ordered by total score
func (r *Repository) GetGameResults(ctx context.Context, gameID string) ([]models.GameResult, error) {
	if _, err := r.GetGame(ctx, gameID); err != nil {
		return nil, err
	}

	q, cancel, err := r.query(ctx, `SELECT round_id FROM %s.rounds_by_game WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	var ids []string
	var id string
	iter := q.Iter()
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	err = iter.Close()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to get game rounds: %w", err)
	}

	// rounds_by_game clusters newest first
	rounds := make([]*models.Round, 0, len(ids))
	var guesses []*models.Guess
	for i := len(ids) - 1; i >= 0; i-- {
		round, err := r.getRound(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
		rg, err := r.GetRoundGuesses(ctx, round.ID)
		if err != nil {
			return nil, err
		}
		guesses = append(guesses, rg...)
	}

	users, err := r.users(ctx, guesses)
	if err != nil {
		return nil, err
	}
	return storage.BuildGameResults(rounds, guesses, users), nil
}
