package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/internal/storage"
)

var _ storage.Repository = (*Repository)(nil)

// Repository implements storage.Repository on SQLite
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an opened database
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func now() int64 {
	return time.Now().UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// CreateGame inserts a game. An existing id yields storage.ErrGameExists.
func (r *Repository) CreateGame(ctx context.Context, game *models.Game) error {
	if game.State == "" {
		game.State = models.GameStateActive
	}
	created := now()
	res, err := r.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO games (id, url, map_id, map_name, state, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		game.ID, game.URL, game.MapID, game.MapName, game.State, created,
	)
	if err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}
	if n == 0 {
		return storage.ErrGameExists
	}
	game.CreatedAt = fromNanos(created)
	return nil
}

// GetGame retrieves a game by id
func (r *Repository) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	var (
		g        models.Game
		winner   sql.NullString
		created  int64
		finished sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT id, url, map_id, map_name, state, winner_id, created_at, finished_at
        FROM games WHERE id = ?`, gameID,
	).Scan(&g.ID, &g.URL, &g.MapID, &g.MapName, &g.State, &winner, &created, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	g.WinnerID = winner.String
	g.CreatedAt = fromNanos(created)
	if finished.Valid {
		t := fromNanos(finished.Int64)
		g.FinishedAt = &t
	}
	return &g, nil
}

// FinishGame marks a game finished
func (r *Repository) FinishGame(ctx context.Context, gameID string) error {
	return r.execOne(ctx, storage.ErrGameNotFound,
		`UPDATE games SET state = ?, finished_at = ? WHERE id = ?`,
		models.GameStateFinished, now(), gameID)
}

// SetGameWinner records the winner of a game
func (r *Repository) SetGameWinner(ctx context.Context, gameID, userID string) error {
	return r.execOne(ctx, storage.ErrGameNotFound,
		`UPDATE games SET winner_id = ? WHERE id = ?`, userID, gameID)
}

// execOne runs a statement that must touch exactly one row
func (r *Repository) execOne(ctx context.Context, notFound error, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

const roundColumns = `id, game_id, idx, lat, lng, pano_id, heading, pitch, zoom, streak_code, invert_scoring, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row scanner) (*models.Round, error) {
	var (
		rd      models.Round
		created int64
	)
	err := row.Scan(&rd.ID, &rd.GameID, &rd.Index, &rd.Location.Lat, &rd.Location.Lng, &rd.PanoID,
		&rd.Heading, &rd.Pitch, &rd.Zoom, &rd.StreakCode, &rd.InvertScoring, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan round: %w", err)
	}
	rd.CreatedAt = fromNanos(created)
	return &rd, nil
}

// CreateRound appends a round to its game, assigning id and index
func (r *Repository) CreateRound(ctx context.Context, round *models.Round) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, round.GameID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrGameNotFound
		}
		return fmt.Errorf("failed to check game: %w", err)
	}

	rd := *round
	if rd.ID == "" {
		rd.ID = uuid.New().String()
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx), 0) + 1 FROM rounds WHERE game_id = ?`, rd.GameID,
	).Scan(&rd.Index); err != nil {
		return fmt.Errorf("failed to allocate round index: %w", err)
	}
	created := now()
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO rounds (`+roundColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rd.ID, rd.GameID, rd.Index, rd.Location.Lat, rd.Location.Lng, rd.PanoID,
		rd.Heading, rd.Pitch, rd.Zoom, rd.StreakCode, rd.InvertScoring, created,
	); err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit round: %w", err)
	}

	rd.CreatedAt = fromNanos(created)
	*round = rd
	return nil
}

// GetRound retrieves a round by id
func (r *Repository) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	return scanRound(r.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = ?`, roundID))
}

// GetCurrentRound retrieves the latest round of a game
func (r *Repository) GetCurrentRound(ctx context.Context, gameID string) (*models.Round, error) {
	return scanRound(r.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE game_id = ? ORDER BY idx DESC LIMIT 1`, gameID))
}

// GetPreviousRound retrieves the round before roundID in the same game
func (r *Repository) GetPreviousRound(ctx context.Context, roundID string) (*models.Round, error) {
	return scanRound(r.db.QueryRowContext(ctx, `
        SELECT p.id, p.game_id, p.idx, p.lat, p.lng, p.pano_id, p.heading, p.pitch, p.zoom,
               p.streak_code, p.invert_scoring, p.created_at
        FROM rounds c
        JOIN rounds p ON p.game_id = c.game_id AND p.idx = c.idx - 1
        WHERE c.id = ?`, roundID))
}

// SetRoundStreakCode stores the streak code of a round
func (r *Repository) SetRoundStreakCode(ctx context.Context, roundID, code string) error {
	return r.execOne(ctx, storage.ErrRoundNotFound,
		`UPDATE rounds SET streak_code = ? WHERE id = ?`, code, roundID)
}

// GetLastRoundLocation returns the location of the most recently created round, or nil
func (r *Repository) GetLastRoundLocation(ctx context.Context) (*models.LatLng, error) {
	var loc models.LatLng
	err := r.db.QueryRowContext(ctx,
		`SELECT lat, lng FROM rounds ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&loc.Lat, &loc.Lng)
	if errors.Is(err, sql.ErrNoRows) {
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
	if _, err := r.db.ExecContext(ctx, `
        INSERT INTO users (id, username, color, flag, avatar, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END,
            color    = CASE WHEN excluded.color <> '' THEN excluded.color ELSE users.color END,
            avatar   = CASE WHEN excluded.avatar <> '' THEN excluded.avatar ELSE users.avatar END`,
		user.ID, user.Username, user.Color, user.Flag, user.Avatar, now(),
	); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return r.GetUser(ctx, user.ID)
}

// GetUser retrieves a user by id
func (r *Repository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var (
		u       models.User
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, color, flag, avatar, created_at FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Username, &u.Color, &u.Flag, &u.Avatar, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

const guessColumns = `g.id, g.round_id, g.user_id, g.lat, g.lng, g.streak_code, g.distance, g.score,
    g.streak, g.last_streak, g.is_random_plonk, g.demoted, g.created_at, g.updated_at`

func scanGuess(row scanner, extra ...interface{}) (*models.Guess, error) {
	var (
		g                models.Guess
		created, updated int64
	)
	dest := []interface{}{&g.ID, &g.RoundID, &g.UserID, &g.Location.Lat, &g.Location.Lng, &g.StreakCode,
		&g.Distance, &g.Score, &g.Streak, &g.LastStreak, &g.IsRandomPlonk, &g.Demoted, &created, &updated}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrGuessNotFound
		}
		return nil, fmt.Errorf("failed to scan guess: %w", err)
	}
	g.CreatedAt = fromNanos(created)
	g.UpdatedAt = fromNanos(updated)
	return &g, nil
}

// CreateGuess stores a new guess. A second guess for the same round and
// user yields storage.ErrGuessExists.
func (r *Repository) CreateGuess(ctx context.Context, guess *models.Guess) error {
	g := *guess
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	ts := now()
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO guesses (id, round_id, user_id, lat, lng, streak_code, distance, score, streak,
            last_streak, is_random_plonk, demoted, write_seq, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0,
            (SELECT COALESCE(MAX(write_seq), 0) + 1 FROM guesses), ?, ?)`,
		g.ID, g.RoundID, g.UserID, g.Location.Lat, g.Location.Lng, g.StreakCode, g.Distance, g.Score,
		g.Streak, g.LastStreak, g.IsRandomPlonk, ts, ts,
	)
	if isUniqueViolation(err) {
		return storage.ErrGuessExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert guess: %w", err)
	}
	g.Demoted = false
	g.CreatedAt = fromNanos(ts)
	g.UpdatedAt = g.CreatedAt
	*guess = g
	return nil
}

// UpdateGuess replaces a stored guess in place
func (r *Repository) UpdateGuess(ctx context.Context, guess *models.Guess) error {
	ts := now()
	if err := r.execOne(ctx, storage.ErrGuessNotFound, `
        UPDATE guesses SET lat = ?, lng = ?, streak_code = ?, distance = ?, score = ?, streak = ?,
            last_streak = ?, is_random_plonk = ?, demoted = ?,
            write_seq = (SELECT COALESCE(MAX(write_seq), 0) + 1 FROM guesses), updated_at = ?
        WHERE id = ?`,
		guess.Location.Lat, guess.Location.Lng, guess.StreakCode, guess.Distance, guess.Score, guess.Streak,
		guess.LastStreak, guess.IsRandomPlonk, guess.Demoted, ts, guess.ID,
	); err != nil {
		return err
	}

	stored, err := scanGuess(r.db.QueryRowContext(ctx, `SELECT `+guessColumns+` FROM guesses g WHERE g.id = ?`, guess.ID))
	if err != nil {
		return err
	}
	*guess = *stored
	return nil
}

// DeleteGuess removes a guess
func (r *Repository) DeleteGuess(ctx context.Context, guessID string) error {
	return r.execOne(ctx, storage.ErrGuessNotFound, `DELETE FROM guesses WHERE id = ?`, guessID)
}

// GetUserGuess retrieves the guess of a user for a round
func (r *Repository) GetUserGuess(ctx context.Context, roundID, userID string) (*models.Guess, error) {
	return scanGuess(r.db.QueryRowContext(ctx,
		`SELECT `+guessColumns+` FROM guesses g WHERE g.round_id = ? AND g.user_id = ?`, roundID, userID))
}

// GetUserLastGuess retrieves the most recently written guess of a user in any round
func (r *Repository) GetUserLastGuess(ctx context.Context, userID string) (*models.Guess, error) {
	return scanGuess(r.db.QueryRowContext(ctx,
		`SELECT `+guessColumns+` FROM guesses g WHERE g.user_id = ? ORDER BY g.write_seq DESC LIMIT 1`, userID))
}

// GetRoundGuesses retrieves all guesses of a round in insertion order
func (r *Repository) GetRoundGuesses(ctx context.Context, roundID string) ([]*models.Guess, error) {
	return r.queryGuesses(ctx,
		`SELECT `+guessColumns+` FROM guesses g WHERE g.round_id = ? ORDER BY g.created_at, g.rowid`, roundID)
}

func (r *Repository) queryGuesses(ctx context.Context, query string, args ...interface{}) ([]*models.Guess, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query guesses: %w", err)
	}
	defer rows.Close()

	var out []*models.Guess
	for rows.Next() {
		g, err := scanGuess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MarkGuessesExclusive demotes guesses that share a streak code with a better guess
func (r *Repository) MarkGuessesExclusive(ctx context.Context, roundID string) error {
	round, err := r.GetRound(ctx, roundID)
	if err != nil {
		return err
	}
	guesses, err := r.GetRoundGuesses(ctx, roundID)
	if err != nil {
		return err
	}
	demoted := storage.ExclusiveDemotions(guesses, round.InvertScoring)
	if len(demoted) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range demoted {
		if _, err := tx.ExecContext(ctx, `UPDATE guesses SET demoted = 1, score = 0 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to demote guess: %w", err)
		}
	}
	return tx.Commit()
}

// GetUserStreak retrieves a user's streak, zero when none was recorded
func (r *Repository) GetUserStreak(ctx context.Context, userID string) (*models.Streak, error) {
	var (
		s        = models.Streak{UserID: userID}
		roundID  sql.NullString
		lat, lng sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT s.count, s.last_round_id, r.lat, r.lng
        FROM streaks s LEFT JOIN rounds r ON r.id = s.last_round_id
        WHERE s.user_id = ?`, userID,
	).Scan(&s.Count, &roundID, &lat, &lng)
	if errors.Is(err, sql.ErrNoRows) {
		return &s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	s.LastRoundID = roundID.String
	if lat.Valid && lng.Valid {
		s.LastLocation = &models.LatLng{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &s, nil
}

// AddUserStreak increments a user's streak and records the round it was earned in
func (r *Repository) AddUserStreak(ctx context.Context, userID, roundID string) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO streaks (user_id, count, last_round_id) VALUES (?, 1, ?)
        ON CONFLICT(user_id) DO UPDATE SET count = streaks.count + 1, last_round_id = excluded.last_round_id`,
		userID, roundID,
	)
	if err != nil {
		return fmt.Errorf("failed to add streak: %w", err)
	}
	return nil
}

// SetUserStreak overwrites a user's streak with count earned up to roundID
func (r *Repository) SetUserStreak(ctx context.Context, userID, roundID string, count int) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO streaks (user_id, count, last_round_id) VALUES (?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET count = excluded.count, last_round_id = excluded.last_round_id`,
		userID, count, roundID,
	)
	if err != nil {
		return fmt.Errorf("failed to set streak: %w", err)
	}
	return nil
}

// ResetUserStreak sets a user's streak count to zero
func (r *Repository) ResetUserStreak(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE streaks SET count = 0 WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to reset streak: %w", err)
	}
	return nil
}

// GetRoundResults retrieves a round's guesses joined with their users.
// Scoring guesses come first, closest first (farthest first when the round
// inverts scoring), then demoted guesses in the same order.
func (r *Repository) GetRoundResults(ctx context.Context, roundID string) ([]models.RoundResult, error) {
	if _, err := r.GetRound(ctx, roundID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT `+guessColumns+`, u.username, u.color, u.flag, u.avatar
        FROM guesses g
        JOIN rounds rd ON rd.id = g.round_id
        LEFT JOIN users u ON u.id = g.user_id
        WHERE g.round_id = ?
        ORDER BY g.demoted ASC,
                 CASE WHEN rd.invert_scoring = 1 THEN -g.distance ELSE g.distance END ASC,
                 g.created_at ASC`, roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query round results: %w", err)
	}
	defer rows.Close()

	var results []models.RoundResult
	for rows.Next() {
		var username, color, flag, avatar sql.NullString
		g, err := scanGuess(rows, &username, &color, &flag, &avatar)
		if err != nil {
			return nil, err
		}
		player := models.User{ID: g.UserID, Username: g.UserID}
		if username.Valid {
			player.Username = username.String
			player.Color = color.String
			player.Flag = flag.String
			player.Avatar = avatar.String
		}
		results = append(results, models.RoundResult{Player: player, Guess: *g})
	}
	return results, rows.Err()
}

// GetGameResults aggregates every round of a game per user, ordered by total score
func (r *Repository) GetGameResults(ctx context.Context, gameID string) ([]models.GameResult, error) {
	if _, err := r.GetGame(ctx, gameID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE game_id = ? ORDER BY idx`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	var rounds []*models.Round
	for rows.Next() {
		rd, err := scanRound(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rounds = append(rounds, rd)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	guesses, err := r.queryGuesses(ctx, `
        SELECT `+guessColumns+`
        FROM guesses g JOIN rounds rd ON rd.id = g.round_id
        WHERE rd.game_id = ?
        ORDER BY g.created_at, g.rowid`, gameID)
	if err != nil {
		return nil, err
	}

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

	return storage.BuildGameResults(rounds, guesses, users), nil
}
