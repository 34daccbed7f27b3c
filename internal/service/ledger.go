package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/roundkeeper/internal/config"
	"github.com/roundkeeper/internal/events"
	"github.com/roundkeeper/internal/geo"
	"github.com/roundkeeper/internal/geocode"
	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/internal/ranking"
	"github.com/roundkeeper/internal/scoring"
	"github.com/roundkeeper/internal/storage"
	"github.com/roundkeeper/internal/streak"
	"github.com/roundkeeper/pkg/logger"
)

// maxPlonkAttempts bounds the resampling of a random plonk
const maxPlonkAttempts = 25

// GuessOptions modify how a submission is treated
type GuessOptions struct {
	RandomPlonk bool
	// Force replaces the user's guess for the round regardless of mode
	Force bool
}

// roundContext is the part of the session state a submission needs
type roundContext struct {
	roundID      string
	roundIndex   int
	streakCode   string
	location     models.LatLng
	lastLocation *models.LatLng
	mapScale     float64
	invert       bool
}

func (s *GameSession) currentRound() (roundContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.inGame || s.round == nil {
		return roundContext{}, ErrNotInGame
	}
	if !s.guessesOpen {
		return roundContext{}, ErrGuessesClosed
	}
	rc := roundContext{
		roundID:    s.round.ID,
		roundIndex: s.round.Index,
		streakCode: s.streakCode,
		location:   s.location,
		mapScale:   s.mapScale,
		invert:     s.round.InvertScoring,
	}
	if s.lastLocation != nil {
		loc := *s.lastLocation
		rc.lastLocation = &loc
	}
	return rc, nil
}

// SubmitGuess scores and records a user's guess for the current round.
//
// Submissions of the same user for the same round are serialized; different
// users proceed in parallel. A rejected submission returns a *GuessError.
func (s *GameSession) SubmitGuess(ctx context.Context, user models.User, p models.LatLng, opts GuessOptions) (*models.GuessResponse, error) {
	if s.modes.IsBanned(user.Username) {
		return nil, ErrUserBanned
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	rc, err := s.currentRound()
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(rc.roundID + "/" + user.ID)
	defer unlock()

	player, err := s.repo.GetOrCreateUser(ctx, &user)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	existing, err := s.userGuess(ctx, rc.roundID, player.ID)
	if err != nil {
		return nil, err
	}

	// A forced guess replaces the existing one. The old row is removed only
	// once the new guess has passed validation.
	var replaced *models.Guess
	if opts.Force && existing != nil {
		replaced, existing = existing, nil
	}

	count := s.brCount(rc.roundID, player.ID)
	brAllowed := s.modes.IsBRMode && count < s.modes.BattleRoyaleReguessLimit
	if existing != nil && !s.modes.IsMultiGuess && !brAllowed {
		s.logger.Debug("Rejected repeated guess", logger.F("user_id", player.ID), logger.F("round_id", rc.roundID))
		return nil, ErrAlreadyGuessed
	}

	previous, err := s.repo.GetUserLastGuess(ctx, player.ID)
	if err != nil && !errors.Is(err, storage.ErrGuessNotFound) {
		return nil, fmt.Errorf("failed to get previous guess: %w", err)
	}
	if previous != nil && previous.Location.Equal(p) {
		s.logger.Debug("Rejected identical guess", logger.F("user_id", player.ID))
		return nil, ErrSubmittedPreviousGuess
	}

	code, err := s.geo.StreakCodeFor(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve streak code: %w", err)
	}
	correct := streak.Matches(code, rc.streakCode)

	distance := geo.Haversine(p, rc.location)
	score, err := s.score(ctx, rc, p, distance, correct, false)
	if err != nil {
		return nil, err
	}
	score, err = s.applyChicken(ctx, rc, player.ID, score)
	if err != nil {
		return nil, err
	}

	var upd streak.Update
	if replaced != nil {
		if err := s.repo.DeleteGuess(ctx, replaced.ID); err != nil {
			return nil, fmt.Errorf("failed to delete guess: %w", err)
		}
		upd, err = s.tracker.Replace(ctx, player.ID, rc.roundID, correct, replaced, rc.lastLocation)
	} else {
		upd, err = s.tracker.Record(ctx, player.ID, rc.roundID, correct, rc.lastLocation)
	}
	if err != nil {
		return nil, err
	}

	guess := &models.Guess{
		RoundID:       rc.roundID,
		UserID:        player.ID,
		Location:      p,
		StreakCode:    code,
		Distance:      distance,
		Score:         score,
		Streak:        upd.After,
		LastStreak:    upd.LastStreak,
		IsRandomPlonk: opts.RandomPlonk,
	}

	modified := false
	if existing != nil {
		guess.ID = existing.ID
		if err := s.repo.UpdateGuess(ctx, guess); err != nil {
			return nil, fmt.Errorf("failed to update guess: %w", err)
		}
		modified = true
	} else if err := s.repo.CreateGuess(ctx, guess); err != nil {
		if errors.Is(err, storage.ErrGuessExists) {
			return nil, ErrAlreadyGuessed
		}
		return nil, fmt.Errorf("failed to create guess: %w", err)
	}

	resp := &models.GuessResponse{
		Player:        *player,
		Position:      p,
		Distance:      distance,
		Score:         score,
		Streak:        upd.After,
		LastStreak:    upd.LastStreak,
		Modified:      modified,
		IsRandomPlonk: opts.RandomPlonk,
	}
	if s.modes.IsBRMode {
		resp.BRCounter = s.bumpBRCount(rc.roundID, player.ID)
	}

	s.events.Publish(events.New(events.GuessAccepted, events.GuessAcceptedData{
		RoundID:       rc.roundID,
		Player:        resp.Player,
		Position:      p,
		Distance:      distance,
		Score:         score,
		Streak:        resp.Streak,
		LastStreak:    resp.LastStreak,
		Modified:      modified,
		IsRandomPlonk: opts.RandomPlonk,
	}))
	return resp, nil
}

// SubmitChatGuess submits the coordinate carried by a "!g lat, lng" chat
// message. Any other message yields ErrNotAGuess.
func (s *GameSession) SubmitChatGuess(ctx context.Context, user models.User, message string) (*models.GuessResponse, error) {
	p, ok := geo.ParseGuessMessage(message)
	if !ok {
		return nil, ErrNotAGuess
	}
	return s.SubmitGuess(ctx, user, p, GuessOptions{})
}

// RandomPlonk submits a random coordinate inside the map bounds for user.
// The point is resampled until it lands on the surface the water plonk mode
// scores; water asks for a sea plonk when the mode does not decide.
func (s *GameSession) RandomPlonk(ctx context.Context, user models.User, water bool) (*models.GuessResponse, error) {
	s.mu.RLock()
	var bounds models.Bounds
	hasSeed := s.seed != nil
	if hasSeed {
		bounds = s.seed.Bounds
	}
	s.mu.RUnlock()
	if !hasSeed {
		return nil, ErrNotInGame
	}

	p, err := s.randomPoint(ctx, bounds, plonkSurface(s.modes.WaterPlonkMode, water))
	if err != nil {
		return nil, err
	}
	return s.SubmitGuess(ctx, user, p, GuessOptions{RandomPlonk: true})
}

type surface int

const (
	anySurface surface = iota
	landSurface
	waterSurface
)

func plonkSurface(mode string, water bool) surface {
	switch {
	case mode == config.WaterPlonkMandatory:
		return waterSurface
	case mode == config.WaterPlonkIllegal:
		return landSurface
	case water:
		return waterSurface
	default:
		return anySurface
	}
}

func (s *GameSession) randomPoint(ctx context.Context, bounds models.Bounds, want surface) (models.LatLng, error) {
	var p models.LatLng
	for i := 0; i < maxPlonkAttempts; i++ {
		s.rndMu.Lock()
		p = geo.RandomPoint(bounds, s.rnd)
		s.rndMu.Unlock()

		if want == anySurface {
			return p, nil
		}
		onLand, err := s.geo.IsOnLand(ctx, p)
		if err != nil {
			return models.LatLng{}, fmt.Errorf("failed to check random plonk: %w", err)
		}
		if onLand == (want == landSurface) {
			return p, nil
		}
	}
	s.logger.Debug("Random plonk attempts exhausted", logger.F("attempts", strconv.Itoa(maxPlonkAttempts)))
	return p, nil
}

// processHostGuess records the guess that ended the round for the host
// actor. Its streak commits at once; a timed-out guess scores 0. Callers
// hold gate.
func (s *GameSession) processHostGuess(ctx context.Context, hg *models.HostGuess) error {
	host, err := s.repo.GetOrCreateUser(ctx, &models.User{
		ID:       models.HostUserID,
		Username: s.hostName,
		Avatar:   s.hostAvatar,
		Color:    "#FFF",
	})
	if err != nil {
		return fmt.Errorf("failed to get host user: %w", err)
	}
	if hg == nil {
		return nil
	}

	s.mu.Lock()
	rc := roundContext{
		roundID:    s.round.ID,
		roundIndex: s.round.Index,
		streakCode: s.streakCode,
		location:   s.location,
		mapScale:   s.mapScale,
		invert:     s.round.InvertScoring,
	}
	randomPlonk := s.hostRandomPlonk
	s.hostRandomPlonk = false
	s.mu.Unlock()

	p := models.LatLng{Lat: hg.Lat, Lng: hg.Lng}
	code, err := s.geo.StreakCodeFor(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to resolve host streak code: %w", err)
	}
	correct := streak.Matches(code, rc.streakCode)

	before, err := s.repo.GetUserStreak(ctx, host.ID)
	if err != nil {
		return fmt.Errorf("failed to get host streak: %w", err)
	}
	if err := s.tracker.Commit(ctx, host.ID, rc.roundID, correct); err != nil {
		return err
	}
	after, err := s.repo.GetUserStreak(ctx, host.ID)
	if err != nil {
		return fmt.Errorf("failed to get host streak: %w", err)
	}

	distance := geo.Haversine(p, rc.location)
	score, err := s.score(ctx, rc, p, distance, correct, hg.TimedOut)
	if err != nil {
		return err
	}
	score, err = s.applyChicken(ctx, rc, host.ID, score)
	if err != nil {
		return err
	}

	guess := &models.Guess{
		RoundID:       rc.roundID,
		UserID:        host.ID,
		Location:      p,
		StreakCode:    code,
		Distance:      distance,
		Score:         score,
		Streak:        after.Count,
		IsRandomPlonk: randomPlonk,
	}
	if !correct && before.Count > 0 {
		guess.LastStreak = before.Count
	}

	existing, err := s.userGuess(ctx, rc.roundID, host.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		guess.ID = existing.ID
		if err := s.repo.UpdateGuess(ctx, guess); err != nil {
			return fmt.Errorf("failed to update host guess: %w", err)
		}
		return nil
	}
	if err := s.repo.CreateGuess(ctx, guess); err != nil {
		return fmt.Errorf("failed to create host guess: %w", err)
	}
	return nil
}

// score runs the calculator for one guess. Land is only looked up when the
// water plonk mode needs it.
func (s *GameSession) score(ctx context.Context, rc roundContext, p models.LatLng, distance float64, correct, timedOut bool) (int, error) {
	in := scoring.Input{
		Distance:       distance,
		Scale:          rc.mapScale,
		TimedOut:       timedOut,
		CorrectCountry: correct,
		OnLand:         true,
	}
	if s.modes.WaterPlonkMode != config.WaterPlonkNormal && !timedOut {
		onLand, err := s.geo.IsOnLand(ctx, p)
		if err != nil {
			return 0, fmt.Errorf("failed to check land: %w", err)
		}
		in.OnLand = onLand
	}

	return scoring.Score(in, scoring.Modifiers{
		WrongCountryOnly:    s.modes.WrongCountryOnly,
		WaterPlonk:          scoring.WaterPlonk(s.modes.WaterPlonkMode),
		Invert:              rc.invert,
		WrongCountryPenalty: s.modes.WrongCountryPenalty,
	}), nil
}

// applyChicken zeroes the score of the previous round's winner. A winner
// who scored the ceiling survives when chickenModeSurvivesWith5k is set, and
// a new ceiling score keeps its points when chickenMode5kGivesPoints is set.
func (s *GameSession) applyChicken(ctx context.Context, rc roundContext, userID string, score int) (int, error) {
	if !s.modes.GameOfChicken || rc.roundIndex <= 1 {
		return score, nil
	}

	prev, err := s.repo.GetPreviousRound(ctx, rc.roundID)
	if errors.Is(err, storage.ErrRoundNotFound) {
		return score, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get previous round: %w", err)
	}

	results, err := s.repo.GetRoundResults(ctx, prev.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to read previous round results: %w", err)
	}
	if len(results) == 0 || results[0].Player.ID != userID {
		return score, nil
	}
	if s.modes.ChickenSurvivesWith5k && results[0].Guess.Score == scoring.MaxScore {
		return score, nil
	}
	if s.modes.Chicken5kGivesPoints && score == scoring.MaxScore {
		return score, nil
	}
	return 0, nil
}

func (s *GameSession) userGuess(ctx context.Context, roundID, userID string) (*models.Guess, error) {
	g, err := s.repo.GetUserGuess(ctx, roundID, userID)
	if errors.Is(err, storage.ErrGuessNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guess: %w", err)
	}
	return g, nil
}

func (s *GameSession) brCount(roundID, userID string) int {
	s.brMu.Lock()
	defer s.brMu.Unlock()
	return s.brCounts[roundID+"/"+userID]
}

func (s *GameSession) bumpBRCount(roundID, userID string) int {
	s.brMu.Lock()
	defer s.brMu.Unlock()
	key := roundID + "/" + userID
	s.brCounts[key]++
	return s.brCounts[key]
}

// RoundResults returns the ordered results of the current round
func (s *GameSession) RoundResults(ctx context.Context) ([]models.RoundResult, error) {
	s.mu.RLock()
	r := s.round
	s.mu.RUnlock()
	if r == nil {
		return nil, ErrNotInGame
	}
	results, err := s.repo.GetRoundResults(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read round results: %w", err)
	}
	return results, nil
}

// RoundParticipants returns the users who guessed in the current round
func (s *GameSession) RoundParticipants(ctx context.Context) ([]models.User, error) {
	results, err := s.RoundResults(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, len(results))
	for i, r := range results {
		users[i] = r.Player
	}
	return users, nil
}

// GameResults returns the ranked results of the current game
func (s *GameSession) GameResults(ctx context.Context) ([]models.GameResult, error) {
	s.mu.RLock()
	gameID := s.gameID
	s.mu.RUnlock()
	if gameID == "" {
		return nil, ErrNotInGame
	}
	return s.gameResults(ctx, gameID)
}

func (s *GameSession) gameResults(ctx context.Context, gameID string) ([]models.GameResult, error) {
	results, err := s.repo.GetGameResults(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to read game results: %w", err)
	}

	s.mu.RLock()
	rounds := 0
	if s.seed != nil {
		rounds = s.seed.RoundCount
	}
	s.mu.RUnlock()

	return ranking.Apply(results, ranking.Options{
		Modes:  s.modes,
		Rounds: rounds,
		Namer:  regionName,
	}), nil
}

func regionName(g *models.Guess) (string, bool) {
	if g == nil || g.StreakCode == "" {
		return "", false
	}
	return geocode.CountryName(g.StreakCode)
}
