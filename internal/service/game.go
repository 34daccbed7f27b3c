package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/roundkeeper/internal/config"
	"github.com/roundkeeper/internal/events"
	"github.com/roundkeeper/internal/geo"
	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/internal/round"
	"github.com/roundkeeper/internal/storage"
	"github.com/roundkeeper/internal/streak"
	"github.com/roundkeeper/pkg/logger"
)

// SeedSource fetches the upstream game snapshot behind a play url.
// A game the source does not know yields (nil, nil).
type SeedSource interface {
	FetchSeed(ctx context.Context, playURL string) (*models.Seed, error)
}

// Geocoder answers region questions about a coordinate
type Geocoder interface {
	StreakCodeFor(ctx context.Context, p models.LatLng) (string, error)
	IsOnLand(ctx context.Context, p models.LatLng) (bool, error)
}

// Options configures a GameSession
type Options struct {
	Modes      config.Modes
	HostName   string
	HostAvatar string
	Events     events.Publisher
	Logger     *logger.Logger
	// Rand drives random plonks; seeded from the clock when nil
	Rand *rand.Rand
}

// GameSession orchestrates one live game: it follows the upstream seed,
// opens and closes rounds, and scores the guesses submitted in between.
//
// Polls and session starts are serialized by pollMu. Submissions share gate
// for reading while round transitions take it exclusively, so a submission
// never straddles two rounds. mu guards the fields below it.
type GameSession struct {
	repo    storage.Repository
	seeds   SeedSource
	geo     Geocoder
	events  events.Publisher
	tracker *streak.Tracker
	modes   config.Modes
	logger  *logger.Logger

	hostName   string
	hostAvatar string

	pollMu sync.Mutex
	gate   sync.RWMutex
	locks  *keyedMutex

	rndMu sync.Mutex
	rnd   *rand.Rand

	brMu     sync.Mutex
	brCounts map[string]int

	mu              sync.RWMutex
	state           round.State
	url             string
	seed            *models.Seed
	gameID          string
	round           *models.Round
	streakCode      string
	location        models.LatLng
	lastLocation    *models.LatLng
	mapScale        float64
	inGame          bool
	guessesOpen     bool
	generation      uint64
	hostRandomPlonk bool
}

// NewGameSession creates a session with its mode snapshot fixed
func NewGameSession(repo storage.Repository, seeds SeedSource, geocoder Geocoder, opts Options) *GameSession {
	policy := streak.Strict
	switch {
	case opts.Modes.IsMultiGuess:
		policy = streak.MultiGuess
	case opts.Modes.IsBRMode:
		policy = streak.BattleRoyale
	}

	pub := opts.Events
	if pub == nil {
		pub = events.Discard
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	rnd := opts.Rand
	if rnd == nil {
		now := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(now, now>>1))
	}

	return &GameSession{
		repo:       repo,
		seeds:      seeds,
		geo:        geocoder,
		events:     pub,
		tracker:    streak.NewTracker(repo, policy, streak.DefaultCommitConcurrency),
		modes:      opts.Modes,
		logger:     log,
		hostName:   opts.HostName,
		hostAvatar: opts.HostAvatar,
		locks:      newKeyedMutex(),
		rnd:        rnd,
		brCounts:   make(map[string]int),
	}
}

// Modes returns the session's mode snapshot
func (s *GameSession) Modes() config.Modes {
	return s.modes
}

// Start binds the session to a game url. Starting the url already bound
// re-polls it instead. A new url creates the game and its first round, or
// resumes the stored game when it already exists.
func (s *GameSession) Start(ctx context.Context, playURL string) (*models.SessionResponse, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.mu.RLock()
	same := s.inGame && s.url == playURL
	s.mu.RUnlock()
	if same {
		if _, err := s.refreshLocked(ctx); err != nil {
			return nil, err
		}
		snap := s.Snapshot()
		return &snap, nil
	}

	seed, err := s.seeds.FetchSeed(ctx, playURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeedUnavailable, err)
	}
	if seed == nil {
		return nil, ErrSeedUnavailable
	}
	current, ok := seed.CurrentRound()
	if !ok {
		return nil, fmt.Errorf("%w: seed has no rounds", ErrSeedUnavailable)
	}

	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.Lock()
	s.generation++
	s.inGame = false
	s.guessesOpen = false
	s.state = round.NotStarted
	s.round = nil
	needLast := s.lastLocation == nil
	s.mu.Unlock()

	game := &models.Game{
		ID:      seed.Token,
		URL:     playURL,
		MapID:   seed.Map,
		MapName: seed.MapName,
		State:   models.GameStateActive,
	}

	var resumed *models.Round
	err = s.repo.CreateGame(ctx, game)
	switch {
	case errors.Is(err, storage.ErrGameExists):
		resumed, err = s.repo.GetCurrentRound(ctx, game.ID)
		if err != nil && !errors.Is(err, storage.ErrRoundNotFound) {
			return nil, fmt.Errorf("failed to resume game: %w", err)
		}
		if resumed != nil && !resumed.Location.Equal(current.Location()) {
			resumed = nil
		}
		s.logger.Info("Resuming existing game", logger.F("game_id", game.ID))
	case err != nil:
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	if needLast {
		last, err := s.lastPlayedLocation(ctx, resumed)
		if err != nil {
			return nil, fmt.Errorf("failed to read last round location: %w", err)
		}
		s.mu.Lock()
		s.lastLocation = last
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.url = playURL
	s.seed = seed
	s.gameID = game.ID
	s.mapScale = geo.MapScale(seed.Bounds)
	s.mu.Unlock()

	if resumed != nil {
		if err := s.adoptRound(ctx, resumed); err != nil {
			return nil, err
		}
	} else if err := s.startRound(ctx, current); err != nil {
		return nil, err
	}

	// the session only counts as in game once its round is in place
	s.mu.Lock()
	s.state = round.InRound
	s.inGame = true
	s.mu.Unlock()

	s.setGuessesOpen(true)
	snap := s.Snapshot()
	return &snap, nil
}

// lastPlayedLocation returns the target of the latest round that was played
// out. A resumed round is still open, so the round before it is used.
func (s *GameSession) lastPlayedLocation(ctx context.Context, resumed *models.Round) (*models.LatLng, error) {
	if resumed == nil {
		return s.repo.GetLastRoundLocation(ctx)
	}
	prev, err := s.repo.GetPreviousRound(ctx, resumed.ID)
	if errors.Is(err, storage.ErrRoundNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	loc := prev.Location
	return &loc, nil
}

// RefreshResult describes what a poll did
type RefreshResult struct {
	Kind        round.Kind
	Results     []models.RoundResult
	GameResults []models.GameResult
}

// Refresh polls the seed source once and applies the difference. Only one
// poll runs at a time; a poll issued while another is in flight returns
// NoChange immediately.
func (s *GameSession) Refresh(ctx context.Context) (*RefreshResult, error) {
	if !s.pollMu.TryLock() {
		return &RefreshResult{Kind: round.NoChange}, nil
	}
	defer s.pollMu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *GameSession) refreshLocked(ctx context.Context) (*RefreshResult, error) {
	s.mu.RLock()
	inGame, state, playURL := s.inGame, s.state, s.url
	gen := s.generation
	s.mu.RUnlock()

	if !inGame {
		return nil, ErrNotInGame
	}
	if state == round.Finished {
		return &RefreshResult{Kind: round.NoChange}, nil
	}

	next, err := s.seeds.FetchSeed(ctx, playURL)
	if err != nil {
		return nil, fmt.Errorf("failed to poll seed: %w", err)
	}
	if next == nil {
		return nil, ErrSeedUnavailable
	}

	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.RLock()
	held, location := s.seed, s.location
	current := s.generation
	s.mu.RUnlock()

	if current != gen {
		s.logger.Debug("Discarding poll from a previous session")
		return &RefreshResult{Kind: round.Stale}, nil
	}

	t := round.Diff(held, next, location)
	switch t.Kind {
	case round.Stale:
		s.logger.Debug("Discarding stale seed", logger.F("url", playURL))
		return &RefreshResult{Kind: round.Stale}, nil
	case round.HostGuessed:
		return s.finishRound(ctx, next, t)
	case round.LocationChanged:
		if err := s.replaceRound(ctx, next, t.Next); err != nil {
			return nil, err
		}
		return &RefreshResult{Kind: round.LocationChanged}, nil
	default:
		s.mu.Lock()
		s.seed = next
		s.mu.Unlock()
		return &RefreshResult{Kind: round.NoChange}, nil
	}
}

// finishRound closes the current round after the host guessed, then either
// opens the next round or finishes the game. Callers hold gate.
func (s *GameSession) finishRound(ctx context.Context, next *models.Seed, t round.Transition) (*RefreshResult, error) {
	s.setGuessesOpen(false)

	s.mu.RLock()
	rnd, code, location := s.round, s.streakCode, s.location
	s.mu.RUnlock()

	if s.tracker.Policy() != streak.Strict {
		guesses, err := s.repo.GetRoundGuesses(ctx, rnd.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read round guesses: %w", err)
		}
		if err := s.tracker.CommitRound(ctx, rnd.ID, code, guesses); err != nil {
			return nil, err
		}
	}

	if err := s.processHostGuess(ctx, t.HostGuess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	loc := location
	s.lastLocation = &loc
	s.seed = next
	s.state = round.Next(s.state, t)
	s.mu.Unlock()

	if s.modes.ExclusiveMode {
		if err := s.repo.MarkGuessesExclusive(ctx, rnd.ID); err != nil {
			return nil, fmt.Errorf("failed to mark exclusive guesses: %w", err)
		}
	}

	results, err := s.repo.GetRoundResults(ctx, rnd.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read round results: %w", err)
	}

	data := events.RoundFinishedData{
		GameID:          rnd.GameID,
		RoundID:         rnd.ID,
		RoundIndex:      rnd.Index,
		Location:        location,
		Results:         results,
		BestRandomPlonk: bestRandomPlonk(results),
	}
	if s.modes.IsGiftingPointsRound && len(results) > 0 {
		data.Gift = s.gift(results[0].Player.Username, s.modes.RoundPointGift)
	}
	s.events.Publish(events.New(events.RoundFinished, data))

	res := &RefreshResult{Kind: round.HostGuessed, Results: results}

	if t.GameOver {
		gameResults, err := s.finishGame(ctx, rnd.GameID)
		if err != nil {
			return nil, err
		}
		res.GameResults = gameResults
		return res, nil
	}

	if err := s.startRound(ctx, t.Next); err != nil {
		return nil, err
	}
	s.setGuessesOpen(true)
	return res, nil
}

func (s *GameSession) finishGame(ctx context.Context, gameID string) ([]models.GameResult, error) {
	if err := s.repo.FinishGame(ctx, gameID); err != nil {
		return nil, fmt.Errorf("failed to finish game: %w", err)
	}

	results, err := s.gameResults(ctx, gameID)
	if err != nil {
		return nil, err
	}

	data := events.GameFinishedData{GameID: gameID, Results: results}
	if len(results) > 0 {
		winner := results[0].Player
		data.Winner = results[0].Label()
		if err := s.repo.SetGameWinner(ctx, gameID, winner.ID); err != nil {
			return nil, fmt.Errorf("failed to set game winner: %w", err)
		}
		if s.modes.IsGiftingPointsGame {
			data.Gift = s.gift(winner.Username, s.modes.GamePointGift)
		}
	}

	s.logger.Info("Game finished", logger.F("game_id", gameID), logger.F("winner", data.Winner))
	s.events.Publish(events.New(events.GameFinished, data))
	return results, nil
}

// replaceRound swaps the target without scoring. The guesses-open flag is
// left as it was. Callers hold gate.
func (s *GameSession) replaceRound(ctx context.Context, next *models.Seed, sr models.SeedRound) error {
	s.mu.Lock()
	s.seed = next
	s.mu.Unlock()

	s.logger.Info("Round location changed", logger.F("pano_id", sr.PanoID))
	return s.startRound(ctx, sr)
}

// startRound persists a new round for sr, computes its streak code once and
// makes it current. Callers hold gate.
func (s *GameSession) startRound(ctx context.Context, sr models.SeedRound) error {
	s.mu.RLock()
	gameID := s.gameID
	s.mu.RUnlock()

	r := &models.Round{
		GameID:        gameID,
		Location:      sr.Location(),
		PanoID:        sr.PanoID,
		Heading:       sr.Heading,
		Pitch:         sr.Pitch,
		Zoom:          sr.Zoom,
		InvertScoring: s.modes.InvertScoring,
	}
	if err := s.repo.CreateRound(ctx, r); err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	return s.adoptRound(ctx, r)
}

// adoptRound makes r the current round, resolving its streak code when the
// round does not carry one yet. A geocoder failure leaves the code empty so
// no guess of the round counts as correct.
func (s *GameSession) adoptRound(ctx context.Context, r *models.Round) error {
	if r.StreakCode == "" {
		code, err := s.geo.StreakCodeFor(ctx, r.Location)
		if err != nil {
			s.logger.Warn("Failed to resolve round streak code", logger.F("round_id", r.ID), logger.Err(err))
		} else if code != "" {
			if err := s.repo.SetRoundStreakCode(ctx, r.ID, code); err != nil {
				return fmt.Errorf("failed to set round streak code: %w", err)
			}
			r.StreakCode = code
		}
	}

	s.mu.Lock()
	s.round = r
	s.streakCode = r.StreakCode
	s.location = r.Location
	roundCount := 0
	if s.seed != nil {
		roundCount = s.seed.RoundCount
	}
	s.mu.Unlock()

	s.brMu.Lock()
	s.brCounts = make(map[string]int)
	s.brMu.Unlock()

	s.logger.Info("Round started",
		logger.F("game_id", r.GameID),
		logger.F("round_id", r.ID),
		logger.F("index", strconv.Itoa(r.Index)),
	)
	loc := r.Location
	s.events.Publish(events.New(events.RoundStarted, events.RoundStartedData{
		GameID:     r.GameID,
		RoundID:    r.ID,
		RoundIndex: r.Index,
		RoundCount: roundCount,
		Location:   &loc,
		Modes:      s.modes.Summary(),
	}))
	return nil
}

// EndSession leaves the current game. Polls already in flight are discarded.
func (s *GameSession) EndSession() {
	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.Lock()
	wasOpen := s.guessesOpen
	s.generation++
	s.inGame = false
	s.guessesOpen = false
	s.state = round.NotStarted
	s.url = ""
	s.mu.Unlock()

	if wasOpen {
		s.events.Publish(events.New(events.GuessesClosed, nil))
	}
	s.events.Publish(events.New(events.SessionStopped, nil))
}

// OpenGuesses starts accepting guesses for the current round
func (s *GameSession) OpenGuesses() error {
	s.mu.RLock()
	ok := s.inGame && s.state == round.InRound
	s.mu.RUnlock()
	if !ok {
		return ErrNotInGame
	}
	s.setGuessesOpen(true)
	return nil
}

// CloseGuesses stops accepting guesses for the current round
func (s *GameSession) CloseGuesses() error {
	s.mu.RLock()
	ok := s.inGame
	s.mu.RUnlock()
	if !ok {
		return ErrNotInGame
	}
	s.setGuessesOpen(false)
	return nil
}

func (s *GameSession) setGuessesOpen(open bool) {
	s.mu.Lock()
	changed := s.guessesOpen != open
	s.guessesOpen = open
	s.mu.Unlock()

	if !changed {
		return
	}
	if open {
		s.events.Publish(events.New(events.GuessesOpened, nil))
	} else {
		s.events.Publish(events.New(events.GuessesClosed, nil))
	}
}

// SetHostRandomPlonk flags the host's next guess as a random plonk
func (s *GameSession) SetHostRandomPlonk(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostRandomPlonk = v
}

// Snapshot describes the session's current state
func (s *GameSession) Snapshot() models.SessionResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := models.SessionResponse{
		URL:         s.url,
		GameID:      s.gameID,
		State:       s.state.String(),
		InGame:      s.inGame,
		GuessesOpen: s.guessesOpen,
		Modes:       s.modes.Summary(),
	}
	if s.round != nil && s.inGame {
		loc := s.location
		resp.RoundID = s.round.ID
		resp.RoundIndex = s.round.Index
		resp.Location = &loc
	}
	return resp
}

func (s *GameSession) gift(username string, amount int) *events.Gift {
	if s.modes.PointGiftCommand == "" || amount <= 0 {
		return nil
	}
	return &events.Gift{Command: s.modes.PointGiftCommand, Username: username, Amount: amount}
}

func bestRandomPlonk(results []models.RoundResult) *models.RoundResult {
	var best *models.RoundResult
	for i := range results {
		r := &results[i]
		if !r.Guess.IsRandomPlonk {
			continue
		}
		if best == nil || r.Guess.Score > best.Guess.Score {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}
