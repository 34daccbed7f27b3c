package models

import "time"

// HostUserID is the sentinel user id for the streamer/host actor
const HostUserID = "BROADCASTER"

// Seed lifecycle tags
const (
	SeedStateStarted  = "started"
	SeedStateFinished = "finished"
)

// Game states
const (
	GameStateActive   = "active"
	GameStateFinished = "finished"
)

// LatLng is a geographic coordinate in degrees
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Equal reports exact coordinate equality
func (p LatLng) Equal(o LatLng) bool {
	return p.Lat == o.Lat && p.Lng == o.Lng
}

// Bounds is the rectangle a map's locations are drawn from
type Bounds struct {
	Min LatLng `json:"min"`
	Max LatLng `json:"max"`
}

// SeedRound is one location of an upstream game
type SeedRound struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	PanoID  string  `json:"panoId"`
	Heading float64 `json:"heading"`
	Pitch   float64 `json:"pitch"`
	Zoom    float64 `json:"zoom"`
}

// Location returns the round's target coordinate
func (r SeedRound) Location() LatLng {
	return LatLng{Lat: r.Lat, Lng: r.Lng}
}

// HostGuess is a guess the host actor has committed upstream
type HostGuess struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	TimedOut bool    `json:"timedOut"`
}

// SeedPlayer holds the host actor's upstream guesses
type SeedPlayer struct {
	Guesses []HostGuess `json:"guesses"`
}

// Seed is an immutable snapshot of the upstream game descriptor
type Seed struct {
	Token          string      `json:"token"`
	Map            string      `json:"map"`
	MapName        string      `json:"mapName"`
	Round          int         `json:"round"`
	RoundCount     int         `json:"roundCount"`
	State          string      `json:"state"`
	Bounds         Bounds      `json:"bounds"`
	Rounds         []SeedRound `json:"rounds"`
	Player         SeedPlayer  `json:"player"`
	ForbidMoving   bool        `json:"forbidMoving"`
	ForbidRotating bool        `json:"forbidRotating"`
	ForbidZooming  bool        `json:"forbidZooming"`
}

// Finished reports whether the seed carries the terminal lifecycle tag
func (s *Seed) Finished() bool {
	return s.State == SeedStateFinished
}

// CurrentRound returns the latest round of the seed
func (s *Seed) CurrentRound() (SeedRound, bool) {
	if len(s.Rounds) == 0 {
		return SeedRound{}, false
	}
	return s.Rounds[len(s.Rounds)-1], true
}

// Game is the persisted aggregate for one upstream game
type Game struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	MapID      string     `json:"map_id"`
	MapName    string     `json:"map_name"`
	State      string     `json:"state"`
	WinnerID   string     `json:"winner_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Round is one location to be guessed
type Round struct {
	ID            string    `json:"id"`
	GameID        string    `json:"game_id"`
	Index         int       `json:"index"`
	Location      LatLng    `json:"location"`
	PanoID        string    `json:"pano_id,omitempty"`
	Heading       float64   `json:"heading"`
	Pitch         float64   `json:"pitch"`
	Zoom          float64   `json:"zoom"`
	StreakCode    string    `json:"streak_code,omitempty"`
	InvertScoring bool      `json:"invert_scoring"`
	CreatedAt     time.Time `json:"created_at"`
}

// User is a participant, created lazily on first contact
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Color     string    `json:"color,omitempty"`
	Flag      string    `json:"flag,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Guess is one user's submission for a round
type Guess struct {
	ID            string    `json:"id"`
	RoundID       string    `json:"round_id"`
	UserID        string    `json:"user_id"`
	Location      LatLng    `json:"location"`
	StreakCode    string    `json:"streak_code,omitempty"`
	Distance      float64   `json:"distance"`
	Score         int       `json:"score"`
	Streak        int       `json:"streak"`
	LastStreak    int       `json:"last_streak,omitempty"`
	IsRandomPlonk bool      `json:"is_random_plonk"`
	Demoted       bool      `json:"demoted,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Streak is a user's run of consecutive correct rounds
type Streak struct {
	UserID       string  `json:"user_id"`
	Count        int     `json:"count"`
	LastRoundID  string  `json:"last_round_id,omitempty"`
	LastLocation *LatLng `json:"last_location,omitempty"`
}

// RoundResult is one row of a round's ordered results
type RoundResult struct {
	Player User  `json:"player"`
	Guess  Guess `json:"guess"`
}

// GameResult is one user's aggregate across a game
type GameResult struct {
	Player        User      `json:"player"`
	Guesses       []*Guess  `json:"guesses"`
	TotalScore    int       `json:"total_score"`
	TotalDistance float64   `json:"total_distance"`
	GuessCount    int       `json:"guess_count"`
	Streak        int       `json:"streak"`
	Marker        string    `json:"marker,omitempty"`
	NameChain     string    `json:"name_chain,omitempty"`
	LastGuessAt   time.Time `json:"-"`
}

// Label returns the username prefixed by the display marker, if any
func (r GameResult) Label() string {
	if r.Marker == "" {
		return r.Player.Username
	}
	return r.Marker + " " + r.Player.Username
}
