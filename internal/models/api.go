package models

// StartSessionRequest represents the request to start or resume a session
type StartSessionRequest struct {
	URL string `json:"url"`
}

// SessionResponse describes the orchestrator's current state
type SessionResponse struct {
	URL         string  `json:"url,omitempty"`
	GameID      string  `json:"game_id,omitempty"`
	RoundID     string  `json:"round_id,omitempty"`
	RoundIndex  int     `json:"round_index,omitempty"`
	State       string  `json:"state"`
	InGame      bool    `json:"in_game"`
	GuessesOpen bool    `json:"guesses_open"`
	Location    *LatLng `json:"location,omitempty"`
	Modes       string  `json:"modes"`
}

// TransitionResponse reports what a poll did
type TransitionResponse struct {
	Transition string          `json:"transition"`
	Session    SessionResponse `json:"session"`
	Results    []RoundResult   `json:"results,omitempty"`
}

// GuessRequest represents a guess submission. Either Message (a chat
// trigger such as "!g 48.85, 2.35") or Lat/Lng must be set.
type GuessRequest struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Color       string   `json:"color,omitempty"`
	Avatar      string   `json:"avatar,omitempty"`
	Message     string   `json:"message,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	RandomPlonk bool     `json:"random_plonk,omitempty"`
	Water       bool     `json:"water,omitempty"`
	Force       bool     `json:"force,omitempty"`
}

// GuessResponse describes an accepted guess
type GuessResponse struct {
	Player        User    `json:"player"`
	Position      LatLng  `json:"position"`
	Distance      float64 `json:"distance"`
	Score         int     `json:"score"`
	Streak        int     `json:"streak"`
	LastStreak    int     `json:"last_streak,omitempty"`
	Modified      bool    `json:"modified"`
	IsRandomPlonk bool    `json:"is_random_plonk"`
	BRCounter     int     `json:"br_counter,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
