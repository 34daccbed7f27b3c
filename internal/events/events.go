// Package events carries the notifications a game session emits to the
// surrounding application (overlay, chat bot, host UI).
package events

import (
	"sync"
	"time"

	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/pkg/logger"
)

// Type names an event
type Type string

const (
	RoundStarted   Type = "round-started"
	GuessesOpened  Type = "guesses-opened"
	GuessesClosed  Type = "guesses-closed"
	GuessAccepted  Type = "guess-accepted"
	RoundFinished  Type = "round-finished"
	GameFinished   Type = "game-finished"
	SessionStopped Type = "session-stopped"
)

// Event is one notification with its payload
type Event struct {
	Type Type        `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data,omitempty"`
}

// New stamps an event with the current time
func New(t Type, data interface{}) Event {
	return Event{Type: t, At: time.Now().UTC(), Data: data}
}

// RoundStartedData is the payload of RoundStarted
type RoundStartedData struct {
	GameID     string         `json:"game_id"`
	RoundID    string         `json:"round_id"`
	RoundIndex int            `json:"round_index"`
	RoundCount int            `json:"round_count"`
	Location   *models.LatLng `json:"location,omitempty"`
	Modes      string         `json:"modes"`
}

// GuessAcceptedData is the payload of GuessAccepted
type GuessAcceptedData struct {
	RoundID       string        `json:"round_id"`
	Player        models.User   `json:"player"`
	Position      models.LatLng `json:"position"`
	Distance      float64       `json:"distance"`
	Score         int           `json:"score"`
	Streak        int           `json:"streak"`
	LastStreak    int           `json:"last_streak,omitempty"`
	Modified      bool          `json:"modified"`
	IsRandomPlonk bool          `json:"is_random_plonk"`
}

// Gift announces that the named user should be gifted points
type Gift struct {
	Command  string `json:"command"`
	Username string `json:"username"`
	Amount   int    `json:"amount"`
}

// RoundFinishedData is the payload of RoundFinished
type RoundFinishedData struct {
	GameID          string               `json:"game_id"`
	RoundID         string               `json:"round_id"`
	RoundIndex      int                  `json:"round_index"`
	Location        models.LatLng        `json:"location"`
	Results         []models.RoundResult `json:"results"`
	BestRandomPlonk *models.RoundResult  `json:"best_random_plonk,omitempty"`
	Gift            *Gift                `json:"gift,omitempty"`
}

// GameFinishedData is the payload of GameFinished
type GameFinishedData struct {
	GameID  string              `json:"game_id"`
	Winner  string              `json:"winner,omitempty"` // display label of results[0]
	Results []models.GameResult `json:"results"`
	Gift    *Gift               `json:"gift,omitempty"`
}

// Publisher delivers events. Implementations must not block the caller
// for long; the session publishes while holding its poll lock.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Multi fans an event out to several publishers in order
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}

// Logged returns a publisher that writes each event type at debug level
func Logged(log *logger.Logger) Publisher {
	return logged{log: log}
}

type logged struct {
	log *logger.Logger
}

func (l logged) Publish(e Event) {
	l.log.Debug("Event published", logger.F("type", string(e.Type)))
}

// Recorder keeps every published event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in publish order
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Reset forgets the recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
