package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roundkeeper/internal/config"
	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/internal/round"
	"github.com/roundkeeper/internal/service"
	"github.com/roundkeeper/pkg/logger"
)

// mockSession implements Session for testing
type mockSession struct {
	guessErr    error
	startErr    error
	lastUser    models.User
	lastPoint   models.LatLng
	lastOpts    service.GuessOptions
	lastMessage string
	plonks      int
	hostPlonk   bool
	ended       bool
}

func (m *mockSession) Start(ctx context.Context, playURL string) (*models.SessionResponse, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &models.SessionResponse{URL: playURL, InGame: true, State: "in-round"}, nil
}

func (m *mockSession) Refresh(ctx context.Context) (*service.RefreshResult, error) {
	return &service.RefreshResult{Kind: round.NoChange}, nil
}

func (m *mockSession) EndSession() { m.ended = true }
func (m *mockSession) OpenGuesses() error { return service.ErrNotInGame }
func (m *mockSession) CloseGuesses() error { return nil }
func (m *mockSession) SetHostRandomPlonk(v bool) { m.hostPlonk = v }

func (m *mockSession) Snapshot() models.SessionResponse {
	if m.ended {
		return models.SessionResponse{State: "idle"}
	}
	return models.SessionResponse{State: "in-round", InGame: true, GameID: "g-1", RoundID: "r-1"}
}

func (m *mockSession) SubmitGuess(ctx context.Context, user models.User, p models.LatLng, opts service.GuessOptions) (*models.GuessResponse, error) {
	m.lastUser, m.lastPoint, m.lastOpts = user, p, opts
	if m.guessErr != nil {
		return nil, m.guessErr
	}
	return &models.GuessResponse{Player: user, Position: p, Score: 4321}, nil
}

func (m *mockSession) SubmitChatGuess(ctx context.Context, user models.User, message string) (*models.GuessResponse, error) {
	m.lastUser, m.lastMessage = user, message
	if m.guessErr != nil {
		return nil, m.guessErr
	}
	return &models.GuessResponse{Player: user}, nil
}

func (m *mockSession) RandomPlonk(ctx context.Context, user models.User, water bool) (*models.GuessResponse, error) {
	m.plonks++
	return &models.GuessResponse{Player: user, IsRandomPlonk: true}, nil
}

func (m *mockSession) RoundResults(ctx context.Context) ([]models.RoundResult, error) {
	return nil, nil
}

func (m *mockSession) RoundParticipants(ctx context.Context) ([]models.User, error) {
	return []models.User{{ID: "u1", Username: "alice"}}, nil
}

func (m *mockSession) GameResults(ctx context.Context) ([]models.GameResult, error) {
	return nil, service.ErrNotInGame
}

func (m *mockSession) Modes() config.Modes {
	modes := config.DefaultModes()
	modes.ExclusiveMode = true
	return modes
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func ptr(v float64) *float64 { return &v }

func TestHandler_SubmitGuess(t *testing.T) {
	tests := []struct {
		name           string
		guessErr       error
		body           interface{}
		expectedStatus int
		expectedCode   string
		validate       func(*testing.T, *mockSession)
	}{
		{
			name:           "coordinates",
			body:           models.GuessRequest{UserID: "u1", Lat: ptr(48.85), Lng: ptr(2.35), Force: true},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, m *mockSession) {
				if !m.lastPoint.Equal(models.LatLng{Lat: 48.85, Lng: 2.35}) {
					t.Errorf("unexpected point %+v", m.lastPoint)
				}
				if !m.lastOpts.Force {
					t.Error("expected force to be passed through")
				}
				if m.lastUser.Username != "u1" {
					t.Errorf("expected username to default to the id, got %q", m.lastUser.Username)
				}
			},
		},
		{
			name:           "chat message",
			body:           models.GuessRequest{UserID: "u1", Username: "alice", Message: "!g 1, 2"},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, m *mockSession) {
				if m.lastMessage != "!g 1, 2" {
					t.Errorf("unexpected message %q", m.lastMessage)
				}
			},
		},
		{
			name:           "random plonk flag",
			body:           models.GuessRequest{UserID: "u1", RandomPlonk: true},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, m *mockSession) {
				if m.plonks != 1 {
					t.Errorf("expected one random plonk, got %d", m.plonks)
				}
			},
		},
		{
			name:           "missing user",
			body:           models.GuessRequest{Lat: ptr(1), Lng: ptr(2)},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing coordinates",
			body:           models.GuessRequest{UserID: "u1"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			body:           "{",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "already guessed",
			guessErr:       service.ErrAlreadyGuessed,
			body:           models.GuessRequest{UserID: "u1", Lat: ptr(1), Lng: ptr(2)},
			expectedStatus: http.StatusConflict,
			expectedCode:   service.CodeAlreadyGuessed,
		},
		{
			name:           "same as previous",
			guessErr:       service.ErrSubmittedPreviousGuess,
			body:           models.GuessRequest{UserID: "u1", Lat: ptr(1), Lng: ptr(2)},
			expectedStatus: http.StatusConflict,
			expectedCode:   service.CodeSubmittedPreviousGuess,
		},
		{
			name:           "not a guess",
			guessErr:       service.ErrNotAGuess,
			body:           models.GuessRequest{UserID: "u1", Message: "hello"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "banned",
			guessErr:       service.ErrUserBanned,
			body:           models.GuessRequest{UserID: "u1", Lat: ptr(1), Lng: ptr(2)},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "closed",
			guessErr:       service.ErrGuessesClosed,
			body:           models.GuessRequest{UserID: "u1", Lat: ptr(1), Lng: ptr(2)},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "not in game",
			guessErr:       service.ErrNotInGame,
			body:           models.GuessRequest{UserID: "u1", Lat: ptr(1), Lng: ptr(2)},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockSession{guessErr: tt.guessErr}
			h := NewHandler(m, nil, logger.Nop()).Routes()

			w := do(t, h, http.MethodPost, "/guesses", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedCode != "" {
				var resp models.ErrorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.Code != tt.expectedCode {
					t.Errorf("expected code %q, got %q", tt.expectedCode, resp.Code)
				}
			}
			if tt.validate != nil {
				tt.validate(t, m)
			}
		})
	}
}

func TestHandler_StartSession(t *testing.T) {
	tests := []struct {
		name           string
		startErr       error
		body           interface{}
		expectedStatus int
	}{
		{"valid", nil, models.StartSessionRequest{URL: "https://www.geoguessr.com/game/abc"}, http.StatusOK},
		{"missing url", nil, models.StartSessionRequest{}, http.StatusBadRequest},
		{"seed unavailable", service.ErrSeedUnavailable, models.StartSessionRequest{URL: "x"}, http.StatusBadGateway},
		{"storage failure", errors.New("disk full"), models.StartSessionRequest{URL: "x"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockSession{startErr: tt.startErr}, nil, logger.Nop()).Routes()
			w := do(t, h, http.MethodPost, "/session/start", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandler_Routes(t *testing.T) {
	m := &mockSession{}
	h := NewHandler(m, nil, logger.Nop()).Routes()

	tests := []struct {
		method         string
		path           string
		body           interface{}
		expectedStatus int
	}{
		{http.MethodGet, "/health", nil, http.StatusOK},
		{http.MethodPost, "/session/refresh", nil, http.StatusOK},
		{http.MethodPost, "/guesses/open", nil, http.StatusNotFound},
		{http.MethodPost, "/guesses/close", nil, http.StatusOK},
		{http.MethodPost, "/host/random-plonk", map[string]bool{"enabled": true}, http.StatusOK},
		{http.MethodGet, "/rounds/current/results", nil, http.StatusOK},
		{http.MethodGet, "/rounds/current/participants", nil, http.StatusOK},
		{http.MethodGet, "/games/current/results", nil, http.StatusNotFound},
		{http.MethodPost, "/session/end", nil, http.StatusOK},
		{http.MethodGet, "/ws", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}

	if !m.hostPlonk {
		t.Error("expected host random plonk to be enabled")
	}
	if !m.ended {
		t.Error("expected session to be ended")
	}
}

func TestHandler_RefreshAndResults(t *testing.T) {
	h := NewHandler(&mockSession{}, nil, logger.Nop()).Routes()

	w := do(t, h, http.MethodPost, "/session/refresh", nil)
	var tr models.TransitionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tr); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if tr.Transition != round.NoChange.String() {
		t.Errorf("expected transition %q, got %q", round.NoChange.String(), tr.Transition)
	}

	w = do(t, h, http.MethodGet, "/rounds/current/results", nil)
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("expected empty array, got %s", body)
	}

	w = do(t, h, http.MethodGet, "/modes", nil)
	var modes struct {
		Summary string   `json:"summary"`
		Help    []string `json:"help"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &modes); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if modes.Summary != "Exclusive mode" || len(modes.Help) != 1 {
		t.Errorf("unexpected modes %+v", modes)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "req-1" {
		t.Errorf("expected forwarded request id, got %q", seen)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-1" {
		t.Errorf("expected generated request id, got %q", seen)
	}
	if got := w.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("expected response to echo %q, got %q", seen, got)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		session   *mockSession
		path      string
		status    int
		wantLevel string
		wantGame  string
	}{
		{name: "in game", session: &mockSession{}, path: "/guesses", status: http.StatusCreated, wantLevel: "info", wantGame: "g-1"},
		{name: "idle", session: &mockSession{ended: true}, path: "/session", status: http.StatusOK, wantLevel: "info"},
		{name: "server error", session: &mockSession{}, path: "/session/start", status: http.StatusBadGateway, wantLevel: "warn", wantGame: "g-1"},
		{name: "health", session: &mockSession{}, path: "/health", status: http.StatusOK, wantLevel: "debug", wantGame: "g-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewWithOptions(logger.Options{Level: "debug", Output: &buf})
			h := RequestIDMiddleware(LoggingMiddleware(log, tt.session)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})))

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.Header.Set("X-Request-ID", "req-2")
			h.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]string
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("expected level %q, got %q", tt.wantLevel, entry["level"])
			}
			if entry["game_id"] != tt.wantGame {
				t.Errorf("expected game %q, got %q", tt.wantGame, entry["game_id"])
			}
			if entry["request_id"] != "req-2" || entry["path"] != tt.path {
				t.Errorf("unexpected log line %v", entry)
			}
		})
	}
}
