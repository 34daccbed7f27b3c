package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roundkeeper/internal/config"
	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/internal/service"
	"github.com/roundkeeper/internal/storage"
	"github.com/roundkeeper/pkg/logger"
)

// Session is the game session surface served over HTTP
type Session interface {
	Start(ctx context.Context, playURL string) (*models.SessionResponse, error)
	Refresh(ctx context.Context) (*service.RefreshResult, error)
	EndSession()
	OpenGuesses() error
	CloseGuesses() error
	SetHostRandomPlonk(v bool)
	Snapshot() models.SessionResponse
	SubmitGuess(ctx context.Context, user models.User, p models.LatLng, opts service.GuessOptions) (*models.GuessResponse, error)
	SubmitChatGuess(ctx context.Context, user models.User, message string) (*models.GuessResponse, error)
	RandomPlonk(ctx context.Context, user models.User, water bool) (*models.GuessResponse, error)
	RoundResults(ctx context.Context) ([]models.RoundResult, error)
	RoundParticipants(ctx context.Context) ([]models.User, error)
	GameResults(ctx context.Context) ([]models.GameResult, error)
	Modes() config.Modes
}

// Handler holds all HTTP handlers
type Handler struct {
	session Session
	ws      http.HandlerFunc
	logger  *logger.Logger
}

// NewHandler creates a new handler. ws serves the event stream and may be nil.
func NewHandler(session Session, ws http.HandlerFunc, logger *logger.Logger) *Handler {
	return &Handler{
		session: session,
		ws:      ws,
		logger:  logger,
	}
}

// Routes sets up all routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Get("/modes", h.Modes)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/start", h.StartSession)
		r.Post("/refresh", h.RefreshSession)
		r.Post("/end", h.EndSession)
	})

	r.Route("/guesses", func(r chi.Router) {
		r.Post("/", h.SubmitGuess)
		r.Post("/random", h.RandomPlonk)
		r.Post("/open", h.OpenGuesses)
		r.Post("/close", h.CloseGuesses)
	})

	r.Post("/host/random-plonk", h.HostRandomPlonk)

	r.Get("/rounds/current/results", h.RoundResults)
	r.Get("/rounds/current/participants", h.RoundParticipants)
	r.Get("/games/current/results", h.GameResults)

	if h.ws != nil {
		r.Get("/ws", h.ws)
	}

	return r
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Modes returns the active mode summary and its help lines
func (h *Handler) Modes(w http.ResponseWriter, r *http.Request) {
	modes := h.session.Modes()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"summary": modes.Summary(),
		"help":    modes.Help(),
	})
}

// GetSession returns the session snapshot
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.session.Snapshot())
}

// StartSession binds the session to a game url
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "url is required")
		return
	}

	requestID := GetRequestID(r.Context())
	h.logger.Info("Starting session", logger.F("url", req.URL), logger.F("request_id", requestID))

	resp, err := h.session.Start(r.Context(), req.URL)
	if err != nil {
		h.fail(w, r, "failed to start session", err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// RefreshSession polls the seed once
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.Refresh(r.Context())
	if err != nil {
		h.fail(w, r, "failed to refresh session", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.TransitionResponse{
		Transition: res.Kind.String(),
		Session:    h.session.Snapshot(),
		Results:    res.Results,
	})
}

// EndSession leaves the current game
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.session.EndSession()
	h.logger.Info("Session ended", logger.F("request_id", GetRequestID(r.Context())))
	h.respondJSON(w, http.StatusOK, h.session.Snapshot())
}

// OpenGuesses opens the current round for guessing
func (h *Handler) OpenGuesses(w http.ResponseWriter, r *http.Request) {
	if err := h.session.OpenGuesses(); err != nil {
		h.fail(w, r, "failed to open guesses", err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.session.Snapshot())
}

// CloseGuesses closes the current round for guessing
func (h *Handler) CloseGuesses(w http.ResponseWriter, r *http.Request) {
	if err := h.session.CloseGuesses(); err != nil {
		h.fail(w, r, "failed to close guesses", err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.session.Snapshot())
}

// SubmitGuess accepts a chat message or a coordinate pair
func (h *Handler) SubmitGuess(w http.ResponseWriter, r *http.Request) {
	var req models.GuessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := h.user(w, req)
	if !ok {
		return
	}

	var (
		resp *models.GuessResponse
		err  error
	)
	switch {
	case req.RandomPlonk:
		resp, err = h.session.RandomPlonk(r.Context(), user, req.Water)
	case req.Message != "":
		resp, err = h.session.SubmitChatGuess(r.Context(), user, req.Message)
	case req.Lat != nil && req.Lng != nil:
		p := models.LatLng{Lat: *req.Lat, Lng: *req.Lng}
		resp, err = h.session.SubmitGuess(r.Context(), user, p, service.GuessOptions{Force: req.Force})
	default:
		h.respondError(w, http.StatusBadRequest, "invalid request body", "message or lat/lng is required")
		return
	}
	if err != nil {
		h.fail(w, r, "guess rejected", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

// RandomPlonk submits a random coordinate for the user
func (h *Handler) RandomPlonk(w http.ResponseWriter, r *http.Request) {
	var req models.GuessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	user, ok := h.user(w, req)
	if !ok {
		return
	}

	resp, err := h.session.RandomPlonk(r.Context(), user, req.Water)
	if err != nil {
		h.fail(w, r, "random plonk rejected", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

// HostRandomPlonk toggles whether the host's next guess counts as a random plonk
func (h *Handler) HostRandomPlonk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	h.session.SetHostRandomPlonk(req.Enabled)
	h.respondJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// RoundResults returns the ordered results of the current round
func (h *Handler) RoundResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.session.RoundResults(r.Context())
	if err != nil {
		h.fail(w, r, "failed to get round results", err)
		return
	}
	if results == nil {
		results = []models.RoundResult{}
	}
	h.respondJSON(w, http.StatusOK, results)
}

// RoundParticipants returns the users that guessed the current round
func (h *Handler) RoundParticipants(w http.ResponseWriter, r *http.Request) {
	users, err := h.session.RoundParticipants(r.Context())
	if err != nil {
		h.fail(w, r, "failed to get participants", err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	h.respondJSON(w, http.StatusOK, users)
}

// GameResults returns the ranked results of the current game
func (h *Handler) GameResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.session.GameResults(r.Context())
	if err != nil {
		h.fail(w, r, "failed to get game results", err)
		return
	}
	if results == nil {
		results = []models.GameResult{}
	}
	h.respondJSON(w, http.StatusOK, results)
}

func (h *Handler) user(w http.ResponseWriter, req models.GuessRequest) (models.User, bool) {
	if req.UserID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "user_id is required")
		return models.User{}, false
	}
	username := req.Username
	if username == "" {
		username = req.UserID
	}
	return models.User{ID: req.UserID, Username: username, Color: req.Color, Avatar: req.Avatar}, true
}

// fail maps a service error to its status. Guess notices are answered with
// their code and are not logged as failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var notice *service.GuessError
	if errors.As(err, &notice) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg, Code: notice.Code, Message: notice.Message})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, logger.Err(err), logger.F("request_id", GetRequestID(r.Context())))
	} else {
		h.logger.Debug(msg, logger.Err(err), logger.F("request_id", GetRequestID(r.Context())))
	}
	h.respondError(w, status, msg, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotAGuess):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUserBanned):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotInGame), errors.Is(err, storage.ErrRoundNotFound), errors.Is(err, storage.ErrGameNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrGuessesClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrSeedUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func (h *Handler) respondError(w http.ResponseWriter, status int, errorMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:   errorMsg,
		Message: message,
	})
}
