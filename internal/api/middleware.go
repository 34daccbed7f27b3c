package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/pkg/logger"
)

// Snapshotter reports the session a request ran against
type Snapshotter interface {
	Snapshot() models.SessionResponse
}

// RequestIDMiddleware tags each request with an id, forwarding the caller's
// X-Request-ID when present and echoing it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	tag := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(middleware.RequestIDHeader, GetRequestID(r.Context()))
		next.ServeHTTP(w, r)
	}))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(middleware.RequestIDHeader) == "" {
			r.Header.Set(middleware.RequestIDHeader, uuid.NewString())
		}
		tag.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs each request with the game and round it hit.
// Health probes log at debug, server errors at warn.
func LoggingMiddleware(log *logger.Logger, session Snapshotter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logger.Field{
				logger.F("method", r.Method),
				logger.F("path", r.URL.Path),
				logger.F("status", strconv.Itoa(status)),
				logger.F("bytes", strconv.Itoa(ww.BytesWritten())),
				logger.F("duration_ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10)),
				logger.F("request_id", GetRequestID(r.Context())),
			}
			if session != nil {
				if snap := session.Snapshot(); snap.InGame {
					fields = append(fields, logger.F("game_id", snap.GameID), logger.F("round_id", snap.RoundID))
				}
			}

			switch {
			case status >= http.StatusInternalServerError:
				log.Warn("HTTP request", fields...)
			case r.URL.Path == "/health":
				log.Debug("HTTP request", fields...)
			default:
				log.Info("HTTP request", fields...)
			}
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
