package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roundkeeper/internal/api"
	"github.com/roundkeeper/internal/config"
	"github.com/roundkeeper/internal/events"
	"github.com/roundkeeper/internal/geocode"
	"github.com/roundkeeper/internal/round"
	"github.com/roundkeeper/internal/service"
	"github.com/roundkeeper/internal/storage"
	"github.com/roundkeeper/internal/storage/cassandra"
	"github.com/roundkeeper/internal/storage/sqlite"
	"github.com/roundkeeper/pkg/logger"
)

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	repo, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	var lookup geocode.Lookuper = geocode.NewClient(cfg.Geocoder.APIBase, cfg.Geocoder.Timeout)
	if cfg.Redis.Addr != "" {
		rdb, err := geocode.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		lookup = geocode.NewRedisCache(rdb, lookup, cfg.Redis.TTL, log)
		log.Info("Geocode cache enabled", logger.F("addr", cfg.Redis.Addr))
	}

	hub := events.NewHub(log)
	go hub.Run()
	defer hub.Close()

	session := service.NewGameSession(
		repo,
		service.NewSeedClient(cfg.Seed.APIBase, cfg.Seed.Timeout),
		geocode.NewService(lookup),
		service.Options{
			Modes:      cfg.Modes,
			HostName:   cfg.HostName,
			HostAvatar: cfg.HostAvatar,
			Events:     events.Multi{hub, events.Logged(log)},
			Logger:     log,
		},
	)
	log.Info("Modes", logger.F("summary", cfg.Modes.Summary()))

	handler := api.NewHandler(session, hub.ServeWS, log)

	router := chi.NewRouter()
	router.Use(api.RequestIDMiddleware)
	router.Use(middleware.RealIP)
	router.Use(api.LoggingMiddleware(log, session))
	router.Use(middleware.Recoverer)
	router.Mount("/", handler.Routes())

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go poll(ctx, session, cfg.PollInterval, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", logger.F("addr", cfg.Address()), logger.F("storage", cfg.Storage.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	session.EndSession()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited")
	return nil
}

// openRepository builds the configured storage backend and its closer
func openRepository(cfg *config.Config, log *logger.Logger) (storage.Repository, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStorage(), func() {}, nil
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("SQLite storage opened", logger.F("path", cfg.Storage.SQLitePath))
		return sqlite.NewRepository(db), func() { db.Close() }, nil
	case config.BackendCassandra:
		client, err := cassandra.NewClient(cfg.Storage.Cassandra, log)
		if err != nil {
			return nil, nil, err
		}
		return cassandra.NewRepository(client, log, cfg.Storage.Cassandra.Timeout), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid storage value: %q", cfg.Storage.Backend)
	}
}

// poll refreshes the session on every tick until ctx is done. Polls made
// while no game is bound are skipped quietly.
func poll(ctx context.Context, session *service.GameSession, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := session.Refresh(ctx)
		switch {
		case errors.Is(err, service.ErrNotInGame):
		case err != nil:
			log.Warn("Poll failed", logger.Err(err))
		case res.Kind != round.NoChange:
			log.Info("Seed changed", logger.F("transition", res.Kind.String()))
		}
	}
}
