// Command server runs the platform REST API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/postpilot/platform/internal/app"
	"github.com/postpilot/platform/internal/app/httpapi"
	"github.com/postpilot/platform/internal/app/storage/postgres"
	"github.com/postpilot/platform/internal/config"
	"github.com/postpilot/platform/internal/database"
	"github.com/postpilot/platform/internal/middleware"
	"github.com/postpilot/platform/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New("server", cfg.LogLevel)

	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Error("configure storage")
		os.Exit(1)
	}
	defer cleanup()

	application, err := app.New(stores, app.Config{
		ProbeTimeout:    cfg.ProbeTimeout,
		PublishTimeout:  cfg.PublishTimeout,
		PublishEndpoint: cfg.PublishEndpoint,
		PublishAPIKey:   cfg.PublishAPIKey,
	}, log)
	if err != nil {
		log.WithError(err).Error("initialise application")
		os.Exit(1)
	}

	auth := middleware.NewAuthMiddleware([]byte(cfg.JWTSecret), log, httpapi.UnauthenticatedPaths())
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log)

	handler := httpapi.NewHandler(application)
	handler = middleware.Metrics(application.Metrics)(handler)
	handler = middleware.Logging(log)(handler)
	handler = limiter.Handler(handler)
	handler = auth.Handler(handler)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

// buildStores selects the storage backend: PostgreSQL when DATABASE_URL is
// set, the Supabase REST API when its credentials are set, otherwise the
// in-memory store for local development.
func buildStores(cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	noop := func() {}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return app.Stores{}, noop, err
		}
		if err := db.Ping(); err != nil {
			return app.Stores{}, noop, err
		}
		store := postgres.New(db)
		log.Info("using postgres storage")
		return app.Stores{Credentials: store, Credits: store, Usage: store}, func() { _ = db.Close() }, nil
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		client, err := database.NewClient(database.Config{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
		})
		if err != nil {
			return app.Stores{}, noop, err
		}
		repo := database.NewRepository(client)
		log.Info("using supabase storage")
		return app.Stores{Credentials: repo, Credits: repo, Usage: repo}, noop, nil
	}

	log.Warn("no datastore configured; using in-memory storage")
	return app.Stores{}, noop, nil
}
