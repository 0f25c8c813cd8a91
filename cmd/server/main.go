/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the visit admission server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), environment, then command-line flags
  2. Open the store (SQLite or PostgreSQL) and apply migrations
  3. Build the engine with an async notification dispatcher
  4. Start the job scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -driver  sqlite3 | postgres (overrides DB_DRIVER)
  -db      SQLite path or postgres DSN (overrides DATABASE_URL)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections, wait for active requests (30s)
  3. Drain queued notifications
  4. Close the database

EXAMPLES:
  ./server -db="./data/visits.db"
  ./server -driver=postgres -db="postgres://visits@localhost/visits?sslmode=disable"

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/admission"
	"github.com/warp/visit-engine/api"
	"github.com/warp/visit-engine/config"
	"github.com/warp/visit-engine/store/sqlstore"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "server").Logger()

	// Missing .env is fine; the environment may carry everything.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	driver := flag.String("driver", cfg.DBDriver, "database driver (sqlite3 or postgres)")
	dsn := flag.String("db", cfg.DatabaseURL, "SQLite path or postgres DSN")
	flag.Parse()

	log = log.Level(cfg.LogLevel)
	root := zerolog.New(os.Stdout).Level(cfg.LogLevel).With().Timestamp().Logger()

	dialect, err := sqlstore.ParseDialect(*driver)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid database driver")
	}
	store, err := sqlstore.Open(dialect, *dsn, root)
	if err != nil {
		log.Fatal().Err(err).Str("driver", string(dialect)).Msg("failed to initialize database")
	}

	dispatcher := admission.NewAsyncDispatcher(admission.LogDispatcher{
		Log: root.With().Str("component", "notifications").Logger(),
	}, 1024, root)

	engine := admission.NewEngine(store, admission.Options{
		Dispatcher:       dispatcher,
		Limits:           cfg.Limits(),
		Location:         cfg.Location(),
		PhoneRegion:      cfg.PhoneRegion,
		Log:              root,
		SweepConcurrency: cfg.SweepConcurrency,
	})

	scheduler := api.NewJobScheduler(engine, root)
	scheduler.Interval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()

	handler := api.NewHandler(engine, root)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Int("port", *port).
			Str("driver", string(dialect)).
			Str("timezone", cfg.Location().String()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	dispatcher.Close()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
	log.Info().Msg("server stopped")
}
