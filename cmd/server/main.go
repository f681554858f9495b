/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory consumption ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Configure zerolog
  3. Initialize SQLite store
  4. Create API handler with dependencies
  5. Optionally start the depletion scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: inventory.db)
              Use ":memory:" for an in-memory database
  -locations  Comma-separated location ids the scheduler should run for
              (default: none, scheduler idle)
  -threshold  Absolute variance threshold before a reason is required
  -pretty     Human-readable log output instead of JSON
  -demo       Enable the demo scenario routes (development only)

ENVIRONMENT:
  Flags override environment. Recognized variables:
  PORT, DB_PATH, SCHEDULER_LOCATIONS, VARIANCE_THRESHOLD, LOG_LEVEL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections, drain (30s timeout)
  3. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/barflow/inventory-engine/api"
	"github.com/barflow/inventory-engine/depletion"
	"github.com/barflow/inventory-engine/ledger"
	"github.com/barflow/inventory-engine/store/sqlite"
)

func main() {
	// .env is optional; flags and real env win
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "inventory.db"), "SQLite database path")
	locations := flag.String("locations", envStr("SCHEDULER_LOCATIONS", ""), "comma-separated location ids for the depletion scheduler")
	threshold := flag.String("threshold", envStr("VARIANCE_THRESHOLD", "0"), "absolute variance threshold before a reason is required")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	demo := flag.Bool("demo", false, "enable the demo scenario routes")
	flag.Parse()

	log := newLogger(*pretty)

	thresholdValue, err := decimal.NewFromString(*threshold)
	if err != nil {
		log.Fatal().Err(err).Str("threshold", *threshold).Msg("invalid variance threshold")
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	handler := api.NewHandler(store, depletion.Thresholds{Absolute: thresholdValue}, log)
	if *demo {
		handler.Seed = store
		log.Warn().Msg("demo scenario routes enabled")
	}
	router := api.NewRouter(handler)

	scheduler := api.NewDepletionScheduler(handler.Engine, parseLocations(*locations), log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}

func newLogger(pretty bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func parseLocations(s string) []ledger.LocationID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]ledger.LocationID, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, ledger.LocationID(p))
		}
	}
	return ids
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
