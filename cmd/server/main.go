/*
main.go - Application entry point

Initializes the ATP ledger core: loads configuration, runs goose
migrations, opens the pgx pool, wires the event store / idempotency /
projection / audit layers and the command pipeline onto it, seeds the
four system users and their accounts, starts the idempotency sweepers, and serves the
HTTP adapter with graceful shutdown.
*/
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/atp-ledger/core/internal/config"
	"github.com/atp-ledger/core/internal/httpapi"
	"github.com/atp-ledger/core/internal/ledger/command"
	"github.com/atp-ledger/core/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DatabaseURL, MaxConnections: cfg.DatabaseMaxConnections})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database pool")
	}
	defer store.Close()

	system := command.DefaultSystemAccounts()
	if err := command.Bootstrap(ctx, store, store, store); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap system accounts")
	}

	commands := &command.Handler{
		Events:      store,
		Idempotency: store,
		Projection:  store,
		Audit:       store,
		Tx:          store,
		Directory:   store,
		System:      system,
	}

	auth := httpapi.NewAPIKeyAuthorizer(os.Getenv("LEDGER_ADMIN_API_KEY"), os.Getenv("LEDGER_API_KEY"))
	handler := httpapi.NewHandler(commands, store, auth)
	router := httpapi.NewRouter(handler, logger)

	go httpapi.RunIdempotencySweepers(ctx, store, logger)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
}

// runMigrations opens a plain database/sql connection (goose's
// requirement) against the same DSN the pgx pool will use, runs every
// pending migration, and closes it before the pool opens.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()
	return postgres.Migrate(db)
}
