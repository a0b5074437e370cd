// Command walletd runs the wallet ledger and escrow engine as an HTTP service.
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

	app "github.com/pi-work-link/wallet-engine/internal/app"
	"github.com/pi-work-link/wallet-engine/internal/app/httpapi"
	"github.com/pi-work-link/wallet-engine/internal/app/storage/postgres"
	"github.com/pi-work-link/wallet-engine/internal/config"
	"github.com/pi-work-link/wallet-engine/pkg/logger"
)

func main() {
	_ = godotenv.Load() // allow .env for local runs

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("walletd").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging).WithField("component", "walletd")

	stores, closeDB, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Error("initialise storage")
		os.Exit(1)
	}
	defer closeDB()

	application, err := app.New(stores, app.Options{
		LockTimeout:   cfg.Wallet.LockTimeout,
		EscrowTTL:     cfg.Wallet.EscrowTTL,
		SweepInterval: cfg.Wallet.SweepInterval,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start background services")
		os.Exit(1)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: httpapi.NewHandler(application, httpapi.HandlerConfig{
			AllowedOrigins:    cfg.Server.Origins(),
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("wallet engine listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown incomplete")
	}

	log.Info("wallet engine stopped")
}

// buildStores selects postgres when DATABASE_URL is set and falls back to the
// in-memory store otherwise. The returned func closes the database handle.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.URL == "" {
		log.Info("no database configured, using in-memory storage")
		return app.Stores{}, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return app.Stores{}, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return app.Stores{}, nil, err
	}
	if err := postgres.Apply(pingCtx, db); err != nil {
		_ = db.Close()
		return app.Stores{}, nil, err
	}

	store := postgres.New(db)
	log.Info("postgres storage initialised")
	return app.Stores{Ledger: store, Escrow: store}, func() { _ = db.Close() }, nil
}
