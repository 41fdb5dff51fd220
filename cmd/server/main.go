// Package main is the entry point for the local-first personal finance
// tracker. It wires the offline auth machine, the per-identity ledger
// stores and the HTTP API, then blocks until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skryensya/logdr.io-sub000/internal/auth"
	"github.com/Skryensya/logdr.io-sub000/internal/auth/gate"
	"github.com/Skryensya/logdr.io-sub000/internal/auth/token"
	"github.com/Skryensya/logdr.io-sub000/internal/config"
	"github.com/Skryensya/logdr.io-sub000/internal/events"
	"github.com/Skryensya/logdr.io-sub000/internal/ledger"
	"github.com/Skryensya/logdr.io-sub000/internal/server"
	"github.com/Skryensya/logdr.io-sub000/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting finance tracker")

	// Gate configuration lives in its own database so it survives a ledger
	// store destroy and never travels with an export.
	configStore, err := gate.NewConfigStore(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open gate config store")
	}
	defer configStore.Close()

	secrets := gate.NewSecretGate(configStore, cfg.GateIterations, log)
	platform := gate.NewPlatformGate(configStore, cfg.RelyingPartyID, log)
	sessions := gate.NewSessionGate()

	stores := ledger.NewRegistry(cfg.DataDir, log)
	defer stores.CloseAll()

	validator, err := token.NewValidator(token.Config{
		PublicKeyPath: cfg.JWTPublicKeyPath,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		KeyID:         cfg.JWTKeyID,
		Leeway:        time.Duration(cfg.ClockSkewSeconds) * time.Second,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load token validator")
	}

	bus := events.NewBus(log)
	stores.AttachBus(bus)

	machine := auth.NewMachine(validator, secrets, platform, sessions, stores, bus, log)
	machine.SetDefaultGateDuration(time.Duration(cfg.GateDurationMin) * time.Minute)
	if err := machine.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start auth machine")
	}
	defer machine.Stop()

	srv := server.New(server.Config{
		Log:      log,
		Config:   cfg,
		Machine:  machine,
		Secrets:  secrets,
		Platform: platform,
		Stores:   stores,
		Bus:      bus,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
