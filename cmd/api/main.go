package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-sync/internal/api/handlers"
	"github.com/dvloznov/finance-sync/internal/api/middleware"
	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		port       = flag.String("port", "", "HTTP server port (overrides config and PORT)")
		uid        = flag.String("uid", os.Getenv("FINANCE_UID"), "user to sign in at startup (or set FINANCE_UID)")
	)
	flag.Parse()

	boot := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}
	log, err := logger.NewWithOptions(os.Stdout, cfg.Log)
	if err != nil {
		boot.Fatal().Err(err).Msg("Invalid log configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build sync engine")
	}

	if *uid != "" {
		if err := a.Engine.SignIn(ctx, *uid); err != nil {
			log.Error().Err(err).Str("uid", *uid).Msg("Startup sign in failed")
		}
	}

	router := handlers.Router{
		Session:      handlers.NewSessionHandler(a.Engine, log),
		Transactions: handlers.NewTransactionsHandler(a.Engine, log),
		Tags:         handlers.NewTagsHandler(a.Engine, log),
		Profile:      handlers.NewProfileHandler(a.Engine, log),
		Files:        handlers.NewFilesHandler(a.Engine, log),
		Jobs:         handlers.NewJobsHandler(a.Jobs, log),
	}

	handler := middleware.Chain(router.Mux(),
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Bool("remote", cfg.RemoteEnabled()).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Give queued writes a chance to reach the remote store.
	if err := a.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Writes still queued at shutdown")
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to release resources")
	}

	log.Info().Msg("Server exited")
}
