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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/collab/internal/adapters/http"
	"github.com/dkeye/collab/internal/adapters/store"
	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/app/chat"
	"github.com/dkeye/collab/internal/app/orch"
	"github.com/dkeye/collab/internal/config"
	"github.com/dkeye/collab/internal/core"
)

func setupLogger(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	chatStore, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open chat store")
	}
	defer func() {
		if err := chatStore.Close(); err != nil {
			log.Error().Err(err).Msg("close chat store")
		}
	}()

	o := &orch.Orchestrator{
		Registry:       app.NewRegistry(cfg.DefaultName, cfg.MaxNameLen),
		Rooms:          core.NewDirectory(),
		Chat:           chat.NewService(chatStore, cfg.Store.HistoryLimit),
		Policy:         app.SimplePolicy{},
		PurgeThreshold: cfg.PurgeThreshold,
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Msg("collab server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srvErr := srv.Shutdown(shutdownCtx)
		// hijacked websockets are not tracked by srv.Shutdown; the store
		// must outlive their disconnects and purges
		return errors.Join(srvErr, o.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
