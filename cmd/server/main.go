// Package main starts the homeschool missions API server.
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

	"github.com/aimd54/homeschool-missions/internal/api"
	"github.com/aimd54/homeschool-missions/internal/api/missions"
	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/config"
	"github.com/aimd54/homeschool-missions/internal/mattermost"
	"github.com/aimd54/homeschool-missions/internal/service/leaderboard"
	"github.com/aimd54/homeschool-missions/internal/service/persistence"
	"github.com/aimd54/homeschool-missions/internal/service/session"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}

	facade, err := persistence.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	defer func() {
		if err := facade.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close profile store")
		}
	}()

	notifier := mattermost.NewClient(&cfg.Notifications.Mattermost, log)
	defer notifier.Wait()

	manager := session.NewManager(func() *session.Machine {
		return session.NewMachine(facade, log.Component("session"),
			session.WithReviewWorkflow(cfg.Features.ReviewWorkflowEnabled),
			session.WithNotifier(notifier),
		)
	}, cfg.Session.IdleTimeoutDuration(), cfg.Session.SweepSchedule, log)
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Stop()

	handler := missions.NewHandler(manager, leaderboard.NewService(facade, log), missions.Options{
		Backend:        facade.Backend(),
		RemoteEnabled:  facade.RemoteEnabled(),
		ReviewWorkflow: cfg.Features.ReviewWorkflowEnabled,
	}, log.Component("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg, handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("environment", cfg.Server.Environment).
			Str("backend", facade.Backend()).
			Bool("review_workflow", cfg.Features.ReviewWorkflowEnabled).
			Bool("mattermost", notifier.Enabled()).
			Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
