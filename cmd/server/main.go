package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scythe504/dejavu-backend/internal/analytics"
	"github.com/scythe504/dejavu-backend/internal/config"
	"github.com/scythe504/dejavu-backend/internal/game"
	"github.com/scythe504/dejavu-backend/internal/scenario"
	"github.com/scythe504/dejavu-backend/internal/server"
	"github.com/scythe504/dejavu-backend/internal/store"
	"github.com/scythe504/dejavu-backend/internal/store/postgres"
	"github.com/scythe504/dejavu-backend/internal/store/sqlite"
)

const (
	releaseVersion  = "0.1.0"
	analyticsBuffer = 256
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}
	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(context.Background()))
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dejavu-server",
		Short:         "Game server for Deja vu, the witness and imposter party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	config.RegisterFlags(cmd, cfg)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("dejavu-server v{{.Version}}\n")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	scenarios, err := newScenarios(cfg)
	if err != nil {
		return err
	}

	var events analytics.Sink = analytics.Nop{}
	if cfg.Analytics == config.AnalyticsLog {
		async := analytics.NewAsync(analytics.Log{}, analyticsBuffer)
		defer async.Close()
		events = async
	}

	rooms := game.NewManager(st, game.Options{
		Scenarios:       scenarios,
		ScenarioTimeout: cfg.ScenarioTimeout,
		Events:          events,
		Verbose:         cfg.Verbose,
	}, cfg.IdleTimeout)

	if _, err := rooms.Recover(ctx); err != nil {
		rooms.Close()
		return err
	}

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		rooms.Run(ctx)
	}()

	srv := server.NewServer(cfg, rooms)
	errs := make(chan error, 1)
	go func() {
		log.Printf("dejavu-server v%s listening on %s (store=%s)", releaseVersion, srv.Addr, cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if serveErr != nil {
		rooms.Close()
		return serveErr
	}
	<-reaperDone
	log.Printf("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newScenarios(cfg *config.Config) (scenario.Generator, error) {
	if cfg.ScenarioEndpoint != "" {
		return &scenario.HTTP{
			Endpoint: cfg.ScenarioEndpoint,
			APIKey:   cfg.ScenarioAPIKey,
			Model:    cfg.ScenarioModel,
			Client:   &http.Client{Timeout: cfg.ScenarioTimeout},
		}, nil
	}
	if cfg.ScenariosFile != "" {
		library, err := scenario.ReadCSV(cfg.ScenariosFile)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded %d scenarios from %s", len(library), cfg.ScenariosFile)
		return scenario.NewStatic(library), nil
	}
	return scenario.NewStatic(nil), nil
}
