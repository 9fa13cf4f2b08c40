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
	"github.com/spf13/cobra"

	"closetstudio.app/virtual-closet/internal/api"
	"closetstudio.app/virtual-closet/internal/config"
	"closetstudio.app/virtual-closet/internal/core"
	"closetstudio.app/virtual-closet/internal/logger"
	"closetstudio.app/virtual-closet/internal/store"
)

var (
	dbFlag  string
	rootCmd = &cobra.Command{
		Use:           "virtual-closet",
		Short:         "Wardrobe catalog and outfit styling service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path (overrides DATABASE_URL)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	rootCmd.AddCommand(serveCmd, newExportCmd(), newImportCmd(), newClearCmd())
	rootCmd.RunE = serveCmd.RunE

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and opens the repository.
func setup() (*store.Repository, zerolog.Logger, error) {
	if err := config.LoadConfig(); err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New("virtual-closet", config.AppConfig.LogLevel)
	if !config.AppConfig.EnvFileLoaded {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	path := config.AppConfig.DatabaseURL
	if dbFlag != "" {
		path = dbFlag
	}
	docs, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, log, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store.NewRepository(docs), log, nil
}

func runServe() error {
	repo, log, err := setup()
	if err != nil {
		return err
	}
	defer repo.Close()

	cfg := config.AppConfig
	seed := cfg.SeedSettings()

	llmService := core.NewLLMService(cfg.GenerationModel, seed, log)
	defer llmService.Close()
	weatherService := core.NewWeatherService(cfg.WeatherBaseURL, seed, log)
	imageService := core.NewImageService(seed, log)
	defer func() {
		if err := imageService.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing image uploader")
		}
	}()

	closet := core.NewClosetService(repo, llmService, weatherService, imageService, seed, log,
		llmService, weatherService, imageService)
	if _, err := closet.LoadSettings(context.Background()); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	apiHandler := api.NewAPIHandler(closet, log)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // weekly plans make seven model calls
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serverAddr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case <-quit:
	}
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server exiting gracefully")
	return nil
}
