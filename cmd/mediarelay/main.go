package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/mediarelay/internal/api"
	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/delivery"
	"github.com/shohag/mediarelay/internal/escalation"
	"github.com/shohag/mediarelay/internal/metrics"
	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediarelay",
		Short: "MediaRelay: resilient media download relay for chat bots",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(queueCmd(&configPath))
	rootCmd.AddCommand(credentialCmd(&configPath))
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MediaRelay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			ctx := context.Background()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			a, err := buildApp(ctx, cfg, store, log)
			if err != nil {
				return err
			}

			dispatcher, err := delivery.NewDispatcher(cfg.Delivery, a.scheduler, log)
			if err != nil {
				return err
			}
			dispatcher.Start()

			reporter, err := metrics.NewReporter(a.collector, cfg.Metrics.ReportSchedule, log)
			if err != nil {
				return err
			}
			reporter.Start()

			var renotifier *escalation.Renotifier
			if len(cfg.Escalation.Operators) > 0 {
				renotifier, err = escalation.NewRenotifier(a.notifier, store, cfg.Escalation.RenotifySchedule, cfg.Escalation.RenotifyBatchSize, log)
				if err != nil {
					return err
				}
				renotifier.Start()
			} else {
				log.Warn().Msg("no operators configured, escalations will only be queued")
			}
			if cfg.Server.APIToken == "" {
				log.Warn().Msg("server.api_token is empty, the API is unauthenticated")
			}

			server := api.NewServer(cfg.Server, cfg.Gateway, api.Deps{
				Dispatcher:  dispatcher,
				Queue:       a.queue,
				Actions:     a.notifier,
				Metrics:     a.collector,
				Egress:      a.egress,
				Credentials: a.creds,
			}, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Int("egress_endpoints", a.egress.Len()).
				Int("credentials", len(a.creds.List())).
				Str("storage", cfg.Storage.Driver).
				Msg("MediaRelay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			dispatcher.Stop(30 * time.Second)
			if renotifier != nil {
				renotifier.Stop()
			}
			reporter.Stop()
			log.Info().Msg(a.collector.Report())

			log.Info().Msg("MediaRelay stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate an API token and a gateway signing secret",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("server.api_token:  %s\n", models.NewToken("mr", 32))
			fmt.Printf("gateway.secret:    %s\n", models.NewToken("whsec", 32))
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("MediaRelay v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "memory":
		log.Warn().Msg("using in-memory storage, failed requests are lost on restart")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (*config.Config, storage.Storage, zerolog.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Nop(), nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, log, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, log, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return cfg, store, log, func() { store.Close() }, nil
}
