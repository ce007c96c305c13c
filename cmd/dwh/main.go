// Command dwh runs and inspects the CloudDocs analytics warehouse pipeline.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/clouddocs/warehouse/internal/config"
	"github.com/clouddocs/warehouse/internal/events"
	"github.com/clouddocs/warehouse/internal/store"
	"github.com/clouddocs/warehouse/internal/store/postgres"
	"github.com/clouddocs/warehouse/internal/ui"
)

var (
	dbURL      string
	natsURL    string
	jsonOutput bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dwh <command>",
	Short: "CloudDocs analytics warehouse pipeline",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		level := slog.LevelInfo
		if os.Getenv("DWH_DEBUG") != "" {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

// resolveConfig loads runtime configuration, letting flags and the active
// profile fill in what the environment leaves unset.
func resolveConfig() (*config.Config, error) {
	if dbURL != "" {
		os.Setenv("DWH_DATABASE_URL", dbURL)
	}
	if natsURL != "" {
		os.Setenv("DWH_NATS_URL", natsURL)
	}
	if os.Getenv("DWH_DATABASE_URL") == "" {
		if u := activeProfileDatabaseURL(); u != "" {
			os.Setenv("DWH_DATABASE_URL", u)
		}
	}
	if os.Getenv("DWH_NATS_URL") == "" {
		if u := activeProfileNATSURL(); u != "" {
			os.Setenv("DWH_NATS_URL", u)
		}
	}
	return config.Load()
}

// openStore connects to the warehouse database and runs pending migrations.
func openStore() (*config.Config, store.Store, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return cfg, s, nil
}

// openPublisher returns a NATS publisher when configured, a no-op otherwise.
func openPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return &events.NoopPublisher{}, nil
	}
	return events.NewNATSPublisher(cfg.NATSURL)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "database URL (overrides DWH_DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats", "", "NATS URL (overrides DWH_NATS_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Pipeline
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(dimensionsCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(refreshCmd)

	// Data
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(deadletterCmd)
	rootCmd.AddCommand(churnCmd)

	// System
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
