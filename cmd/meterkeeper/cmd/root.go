package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/meterkeeper/internal/catalog"
	"github.com/solatis/meterkeeper/internal/core/config"
	"github.com/solatis/meterkeeper/internal/core/db"
	"github.com/solatis/meterkeeper/internal/logging"
	"github.com/solatis/meterkeeper/internal/rules"
)

// Version is reported by serve at startup.
const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "meterkeeper",
	Short: "MeterKeeper billing metric and customer catalog",
	Long: `MeterKeeper stores billing metrics and customers as drafts, checks them
against the classification catalog, and finalizes them once complete.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(os.Stderr, logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openDB() (*sqlx.DB, error) {
	if dbURL == "" {
		dbURL = os.Getenv(config.EnvPrefix + "_DB_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("--db-url required (or set %s_DB_URL)", config.EnvPrefix)
	}
	database, err := db.Open(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// loadResolver reads the configured catalog, or the embedded one.
func loadResolver(cfg *config.Config) (*rules.Resolver, error) {
	if cfg.Catalog.Path == "" {
		return rules.NewResolver(catalog.Default()), nil
	}
	c, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", "path", cfg.Catalog.Path)
	return rules.NewResolver(c), nil
}

func policy(cfg *config.Config) rules.Policy {
	return rules.Policy{AdmitStaleValues: cfg.Rules.AdmitStaleValues}
}
