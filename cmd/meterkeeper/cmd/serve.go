package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solatis/meterkeeper/internal/core/api"
	"github.com/solatis/meterkeeper/internal/core/auth"
	"github.com/solatis/meterkeeper/internal/core/config"
	"github.com/solatis/meterkeeper/internal/core/db"
	"github.com/solatis/meterkeeper/internal/core/server"
	"github.com/solatis/meterkeeper/internal/core/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and gRPC health service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "listen host")
	serveCmd.Flags().Int("port", 8080, "REST port")
	serveCmd.Flags().Int("grpc-port", 50051, "gRPC health port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Server.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'meterkeeper migrate up' first", s.ID)
		}
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set %s_HMAC_SECRET environment variable)", config.EnvPrefix)
	}
	authenticator := auth.NewAuthenticator(secrets, queries, logger)

	resolver, err := loadResolver(cfg)
	if err != nil {
		return err
	}

	service, err := api.NewService(store.New(queries), resolver, api.Config{
		Policy:         policy(cfg),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		DataDir:        cfg.Server.DataDir,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	srv, err := server.New(&cfg.Server, service.Routes(authenticator.Middleware), authenticator, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting meterkeeper", "version", Version, "host", cfg.Server.Host,
		"port", cfg.Server.Port, "grpc_port", cfg.Server.GRPCPort)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}
