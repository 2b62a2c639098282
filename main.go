package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	api "talent-inbox/cmd/api"
	"talent-inbox/pkg/config"
	"talent-inbox/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "talent-inbox",
	Short: "Mailbox ingestion pipeline for job applications",
	// No subcommand runs the server.
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, job workers, scheduler and push listener",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync one mailbox connection and print the result",
	RunE:  runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("talent-inbox %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: TALENT_INBOX_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	syncCmd.Flags().String("connection", "", "mailbox connection id")
	_ = syncCmd.MarkFlagRequired("connection")

	rootCmd.AddCommand(serveCmd, syncCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves the config path (flag, then TALENT_INBOX_CONFIG, then ./config.yaml) and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	path := cfgPath
	if path == "" {
		if env := os.Getenv("TALENT_INBOX_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Log.Debug = true
	}

	log, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, err := api.NewHandler(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize service", zap.Error(err))
		return err
	}
	defer handler.Close()

	if err := handler.StartBackground(ctx); err != nil {
		log.Error("failed to start background workers", zap.Error(err))
		return err
	}

	if err := handler.Start(ctx, ":"+cfg.Server.Port); err != nil {
		log.Error("server error", zap.Error(err))
		return err
	}
	log.Info("goodbye")
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	connectionID, _ := cmd.Flags().GetString("connection")

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, err := api.NewHandler(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer handler.Close()

	if err := handler.StartWorkers(ctx); err != nil {
		return err
	}

	result, err := handler.SyncConnection(ctx, connectionID)
	if result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}
	return err
}
