package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Uuuuu77/agentpay-sub000/api"
	"github.com/Uuuuu77/agentpay-sub000/config"
	"github.com/Uuuuu77/agentpay-sub000/core"
	"github.com/Uuuuu77/agentpay-sub000/db"
	"github.com/Uuuuu77/agentpay-sub000/dispatch"
	"github.com/Uuuuu77/agentpay-sub000/logger"
)

// Version is set at build time with -ldflags.
var (
	Version = "dev"
	Commit  = ""
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
}

func startCmd() *cobra.Command {
	var home string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the payment confirmation pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}

			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			if cfg.PayeeAddress == "" {
				log.Warn().Msg("no payee address configured, only invoice contract events will be watched")
			}
			if cfg.DeliveryWebhookURL == "" {
				return fmt.Errorf("delivery webhook url is required (AGENT_DELIVERY_URL)")
			}

			database, err := db.OpenFileDB(cfg.DatabaseDir, cfg.DatabaseFile, true)
			if err != nil {
				return err
			}
			defer database.Close()

			dispatcher := dispatch.NewDispatcher(
				cfg.DeliveryWebhookURL,
				cfg.WebhookMaxRetries,
				time.Duration(cfg.WebhookTimeoutSeconds)*time.Second,
				log,
			)

			pipeline := core.NewPipeline(cfg, database, dispatcher, log)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := pipeline.Start(ctx); err != nil {
				return err
			}

			server := api.NewServer(log, cfg.QueryServerPort, pipeline.Store(), pipeline)
			if err := server.Start(); err != nil {
				pipeline.Stop()
				return err
			}

			log.Info().
				Str("version", Version).
				Int("port", cfg.QueryServerPort).
				Msg("agentpayd running")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			log.Info().Str("signal", sig.String()).Msg("shutting down")

			cancel()
			if err := server.Stop(); err != nil {
				log.Error().Err(err).Msg("error stopping query server")
			}
			pipeline.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&home, "home", ".", "base directory for config and data")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print agentpayd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", Version)
			if Commit != "" {
				fmt.Printf("Commit:  %s\n", Commit)
			}
		},
	}
}
