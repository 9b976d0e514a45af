package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/ddpbot/internal/config"
	"github.com/luciancaetano/ddpbot/internal/logging"
)

func newRunCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and serve chat commands until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, closer, err := logging.New(logging.Config{
				Level:      cfg.Logging.Level,
				Dir:        cfg.Logging.Dir,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
				Compress:   cfg.Logging.Compress,
				NoColor:    cfg.Logging.NoColor,
			})
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer closer.Close()

			b, err := wireBot(cfg, logger)
			if err != nil {
				return fmt.Errorf("register commands: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting", slog.String("server", cfg.Server.Host), slog.String("user", cfg.Account.Username))
			if err := b.Run(ctx); err != nil {
				logger.Error("bot_failed", slog.Any("error", err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	return cmd
}
