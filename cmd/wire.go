package cmd

import (
	"crypto/tls"
	"log/slog"

	"github.com/luciancaetano/ddpbot/bot"
	"github.com/luciancaetano/ddpbot/internal/commands"
	"github.com/luciancaetano/ddpbot/internal/config"
)

// wireBot builds a bot with the bundled commands registered.
func wireBot(cfg *config.Config, logger *slog.Logger) (*bot.Bot, error) {
	var tlsConfig *tls.Config
	if cfg.Server.TLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.Server.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed servers
		}
	}

	b := bot.New(bot.Config{
		URL:              cfg.WebsocketURL(),
		BaseURL:          cfg.BaseURL(),
		Username:         cfg.Account.Username,
		Password:         cfg.Account.Password,
		TLSConfig:        tlsConfig,
		Prefix:           cfg.Bot.Prefix,
		QueueSize:        cfg.Dispatch.QueueSize,
		MaxConcurrency:   cfg.Dispatch.MaxConcurrency,
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		WriteTimeout:     cfg.Session.WriteTimeout,
		PingInterval:     cfg.Session.PingInterval,
		HTTPTimeout:      cfg.Session.HTTPTimeout,
		MetricsAddr:      cfg.Metrics.Addr,
	}, logger)

	err := commands.Register(b, commands.Config{
		MemeDir:      cfg.Bot.MemeDir,
		MemeRooms:    cfg.RoomGroup("memes"),
		FeedbackFile: cfg.Bot.FeedbackFile,
		TimerMax:     cfg.Bot.TimerMax,
		Logger:       logger,
	})
	return b, err
}
