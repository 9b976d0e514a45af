// Package bot assembles a session, the command registry, the pattern set and the dispatcher into
// a runnable chat bot.
package bot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/command"
	"github.com/luciancaetano/ddpbot/internal/dispatch"
	"github.com/luciancaetano/ddpbot/internal/matcher"
	"github.com/luciancaetano/ddpbot/internal/metrics"
	"github.com/luciancaetano/ddpbot/internal/websocket"
)

// ErrAlreadyRunning is returned by Run when the bot is already running.
var ErrAlreadyRunning = errors.New("bot is already running")

// Config configures a Bot.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://chat.example.com/websocket.
	URL string
	// BaseURL is the REST root, e.g. https://chat.example.com.
	BaseURL  string
	Username string
	Password string

	TLSConfig *tls.Config

	// Prefix starts a command, e.g. "!".
	Prefix string

	QueueSize      int
	MaxConcurrency int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HTTPTimeout      time.Duration

	// MetricsAddr enables the /metrics endpoint when non-empty.
	MetricsAddr string
}

// Option customizes a Bot.
type Option func(*Bot)

// WithClock replaces the clock used for pattern cooldowns.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) {
		b.now = now
	}
}

// Bot is a chat bot. Register commands and patterns, then call Run.
type Bot struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	commands *command.Registry
	matches  *matcher.Set

	mu      sync.Mutex
	regErrs []error

	running atomic.Bool
}

// New creates a Bot.
//
// Example:
//
//	b := bot.New(bot.Config{URL: "wss://chat.example.com/websocket", BaseURL: "https://chat.example.com",
//	    Username: "bot", Password: "secret", Prefix: "!"}, logger)
//	_ = b.Command(ddpbot.CommandSpec{Name: "ping", Help: "pong"}, pingHandler)
//	err := b.Run(ctx)
func New(cfg Config, logger *slog.Logger, opts ...Option) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		now:      time.Now,
		commands: command.NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.matches = matcher.NewSet(b.now)
	return b
}

// Command registers a command. A failed registration is also remembered and makes Run fail
// before connecting.
func (b *Bot) Command(spec ddpbot.CommandSpec, handler ddpbot.CommandHandler) error {
	return b.remember(b.commands.Register(spec, handler))
}

// Match registers a pattern handler with an optional cooldown. Failures are remembered like
// Command's.
func (b *Bot) Match(pattern string, cooldown time.Duration, handler ddpbot.MatchHandler) error {
	return b.remember(b.matches.Add(pattern, cooldown, handler))
}

func (b *Bot) remember(err error) error {
	if err != nil {
		b.mu.Lock()
		b.regErrs = append(b.regErrs, err)
		b.mu.Unlock()
	}
	return err
}

// Err returns the joined registration errors, nil if every registration succeeded.
func (b *Bot) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.regErrs...)
}

// Commands returns the registered command specs in registration order.
func (b *Bot) Commands() []ddpbot.CommandSpec {
	all := b.commands.All()
	out := make([]ddpbot.CommandSpec, len(all))
	for i, c := range all {
		out[i] = c.Spec
	}
	return out
}

// Patterns returns the number of registered patterns.
func (b *Bot) Patterns() int {
	return b.matches.Len()
}

// MetricsHandler serves the bot's metrics in the Prometheus exposition format.
func (b *Bot) MetricsHandler() http.Handler {
	return b.metrics.Handler()
}

func (b *Bot) sessionConfig() websocket.Config {
	return websocket.Config{
		URL:              b.cfg.URL,
		BaseURL:          b.cfg.BaseURL,
		Username:         b.cfg.Username,
		Password:         b.cfg.Password,
		TLSConfig:        b.cfg.TLSConfig,
		QueueSize:        b.cfg.QueueSize,
		HandshakeTimeout: b.cfg.HandshakeTimeout,
		WriteTimeout:     b.cfg.WriteTimeout,
		PingInterval:     b.cfg.PingInterval,
		HTTPTimeout:      b.cfg.HTTPTimeout,
	}
}

// Run connects, logs in, subscribes and dispatches chat messages until ctx is done or the
// connection fails. It returns nil after a requested shutdown.
//
// Run refuses to start when a registration failed.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Err(); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)

	session, err := websocket.Dial(ctx, b.sessionConfig(), b.logger, b.metrics)
	if err != nil {
		return err
	}
	defer session.Close()

	b.logger.Info("bot_connecting",
		slog.String("url", b.cfg.URL),
		slog.Int("commands", b.commands.Len()),
		slog.Int("patterns", b.matches.Len()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(gctx)
	})

	g.Go(func() error {
		if err := session.Bootstrap(gctx); err != nil {
			return err
		}
		b.logger.Info("bot_ready", slog.String("user_id", session.UserID()))

		d := dispatch.New(dispatch.Config{
			Prefix:         b.cfg.Prefix,
			Username:       b.cfg.Username,
			MaxConcurrency: b.cfg.MaxConcurrency,
		}, session, b.commands, b.matches, b.logger, b.metrics)
		return d.Run(gctx, session.Events())
	})

	if b.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, b.cfg.MetricsAddr, b.metrics, b.logger)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		b.logger.Info("bot_stopped")
		return nil
	}
	return err
}
