// Package dispatch turns chat stream pushes into pattern and command handler invocations.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/command"
	"github.com/luciancaetano/ddpbot/internal/matcher"
	"github.com/luciancaetano/ddpbot/internal/metrics"
	"github.com/luciancaetano/ddpbot/internal/protocol"
)

// Event outcomes reported on the events_total metric.
const (
	OutcomeDispatched = "dispatched"
	OutcomeSelf       = "self"
	OutcomeEdited     = "edited"
	OutcomeReacted    = "reacted"
	OutcomeInvalid    = "invalid"
)

// Config holds the dispatcher settings.
type Config struct {
	Prefix string
	// Username is the bot's own account; its messages are ignored.
	Username string
	// MaxConcurrency caps units running handlers. Units over the cap wait in arrival order;
	// dequeuing never waits. Zero means unbounded.
	MaxConcurrency int
}

// Dispatcher consumes chat pushes and runs one unit per accepted message.
type Dispatcher struct {
	cfg      Config
	client   ddpbot.Client
	commands *command.Registry
	matches  *matcher.Set
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a dispatcher. Handlers receive client to reply or call the server.
func New(cfg Config, client ddpbot.Client, commands *command.Registry, matches *matcher.Set, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if matches == nil {
		matches = matcher.NewSet(nil)
	}
	if commands == nil {
		commands = command.NewRegistry()
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		commands: commands,
		matches:  matches,
		logger:   logger.With(slog.String("component", "dispatcher")),
		metrics:  m,
	}
}

// Run dequeues frames until ctx is done or frames is closed, then waits for the units still
// running.
func (d *Dispatcher) Run(ctx context.Context, frames <-chan *protocol.Frame) error {
	var slots *semaphore.Weighted
	if d.cfg.MaxConcurrency > 0 {
		slots = semaphore.NewWeighted(int64(d.cfg.MaxConcurrency))
	}

	units := pool.New()
	defer units.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, open := <-frames:
			if !open {
				return nil
			}
			ev, ok := d.accept(f)
			if !ok {
				continue
			}
			units.Go(func() {
				if slots != nil {
					if err := slots.Acquire(ctx, 1); err != nil {
						d.logger.Debug("unit_abandoned", slog.String("message_id", ev.ID))
						return
					}
					defer slots.Release(1)
				}
				d.handle(ctx, ev)
			})
		}
	}
}

// accept builds the event and applies the self, edited and reacted filters.
func (d *Dispatcher) accept(f *protocol.Frame) (*ddpbot.ChatEvent, bool) {
	ev, err := protocol.ParseChatEvent(f)
	if err != nil {
		d.metrics.Events.WithLabelValues(OutcomeInvalid).Inc()
		d.logger.Warn("event_invalid", slog.Any("error", err))
		return nil, false
	}

	outcome := d.classify(ev)
	d.metrics.Events.WithLabelValues(outcome).Inc()
	if outcome != OutcomeDispatched {
		d.logger.Debug("event_ignored", slog.String("reason", outcome), slog.String("message_id", ev.ID))
		return nil, false
	}
	return ev, true
}

func (d *Dispatcher) classify(ev *ddpbot.ChatEvent) string {
	switch {
	case d.isSelf(ev):
		return OutcomeSelf
	case ev.Edited():
		return OutcomeEdited
	case ev.HasReactions():
		return OutcomeReacted
	default:
		return OutcomeDispatched
	}
}

func (d *Dispatcher) isSelf(ev *ddpbot.ChatEvent) bool {
	if d.cfg.Username != "" && ev.Author.Username == d.cfg.Username {
		return true
	}
	uid := d.client.UserID()
	return uid != "" && ev.Author.ID == uid
}

// handle is one execution unit: patterns first, then the command.
func (d *Dispatcher) handle(ctx context.Context, ev *ddpbot.ChatEvent) {
	d.runMatches(ctx, ev)
	d.runCommand(ctx, ev)
}

func (d *Dispatcher) runMatches(ctx context.Context, ev *ddpbot.ChatEvent) {
	for _, spec := range d.matches.Matching(ev.Text) {
		ok, remaining := spec.Acquire(d.matches.Now())
		if !ok {
			d.metrics.Matches.WithLabelValues("cooldown").Inc()
			d.logger.Debug("match_cooling_down",
				slog.String("pattern", spec.Pattern),
				slog.Duration("remaining", remaining),
			)
			continue
		}

		handler := spec.Handler
		reply, err := d.invoke("match", func() (string, error) {
			return handler(ctx, d.client, ev)
		})
		if err != nil {
			d.metrics.Matches.WithLabelValues("error").Inc()
			d.logger.Error("match_failed",
				slog.String("pattern", spec.Pattern),
				slog.String("room_id", ev.RoomID),
				slog.String("user", ev.Author.Username),
				slog.Any("error", err),
			)
			continue
		}
		d.metrics.Matches.WithLabelValues("fired").Inc()
		d.send(ctx, ev.RoomID, reply)
	}
}

func (d *Dispatcher) runCommand(ctx context.Context, ev *ddpbot.ChatEvent) {
	if !strings.HasPrefix(ev.Text, d.cfg.Prefix) {
		return
	}

	tokens, err := command.Tokenize(ev.Text[len(d.cfg.Prefix):])
	if err != nil {
		d.metrics.Commands.WithLabelValues("", "argument_error").Inc()
		d.send(ctx, ev.RoomID, err.Error())
		return
	}
	if len(tokens) == 0 {
		return
	}
	name := tokens[0]

	parser := command.NewParser(d.cfg.Prefix, d.commands.Visible(ev.RoomID))

	if name == ddpbot.HelpCommand {
		d.metrics.Commands.WithLabelValues(ddpbot.HelpCommand, "ok").Inc()
		d.relay(ctx, ev.RoomID, parser.Help())
		return
	}

	if _, ok := parser.Lookup(name); !ok {
		d.metrics.Commands.WithLabelValues("", "invalid").Inc()
		d.send(ctx, ev.RoomID, fmt.Sprintf(ddpbot.ReplyInvalidCommand, name))
		return
	}

	inv, chunks, err := parser.Parse(tokens)
	if err != nil {
		d.metrics.Commands.WithLabelValues(name, "argument_error").Inc()
		if len(chunks) == 0 {
			d.send(ctx, ev.RoomID, err.Error())
			return
		}
		d.relay(ctx, ev.RoomID, chunks)
		return
	}
	d.relay(ctx, ev.RoomID, chunks)

	handler := inv.Command.Handler
	reply, err := d.invoke("command", func() (string, error) {
		return handler(ctx, d.client, ev, inv.Args)
	})
	if err != nil {
		d.metrics.Commands.WithLabelValues(name, "error").Inc()
		d.logger.Error("command_failed",
			slog.String("command", name),
			slog.String("room_id", ev.RoomID),
			slog.String("user", ev.Author.Username),
			slog.Any("error", err),
		)
		return
	}
	d.metrics.Commands.WithLabelValues(name, "ok").Inc()
	d.send(ctx, ev.RoomID, reply)
}

// invoke runs a handler, turning a panic into an error.
func (d *Dispatcher) invoke(kind string, fn func() (string, error)) (string, error) {
	defer d.metrics.ObserveHandler(kind, time.Now())

	var (
		reply string
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() {
		reply, err = fn()
	})
	if r := pc.Recovered(); r != nil {
		return "", r.AsError()
	}
	return reply, err
}

// relay sends each chunk as its own code block.
func (d *Dispatcher) relay(ctx context.Context, roomID string, chunks []string) {
	for _, chunk := range chunks {
		d.send(ctx, roomID, Fence(chunk))
	}
}

func (d *Dispatcher) send(ctx context.Context, roomID, text string) {
	if text == "" {
		return
	}
	if _, err := d.client.SendMessage(ctx, roomID, text); err != nil {
		d.logger.Warn("reply_failed", slog.String("room_id", roomID), slog.Any("error", err))
	}
}

// Fence wraps text in a fenced code block.
func Fence(text string) string {
	return "```\n" + strings.TrimRight(text, "\n") + "\n```"
}
