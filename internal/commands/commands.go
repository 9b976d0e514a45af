// Package commands is the bundled command and pattern set of the ddpbot binary.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/luciancaetano/ddpbot"
)

// LinuxNoGNU matches messages mentioning linux without gnu.
const LinuxNoGNU = `(?is)^(?:(?!gnu).)*linux(?:(?!gnu).)*$`

// LinuxCooldown spaces interjections.
const LinuxCooldown = 7 * 24 * time.Hour

const interjection = "I'd just like to interject for a moment. " +
	"What you're referring to as Linux, is in fact, GNU/Linux, " +
	"or as I've recently taken to calling it, GNU plus Linux. " +
	"Linux is not an operating system unto itself, " +
	"but rather another free component of a fully functioning GNU system " +
	"made useful by the GNU corelibs, " +
	"shell utilities and vital system components comprising a full OS " +
	"as defined by POSIX.\n" +
	"Many computer users run a modified version of the GNU system every day, " +
	"without realizing it. " +
	"Through a peculiar turn of events, " +
	`the version of GNU which is widely used today is often called "Linux", ` +
	"and many of its users are not aware that it is basically the GNU system, " +
	"developed by the GNU Project.\n" +
	"There really is a Linux, " +
	"and these people are using it, " +
	"but it is just a part of the system they use. " +
	"Linux is the kernel: the program in the system that allocates the machine's " +
	"resources to the other programs that you run. " +
	"The kernel is an essential part of an operating system, " +
	"but useless by itself; " +
	"it can only function in the context of a complete operating system. " +
	"Linux is normally used in combination with the GNU operating system: " +
	"the whole system is basically GNU with Linux added, or GNU/Linux. " +
	`All the so-called "Linux" distributions are really distributions of GNU/Linux.`

// spamCount is how many copies spam sends.
const spamCount = 5

// Registrar accepts command and pattern registrations.
type Registrar interface {
	Command(spec ddpbot.CommandSpec, handler ddpbot.CommandHandler) error
	Match(pattern string, cooldown time.Duration, handler ddpbot.MatchHandler) error
}

// Config configures the bundled commands.
type Config struct {
	MemeDir      string
	MemeRooms    []string
	FeedbackFile string
	TimerMax     int
	// Started is the reference point of uptime.
	Started time.Time
	Now     func() time.Time
	Logger  *slog.Logger
}

type handlers struct {
	cfg Config

	feedbackMu sync.Mutex
}

// Register adds every bundled command and pattern to r.
func Register(r Registrar, cfg Config) error {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Started.IsZero() {
		cfg.Started = cfg.Now()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handlers{cfg: cfg}

	text := func(help string) []ddpbot.ArgSpec {
		return []ddpbot.ArgSpec{ddpbot.Arg("text", help)}
	}

	errs := []error{
		r.Command(ddpbot.CommandSpec{Name: "ping", Help: "pong"}, reply("pong")),
		r.Command(ddpbot.CommandSpec{Name: "pong", Help: "ping"}, reply("ping")),
		r.Command(ddpbot.CommandSpec{Name: "say", Args: text("text to say"), Help: "says some text"}, h.say),
		r.Command(ddpbot.CommandSpec{Name: "saymyname", Help: "says your name"}, h.sayMyName),
		r.Command(ddpbot.CommandSpec{
			Name: "timer",
			Args: []ddpbot.ArgSpec{ddpbot.IntArg("duration", "duration in seconds")},
			Help: "set an egg timer",
		}, h.timer),
		r.Command(ddpbot.CommandSpec{Name: "uptime", Help: "display uptime"}, h.uptime),
		r.Command(ddpbot.CommandSpec{Name: "owo", Args: text("text to translate"), Help: "translates text to owo"}, h.owo),
		r.Command(ddpbot.CommandSpec{Name: "spam", Args: text("text to spam"), Help: "spams some text"}, h.spam),
		r.Command(ddpbot.CommandSpec{Name: "feedback", Args: text("text to give as feedback"), Help: "give feedback"}, h.feedback),
		r.Command(ddpbot.CommandSpec{Name: "hcf", Help: "halt and catch fire"}, h.hcf),

		r.Command(ddpbot.CommandSpec{Name: "listmemes", Help: "lists all memes", Rooms: cfg.MemeRooms}, h.listMemes),
		r.Command(ddpbot.CommandSpec{Name: "randmeme", Help: "get a random meme", Rooms: cfg.MemeRooms}, h.randMeme),
		r.Command(ddpbot.CommandSpec{
			Name:  "meme",
			Args:  []ddpbot.ArgSpec{ddpbot.Arg("meme", "name of meme")},
			Help:  "get a specific meme from listmemes",
			Rooms: cfg.MemeRooms,
		}, h.meme),
		r.Command(ddpbot.CommandSpec{
			Name:  "newmeme",
			Help:  "add a new meme (use this command in the description of a image)",
			Rooms: cfg.MemeRooms,
		}, h.newMeme),

		r.Match(LinuxNoGNU, LinuxCooldown, func(context.Context, ddpbot.Client, *ddpbot.ChatEvent) (string, error) {
			return interjection, nil
		}),
	}
	return errors.Join(errs...)
}

func reply(text string) ddpbot.CommandHandler {
	return func(context.Context, ddpbot.Client, *ddpbot.ChatEvent, ddpbot.Args) (string, error) {
		return text, nil
	}
}

func (h *handlers) say(_ context.Context, _ ddpbot.Client, _ *ddpbot.ChatEvent, args ddpbot.Args) (string, error) {
	return args.String("text"), nil
}

func (h *handlers) sayMyName(_ context.Context, _ ddpbot.Client, ev *ddpbot.ChatEvent, _ ddpbot.Args) (string, error) {
	return "@" + ev.Author.Username, nil
}

func (h *handlers) hcf(_ context.Context, _ ddpbot.Client, ev *ddpbot.ChatEvent, _ ddpbot.Args) (string, error) {
	return fmt.Sprintf("@%s is not authorized for this function.", ev.Author.Username), nil
}

func (h *handlers) uptime(context.Context, ddpbot.Client, *ddpbot.ChatEvent, ddpbot.Args) (string, error) {
	return "Uptime: " + formatUptime(h.cfg.Now().Sub(h.cfg.Started)), nil
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02dh %02dm %02ds", s/3600, s/60%60, s%60)
}

func (h *handlers) timer(ctx context.Context, _ ddpbot.Client, ev *ddpbot.ChatEvent, args ddpbot.Args) (string, error) {
	seconds := args.Int("duration")
	switch {
	case seconds > h.cfg.TimerMax:
		return fmt.Sprintf("duration cannot be more than %ds", h.cfg.TimerMax), nil
	case seconds < 0:
		return "duration cannot be less than 0s", nil
	}

	t := time.NewTimer(time.Duration(seconds) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.C:
	}
	return fmt.Sprintf("Your %ds timer is up @%s!", seconds, ev.Author.Username), nil
}

func (h *handlers) feedback(_ context.Context, _ ddpbot.Client, ev *ddpbot.ChatEvent, args ddpbot.Args) (string, error) {
	stamp := h.cfg.Now().UTC().Format("2006-01-02T15:04:05")

	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(args.String("text"), "\n"), "\n") {
		fmt.Fprintf(&b, "[%s] [%s] %s\n", stamp, ev.Author.Username, strings.TrimRight(line, "\r"))
	}

	h.feedbackMu.Lock()
	defer h.feedbackMu.Unlock()

	f, err := os.OpenFile(h.cfg.FeedbackFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open feedback file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return "", fmt.Errorf("write feedback: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close feedback file: %w", err)
	}
	return fmt.Sprintf("Thanks for the feedback @%s!", ev.Author.Username), nil
}
