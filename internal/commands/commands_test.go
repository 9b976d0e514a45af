package commands

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/logging"
	"github.com/luciancaetano/ddpbot/internal/matcher"
)

type registered struct {
	spec    ddpbot.CommandSpec
	handler ddpbot.CommandHandler
}

type pattern struct {
	pattern  string
	cooldown time.Duration
	handler  ddpbot.MatchHandler
}

type recorder struct {
	commands map[string]registered
	order    []string
	patterns []pattern
}

func (r *recorder) Command(spec ddpbot.CommandSpec, handler ddpbot.CommandHandler) error {
	if _, ok := r.commands[spec.Name]; ok {
		return ddpbot.ErrDuplicateCommand
	}
	r.commands[spec.Name] = registered{spec: spec, handler: handler}
	r.order = append(r.order, spec.Name)
	return nil
}

func (r *recorder) Match(p string, cooldown time.Duration, handler ddpbot.MatchHandler) error {
	r.patterns = append(r.patterns, pattern{pattern: p, cooldown: cooldown, handler: handler})
	return nil
}

type fakeClient struct {
	mu        sync.Mutex
	sent      []string
	uploads   []string
	downloads map[string]string
	failDL    bool
}

func (c *fakeClient) SendRequest(context.Context, string, any) (json.RawMessage, error) {
	return nil, nil
}

func (c *fakeClient) Call(context.Context, string, ...any) (json.RawMessage, error) { return nil, nil }

func (c *fakeClient) SendFireAndForget(context.Context, string, any) error { return nil }

func (c *fakeClient) SendMessage(_ context.Context, _ string, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return "id", nil
}

func (c *fakeClient) UploadFile(_ context.Context, _ string, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, path)
	return nil
}

func (c *fakeClient) DownloadAttachment(_ context.Context, url, dest string) error {
	if c.failDL {
		return errors.New("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.downloads == nil {
		c.downloads = map[string]string{}
	}
	c.downloads[url] = dest
	return os.WriteFile(dest, []byte("img"), 0o644)
}

func (c *fakeClient) UserID() string { return "bot-id" }

var started = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T, memes ...string) (*recorder, Config) {
	t.Helper()

	dir := t.TempDir()
	memeDir := filepath.Join(dir, "memes")
	require.NoError(t, os.Mkdir(memeDir, 0o755))
	for _, m := range memes {
		require.NoError(t, os.WriteFile(filepath.Join(memeDir, m), []byte("x"), 0o644))
	}

	cfg := Config{
		MemeDir:      memeDir,
		MemeRooms:    []string{"MEMES"},
		FeedbackFile: filepath.Join(dir, "feedback.txt"),
		TimerMax:     2,
		Started:      started,
		Now:          func() time.Time { return started.Add(26*time.Hour + 3*time.Minute + 4*time.Second) },
		Logger:       logging.Discard(),
	}
	r := &recorder{commands: map[string]registered{}}
	require.NoError(t, Register(r, cfg))
	return r, cfg
}

func event(text string) *ddpbot.ChatEvent {
	return &ddpbot.ChatEvent{
		ID:     "m1",
		RoomID: "MEMES",
		Text:   text,
		Author: ddpbot.User{ID: "u1", Username: "alice", Name: "Alice"},
	}
}

func run(t *testing.T, r *recorder, c ddpbot.Client, ev *ddpbot.ChatEvent, name string, args ddpbot.Args) string {
	t.Helper()
	cmd, ok := r.commands[name]
	require.True(t, ok, name)
	out, err := cmd.handler(context.Background(), c, ev, args)
	require.NoError(t, err)
	return out
}

func TestRegisterAddsEverything(t *testing.T) {
	t.Parallel()

	r, _ := setup(t)
	assert.Equal(t, []string{
		"ping", "pong", "say", "saymyname", "timer", "uptime", "owo", "spam", "feedback", "hcf",
		"listmemes", "randmeme", "meme", "newmeme",
	}, r.order)
	for _, name := range []string{"listmemes", "randmeme", "meme", "newmeme"} {
		assert.Equal(t, []string{"MEMES"}, r.commands[name].spec.Rooms, name)
	}
	assert.Empty(t, r.commands["ping"].spec.Rooms)

	require.Len(t, r.patterns, 1)
	assert.Equal(t, 7*24*time.Hour, r.patterns[0].cooldown)

	assert.Error(t, Register(r, Config{}), "registering twice must fail")
}

func TestLinuxPattern(t *testing.T) {
	t.Parallel()

	r, _ := setup(t)
	spec, err := matcher.Compile(r.patterns[0].pattern, r.patterns[0].cooldown, r.patterns[0].handler)
	require.NoError(t, err)

	assert.True(t, spec.Matches("I use Linux btw"))
	assert.False(t, spec.Matches("I use GNU/Linux btw"))

	out, err := spec.Handler(context.Background(), &fakeClient{}, event("linux"))
	require.NoError(t, err)
	assert.Contains(t, out, "I'd just like to interject for a moment.")
}

func TestSimpleReplies(t *testing.T) {
	t.Parallel()

	r, _ := setup(t)
	c := &fakeClient{}
	ev := event("")

	assert.Equal(t, "pong", run(t, r, c, ev, "ping", nil))
	assert.Equal(t, "ping", run(t, r, c, ev, "pong", nil))
	assert.Equal(t, "hi there", run(t, r, c, ev, "say", ddpbot.Args{"text": "hi there"}))
	assert.Equal(t, "@alice", run(t, r, c, ev, "saymyname", nil))
	assert.Equal(t, "@alice is not authorized for this function.", run(t, r, c, ev, "hcf", nil))
	assert.Equal(t, "hewwo yuw", run(t, r, c, ev, "owo", ddpbot.Args{"text": "hello you"}))
	assert.Equal(t, "Uptime: 26h 03m 04s", run(t, r, c, ev, "uptime", nil))
}

func TestTimer(t *testing.T) {
	t.Parallel()

	r, _ := setup(t)
	c := &fakeClient{}
	ev := event("")

	assert.Equal(t, "duration cannot be more than 2s", run(t, r, c, ev, "timer", ddpbot.Args{"duration": 3}))
	assert.Equal(t, "duration cannot be less than 0s", run(t, r, c, ev, "timer", ddpbot.Args{"duration": -1}))
	assert.Equal(t, "Your 0s timer is up @alice!", run(t, r, c, ev, "timer", ddpbot.Args{"duration": 0}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.commands["timer"].handler(ctx, c, ev, ddpbot.Args{"duration": 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpamSendsFiveCopies(t *testing.T) {
	t.Parallel()

	r, _ := setup(t)
	c := &fakeClient{}

	assert.Empty(t, run(t, r, c, event(""), "spam", ddpbot.Args{"text": "hey"}))
	assert.Equal(t, []string{"hey", "hey", "hey", "hey", "hey"}, c.sent)
}

func TestFeedbackAppendsLines(t *testing.T) {
	t.Parallel()

	r, cfg := setup(t)
	c := &fakeClient{}

	out := run(t, r, c, event(""), "feedback", ddpbot.Args{"text": "great bot\nmore memes"})
	assert.Equal(t, "Thanks for the feedback @alice!", out)
	run(t, r, c, event(""), "feedback", ddpbot.Args{"text": "again"})

	data, err := os.ReadFile(cfg.FeedbackFile)
	require.NoError(t, err)
	assert.Equal(t,
		"[2020-01-02T02:03:04] [alice] great bot\n"+
			"[2020-01-02T02:03:04] [alice] more memes\n"+
			"[2020-01-02T02:03:04] [alice] again\n",
		string(data))
}

func TestMemeCommands(t *testing.T) {
	t.Parallel()

	r, cfg := setup(t, "Doge.png", "cat.gif")
	c := &fakeClient{}
	ev := event("")

	assert.Equal(t, "**Meme Menu**:\n```\nDoge.png\ncat.gif\n```", run(t, r, c, ev, "listmemes", nil))

	assert.Empty(t, run(t, r, c, ev, "meme", ddpbot.Args{"meme": "doge"}))
	assert.Equal(t, []string{filepath.Join(cfg.MemeDir, "Doge.png")}, c.uploads)

	assert.Equal(t, "Invalid meme: `nope`", run(t, r, c, ev, "meme", ddpbot.Args{"meme": "nope"}))

	assert.Empty(t, run(t, r, c, ev, "randmeme", nil))
	require.Len(t, c.uploads, 2)
	assert.Contains(t, []string{
		filepath.Join(cfg.MemeDir, "Doge.png"),
		filepath.Join(cfg.MemeDir, "cat.gif"),
	}, c.uploads[1])
}

func TestRandMemeEmptyBank(t *testing.T) {
	t.Parallel()

	r, _ := setup(t)
	assert.Equal(t, "the meme bank is empty", run(t, r, &fakeClient{}, event(""), "randmeme", nil))
}

func TestNewMeme(t *testing.T) {
	t.Parallel()

	withAttachments := func(atts ...ddpbot.Attachment) *ddpbot.ChatEvent {
		ev := event("!newmeme")
		ev.Attachments = atts
		return ev
	}
	img := func(title string) ddpbot.Attachment {
		return ddpbot.Attachment{Title: title, Type: "file", TitleLink: "/file-upload/x/" + title}
	}

	tests := []struct {
		name string
		ev   *ddpbot.ChatEvent
		want string
	}{
		{"no attachment", withAttachments(), "no image attachment found"},
		{"two attachments", withAttachments(img("a.png"), img("b.png")), "found 2 attachments, expected 1"},
		{"bad extension", withAttachments(img("a.bmp")), "memes are only accepted in these formats: `.png, .gif, .jpg`"},
		{"too long", withAttachments(img(strings.Repeat("a", 61)+".png")), "meme file name must be less than 64 chars long"},
		{"bad chars", withAttachments(img("Doge Face.png")), "file name may only contain these characters: " + MemeNameChars},
		{"duplicate", withAttachments(img("doge.jpg")), "meme with the same name already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := setup(t, "Doge.png")
			c := &fakeClient{}
			assert.Equal(t, tt.want, run(t, r, c, tt.ev, "newmeme", nil))
			assert.Empty(t, c.downloads)
		})
	}

	t.Run("added", func(t *testing.T) {
		r, cfg := setup(t, "Doge.png")
		c := &fakeClient{}
		out := run(t, r, c, withAttachments(img("new-cat.gif")), "newmeme", nil)
		assert.Equal(t, "Added `new-cat.gif` to the meme bank.", out)
		assert.Equal(t, filepath.Join(cfg.MemeDir, "new-cat.gif"), c.downloads["/file-upload/x/new-cat.gif"])
		assert.FileExists(t, filepath.Join(cfg.MemeDir, "new-cat.gif"))
	})

	t.Run("download fails", func(t *testing.T) {
		r, _ := setup(t)
		c := &fakeClient{failDL: true}
		assert.Equal(t, "failed to download attachment", run(t, r, c, withAttachments(img("x.png")), "newmeme", nil))
	})
}

func TestFormatUptime(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "00h 00m 00s", formatUptime(-time.Second))
	assert.Equal(t, "01h 01m 01s", formatUptime(time.Hour+time.Minute+time.Second))
}
