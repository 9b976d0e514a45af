package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/textutil"
)

// Meme naming rules for newmeme.
const (
	MemeNameChars = "-_.abcdefghijklmnopqrstuvwxyz0123456789"
	MemeNameLen   = 64
)

// MemeExts are the accepted meme file extensions.
var MemeExts = []string{".png", ".gif", ".jpg"}

// ValidateMemeName checks an uploaded file name against the meme naming rules. It returns the
// user-facing reason when the name is rejected.
func ValidateMemeName(name string) (string, bool) {
	hasExt := false
	for _, ext := range MemeExts {
		if strings.HasSuffix(name, ext) {
			hasExt = true
			break
		}
	}
	if !hasExt {
		return fmt.Sprintf("memes are only accepted in these formats: `%s`", strings.Join(MemeExts, ", ")), false
	}
	if len(name) > MemeNameLen {
		return fmt.Sprintf("meme file name must be less than %d chars long", MemeNameLen), false
	}
	for _, r := range name {
		if !strings.ContainsRune(MemeNameChars, r) {
			return "file name may only contain these characters: " + MemeNameChars, false
		}
	}
	return "", true
}

func (h *handlers) memes() ([]string, error) {
	entries, err := os.ReadDir(h.cfg.MemeDir)
	if err != nil {
		return nil, fmt.Errorf("read meme dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (h *handlers) listMemes(context.Context, ddpbot.Client, *ddpbot.ChatEvent, ddpbot.Args) (string, error) {
	memes, err := h.memes()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("**Meme Menu**:\n```\n")
	for _, m := range memes {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	b.WriteString("```")
	return b.String(), nil
}

func (h *handlers) randMeme(ctx context.Context, c ddpbot.Client, ev *ddpbot.ChatEvent, _ ddpbot.Args) (string, error) {
	memes, err := h.memes()
	if err != nil {
		return "", err
	}
	if len(memes) == 0 {
		return "the meme bank is empty", nil
	}
	pick := memes[rand.IntN(len(memes))]
	return "", c.UploadFile(ctx, ev.RoomID, filepath.Join(h.cfg.MemeDir, pick))
}

func (h *handlers) meme(ctx context.Context, c ddpbot.Client, ev *ddpbot.ChatEvent, args ddpbot.Args) (string, error) {
	memes, err := h.memes()
	if err != nil {
		return "", err
	}
	name := args.String("meme")
	file, ok := textutil.FileByName(memes, name)
	if !ok {
		return fmt.Sprintf("Invalid meme: `%s`", name), nil
	}
	return "", c.UploadFile(ctx, ev.RoomID, filepath.Join(h.cfg.MemeDir, file))
}

func (h *handlers) newMeme(ctx context.Context, c ddpbot.Client, ev *ddpbot.ChatEvent, _ ddpbot.Args) (string, error) {
	switch n := len(ev.Attachments); {
	case n == 0:
		return "no image attachment found", nil
	case n > 1:
		return fmt.Sprintf("found %d attachments, expected 1", n), nil
	}
	att := ev.Attachments[0]

	if reason, ok := ValidateMemeName(att.Title); !ok {
		return reason, nil
	}

	memes, err := h.memes()
	if err != nil {
		return "", err
	}
	if _, exists := textutil.FileByName(memes, att.Title); exists {
		return "meme with the same name already exists", nil
	}

	link := att.TitleLink
	if link == "" {
		link = att.ImageURL
	}
	if err := c.DownloadAttachment(ctx, link, filepath.Join(h.cfg.MemeDir, att.Title)); err != nil {
		h.cfg.Logger.Error("meme_download_failed",
			slog.String("title", att.Title),
			slog.String("room_id", ev.RoomID),
			slog.Any("error", err),
		)
		return "failed to download attachment", nil
	}
	return fmt.Sprintf("Added `%s` to the meme bank.", att.Title), nil
}
