package commands

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/textutil"
)

func (h *handlers) owo(_ context.Context, _ ddpbot.Client, _ *ddpbot.ChatEvent, args ddpbot.Args) (string, error) {
	return textutil.Owo(args.String("text")), nil
}

// spam sends the text several times at once.
func (h *handlers) spam(ctx context.Context, c ddpbot.Client, ev *ddpbot.ChatEvent, args ddpbot.Args) (string, error) {
	text := args.String("text")
	p := pool.New().WithErrors().WithContext(ctx)
	for i := 0; i < spamCount; i++ {
		p.Go(func(ctx context.Context) error {
			_, err := c.SendMessage(ctx, ev.RoomID, text)
			return err
		})
	}
	return "", p.Wait()
}
