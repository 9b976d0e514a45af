package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/correlator"
	"github.com/luciancaetano/ddpbot/internal/protocol"
)

const maxMessageSize = 10 * 1024 * 1024

// readLoop reads frames until the socket fails or the session is closed, routing each one by
// its "msg" field.
func (s *Session) readLoop(ctx context.Context) error {
	readWait := s.cfg.PingInterval + s.cfg.WriteTimeout + 30*time.Second

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil || ctx.Err() != nil {
				return nil
			}
			return &ddpbot.TransportError{Op: "read", Err: err}
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

		s.classify(ctx, data)
	}
}

// classify handles one inbound frame. It never blocks on anything but the outbound queue and
// the event queue.
func (s *Session) classify(ctx context.Context, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		s.metrics.FramesDropped.WithLabelValues("invalid").Inc()
		s.logger.Warn("frame_invalid", slog.Any("error", err), slog.Int("size", len(data)))
		return
	}

	s.metrics.FramesRead.WithLabelValues(f.Msg).Inc()
	s.logger.Debug("frame_read", slog.String("msg", f.Msg), slog.String("id", f.ID))

	switch f.Msg {
	case ddpbot.MsgPing:
		var pong any
		if f.ID != "" {
			pong = map[string]string{"id": f.ID}
		}
		if err := s.SendFireAndForget(ctx, ddpbot.MsgPong, pong); err != nil {
			s.logger.Warn("pong_failed", slog.Any("error", err))
		}

	case ddpbot.MsgConnected:
		s.logger.Info("connected", slog.String("session", f.Session))
		s.markConnected(nil)

	case ddpbot.MsgFailed:
		s.markConnected(fmt.Errorf("server requires protocol version %q", f.Version))

	case ddpbot.MsgResult:
		resp := correlator.Response{Result: f.Result}
		if f.Error != nil {
			resp.Err = f.Error
		}
		s.resolve(f.ID, resp)

	case ddpbot.MsgNoSub:
		if f.Error != nil {
			s.logger.Warn("subscription_rejected", slog.String("id", f.ID), slog.Any("error", f.Error))
		}
		s.resolve(f.ID, correlator.Response{NoSub: true})

	case ddpbot.MsgReady:
		for _, id := range f.Subs {
			s.resolve(id, correlator.Response{})
		}

	case ddpbot.MsgChanged:
		if !protocol.IsChatStream(f) {
			s.drop(f, "unsubscribed_stream")
			return
		}
		select {
		case s.events <- f:
		case <-ctx.Done():
		case <-s.ctx.Done():
		}

	case ddpbot.MsgError:
		s.metrics.FramesDropped.WithLabelValues("server_error").Inc()
		s.logger.Error("server_error", slog.String("reason", f.Reason))

	default:
		s.drop(f, "unhandled")
	}
}

func (s *Session) resolve(id string, resp correlator.Response) {
	if s.pending.Resolve(id, resp) {
		return
	}
	s.metrics.FramesDropped.WithLabelValues("unknown_request").Inc()
	s.logger.Warn(ddpbot.ErrMsgUnknownRequest, slog.String("id", id))
}

func (s *Session) drop(f *protocol.Frame, reason string) {
	s.metrics.FramesDropped.WithLabelValues(reason).Inc()
	s.logger.Debug(ddpbot.ErrMsgUnhandledFrame,
		slog.String("msg", f.Msg),
		slog.String("collection", f.Collection),
		slog.String("reason", reason),
	)
}
