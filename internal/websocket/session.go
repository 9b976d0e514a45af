// Package websocket implements the DDP session: one websocket carrying the realtime protocol
// plus an authenticated REST channel for file transfers.
package websocket

import (
	"context"
	"crypto/tls"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/correlator"
	"github.com/luciancaetano/ddpbot/internal/metrics"
	"github.com/luciancaetano/ddpbot/internal/protocol"
)

// ErrSubscriptionRejected is returned when the server answers a subscription with "nosub".
var ErrSubscriptionRejected = errors.New("subscription rejected")

// ErrForeignOrigin is returned when an authenticated request would leave the server origin.
var ErrForeignOrigin = errors.New("refusing to send credentials to a foreign origin")

// Config configures a Session.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://chat.example.com/websocket.
	URL string
	// BaseURL is the REST root, e.g. https://chat.example.com.
	BaseURL string

	Username string
	Password string

	TLSConfig *tls.Config

	// QueueSize bounds the outbound frame queue and the chat event queue.
	QueueSize int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HTTPTimeout      time.Duration
}

// DefaultConfig returns a Config with the default timeouts and queue size.
func DefaultConfig() Config {
	return Config{
		QueueSize:        256,
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     54 * time.Second,
		HTTPTimeout:      60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
}

// Session is a live connection to the chat server. It implements ddpbot.Client.
type Session struct {
	cfg     Config
	conn    *websocket.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	events chan *protocol.Frame

	mu     sync.RWMutex
	closed bool

	pending *correlator.Correlator

	connectOnce sync.Once
	connected   chan struct{}
	connectErr  error

	http   *http.Client
	authMu sync.RWMutex
	auth   restAuth
	userID string
}

var _ ddpbot.Client = (*Session)(nil)

// Dial opens the websocket. The session does nothing until Run is called.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  cfg.TLSConfig,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &ddpbot.TransportError{Op: "dial", Err: err}
	}

	return newSession(conn, cfg, logger, m), nil
}

func newSession(conn *websocket.Conn, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = cfg.TLSConfig

	return &Session{
		cfg:       cfg,
		conn:      conn,
		logger:    logger.With(slog.String("component", "session")),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		sendCh:    make(chan []byte, cfg.QueueSize),
		events:    make(chan *protocol.Frame, cfg.QueueSize),
		pending:   correlator.New(),
		connected: make(chan struct{}),
		http: &http.Client{
			Timeout:       cfg.HTTPTimeout,
			Transport:     transport,
			CheckRedirect: sameOriginRedirect(cfg.BaseURL),
		},
	}
}

// Events returns the queue of chat stream pushes. It is never closed; consumers stop on their
// own context.
func (s *Session) Events() <-chan *protocol.Frame {
	return s.events
}

// Run drives the write pump and the read loop until ctx is done or the socket fails. It
// returns nil on a requested shutdown and a *ddpbot.TransportError otherwise.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(s.writePump)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.ctx.Done():
		}
		return s.Close()
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Bootstrap performs the protocol handshake and the REST login concurrently. Both must
// succeed; the whole exchange is bounded by the handshake timeout.
func (s *Session) Bootstrap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.handshake(gctx) })
	g.Go(func() error { return s.restLogin(gctx) })
	if err := g.Wait(); err != nil {
		return &ddpbot.TransportError{Op: "bootstrap", Err: err}
	}

	s.logger.Info("session_ready", slog.String("user_id", s.UserID()))
	return nil
}

type connectPayload struct {
	Version string   `json:"version"`
	Support []string `json:"support"`
}

type loginParams struct {
	User     loginUser `json:"user"`
	Password string    `json:"password"`
}

type loginUser struct {
	Username string `json:"username"`
}

type loginResult struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type subPayload struct {
	Name   string `json:"name"`
	Params []any  `json:"params"`
}

type methodPayload struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func (s *Session) handshake(ctx context.Context) error {
	connect := connectPayload{Version: ddpbot.DDPVersion, Support: []string{ddpbot.DDPVersion}}
	if err := s.SendFireAndForget(ctx, ddpbot.MsgConnect, connect); err != nil {
		return fmt.Errorf("%s: connect: %w", ddpbot.ErrMsgHandshakeFailed, err)
	}

	select {
	case <-s.connected:
		if s.connectErr != nil {
			return fmt.Errorf("%s: %w", ddpbot.ErrMsgHandshakeFailed, s.connectErr)
		}
	case <-ctx.Done():
		return fmt.Errorf("%s: waiting for connected: %w", ddpbot.ErrMsgHandshakeFailed, ctx.Err())
	}

	raw, err := s.Call(ctx, ddpbot.MethodLogin, loginParams{
		User:     loginUser{Username: s.cfg.Username},
		Password: s.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("%s: login: %w", ddpbot.ErrMsgHandshakeFailed, err)
	}
	var res loginResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("%s: decode login result: %w", ddpbot.ErrMsgHandshakeFailed, err)
	}
	s.setUserID(res.ID)
	s.logger.Info("realtime_login", slog.String("user_id", res.ID))

	if err := s.Subscribe(ctx, ddpbot.StreamRoomMessages, ddpbot.EventMyMessages, true); err != nil {
		return fmt.Errorf("%s: %w", ddpbot.ErrMsgHandshakeFailed, err)
	}
	s.logger.Info("subscribed", slog.String("stream", ddpbot.StreamRoomMessages))
	return nil
}

func (s *Session) markConnected(err error) {
	s.connectOnce.Do(func() {
		s.connectErr = err
		close(s.connected)
	})
}

// Subscribe subscribes to a publication and waits for it to become ready.
func (s *Session) Subscribe(ctx context.Context, name string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	resp, err := s.request(ctx, ddpbot.MsgSub, subPayload{Name: name, Params: params})
	if err != nil {
		return err
	}
	if resp.NoSub {
		return fmt.Errorf("%w: %s", ErrSubscriptionRejected, name)
	}
	return resp.Err
}

// SendRequest sends a frame with a fresh correlation id and waits for its response.
func (s *Session) SendRequest(ctx context.Context, msgType string, payload any) (stdjson.RawMessage, error) {
	resp, err := s.request(ctx, msgType, payload)
	if err != nil {
		return nil, err
	}
	return resp.Result, resp.Err
}

func (s *Session) request(ctx context.Context, msgType string, payload any) (correlator.Response, error) {
	id := s.pending.Register()

	data, err := protocol.Encode(msgType, id, payload)
	if err != nil {
		s.pending.Release(id)
		return correlator.Response{}, fmt.Errorf("%s: %w", ddpbot.ErrMsgFailedToEncode, err)
	}

	if err := s.enqueue(ctx, data); err != nil {
		s.pending.Release(id)
		return correlator.Response{}, err
	}
	s.metrics.PendingRequests.Set(float64(s.pending.Pending()))

	resp, err := s.awaitResponse(ctx, id)
	s.metrics.PendingRequests.Set(float64(s.pending.Pending()))
	return resp, err
}

func (s *Session) awaitResponse(ctx context.Context, id string) (correlator.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	resp, err := s.pending.Await(ctx, id)
	if err != nil && s.ctx.Err() != nil {
		return resp, errors.New(ddpbot.ErrMsgConnectionClosed)
	}
	return resp, err
}

// Call performs a DDP method call.
func (s *Session) Call(ctx context.Context, method string, params ...any) (stdjson.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	return s.SendRequest(ctx, ddpbot.MsgMethod, methodPayload{Method: method, Params: params})
}

// SendFireAndForget queues a frame without a correlation id.
func (s *Session) SendFireAndForget(ctx context.Context, msgType string, payload any) error {
	data, err := protocol.Encode(msgType, "", payload)
	if err != nil {
		return fmt.Errorf("%s: %w", ddpbot.ErrMsgFailedToEncode, err)
	}
	return s.enqueue(ctx, data)
}

type outgoingMessage struct {
	ID     string `json:"_id"`
	RoomID string `json:"rid"`
	Text   string `json:"msg"`
}

// SendMessage posts text to roomID and returns the message id it generated.
func (s *Session) SendMessage(ctx context.Context, roomID, text string) (string, error) {
	msg := outgoingMessage{ID: uuid.New().String(), RoomID: roomID, Text: text}
	if _, err := s.Call(ctx, ddpbot.MethodSendMessage, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// UserID returns the logged-in user's id.
func (s *Session) UserID() string {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	if s.userID != "" {
		return s.userID
	}
	return s.auth.UserID
}

func (s *Session) setUserID(id string) {
	s.authMu.Lock()
	s.userID = id
	s.authMu.Unlock()
}

// enqueue hands data to the write pump.
func (s *Session) enqueue(ctx context.Context, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(ddpbot.ErrMsgConnectionClosed)
	}

	select {
	case s.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New(ddpbot.ErrMsgConnectionClosed)
	}
}

// Close closes the connection with a normal closure.
func (s *Session) Close() error {
	return s.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame and tears the connection down. Pending requests fail with
// a closed-connection error.
func (s *Session) CloseWithCode(code int, reason string) error {
	// cancel first so enqueue callers holding the read lock are released
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	message := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	s.markConnected(errors.New(ddpbot.ErrMsgConnectionClosed))

	return s.conn.Close()
}

// IsAlive reports whether the session has not been closed.
func (s *Session) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// writePump is the only writer of the socket.
func (s *Session) writePump() error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if s.ctx.Err() != nil {
					return nil
				}
				return &ddpbot.TransportError{Op: "write", Err: err}
			}
			s.metrics.FramesWritten.Inc()
			s.logger.Debug("frame_written", slog.Int("size", len(data)))

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if s.ctx.Err() != nil {
					return nil
				}
				return &ddpbot.TransportError{Op: "ping", Err: err}
			}

		case <-s.ctx.Done():
			return nil
		}
	}
}
