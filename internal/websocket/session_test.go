package websocket

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/ddpbot"
	"github.com/luciancaetano/ddpbot/internal/ddptest"
	"github.com/luciancaetano/ddpbot/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(srv *ddptest.Server) Config {
	return Config{
		URL:              srv.URL(),
		BaseURL:          srv.BaseURL(),
		Username:         ddptest.Username,
		Password:         ddptest.Password,
		HandshakeTimeout: 2 * time.Second,
		HTTPTimeout:      2 * time.Second,
	}
}

// startSession dials srv and runs the session until the test ends.
func startSession(t *testing.T, srv *ddptest.Server) (*Session, <-chan error) {
	t.Helper()

	s, err := Dial(context.Background(), testConfig(srv), discardLogger(), metrics.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = s.Close()
	})

	require.True(t, srv.WaitConnected(2*time.Second), "server never saw the connection")
	return s, runErr
}

// bootstrapped returns a session that completed the handshake and REST login.
func bootstrapped(t *testing.T, srv *ddptest.Server) (*Session, <-chan error) {
	t.Helper()

	s, runErr := startSession(t, srv)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s, runErr
}

func TestBootstrapHandshake(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)

	assert.Equal(t, ddptest.UserID, s.UserID())

	connects := srv.Received("connect")
	require.Len(t, connects, 1)
	assert.Equal(t, "1", connects[0]["version"])
	assert.Equal(t, []any{"1"}, connects[0]["support"])
	assert.NotContains(t, connects[0], "id")

	logins := srv.MethodCalls("login")
	require.Len(t, logins, 1)
	params := logins[0]["params"].([]any)
	require.Len(t, params, 1)
	assert.Equal(t, map[string]any{
		"user":     map[string]any{"username": "bot"},
		"password": "secret",
	}, params[0])

	subs := srv.Received("sub")
	require.Len(t, subs, 1)
	assert.Equal(t, ddpbot.StreamRoomMessages, subs[0]["name"])
	assert.Equal(t, []any{ddpbot.EventMyMessages, true}, subs[0]["params"])
	_, err := uuid.Parse(subs[0]["id"].(string))
	assert.NoError(t, err)

	assert.Equal(t, 0, s.pending.Pending())
}

func TestBootstrapConnectFailed(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t, ddptest.WithFailedConnect())
	s, _ := startSession(t, srv)

	err := s.Bootstrap(context.Background())
	require.Error(t, err)
	var te *ddpbot.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), ddpbot.ErrMsgHandshakeFailed)
}

func TestBootstrapSubscriptionRejected(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t, ddptest.WithRejectedSubscription())
	s, _ := startSession(t, srv)

	err := s.Bootstrap(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionRejected)
}

func TestBootstrapRestLoginRejected(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t, ddptest.WithLoginStatus(401))
	s, _ := startSession(t, srv)

	err := s.Bootstrap(context.Background())
	var he *ddpbot.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 401, he.StatusCode)
	assert.Equal(t, "login", he.Op)
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)

	id, err := s.SendMessage(context.Background(), "GENERAL", "hello")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	calls := srv.MethodCalls(ddpbot.MethodSendMessage)
	require.Len(t, calls, 1)
	assert.Equal(t, []any{map[string]any{"_id": id, "rid": "GENERAL", "msg": "hello"}}, calls[0]["params"])
}

func TestCallReturnsMethodError(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)

	_, err := s.Call(context.Background(), ddptest.FailingMethod)
	var me *ddpbot.MethodError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "exploded", me.Reason)
	assert.Equal(t, 0, s.pending.Pending())
}

func TestCallResult(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)

	raw, err := s.Call(context.Background(), "getRoomRoles", "GENERAL")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	calls := srv.MethodCalls("getRoomRoles")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"GENERAL"}, calls[0]["params"])
}

func TestConcurrentCalls(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.Call(context.Background(), "noop")
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}
	assert.Len(t, srv.MethodCalls("noop"), n)
}

func TestPingAnsweredWithPong(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	startSession(t, srv)

	srv.Push(map[string]any{"msg": "ping"})
	srv.Push(map[string]any{"msg": "ping", "id": "p1"})

	require.Eventually(t, func() bool {
		return len(srv.Received("pong")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	pongs := srv.Received("pong")
	assert.NotContains(t, pongs[0], "id")
	assert.Equal(t, "p1", pongs[1]["id"])
}

func TestChatStreamRouting(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := startSession(t, srv)

	srv.PushRaw(`{"msg":"changed","collection":"stream-notify-user","fields":{"eventName":"x","args":[]}}`)
	srv.PushRaw(`not json`)
	srv.PushRaw(`{"msg":"result","id":"nobody-asked","result":1}`)
	srv.PushRaw(`{"msg":"added","collection":"users","id":"u1"}`)
	srv.PushRaw(`{"msg":"changed","collection":"stream-room-messages","fields":{"eventName":"__my_messages__","args":[{"_id":"m1","rid":"r","msg":"hi","u":{"_id":"u","username":"alice"}}]}}`)

	select {
	case f := <-s.Events():
		assert.Equal(t, ddpbot.StreamRoomMessages, f.Collection)
	case <-time.After(2 * time.Second):
		t.Fatal("chat push not delivered")
	}

	select {
	case f := <-s.Events():
		t.Fatalf("unexpected frame delivered: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunReturnsTransportErrorWhenServerDrops(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, runErr := startSession(t, srv)

	srv.DropConnection()

	select {
	case err := <-runErr:
		var te *ddpbot.TransportError
		assert.ErrorAs(t, err, &te)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after connection loss")
	}

	assert.False(t, s.IsAlive())
	_, err := s.Call(context.Background(), "noop")
	assert.Error(t, err)
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, err := Dial(context.Background(), testConfig(srv), discardLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestPendingRequestFailsOnClose(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := startSession(t, srv)

	// the fake server ignores frame types it does not know
	done := make(chan error, 1)
	go func() {
		_, err := s.SendRequest(context.Background(), "custom", map[string]any{"x": 1})
		done <- err
	}()

	require.Eventually(t, func() bool { return s.pending.Pending() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), ddpbot.ErrMsgConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not released")
	}
	assert.Equal(t, 0, s.pending.Pending())
}

func TestDialFailure(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1/websocket"
	_, err := Dial(context.Background(), cfg, discardLogger(), nil)
	var te *ddpbot.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Op)
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)

	path := filepath.Join(t.TempDir(), "doge.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	require.NoError(t, s.UploadFile(context.Background(), "GENERAL", path))

	assert.Equal(t, []ddptest.Upload{
		{RoomID: "GENERAL", Filename: "doge.png", Content: "png-bytes", Token: ddptest.AuthToken},
	}, srv.Uploads())
}

func TestUploadFileMissing(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)

	err := s.UploadFile(context.Background(), "GENERAL", filepath.Join(t.TempDir(), "nope.png"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestUploadFileRejected(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t, ddptest.WithUploadStatus(413))
	s, _ := bootstrapped(t, srv)

	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := s.UploadFile(context.Background(), "GENERAL", path)
	var he *ddpbot.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 413, he.StatusCode)
}

func TestUploadBeforeLogin(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := startSession(t, srv)

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := s.UploadFile(context.Background(), "GENERAL", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ddpbot.ErrMsgNotAuthenticated)
}

func TestDownloadAttachment(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t, ddptest.WithFile("/file-upload/f1/doge.png", "image-data"))
	s, _ := bootstrapped(t, srv)

	dest := filepath.Join(t.TempDir(), "doge.png")
	require.NoError(t, s.DownloadAttachment(context.Background(), "/file-upload/f1/doge.png", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "image-data", string(got))

	err = s.DownloadAttachment(context.Background(), srv.BaseURL()+"/file-upload/missing", filepath.Join(t.TempDir(), "x"))
	var he *ddpbot.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 404, he.StatusCode)
}

// foreignServer records every request and the auth token it carried.
func foreignServer(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()

	var hits atomic.Int32
	var token atomic.Value
	token.Store("")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		token.Store(r.Header.Get("X-Auth-Token"))
		_, _ = w.Write([]byte("stolen"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, &token
}

func TestDownloadAttachmentRefusesForeignOrigin(t *testing.T) {
	t.Parallel()

	srv := ddptest.NewServer(t)
	s, _ := bootstrapped(t, srv)
	foreign, hits, token := foreignServer(t)

	dest := filepath.Join(t.TempDir(), "x.png")
	err := s.DownloadAttachment(context.Background(), foreign.URL+"/x.png", dest)
	require.ErrorIs(t, err, ErrForeignOrigin)

	assert.Equal(t, int32(0), hits.Load())
	assert.Empty(t, token.Load())
	assert.NoFileExists(t, dest)

	// protocol-relative links resolve to the foreign host as well
	err = s.DownloadAttachment(context.Background(), "//"+foreign.Listener.Addr().String()+"/x.png", dest)
	require.ErrorIs(t, err, ErrForeignOrigin)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDownloadAttachmentRefusesForeignRedirect(t *testing.T) {
	t.Parallel()

	foreign, hits, token := foreignServer(t)
	srv := ddptest.NewServer(t, ddptest.WithRedirect("/file-upload/f1/moved.png", foreign.URL+"/moved.png"))
	s, _ := bootstrapped(t, srv)

	dest := filepath.Join(t.TempDir(), "moved.png")
	err := s.DownloadAttachment(context.Background(), "/file-upload/f1/moved.png", dest)
	require.ErrorIs(t, err, ErrForeignOrigin)

	assert.Equal(t, int32(0), hits.Load())
	assert.Empty(t, token.Load())
	assert.NoFileExists(t, dest)
}
