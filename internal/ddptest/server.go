// Package ddptest provides an in-process chat server speaking the realtime and REST APIs the bot
// uses, for integration tests.
package ddptest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Credentials and ids the server accepts and hands out.
const (
	Username  = "bot"
	Password  = "secret"
	UserID    = "bot-id"
	AuthToken = "auth-token"
)

// FailingMethod answers every call with a method error.
const FailingMethod = "boom"

// Sent is a chat message the bot posted through sendMessage.
type Sent struct {
	ID     string
	RoomID string
	Text   string
}

// Upload is a file received on rooms.upload.
type Upload struct {
	RoomID   string
	Filename string
	Content  string
	Token    string
}

// Option configures a Server before it starts.
type Option func(*Server)

// WithFailedConnect answers connect with "failed".
func WithFailedConnect() Option {
	return func(s *Server) { s.failConnect = true }
}

// WithRejectedSubscription answers sub with "nosub".
func WithRejectedSubscription() Option {
	return func(s *Server) { s.rejectSub = true }
}

// WithLoginStatus makes the REST login answer with status.
func WithLoginStatus(status int) Option {
	return func(s *Server) { s.loginStatus = status }
}

// WithUploadStatus makes rooms.upload answer with status.
func WithUploadStatus(status int) Option {
	return func(s *Server) { s.uploadStatus = status }
}

// WithFile serves content at path to authenticated requests.
func WithFile(path, content string) Option {
	return func(s *Server) { s.files[path] = content }
}

// WithRedirect answers authenticated requests for path with a redirect to location.
func WithRedirect(path, location string) Option {
	return func(s *Server) { s.redirects[path] = location }
}

// Server is a fake chat server backed by httptest.
type Server struct {
	srv *httptest.Server

	upgrader websocket.Upgrader

	failConnect  bool
	rejectSub    bool
	loginStatus  int
	uploadStatus int
	files        map[string]string
	redirects    map[string]string

	mu      sync.Mutex
	conn    *websocket.Conn
	frames  []map[string]any
	sent    []Sent
	uploads []Upload

	connected   chan struct{}
	connectOnce sync.Once
	subbed      chan struct{}
	subOnce     sync.Once

	writeMu sync.Mutex
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		files:     map[string]string{},
		redirects: map[string]string{},
		connected: make(chan struct{}),
		subbed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebsocket)
	mux.HandleFunc("/api/v1/login", s.handleLogin)
	mux.HandleFunc("/api/v1/rooms.upload/", s.handleUpload)
	mux.HandleFunc("/file-upload/", s.handleFile)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the websocket endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/websocket"
}

// BaseURL is the REST root.
func (s *Server) BaseURL() string {
	return s.srv.URL
}

// WaitConnected blocks until a websocket client connected.
func (s *Server) WaitConnected(timeout time.Duration) bool {
	return wait(s.connected, timeout)
}

// WaitSubscribed blocks until the bot subscribed to the chat stream.
func (s *Server) WaitSubscribed(timeout time.Duration) bool {
	return wait(s.subbed, timeout)
}

func wait(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Received returns the frames of type msg read so far.
func (s *Server) Received(msg string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, f := range s.frames {
		if f["msg"] == msg {
			out = append(out, f)
		}
	}
	return out
}

// MethodCalls returns the method frames calling method.
func (s *Server) MethodCalls(method string) []map[string]any {
	var out []map[string]any
	for _, f := range s.Received("method") {
		if f["method"] == method {
			out = append(out, f)
		}
	}
	return out
}

// Messages returns the chat messages posted so far.
func (s *Server) Messages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}

// Uploads returns the files uploaded so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Say pushes a chat message from user into room on the subscribed stream.
func (s *Server) Say(id, room, username, text string) {
	s.Push(map[string]any{
		"msg":        "changed",
		"collection": "stream-room-messages",
		"fields": map[string]any{
			"eventName": "__my_messages__",
			"args": []any{
				map[string]any{
					"_id": id,
					"rid": room,
					"msg": text,
					"ts":  map[string]any{"$date": time.Now().UnixMilli()},
					"u":   map[string]any{"_id": "uid-" + username, "username": username},
				},
				map[string]any{"roomParticipant": true, "roomType": "c", "roomName": room},
			},
		},
	})
}

// Push writes a frame to the connected client.
func (s *Server) Push(frame any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if conn := s.current(); conn != nil {
		_ = conn.WriteJSON(frame)
	}
}

// PushRaw writes data as one text message.
func (s *Server) PushRaw(data string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if conn := s.current(); conn != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(data))
	}
}

// DropConnection closes the websocket without a close handshake.
func (s *Server) DropConnection() {
	if conn := s.current(); conn != nil {
		conn.Close()
	}
}

func (s *Server) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connectOnce.Do(func() { close(s.connected) })

	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		s.mu.Lock()
		s.frames = append(s.frames, frame)
		s.mu.Unlock()

		s.reply(frame)
	}
}

func (s *Server) reply(frame map[string]any) {
	id, _ := frame["id"].(string)

	switch frame["msg"] {
	case "connect":
		if s.failConnect {
			s.Push(map[string]any{"msg": "failed", "version": "pre2"})
			return
		}
		s.Push(map[string]any{"msg": "connected", "session": "sess-1"})

	case "sub":
		if s.rejectSub {
			s.Push(map[string]any{"msg": "nosub", "id": id})
			return
		}
		s.Push(map[string]any{"msg": "ready", "subs": []string{id}})
		s.subOnce.Do(func() { close(s.subbed) })

	case "method":
		params, _ := frame["params"].([]any)
		switch frame["method"] {
		case "login":
			s.Push(map[string]any{"msg": "result", "id": id, "result": map[string]any{"id": UserID, "token": "ddp-token"}})
		case "sendMessage":
			if len(params) > 0 {
				m, _ := params[0].(map[string]any)
				msgID, _ := m["_id"].(string)
				rid, _ := m["rid"].(string)
				text, _ := m["msg"].(string)
				s.mu.Lock()
				s.sent = append(s.sent, Sent{ID: msgID, RoomID: rid, Text: text})
				s.mu.Unlock()
			}
			s.Push(map[string]any{"msg": "result", "id": id, "result": map[string]any{"_id": "ok"}})
		case FailingMethod:
			s.Push(map[string]any{"msg": "result", "id": id, "error": map[string]any{
				"error": 500, "reason": "exploded", "message": "exploded [500]", "errorType": "Meteor.Error",
			}})
		default:
			s.Push(map[string]any{"msg": "result", "id": id, "result": map[string]any{"ok": true}})
		}
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.loginStatus != 0 {
		http.Error(w, `{"status":"error"}`, s.loginStatus)
		return
	}
	if r.Method != http.MethodPost || r.FormValue("user") != Username || r.FormValue("password") != Password {
		http.Error(w, `{"status":"error"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   map[string]any{"authToken": AuthToken, "userId": UserID},
	})
}

func authorized(r *http.Request) bool {
	return r.Header.Get("X-Auth-Token") == AuthToken && r.Header.Get("X-User-Id") == UserID
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.uploadStatus != 0 {
		http.Error(w, "rejected", s.uploadStatus)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	content, _ := io.ReadAll(file)

	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{
		RoomID:   strings.TrimPrefix(r.URL.Path, "/api/v1/rooms.upload/"),
		Filename: hdr.Filename,
		Content:  string(content),
		Token:    r.Header.Get("X-Auth-Token"),
	})
	s.mu.Unlock()
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if loc, ok := s.redirects[r.URL.Path]; ok {
		http.Redirect(w, r, loc, http.StatusFound)
		return
	}
	content, ok := s.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(content))
}
