package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/luciancaetano/ddpbot"
)

const (
	restPrefix   = "/api/v1"
	maxErrorBody = 4096
)

// restAuth holds the headers every authenticated REST request carries.
type restAuth struct {
	Token  string
	UserID string
}

type restLoginResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthToken string `json:"authToken"`
		UserID    string `json:"userId"`
	} `json:"data"`
}

func (s *Session) restURL(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + restPrefix + path
}

// restLogin exchanges the account credentials for an auth token.
func (s *Session) restLogin(ctx context.Context) error {
	form := url.Values{}
	form.Set("user", s.cfg.Username)
	form.Set("password", s.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.restURL("/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("rest login: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("login", resp); err != nil {
		return err
	}

	var body restLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if body.Data.AuthToken == "" || body.Data.UserID == "" {
		return errors.New("login response has no credentials")
	}

	s.authMu.Lock()
	s.auth = restAuth{Token: body.Data.AuthToken, UserID: body.Data.UserID}
	s.authMu.Unlock()

	s.logger.Info("rest_login", slog.String("user_id", body.Data.UserID))
	return nil
}

func (s *Session) authorize(req *http.Request) error {
	s.authMu.RLock()
	auth := s.auth
	s.authMu.RUnlock()

	if auth.Token == "" {
		return errors.New(ddpbot.ErrMsgNotAuthenticated)
	}
	req.Header.Set("X-Auth-Token", auth.Token)
	req.Header.Set("X-User-Id", auth.UserID)
	return nil
}

// UploadFile posts the file at path to roomID as a multipart form.
func (s *Session) UploadFile(ctx context.Context, roomID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no file found at %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("no file found at %s: %w", path, fs.ErrNotExist)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.restURL("/rooms.upload/"+url.PathEscape(roomID)), &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := s.authorize(req); err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("upload", resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debug("file_uploaded", slog.String("room_id", roomID), slog.String("path", path))
	return nil
}

// DownloadAttachment fetches rawURL into destPath. Relative URLs are resolved against the
// server root; URLs on any other origin are refused with ErrForeignOrigin before a request is
// made.
func (s *Session) DownloadAttachment(ctx context.Context, rawURL, destPath string) error {
	target, err := s.resolveURL(rawURL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	if err := s.authorize(req); err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("download", resp); err != nil {
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destPath, err)
	}

	s.logger.Debug("attachment_downloaded", slog.String("url", target), slog.String("path", destPath))
	return nil
}

// resolveURL resolves rawURL against the server root and rejects targets on any other origin,
// since downloads carry the account's auth headers.
func (s *Session) resolveURL(rawURL string) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse attachment url: %w", err)
	}
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	target := base.ResolveReference(ref)
	if !sameOrigin(base, target) {
		return "", fmt.Errorf("%w: %s", ErrForeignOrigin, target.Host)
	}
	return target.String(), nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// sameOriginRedirect stops redirects that leave the origin of baseURL. The client would
// otherwise forward the custom auth headers to the new host.
func sameOriginRedirect(baseURL string) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		base, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("parse base url: %w", err)
		}
		if !sameOrigin(base, req.URL) {
			return fmt.Errorf("%w: redirect to %s", ErrForeignOrigin, req.URL.Host)
		}
		return nil
	}
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ddpbot.HTTPError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
}
