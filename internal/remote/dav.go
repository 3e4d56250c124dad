package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/emersion/go-webdav"
)

// DAVConfig locates a WebDAV collection holding the calendar documents.
type DAVConfig struct {
	URL      string
	Username string
	Password string
}

// DAVSession is a [Session] backed by a WebDAV server with basic auth.
type DAVSession struct {
	client   *webdav.Client
	status   *statusRecorder
	username string
	logger   *slog.Logger
}

// NewDAVSession returns a session rooted at cfg.URL. A nil httpClient uses
// http.DefaultClient.
func NewDAVSession(cfg DAVConfig, httpClient *http.Client, logger *slog.Logger) (*DAVSession, error) {
	var base webdav.HTTPClient = http.DefaultClient
	if httpClient != nil {
		base = httpClient
	}
	rec := &statusRecorder{next: base}

	var hc webdav.HTTPClient = rec
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(rec, cfg.Username, cfg.Password)
	}

	client, err := webdav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("creating webdav client for %q: %w", cfg.URL, err)
	}
	return &DAVSession{client: client, status: rec, username: cfg.Username, logger: logger}, nil
}

// IsSignedIn reports whether credentials are configured.
func (s *DAVSession) IsSignedIn(_ context.Context) bool {
	return s.username != ""
}

// FetchDocument reads the document at path.
func (s *DAVSession) FetchDocument(ctx context.Context, path string) ([]byte, error) {
	if !s.IsSignedIn(ctx) {
		return nil, ErrNotSignedIn
	}

	var body []byte
	err := Retry(ctx, defaultMaxAttempts, func() error {
		rc, err := s.client.Open(ctx, davPath(path))
		if err != nil {
			return s.classify("fetch", path, err)
		}
		defer func() { _ = rc.Close() }()
		b, err := io.ReadAll(rc)
		if err != nil {
			return &NetworkError{Op: "fetch", Path: path, Err: err}
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, unwrapRetry(err)
	}
	s.logger.Debug("fetched remote document", "path", path, "bytes", len(body))
	return body, nil
}

// WriteDocument replaces the document at path. The server decides the stored
// content type.
func (s *DAVSession) WriteDocument(ctx context.Context, path string, data []byte, _ string) error {
	if !s.IsSignedIn(ctx) {
		return ErrNotSignedIn
	}

	err := Retry(ctx, defaultMaxAttempts, func() error {
		wc, err := s.client.Create(ctx, davPath(path))
		if err != nil {
			return s.classify("write", path, err)
		}
		if _, err := wc.Write(data); err != nil {
			_ = wc.Close()
			return s.classify("write", path, err)
		}
		if err := wc.Close(); err != nil {
			return s.classify("write", path, err)
		}
		return nil
	})
	if err != nil {
		return unwrapRetry(err)
	}
	s.logger.Debug("wrote remote document", "path", path, "bytes", len(data))
	return nil
}

// classify turns a webdav client error into a session error using the status
// of the last response seen on the wire.
func (s *DAVSession) classify(op, path string, err error) error {
	code := s.status.last()
	switch {
	case code >= 500:
		return &NetworkError{Op: op, Path: path, StatusCode: code, Err: err}
	case code >= 400:
		return Permanent(statusError(op, path, code))
	default:
		return &NetworkError{Op: op, Path: path, Err: err}
	}
}

// davPath keeps path relative so the client resolves it under the endpoint.
func davPath(path string) string {
	return strings.TrimLeft(path, "/")
}

// statusRecorder remembers the status code of the most recent response.
type statusRecorder struct {
	next webdav.HTTPClient
	code atomic.Int32
}

func (r *statusRecorder) Do(req *http.Request) (*http.Response, error) {
	r.code.Store(0)
	resp, err := r.next.Do(req)
	if resp != nil {
		r.code.Store(int32(resp.StatusCode)) //nolint:gosec // HTTP status codes fit in int32
	}
	return resp, err
}

func (r *statusRecorder) last() int {
	return int(r.code.Load())
}
