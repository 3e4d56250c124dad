package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HubConfig locates an HTTP storage hub. Documents are read from ReadURL and
// written to WriteURL, each joined with the document path.
type HubConfig struct {
	ReadURL  string
	WriteURL string
	Token    string
}

// HubSession is a [Session] backed by an HTTP storage hub. Reads are plain
// GETs; writes are authenticated POSTs carrying a bearer token.
type HubSession struct {
	cfg      HubConfig
	client   *http.Client
	attempts int
	logger   *slog.Logger
}

// NewHubSession returns a session for the hub described by cfg. A nil client
// uses a client with a 30 second timeout.
func NewHubSession(cfg HubConfig, client *http.Client, logger *slog.Logger) (*HubSession, error) {
	for name, raw := range map[string]string{"read_url": cfg.ReadURL, "write_url": cfg.WriteURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("hub %s %q is not an absolute URL", name, raw)
		}
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HubSession{cfg: cfg, client: client, attempts: defaultMaxAttempts, logger: logger}, nil
}

// IsSignedIn reports whether a write token is configured.
func (s *HubSession) IsSignedIn(_ context.Context) bool {
	return s.cfg.Token != ""
}

// FetchDocument reads the document at path.
func (s *HubSession) FetchDocument(ctx context.Context, path string) ([]byte, error) {
	if !s.IsSignedIn(ctx) {
		return nil, ErrNotSignedIn
	}

	var body []byte
	err := Retry(ctx, s.attempts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(s.cfg.ReadURL, path), nil)
		if err != nil {
			return Permanent(&NetworkError{Op: "fetch", Path: path, Err: err})
		}
		b, err := s.do(req, "fetch", path)
		if err != nil {
			return err
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

// WriteDocument replaces the document at path.
func (s *HubSession) WriteDocument(ctx context.Context, path string, data []byte, contentType string) error {
	if !s.IsSignedIn(ctx) {
		return ErrNotSignedIn
	}

	err := Retry(ctx, s.attempts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(s.cfg.WriteURL, path), bytes.NewReader(data))
		if err != nil {
			return Permanent(&NetworkError{Op: "write", Path: path, Err: err})
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "bearer "+s.cfg.Token)
		_, err = s.do(req, "write", path)
		return err
	})
	if err != nil {
		return unwrapRetry(err)
	}
	s.logger.Debug("wrote remote document", "path", path, "bytes", len(data))
	return nil
}

// do performs req and returns the body of a 2xx response. Transport failures
// and 5xx responses are retryable; everything else is permanent.
func (s *HubSession) do(req *http.Request, op, path string) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		s.logger.Warn("remote storage error, retrying", "op", op, "path", path, "status", resp.StatusCode)
		return nil, statusError(op, path, resp.StatusCode)
	default:
		return nil, Permanent(statusError(op, path, resp.StatusCode))
	}
}

// unwrapRetry strips the "all attempts failed" wrapper so callers see the
// typed error of the last attempt, keeping context cancellation as is.
func unwrapRetry(err error) error {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	return err
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
