package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHub serves documents from memory: GET /read/<path>, POST /write/<path>.
type fakeHub struct {
	mu       sync.Mutex
	docs     map[string][]byte
	types    map[string]string
	failures int // 5xx responses to send before succeeding
	status   int // fixed status for every request when non-zero
	calls    int
}

func newFakeHub() *fakeHub {
	return &fakeHub{docs: make(map[string][]byte), types: make(map[string]string)}
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++

	if h.status != 0 {
		w.WriteHeader(h.status)
		return
	}
	if h.failures > 0 {
		h.failures--
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(r.URL.Path) > len("/read/"):
		doc, ok := h.docs[r.URL.Path[len("/read/"):]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(doc)
	case r.Method == http.MethodPost && len(r.URL.Path) > len("/write/"):
		if r.Header.Get("Authorization") != "bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		path := r.URL.Path[len("/write/"):]
		h.docs[path] = body
		h.types[path] = r.Header.Get("Content-Type")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestHubSession(t *testing.T, h *fakeHub, token string) *HubSession {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s, err := NewHubSession(HubConfig{
		ReadURL:  srv.URL + "/read/",
		WriteURL: srv.URL + "/write",
		Token:    token,
	}, srv.Client(), discardLogger())
	if err != nil {
		t.Fatalf("NewHubSession: %v", err)
	}
	s.attempts = 2
	return s
}

func TestHubSession_WriteThenFetch(t *testing.T) {
	h := newFakeHub()
	s := newTestHubSession(t, h, "secret")
	ctx := context.Background()

	if err := s.WriteDocument(ctx, "work.json", []byte(`{"a":{}}`), ContentTypeJSON); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	if got := h.types["work.json"]; got != ContentTypeJSON {
		t.Errorf("stored content type = %q, want %q", got, ContentTypeJSON)
	}

	got, err := s.FetchDocument(ctx, "work.json")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if string(got) != `{"a":{}}` {
		t.Errorf("FetchDocument = %s", got)
	}
}

func TestHubSession_NotSignedIn(t *testing.T) {
	h := newFakeHub()
	s := newTestHubSession(t, h, "")
	ctx := context.Background()

	if s.IsSignedIn(ctx) {
		t.Fatal("IsSignedIn = true without a token")
	}
	if _, err := s.FetchDocument(ctx, "Calendars"); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("FetchDocument err = %v, want ErrNotSignedIn", err)
	}
	if err := s.WriteDocument(ctx, "Calendars", nil, ContentTypeJSON); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("WriteDocument err = %v, want ErrNotSignedIn", err)
	}
	if h.calls != 0 {
		t.Errorf("server saw %d requests, want none", h.calls)
	}
}

func TestHubSession_RejectedToken(t *testing.T) {
	h := newFakeHub()
	s := newTestHubSession(t, h, "stale")

	err := s.WriteDocument(context.Background(), "work.json", []byte("{}"), ContentTypeJSON)
	if !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("err = %v, want ErrNotSignedIn", err)
	}
	if h.calls != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on 401)", h.calls)
	}
}

func TestHubSession_NotFound(t *testing.T) {
	h := newFakeHub()
	s := newTestHubSession(t, h, "secret")

	_, err := s.FetchDocument(context.Background(), "missing.json")
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	if netErr.StatusCode != http.StatusNotFound || !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want 404 wrapping ErrNotFound", err)
	}
}

func TestHubSession_RetriesServerErrors(t *testing.T) {
	h := newFakeHub()
	h.docs["Calendars"] = []byte("[]")
	h.failures = 1
	s := newTestHubSession(t, h, "secret")

	got, err := s.FetchDocument(context.Background(), "Calendars")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("FetchDocument = %s", got)
	}
	if h.calls != 2 {
		t.Errorf("server saw %d requests, want 2", h.calls)
	}
}

func TestHubSession_PersistentServerError(t *testing.T) {
	h := newFakeHub()
	h.status = http.StatusServiceUnavailable
	s := newTestHubSession(t, h, "secret")

	err := s.WriteDocument(context.Background(), "work.json", []byte("{}"), ContentTypeJSON)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	if netErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", netErr.StatusCode)
	}
}

func TestNewHubSession_RejectsRelativeURL(t *testing.T) {
	_, err := NewHubSession(HubConfig{ReadURL: "hub/read", WriteURL: "https://hub.example/write"}, nil, discardLogger())
	if err == nil {
		t.Fatal("expected error for relative read URL")
	}
}
