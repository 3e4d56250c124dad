// Package remote talks to the user's remote storage: the calendar list
// document and one event collection document per calendar. It provides the
// [Session] abstraction with an HTTP storage hub backend ([HubSession]) and a
// WebDAV backend ([DAVSession]), strict decoding of the JSON documents, an
// iCalendar feed reader for subscribed calendars, and a [Retry] helper.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// ContentTypeJSON is the content type of every document the sync engine
// writes.
const ContentTypeJSON = "application/json"

// Session is an authenticated handle on the remote store.
type Session interface {
	IsSignedIn(ctx context.Context) bool
	FetchDocument(ctx context.Context, path string) ([]byte, error)
	WriteDocument(ctx context.Context, path string, data []byte, contentType string) error
}

// ErrNotSignedIn is returned when the session has no usable credentials or
// the server rejected them.
var ErrNotSignedIn = errors.New("not signed in to remote storage")

// ErrNotFound is wrapped by a [NetworkError] when the requested document does
// not exist.
var ErrNotFound = errors.New("document not found")

// NetworkError is a failed exchange with the remote store: a transport
// failure or an unexpected HTTP status.
type NetworkError struct {
	Op         string
	Path       string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s %q: status %d: %v", e.Op, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError is a remote document that could not be decoded.
type ParseError struct {
	Doc string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Doc, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// statusError maps an HTTP status to the error a session returns for it.
func statusError(op, path string, code int) error {
	switch {
	case code == 401 || code == 403:
		return fmt.Errorf("remote %s %q: status %d: %w", op, path, code, ErrNotSignedIn)
	case code == 404:
		return &NetworkError{Op: op, Path: path, StatusCode: code, Err: ErrNotFound}
	default:
		return &NetworkError{Op: op, Path: path, StatusCode: code, Err: errors.New("unexpected status")}
	}
}
