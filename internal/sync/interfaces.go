// Package sync implements the calendar reconciliation engine. It compares
// the remote calendar list and per-calendar event collections against the
// local calendar database and computes the inserts, updates and deletes that
// bring one side into agreement with the other.
//
// The package contains two main components:
//
//   - [Reconciler] runs one unit of work: the calendar list, or one
//     calendar's events in the download or upload direction.
//   - [Engine] decides which units an invocation runs, aggregates their
//     [Stats], and schedules full syncs in daemon mode.
package sync

import (
	"context"

	"github.com/openintents/calendar-sync/internal/model"
)

// RemoteSession reads and writes documents in the user's remote storage.
// Implemented by [remote.HubSession] and [remote.DAVSession].
type RemoteSession interface {
	IsSignedIn(ctx context.Context) bool
	FetchDocument(ctx context.Context, path string) ([]byte, error)
	WriteDocument(ctx context.Context, path string, data []byte, contentType string) error
}

// FeedSource downloads subscribed iCalendar feeds.
// Implemented by [remote.FeedFetcher].
type FeedSource interface {
	Fetch(ctx context.Context, url string) (model.EventCollection, error)
}

// LocalStore provides access to the local calendar database.
// Implemented by [store.Store].
type LocalStore interface {
	Calendars(ctx context.Context, acct model.Account) ([]*model.LocalCalendar, error)
	CalendarByUID(ctx context.Context, acct model.Account, uid string) (*model.LocalCalendar, error)
	Events(ctx context.Context, calendarID int64) ([]*model.LocalEvent, error)
	DirtyEvents(ctx context.Context, calendarID int64) ([]*model.LocalEvent, error)
	InsertEvent(ctx context.Context, ev *model.LocalEvent) (int64, error)
	ApplyBatch(ctx context.Context, ops []model.Op) error
}
