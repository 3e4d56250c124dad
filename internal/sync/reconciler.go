package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openintents/calendar-sync/internal/model"
	"github.com/openintents/calendar-sync/internal/remote"
)

// DefaultCalendarsPath is the remote path of the calendar list document.
const DefaultCalendarsPath = "Calendars"

var (
	// ErrInvalidCalendar is returned for a local calendar whose sync columns
	// cannot be resolved to a remote calendar. It counts as a database error.
	ErrInvalidCalendar = errors.New("invalid calendar")

	// errNoSource marks a calendar whose data document names no event source.
	errNoSource = errors.New("calendar data has no src")
)

// Reconciler runs single units of work against one account. It is stateless
// between calls: every pass reads a fresh snapshot of both sides.
type Reconciler struct {
	session       RemoteSession
	feeds         FeedSource
	store         LocalStore
	acct          model.Account
	calendarsPath string
	newUID        func() string
	log           *slog.Logger
}

// NewReconciler creates a Reconciler for acct. The calendar list is read
// from calendarsPath; an empty path uses [DefaultCalendarsPath].
func NewReconciler(session RemoteSession, feeds FeedSource, store LocalStore, acct model.Account, calendarsPath string, logger *slog.Logger) *Reconciler {
	if calendarsPath == "" {
		calendarsPath = DefaultCalendarsPath
	}
	return &Reconciler{
		session:       session,
		feeds:         feeds,
		store:         store,
		acct:          acct,
		calendarsPath: calendarsPath,
		newUID:        func() string { return uuid.New().String() },
		log:           logger,
	}
}

// SyncCalendarList brings the account's local calendars in line with the
// remote calendar list. Documents without a uid get one, and the list is
// written back before any local change so the uid sticks. All local changes
// are applied as one batch; on failure nothing is applied and no counters
// are updated.
func (r *Reconciler) SyncCalendarList(ctx context.Context) (Stats, error) {
	var stats Stats
	if !r.session.IsSignedIn(ctx) {
		return stats, remote.ErrNotSignedIn
	}

	data, err := r.session.FetchDocument(ctx, r.calendarsPath)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return stats, fmt.Errorf("fetching calendar list: %w", err)
	}
	docs, err := remote.DecodeCalendarList(data)
	if err != nil {
		return stats, err
	}

	if assignCalendarUIDs(docs, r.newUID) {
		encoded, err := remote.EncodeCalendarList(docs)
		if err != nil {
			return stats, fmt.Errorf("encoding calendar list: %w", err)
		}
		if err := r.session.WriteDocument(ctx, r.calendarsPath, encoded, remote.ContentTypeJSON); err != nil {
			return stats, fmt.Errorf("saving assigned calendar uids: %w", err)
		}
		r.log.Info("assigned uids to remote calendars")
	}

	local, err := r.store.Calendars(ctx, r.acct)
	if err != nil {
		return stats, fmt.Errorf("listing local calendars: %w", err)
	}

	ops := PlanCalendars(docs, local, r.acct)
	for _, op := range ops {
		r.log.Debug("calendar op", "op", op.Kind, "local_id", op.ID)
	}
	if err := r.store.ApplyBatch(ctx, ops); err != nil {
		return stats, fmt.Errorf("applying calendar changes: %w", err)
	}

	stats.Entries = len(docs)
	stats.Inserts, stats.Updates, stats.Deletes = countOps(ops)
	r.log.Info("calendar list synced", "stats", stats)
	return stats, nil
}

// ResolveCalendar reads the remote identity of a local calendar from its
// sync columns. A calendar whose data cannot be read comes back with Error
// set and must not be reconciled.
func ResolveCalendar(cal *model.LocalCalendar) model.RemoteCalendar {
	rc := model.RemoteCalendar{
		UID:        cal.UID,
		Type:       model.CalendarType(cal.Sync2),
		CalendarID: cal.ID,
	}
	data, err := model.ParseCalendarData([]byte(cal.Sync3))
	switch {
	case err != nil:
		rc.Error = err.Error()
	case data.Src == "" && rc.Type != model.CalendarShared:
		rc.Error = errNoSource.Error()
	}
	rc.Data = data
	return rc
}

// checkCalendar turns an unresolved calendar into an error.
func checkCalendar(cal model.RemoteCalendar) error {
	if cal.Valid() {
		return nil
	}
	return fmt.Errorf("%w %s: %s", ErrInvalidCalendar, cal.UID, cal.Error)
}
