// Package store is the local calendar database: calendars, events and their
// reminders and attendees, kept in SQLite.
//
// Only this package may open or query the database. The sync engine calls
// into a [*Store] through narrow interfaces; every batch it submits is
// applied in a single transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/openintents/calendar-sync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS calendars (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    uid          TEXT    NOT NULL,
    account_name TEXT    NOT NULL,
    account_type TEXT    NOT NULL,
    display_name TEXT    NOT NULL DEFAULT '',
    color        INTEGER NOT NULL DEFAULT 0,
    sync1        TEXT    NOT NULL DEFAULT '',
    sync2        TEXT    NOT NULL DEFAULT '',
    sync3        TEXT    NOT NULL DEFAULT '',
    visible      INTEGER NOT NULL DEFAULT 1,
    sync_events  INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_calendars_uid ON calendars (account_name, account_type, uid);

CREATE TABLE IF NOT EXISTS events (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    uid                TEXT,
    calendar_id        INTEGER NOT NULL REFERENCES calendars (id) ON DELETE CASCADE,
    title              TEXT    NOT NULL DEFAULT '',
    description        TEXT    NOT NULL DEFAULT '',
    all_day            INTEGER NOT NULL DEFAULT 0,
    dtstart            INTEGER NOT NULL DEFAULT 0,
    dtend              INTEGER NOT NULL DEFAULT 0,
    event_timezone     TEXT    NOT NULL DEFAULT '',
    event_end_timezone TEXT    NOT NULL DEFAULT '',
    dirty              INTEGER NOT NULL DEFAULT 0,
    deleted            INTEGER NOT NULL DEFAULT 0,
    original_id        TEXT    NOT NULL DEFAULT '',
    original_sync_id   TEXT    NOT NULL DEFAULT '',
    version            INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_uid      ON events (calendar_id, uid) WHERE uid IS NOT NULL;
CREATE INDEX        IF NOT EXISTS idx_events_calendar ON events (calendar_id, dirty);

CREATE TABLE IF NOT EXISTS reminders (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id INTEGER NOT NULL REFERENCES events (id) ON DELETE CASCADE,
    method   INTEGER NOT NULL DEFAULT 0,
    minutes  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reminders_event ON reminders (event_id);

CREATE TABLE IF NOT EXISTS attendees (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id     INTEGER NOT NULL REFERENCES events (id) ON DELETE CASCADE,
    name         TEXT    NOT NULL DEFAULT '',
    identity     TEXT    NOT NULL DEFAULT '',
    relationship INTEGER NOT NULL DEFAULT 0,
    status       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attendees_event ON attendees (event_id);
`

// ErrNoRow is wrapped by mutations that expected to touch exactly one row and
// touched none.
var ErrNoRow = errors.New("row not found")

// Error is a local database failure. The sync engine treats any *Error as a
// database error for the unit of work that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Store is the SQLite-backed calendar database.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	observers map[model.EntityKind][]func(model.EntityKind)
}

// DefaultDBPath returns the default path for the calendar database:
// ~/.local/share/calsync/calendar.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "calsync", "calendar.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and enables WAL mode and foreign keys.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, observers: make(map[model.EntityKind][]func(model.EntityKind))}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Observe registers fn to be called after changes to kind are committed.
func (s *Store) Observe(kind model.EntityKind, fn func(model.EntityKind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[kind] = append(s.observers[kind], fn)
}

// NotifyChanged calls the observers registered for kind.
func (s *Store) NotifyChanged(kind model.EntityKind) {
	s.mu.Lock()
	fns := append([]func(model.EntityKind){}, s.observers[kind]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(kind)
	}
}

// --- calendars ---------------------------------------------------------------

const calendarColumns = `id, uid, account_name, account_type, display_name, color,
	sync1, sync2, sync3, visible, sync_events`

// Calendars returns every calendar owned by acct.
func (s *Store) Calendars(ctx context.Context, acct model.Account) ([]*model.LocalCalendar, error) {
	q := `SELECT ` + calendarColumns + ` FROM calendars
		WHERE account_name = ? AND account_type = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, acct.Name, acct.Type)
	if err != nil {
		return nil, storeErr("query calendars", err)
	}
	defer func() { _ = rows.Close() }()

	var cals []*model.LocalCalendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, c)
	}
	return cals, storeErr("query calendars", rows.Err())
}

// CalendarByUID returns the calendar of acct with the given uid, or
// (nil, nil) if there is none.
func (s *Store) CalendarByUID(ctx context.Context, acct model.Account, uid string) (*model.LocalCalendar, error) {
	q := `SELECT ` + calendarColumns + ` FROM calendars
		WHERE account_name = ? AND account_type = ? AND uid = ?`
	c, err := scanCalendar(s.db.QueryRowContext(ctx, q, acct.Name, acct.Type, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return c, err
}

// --- events ------------------------------------------------------------------

const eventColumns = `id, uid, calendar_id, title, description, all_day, dtstart, dtend,
	event_timezone, event_end_timezone, dirty, deleted, original_id, original_sync_id, version`

// Events returns every event of the calendar, tombstones included, with
// reminders and attendees loaded.
func (s *Store) Events(ctx context.Context, calendarID int64) ([]*model.LocalEvent, error) {
	return s.queryEvents(ctx, `calendar_id = ?`, calendarID)
}

// DirtyEvents returns the events of the calendar with local changes pending
// upload, tombstones included.
func (s *Store) DirtyEvents(ctx context.Context, calendarID int64) ([]*model.LocalEvent, error) {
	return s.queryEvents(ctx, `calendar_id = ? AND dirty = 1`, calendarID)
}

// Event returns the event with the given local id, or (nil, nil).
func (s *Store) Event(ctx context.Context, id int64) (*model.LocalEvent, error) {
	evs, err := s.queryEvents(ctx, `id = ?`, id)
	if err != nil || len(evs) == 0 {
		return nil, err
	}
	return evs[0], nil
}

func (s *Store) queryEvents(ctx context.Context, where string, args ...any) ([]*model.LocalEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE ` + where + ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("query events", err)
	}

	var evs []*model.LocalEvent
	byID := make(map[int64]*model.LocalEvent)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		evs = append(evs, ev)
		byID[ev.ID] = ev
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, storeErr("query events", err)
	}
	_ = rows.Close()

	// The connection pool holds one connection, so children are loaded only
	// after the event cursor is closed.
	for _, ev := range evs {
		if err := s.loadChildren(ctx, ev); err != nil {
			return nil, err
		}
	}
	return evs, nil
}

func (s *Store) loadChildren(ctx context.Context, ev *model.LocalEvent) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT method, minutes FROM reminders WHERE event_id = ? ORDER BY id`, ev.ID)
	if err != nil {
		return storeErr("query reminders", err)
	}
	for rows.Next() {
		var r model.Reminder
		if err := rows.Scan(&r.Method, &r.Minutes); err != nil {
			_ = rows.Close()
			return storeErr("scan reminder", err)
		}
		ev.Reminders = append(ev.Reminders, r)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT name, identity, relationship, status FROM attendees WHERE event_id = ? ORDER BY id`, ev.ID)
	if err != nil {
		return storeErr("query attendees", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var a model.Attendee
		if err := rows.Scan(&a.Name, &a.Identity, &a.Relationship, &a.Status); err != nil {
			return storeErr("scan attendee", err)
		}
		ev.Attendees = append(ev.Attendees, a)
	}
	return storeErr("query attendees", rows.Err())
}

// InsertEvent inserts a single event row (children are not written) and
// returns its local id.
func (s *Store) InsertEvent(ctx context.Context, ev *model.LocalEvent) (int64, error) {
	id, err := insertEvent(ctx, s.db, ev)
	if err != nil {
		return 0, storeErr("insert event", err)
	}
	ev.ID = id
	s.NotifyChanged(model.KindEvent)
	return id, nil
}

// SaveLocalEvent records a local edit: the event row and its children are
// written and the row is marked dirty. A zero ID inserts a new event.
func (s *Store) SaveLocalEvent(ctx context.Context, ev *model.LocalEvent) (int64, error) {
	ev.Dirty = true
	var ops []model.Op
	if ev.ID == 0 {
		id, err := s.InsertEvent(ctx, ev)
		if err != nil {
			return 0, err
		}
		ops = model.ReplaceChildrenOps(id, ev.Reminders, ev.Attendees)
	} else {
		ops = append([]model.Op{{Kind: model.OpUpdate, Entity: model.KindEvent, ID: ev.ID, Event: ev}},
			model.ReplaceChildrenOps(ev.ID, ev.Reminders, ev.Attendees)...)
	}
	if err := s.ApplyBatch(ctx, ops); err != nil {
		return 0, err
	}
	return ev.ID, nil
}

// MarkDeleted turns the event into a local tombstone pending upload.
func (s *Store) MarkDeleted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET deleted = 1, dirty = 1, version = version + 1 WHERE id = ?`, id)
	if err := expectOne(res, err); err != nil {
		return storeErr(fmt.Sprintf("mark event %d deleted", id), err)
	}
	return nil
}

// Summary counts the rows owned by acct.
type Summary struct {
	Calendars int
	Events    int
	Dirty     int
}

// Summarize returns row counts for acct.
func (s *Store) Summarize(ctx context.Context, acct model.Account) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT
		    (SELECT COUNT(*) FROM calendars WHERE account_name = ?1 AND account_type = ?2),
		    (SELECT COUNT(*) FROM events e JOIN calendars c ON c.id = e.calendar_id
		        WHERE c.account_name = ?1 AND c.account_type = ?2),
		    (SELECT COUNT(*) FROM events e JOIN calendars c ON c.id = e.calendar_id
		        WHERE c.account_name = ?1 AND c.account_type = ?2 AND e.dirty = 1)`,
		acct.Name, acct.Type).Scan(&sum.Calendars, &sum.Events, &sum.Dirty)
	return sum, storeErr("summarize", err)
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanCalendar(s scanner) (*model.LocalCalendar, error) {
	var c model.LocalCalendar
	err := s.Scan(&c.ID, &c.UID, &c.AccountName, &c.AccountType, &c.DisplayName, &c.Color,
		&c.Sync1, &c.Sync2, &c.Sync3, &c.Visible, &c.SyncEvents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storeErr("scan calendar", err)
	}
	return &c, nil
}

func scanEvent(s scanner) (*model.LocalEvent, error) {
	var ev model.LocalEvent
	var uid sql.NullString
	err := s.Scan(&ev.ID, &uid, &ev.CalendarID, &ev.Title, &ev.Description, &ev.AllDay,
		&ev.DTStart, &ev.DTEnd, &ev.EventTimezone, &ev.EventEndTimezone,
		&ev.Dirty, &ev.Deleted, &ev.OriginalID, &ev.OriginalSyncID, &ev.Version)
	if err != nil {
		return nil, storeErr("scan event", err)
	}
	ev.UID = uid.String
	return &ev, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNoRow
	}
	return nil
}
