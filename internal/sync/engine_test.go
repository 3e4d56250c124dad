package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openintents/calendar-sync/internal/model"
	"github.com/openintents/calendar-sync/internal/remote"
)

const twoCalendars = `[
	{"uid":"work","name":"Work","type":"private","hexColor":"#33AA55","data":{"src":"work.json"}},
	{"uid":"home","name":"Home","type":"private","data":{"src":"home.json"}}
]`

func newTestEngine(session *mockSession, store *mockStore) *Engine {
	return NewEngine(newTestReconciler(session, store), testLogger)
}

func TestEngineSync_FullDownload(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", twoCalendars)
	session.set("work.json", workEvents)
	session.set("home.json", `{"h1":{"title":"Laundry","start":"2019-06-17T18:00:00.000Z","end":"2019-06-17T19:00:00.000Z"}}`)
	store := newMockStore()

	stats := newTestEngine(session, store).Sync(context.Background(), Request{})

	// 2 calendars + 3 work events + 1 home event.
	if stats.Inserts != 6 || stats.HasErrors() {
		t.Errorf("stats = %+v, want 6 inserts and no errors", stats)
	}
}

func TestEngineSync_MetaFeedOnly(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", twoCalendars)
	session.set("work.json", workEvents)
	store := newMockStore()

	stats := newTestEngine(session, store).Sync(context.Background(), Request{MetaFeedOnly: true})
	if stats.Inserts != 2 {
		t.Errorf("stats = %+v, want only the 2 calendar inserts", stats)
	}
	if len(store.events) != 0 {
		t.Errorf("%d events synced in meta-only mode", len(store.events))
	}
}

func TestEngineSync_FailingCalendarDoesNotStopSiblings(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", twoCalendars)
	session.set("work.json", workEvents)
	session.fetchErr["home.json"] = &remote.NetworkError{Op: "fetch", Path: "home.json", Err: errors.New("timeout")}
	store := newMockStore()

	stats := newTestEngine(session, store).Sync(context.Background(), Request{})
	if stats.IOExceptions != 1 {
		t.Errorf("IOExceptions = %d, want 1", stats.IOExceptions)
	}
	if stats.Inserts != 5 {
		t.Errorf("Inserts = %d, want 5 (2 calendars + 3 work events)", stats.Inserts)
	}
}

func TestEngineSync_SingleFeed(t *testing.T) {
	session := newMockSession()
	session.set("work.json", workEvents)
	store := newMockStore()
	store.addCalendar(localCalendar("work", "Work", 0))
	e := newTestEngine(session, store)

	stats := e.Sync(context.Background(), Request{Feed: "work"})
	if stats.Inserts != 3 || stats.HasErrors() {
		t.Errorf("download stats = %+v", stats)
	}

	stats = e.Sync(context.Background(), Request{Feed: "nope"})
	if !stats.DatabaseError {
		t.Errorf("unknown feed stats = %+v, want database error", stats)
	}
}

func TestEngineSync_UploadFeed(t *testing.T) {
	session := newMockSession()
	session.set("work.json", `{}`)
	store := newMockStore()
	cal := store.addCalendar(localCalendar("work", "Work", 0))
	row := localEvent(cal.ID, "", "Dentist")
	row.Dirty = true
	store.addEvent(row)

	stats := newTestEngine(session, store).Sync(context.Background(), Request{Feed: "work", Upload: true})
	if stats.Inserts != 1 || stats.HasErrors() {
		t.Errorf("stats = %+v, want 1 insert", stats)
	}
	if len(session.events("work.json")) != 1 {
		t.Error("event not uploaded")
	}
}

func TestEngineSync_NotSignedIn(t *testing.T) {
	session := newMockSession()
	session.signedIn = false
	store := newMockStore()

	stats := newTestEngine(session, store).Sync(context.Background(), Request{})
	if !stats.DatabaseError || stats.Inserts != 0 {
		t.Errorf("stats = %+v, want database error and no changes", stats)
	}
}

func TestEngineFullSync_UploadsThenDownloads(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", `[{"uid":"work","name":"Work","type":"private","data":{"src":"work.json"}}]`)
	session.set("work.json", `{"r1":{"title":"From web","start":"2019-06-17T18:00:00.000Z","end":"2019-06-17T19:00:00.000Z"}}`)
	store := newMockStore()
	e := newTestEngine(session, store)

	if stats := e.FullSync(context.Background()); stats.Inserts != 2 {
		t.Fatalf("first full sync = %+v, want calendar + event inserted", stats)
	}

	cals, _ := store.Calendars(context.Background(), testAccount)
	row := localEvent(cals[0].ID, "", "From phone")
	row.Dirty = true
	id := store.addEvent(row)

	stats := e.FullSync(context.Background())
	if stats.Inserts != 1 || stats.Deletes != 0 || stats.HasErrors() {
		t.Errorf("second full sync = %+v, want the local event uploaded and kept", stats)
	}
	if got := store.event(id); got.Dirty || got.UID == "" {
		t.Errorf("uploaded row = %+v", got)
	}
	if len(session.events("work.json")) != 2 {
		t.Errorf("remote has %d events, want 2", len(session.events("work.json")))
	}
}

func TestEngineSync_SkipsCalendarsWithEventSyncDisabled(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", twoCalendars)
	session.set("work.json", workEvents)
	session.fetchErr["home.json"] = &remote.NetworkError{Op: "fetch", Path: "home.json", Err: errors.New("must not be fetched")}
	store := newMockStore()
	home := localCalendar("home", "Home", 0)
	home.SyncEvents = false
	store.addCalendar(home)

	stats := newTestEngine(session, store).Sync(context.Background(), Request{})
	if stats.HasErrors() || stats.Inserts != 4 {
		t.Errorf("stats = %+v, want work calendar + 3 events and no errors", stats)
	}
}

func TestEngineSync_DownloadsFeedCalendars(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", `[{"uid":"hol","name":"Holidays","type":"ics","data":{"src":"https://example.org/h.ics"}}]`)
	store := newMockStore()
	e := newTestEngine(session, store)
	e.reconciler.feeds.(*mockFeeds).feeds["https://example.org/h.ics"] = model.EventCollection{
		"ny@example.org": {Title: "New Year", AllDay: true, Start: "2019-01-01T00:00:00.000Z", End: "2019-01-02T00:00:00.000Z"},
	}

	stats := e.Sync(context.Background(), Request{})
	if stats.HasErrors() || stats.Inserts != 2 {
		t.Errorf("stats = %+v, want feed calendar + 1 event", stats)
	}
}

func TestEngineSync_UnresolvedCalendarIsDatabaseError(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", `[
		{"uid":"work","name":"Work","type":"private","data":{"src":"work.json"}},
		{"uid":"broken","name":"Broken","type":"private","data":{}}
	]`)
	session.set("work.json", workEvents)
	store := newMockStore()

	stats := newTestEngine(session, store).Sync(context.Background(), Request{})
	if !stats.DatabaseError || stats.ParseExceptions != 0 {
		t.Errorf("stats = %+v, want database error only", stats)
	}
	if stats.Inserts != 5 {
		t.Errorf("Inserts = %d, want 5 (2 calendars + 3 work events)", stats.Inserts)
	}

	var rec Stats
	rec.Record(checkCalendar(model.RemoteCalendar{UID: "broken", Error: "calendar data has no src"}))
	if !rec.DatabaseError {
		t.Errorf("Record(invalid calendar) = %+v", rec)
	}
}

func TestEngineRun_StopsOnCancel(t *testing.T) {
	session := newMockSession()
	session.set("Calendars", `[]`)
	store := newMockStore()
	e := newTestEngine(session, store)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := e.Run(ctx, "@every 1h")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want deadline exceeded", err)
	}
}

func TestEngineRun_BadSchedule(t *testing.T) {
	e := newTestEngine(newMockSession(), newMockStore())
	if err := e.Run(context.Background(), "every now and then"); err == nil {
		t.Error("expected schedule parse error")
	}
}
