package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openintents/calendar-sync/internal/model"
	"github.com/openintents/calendar-sync/internal/remote"
)

// --- Mock Remote Session -----------------------------------------------------

type mockSession struct {
	mu       sync.Mutex
	signedIn bool
	docs     map[string][]byte
	fetchErr map[string]error
	writeErr error
	writes   int

	// beforeWrite, when set, runs at the start of every write.
	beforeWrite func()
}

func newMockSession() *mockSession {
	return &mockSession{signedIn: true, docs: make(map[string][]byte), fetchErr: make(map[string]error)}
}

func (m *mockSession) IsSignedIn(_ context.Context) bool {
	return m.signedIn
}

func (m *mockSession) FetchDocument(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fetchErr[path]; err != nil {
		return nil, err
	}
	doc, ok := m.docs[path]
	if !ok {
		return nil, &remote.NetworkError{Op: "fetch", Path: path, StatusCode: 404, Err: remote.ErrNotFound}
	}
	return append([]byte(nil), doc...), nil
}

func (m *mockSession) WriteDocument(_ context.Context, path string, data []byte, _ string) error {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.docs[path] = append([]byte(nil), data...)
	return nil
}

func (m *mockSession) set(path, doc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = []byte(doc)
}

func (m *mockSession) events(path string) model.EventCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	events, err := remote.DecodeEventCollection(m.docs[path])
	if err != nil {
		panic(err)
	}
	return events
}

// --- Mock Feed Source --------------------------------------------------------

type mockFeeds struct {
	feeds map[string]model.EventCollection
}

func (m *mockFeeds) Fetch(_ context.Context, url string) (model.EventCollection, error) {
	events, ok := m.feeds[url]
	if !ok {
		return nil, &remote.NetworkError{Op: "feed", Path: url, StatusCode: 404, Err: remote.ErrNotFound}
	}
	return events, nil
}

// --- Mock Local Store --------------------------------------------------------

// mockStore keeps the calendar database in maps. ApplyBatch works on a copy
// and swaps it in only when every op succeeded.
type mockStore struct {
	mu        sync.Mutex
	nextID    int64
	calendars map[int64]*model.LocalCalendar
	events    map[int64]*model.LocalEvent

	// failBatch, when set, is consulted before every batch.
	failBatch func(ops []model.Op) error
	batches   int
}

func newMockStore() *mockStore {
	return &mockStore{
		calendars: make(map[int64]*model.LocalCalendar),
		events:    make(map[int64]*model.LocalEvent),
	}
}

func cloneEvent(ev *model.LocalEvent) *model.LocalEvent {
	cp := *ev
	cp.Reminders = append([]model.Reminder(nil), ev.Reminders...)
	cp.Attendees = append([]model.Attendee(nil), ev.Attendees...)
	return &cp
}

func (m *mockStore) Calendars(_ context.Context, acct model.Account) ([]*model.LocalCalendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.LocalCalendar
	for _, c := range m.calendars {
		if c.AccountName == acct.Name && c.AccountType == acct.Type {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) CalendarByUID(ctx context.Context, acct model.Account, uid string) (*model.LocalCalendar, error) {
	cals, _ := m.Calendars(ctx, acct)
	for _, c := range cals {
		if c.UID == uid {
			return c, nil
		}
	}
	return nil, nil //nolint:nilnil // mirrors store.Store
}

func (m *mockStore) Events(_ context.Context, calendarID int64) ([]*model.LocalEvent, error) {
	return m.filterEvents(func(ev *model.LocalEvent) bool { return ev.CalendarID == calendarID }), nil
}

func (m *mockStore) DirtyEvents(_ context.Context, calendarID int64) ([]*model.LocalEvent, error) {
	return m.filterEvents(func(ev *model.LocalEvent) bool { return ev.CalendarID == calendarID && ev.Dirty }), nil
}

func (m *mockStore) filterEvents(keep func(*model.LocalEvent) bool) []*model.LocalEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.LocalEvent
	for _, ev := range m.events {
		if keep(ev) {
			out = append(out, cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockStore) InsertEvent(_ context.Context, ev *model.LocalEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failBatch != nil {
		if err := m.failBatch([]model.Op{{Kind: model.OpInsert, Entity: model.KindEvent, Event: ev}}); err != nil {
			return 0, err
		}
	}
	m.nextID++
	cp := cloneEvent(ev)
	cp.ID = m.nextID
	cp.Reminders, cp.Attendees = nil, nil
	m.events[cp.ID] = cp
	return cp.ID, nil
}

func (m *mockStore) ApplyBatch(_ context.Context, ops []model.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failBatch != nil {
		if err := m.failBatch(ops); err != nil {
			return err
		}
	}

	cals := make(map[int64]*model.LocalCalendar, len(m.calendars))
	for id, c := range m.calendars {
		cp := *c
		cals[id] = &cp
	}
	events := make(map[int64]*model.LocalEvent, len(m.events))
	for id, ev := range m.events {
		events[id] = cloneEvent(ev)
	}
	nextID := m.nextID

	for _, op := range ops {
		if err := applyMockOp(cals, events, &nextID, op); err != nil {
			return fmt.Errorf("mock store: %s %s: %w", op.Kind, op.Entity, err)
		}
	}

	m.calendars, m.events, m.nextID = cals, events, nextID
	m.batches++
	return nil
}

func applyMockOp(cals map[int64]*model.LocalCalendar, events map[int64]*model.LocalEvent, nextID *int64, op model.Op) error {
	switch op.Entity {
	case model.KindCalendar:
		switch op.Kind {
		case model.OpInsert:
			*nextID++
			cp := *op.Calendar
			cp.ID = *nextID
			cals[cp.ID] = &cp
		case model.OpUpdate:
			c, ok := cals[op.ID]
			if !ok {
				return fmt.Errorf("calendar %d not found", op.ID)
			}
			if op.Patch.DisplayName != nil {
				c.DisplayName = *op.Patch.DisplayName
			}
			if op.Patch.Color != nil {
				c.Color = *op.Patch.Color
			}
		case model.OpDelete:
			if _, ok := cals[op.ID]; !ok {
				return fmt.Errorf("calendar %d not found", op.ID)
			}
			delete(cals, op.ID)
			for id, ev := range events {
				if ev.CalendarID == op.ID {
					delete(events, id)
				}
			}
		}
		return nil

	case model.KindEvent:
		if op.Kind == model.OpInsert {
			*nextID++
			cp := cloneEvent(op.Event)
			cp.ID = *nextID
			events[cp.ID] = cp
			return nil
		}
		ev, ok := events[op.ID]
		if !ok {
			return fmt.Errorf("event %d not found", op.ID)
		}
		switch op.Kind {
		case model.OpUpdate:
			ev.Title, ev.Description, ev.AllDay = op.Event.Title, op.Event.Description, op.Event.AllDay
			ev.DTStart, ev.DTEnd = op.Event.DTStart, op.Event.DTEnd
			ev.EventTimezone, ev.Dirty = op.Event.EventTimezone, op.Event.Dirty
			ev.Version++
		case model.OpDelete:
			delete(events, op.ID)
		case model.OpMarkSynced:
			if op.UID != "" {
				ev.UID = op.UID
			}
			if ev.Version == op.Version {
				ev.Dirty = false
			}
		}
		return nil

	case model.KindReminder, model.KindAttendee:
		ev, ok := events[op.ID]
		if !ok {
			return fmt.Errorf("event %d not found", op.ID)
		}
		switch {
		case op.Entity == model.KindReminder && op.Kind == model.OpDelete:
			ev.Reminders = nil
		case op.Entity == model.KindReminder:
			ev.Reminders = append(ev.Reminders, *op.Reminder)
		case op.Kind == model.OpDelete:
			ev.Attendees = nil
		default:
			ev.Attendees = append(ev.Attendees, *op.Attendee)
		}
		return nil
	}
	return fmt.Errorf("unknown entity %q", op.Entity)
}

// addCalendar seeds a calendar row directly.
func (m *mockStore) addCalendar(c *model.LocalCalendar) *model.LocalCalendar {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *c
	cp.ID = m.nextID
	m.calendars[cp.ID] = &cp
	return &cp
}

// addEvent seeds an event row directly, children included.
func (m *mockStore) addEvent(ev *model.LocalEvent) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := cloneEvent(ev)
	cp.ID = m.nextID
	m.events[cp.ID] = cp
	return cp.ID
}

func (m *mockStore) event(id int64) *model.LocalEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil
	}
	return cloneEvent(ev)
}
