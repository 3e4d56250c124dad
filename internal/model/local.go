package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// DefaultAccountType is the account type local calendars are owned by.
const DefaultAccountType = "org.openintents.calendar.account"

// Account identifies the owner of local calendar rows.
type Account struct {
	Name string
	Type string
}

// LocalCalendar is a calendar row in the local calendar database.
type LocalCalendar struct {
	ID          int64
	UID         string
	AccountName string
	AccountType string
	DisplayName string
	// Color is a 24-bit RGB value.
	Color int

	// Sync columns: Sync1 holds the uid, Sync2 the calendar type and Sync3
	// the serialized data document.
	Sync1 string
	Sync2 string
	Sync3 string

	Visible    bool
	SyncEvents bool
}

// Reminder methods.
const (
	ReminderMethodDefault = 0
	ReminderMethodAlert   = 1
	ReminderMethodEmail   = 2
)

// Attendee relationships and statuses.
const (
	RelationshipNone      = 0
	RelationshipAttendee  = 1
	RelationshipOrganizer = 2

	AttendeeStatusNone      = 0
	AttendeeStatusAccepted  = 1
	AttendeeStatusDeclined  = 2
	AttendeeStatusInvited   = 3
	AttendeeStatusTentative = 4
)

// Reminder is an alarm owned by an event row.
type Reminder struct {
	Method  int
	Minutes int
}

// Attendee is a guest owned by an event row.
type Attendee struct {
	Name         string
	Identity     string
	Relationship int
	Status       int
}

// LocalEvent is an event row in the local calendar database together with
// its reminders and attendees.
type LocalEvent struct {
	ID int64
	// UID is empty until the event has been uploaded.
	UID        string
	CalendarID int64

	Title       string
	Description string
	AllDay      bool
	DTStart     int64
	DTEnd       int64

	EventTimezone    string
	EventEndTimezone string

	// Dirty marks a local change not yet uploaded; Deleted marks a local
	// tombstone pending remote deletion.
	Dirty   bool
	Deleted bool
	// Version counts local edits of the row.
	Version int64

	// Recurrence-exception linkage, carried through untouched.
	OriginalID     string
	OriginalSyncID string

	Reminders []Reminder
	Attendees []Attendee
}

// ContentHash returns a SHA-256 hex digest of the fields the remote document
// maps to: title, description, all-day flag, start, end, the minutes of the
// first reminder and the guest identities. Only what survives a round trip
// through the remote document is hashed, so a row and the row rebuilt from
// its uploaded entry hash alike. Identifiers and sync flags are excluded.
func (e *LocalEvent) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(e.Title))
	h.Write([]byte("|"))
	h.Write([]byte(e.Description))
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%t|%d|%d|", e.AllDay, e.DTStart, e.DTEnd)

	if minutes, ok := e.firstReminder(); ok {
		_, _ = fmt.Fprintf(h, "%d", minutes)
	}
	h.Write([]byte("|"))

	guests := e.guestIdentities()
	sort.Strings(guests)
	for _, g := range guests {
		h.Write([]byte(g))
		h.Write([]byte(","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// firstReminder returns the lead time of the row's first reminder.
func (e *LocalEvent) firstReminder() (int, bool) {
	if len(e.Reminders) == 0 {
		return 0, false
	}
	return e.Reminders[0].Minutes, true
}

// guestIdentities lists the attendees as they appear in the remote guest
// list: the identity, or the name when no identity is known.
func (e *LocalEvent) guestIdentities() []string {
	var out []string
	for _, a := range e.Attendees {
		id := strings.TrimSpace(a.Identity)
		if id == "" {
			id = strings.TrimSpace(a.Name)
		}
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
