// Package model defines the remote document types (calendar list entries and
// per-calendar event collections) and the local calendar database records
// shared by the remote backends, the store, and the sync engine.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CalendarType identifies where a calendar's events live.
type CalendarType string

const (
	// CalendarPrivate calendars keep their events in the user's own storage.
	CalendarPrivate CalendarType = "private"
	// CalendarShared calendars are published by another identity.
	CalendarShared CalendarType = "blockstack-user"
	// CalendarFeed calendars subscribe to an external iCalendar URL.
	CalendarFeed CalendarType = "ics"
)

// CalendarDoc is one entry of the remote calendar list document.
type CalendarDoc struct {
	UID      string          `json:"uid,omitempty"`
	Name     string          `json:"name"`
	Type     CalendarType    `json:"type"`
	HexColor string          `json:"hexColor,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// CalendarData is the subset of a calendar's opaque data document the sync
// engine reads.
type CalendarData struct {
	// Src is the storage path (private) or URL (ics) of the event document.
	Src string `json:"src"`
	// User is the publishing identity of a shared calendar.
	User string `json:"user,omitempty"`
}

// ParseCalendarData decodes the sync-relevant fields of a data document.
// Empty input yields a zero CalendarData.
func ParseCalendarData(raw []byte) (CalendarData, error) {
	var d CalendarData
	if len(bytes.TrimSpace(raw)) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("decoding calendar data: %w", err)
	}
	return d, nil
}

// RemoteCalendar is a calendar resolved for an event sync: its type and data
// from the local sync columns and the local calendar id the events belong to.
// A non-empty Error marks a calendar that could not be resolved; such a
// calendar must not be reconciled.
type RemoteCalendar struct {
	UID        string
	Type       CalendarType
	Data       CalendarData
	CalendarID int64
	Error      string
}

// Valid reports whether the calendar resolved without error.
func (c RemoteCalendar) Valid() bool {
	return c.Error == ""
}

// TimeUnit values accepted in reminderTimeUnit.
const (
	UnitMinutes = "minutes"
	UnitHours   = "hours"
)

// RemoteEvent is one entry of a calendar's event collection. Fields the sync
// engine does not interpret are kept in Extra and written back unchanged.
type RemoteEvent struct {
	UID              string  `json:"uid,omitempty"`
	Title            string  `json:"title"`
	Notes            string  `json:"notes"`
	AllDay           bool    `json:"allDay"`
	Start            string  `json:"start"`
	End              string  `json:"end"`
	Guests           string  `json:"guests,omitempty"`
	ReminderEnabled  bool    `json:"reminderEnabled,omitempty"`
	ReminderTimeUnit string  `json:"reminderTimeUnit,omitempty"`
	Time             *IntVal `json:"time,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// remoteEventFields lists the JSON keys bound to RemoteEvent struct fields.
var remoteEventFields = []string{
	"uid", "title", "notes", "allDay", "start", "end",
	"guests", "reminderEnabled", "reminderTimeUnit", "time",
}

type remoteEventAlias RemoteEvent

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (e *RemoteEvent) UnmarshalJSON(b []byte) error {
	var a remoteEventAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	all, err := objectFields(b)
	if err != nil {
		return err
	}
	// The web client writes "" for an unset lead time.
	if isBlankString(all["time"]) {
		a.Time = nil
	}
	a.Extra = unknownFields(all, remoteEventFields)
	*e = RemoteEvent(a)
	return nil
}

// MarshalJSON writes the known fields merged with Extra.
func (e RemoteEvent) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(remoteEventAlias(e))
	if err != nil {
		return nil, err
	}
	return mergeFields(known, e.Extra)
}

var calendarDocFields = []string{"uid", "name", "type", "hexColor", "data"}

type calendarDocAlias CalendarDoc

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (d *CalendarDoc) UnmarshalJSON(b []byte) error {
	var a calendarDocAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	all, err := objectFields(b)
	if err != nil {
		return err
	}
	a.Extra = unknownFields(all, calendarDocFields)
	*d = CalendarDoc(a)
	return nil
}

// MarshalJSON writes the known fields merged with Extra.
func (d CalendarDoc) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(calendarDocAlias(d))
	if err != nil {
		return nil, err
	}
	return mergeFields(known, d.Extra)
}

func objectFields(b []byte) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// unknownFields removes the members named in known from all and returns
// what is left, or nil if nothing is.
func unknownFields(all map[string]json.RawMessage, known []string) map[string]json.RawMessage {
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

func isBlankString(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte(`""`))
}

// mergeFields adds extra to the encoded object known. Keys in known win.
func mergeFields(known []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return known, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(extra)+len(fields))
	for k, v := range extra {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// IntVal is an integer that also accepts a quoted decimal in JSON, matching
// the loose typing of documents written by the web client.
type IntVal int

// UnmarshalJSON accepts 15 and "15".
func (v *IntVal) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s", b)
	}
	*v = IntVal(n)
	return nil
}

// NewIntVal returns a pointer to n as an IntVal.
func NewIntVal(n int) *IntVal {
	v := IntVal(n)
	return &v
}

// EventCollection maps event uid to event. One collection is stored per
// calendar as a single JSON object.
type EventCollection map[string]*RemoteEvent
