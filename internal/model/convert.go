package model

import (
	"fmt"
	"strings"

	"github.com/openintents/calendar-sync/internal/datetime"
)

const (
	defaultReminderMinutes = 10
	defaultReminderHours   = 1

	// EventTimezone is the zone recorded on events built from remote documents.
	EventTimezone = "UTC"
)

// ReminderMinutes returns the lead time of the event's reminder.
func (e *RemoteEvent) ReminderMinutes() int {
	unit := e.ReminderTimeUnit
	if unit == "" {
		unit = UnitMinutes
	}
	switch unit {
	case UnitMinutes:
		if e.Time == nil {
			return defaultReminderMinutes
		}
		return int(*e.Time)
	case UnitHours:
		if e.Time == nil {
			return defaultReminderHours * 60
		}
		return int(*e.Time) * 60
	default:
		return defaultReminderMinutes
	}
}

// LocalReminders derives the reminder rows of the event: one alert when
// reminders are enabled, none otherwise.
func (e *RemoteEvent) LocalReminders() []Reminder {
	if !e.ReminderEnabled {
		return nil
	}
	return []Reminder{{Method: ReminderMethodAlert, Minutes: e.ReminderMinutes()}}
}

// LocalAttendees derives one invited attendee per comma-separated guest.
func (e *RemoteEvent) LocalAttendees() []Attendee {
	var out []Attendee
	for _, g := range strings.Split(e.Guests, ",") {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		out = append(out, Attendee{
			Name:         g,
			Identity:     g,
			Relationship: RelationshipNone,
			Status:       AttendeeStatusInvited,
		})
	}
	return out
}

// ToLocal builds the local event row for the remote event, children
// included. Timestamps go through the datetime codec; the returned error
// wraps a *datetime.FormatError when either cannot be decoded.
func (e *RemoteEvent) ToLocal(uid string, calendarID int64) (*LocalEvent, error) {
	start, err := datetime.Decode(e.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s start: %w", uid, err)
	}
	end, err := datetime.Decode(e.End)
	if err != nil {
		return nil, fmt.Errorf("event %s end: %w", uid, err)
	}
	return &LocalEvent{
		UID:           uid,
		CalendarID:    calendarID,
		Title:         e.Title,
		Description:   e.Notes,
		AllDay:        e.AllDay,
		DTStart:       start,
		DTEnd:         end,
		EventTimezone: EventTimezone,
		Reminders:     e.LocalReminders(),
		Attendees:     e.LocalAttendees(),
	}, nil
}

// ApplyLocal overwrites the fields the local row owns: title, notes,
// all-day flag, start, end, the reminder and the guest list. The remote
// document holds a single reminder, so only the row's first one is written.
// Other fields of e are kept.
func (e *RemoteEvent) ApplyLocal(ev *LocalEvent) {
	e.Title = ev.Title
	e.Notes = ev.Description
	e.AllDay = ev.AllDay
	e.Start = datetime.Encode(ev.DTStart)
	e.End = datetime.Encode(ev.DTEnd)

	if minutes, ok := ev.firstReminder(); ok {
		e.ReminderEnabled = true
		e.ReminderTimeUnit = UnitMinutes
		e.Time = NewIntVal(minutes)
	} else {
		e.ReminderEnabled = false
	}
	e.Guests = strings.Join(ev.guestIdentities(), ",")
}

// NewRemoteEvent creates a remote event from a local row.
func NewRemoteEvent(ev *LocalEvent) *RemoteEvent {
	e := &RemoteEvent{}
	e.ApplyLocal(ev)
	return e
}
