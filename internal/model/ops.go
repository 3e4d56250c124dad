package model

// EntityKind names a table of the local calendar database.
type EntityKind string

const (
	KindCalendar EntityKind = "calendars"
	KindEvent    EntityKind = "events"
	KindReminder EntityKind = "reminders"
	KindAttendee EntityKind = "attendees"
)

// OpKind is the mutation an Op performs.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	// OpMarkSynced assigns a uid (when set) and clears the dirty flag of an
	// event row.
	OpMarkSynced
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpMarkSynced:
		return "mark-synced"
	default:
		return "unknown"
	}
}

// CalendarPatch lists the calendar columns an update changes. Nil fields are
// left alone.
type CalendarPatch struct {
	DisplayName *string
	Color       *int
}

// Op is one mutation against the local calendar database.
//
// ID is the target row for calendar and event updates and deletes. For
// reminder and attendee ops ID is the owning event: a delete removes all of
// that event's children of the kind, an insert adds one child.
type Op struct {
	Kind   OpKind
	Entity EntityKind
	ID     int64

	Calendar *LocalCalendar
	Patch    *CalendarPatch
	Event    *LocalEvent
	Reminder *Reminder
	Attendee *Attendee
	UID      string
	// Version is the event row version an OpMarkSynced was built from.
	Version int64
}

// ReplaceChildrenOps returns the ops that delete every reminder and attendee
// of eventID and insert the given ones in their place.
func ReplaceChildrenOps(eventID int64, reminders []Reminder, attendees []Attendee) []Op {
	ops := make([]Op, 0, 2+len(reminders)+len(attendees))
	ops = append(ops, Op{Kind: OpDelete, Entity: KindReminder, ID: eventID})
	for i := range reminders {
		ops = append(ops, Op{Kind: OpInsert, Entity: KindReminder, ID: eventID, Reminder: &reminders[i]})
	}
	ops = append(ops, Op{Kind: OpDelete, Entity: KindAttendee, ID: eventID})
	for i := range attendees {
		ops = append(ops, Op{Kind: OpInsert, Entity: KindAttendee, ID: eventID, Attendee: &attendees[i]})
	}
	return ops
}
