package sync

import (
	"github.com/openintents/calendar-sync/internal/model"
)

// assignCalendarUIDs gives every calendar document without a uid a fresh
// one. It reports whether any document changed.
func assignCalendarUIDs(docs []model.CalendarDoc, newUID func() string) bool {
	changed := false
	for i := range docs {
		if docs[i].UID == "" {
			docs[i].UID = newUID()
			changed = true
		}
	}
	return changed
}

// PlanCalendars diffs the remote calendar list against the account's local
// calendars. Every document must carry a uid.
//
// A local calendar whose uid is missing remotely is deleted. A matched
// calendar is updated when the remote name is non-empty and differs; the
// same op then also carries the remote colour if that differs. Remaining
// documents are inserted in list order.
func PlanCalendars(docs []model.CalendarDoc, local []*model.LocalCalendar, acct model.Account) []model.Op {
	byUID := make(map[string]*model.CalendarDoc, len(docs))
	for i := range docs {
		byUID[docs[i].UID] = &docs[i]
	}

	var ops []model.Op
	for _, cal := range local {
		doc, ok := byUID[cal.UID]
		if !ok {
			ops = append(ops, model.Op{Kind: model.OpDelete, Entity: model.KindCalendar, ID: cal.ID})
			continue
		}
		delete(byUID, cal.UID)

		if patch := calendarPatch(doc, cal); patch != nil {
			ops = append(ops, model.Op{Kind: model.OpUpdate, Entity: model.KindCalendar, ID: cal.ID, Patch: patch})
		}
	}

	for i := range docs {
		doc := &docs[i]
		if byUID[doc.UID] != doc {
			continue // matched, or shadowed by a later duplicate
		}
		ops = append(ops, model.Op{Kind: model.OpInsert, Entity: model.KindCalendar, Calendar: newLocalCalendar(doc, acct)})
	}
	return ops
}

// calendarPatch returns the changes a matched calendar needs, or nil.
func calendarPatch(doc *model.CalendarDoc, cal *model.LocalCalendar) *model.CalendarPatch {
	if doc.Name == "" || doc.Name == cal.DisplayName {
		return nil
	}
	name := doc.Name
	patch := &model.CalendarPatch{DisplayName: &name}
	if color, ok := model.ParseHexColor(doc.HexColor); ok && color != cal.Color {
		patch.Color = &color
	}
	return patch
}

// newLocalCalendar builds the row for a new calendar. Only private calendars
// are visible by default. Private calendars and subscribed feeds have their
// events synced; calendars shared by another identity do not.
func newLocalCalendar(doc *model.CalendarDoc, acct model.Account) *model.LocalCalendar {
	private := doc.Type == model.CalendarPrivate
	return &model.LocalCalendar{
		UID:         doc.UID,
		AccountName: acct.Name,
		AccountType: acct.Type,
		DisplayName: doc.Name,
		Color:       model.ColorOrDefault(doc.HexColor),
		Sync1:       doc.UID,
		Sync2:       string(doc.Type),
		Sync3:       string(doc.Data),
		Visible:     private,
		SyncEvents:  private || doc.Type == model.CalendarFeed,
	}
}

// countOps tallies ops by kind.
func countOps(ops []model.Op) (inserts, updates, deletes int) {
	for _, op := range ops {
		switch op.Kind {
		case model.OpInsert:
			inserts++
		case model.OpUpdate, model.OpMarkSynced:
			updates++
		case model.OpDelete:
			deletes++
		}
	}
	return inserts, updates, deletes
}
