package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/openintents/calendar-sync/internal/model"
	"github.com/openintents/calendar-sync/internal/remote"
)

// fetchEvents reads the event collection of cal from its source.
func (r *Reconciler) fetchEvents(ctx context.Context, cal model.RemoteCalendar) (model.EventCollection, error) {
	if cal.Type == model.CalendarFeed {
		events, err := r.feeds.Fetch(ctx, cal.Data.Src)
		if err != nil {
			return nil, fmt.Errorf("fetching feed of calendar %s: %w", cal.UID, err)
		}
		return events, nil
	}

	data, err := r.session.FetchDocument(ctx, cal.Data.Src)
	if err != nil {
		return nil, fmt.Errorf("fetching events of calendar %s: %w", cal.UID, err)
	}
	return remote.DecodeEventCollection(data)
}

// DownloadEvents brings the local events of cal in line with its remote
// event collection.
//
// Local rows without a uid and rows with pending local changes are left
// alone; a dirty row still consumes its remote entry. Each event is applied
// on its own, so a failure is recorded in the returned stats and processing
// moves on to the next event. The returned error is set only when the whole
// unit could not run.
func (r *Reconciler) DownloadEvents(ctx context.Context, cal model.RemoteCalendar) (Stats, error) {
	var stats Stats
	if err := checkCalendar(cal); err != nil {
		return stats, err
	}
	if cal.Type == model.CalendarShared {
		r.log.Info("skipping shared calendar", "calendar_uid", cal.UID, "user", cal.Data.User)
		return stats, nil
	}
	if !r.session.IsSignedIn(ctx) {
		return stats, remote.ErrNotSignedIn
	}

	events, err := r.fetchEvents(ctx, cal)
	if err != nil {
		return stats, err
	}

	local, err := r.store.Events(ctx, cal.CalendarID)
	if err != nil {
		return stats, fmt.Errorf("listing events of calendar %s: %w", cal.UID, err)
	}

	remaining := make(map[string]*model.RemoteEvent, len(events))
	for uid, ev := range events {
		if uid != "" {
			remaining[uid] = ev
		}
	}

	for _, row := range local {
		stats.Entries++
		if row.UID == "" {
			continue
		}

		ev, ok := remaining[row.UID]
		if ok {
			delete(remaining, row.UID)
		}
		if row.Dirty {
			r.log.Debug("keeping event with pending upload", "calendar_uid", cal.UID, "event_uid", row.UID)
			continue
		}

		if !ok {
			r.log.Debug("deleting event", "calendar_uid", cal.UID, "event_uid", row.UID)
			err := r.store.ApplyBatch(ctx, []model.Op{{Kind: model.OpDelete, Entity: model.KindEvent, ID: row.ID}})
			if err != nil {
				r.eventFailed(&stats, cal, row.UID, err)
				continue
			}
			stats.Deletes++
			continue
		}

		want, err := ev.ToLocal(row.UID, cal.CalendarID)
		if err != nil {
			r.eventFailed(&stats, cal, row.UID, err)
			continue
		}
		if !needsUpdate(row, want) {
			continue
		}

		r.log.Debug("updating event", "calendar_uid", cal.UID, "event_uid", row.UID)
		want.ID = row.ID
		ops := append([]model.Op{{Kind: model.OpUpdate, Entity: model.KindEvent, ID: row.ID, Event: want}},
			model.ReplaceChildrenOps(row.ID, want.Reminders, want.Attendees)...)
		if err := r.store.ApplyBatch(ctx, ops); err != nil {
			r.eventFailed(&stats, cal, row.UID, err)
			continue
		}
		stats.Updates++
	}

	uids := make([]string, 0, len(remaining))
	for uid := range remaining {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		want, err := remaining[uid].ToLocal(uid, cal.CalendarID)
		if err != nil {
			r.eventFailed(&stats, cal, uid, err)
			continue
		}

		r.log.Debug("inserting event", "calendar_uid", cal.UID, "event_uid", uid)
		id, err := r.store.InsertEvent(ctx, want)
		if err != nil {
			r.eventFailed(&stats, cal, uid, err)
			continue
		}
		if err := r.store.ApplyBatch(ctx, model.ReplaceChildrenOps(id, want.Reminders, want.Attendees)); err != nil {
			r.eventFailed(&stats, cal, uid, err)
			continue
		}
		stats.Inserts++
	}

	r.log.Info("events downloaded", "calendar_uid", cal.UID, "stats", stats)
	return stats, nil
}

// needsUpdate reports whether the local row differs from the row built from
// its remote entry in any field the remote document maps to.
func needsUpdate(row, want *model.LocalEvent) bool {
	return row.ContentHash() != want.ContentHash()
}

func (r *Reconciler) eventFailed(stats *Stats, cal model.RemoteCalendar, uid string, err error) {
	r.log.Warn("event sync failed", "calendar_uid", cal.UID, "event_uid", uid, "error", err)
	stats.Record(err)
}

// pendingRow is a dirty local row already applied to the in-memory remote
// collection, with the local mutation that commits it.
type pendingRow struct {
	row  *model.LocalEvent
	op   model.Op
	kind model.OpKind
}

// UploadEvents writes the pending local changes of cal to its remote event
// collection.
//
// Every dirty row is applied to a fresh copy of the remote collection, which
// is then saved as one document. Local rows are committed (uid assigned and
// dirty flag cleared, or tombstone removed) only after the save succeeded.
// If the save fails every dirty row counts as skipped and stays dirty. A row
// whose local commit fails also counts as skipped. Only private calendars
// are uploaded.
func (r *Reconciler) UploadEvents(ctx context.Context, cal model.RemoteCalendar) (Stats, error) {
	var stats Stats
	if err := checkCalendar(cal); err != nil {
		return stats, err
	}
	if cal.Type != model.CalendarPrivate {
		r.log.Debug("calendar is read-only, nothing to upload", "calendar_uid", cal.UID, "type", cal.Type)
		return stats, nil
	}
	if !r.session.IsSignedIn(ctx) {
		return stats, remote.ErrNotSignedIn
	}

	dirty, err := r.store.DirtyEvents(ctx, cal.CalendarID)
	if err != nil {
		return stats, fmt.Errorf("listing dirty events of calendar %s: %w", cal.UID, err)
	}
	if len(dirty) == 0 {
		return stats, nil
	}

	data, err := r.session.FetchDocument(ctx, cal.Data.Src)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return stats, fmt.Errorf("fetching events of calendar %s: %w", cal.UID, err)
	}
	events, err := remote.DecodeEventCollection(data)
	if err != nil {
		return stats, err
	}

	pending := make([]pendingRow, 0, len(dirty))
	for _, row := range dirty {
		pending = append(pending, r.applyRow(events, row))
	}

	encoded, err := remote.EncodeEventCollection(events)
	if err == nil {
		err = r.session.WriteDocument(ctx, cal.Data.Src, encoded, remote.ContentTypeJSON)
	}
	if err != nil {
		stats.SkippedEntries += len(pending)
		return stats, fmt.Errorf("saving events of calendar %s: %w", cal.UID, err)
	}

	for _, p := range pending {
		if err := r.store.ApplyBatch(ctx, []model.Op{p.op}); err != nil {
			r.log.Warn("committing uploaded event failed, will retry",
				"calendar_uid", cal.UID, "local_id", p.row.ID, "error", err)
			stats.SkippedEntries++
			continue
		}
		switch p.kind {
		case model.OpInsert:
			stats.Inserts++
		case model.OpDelete:
			stats.Deletes++
		default:
			stats.Updates++
		}
	}
	stats.Entries += stats.Inserts + stats.Updates + stats.Deletes

	r.log.Info("events uploaded", "calendar_uid", cal.UID, "stats", stats)
	return stats, nil
}

// applyRow applies one dirty row to the in-memory collection and returns the
// local mutation that commits it.
func (r *Reconciler) applyRow(events model.EventCollection, row *model.LocalEvent) pendingRow {
	switch {
	case row.UID == "" && row.Deleted:
		// Created and deleted locally before it was ever uploaded.
		return pendingRow{row: row, kind: model.OpDelete,
			op: model.Op{Kind: model.OpDelete, Entity: model.KindEvent, ID: row.ID}}

	case row.UID == "":
		uid := r.newUID()
		ev := model.NewRemoteEvent(row)
		ev.UID = uid
		events[uid] = ev
		r.log.Debug("uploading new event", "event_uid", uid, "local_id", row.ID)
		return pendingRow{row: row, kind: model.OpInsert,
			op: model.Op{Kind: model.OpMarkSynced, Entity: model.KindEvent, ID: row.ID, UID: uid, Version: row.Version}}

	case row.Deleted:
		delete(events, row.UID)
		r.log.Debug("uploading event deletion", "event_uid", row.UID)
		return pendingRow{row: row, kind: model.OpDelete,
			op: model.Op{Kind: model.OpDelete, Entity: model.KindEvent, ID: row.ID}}

	default:
		if ev := events[row.UID]; ev != nil {
			ev.ApplyLocal(row)
		} else {
			ev := model.NewRemoteEvent(row)
			ev.UID = row.UID
			events[row.UID] = ev
		}
		r.log.Debug("uploading event change", "event_uid", row.UID)
		return pendingRow{row: row, kind: model.OpUpdate,
			op: model.Op{Kind: model.OpMarkSynced, Entity: model.KindEvent, ID: row.ID, Version: row.Version}}
	}
}
