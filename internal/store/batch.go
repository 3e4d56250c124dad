package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/openintents/calendar-sync/internal/model"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplyBatch applies ops in order inside one transaction. Either every op is
// applied or none is. Observers of every touched kind are notified after
// commit.
func (s *Store) ApplyBatch(ctx context.Context, ops []model.Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin batch", err)
	}

	touched := make(map[model.EntityKind]bool)
	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return storeErr(fmt.Sprintf("batch op %d (%s %s)", i, op.Kind, op.Entity), err)
		}
		touched[op.Entity] = true
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit batch", err)
	}

	for _, kind := range []model.EntityKind{model.KindCalendar, model.KindEvent, model.KindReminder, model.KindAttendee} {
		if touched[kind] {
			s.NotifyChanged(kind)
		}
	}
	return nil
}

func applyOp(ctx context.Context, x execer, op model.Op) error {
	switch op.Entity {
	case model.KindCalendar:
		return applyCalendarOp(ctx, x, op)
	case model.KindEvent:
		return applyEventOp(ctx, x, op)
	case model.KindReminder:
		return applyReminderOp(ctx, x, op)
	case model.KindAttendee:
		return applyAttendeeOp(ctx, x, op)
	default:
		return fmt.Errorf("unknown entity %q", op.Entity)
	}
}

func applyCalendarOp(ctx context.Context, x execer, op model.Op) error {
	switch op.Kind {
	case model.OpInsert:
		if op.Calendar == nil {
			return fmt.Errorf("calendar insert without row")
		}
		c := op.Calendar
		_, err := x.ExecContext(ctx, `
			INSERT INTO calendars
			    (uid, account_name, account_type, display_name, color, sync1, sync2, sync3, visible, sync_events)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.UID, c.AccountName, c.AccountType, c.DisplayName, c.Color,
			c.Sync1, c.Sync2, c.Sync3, c.Visible, c.SyncEvents)
		return err

	case model.OpUpdate:
		if op.Patch == nil {
			return fmt.Errorf("calendar update without patch")
		}
		var sets []string
		var args []any
		if op.Patch.DisplayName != nil {
			sets = append(sets, "display_name = ?")
			args = append(args, *op.Patch.DisplayName)
		}
		if op.Patch.Color != nil {
			sets = append(sets, "color = ?")
			args = append(args, *op.Patch.Color)
		}
		if len(sets) == 0 {
			return nil
		}
		args = append(args, op.ID)
		res, err := x.ExecContext(ctx,
			`UPDATE calendars SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		return expectOne(res, err)

	case model.OpDelete:
		res, err := x.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, op.ID)
		return expectOne(res, err)

	default:
		return fmt.Errorf("unsupported calendar op %s", op.Kind)
	}
}

func applyEventOp(ctx context.Context, x execer, op model.Op) error {
	switch op.Kind {
	case model.OpInsert:
		if op.Event == nil {
			return fmt.Errorf("event insert without row")
		}
		_, err := insertEvent(ctx, x, op.Event)
		return err

	case model.OpUpdate:
		if op.Event == nil {
			return fmt.Errorf("event update without row")
		}
		ev := op.Event
		res, err := x.ExecContext(ctx, `
			UPDATE events SET
			    title = ?, description = ?, all_day = ?, dtstart = ?, dtend = ?,
			    event_timezone = ?, event_end_timezone = ?, dirty = ?, version = version + 1
			WHERE id = ?`,
			ev.Title, ev.Description, ev.AllDay, ev.DTStart, ev.DTEnd,
			ev.EventTimezone, ev.EventEndTimezone, ev.Dirty, op.ID)
		return expectOne(res, err)

	case model.OpDelete:
		res, err := x.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, op.ID)
		return expectOne(res, err)

	case model.OpMarkSynced:
		// A row edited since op.Version was read keeps its dirty flag.
		res, err := x.ExecContext(ctx, `
			UPDATE events SET
			    uid = COALESCE(?, uid),
			    dirty = CASE WHEN version = ? THEN 0 ELSE dirty END
			WHERE id = ?`,
			nullable(op.UID), op.Version, op.ID)
		return expectOne(res, err)

	default:
		return fmt.Errorf("unsupported event op %s", op.Kind)
	}
}

func applyReminderOp(ctx context.Context, x execer, op model.Op) error {
	switch op.Kind {
	case model.OpInsert:
		if op.Reminder == nil {
			return fmt.Errorf("reminder insert without row")
		}
		_, err := x.ExecContext(ctx,
			`INSERT INTO reminders (event_id, method, minutes) VALUES (?, ?, ?)`,
			op.ID, op.Reminder.Method, op.Reminder.Minutes)
		return err
	case model.OpDelete:
		_, err := x.ExecContext(ctx, `DELETE FROM reminders WHERE event_id = ?`, op.ID)
		return err
	default:
		return fmt.Errorf("unsupported reminder op %s", op.Kind)
	}
}

func applyAttendeeOp(ctx context.Context, x execer, op model.Op) error {
	switch op.Kind {
	case model.OpInsert:
		if op.Attendee == nil {
			return fmt.Errorf("attendee insert without row")
		}
		a := op.Attendee
		_, err := x.ExecContext(ctx,
			`INSERT INTO attendees (event_id, name, identity, relationship, status) VALUES (?, ?, ?, ?, ?)`,
			op.ID, a.Name, a.Identity, a.Relationship, a.Status)
		return err
	case model.OpDelete:
		_, err := x.ExecContext(ctx, `DELETE FROM attendees WHERE event_id = ?`, op.ID)
		return err
	default:
		return fmt.Errorf("unsupported attendee op %s", op.Kind)
	}
}

func insertEvent(ctx context.Context, x execer, ev *model.LocalEvent) (int64, error) {
	res, err := x.ExecContext(ctx, `
		INSERT INTO events
		    (uid, calendar_id, title, description, all_day, dtstart, dtend,
		     event_timezone, event_end_timezone, dirty, deleted, original_id, original_sync_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(ev.UID), ev.CalendarID, ev.Title, ev.Description, ev.AllDay, ev.DTStart, ev.DTEnd,
		ev.EventTimezone, ev.EventEndTimezone, ev.Dirty, ev.Deleted, ev.OriginalID, ev.OriginalSyncID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
