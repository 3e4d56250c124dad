package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/openintents/calendar-sync/internal/model"
)

const (
	otelScope      = "calsync/sync"
	spanSync       = "sync.invocation"
	metricInserted = "calsync.sync.rows.inserted"
	metricUpdated  = "calsync.sync.rows.updated"
	metricDeleted  = "calsync.sync.rows.deleted"
	metricSkipped  = "calsync.sync.rows.skipped"
	metricErrors   = "calsync.sync.errors"
)

// Request selects what one invocation syncs.
//
// Without a Feed the calendar list is synced, followed by the events of
// every calendar unless MetaFeedOnly is set. With a Feed only that
// calendar's events are synced. Upload picks the direction of event syncs.
type Request struct {
	Feed         string
	Upload       bool
	MetaFeedOnly bool
}

// Engine runs sync invocations for one account. Create one with [NewEngine];
// use [Engine.Sync] for a single invocation and [Engine.Run] for the
// scheduled daemon.
type Engine struct {
	reconciler *Reconciler
	store      LocalStore
	acct       model.Account
	log        *slog.Logger

	// OTel instruments, never nil. No-op when telemetry is disabled.
	tracer      trace.Tracer
	cntInserted metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntSkipped  metric.Int64Counter
	cntErrors   metric.Int64Counter
}

// NewEngine creates an Engine around reconciler.
func NewEngine(reconciler *Reconciler, logger *slog.Logger) *Engine {
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		reconciler: reconciler,
		store:      reconciler.store,
		acct:       reconciler.acct,
		log:        logger,

		tracer:      otel.Tracer(otelScope),
		cntInserted: mustCounter(metricInserted, "Number of rows inserted during sync"),
		cntUpdated:  mustCounter(metricUpdated, "Number of rows updated during sync"),
		cntDeleted:  mustCounter(metricDeleted, "Number of rows deleted during sync"),
		cntSkipped:  mustCounter(metricSkipped, "Number of dirty rows skipped during upload"),
		cntErrors:   mustCounter(metricErrors, "Number of failed units of work"),
	}
}

// Sync runs one invocation. Failures of individual units of work are
// recorded in the returned Stats; they never stop sibling units.
func (e *Engine) Sync(ctx context.Context, req Request) Stats {
	ctx, span := e.tracer.Start(ctx, spanSync, trace.WithAttributes(
		attribute.String("sync.feed", req.Feed),
		attribute.Bool("sync.upload", req.Upload),
		attribute.Bool("sync.meta_only", req.MetaFeedOnly),
	))
	defer span.End()

	var stats Stats
	switch {
	case req.Feed != "":
		stats = e.syncFeed(ctx, req.Feed, req.Upload)
	default:
		stats = e.syncAll(ctx, req.MetaFeedOnly, func(ctx context.Context, cal model.RemoteCalendar) Stats {
			return e.syncEvents(ctx, cal, req.Upload)
		})
	}

	e.record(ctx, span, stats)
	e.log.Info("sync finished", "feed", req.Feed, "upload", req.Upload, "stats", stats)
	return stats
}

// FullSync syncs the calendar list, then uploads and downloads the events of
// every calendar in turn.
func (e *Engine) FullSync(ctx context.Context) Stats {
	ctx, span := e.tracer.Start(ctx, spanSync, trace.WithAttributes(attribute.Bool("sync.full", true)))
	defer span.End()

	stats := e.syncAll(ctx, false, func(ctx context.Context, cal model.RemoteCalendar) Stats {
		s := e.syncEvents(ctx, cal, true)
		s.Add(e.syncEvents(ctx, cal, false))
		return s
	})

	e.record(ctx, span, stats)
	e.log.Info("full sync finished", "stats", stats)
	return stats
}

// syncAll syncs the calendar list and, unless metaOnly, runs perCalendar on
// every local calendar with event sync enabled, one calendar at a time.
func (e *Engine) syncAll(ctx context.Context, metaOnly bool, perCalendar func(context.Context, model.RemoteCalendar) Stats) Stats {
	stats, err := e.reconciler.SyncCalendarList(ctx)
	if err != nil {
		e.log.Error("calendar list sync failed", "error", err)
		stats.Record(err)
		return stats
	}
	if metaOnly {
		return stats
	}

	cals, err := e.store.Calendars(ctx, e.acct)
	if err != nil {
		e.log.Error("listing local calendars failed", "error", err)
		stats.Record(err)
		return stats
	}
	for _, cal := range cals {
		if ctx.Err() != nil {
			stats.Record(ctx.Err())
			break
		}
		if !cal.SyncEvents {
			e.log.Debug("event sync disabled, skipping calendar", "calendar_uid", cal.UID)
			continue
		}
		stats.Add(perCalendar(ctx, ResolveCalendar(cal)))
	}
	return stats
}

func (e *Engine) syncFeed(ctx context.Context, uid string, upload bool) Stats {
	var stats Stats
	cal, err := e.store.CalendarByUID(ctx, e.acct, uid)
	if err == nil && cal == nil {
		err = fmt.Errorf("no local calendar with uid %q", uid)
	}
	if err != nil {
		e.log.Error("resolving calendar failed", "calendar_uid", uid, "error", err)
		stats.Record(err)
		return stats
	}
	return e.syncEvents(ctx, ResolveCalendar(cal), upload)
}

// syncEvents runs one event unit of work and folds its error into the stats.
func (e *Engine) syncEvents(ctx context.Context, cal model.RemoteCalendar, upload bool) Stats {
	var (
		stats Stats
		err   error
	)
	if upload {
		stats, err = e.reconciler.UploadEvents(ctx, cal)
	} else {
		stats, err = e.reconciler.DownloadEvents(ctx, cal)
	}
	if err != nil {
		e.log.Error("event sync failed", "calendar_uid", cal.UID, "upload", upload, "error", err)
		stats.Record(err)
	}
	return stats
}

// record exports stats as span attributes and counters.
func (e *Engine) record(ctx context.Context, span trace.Span, stats Stats) {
	if stats.Inserts > 0 {
		e.cntInserted.Add(ctx, int64(stats.Inserts))
	}
	if stats.Updates > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updates))
	}
	if stats.Deletes > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deletes))
	}
	if stats.SkippedEntries > 0 {
		e.cntSkipped.Add(ctx, int64(stats.SkippedEntries))
	}
	errCount := stats.ParseExceptions + stats.IOExceptions
	if stats.DatabaseError {
		errCount++
	}
	if errCount > 0 {
		e.cntErrors.Add(ctx, int64(errCount))
	}

	span.SetAttributes(
		attribute.Int("sync.entries", stats.Entries),
		attribute.Int("sync.inserts", stats.Inserts),
		attribute.Int("sync.updates", stats.Updates),
		attribute.Int("sync.deletes", stats.Deletes),
		attribute.Int("sync.skipped", stats.SkippedEntries),
		attribute.Int("sync.parse_errors", stats.ParseExceptions),
		attribute.Int("sync.io_errors", stats.IOExceptions),
		attribute.Bool("sync.database_error", stats.DatabaseError),
	)
}

// Run performs a full sync immediately and then on every tick of the cron
// schedule until ctx is cancelled. A tick that arrives while a sync is still
// running is skipped, so invocations never overlap.
func (e *Engine) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{e.log})))
	if _, err := c.AddFunc(schedule, func() { e.FullSync(ctx) }); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}

	e.log.Info("sync daemon started", "schedule", schedule)
	e.FullSync(ctx)

	c.Start()
	<-ctx.Done()

	e.log.Info("sync daemon shutting down")
	<-c.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
