package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-ical"

	"github.com/openintents/calendar-sync/internal/datetime"
	"github.com/openintents/calendar-sync/internal/model"
)

// FeedFetcher downloads subscribed iCalendar feeds.
type FeedFetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFeedFetcher returns a fetcher whose requests time out after timeout.
func NewFeedFetcher(timeout time.Duration, logger *slog.Logger) *FeedFetcher {
	return &FeedFetcher{client: &http.Client{Timeout: timeout}, logger: logger}
}

// Fetch downloads the feed at url and converts its events.
func (f *FeedFetcher) Fetch(ctx context.Context, url string) (model.EventCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{Op: "feed", Path: url, Err: err}
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "feed", Path: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &NetworkError{Op: "feed", Path: url, StatusCode: resp.StatusCode, Err: errors.New("unexpected status")}
	}

	events, err := DecodeICSFeed(resp.Body)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("fetched feed", "url", url, "events", len(events))
	return events, nil
}

// DecodeICSFeed converts the VEVENTs of an iCalendar stream into an event
// collection keyed by UID. Events without a UID or start are dropped.
func DecodeICSFeed(r io.Reader) (model.EventCollection, error) {
	events := make(model.EventCollection)
	dec := ical.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, &ParseError{Doc: "ics feed", Err: err}
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			uid, ev, err := feedEvent(comp)
			if err != nil {
				return nil, &ParseError{Doc: "ics feed", Err: err}
			}
			if uid != "" {
				events[uid] = ev
			}
		}
	}
}

func feedEvent(comp *ical.Component) (string, *model.RemoteEvent, error) {
	uidProp := comp.Props.Get(ical.PropUID)
	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if uidProp == nil || uidProp.Value == "" || startProp == nil {
		return "", nil, nil
	}

	ev := &model.RemoteEvent{UID: uidProp.Value}
	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		ev.Title = prop.Value
	}
	if prop := comp.Props.Get(ical.PropDescription); prop != nil {
		ev.Notes = prop.Value
	}

	start, err := startProp.DateTime(time.UTC)
	if err != nil {
		return "", nil, fmt.Errorf("event %q: DTSTART: %w", ev.UID, err)
	}
	ev.AllDay = startProp.Params.Get(ical.ParamValue) == string(ical.ValueDate)

	end := start
	if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
		if end, err = prop.DateTime(time.UTC); err != nil {
			return "", nil, fmt.Errorf("event %q: DTEND: %w", ev.UID, err)
		}
	} else if ev.AllDay {
		end = start.AddDate(0, 0, 1)
	}

	ev.Start = datetime.Encode(datetime.FromTime(start))
	ev.End = datetime.Encode(datetime.FromTime(end))
	return ev.UID, ev, nil
}
