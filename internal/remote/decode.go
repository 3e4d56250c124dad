package remote

import (
	"bytes"
	"encoding/json"

	"github.com/openintents/calendar-sync/internal/model"
)

// DecodeCalendarList decodes the calendar list document. An empty or null
// document is an empty list.
func DecodeCalendarList(data []byte) ([]model.CalendarDoc, error) {
	if isBlank(data) {
		return nil, nil
	}
	var docs []model.CalendarDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, &ParseError{Doc: "calendar list", Err: err}
	}
	return docs, nil
}

// EncodeCalendarList encodes the calendar list document.
func EncodeCalendarList(docs []model.CalendarDoc) ([]byte, error) {
	if docs == nil {
		docs = []model.CalendarDoc{}
	}
	return json.Marshal(docs)
}

// DecodeEventCollection decodes a calendar's event collection document. An
// empty or null document is an empty collection. Null entries are dropped.
func DecodeEventCollection(data []byte) (model.EventCollection, error) {
	events := make(model.EventCollection)
	if isBlank(data) {
		return events, nil
	}
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, &ParseError{Doc: "event collection", Err: err}
	}
	for uid, ev := range events {
		if ev == nil {
			delete(events, uid)
		}
	}
	return events, nil
}

// EncodeEventCollection encodes an event collection for upload.
func EncodeEventCollection(events model.EventCollection) ([]byte, error) {
	if events == nil {
		events = model.EventCollection{}
	}
	return json.Marshal(events)
}

func isBlank(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
