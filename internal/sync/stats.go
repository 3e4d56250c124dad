package sync

import (
	"errors"
	"log/slog"

	"github.com/openintents/calendar-sync/internal/datetime"
	"github.com/openintents/calendar-sync/internal/remote"
)

// Stats accumulates the outcome of one sync invocation. Counters add up
// across every unit of work the invocation ran.
type Stats struct {
	Entries         int
	Inserts         int
	Updates         int
	Deletes         int
	SkippedEntries  int
	ParseExceptions int
	IOExceptions    int
	DatabaseError   bool
}

// Add folds o into s.
func (s *Stats) Add(o Stats) {
	s.Entries += o.Entries
	s.Inserts += o.Inserts
	s.Updates += o.Updates
	s.Deletes += o.Deletes
	s.SkippedEntries += o.SkippedEntries
	s.ParseExceptions += o.ParseExceptions
	s.IOExceptions += o.IOExceptions
	s.DatabaseError = s.DatabaseError || o.DatabaseError
}

// Record classifies err into the error counters. Malformed documents and
// timestamps count as parse exceptions, failed remote exchanges as I/O
// exceptions. Anything else, including a missing sign-in and local database
// failures, sets the database error flag.
func (s *Stats) Record(err error) {
	if err == nil {
		return
	}
	var (
		parseErr  *remote.ParseError
		formatErr *datetime.FormatError
		netErr    *remote.NetworkError
	)
	switch {
	case errors.Is(err, remote.ErrNotSignedIn):
		s.DatabaseError = true
	case errors.As(err, &parseErr), errors.As(err, &formatErr):
		s.ParseExceptions++
	case errors.As(err, &netErr):
		s.IOExceptions++
	default:
		s.DatabaseError = true
	}
}

// HasErrors reports whether any unit of work failed.
func (s Stats) HasErrors() bool {
	return s.DatabaseError || s.ParseExceptions > 0 || s.IOExceptions > 0
}

// LogValue implements slog.LogValuer.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("entries", s.Entries),
		slog.Int("inserts", s.Inserts),
		slog.Int("updates", s.Updates),
		slog.Int("deletes", s.Deletes),
		slog.Int("skipped", s.SkippedEntries),
		slog.Int("parse_errors", s.ParseExceptions),
		slog.Int("io_errors", s.IOExceptions),
		slog.Bool("database_error", s.DatabaseError),
	)
}
