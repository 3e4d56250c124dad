// Package datetime converts between epoch-millisecond instants and the
// canonical UTC timestamp strings stored in remote event documents
// (e.g. "2019-06-17T14:00:00.000Z").
package datetime

import (
	"fmt"
	"strconv"
	"time"
)

// Layout is the canonical remote timestamp layout. Every field is fixed
// width and the trailing Z is literal.
const Layout = "2006-01-02T15:04:05.000Z"

// FormatError reports a value that is neither a canonical timestamp nor a
// base-10 epoch-millisecond integer.
type FormatError struct {
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid timestamp %q", e.Value)
}

// Encode formats epochMillis as a canonical UTC timestamp.
func Encode(epochMillis int64) string {
	return time.UnixMilli(epochMillis).UTC().Format(Layout)
}

// Decode parses a canonical timestamp into epoch milliseconds. Values that
// do not match the layout are accepted as literal integer milliseconds, so
// documents that already carry numeric instants still load.
func Decode(s string) (int64, error) {
	if t, err := time.ParseInLocation(Layout, s, time.UTC); err == nil {
		return t.UnixMilli(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &FormatError{Value: s}
	}
	return n, nil
}

// FromTime returns the epoch milliseconds of t.
func FromTime(t time.Time) int64 {
	return t.UnixMilli()
}
