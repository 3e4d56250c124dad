package model

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultHexColor is used for calendars without a valid colour.
const DefaultHexColor = "#000000"

// ParseHexColor parses "#RRGGBB" or "#AARRGGBB" into a 24-bit RGB value.
// The alpha channel is discarded.
func ParseHexColor(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return 0, false
	}
	s = s[1:]
	if len(s) != 6 && len(s) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(v & 0xFFFFFF), true
}

// ColorOrDefault parses s, falling back to black.
func ColorOrDefault(s string) int {
	if c, ok := ParseHexColor(s); ok {
		return c
	}
	return 0
}

// HexColor formats a 24-bit RGB value as "#RRGGBB".
func HexColor(rgb int) string {
	return fmt.Sprintf("#%06X", rgb&0xFFFFFF)
}
