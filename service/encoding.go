package service

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for all warranty dates.
const DateLayout = "2006-01-02"

// EncodeDate converts a YYYY-MM-DD date string to a unix timestamp at
// UTC midnight. Day-precision dates round-trip exactly through
// DecodeDate.
func EncodeDate(s string) (int64, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t.Unix(), nil
}

// DecodeDate converts a unix timestamp back to a YYYY-MM-DD string.
func DecodeDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(DateLayout)
}

// Today returns the current date in wire format.
func Today() string {
	return time.Now().UTC().Format(DateLayout)
}
