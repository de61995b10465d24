package db

import (
	"database/sql"
	"time"
)

// timeLayout is fixed width: fractional seconds are never trimmed, so stored
// UTC timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// NullableTime encodes an optional timestamp for a query argument.
func NullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ScanTime decodes an optional timestamp column.
func ScanTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NullableString encodes an optional string for a query argument.
func NullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func ScanString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
