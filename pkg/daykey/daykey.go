// Package daykey provides a timezone-fixed calendar-day identifier.
//
// Every date in the system is represented as a Key ("YYYY-MM-DD") derived
// from an instant in the business's local timezone, never as a timestamp.
// All calendar arithmetic happens on keys so daylight-saving transitions
// cannot shift a date across midnight.
package daykey

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Layout is the canonical key encoding.
const Layout = "2006-01-02"

// Key identifies a single calendar day, independent of time-of-day or DST.
// The zero value is the empty string and compares before every valid key.
type Key string

// FromTime converts an instant to the key of the calendar day it falls on
// in the given location.
func FromTime(t time.Time, loc *time.Location) Key {
	if loc == nil {
		loc = time.UTC
	}
	return Key(t.In(loc).Format(Layout))
}

// Today returns the current day key in the given location.
func Today(loc *time.Location) Key {
	return FromTime(time.Now(), loc)
}

// Parse validates and normalises an externally supplied key.
func Parse(s string) (Key, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day key %q: %w", s, err)
	}
	return Key(t.Format(Layout)), nil
}

// MustParse is Parse for test fixtures and constants known to be valid.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// time returns the key's UTC midnight. Arithmetic is done on UTC midnights:
// the key already pins the calendar day, so no zone offsets can drift it.
func (k Key) time() (time.Time, bool) {
	t, err := time.Parse(Layout, string(k))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k == ""
}

// AddDays returns the key n calendar days away (n may be negative).
// The zero key is returned unchanged.
func (k Key) AddDays(n int) Key {
	t, ok := k.time()
	if !ok {
		return k
	}
	return Key(t.AddDate(0, 0, n).Format(Layout))
}

// Next returns the following day.
func (k Key) Next() Key {
	return k.AddDays(1)
}

// Compare returns -1, 0 or 1. ISO keys order lexicographically, so this is
// a plain string comparison and total even for malformed keys.
func (k Key) Compare(other Key) int {
	switch {
	case k < other:
		return -1
	case k > other:
		return 1
	default:
		return 0
	}
}

// Before reports whether k falls strictly before other.
func (k Key) Before(other Key) bool { return k < other }

// After reports whether k falls strictly after other.
func (k Key) After(other Key) bool { return k > other }

// Weekday returns the day of week with Monday=0 .. Sunday=6, or -1 for a
// malformed key.
func (k Key) Weekday() int {
	t, ok := k.time()
	if !ok {
		return -1
	}
	return (int(t.Weekday()) + 6) % 7
}

// DaysUntil returns the number of calendar days from k to other
// (negative when other precedes k).
func (k Key) DaysUntil(other Key) int {
	a, okA := k.time()
	b, okB := other.time()
	if !okA || !okB {
		return 0
	}
	return int(b.Sub(a) / (24 * time.Hour))
}

// Midnight returns the instant the day begins in the given location.
func (k Key) Midnight(loc *time.Location) time.Time {
	t, ok := k.time()
	if !ok {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (k Key) String() string { return string(k) }

// Max returns the later of the given keys, ignoring zero keys.
func Max(keys ...Key) Key {
	var out Key
	for _, k := range keys {
		if k.IsZero() {
			continue
		}
		if out.IsZero() || k.After(out) {
			out = k
		}
	}
	return out
}

// Min returns the earlier of the given keys, ignoring zero keys.
func Min(keys ...Key) Key {
	var out Key
	for _, k := range keys {
		if k.IsZero() {
			continue
		}
		if out.IsZero() || k.Before(out) {
			out = k
		}
	}
	return out
}

// Scan implements sql.Scanner so DATE columns load directly into keys.
func (k *Key) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*k = ""
		return nil
	case time.Time:
		*k = Key(v.Format(Layout))
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into daykey.Key", src)
	}
}

// Value implements driver.Valuer.
func (k Key) Value() (driver.Value, error) {
	if k.IsZero() {
		return nil, nil
	}
	if _, ok := k.time(); !ok {
		return nil, fmt.Errorf("invalid day key %q", string(k))
	}
	return string(k), nil
}
