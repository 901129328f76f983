package model

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekdays is an unordered set of days stored as a bit mask (bit N = time.Weekday(N)).
type Weekdays uint8

const allWeekdays Weekdays = 1<<7 - 1

// NewWeekdays builds a set from the given days.
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w = w.With(d)
	}
	return w
}

func (w Weekdays) With(d time.Weekday) Weekdays {
	if d < time.Sunday || d > time.Saturday {
		return w
	}
	return w | 1<<uint(d)
}

func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

func (w Weekdays) IsEmpty() bool {
	return w&allWeekdays == 0
}

// Days returns the selected days ordered Monday first.
func (w Weekdays) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool {
		return (days[i]+6)%7 < (days[j]+6)%7
	})
	return days
}

var weekdayShort = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

func (w Weekdays) String() string {
	if w.IsEmpty() {
		return "once"
	}
	parts := make([]string, 0, 7)
	for _, d := range w.Days() {
		parts = append(parts, weekdayShort[d])
	}
	return strings.Join(parts, ",")
}

// ParseWeekdays accepts a comma separated list like "mon,wed,fri", plus the
// shortcuts "daily", "weekdays" and "weekends". Empty input or "once" is an empty set.
func ParseWeekdays(raw string) (Weekdays, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "", "once":
		return 0, nil
	case "daily", "everyday":
		return allWeekdays, nil
	case "weekdays":
		return NewWeekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday), nil
	case "weekends":
		return NewWeekdays(time.Saturday, time.Sunday), nil
	}

	var w Weekdays
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if len(part) > 3 {
			part = part[:3]
		}
		found := false
		for d, name := range weekdayShort {
			if name == part {
				w = w.With(d)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown weekday %q", part)
		}
	}
	return w, nil
}

// Value implements driver.Valuer.
func (w Weekdays) Value() (driver.Value, error) {
	return int64(w & allWeekdays), nil
}

// Scan implements sql.Scanner.
func (w *Weekdays) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*w = 0
	case int64:
		*w = Weekdays(v) & allWeekdays
	case int:
		*w = Weekdays(v) & allWeekdays
	case []byte:
		var n int64
		if _, err := fmt.Sscan(string(v), &n); err != nil {
			return fmt.Errorf("scan weekdays: %w", err)
		}
		*w = Weekdays(n) & allWeekdays
	default:
		return fmt.Errorf("scan weekdays: unsupported type %T", src)
	}
	return nil
}
