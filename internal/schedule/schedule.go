// Package schedule holds the read-only shift and activity definitions and the
// time-of-day rules evaluated against them.
package schedule

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date or zone, stored as seconds
// since midnight.
type TimeOfDay int

// ParseTimeOfDay accepts "15:04:05" or "15:04".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// MustTimeOfDay is ParseTimeOfDay for constants.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// On anchors t to the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	s := int(t)
	return time.Date(y, m, d, s/3600, s/60%60, s%60, 0, ref.Location())
}

// Scan reads TIME columns, which the pgx stdlib driver returns as text.
func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case string:
		p, err := ParseTimeOfDay(v)
		*t = p
		return err
	case []byte:
		p, err := ParseTimeOfDay(string(v))
		*t = p
		return err
	case time.Time:
		*t = TimeOfDay(v.Hour()*3600 + v.Minute()*60 + v.Second())
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

func (t TimeOfDay) Value() (driver.Value, error) { return t.String(), nil }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	p, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// IsLate reports whether at falls strictly after start on at's own day.
func IsLate(at time.Time, start TimeOfDay) bool {
	return at.After(start.On(at))
}

// IsEarly reports whether at falls strictly before end on at's own day.
func IsEarly(at time.Time, end TimeOfDay) bool {
	return at.Before(end.On(at))
}

// Window is a same-day start/end pair.
type Window struct {
	Start TimeOfDay `json:"start_time" yaml:"start_time"`
	End   TimeOfDay `json:"end_time" yaml:"end_time"`
}

// AttendanceType is a named daily shift.
type AttendanceType struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Window      `yaml:",inline"`
}
