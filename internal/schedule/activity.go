package schedule

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

// Eligibility failures.
var (
	ErrInactive       = errors.New("activity is not active")
	ErrNotYetValid    = errors.New("activity has not started")
	ErrNoLongerValid  = errors.New("activity has ended")
	ErrNotScheduledOn = errors.New("activity does not run today")
)

// Date is a calendar date without a zone. The zero value means unset.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns t's calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{y, m, d}
}

// ParseDate reads "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
}

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	p, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// Scan reads a nullable DATE column.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Activity is a one-off or recurring event with its own attendance window.
type Activity struct {
	ID            int64  `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description,omitempty" yaml:"description"`
	Window        `yaml:",inline"`
	IsRecurring   bool           `json:"is_recurring" yaml:"is_recurring"`
	RecurringDays []time.Weekday `json:"recurring_days,omitempty" yaml:"recurring_days"`
	ValidFrom     Date           `json:"valid_from,omitempty" yaml:"valid_from"`
	ValidTo       Date           `json:"valid_to,omitempty" yaml:"valid_to"`
	IsActive      bool           `json:"is_active" yaml:"is_active"`
	CreatedBy     int64          `json:"created_by" yaml:"created_by"`
}

// CheckEligible reports why attendance cannot be recorded at now, or nil.
// Validity bounds apply whenever set; the weekday rule applies to recurring
// activities that list days.
func (a Activity) CheckEligible(now time.Time) error {
	if !a.IsActive {
		return ErrInactive
	}
	today := DateOf(now)
	if !a.ValidFrom.IsZero() && today.Before(a.ValidFrom) {
		return ErrNotYetValid
	}
	if !a.ValidTo.IsZero() && a.ValidTo.Before(today) {
		return ErrNoLongerValid
	}
	if a.IsRecurring && len(a.RecurringDays) > 0 {
		wd := now.Weekday()
		for _, d := range a.RecurringDays {
			if d == wd {
				return nil
			}
		}
		return ErrNotScheduledOn
	}
	return nil
}

// Validate checks an activity definition before it is stored.
func (a Activity) Validate() error {
	if a.Name == "" {
		return errors.New("name is required")
	}
	if a.End <= a.Start {
		return errors.New("end_time must be after start_time")
	}
	if a.IsRecurring {
		if len(a.RecurringDays) == 0 {
			return errors.New("recurring_days is required for a recurring activity")
		}
		for _, d := range a.RecurringDays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("recurring_days: %d is not a weekday (0-6)", d)
			}
		}
	} else if a.ValidFrom.IsZero() || a.ValidTo.IsZero() {
		return errors.New("valid_from and valid_to are required for a one-off activity")
	}
	if !a.ValidFrom.IsZero() && !a.ValidTo.IsZero() && a.ValidTo.Before(a.ValidFrom) {
		return errors.New("valid_to must not be before valid_from")
	}
	return nil
}
