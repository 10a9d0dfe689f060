// Package attendance records check-ins and check-outs against shifts and
// activities.
package attendance

import (
	"context"
	"time"

	"qrattendance/internal/schedule"
	"qrattendance/internal/token"
)

// Record is one subject's attendance for one schedule on one day. Daily and
// activity records are stored apart and never collide.
type Record struct {
	ID         string        `json:"id"`
	Kind       token.Kind    `json:"kind"`
	SubjectID  int64         `json:"user_id"`
	ScheduleID int64         `json:"schedule_id"`
	Day        schedule.Date `json:"attendance_date"`
	CheckIn    time.Time     `json:"check_in"`
	CheckOut   *time.Time    `json:"check_out"`
	IsLate     bool          `json:"is_late"`
	IsEarly    bool          `json:"is_early"`
	Latitude   *float64      `json:"latitude,omitempty"`
	Longitude  *float64      `json:"longitude,omitempty"`
	Notes      *string       `json:"notes,omitempty"`
}

// Open reports whether the record has not been checked out.
func (r Record) Open() bool { return r.CheckOut == nil }

// Details are optional, opaque annotations supplied by the scanning client.
type Details struct {
	Latitude  *float64
	Longitude *float64
	Notes     *string
}

// applyTo overwrites only the fields that were provided.
func (d Details) applyTo(r *Record) {
	if d.Latitude != nil {
		r.Latitude = d.Latitude
	}
	if d.Longitude != nil {
		r.Longitude = d.Longitude
	}
	if d.Notes != nil {
		r.Notes = d.Notes
	}
}

// HistoryQuery bounds a history listing. Zero dates are unbounded.
type HistoryQuery struct {
	Kind      token.Kind
	SubjectID int64
	From      schedule.Date
	To        schedule.Date
	Limit     int
	Offset    int
}

// Repository is the persistence contract. Insert must enforce uniqueness of
// (kind, subject, schedule, day) and report a violation as ErrAlreadyCheckedIn.
type Repository interface {
	FindForDay(ctx context.Context, kind token.Kind, subjectID, scheduleID int64, day schedule.Date) (*Record, error)
	Insert(ctx context.Context, rec Record) error
	// GetForUpdate returns ErrRecordNotFound when id is unknown.
	GetForUpdate(ctx context.Context, kind token.Kind, id string) (Record, error)
	// Close persists check-out fields, only if the record is still open.
	// It returns ErrAlreadyCheckedOut otherwise.
	Close(ctx context.Context, rec Record) error
	OpenForDay(ctx context.Context, kind token.Kind, subjectID int64, day schedule.Date) ([]Record, error)
	List(ctx context.Context, q HistoryQuery) ([]Record, error)
}

// Store is a Repository that can run a unit of work atomically.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(Repository) error) error
}

// Observer is told about committed changes. Failures are the observer's own
// concern.
type Observer interface {
	CheckedIn(ctx context.Context, rec Record)
	CheckedOut(ctx context.Context, rec Record)
}
