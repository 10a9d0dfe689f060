// Package directory looks up the subjects and schedules that attendance is
// recorded against. Users and attendance types are owned by the surrounding
// system; activities can also be managed through Catalog.
package directory

import (
	"context"
	"net/http"
	"time"

	"qrattendance/internal/apperror"
	"qrattendance/internal/schedule"
)

// Roles recognised by the HTTP surface.
const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

// Subject is a person who can check in.
type Subject struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Category string `json:"employment_category" yaml:"employment_category"`
	Role     string `json:"role" yaml:"role"`
}

// Source resolves ids into the definitions the attendance engine reads.
type Source interface {
	Subject(ctx context.Context, id int64) (Subject, error)
	AttendanceType(ctx context.Context, id int64) (schedule.AttendanceType, error)
	Activity(ctx context.Context, id int64) (schedule.Activity, error)
	AttendanceTypes(ctx context.Context) ([]schedule.AttendanceType, error)
	// ActiveActivities returns the activities eligible for attendance at now.
	ActiveActivities(ctx context.Context, now time.Time) ([]schedule.Activity, error)
}

var (
	ErrSubjectNotFound = apperror.New(
		"SUBJECT_NOT_FOUND",
		"User not found",
		http.StatusNotFound,
	)

	ErrScheduleNotFound = apperror.New(
		"SCHEDULE_NOT_FOUND",
		"Attendance type not found",
		http.StatusNotFound,
	)

	ErrActivityNotFound = apperror.New(
		"ACTIVITY_NOT_FOUND",
		"Activity not found",
		http.StatusNotFound,
	)
)

func filterEligible(all []schedule.Activity, now time.Time) []schedule.Activity {
	out := make([]schedule.Activity, 0, len(all))
	for _, a := range all {
		if a.CheckEligible(now) == nil {
			out = append(out, a)
		}
	}
	return out
}
