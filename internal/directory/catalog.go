package directory

import (
	"context"
	"net/http"

	"qrattendance/internal/apperror"
	"qrattendance/internal/schedule"
)

// Catalog manages activity definitions. Attendance types and users are
// maintained outside this service.
type Catalog interface {
	// ListActivities returns every activity, inactive ones included, newest first.
	ListActivities(ctx context.Context, limit, offset int) ([]schedule.Activity, error)
	CreateActivity(ctx context.Context, a schedule.Activity) (schedule.Activity, error)
	// UpdateActivity replaces a definition; CreatedBy is kept.
	UpdateActivity(ctx context.Context, a schedule.Activity) (schedule.Activity, error)
	DeleteActivity(ctx context.Context, id int64) error
}

var ErrActivityInUse = apperror.New(
	"ACTIVITY_IN_USE",
	"Activity has attendance records; deactivate it instead",
	http.StatusConflict,
)
