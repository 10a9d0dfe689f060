package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"qrattendance/internal/schedule"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres reads the directory tables.
type Postgres struct {
	db Querier
}

// NewPostgres creates a Postgres-backed source.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

const activityColumns = `id, name, description, start_time, end_time, is_recurring, recurring_days, valid_from, valid_to, is_active, created_by`

// Subject returns a user by id.
func (p *Postgres) Subject(ctx context.Context, id int64) (Subject, error) {
	var s Subject
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, employment_category, role
		FROM users WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Category, &s.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, ErrSubjectNotFound
	}
	if err != nil {
		return Subject{}, fmt.Errorf("get subject %d: %w", id, err)
	}
	return s, nil
}

// AttendanceType returns a shift by id.
func (p *Postgres) AttendanceType(ctx context.Context, id int64) (schedule.AttendanceType, error) {
	var t schedule.AttendanceType
	var desc sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, description, start_time, end_time
		FROM attendance_types WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &desc, &t.Start, &t.End)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.AttendanceType{}, ErrScheduleNotFound
	}
	if err != nil {
		return schedule.AttendanceType{}, fmt.Errorf("get attendance type %d: %w", id, err)
	}
	t.Description = desc.String
	return t, nil
}

// AttendanceTypes lists every shift ordered by start time.
func (p *Postgres) AttendanceTypes(ctx context.Context) ([]schedule.AttendanceType, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, start_time, end_time
		FROM attendance_types
		ORDER BY start_time, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list attendance types: %w", err)
	}
	defer rows.Close()

	var types []schedule.AttendanceType
	for rows.Next() {
		var t schedule.AttendanceType
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &desc, &t.Start, &t.End); err != nil {
			return nil, err
		}
		t.Description = desc.String
		types = append(types, t)
	}
	return types, rows.Err()
}

// Activity returns an activity by id.
func (p *Postgres) Activity(ctx context.Context, id int64) (schedule.Activity, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1`, id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Activity{}, ErrActivityNotFound
	}
	if err != nil {
		return schedule.Activity{}, fmt.Errorf("get activity %d: %w", id, err)
	}
	return a, nil
}

// ActiveActivities loads flagged-active activities and keeps those eligible at now.
func (p *Postgres) ActiveActivities(ctx context.Context, now time.Time) ([]schedule.Activity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE is_active = TRUE
		ORDER BY start_time, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var all []schedule.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return filterEligible(all, now), nil
}

// ListActivities pages through all activities, newest first.
func (p *Postgres) ListActivities(ctx context.Context, limit, offset int) ([]schedule.Activity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []schedule.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateActivity inserts a and returns it with its new id.
func (p *Postgres) CreateActivity(ctx context.Context, a schedule.Activity) (schedule.Activity, error) {
	days, err := recurringDays(a.RecurringDays)
	if err != nil {
		return schedule.Activity{}, err
	}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO activities (name, description, start_time, end_time, is_recurring, recurring_days, valid_from, valid_to, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, a.Name, nullString(a.Description), a.Start, a.End, a.IsRecurring, days,
		a.ValidFrom, a.ValidTo, a.IsActive, a.CreatedBy).Scan(&a.ID)
	if err != nil {
		return schedule.Activity{}, fmt.Errorf("create activity: %w", err)
	}
	return a, nil
}

// UpdateActivity overwrites every editable column of activity a.ID.
func (p *Postgres) UpdateActivity(ctx context.Context, a schedule.Activity) (schedule.Activity, error) {
	days, err := recurringDays(a.RecurringDays)
	if err != nil {
		return schedule.Activity{}, err
	}
	err = p.db.QueryRowContext(ctx, `
		UPDATE activities
		SET name = $2, description = $3, start_time = $4, end_time = $5, is_recurring = $6,
		    recurring_days = $7, valid_from = $8, valid_to = $9, is_active = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING created_by
	`, a.ID, a.Name, nullString(a.Description), a.Start, a.End, a.IsRecurring, days,
		a.ValidFrom, a.ValidTo, a.IsActive).Scan(&a.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Activity{}, ErrActivityNotFound
	}
	if err != nil {
		return schedule.Activity{}, fmt.Errorf("update activity %d: %w", a.ID, err)
	}
	return a, nil
}

// DeleteActivity removes an activity that has no attendance recorded against it.
func (p *Postgres) DeleteActivity(ctx context.Context, id int64) error {
	var deleted int64
	err := p.db.QueryRowContext(ctx, `DELETE FROM activities WHERE id = $1 RETURNING id`, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrActivityNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrActivityInUse
	}
	if err != nil {
		return fmt.Errorf("delete activity %d: %w", id, err)
	}
	return nil
}

func recurringDays(days []time.Weekday) (any, error) {
	if len(days) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (schedule.Activity, error) {
	var (
		a    schedule.Activity
		desc sql.NullString
		days []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &desc, &a.Start, &a.End, &a.IsRecurring, &days,
		&a.ValidFrom, &a.ValidTo, &a.IsActive, &a.CreatedBy); err != nil {
		return schedule.Activity{}, err
	}
	a.Description = desc.String
	if len(days) > 0 {
		if err := json.Unmarshal(days, &a.RecurringDays); err != nil {
			return schedule.Activity{}, fmt.Errorf("activity %d recurring_days: %w", a.ID, err)
		}
	}
	return a, nil
}
