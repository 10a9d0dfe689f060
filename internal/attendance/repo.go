package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"qrattendance/internal/schedule"
	"qrattendance/internal/token"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// table maps a record kind onto its table and schedule column.
type table struct {
	name        string
	scheduleCol string
}

var tables = map[token.Kind]table{
	token.KindDaily:    {name: "attendances", scheduleCol: "attendance_type_id"},
	token.KindActivity: {name: "activity_attendance", scheduleCol: "activity_id"},
}

func tableFor(kind token.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("unknown record kind %q", kind)
	}
	return t, nil
}

func (t table) columns() string {
	return "id, user_id, " + t.scheduleCol + ", attendance_date, check_in, check_out, is_late, is_early, latitude, longitude, notes"
}

// PostgresStore persists attendance records in Postgres.
type PostgresStore struct {
	db *sql.DB
	q  DBTX
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// InTx runs fn inside a transaction, committing only when fn succeeds.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindForDay returns the record for (subject, schedule, day), or nil.
func (s *PostgresStore) FindForDay(ctx context.Context, kind token.Kind, subjectID, scheduleID int64, day schedule.Date) (*Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	row := s.q.QueryRowContext(ctx, `
		SELECT `+t.columns()+`
		FROM `+t.name+`
		WHERE user_id = $1 AND `+t.scheduleCol+` = $2 AND attendance_date = $3
		LIMIT 1
	`, subjectID, scheduleID, day)
	rec, err := scanRecord(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new record. The unique index on (subject, schedule, day)
// turns a lost race into ErrAlreadyCheckedIn.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	t, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO `+t.name+` (`+t.columns()+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, rec.SubjectID, rec.ScheduleID, rec.Day, rec.CheckIn, rec.CheckOut,
		rec.IsLate, rec.IsEarly, rec.Latitude, rec.Longitude, rec.Notes)
	if isUniqueViolation(err) {
		return ErrAlreadyCheckedIn
	}
	return err
}

// GetForUpdate loads a record and locks it for the rest of the transaction.
func (s *PostgresStore) GetForUpdate(ctx context.Context, kind token.Kind, id string) (Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return Record{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrRecordNotFound
	}
	row := s.q.QueryRowContext(ctx, `
		SELECT `+t.columns()+`
		FROM `+t.name+`
		WHERE id = $1
		FOR UPDATE
	`, id)
	rec, err := scanRecord(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// Close sets the check-out fields on a still-open record.
func (s *PostgresStore) Close(ctx context.Context, rec Record) error {
	t, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE `+t.name+`
		SET check_out = $2, is_early = $3, latitude = $4, longitude = $5, notes = $6, updated_at = NOW()
		WHERE id = $1 AND check_out IS NULL
	`, rec.ID, rec.CheckOut, rec.IsEarly, rec.Latitude, rec.Longitude, rec.Notes)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyCheckedOut
	}
	return nil
}

// OpenForDay lists a subject's records for day that have no check-out.
func (s *PostgresStore) OpenForDay(ctx context.Context, kind token.Kind, subjectID int64, day schedule.Date) ([]Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+t.columns()+`
		FROM `+t.name+`
		WHERE user_id = $1 AND attendance_date = $2 AND check_out IS NULL
		ORDER BY check_in
	`, subjectID, day)
	if err != nil {
		return nil, err
	}
	return collect(rows, kind)
}

// List returns a subject's records newest first with optional date bounds.
func (s *PostgresStore) List(ctx context.Context, q HistoryQuery) ([]Record, error) {
	t, err := tableFor(q.Kind)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	args := []any{q.SubjectID}
	clauses := []string{"user_id = $1"}
	if !q.From.IsZero() {
		args = append(args, q.From)
		clauses = append(clauses, "attendance_date >= $"+strconv.Itoa(len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		clauses = append(clauses, "attendance_date <= $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + t.columns() + ` FROM ` + t.name +
		` WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY attendance_date DESC, check_in DESC` +
		` LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, q.Kind)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, kind token.Kind) (Record, error) {
	rec := Record{Kind: kind}
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.ScheduleID, &rec.Day, &rec.CheckIn, &rec.CheckOut,
		&rec.IsLate, &rec.IsEarly, &rec.Latitude, &rec.Longitude, &rec.Notes)
	return rec, err
}

func collect(rows *sql.Rows, kind token.Kind) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows, kind)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
