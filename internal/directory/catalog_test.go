package directory_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/directory"
	"qrattendance/internal/schedule"
)

func standup() schedule.Activity {
	return schedule.Activity{
		Name:          "Standup",
		Window:        schedule.Window{Start: schedule.MustTimeOfDay("08:30"), End: schedule.MustTimeOfDay("09:00")},
		IsRecurring:   true,
		RecurringDays: []time.Weekday{time.Monday},
		IsActive:      true,
		CreatedBy:     1,
	}
}

func TestPostgres_CreateActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO activities").
		WithArgs("Standup", nil, "08:30:00", "09:00:00", true, "[1]", nil, nil, true, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(15))

	a, err := directory.NewPostgres(db).CreateActivity(context.Background(), standup())
	require.NoError(t, err)
	assert.Equal(t, int64(15), a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	src := directory.NewPostgres(db)

	a := standup()
	a.ID = 15
	a.CreatedBy = 0
	a.IsRecurring, a.RecurringDays = false, nil
	a.ValidFrom = schedule.Date{Year: 2026, Month: time.March, Day: 1}
	a.ValidTo = schedule.Date{Year: 2026, Month: time.March, Day: 5}

	mock.ExpectQuery("UPDATE activities SET").
		WithArgs(int64(15), "Standup", nil, "08:30:00", "09:00:00", false, nil, "2026-03-01", "2026-03-05", true).
		WillReturnRows(sqlmock.NewRows([]string{"created_by"}).AddRow(7))

	got, err := src.UpdateActivity(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.CreatedBy, "creator comes from the stored row")

	mock.ExpectQuery("UPDATE activities SET").WillReturnError(sql.ErrNoRows)
	_, err = src.UpdateActivity(context.Background(), a)
	assert.ErrorIs(t, err, directory.ErrActivityNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	src := directory.NewPostgres(db)
	ctx := context.Background()

	mock.ExpectQuery("DELETE FROM activities").WithArgs(int64(15)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(15))
	require.NoError(t, src.DeleteActivity(ctx, 15))

	mock.ExpectQuery("DELETE FROM activities").WithArgs(int64(16)).WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, src.DeleteActivity(ctx, 16), directory.ErrActivityNotFound)

	mock.ExpectQuery("DELETE FROM activities").WithArgs(int64(17)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "activity_attendance_activity_id_fkey"})
	assert.ErrorIs(t, src.DeleteActivity(ctx, 17), directory.ErrActivityInUse)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListActivities(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM activities ORDER BY created_at DESC").
		WithArgs(10, 20).
		WillReturnRows(sqlmock.NewRows(activityCols).
			AddRow(12, "Closed", "", "08:00:00", "09:00:00", false, nil, "2026-01-01", "2026-01-02", false, 1))

	got, err := directory.NewPostgres(db).ListActivities(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatic_Catalog(t *testing.T) {
	ctx := context.Background()
	src := directory.NewStatic(directory.Seed{Activities: []schedule.Activity{{ID: 10, Name: "Seeded", CreatedBy: 3}}})

	created, err := src.CreateActivity(ctx, standup())
	require.NoError(t, err)
	assert.Equal(t, int64(11), created.ID, "ids continue after the seed")

	list, err := src.ListActivities(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, created.ID, list[0].ID, "newest first")

	page, err := src.ListActivities(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(10), page[0].ID)

	edit := created
	edit.Name = "Daily standup"
	edit.CreatedBy = 99
	updated, err := src.UpdateActivity(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.CreatedBy)

	got, err := src.Activity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Daily standup", got.Name)

	require.NoError(t, src.DeleteActivity(ctx, created.ID))
	_, err = src.Activity(ctx, created.ID)
	assert.ErrorIs(t, err, directory.ErrActivityNotFound)
	assert.ErrorIs(t, src.DeleteActivity(ctx, created.ID), directory.ErrActivityNotFound)

	_, err = src.UpdateActivity(ctx, schedule.Activity{ID: 404})
	assert.ErrorIs(t, err, directory.ErrActivityNotFound)
}

func TestCached_ActiveActivitiesFollowGeneration(t *testing.T) {
	ctx := context.Background()
	static := directory.NewStatic(directory.Seed{Activities: []schedule.Activity{
		{ID: 10, Name: "Standup", IsActive: true, CreatedBy: 1},
	}})
	want, err := static.ActiveActivities(ctx, monday)
	require.NoError(t, err)
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	rdb, mock := redismock.NewClientMock()
	c := directory.NewCached(static, rdb, 0, time.Minute, nil)

	mock.ExpectGet("directory:activities:gen").SetVal("3")
	mock.ExpectGet("directory:activities:active:3:2026-03-02").RedisNil()
	mock.ExpectSet("directory:activities:active:3:2026-03-02", string(payload), time.Minute).SetVal("OK")

	got, err := c.ActiveActivities(ctx, monday)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCached_WritesInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	c := directory.NewCached(directory.NewStatic(directory.Seed{}), rdb, 0, 0, nil)

	mock.ExpectDel("directory:activity:1").SetVal(0)
	mock.ExpectIncr("directory:activities:gen").SetVal(1)
	created, err := c.CreateActivity(ctx, standup())
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)

	mock.ExpectDel("directory:activity:1").SetVal(1)
	mock.ExpectIncr("directory:activities:gen").SetVal(2)
	created.Name = "Renamed"
	_, err = c.UpdateActivity(ctx, created)
	require.NoError(t, err)

	// A failed invalidation does not undo the committed delete.
	mock.ExpectDel("directory:activity:1").SetErr(assert.AnError)
	require.NoError(t, c.DeleteActivity(ctx, 1))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCached_ReadOnlySource(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	c := directory.NewCached(&countingSource{Source: directory.NewStatic(seed())}, rdb, 0, 0, nil)

	_, err := c.CreateActivity(context.Background(), standup())
	assert.Error(t, err)
}
