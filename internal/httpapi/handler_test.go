package httpapi_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/apperror"
	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/directory"
	"qrattendance/internal/httpapi"
	"qrattendance/internal/metrics"
	"qrattendance/internal/replay"
	"qrattendance/internal/response"
	"qrattendance/internal/schedule"
	"qrattendance/internal/signer"
	"qrattendance/internal/stats"
	"qrattendance/internal/token"
)

const (
	jwtKey    = "handler-test-jwt-key"
	jwtIssuer = "qrattendance-test"

	adminID    = 1
	employeeID = 42
	honorerID  = 7
)

var zone = time.FixedZone("WIB", 7*60*60)

type statsFunc func(ctx context.Context, day schedule.Date) (stats.Summary, error)

func (f statsFunc) Day(ctx context.Context, day schedule.Date) (stats.Summary, error) {
	return f(ctx, day)
}

type env struct {
	router *gin.Engine
	issuer *token.Issuer
	now    time.Time
}

func newEnv(t *testing.T, st httpapi.StatsReader, health ...httpapi.HealthCheck) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	apperror.Init()

	// Monday 09:05 local.
	now := time.Date(2026, 3, 2, 9, 5, 0, 0, zone)
	clock := func() time.Time { return now }

	s, err := signer.New([]byte("handler-test-signing-key-0123456"))
	require.NoError(t, err)
	guard := replay.NewMemory(clock)
	issuer := token.NewIssuer(s, token.DefaultPolicy(), clock)
	validator := token.NewValidator(s, guard, token.DefaultSkew, clock, nil)

	window := func(start, end string) schedule.Window {
		return schedule.Window{Start: schedule.MustTimeOfDay(start), End: schedule.MustTimeOfDay(end)}
	}
	dir := directory.NewStatic(directory.Seed{
		Users: []directory.Subject{
			{ID: adminID, Name: "Admin", Category: "regular", Role: directory.RoleAdmin},
			{ID: employeeID, Name: "Rina", Category: "regular", Role: directory.RoleEmployee},
			{ID: honorerID, Name: "Budi", Category: "honorer", Role: directory.RoleEmployee},
		},
		AttendanceTypes: []schedule.AttendanceType{
			{ID: 1, Name: "Morning", Window: window("09:00", "17:00")},
		},
		Activities: []schedule.Activity{
			{ID: 10, Name: "Standup", Window: window("08:30", "09:30"), IsRecurring: true,
				RecurringDays: []time.Weekday{time.Monday}, IsActive: true, CreatedBy: honorerID},
			{ID: 11, Name: "Retro", Window: window("15:00", "16:00"), IsActive: true, CreatedBy: adminID},
		},
	})
	engine := attendance.NewEngine(attendance.NewMemoryStore(), guard, dir, attendance.Config{
		Location: zone,
		Now:      clock,
	}, nil)

	h := httpapi.NewHandler(httpapi.Deps{
		Issuer:    issuer,
		Validator: validator,
		Engine:    engine,
		Directory: dir,
		Catalog:   dir,
		Stats:     st,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Health:    health,
		Now:       clock,
	})
	r := gin.New()
	h.Register(r, auth.Bearer(jwtKey, jwtIssuer))
	return &env{router: r, issuer: issuer, now: now}
}

func (e *env) do(t *testing.T, method, path string, subject int64, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != 0 {
		tok, _, err := auth.Issue(subject, role, jwtIssuer, jwtKey, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Ok    bool                `json:"ok"`
	Data  json.RawMessage     `json:"data"`
	Meta  *response.Meta      `json:"meta"`
	Error *response.ErrorBody `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && env.Ok {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

type issuedBody struct {
	Kind       string `json:"kind"`
	Usage      string `json:"usage"`
	QRContent  string `json:"qr_content"`
	QRCodePNG  string `json:"qr_code_png"`
	UserID     *int64 `json:"user_id"`
	ActivityID *int64 `json:"activity_id"`
}

func TestIssueDaily(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/v1/qr/daily", honorerID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got issuedBody
	decode(t, w, &got)
	assert.Equal(t, "daily", got.Kind)
	assert.Equal(t, string(token.SingleUse), got.Usage)
	require.NotNil(t, got.UserID)
	assert.Equal(t, int64(honorerID), *got.UserID)

	png, err := base64.StdEncoding.DecodeString(got.QRCodePNG)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	tok, err := token.Decode(got.QRContent)
	require.NoError(t, err)
	assert.Equal(t, token.KindDaily, tok.Kind())
}

func TestIssueDailyPNG(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/v1/qr/daily?format=png", employeeID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestRequiresBearer(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/v1/qr/daily", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w, nil)
	assert.False(t, env.Ok)
	assert.Equal(t, apperror.CodeUnauthorized, env.Error.Code)
}

func TestIssueActivityAuthorization(t *testing.T) {
	e := newEnv(t, nil)

	tests := []struct {
		name    string
		path    string
		subject int64
		role    string
		status  int
	}{
		{"creator", "/v1/activities/10/qr", honorerID, directory.RoleEmployee, http.StatusOK},
		{"admin", "/v1/activities/10/qr", adminID, directory.RoleAdmin, http.StatusOK},
		{"other employee", "/v1/activities/10/qr", employeeID, directory.RoleEmployee, http.StatusForbidden},
		{"unknown activity", "/v1/activities/99/qr", adminID, directory.RoleAdmin, http.StatusNotFound},
		{"bad id", "/v1/activities/abc/qr", adminID, directory.RoleAdmin, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodGet, tt.path, tt.subject, tt.role, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := e.do(t, http.MethodGet, "/v1/activities/10/qr", adminID, directory.RoleAdmin, nil)
	var got issuedBody
	decode(t, w, &got)
	assert.Equal(t, "activity", got.Kind)
	assert.Equal(t, string(token.MultiUse), got.Usage)
	require.NotNil(t, got.ActivityID)
	assert.Equal(t, int64(10), *got.ActivityID)
}

func TestValidateToken(t *testing.T) {
	e := newEnv(t, nil)
	issued, err := e.issuer.IssueDaily(employeeID, "regular")
	require.NoError(t, err)

	type result struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
		UserID *int64 `json:"user_id"`
	}

	w := e.do(t, http.MethodPost, "/v1/qr/validate", employeeID, directory.RoleEmployee,
		map[string]string{"qr_content": issued.Content})
	require.Equal(t, http.StatusOK, w.Code)
	var ok result
	decode(t, w, &ok)
	assert.True(t, ok.Valid)
	require.NotNil(t, ok.UserID)
	assert.Equal(t, int64(employeeID), *ok.UserID)

	tampered := bytes.Replace([]byte(issued.Content), []byte(`"user_id":42`), []byte(`"user_id":43`), 1)
	w = e.do(t, http.MethodPost, "/v1/qr/validate", employeeID, directory.RoleEmployee,
		map[string]string{"qr_content": string(tampered)})
	require.Equal(t, http.StatusOK, w.Code)
	var bad result
	decode(t, w, &bad)
	assert.False(t, bad.Valid)
	assert.Equal(t, token.CodeInvalidSignature, bad.Reason)

	w = e.do(t, http.MethodPost, "/v1/qr/validate", employeeID, directory.RoleEmployee, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w, nil)
	assert.Equal(t, apperror.CodeInvalidInput, env.Error.Code)
	assert.Contains(t, env.Error.Details, "qr_content")
}

func TestDailyCheckInOut(t *testing.T) {
	e := newEnv(t, nil)
	issued, err := e.issuer.IssueDaily(employeeID, "regular")
	require.NoError(t, err)

	body := map[string]any{
		"qr_content":         issued.Content,
		"attendance_type_id": 1,
		"latitude":           -6.2,
		"longitude":          106.8,
	}
	w := e.do(t, http.MethodPost, "/v1/attendance/check-in", employeeID, directory.RoleEmployee, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec attendance.Record
	decode(t, w, &rec)
	assert.True(t, rec.IsLate)
	assert.Nil(t, rec.CheckOut)
	require.NotNil(t, rec.Latitude)
	assert.InDelta(t, -6.2, *rec.Latitude, 1e-9)

	w = e.do(t, http.MethodPost, "/v1/attendance/check-in", employeeID, directory.RoleEmployee, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, attendance.ErrAlreadyCheckedIn.Code, decode(t, w, nil).Error.Code)

	w = e.do(t, http.MethodGet, "/v1/attendance/active", employeeID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []attendance.Record
	env := decode(t, w, &active)
	require.Len(t, active, 1)
	assert.Equal(t, 1, env.Meta.Count)

	w = e.do(t, http.MethodPost, "/v1/attendance/check-out/"+rec.ID, honorerID, directory.RoleEmployee, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/v1/attendance/check-out/"+rec.ID, employeeID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var closed attendance.Record
	decode(t, w, &closed)
	require.NotNil(t, closed.CheckOut)
	assert.True(t, closed.IsEarly)

	w = e.do(t, http.MethodPost, "/v1/attendance/check-out/"+rec.ID, employeeID, directory.RoleEmployee, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/v1/attendance/history?from=2026-03-01&to=2026-03-31", employeeID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist []attendance.Record
	decode(t, w, &hist)
	require.Len(t, hist, 1)
	assert.Equal(t, rec.ID, hist[0].ID)
}

func TestCheckInRejections(t *testing.T) {
	e := newEnv(t, nil)
	daily, err := e.issuer.IssueDaily(employeeID, "regular")
	require.NoError(t, err)
	other, err := e.issuer.IssueDaily(honorerID, "honorer")
	require.NoError(t, err)
	act, err := e.issuer.IssueActivity(10)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing schedule", "/v1/attendance/check-in",
			map[string]any{"qr_content": daily.Content}, http.StatusBadRequest, apperror.CodeInvalidInput},
		{"latitude out of range", "/v1/attendance/check-in",
			map[string]any{"qr_content": daily.Content, "attendance_type_id": 1, "latitude": 91}, http.StatusBadRequest, apperror.CodeInvalidInput},
		{"someone else's code", "/v1/attendance/check-in",
			map[string]any{"qr_content": other.Content, "attendance_type_id": 1}, http.StatusForbidden, attendance.ErrTokenSubjectMismatch.Code},
		{"activity code on daily route", "/v1/attendance/check-in",
			map[string]any{"qr_content": act.Content, "attendance_type_id": 1}, http.StatusBadRequest, apperror.CodeInvalidInput},
		{"garbage", "/v1/attendance/check-in",
			map[string]any{"qr_content": "not json", "attendance_type_id": 1}, http.StatusBadRequest, token.CodeMalformedToken},
		{"unknown shift", "/v1/attendance/check-in",
			map[string]any{"qr_content": daily.Content, "attendance_type_id": 9}, http.StatusNotFound, directory.ErrScheduleNotFound.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, tt.path, employeeID, directory.RoleEmployee, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			env := decode(t, w, nil)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestActivityCheckIn(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/v1/activities", employeeID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var acts []schedule.Activity
	decode(t, w, &acts)
	assert.Len(t, acts, 2)

	standup, err := e.issuer.IssueActivity(10)
	require.NoError(t, err)
	for _, subject := range []int64{employeeID, honorerID} {
		w = e.do(t, http.MethodPost, "/v1/activities/check-in", subject, directory.RoleEmployee,
			map[string]any{"qr_content": standup.Content})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var rec attendance.Record
		decode(t, w, &rec)
		assert.Equal(t, token.KindActivity, rec.Kind)
		assert.Equal(t, int64(10), rec.ScheduleID)
		assert.True(t, rec.IsLate)
	}

	w = e.do(t, http.MethodPost, "/v1/activities/check-in", employeeID, directory.RoleEmployee,
		map[string]any{"qr_content": standup.Content, "activity_id": 11})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, attendance.ErrTokenScheduleMismatch.Code, decode(t, w, nil).Error.Code)

	w = e.do(t, http.MethodGet, "/v1/activities/my-attendances", employeeID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []attendance.Record
	decode(t, w, &mine)
	assert.Len(t, mine, 1)
}

func TestHistoryQueryValidation(t *testing.T) {
	e := newEnv(t, nil)

	for _, q := range []string{"from=yesterday", "limit=0", "limit=500", "offset=-1", "from=2026-03-05&to=2026-03-01"} {
		w := e.do(t, http.MethodGet, "/v1/attendance/history?"+q, employeeID, directory.RoleEmployee, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAttendanceTypes(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/v1/attendance/types", employeeID, directory.RoleEmployee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var types []schedule.AttendanceType
	decode(t, w, &types)
	require.Len(t, types, 1)
	assert.Equal(t, "09:00:00", types[0].Start.String())
}

func TestStatsToday(t *testing.T) {
	var asked schedule.Date
	e := newEnv(t, statsFunc(func(_ context.Context, day schedule.Date) (stats.Summary, error) {
		asked = day
		return stats.Summary{Day: day.String(), Daily: stats.Counts{CheckIns: 3, Late: 1}}, nil
	}))

	w := e.do(t, http.MethodGet, "/v1/stats/today", employeeID, directory.RoleEmployee, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "/v1/stats/today", adminID, directory.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got stats.Summary
	decode(t, w, &got)
	assert.Equal(t, "2026-03-02", asked.String())
	assert.Equal(t, int64(3), got.Daily.CheckIns)

	disabled := newEnv(t, nil)
	w = disabled.do(t, http.MethodGet, "/v1/stats/today", adminID, directory.RoleAdmin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatsTodayBackendDown(t *testing.T) {
	e := newEnv(t, statsFunc(func(context.Context, schedule.Date) (stats.Summary, error) {
		return stats.Summary{}, errors.New("dial tcp: connection refused")
	}))

	w := e.do(t, http.MethodGet, "/v1/stats/today", adminID, directory.RoleAdmin, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w, nil)
	assert.Equal(t, apperror.CodeInternalError, env.Error.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestHealthz(t *testing.T) {
	up := httpapi.HealthCheck{Name: "postgres", Check: func(context.Context) bool { return true }}
	down := httpapi.HealthCheck{Name: "redis", Check: func(context.Context) bool { return false }}

	w := newEnv(t, nil, up).do(t, http.MethodGet, "/healthz", 0, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = newEnv(t, nil, up, down).do(t, http.MethodGet, "/healthz", 0, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","postgres":true,"redis":false}`, w.Body.String())
}

func TestAdminActivities(t *testing.T) {
	e := newEnv(t, nil)
	body := map[string]any{
		"name":           "Safety briefing",
		"start_time":     "13:00:00",
		"end_time":       "14:00:00",
		"is_recurring":   true,
		"recurring_days": []int{1, 4},
		"is_active":      true,
	}

	w := e.do(t, http.MethodPost, "/v1/admin/activities", employeeID, directory.RoleEmployee, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/v1/admin/activities", adminID, directory.RoleAdmin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created schedule.Activity
	decode(t, w, &created)
	assert.Equal(t, int64(12), created.ID)
	assert.Equal(t, int64(adminID), created.CreatedBy)
	assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, created.RecurringDays)

	path := "/v1/admin/activities/12"
	w = e.do(t, http.MethodGet, path, adminID, directory.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Visible to employees as soon as it is created: it runs on Mondays.
	w = e.do(t, http.MethodGet, "/v1/activities", employeeID, directory.RoleEmployee, nil)
	var open []schedule.Activity
	decode(t, w, &open)
	assert.Len(t, open, 3)

	body["is_active"] = false
	w = e.do(t, http.MethodPut, path, adminID, directory.RoleAdmin, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated schedule.Activity
	decode(t, w, &updated)
	assert.False(t, updated.IsActive)

	w = e.do(t, http.MethodGet, "/v1/admin/activities?limit=2", adminID, directory.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page []schedule.Activity
	env := decode(t, w, &page)
	require.Len(t, page, 2)
	assert.Equal(t, int64(12), page[0].ID)
	assert.Equal(t, 2, env.Meta.Limit)

	// Another admin cannot delete it.
	w = e.do(t, http.MethodDelete, path, 99, directory.RoleAdmin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodDelete, path, adminID, directory.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, path, adminID, directory.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminActivityValidation(t *testing.T) {
	e := newEnv(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing flags", map[string]any{"name": "x", "start_time": "09:00", "end_time": "10:00"}},
		{"bad time", map[string]any{"name": "x", "start_time": "9am", "end_time": "10:00", "is_recurring": true, "recurring_days": []int{1}, "is_active": true}},
		{"end before start", map[string]any{"name": "x", "start_time": "10:00", "end_time": "09:00", "is_recurring": true, "recurring_days": []int{1}, "is_active": true}},
		{"weekday out of range", map[string]any{"name": "x", "start_time": "09:00", "end_time": "10:00", "is_recurring": true, "recurring_days": []int{7}, "is_active": true}},
		{"one-off without dates", map[string]any{"name": "x", "start_time": "09:00", "end_time": "10:00", "is_recurring": false, "is_active": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/v1/admin/activities", adminID, directory.RoleAdmin, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, apperror.CodeInvalidInput, decode(t, w, nil).Error.Code)
		})
	}

	w := e.do(t, http.MethodPut, "/v1/admin/activities/404", adminID, directory.RoleAdmin, map[string]any{
		"name": "x", "start_time": "09:00", "end_time": "10:00", "is_recurring": true, "recurring_days": []int{1}, "is_active": true,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
