// Package httpapi exposes token issuance, validation and attendance over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/directory"
	"qrattendance/internal/schedule"
	"qrattendance/internal/stats"
	"qrattendance/internal/token"
)

// Issuer creates signed QR tokens.
type Issuer interface {
	IssueDaily(subjectID int64, category string) (token.Issued, error)
	IssueActivity(activityID int64) (token.Issued, error)
}

// Validator checks QR text without side effects.
type Validator interface {
	Validate(ctx context.Context, text string) (token.Token, error)
}

// Engine records attendance.
type Engine interface {
	CheckIn(ctx context.Context, in attendance.CheckInInput) (attendance.Record, error)
	CheckOut(ctx context.Context, in attendance.CheckOutInput) (attendance.Record, error)
	Active(ctx context.Context, subjectID int64, kind token.Kind) ([]attendance.Record, error)
	History(ctx context.Context, q attendance.HistoryQuery) ([]attendance.Record, error)
	Today() schedule.Date
}

// StatsReader reads aggregated daily counters.
type StatsReader interface {
	Day(ctx context.Context, day schedule.Date) (stats.Summary, error)
}

// Recorder counts token outcomes.
type Recorder interface {
	Issued(kind token.Kind, usage token.Usage)
	Validated(err error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Deps are the collaborators a Handler needs. Catalog, Stats, Metrics and
// Now are optional; without a Catalog the admin routes are not mounted.
type Deps struct {
	Issuer    Issuer
	Validator Validator
	Engine    Engine
	Directory directory.Source
	Catalog   directory.Catalog
	Stats     StatsReader
	Metrics   Recorder
	Health    []HealthCheck
	Now       func() time.Time
	Logger    *zap.Logger
}

// Handler serves the /v1 API.
type Handler struct {
	issuer    Issuer
	validator Validator
	engine    Engine
	dir       directory.Source
	catalog   directory.Catalog
	stats     StatsReader
	metrics   Recorder
	health    []HealthCheck
	now       func() time.Time
	logger    *zap.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	return &Handler{
		issuer:    d.Issuer,
		validator: d.Validator,
		engine:    d.Engine,
		dir:       d.Directory,
		catalog:   d.Catalog,
		stats:     d.Stats,
		metrics:   d.Metrics,
		health:    d.Health,
		now:       d.Now,
		logger:    d.Logger.Named("httpapi"),
	}
}

// Register mounts the routes. authn guards everything under /v1.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1", authn)

	qr := v1.Group("/qr")
	qr.GET("/daily", h.IssueDaily)
	qr.POST("/validate", h.ValidateToken)

	att := v1.Group("/attendance")
	att.POST("/check-in", h.DailyCheckIn)
	att.POST("/check-out/:id", h.DailyCheckOut)
	att.GET("/active", h.DailyActive)
	att.GET("/history", h.DailyHistory)
	att.GET("/types", h.AttendanceTypes)

	act := v1.Group("/activities")
	act.GET("", h.ActiveActivities)
	act.GET("/:id/qr", h.IssueActivity)
	act.POST("/check-in", h.ActivityCheckIn)
	act.POST("/check-out/:id", h.ActivityCheckOut)
	act.GET("/my-attendances", h.ActivityHistory)

	v1.GET("/stats/today", h.StatsToday)

	if h.catalog != nil {
		admin := v1.Group("/admin", h.requireAdmin)
		admin.GET("/activities", h.ListAllActivities)
		admin.POST("/activities", h.CreateActivity)
		admin.GET("/activities/:id", h.GetActivity)
		admin.PUT("/activities/:id", h.UpdateActivity)
		admin.DELETE("/activities/:id", h.DeleteActivity)
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, hc := range h.health {
		ok := hc.Check(ctx)
		body[hc.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

type nopRecorder struct{}

func (nopRecorder) Issued(token.Kind, token.Usage) {}
func (nopRecorder) Validated(error)                {}
