package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/apperror"
	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/response"
	"qrattendance/internal/schedule"
	"qrattendance/internal/token"
)

type location struct {
	Latitude  *float64 `json:"latitude" binding:"omitempty,min=-90,max=90"`
	Longitude *float64 `json:"longitude" binding:"omitempty,min=-180,max=180"`
	Notes     *string  `json:"notes" binding:"omitempty,max=500"`
}

func (l location) details() attendance.Details {
	return attendance.Details{Latitude: l.Latitude, Longitude: l.Longitude, Notes: l.Notes}
}

type dailyCheckInRequest struct {
	QRContent        string `json:"qr_content" binding:"required"`
	AttendanceTypeID int64  `json:"attendance_type_id" binding:"required,gt=0"`
	location
}

type activityCheckInRequest struct {
	QRContent  string `json:"qr_content" binding:"required"`
	ActivityID int64  `json:"activity_id" binding:"omitempty,gt=0"`
	location
}

func (h *Handler) DailyCheckIn(c *gin.Context) {
	var req dailyCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Abort(c, apperror.MapValidationError(err))
		return
	}
	h.checkIn(c, token.KindDaily, req.QRContent, req.AttendanceTypeID, req.details())
}

func (h *Handler) ActivityCheckIn(c *gin.Context) {
	var req activityCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Abort(c, apperror.MapValidationError(err))
		return
	}
	h.checkIn(c, token.KindActivity, req.QRContent, req.ActivityID, req.details())
}

// checkIn validates the scanned text and records attendance. The record kind
// follows the token, so a daily code on the activity route is refused.
func (h *Handler) checkIn(c *gin.Context, kind token.Kind, content string, scheduleID int64, d attendance.Details) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	tok, err := h.validator.Validate(c.Request.Context(), content)
	h.metrics.Validated(err)
	if err != nil {
		response.Abort(c, err)
		return
	}
	if tok.Kind() != kind {
		response.Abort(c, apperror.ErrInvalidInput.WithDetail(
			errors.New("a "+string(tok.Kind())+" QR code cannot be used here")))
		return
	}
	rec, err := h.engine.CheckIn(c.Request.Context(), attendance.CheckInInput{
		SubjectID:  id.SubjectID,
		ScheduleID: scheduleID,
		Token:      tok,
		Details:    d,
	})
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusCreated, rec, nil)
}

func (h *Handler) DailyCheckOut(c *gin.Context)    { h.checkOut(c, token.KindDaily) }
func (h *Handler) ActivityCheckOut(c *gin.Context) { h.checkOut(c, token.KindActivity) }

func (h *Handler) checkOut(c *gin.Context, kind token.Kind) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	var req location
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Abort(c, apperror.MapValidationError(err))
		return
	}
	rec, err := h.engine.CheckOut(c.Request.Context(), attendance.CheckOutInput{
		Kind:      kind,
		RecordID:  c.Param("id"),
		SubjectID: id.SubjectID,
		Details:   req.details(),
	})
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec, nil)
}

func (h *Handler) DailyActive(c *gin.Context) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	recs, err := h.engine.Active(c.Request.Context(), id.SubjectID, token.KindDaily)
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, nonNil(recs), &response.Meta{Count: len(recs)})
}

func (h *Handler) DailyHistory(c *gin.Context)    { h.history(c, token.KindDaily) }
func (h *Handler) ActivityHistory(c *gin.Context) { h.history(c, token.KindActivity) }

func (h *Handler) history(c *gin.Context, kind token.Kind) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	q := attendance.HistoryQuery{Kind: kind, SubjectID: id.SubjectID, Limit: 50}
	var err error
	if q.From, err = queryDate(c, "from"); err != nil {
		response.Abort(c, err)
		return
	}
	if q.To, err = queryDate(c, "to"); err != nil {
		response.Abort(c, err)
		return
	}
	if q.Limit, err = queryInt(c, "limit", 50, 1, 200); err != nil {
		response.Abort(c, err)
		return
	}
	if q.Offset, err = queryInt(c, "offset", 0, 0, 1<<30); err != nil {
		response.Abort(c, err)
		return
	}
	recs, err := h.engine.History(c.Request.Context(), q)
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, nonNil(recs), &response.Meta{Limit: q.Limit, Offset: q.Offset, Count: len(recs)})
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ErrInvalidInput.WithDetail(errors.New("id must be a positive integer"))
	}
	return id, nil
}

func queryDate(c *gin.Context, name string) (schedule.Date, error) {
	v := c.Query(name)
	if v == "" {
		return schedule.Date{}, nil
	}
	d, err := schedule.ParseDate(v)
	if err != nil {
		return schedule.Date{}, apperror.ErrInvalidInput.WithDetail(errors.New(name + " must be YYYY-MM-DD"))
	}
	return d, nil
}

func queryInt(c *gin.Context, name string, def, min, max int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, apperror.ErrInvalidInput.WithDetail(errors.New(name + " is out of range"))
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
