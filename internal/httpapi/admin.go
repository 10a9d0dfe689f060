package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattendance/internal/apperror"
	"qrattendance/internal/auth"
	"qrattendance/internal/directory"
	"qrattendance/internal/response"
	"qrattendance/internal/schedule"
)

type activityRequest struct {
	Name          string  `json:"name" binding:"required,max=255"`
	Description   string  `json:"description"`
	StartTime     string  `json:"start_time" binding:"required"`
	EndTime       string  `json:"end_time" binding:"required"`
	IsRecurring   *bool   `json:"is_recurring" binding:"required"`
	RecurringDays []int   `json:"recurring_days" binding:"omitempty,dive,min=0,max=6"`
	ValidFrom     *string `json:"valid_from"`
	ValidTo       *string `json:"valid_to"`
	IsActive      *bool   `json:"is_active" binding:"required"`
}

func (r activityRequest) activity() (schedule.Activity, error) {
	a := schedule.Activity{
		Name:        r.Name,
		Description: r.Description,
		IsRecurring: *r.IsRecurring,
		IsActive:    *r.IsActive,
	}
	var err error
	if a.Start, err = schedule.ParseTimeOfDay(r.StartTime); err != nil {
		return a, errors.New("start_time must be HH:MM:SS")
	}
	if a.End, err = schedule.ParseTimeOfDay(r.EndTime); err != nil {
		return a, errors.New("end_time must be HH:MM:SS")
	}
	for _, d := range r.RecurringDays {
		a.RecurringDays = append(a.RecurringDays, time.Weekday(d))
	}
	if r.ValidFrom != nil && *r.ValidFrom != "" {
		if a.ValidFrom, err = schedule.ParseDate(*r.ValidFrom); err != nil {
			return a, errors.New("valid_from must be YYYY-MM-DD")
		}
	}
	if r.ValidTo != nil && *r.ValidTo != "" {
		if a.ValidTo, err = schedule.ParseDate(*r.ValidTo); err != nil {
			return a, errors.New("valid_to must be YYYY-MM-DD")
		}
	}
	return a, a.Validate()
}

// requireAdmin aborts unless the caller is an admin.
func (h *Handler) requireAdmin(c *gin.Context) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	if id.Role != directory.RoleAdmin {
		response.Abort(c, apperror.ErrForbidden)
		return
	}
	c.Next()
}

func (h *Handler) ListAllActivities(c *gin.Context) {
	limit, err := queryInt(c, "limit", 15, 1, 200)
	if err != nil {
		response.Abort(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0, 0, 1<<30)
	if err != nil {
		response.Abort(c, err)
		return
	}
	acts, err := h.catalog.ListActivities(c.Request.Context(), limit, offset)
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, nonNil(acts), &response.Meta{Limit: limit, Offset: offset, Count: len(acts)})
}

func (h *Handler) GetActivity(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Abort(c, err)
		return
	}
	act, err := h.dir.Activity(c.Request.Context(), id)
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, act, nil)
}

func (h *Handler) CreateActivity(c *gin.Context) {
	caller, _ := auth.FromContext(c)
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Abort(c, apperror.MapValidationError(err))
		return
	}
	act, err := req.activity()
	if err != nil {
		response.Abort(c, apperror.ErrInvalidInput.WithDetail(err))
		return
	}
	act.CreatedBy = caller.SubjectID
	created, err := h.catalog.CreateActivity(c.Request.Context(), act)
	if err != nil {
		response.Abort(c, err)
		return
	}
	h.logger.Info("activity created", zap.Int64("activity_id", created.ID), zap.Int64("created_by", created.CreatedBy))
	response.Success(c, http.StatusCreated, created, nil)
}

func (h *Handler) UpdateActivity(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Abort(c, err)
		return
	}
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Abort(c, apperror.MapValidationError(err))
		return
	}
	act, err := req.activity()
	if err != nil {
		response.Abort(c, apperror.ErrInvalidInput.WithDetail(err))
		return
	}
	act.ID = id
	updated, err := h.catalog.UpdateActivity(c.Request.Context(), act)
	if err != nil {
		response.Abort(c, err)
		return
	}
	h.logger.Info("activity updated", zap.Int64("activity_id", id))
	response.Success(c, http.StatusOK, updated, nil)
}

// DeleteActivity removes an activity. Only its creator may delete it.
func (h *Handler) DeleteActivity(c *gin.Context) {
	caller, _ := auth.FromContext(c)
	id, err := pathID(c)
	if err != nil {
		response.Abort(c, err)
		return
	}
	act, err := h.dir.Activity(c.Request.Context(), id)
	if err != nil {
		response.Abort(c, err)
		return
	}
	if act.CreatedBy != caller.SubjectID {
		response.Abort(c, apperror.ErrForbidden)
		return
	}
	if err := h.catalog.DeleteActivity(c.Request.Context(), id); err != nil {
		response.Abort(c, err)
		return
	}
	h.logger.Info("activity deleted", zap.Int64("activity_id", id))
	c.Status(http.StatusNoContent)
}
