package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/apperror"
	"qrattendance/internal/auth"
	"qrattendance/internal/directory"
	"qrattendance/internal/response"
)

func (h *Handler) AttendanceTypes(c *gin.Context) {
	types, err := h.dir.AttendanceTypes(c.Request.Context())
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, nonNil(types), &response.Meta{Count: len(types)})
}

// ActiveActivities lists the activities open for attendance today.
func (h *Handler) ActiveActivities(c *gin.Context) {
	acts, err := h.dir.ActiveActivities(c.Request.Context(), h.now())
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, nonNil(acts), &response.Meta{Count: len(acts)})
}

// StatsToday returns today's aggregated counters. Admin only.
func (h *Handler) StatsToday(c *gin.Context) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	if id.Role != directory.RoleAdmin {
		response.Abort(c, apperror.ErrForbidden)
		return
	}
	if h.stats == nil {
		response.Abort(c, apperror.New(apperror.CodeServiceUnavailable, "Statistics are not enabled", http.StatusServiceUnavailable))
		return
	}
	summary, err := h.stats.Day(c.Request.Context(), h.engine.Today())
	if err != nil {
		response.Abort(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary, nil)
}
