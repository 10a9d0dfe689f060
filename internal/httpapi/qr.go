package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"qrattendance/internal/apperror"
	"qrattendance/internal/auth"
	"qrattendance/internal/directory"
	"qrattendance/internal/response"
	"qrattendance/internal/token"
)

const qrSize = 256

type issuedResponse struct {
	Kind       token.Kind  `json:"kind"`
	Usage      token.Usage `json:"usage"`
	QRContent  string      `json:"qr_content"`
	QRCodePNG  string      `json:"qr_code_png"`
	ExpiresAt  time.Time   `json:"expires_at"`
	UserID     *int64      `json:"user_id,omitempty"`
	ActivityID *int64      `json:"activity_id,omitempty"`
}

// IssueDaily issues the caller's shift token. ?format=png returns the image.
func (h *Handler) IssueDaily(c *gin.Context) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	subject, err := h.dir.Subject(c.Request.Context(), id.SubjectID)
	if err != nil {
		response.Abort(c, err)
		return
	}
	issued, err := h.issuer.IssueDaily(subject.ID, subject.Category)
	if err != nil {
		response.Abort(c, err)
		return
	}
	h.writeIssued(c, issued)
}

// IssueActivity issues an activity token. Only admins and the activity's
// creator may do so.
func (h *Handler) IssueActivity(c *gin.Context) {
	id, ok := auth.FromContext(c)
	if !ok {
		response.Abort(c, apperror.ErrUnauthorized)
		return
	}
	activityID, err := pathID(c)
	if err != nil {
		response.Abort(c, err)
		return
	}
	act, err := h.dir.Activity(c.Request.Context(), activityID)
	if err != nil {
		response.Abort(c, err)
		return
	}
	if id.Role != directory.RoleAdmin && act.CreatedBy != id.SubjectID {
		response.Abort(c, apperror.ErrForbidden)
		return
	}
	issued, err := h.issuer.IssueActivity(act.ID)
	if err != nil {
		response.Abort(c, err)
		return
	}
	h.writeIssued(c, issued)
}

func (h *Handler) writeIssued(c *gin.Context, issued token.Issued) {
	png, err := qrcode.Encode(issued.Content, qrcode.Medium, qrSize)
	if err != nil {
		response.Abort(c, err)
		return
	}
	claims := issued.Token.Common()
	h.metrics.Issued(issued.Token.Kind(), claims.Usage)

	if c.Query("format") == "png" {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	out := issuedResponse{
		Kind:      issued.Token.Kind(),
		Usage:     claims.Usage,
		QRContent: issued.Content,
		QRCodePNG: base64.StdEncoding.EncodeToString(png),
		ExpiresAt: issued.ExpiresAt,
	}
	switch t := issued.Token.(type) {
	case *token.Daily:
		out.UserID = &t.UserID
	case *token.Activity:
		out.ActivityID = &t.ActivityID
	}
	response.Success(c, http.StatusOK, out, nil)
}

type validateRequest struct {
	QRContent string `json:"qr_content" binding:"required"`
}

type validateResponse struct {
	Valid      bool        `json:"valid"`
	Reason     string      `json:"reason,omitempty"`
	Message    string      `json:"message,omitempty"`
	Kind       token.Kind  `json:"kind,omitempty"`
	Usage      token.Usage `json:"usage,omitempty"`
	UserID     *int64      `json:"user_id,omitempty"`
	ActivityID *int64      `json:"activity_id,omitempty"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

// ValidateToken reports whether QR text would be accepted right now. It never
// consumes a token.
func (h *Handler) ValidateToken(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Abort(c, apperror.MapValidationError(err))
		return
	}
	tok, err := h.validator.Validate(c.Request.Context(), req.QRContent)
	h.metrics.Validated(err)
	if err != nil {
		rejection, ok := asRejection(err)
		if !ok {
			response.Abort(c, err)
			return
		}
		response.Success(c, http.StatusOK, validateResponse{
			Valid:   false,
			Reason:  rejection.Code,
			Message: rejection.Message,
		}, nil)
		return
	}
	claims := tok.Common()
	out := validateResponse{Valid: true, Kind: tok.Kind(), Usage: claims.Usage}
	if !claims.ExpiresAt.IsZero() {
		out.ExpiresAt = &claims.ExpiresAt
	}
	switch t := tok.(type) {
	case *token.Daily:
		out.UserID = &t.UserID
	case *token.Activity:
		out.ActivityID = &t.ActivityID
	}
	response.Success(c, http.StatusOK, out, nil)
}

func asRejection(err error) (*apperror.AppError, bool) {
	for _, r := range token.Rejections {
		if errors.Is(err, r) {
			return r, true
		}
	}
	return nil, false
}
