// Package response writes the JSON envelope used by every endpoint.
package response

import (
	"github.com/gin-gonic/gin"

	"qrattendance/internal/apperror"
)

// Meta carries paging information for list responses.
type Meta struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
	Count  int `json:"count"`
}

type Envelope struct {
	Ok    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Meta  *Meta      `json:"meta,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func Success(c *gin.Context, status int, data any, meta *Meta) {
	c.JSON(status, Envelope{Ok: true, Data: data, Meta: meta})
}

func Error(c *gin.Context, status int, code, message string, details any) {
	c.JSON(status, Envelope{
		Ok:    false,
		Error: &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// Abort maps err through apperror and stops the handler chain.
func Abort(c *gin.Context, err error) {
	he := apperror.ToHTTP(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(he.Status, Envelope{
		Ok:    false,
		Error: &ErrorBody{Code: he.Code, Message: he.Message, Details: he.Details},
	})
}
