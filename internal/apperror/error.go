package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an expected failure that crosses a package boundary as a value.
type AppError struct {
	Code       string // machine readable, e.g. EXPIRED
	Message    string // user facing
	HTTPStatus int
	Err        error // optional cause
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so sentinels survive WithDetail.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDetail returns a copy of e that wraps cause.
func (e *AppError) WithDetail(cause error) *AppError {
	cp := *e
	cp.Err = cause
	return &cp
}

// New creates a new AppError without wrapping
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap creates an AppError that wraps an existing error
func Wrap(err error, code, message string, httpStatus int) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HTTPError is the transport view of an error.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details any
}

// ToHTTP maps any error onto a status/code pair. Errors that are not an
// AppError are treated as infrastructure faults and never leak their text.
func ToHTTP(err error) HTTPError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		var details any
		if appErr.Err != nil {
			details = appErr.Err.Error()
		}
		return HTTPError{
			Status:  appErr.HTTPStatus,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		}
	}
	return HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: ErrInternal.Message,
	}
}
