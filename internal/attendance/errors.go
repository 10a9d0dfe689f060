package attendance

import (
	"net/http"

	"qrattendance/internal/apperror"
)

var (
	ErrAlreadyCheckedIn = apperror.New(
		"ALREADY_CHECKED_IN",
		"You have already checked in for this schedule today",
		http.StatusConflict,
	)

	ErrAlreadyCheckedOut = apperror.New(
		"ALREADY_CHECKED_OUT",
		"You have already checked out",
		http.StatusConflict,
	)

	ErrNotOwner = apperror.New(
		"NOT_OWNER",
		"This attendance record belongs to another user",
		http.StatusForbidden,
	)

	ErrTokenSubjectMismatch = apperror.New(
		"TOKEN_SUBJECT_MISMATCH",
		"This QR code was issued to another user",
		http.StatusForbidden,
	)

	ErrTokenScheduleMismatch = apperror.New(
		"TOKEN_SCHEDULE_MISMATCH",
		"This QR code is for a different activity",
		http.StatusBadRequest,
	)

	ErrActivityNotEligible = apperror.New(
		"ACTIVITY_NOT_ELIGIBLE",
		"Activity is not open for attendance",
		http.StatusUnprocessableEntity,
	)

	ErrRecordNotFound = apperror.New(
		"RECORD_NOT_FOUND",
		"Attendance record not found",
		http.StatusNotFound,
	)

	ErrInvalidRange = apperror.New(
		apperror.CodeInvalidInput,
		"from must not be after to",
		http.StatusBadRequest,
	)
)
