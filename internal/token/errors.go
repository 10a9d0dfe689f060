package token

import (
	"net/http"

	"qrattendance/internal/apperror"
)

// Rejection codes. Each is a client error; none is retryable without a new scan.
const (
	CodeMalformedToken   = "MALFORMED_TOKEN"
	CodeMissingSignature = "MISSING_SIGNATURE"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeExpired          = "EXPIRED"
	CodeIssuedInFuture   = "ISSUED_IN_FUTURE"
	CodeAlreadyUsed      = "ALREADY_USED"
)

var (
	ErrMalformedToken = apperror.New(
		CodeMalformedToken,
		"QR code content is not a valid token",
		http.StatusBadRequest,
	)

	ErrMissingSignature = apperror.New(
		CodeMissingSignature,
		"QR code is not signed",
		http.StatusBadRequest,
	)

	ErrInvalidSignature = apperror.New(
		CodeInvalidSignature,
		"QR code signature is invalid",
		http.StatusBadRequest,
	)

	ErrExpired = apperror.New(
		CodeExpired,
		"QR code has expired",
		http.StatusBadRequest,
	)

	ErrIssuedInFuture = apperror.New(
		CodeIssuedInFuture,
		"QR code was issued in the future",
		http.StatusBadRequest,
	)

	ErrAlreadyUsed = apperror.New(
		CodeAlreadyUsed,
		"QR code has already been used",
		http.StatusBadRequest,
	)
)

// Rejections lists every validator outcome other than acceptance.
var Rejections = []*apperror.AppError{
	ErrMalformedToken,
	ErrMissingSignature,
	ErrInvalidSignature,
	ErrExpired,
	ErrIssuedInFuture,
	ErrAlreadyUsed,
}
