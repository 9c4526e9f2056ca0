// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers use errors.As to extract it:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeUnknownToken { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the human-readable description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes Loom inspects.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeUnknownPos    = "M_UNKNOWN_POS"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeTooLarge      = "M_TOO_LARGE"
)

// IsMatrixError checks whether err is a *MatrixError with the given
// error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsFatalAuthError reports whether err indicates the session's
// credentials have been rejected. Fatal: retrying the same request
// can never succeed, so the sync loop must stop rather than back off.
func IsFatalAuthError(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	if matrixErr.Code == ErrCodeUnknownToken {
		return true
	}
	return matrixErr.Code == ErrCodeForbidden && matrixErr.StatusCode == 401
}

// IsExpiredSyncToken reports whether err indicates the since token
// passed to /sync is no longer known to the server. Recovered by a
// full resync, not surfaced as an error.
func IsExpiredSyncToken(err error) bool {
	return IsMatrixError(err, ErrCodeUnknownPos)
}

// IsTransientError reports whether err is worth retrying with
// backoff: connection failures, rate limiting (429), and server
// errors (5xx). Client errors (4xx except 429) are permanent.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		if matrixErr.StatusCode == 429 {
			return true
		}
		if matrixErr.StatusCode >= 500 {
			return true
		}
		if matrixErr.StatusCode >= 400 {
			return false
		}
	}
	// Non-Matrix errors (connection refused, timeout, EOF) are transient.
	return true
}
