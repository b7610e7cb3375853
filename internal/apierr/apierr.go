// Package apierr holds the error kinds shared by the inference clients.
//
// Callers classify failures with errors.As / errors.Is:
//
//	var apiErr *apierr.APIError     // non-2xx status from an inference API
//	var netErr *apierr.TransportError // request never produced a response
//	errors.Is(err, apierr.ErrInvalidResponse) // 2xx with an unexpected body
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names the pipeline step an error belongs to.
type Stage string

const (
	StageDownload      Stage = "download"
	StageTranscode     Stage = "transcode"
	StageTranscription Stage = "transcription"
	StageChat          Stage = "chat"
)

// ErrInvalidResponse marks a successful HTTP exchange whose body had the wrong shape.
var ErrInvalidResponse = errors.New("invalid response")

// maxBodyInError caps how much of a response body ends up in error strings.
const maxBodyInError = 512

// APIError is a non-success HTTP status from an inference API.
type APIError struct {
	Stage      Stage
	StatusCode int

	// Body is the raw response body, possibly truncated. Empty for the chat stage.
	Body string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: API error %d: %s", e.Stage, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: API error %d", e.Stage, e.StatusCode)
}

// IsUnauthorized returns true for HTTP 401.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewAPIError builds an APIError, trimming and truncating body.
func NewAPIError(stage Stage, status int, body []byte) *APIError {
	return &APIError{Stage: stage, StatusCode: status, Body: truncate(strings.TrimSpace(string(body)))}
}

// TransportError is a network-level failure reaching an API.
type TransportError struct {
	Stage Stage
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InvalidResponseError carries the reason a response body was rejected.
type InvalidResponseError struct {
	Stage  Stage
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Stage, ErrInvalidResponse, e.Reason)
}

func (e *InvalidResponseError) Is(target error) bool {
	return target == ErrInvalidResponse
}

// Invalid builds an InvalidResponseError.
func Invalid(stage Stage, format string, args ...any) error {
	return &InvalidResponseError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// StageOf returns the stage recorded in err, or "" if none.
func StageOf(err error) Stage {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Stage
	}
	var netErr *TransportError
	if errors.As(err, &netErr) {
		return netErr.Stage
	}
	var invErr *InvalidResponseError
	if errors.As(err, &invErr) {
		return invErr.Stage
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxBodyInError {
		return s
	}
	return s[:maxBodyInError] + "…"
}
