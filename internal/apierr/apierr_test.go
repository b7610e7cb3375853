package apierr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAPIErrorMessage(t *testing.T) {
	err := NewAPIError(StageTranscription, 503, []byte("  model loading \n"))
	if got := err.Error(); got != "transcription: API error 503: model loading" {
		t.Errorf("unexpected message: %q", got)
	}
	if !err.IsServerError() {
		t.Error("expected IsServerError() to be true")
	}

	chatErr := &APIError{Stage: StageChat, StatusCode: 401}
	if got := chatErr.Error(); got != "chat: API error 401" {
		t.Errorf("unexpected message: %q", got)
	}
	if !chatErr.IsUnauthorized() {
		t.Error("expected IsUnauthorized() to be true")
	}
}

func TestAPIErrorTruncatesBody(t *testing.T) {
	err := NewAPIError(StageChat, 500, []byte(strings.Repeat("x", 2000)))
	if len(err.Body) > maxBodyInError+len("…") {
		t.Errorf("body not truncated: %d bytes", len(err.Body))
	}
}

func TestInvalidResponseMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Invalid(StageChat, "no choices returned"))
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatal("expected errors.Is(err, ErrInvalidResponse)")
	}
	if StageOf(err) != StageChat {
		t.Errorf("expected chat stage, got %q", StageOf(err))
	}
}

func TestStageOf(t *testing.T) {
	tests := []struct {
		err  error
		want Stage
	}{
		{&APIError{Stage: StageChat, StatusCode: 500}, StageChat},
		{&TransportError{Stage: StageTranscription, Err: errors.New("dial tcp: refused")}, StageTranscription},
		{fmt.Errorf("outer: %w", &TransportError{Stage: StageDownload, Err: errors.New("eof")}), StageDownload},
		{errors.New("plain"), ""},
	}
	for _, tt := range tests {
		if got := StageOf(tt.err); got != tt.want {
			t.Errorf("StageOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &TransportError{Stage: StageChat, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected TransportError to unwrap to inner error")
	}
}
