// Package pipeline turns one incoming voice or text message into the replies
// the user sees.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"voxbot/internal/apierr"
	"voxbot/internal/messages"
	"voxbot/internal/transcode"
	"voxbot/internal/workpool"
)

// Kind is the terminal state of one pipeline run.
type Kind string

const (
	KindSuccess            Kind = "success"
	KindEmptyTranscription Kind = "empty_transcription"
	KindEmptyReply         Kind = "empty_reply"
	KindAPIError           Kind = "api_error"
	KindTransportError     Kind = "transport_error"
	KindInvalidResponse    Kind = "invalid_response"
	KindTranscodeFailed    Kind = "transcode_failed"
	KindTooLong            Kind = "too_long"
	KindIgnored            Kind = "ignored"
	KindInternal           Kind = "internal"
)

// Outcome drives exactly one user-visible message, except KindIgnored which
// drives none.
type Outcome struct {
	Kind Kind

	// Text is the reply on success, or the transcript when one was produced.
	Text  string
	Stage apierr.Stage
	Err   error
}

// Failed reports whether the outcome is an error rather than a valid result.
func (o Outcome) Failed() bool {
	switch o.Kind {
	case KindAPIError, KindTransportError, KindInvalidResponse, KindTranscodeFailed, KindInternal:
		return true
	}
	return false
}

func failure(stage apierr.Stage, err error) Outcome {
	o := Outcome{Stage: stage, Err: err}

	var apiErr *apierr.APIError
	var netErr *apierr.TransportError
	var panicErr *workpool.PanicError
	switch {
	case errors.As(err, &panicErr):
		o.Kind = KindInternal
	case errors.Is(err, transcode.ErrTranscode):
		o.Kind = KindTranscodeFailed
	case errors.As(err, &apiErr):
		o.Kind = KindAPIError
	case errors.As(err, &netErr):
		o.Kind = KindTransportError
	case errors.Is(err, apierr.ErrInvalidResponse):
		o.Kind = KindInvalidResponse
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		o.Kind = KindTransportError
	default:
		o.Kind = KindInternal
	}
	if s := apierr.StageOf(err); s != "" {
		o.Stage = s
	}
	return o
}

// Render returns the message for o, or "" for KindIgnored.
func Render(c *messages.Catalog, o Outcome, maxTextRunes int) string {
	v := messages.Vars{Text: o.Text, Stage: string(o.Stage), Limit: maxTextRunes}
	if o.Err != nil {
		v.Detail = o.Err.Error()
	}

	switch o.Kind {
	case KindSuccess:
		return messages.Render(c.Result, v)
	case KindEmptyTranscription:
		return messages.Render(c.NoSpeech, v)
	case KindEmptyReply:
		return messages.Render(c.EmptyReply, v)
	case KindTooLong:
		return messages.Render(c.TooLong, v)
	case KindTranscodeFailed:
		return messages.Render(c.Errors.Transcode, v)
	case KindAPIError:
		return messages.Render(c.Errors.API, v)
	case KindTransportError:
		return messages.Render(c.Errors.Transport, v)
	case KindInvalidResponse:
		return messages.Render(c.Errors.InvalidResponse, v)
	case KindInternal:
		return messages.Render(c.Errors.Internal, v)
	default:
		return ""
	}
}

type loggerKey struct{}

// WithLogger attaches a request-scoped logger (chat id, update id) to ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
