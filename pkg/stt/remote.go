package stt

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"voxbot/internal/apierr"
)

const (
	DefaultURL     = "https://router.huggingface.co/hf-inference/models/openai/whisper-large-v3-turbo"
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 1 << 20
)

// Remote calls a hosted speech-recognition endpoint that accepts raw audio
// bytes and answers with {"text": "..."}.
type Remote struct {
	url     string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithURL overrides the endpoint URL.
func WithURL(url string) RemoteOption {
	return func(r *Remote) {
		if url != "" {
			r.url = url
		}
	}
}

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client (proxying, transport settings).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.http = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRemote(token string, opts ...RemoteOption) *Remote {
	r := &Remote{
		url:     DefaultURL,
		token:   token,
		timeout: DefaultTimeout,
		http:    http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "stt.remote")
	return r
}

// Transcribe posts wav in a single request. It never retries.
func (r *Remote) Transcribe(ctx context.Context, wav []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(wav))
	if err != nil {
		return "", &apierr.TransportError{Stage: apierr.StageTranscription, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "audio/wav")

	start := time.Now()
	resp, err := r.http.Do(req)
	if err != nil {
		return "", &apierr.TransportError{Stage: apierr.StageTranscription, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &apierr.TransportError{Stage: apierr.StageTranscription, Err: err}
	}

	r.logger.Debug("Transcription response", "status", resp.StatusCode, "bytes", len(body), "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apierr.NewAPIError(apierr.StageTranscription, resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return "", apierr.Invalid(apierr.StageTranscription, "response is not JSON")
	}
	return gjson.GetBytes(body, "text").String(), nil
}
