// Package transcode turns compressed voice clips into mono 16 kHz 16-bit PCM WAV.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"voxbot/pkg/audioconv"
)

// ErrTranscode matches every *Error through errors.Is.
var ErrTranscode = errors.New("transcode failed")

// Error reports a failed decode/resample step.
type Error struct {
	Backend string
	Err     error

	// Stderr is the decoder's diagnostic output, if any.
	Stderr string
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transcode (%s): %v: %s", e.Backend, e.Err, e.Stderr)
	}
	return fmt.Sprintf("transcode (%s): %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTranscode }

// Transcoder converts a VoiceClip into NormalizedAudio.
type Transcoder interface {
	Transcode(ctx context.Context, clip []byte) ([]byte, error)
}

// Backend selects a Transcoder implementation.
type Backend string

const (
	BackendFFmpeg Backend = "ffmpeg"
	BackendNative Backend = "native"
)

// Options configure New.
type Options struct {
	Backend Backend

	// Command is the ffmpeg executable. Defaults to "ffmpeg".
	Command string

	// TempDir is the parent of per-call staging dirs. Defaults to os.TempDir().
	TempDir string

	Logger *slog.Logger
}

// New returns the transcoder selected by opts.Backend.
func New(opts Options) (Transcoder, error) {
	switch opts.Backend {
	case "", BackendFFmpeg:
		return NewFFmpeg(opts.Command, opts.TempDir, opts.Logger), nil
	case BackendNative:
		return NewNative(opts.TempDir, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown transcoder backend %q", opts.Backend)
	}
}

// workspace is a per-call staging directory. Its name carries a uuid so that
// concurrent calls never share paths.
type workspace struct {
	dir    string
	logger *slog.Logger
}

func newWorkspace(parent string, logger *slog.Logger) (*workspace, error) {
	dir, err := os.MkdirTemp(parent, "voxbot-"+uuid.NewString()+"-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &workspace{dir: dir, logger: logger}, nil
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

// writeClip stages the clip with an extension matching its sniffed container.
func (w *workspace) writeClip(clip []byte) (string, error) {
	ext := ".bin"
	if kind := audioconv.Sniff(clip); kind != audioconv.ContainerUnknown {
		ext = "." + string(kind)
	}
	p := w.path("clip" + ext)
	if err := os.WriteFile(p, clip, 0o600); err != nil {
		return "", fmt.Errorf("stage clip: %w", err)
	}
	return p, nil
}

func (w *workspace) remove() {
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("Failed to remove staging dir", "dir", w.dir, "err", err)
	}
}

// verify checks that data is a WAV in the normalized format.
func verify(backend string, data []byte) error {
	f, err := audioconv.Inspect(data)
	if err != nil {
		return &Error{Backend: backend, Err: fmt.Errorf("output is not a wav file: %w", err)}
	}
	if !f.IsNormalized() {
		return &Error{Backend: backend, Err: fmt.Errorf("output has wrong format: %s", f)}
	}
	return nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l
}
