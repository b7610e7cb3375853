package transcode

import (
	"context"
	"errors"
	"log/slog"

	"voxbot/pkg/audioconv"
)

// Native transcodes in-process with the pure-Go/libopus decoders from audioconv.
type Native struct {
	tempDir string
	logger  *slog.Logger
}

func NewNative(tempDir string, logger *slog.Logger) *Native {
	return &Native{
		tempDir: tempDir,
		logger:  loggerOrDefault(logger).With("component", "transcode.native"),
	}
}

func (n *Native) Transcode(ctx context.Context, clip []byte) ([]byte, error) {
	if len(clip) == 0 {
		return nil, &Error{Backend: "native", Err: errors.New("empty clip")}
	}

	ws, err := newWorkspace(n.tempDir, n.logger)
	if err != nil {
		return nil, &Error{Backend: "native", Err: err}
	}
	defer ws.remove()

	in, err := ws.writeClip(clip)
	if err != nil {
		return nil, &Error{Backend: "native", Err: err}
	}

	samples, err := audioconv.DecodeFile(ctx, in, audioconv.Options{})
	if err != nil {
		return nil, &Error{Backend: "native", Err: err}
	}
	if len(samples) == 0 {
		return nil, &Error{Backend: "native", Err: errors.New("decoded no samples")}
	}

	data, err := audioconv.EncodeWAV(samples, audioconv.TargetRate)
	if err != nil {
		return nil, &Error{Backend: "native", Err: err}
	}
	if err := verify("native", data); err != nil {
		return nil, err
	}

	n.logger.Debug("Transcoded", "in_bytes", len(clip), "samples", len(samples))
	return data, nil
}
