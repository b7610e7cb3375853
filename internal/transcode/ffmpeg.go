package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"voxbot/pkg/audioconv"
)

const maxStderr = 1024

// FFmpeg transcodes by shelling out to ffmpeg.
type FFmpeg struct {
	command string
	tempDir string
	logger  *slog.Logger
}

func NewFFmpeg(command, tempDir string, logger *slog.Logger) *FFmpeg {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpeg{
		command: command,
		tempDir: tempDir,
		logger:  loggerOrDefault(logger).With("component", "transcode.ffmpeg"),
	}
}

func (f *FFmpeg) Transcode(ctx context.Context, clip []byte) ([]byte, error) {
	if len(clip) == 0 {
		return nil, &Error{Backend: "ffmpeg", Err: errors.New("empty clip")}
	}

	ws, err := newWorkspace(f.tempDir, f.logger)
	if err != nil {
		return nil, &Error{Backend: "ffmpeg", Err: err}
	}
	defer ws.remove()

	in, err := ws.writeClip(clip)
	if err != nil {
		return nil, &Error{Backend: "ffmpeg", Err: err}
	}
	out := ws.path("normalized.wav")

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-ar", strconv.Itoa(audioconv.TargetRate),
		"-ac", "1",
		"-acodec", "pcm_s16le",
		out,
	}

	cmd := exec.CommandContext(ctx, f.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &Error{
			Backend: "ffmpeg",
			Err:     fmt.Errorf("%s failed: %w", f.command, err),
			Stderr:  trimStderr(stderr.Bytes()),
		}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, &Error{Backend: "ffmpeg", Err: fmt.Errorf("output not produced: %w", err), Stderr: trimStderr(stderr.Bytes())}
	}
	if err := verify("ffmpeg", data); err != nil {
		return nil, err
	}

	f.logger.Debug("Transcoded", "in_bytes", len(clip), "out_bytes", len(data))
	return data, nil
}

func trimStderr(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderr {
		b = b[len(b)-maxStderr:]
	}
	return string(b)
}
