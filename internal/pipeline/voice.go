package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxbot/internal/apierr"
	"voxbot/internal/chat"
	"voxbot/internal/messages"
	"voxbot/internal/transcode"
	"voxbot/internal/workpool"
	"voxbot/pkg/stt"
)

// Fetcher downloads the voice clip a pipeline run works on.
type Fetcher func(ctx context.Context) ([]byte, error)

// Replier sends one plain-text message to the user being served.
type Replier interface {
	Reply(ctx context.Context, text string) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, text string) error

func (f ReplierFunc) Reply(ctx context.Context, text string) error { return f(ctx, text) }

// Voice runs transcode, transcription and chat completion for one clip.
// All blocking steps run on the worker pool. Each Handle call owns its data,
// so any number may run concurrently.
type Voice struct {
	transcoder  transcode.Transcoder
	transcriber stt.Transcriber
	completer   chat.Completer
	pool        *workpool.Pool
	msgs        *messages.Catalog
	logger      *slog.Logger
}

func NewVoice(t transcode.Transcoder, s stt.Transcriber, c chat.Completer, pool *workpool.Pool, msgs *messages.Catalog, logger *slog.Logger) *Voice {
	if logger == nil {
		logger = slog.Default()
	}
	return &Voice{
		transcoder:  t,
		transcriber: s,
		completer:   c,
		pool:        pool,
		msgs:        msgs,
		logger:      logger.With("component", "pipeline.voice"),
	}
}

// Handle runs the pipeline and sends its replies: an acknowledgement, a
// progress note carrying the transcript, and the final result. A failure
// replaces the remaining messages with a single diagnostic.
func (v *Voice) Handle(ctx context.Context, fetch Fetcher, r Replier) Outcome {
	log := loggerFrom(ctx, v.logger).With("run", uuid.NewString())
	start := time.Now()

	stage := apierr.StageDownload
	out := v.guard(&stage, func() Outcome { return v.run(ctx, fetch, r, log, &stage) })

	if out.Failed() {
		log.Error("Voice pipeline failed", "kind", out.Kind, "stage", out.Stage, "err", out.Err)
	} else {
		log.Info("Voice pipeline done", "kind", out.Kind, "took", time.Since(start))
	}

	if text := Render(v.msgs, out, 0); text != "" {
		if err := r.Reply(ctx, text); err != nil {
			log.Warn("Failed to send reply", "kind", out.Kind, "err", err)
		}
	}
	return out
}

func (v *Voice) guard(stage *apierr.Stage, fn func() Outcome) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Kind: KindInternal, Stage: *stage, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return fn()
}

func (v *Voice) run(ctx context.Context, fetch Fetcher, r Replier, log *slog.Logger, stage *apierr.Stage) Outcome {
	clip, err := fetch(ctx)
	if err != nil {
		return failure(apierr.StageDownload, &apierr.TransportError{Stage: apierr.StageDownload, Err: err})
	}
	log.Debug("Clip fetched", "bytes", len(clip))

	if err := r.Reply(ctx, v.msgs.Processing); err != nil {
		log.Warn("Failed to send acknowledgement", "err", err)
	}

	*stage = apierr.StageTranscode
	wav, err := workpool.Do(ctx, v.pool, func(ctx context.Context) ([]byte, error) {
		return v.transcoder.Transcode(ctx, clip)
	})
	if err != nil {
		return failure(apierr.StageTranscode, err)
	}

	*stage = apierr.StageTranscription
	transcript, err := workpool.Do(ctx, v.pool, func(ctx context.Context) (string, error) {
		return v.transcriber.Transcribe(ctx, wav)
	})
	if err != nil {
		return failure(apierr.StageTranscription, err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Outcome{Kind: KindEmptyTranscription, Stage: apierr.StageTranscription}
	}
	log.Debug("Transcribed", "runes", len([]rune(transcript)))

	progress := messages.Render(v.msgs.ContactingAI, messages.Vars{Text: transcript})
	if err := r.Reply(ctx, progress); err != nil {
		log.Warn("Failed to send progress", "err", err)
	}

	*stage = apierr.StageChat
	reply, err := workpool.Do(ctx, v.pool, func(ctx context.Context) (string, error) {
		return v.completer.Complete(ctx, transcript)
	})
	if err != nil {
		return failure(apierr.StageChat, err)
	}
	if reply == "" {
		return Outcome{Kind: KindEmptyReply, Stage: apierr.StageChat}
	}
	return Outcome{Kind: KindSuccess, Text: reply}
}
