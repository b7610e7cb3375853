package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"voxbot/internal/apierr"
	"voxbot/internal/chat"
	"voxbot/internal/workpool"
)

const DefaultMaxTextRunes = 300

// Text forwards short plain-text messages to the chat model.
type Text struct {
	completer chat.Completer
	pool      *workpool.Pool
	maxRunes  int
	logger    *slog.Logger
}

func NewText(c chat.Completer, pool *workpool.Pool, maxRunes int, logger *slog.Logger) *Text {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxTextRunes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Text{
		completer: c,
		pool:      pool,
		maxRunes:  maxRunes,
		logger:    logger.With("component", "pipeline.text"),
	}
}

// MaxRunes is the length gate applied by Handle.
func (t *Text) MaxRunes() int { return t.maxRunes }

// Handle classifies text and, if it passes the gate, asks the chat model.
// Commands are ignored and over-long messages never reach the API.
func (t *Text) Handle(ctx context.Context, text string) (out Outcome) {
	if strings.HasPrefix(text, "/") || strings.TrimSpace(text) == "" {
		return Outcome{Kind: KindIgnored}
	}
	if n := utf8.RuneCountInString(text); n > t.maxRunes {
		return Outcome{Kind: KindTooLong, Err: fmt.Errorf("%d runes exceeds %d", n, t.maxRunes)}
	}

	log := loggerFrom(ctx, t.logger)
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Kind: KindInternal, Stage: apierr.StageChat, Err: fmt.Errorf("panic: %v", p)}
		}
		if out.Failed() {
			log.Error("Text pipeline failed", "kind", out.Kind, "stage", out.Stage, "err", out.Err)
		}
	}()

	reply, err := workpool.Do(ctx, t.pool, func(ctx context.Context) (string, error) {
		return t.completer.Complete(ctx, text)
	})
	if err != nil {
		return failure(apierr.StageChat, err)
	}
	if reply == "" {
		return Outcome{Kind: KindEmptyReply, Stage: apierr.StageChat}
	}
	return Outcome{Kind: KindSuccess, Text: reply}
}
