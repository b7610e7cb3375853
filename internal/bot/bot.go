// Package bot polls Telegram for updates and routes each message to the
// matching pipeline.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxbot/internal/messages"
	"voxbot/internal/pipeline"
	"voxbot/internal/telegram"
)

// API is the subset of the Telegram client the dispatcher uses.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
	SendMessage(ctx context.Context, chatID, replyTo int64, text string) error
	FetchFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

type VoiceHandler interface {
	Handle(ctx context.Context, fetch pipeline.Fetcher, r pipeline.Replier) pipeline.Outcome
}

type TextHandler interface {
	Handle(ctx context.Context, text string) pipeline.Outcome
	MaxRunes() int
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

type Bot struct {
	api         API
	voice       VoiceHandler
	text        TextHandler
	msgs        *messages.Catalog
	pollTimeout time.Duration
	logger      *slog.Logger

	wg       sync.WaitGroup
	started  time.Time
	updates  atomic.Int64
	inFlight atomic.Int64

	mu       sync.Mutex
	outcomes map[pipeline.Kind]int64
}

// Stats is a snapshot of what the bot has handled since start.
type Stats struct {
	Started  time.Time               `json:"started"`
	Updates  int64                   `json:"updates"`
	InFlight int64                   `json:"in_flight"`
	Outcomes map[pipeline.Kind]int64 `json:"outcomes"`
}

type Options struct {
	PollTimeout time.Duration
	Logger      *slog.Logger
}

func New(api API, voice VoiceHandler, text TextHandler, msgs *messages.Catalog, opts Options) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bot{
		api:         api,
		voice:       voice,
		text:        text,
		msgs:        msgs,
		pollTimeout: opts.PollTimeout,
		logger:      opts.Logger.With("component", "bot"),
		started:     time.Now(),
		outcomes:    make(map[pipeline.Kind]int64),
	}
}

func (b *Bot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[pipeline.Kind]int64, len(b.outcomes))
	for k, v := range b.outcomes {
		out[k] = v
	}
	return Stats{
		Started:  b.started,
		Updates:  b.updates.Load(),
		InFlight: b.inFlight.Load(),
		Outcomes: out,
	}
}

func (b *Bot) record(kind pipeline.Kind) {
	b.mu.Lock()
	b.outcomes[kind]++
	b.mu.Unlock()
}

// Run polls until ctx is done, then waits for in-flight messages to finish.
// Handlers are not cancelled by ctx.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Polling for updates", "timeout", b.pollTimeout)
	defer b.wg.Wait()

	work := context.WithoutCancel(ctx)
	var offset int64
	backoff := minBackoff

	for {
		updates, next, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("Stopping poll loop, waiting for in-flight messages")
				return nil
			}
			b.logger.Warn("getUpdates failed", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		offset = next

		for _, u := range updates {
			b.wg.Add(1)
			go b.handle(work, u)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Wait blocks until every dispatched update has been handled.
func (b *Bot) Wait() { b.wg.Wait() }

func (b *Bot) handle(ctx context.Context, u telegram.Update) {
	defer b.wg.Done()
	b.updates.Add(1)
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	m := u.Message
	if m == nil || m.Chat == nil || (m.From != nil && m.From.IsBot) {
		return
	}

	log := b.logger.With("chat_id", m.Chat.ID, "update_id", u.UpdateID)
	defer func() {
		if p := recover(); p != nil {
			log.Error("Handler panicked", "panic", p, "stack", string(debug.Stack()))
			b.record(pipeline.KindInternal)
		}
	}()

	ctx = pipeline.WithLogger(ctx, log)
	r := &replier{api: b.api, chatID: m.Chat.ID, replyTo: m.MessageID}

	switch {
	case m.Voice != nil:
		log.Info("Voice message", "duration", m.Voice.Duration, "size", m.Voice.FileSize)
		b.record(b.voice.Handle(ctx, b.fetcher(m.Voice.FileID), r).Kind)
	case m.Audio != nil:
		log.Info("Audio message", "duration", m.Audio.Duration, "mime", m.Audio.MimeType)
		b.record(b.voice.Handle(ctx, b.fetcher(m.Audio.FileID), r).Kind)
	case m.Document != nil && strings.HasPrefix(m.Document.MimeType, "audio/"):
		log.Info("Audio document", "mime", m.Document.MimeType, "name", m.Document.FileName)
		b.record(b.voice.Handle(ctx, b.fetcher(m.Document.FileID), r).Kind)
	case strings.HasPrefix(m.Text, "/"):
		b.command(ctx, log, r, m.Text)
	case strings.TrimSpace(m.Text) != "":
		out := b.text.Handle(ctx, m.Text)
		log.Info("Text message", "kind", out.Kind)
		b.record(out.Kind)
		b.send(ctx, log, r, pipeline.Render(b.msgs, out, b.text.MaxRunes()))
	default:
		b.send(ctx, log, r, b.msgs.Unsupported)
	}
}

func (b *Bot) command(ctx context.Context, log *slog.Logger, r *replier, text string) {
	switch commandName(text) {
	case "/start":
		b.send(ctx, log, r, b.msgs.Greeting)
	case "/help":
		b.send(ctx, log, r, messages.Render(b.msgs.Help, messages.Vars{Limit: b.text.MaxRunes()}))
	default:
		log.Debug("Ignoring command", "command", commandName(text))
	}
}

func (b *Bot) send(ctx context.Context, log *slog.Logger, r *replier, text string) {
	if text == "" {
		return
	}
	if err := r.Reply(ctx, text); err != nil {
		log.Warn("Failed to send reply", "err", err)
	}
}

func (b *Bot) fetcher(fileID string) pipeline.Fetcher {
	return func(ctx context.Context) ([]byte, error) {
		if fileID == "" {
			return nil, errors.New("message has no file id")
		}
		return b.api.FetchFile(ctx, fileID, telegram.MaxDownloadBytes)
	}
}

// commandName returns "/cmd" for "/cmd@BotName args", lower-cased.
func commandName(text string) string {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "\n")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}

// replier answers in one chat, splitting text that exceeds the message limit.
type replier struct {
	api     API
	chatID  int64
	replyTo int64
}

func (r *replier) Reply(ctx context.Context, text string) error {
	for i, chunk := range telegram.SplitText(text, telegram.MaxMessageRunes) {
		replyTo := int64(0)
		if i == 0 {
			replyTo = r.replyTo
		}
		if err := r.api.SendMessage(ctx, r.chatID, replyTo, chunk); err != nil {
			return err
		}
	}
	return nil
}
