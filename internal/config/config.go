// Package config reads the bot's runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"voxbot/internal/chat"
	"voxbot/internal/transcode"
	"voxbot/internal/workpool"
	"voxbot/pkg/stt"
)

// Config is built once at startup and passed by value into constructors.
type Config struct {
	Telegram   TelegramConfig
	STT        STTConfig
	Chat       ChatConfig
	Transcoder TranscoderConfig
	Workers    int

	// MaxTextRunes is the longest plain-text message forwarded to the chat API.
	MaxTextRunes int
}

type TelegramConfig struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

type STTConfig struct {
	Backend      string // "remote" or "local"
	URL          string
	Token        string
	Timeout      time.Duration
	WhisperModel string
	Language     string
}

type ChatConfig struct {
	BaseURL string
	Token   string
	Model   string
}

type TranscoderConfig struct {
	Backend    transcode.Backend
	FFmpegPath string
	TempDir    string
}

const (
	BackendRemote = "remote"
	BackendLocal  = "local"

	DefaultTelegramAPI  = "https://api.telegram.org"
	DefaultPollTimeout  = 30 * time.Second
	DefaultMaxTextRunes = 300
)

var ErrMissing = errors.New("missing required setting")

// Load resolves configuration from environment variables and defaults.
// BOT_TOKEN and HF_TOKEN are required.
func Load() (Config, error) {
	hfToken := strings.TrimSpace(os.Getenv("HF_TOKEN"))

	cfg := Config{
		Telegram: TelegramConfig{
			Token:       strings.TrimSpace(os.Getenv("BOT_TOKEN")),
			APIURL:      strings.TrimSuffix(envOrDefault("TELEGRAM_API_URL", DefaultTelegramAPI), "/"),
			PollTimeout: envOrDefaultDuration("POLL_TIMEOUT", DefaultPollTimeout),
		},
		STT: STTConfig{
			Backend:      strings.ToLower(envOrDefault("STT_BACKEND", BackendRemote)),
			URL:          envOrDefault("STT_URL", stt.DefaultURL),
			Token:        hfToken,
			Timeout:      envOrDefaultDuration("STT_TIMEOUT", stt.DefaultTimeout),
			WhisperModel: strings.TrimSpace(os.Getenv("WHISPER_MODEL")),
			Language:     envOrDefault("WHISPER_LANGUAGE", "auto"),
		},
		Chat: ChatConfig{
			BaseURL: envOrDefault("CHAT_BASE_URL", chat.DefaultBaseURL),
			Token:   hfToken,
			Model:   envOrDefault("CHAT_MODEL", chat.DefaultModel),
		},
		Transcoder: TranscoderConfig{
			Backend:    transcode.Backend(strings.ToLower(envOrDefault("TRANSCODER", string(transcode.BackendFFmpeg)))),
			FFmpegPath: envOrDefault("FFMPEG_PATH", "ffmpeg"),
			TempDir:    strings.TrimSpace(os.Getenv("TEMP_DIR")),
		},
		Workers:      envOrDefaultInt("WORKERS", workpool.DefaultSize),
		MaxTextRunes: envOrDefaultInt("MAX_TEXT_RUNES", DefaultMaxTextRunes),
	}

	if cfg.Telegram.Token == "" {
		return Config{}, fmt.Errorf("%w: BOT_TOKEN", ErrMissing)
	}
	if hfToken == "" {
		return Config{}, fmt.Errorf("%w: HF_TOKEN", ErrMissing)
	}

	switch cfg.STT.Backend {
	case BackendRemote:
	case BackendLocal:
		if cfg.STT.WhisperModel == "" {
			return Config{}, fmt.Errorf("%w: WHISPER_MODEL (required with STT_BACKEND=local)", ErrMissing)
		}
	default:
		return Config{}, fmt.Errorf("unknown STT_BACKEND %q", cfg.STT.Backend)
	}

	switch cfg.Transcoder.Backend {
	case transcode.BackendFFmpeg, transcode.BackendNative:
	default:
		return Config{}, fmt.Errorf("unknown TRANSCODER %q", cfg.Transcoder.Backend)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = workpool.DefaultSize
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = DefaultMaxTextRunes
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultDuration accepts a Go duration ("90s") or a bare number of seconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
