package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"voxbot/internal/bot"
	"voxbot/internal/chat"
	"voxbot/internal/config"
	"voxbot/internal/ipc"
	"voxbot/internal/messages"
	"voxbot/internal/pipeline"
	"voxbot/internal/proxy"
	"voxbot/internal/telegram"
	"voxbot/internal/transcode"
	"voxbot/internal/workpool"
	"voxbot/pkg/stt"
	"voxbot/pkg/stt/local"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks5 proxy address (empty = direct)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	messagesFile := cli.StringP("messages", "m", "", "YAML file overriding reply texts")
	socketPath := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path (empty = disabled)")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load env file", "path", *envFile, "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	msgs, err := messages.Load(*messagesFile)
	if err != nil {
		log.Error("Failed to load messages", "err", err)
		os.Exit(1)
	}

	// No client-level timeout: long polls and transcription set their own deadlines.
	httpClient, err := proxy.NewHTTPClient(*proxyAddr, 0)
	if err != nil {
		log.Error("Failed to set up proxy", "proxy", *proxyAddr, "err", err)
		os.Exit(1)
	}
	if *proxyAddr != "" {
		log.Debug("Using socks proxy", "proxy", *proxyAddr)
	}

	tc, err := transcode.New(transcode.Options{
		Backend: cfg.Transcoder.Backend,
		Command: cfg.Transcoder.FFmpegPath,
		TempDir: cfg.Transcoder.TempDir,
		Logger:  log.Default(),
	})
	if err != nil {
		log.Error("Failed to init transcoder", "err", err)
		os.Exit(1)
	}

	var transcriber stt.Transcriber
	switch cfg.STT.Backend {
	case config.BackendLocal:
		w, err := local.NewWhisper(cfg.STT.WhisperModel, local.Options{Language: cfg.STT.Language})
		if err != nil {
			log.Error("Failed to init whisper", "model", cfg.STT.WhisperModel, "err", err)
			os.Exit(1)
		}
		defer w.Close()
		transcriber = w
		log.Debug("Loaded whisper", "model", cfg.STT.WhisperModel)
	default:
		transcriber = stt.NewRemote(cfg.STT.Token,
			stt.WithURL(cfg.STT.URL),
			stt.WithTimeout(cfg.STT.Timeout),
			stt.WithHTTPClient(httpClient),
			stt.WithLogger(log.Default()),
		)
	}

	completer := chat.New(chat.Config{
		BaseURL:    cfg.Chat.BaseURL,
		APIKey:     cfg.Chat.Token,
		Model:      cfg.Chat.Model,
		HTTPClient: httpClient,
		Logger:     log.Default(),
	})

	pool := workpool.New(cfg.Workers, log.Default())
	pool.Start()
	defer pool.Stop()

	voice := pipeline.NewVoice(tc, transcriber, completer, pool, msgs, log.Default())
	text := pipeline.NewText(completer, pool, cfg.MaxTextRunes, log.Default())

	api := telegram.NewClient(httpClient, cfg.Telegram.APIURL, cfg.Telegram.Token)
	b := bot.New(api, voice, text, msgs, bot.Options{
		PollTimeout: cfg.Telegram.PollTimeout,
		Logger:      log.Default(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *socketPath != "" {
		go func() {
			err := ipc.Serve(ctx, *socketPath, func(ctx context.Context, req ipc.Request) (any, error) {
				switch req.Cmd {
				case "status":
					return status{Stats: b.Stats(), Workers: pool.Size(), Busy: pool.Busy()}, nil
				default:
					return nil, errors.New("unknown command: " + req.Cmd)
				}
			}, log.Default())
			if err != nil {
				log.Warn("Control socket disabled", "path", *socketPath, "err", err)
			}
		}()
	}

	log.Info("Boot up - successful",
		"transcoder", cfg.Transcoder.Backend,
		"stt", cfg.STT.Backend,
		"model", cfg.Chat.Model,
		"workers", cfg.Workers,
	)

	if err := b.Run(ctx); err != nil {
		log.Error("Bot stopped", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

type status struct {
	bot.Stats
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
}
