// Package chat sends a single user prompt to an OpenAI-compatible chat
// completion endpoint and returns the visible part of the answer.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voxbot/internal/apierr"
)

const (
	DefaultBaseURL = "https://router.huggingface.co/v1"
	DefaultModel   = "deepseek-ai/DeepSeek-R1"
)

// Completer returns the stripped reply to prompt. An empty string means the
// model produced nothing but reasoning.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a Completer backed by openai-go. Retries are disabled.
type Client struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/"),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger.With("component", "chat", "model", cfg.Model),
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(c.model),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", apierr.Invalid(apierr.StageChat, "no choices returned")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("Completed", "took", time.Since(start), "raw_len", len(content))

	return Strip(content), nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apierr.NewAPIError(apierr.StageChat, apiErr.StatusCode, nil)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &apierr.TransportError{Stage: apierr.StageChat, Err: err}
	}

	return apierr.Invalid(apierr.StageChat, "%v", err)
}
