// Package telegram is a small Bot API client covering long polling, file
// download and plain-text replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	// MaxMessageRunes is the Bot API limit for one text message.
	MaxMessageRunes = 4096

	// MaxDownloadBytes is the Bot API limit for getFile downloads.
	MaxDownloadBytes = 20 << 20
)

var ErrTooLarge = errors.New("telegram: file too large")

// Error is an ok=false answer or a non-2xx status from the Bot API.
type Error struct {
	Method      string
	Code        int
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram %s: error %d", e.Method, e.Code)
	}
	return fmt.Sprintf("telegram %s: error %d: %s", e.Method, e.Code, e.Description)
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type envelope struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redact(err, c.token))
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("telegram %s: read body: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &Error{Method: method, Code: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !env.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &Error{Method: method, Code: code, Description: env.Description}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, method string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

// GetUpdates long-polls for updates after offset. It returns the updates and
// the offset to pass on the next call.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 0 {
		secs = 0
	}
	q := url.Values{}
	q.Set("timeout", fmt.Sprint(secs))
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	q.Set("allowed_updates", `["message"]`)

	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, offset, err
	}

	var updates []Update
	if err := c.do(req, "getUpdates", &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

type sendMessageRequest struct {
	ChatID           int64  `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

// SendMessage sends text as plain text. replyTo may be 0.
func (c *Client) SendMessage(ctx context.Context, chatID, replyTo int64, text string) error {
	return c.postJSON(ctx, "sendMessage", sendMessageRequest{
		ChatID:           chatID,
		Text:             text,
		ReplyToMessageID: replyTo,
	}, nil)
}

// GetFile resolves a file id into a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, errors.New("telegram getFile: missing file_id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getFile")+"?file_id="+url.QueryEscape(fileID), nil)
	if err != nil {
		return nil, err
	}
	var f File
	if err := c.do(req, "getFile", &f); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return nil, errors.New("telegram getFile: missing file_path")
	}
	return &f, nil
}

// Download fetches a file by the path returned from GetFile. Files larger
// than maxBytes fail with ErrTooLarge.
func (c *Client) Download(ctx context.Context, filePath string, maxBytes int64) ([]byte, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil, errors.New("telegram download: missing file_path")
	}
	if maxBytes <= 0 {
		maxBytes = MaxDownloadBytes
	}

	u := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", redact(err, c.token))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Method: "download", Code: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (>%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// FetchFile is GetFile followed by Download.
func (c *Client) FetchFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && f.FileSize > maxBytes {
		return nil, fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, f.FileSize, maxBytes)
	}
	return c.Download(ctx, f.FilePath, maxBytes)
}

// redact strips the bot token from URL errors so it never reaches logs.
func redact(err error, token string) error {
	if token == "" {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: strings.ReplaceAll(urlErr.URL, token, "<token>"), Err: urlErr.Err}
	}
	return err
}

// SplitText cuts text into chunks of at most limit runes, preferring to break
// after a newline in the second half of a chunk.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageRunes
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
