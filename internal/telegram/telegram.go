package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/newsrepost/internal/publish"
	"github.com/deusflow/newsrepost/internal/retry"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// Telegram rejects photo captions longer than this.
	captionLimit = 1024
)

// APIError is an error answer of the Bot API.
type APIError struct {
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error: status %d: %s", e.StatusCode, e.Description)
}

// Channel publishes photo posts to a Telegram chat or channel.
type Channel struct {
	token   string
	chatID  string
	footer  string
	baseURL string
	client  *http.Client
	retry   retry.RetryConfig
}

// Option configures a Channel.
type Option func(*Channel)

// WithBaseURL points the channel at another Bot API server.
func WithBaseURL(u string) Option {
	return func(c *Channel) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) { c.client = client }
}

// WithRetry replaces the default retry policy.
func WithRetry(cfg retry.RetryConfig) Option {
	return func(c *Channel) { c.retry = cfg }
}

// NewChannel creates a channel publisher. footer is appended when a post asks for it.
func NewChannel(token, chatID, footer string, opts ...Option) *Channel {
	c := &Channel{
		token:   token,
		chatID:  chatID,
		footer:  footer,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish sends the image with a Markdown caption: bold title, blank line, text, footer.
func (c *Channel) Publish(ctx context.Context, post publish.Post) (publish.PostID, error) {
	caption, err := Caption(post.Title, post.Text, publish.Footer(c.footer, post.Options))
	if err != nil {
		return "", err
	}

	var id publish.PostID
	attempt := 0
	err = retry.WithRetry(ctx, c.retry, func() error {
		attempt++
		var err error
		id, err = c.sendPhotoOnce(ctx, post.Image, caption)
		if err != nil {
			slog.Warn("Error send photo to Telegram", "attempt", attempt, "max", c.retry.MaxAttempts, "err", err)
		}
		return err
	})
	if err != nil {
		return "", err
	}

	slog.Info("Photo sent to Telegram", "chat_id", c.chatID, "message_id", id, "attempt", attempt)
	return id, nil
}

// ErrCaptionTooLong is returned when the title and footer alone exceed the caption limit.
var ErrCaptionTooLong = errors.New("telegram caption too long")

// Caption renders the post caption in Telegram's legacy Markdown: bold title, blank line,
// text, then the footer when it is not empty. Only the text is shortened to fit the
// escaped caption into the limit; the footer is kept whole and escapes are never split.
func Caption(title, text, footer string) (string, error) {
	head := "*" + escapeMarkdown(strings.TrimSpace(title)) + "*\n\n"
	var tail string
	if footer = strings.TrimSpace(footer); footer != "" {
		tail = "\n\n" + escapeMarkdown(footer)
	}

	budget := captionLimit - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)
	if budget < 0 {
		return "", fmt.Errorf("%w: title and footer need %d runes, limit is %d", ErrCaptionTooLong, captionLimit-budget, captionLimit)
	}

	var body strings.Builder
	for _, r := range strings.TrimSpace(text) {
		piece := escapeMarkdown(string(r))
		n := utf8.RuneCountInString(piece)
		if n > budget {
			break
		}
		budget -= n
		body.WriteString(piece)
	}
	return head + body.String() + tail, nil
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

type sendPhotoResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (c *Channel) sendPhotoOnce(ctx context.Context, image []byte, caption string) (publish.PostID, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"chat_id":    c.chatID,
		"caption":    caption,
		"parse_mode": "Markdown",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", retry.Permanent(fmt.Errorf("error make form: %w", err))
		}
	}
	part, err := w.CreateFormFile("photo", "photo.png")
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("error make form: %w", err))
	}
	if _, err := part.Write(image); err != nil {
		return "", retry.Permanent(fmt.Errorf("error make form: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", retry.Permanent(fmt.Errorf("error make form: %w", err))
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("error make request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error HTTP request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Warn("failed to close response body", "err", err)
		}
	}(resp.Body)

	var out sendPhotoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", classify(&APIError{StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)})
		}
		return "", fmt.Errorf("error decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !out.OK {
		return "", classify(&APIError{StatusCode: resp.StatusCode, ErrorCode: out.ErrorCode, Description: out.Description})
	}

	return publish.PostID(strconv.FormatInt(out.Result.MessageID, 10)), nil
}

// classify keeps server errors and flood control retryable.
func classify(err *APIError) error {
	if err.StatusCode >= 500 || err.StatusCode == http.StatusTooManyRequests {
		return err
	}
	return retry.Permanent(err)
}
