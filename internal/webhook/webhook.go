// Package webhook publishes to a content-platform channel through an HTTP
// publishing endpoint that accepts multipart posts.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/deusflow/newsrepost/internal/publish"
)

// Channel posts title, text and image to endpoint with an optional bearer token.
type Channel struct {
	endpoint string
	token    string
	footer   string
	client   *http.Client
}

// NewChannel creates a webhook publisher. A nil client gets a 30s timeout.
func NewChannel(endpoint, token, footer string, client *http.Client) *Channel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Channel{endpoint: endpoint, token: token, footer: footer, client: client}
}

type publishResponse struct {
	ID    json.RawMessage `json:"id"`
	Error string          `json:"error"`
}

// postID accepts both string and numeric ids.
func (r publishResponse) postID() string {
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(r.ID))
}

func (c *Channel) Publish(ctx context.Context, post publish.Post) (publish.PostID, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("title", post.Title); err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	if err := w.WriteField("text", publish.Body(post.Text, c.footer, post.Options)); err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	part, err := w.CreateFormFile("image", "image.png")
	if err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	if _, err := part.Write(post.Image); err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("webhook: read response: %w", err)
	}

	var out publishResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Error != "" {
			return "", fmt.Errorf("webhook: status %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	id := out.postID()
	if id == "" || id == "null" {
		return "", fmt.Errorf("webhook: response has no post id")
	}

	slog.Info("Post published to content platform", "post_id", id)
	return publish.PostID(id), nil
}
