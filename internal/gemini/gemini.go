// Package gemini summarizes news with Google's Gemini models.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/deusflow/newsrepost/internal/summarize"
)

const DefaultModel = "gemini-1.5-flash"

type Client struct {
	client   *genai.Client
	model    string
	language string
}

func NewClient(ctx context.Context, apiKey, model, language string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: client, model: model, language: language}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Client) Summarize(ctx context.Context, text string, targetLength int) (string, error) {
	return c.generate(ctx, summarize.SummaryPrompt(text, targetLength, c.language))
}

func (c *Client) RephraseTitle(ctx context.Context, title string) (string, error) {
	return c.generate(ctx, summarize.TitlePrompt(title, c.language))
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.GenerativeModel(c.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return responseText(resp)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from Gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("no response from Gemini")
	}
	return out, nil
}
