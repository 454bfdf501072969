// Package openai summarizes news through the OpenAI chat completion API.
package openai

import (
	"context"
	"errors"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/deusflow/newsrepost/internal/summarize"
)

const DefaultModel = goopenai.GPT3Dot5Turbo16K

type Client struct {
	client   *goopenai.Client
	model    string
	language string
}

// NewClient creates a client. An empty baseURL uses the public API.
func NewClient(apiKey, baseURL, model, language string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: goopenai.NewClientWithConfig(cfg), model: model, language: language}
}

func (c *Client) Summarize(ctx context.Context, text string, targetLength int) (string, error) {
	return c.complete(ctx, summarize.SummaryPrompt(text, targetLength, c.language), 2000)
}

func (c *Client) RephraseTitle(ctx context.Context, title string) (string, error) {
	return c.complete(ctx, summarize.TitlePrompt(title, c.language), 200)
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
