// Package summarize shortens article text and rephrases titles with a language model.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/newsrepost/internal/cache"
	"github.com/deusflow/newsrepost/internal/ratelimit"
)

// Summarizer is the language-model capability used by the repost loop.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetLength int) (string, error)
	RephraseTitle(ctx context.Context, title string) (string, error)
}

// maxSourceRunes bounds the article text sent to the model.
const maxSourceRunes = 12000

// SummaryPrompt builds the shortening instruction.
func SummaryPrompt(text string, targetLength int, language string) string {
	if language == "" {
		language = "the language of the text"
	}
	return fmt.Sprintf(`Retell the news text below in %s, shortening it to about %d characters.
The result may be slightly longer than that, but do not lose important details.
Answer with the retold text only, without a headline or comments.

%s`, language, targetLength, truncate(text))
}

// TitlePrompt builds the title rephrasing instruction.
func TitlePrompt(title string, language string) string {
	if language == "" {
		language = "the language of the headline"
	}
	return fmt.Sprintf(`Rephrase this news headline in %s, keeping its meaning and keeping it short.
Answer with the new headline only, without quotes.

%s`, language, strings.TrimSpace(title))
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxSourceRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxSourceRunes])
}

// Budgeted charges every model call against a shared daily budget.
type Budgeted struct {
	next     Summarizer
	provider string
	limiter  *ratelimit.AIRateLimiter
}

func NewBudgeted(next Summarizer, provider string, limiter *ratelimit.AIRateLimiter) *Budgeted {
	return &Budgeted{next: next, provider: provider, limiter: limiter}
}

func (b *Budgeted) Summarize(ctx context.Context, text string, targetLength int) (string, error) {
	if err := b.limiter.Use(b.provider); err != nil {
		return "", err
	}
	return b.next.Summarize(ctx, text, targetLength)
}

func (b *Budgeted) RephraseTitle(ctx context.Context, title string) (string, error) {
	if err := b.limiter.Use(b.provider); err != nil {
		return "", err
	}
	return b.next.RephraseTitle(ctx, title)
}

// Cached remembers model answers until Forget is called for them. The loop forgets
// answers it rejects, so a rejected summary is requested afresh next time.
type Cached struct {
	next  Summarizer
	cache *cache.Cache
}

func NewCached(next Summarizer, c *cache.Cache) *Cached {
	return &Cached{next: next, cache: c}
}

func (c *Cached) Summarize(ctx context.Context, text string, targetLength int) (string, error) {
	key := c.summaryKey(text, targetLength)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	out, err := c.next.Summarize(ctx, text, targetLength)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, out)
	return out, nil
}

func (c *Cached) RephraseTitle(ctx context.Context, title string) (string, error) {
	key := c.titleKey(title)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	out, err := c.next.RephraseTitle(ctx, title)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, out)
	return out, nil
}

// Forget drops the cached answers for one article.
func (c *Cached) Forget(title, text string, targetLength int) {
	c.cache.Delete(c.summaryKey(text, targetLength))
	c.cache.Delete(c.titleKey(title))
}

func (c *Cached) summaryKey(text string, targetLength int) string {
	return c.cache.GenerateKey("summary", fmt.Sprint(targetLength), text)
}

func (c *Cached) titleKey(title string) string {
	return c.cache.GenerateKey("title", title)
}

// Forgetter is implemented by summarizers that can drop a cached answer.
type Forgetter interface {
	Forget(title, text string, targetLength int)
}
