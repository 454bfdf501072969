// Package news holds the article types shared by the fetchers and the repost loop.
package news

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrNotFound is returned when the source page yields no article link or required field.
var ErrNotFound = errors.New("news not found")

// ArticleRef identifies an article by its absolute URL.
type ArticleRef struct {
	URL string
}

// ArticleContent is the full article as fetched from the source. It lives for one cycle.
type ArticleContent struct {
	Title    string
	ImageURL string
	Body     string
}

// Fetcher reads articles from a news source.
type Fetcher interface {
	LatestArticleRef(ctx context.Context) (ArticleRef, error)
	FetchArticle(ctx context.Context, ref ArticleRef) (ArticleContent, error)
}

// RenderedLength is the size of a post in runes as counted against the platform budget.
func RenderedLength(title, text string, margin int) int {
	return utf8.RuneCountInString(title) + utf8.RuneCountInString(text) + margin
}

// CleanText collapses whitespace runs into single spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.Join(strings.Fields(s), " ")
}
