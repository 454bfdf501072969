package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/deusflow/newsrepost/internal/news"
)

// FeedFetcher treats the newest feed item as the latest article.
type FeedFetcher struct {
	feedURL string
	parser  *gofeed.Parser
	items   map[string]*gofeed.Item // last parse, keyed by link
}

// NewFeedFetcher creates a fetcher. A nil client keeps gofeed's default client.
func NewFeedFetcher(feedURL string, client *http.Client) *FeedFetcher {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &FeedFetcher{feedURL: feedURL, parser: parser, items: map[string]*gofeed.Item{}}
}

// LatestArticleRef parses the feed and returns the link of the most recently published item.
func (f *FeedFetcher) LatestArticleRef(ctx context.Context) (news.ArticleRef, error) {
	feed, err := f.parser.ParseURLWithContext(f.feedURL, ctx)
	if err != nil {
		return news.ArticleRef{}, fmt.Errorf("error parsing RSS %s: %w", f.feedURL, err)
	}

	f.items = make(map[string]*gofeed.Item, len(feed.Items))
	var latest *gofeed.Item
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		f.items[strings.TrimSpace(item.Link)] = item
		if latest == nil || newer(item, latest) {
			latest = item
		}
	}
	if latest == nil {
		return news.ArticleRef{}, fmt.Errorf("%w: feed %s has no items with links", news.ErrNotFound, f.feedURL)
	}

	if feed.Image != nil && feed.Image.URL != "" && latest.Image == nil {
		latest.Image = &gofeed.Image{URL: feed.Image.URL}
	}
	return news.ArticleRef{URL: strings.TrimSpace(latest.Link)}, nil
}

// FetchArticle builds the article from the item seen by the last LatestArticleRef.
func (f *FeedFetcher) FetchArticle(_ context.Context, ref news.ArticleRef) (news.ArticleContent, error) {
	item, ok := f.items[ref.URL]
	if !ok {
		return news.ArticleContent{}, fmt.Errorf("%w: %s is not in the last feed parse", news.ErrNotFound, ref.URL)
	}

	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	body = stripHTML(body)

	imageURL := itemImage(item)
	switch {
	case strings.TrimSpace(item.Title) == "":
		return news.ArticleContent{}, fmt.Errorf("%w: item %s has no title", news.ErrNotFound, ref.URL)
	case body == "":
		return news.ArticleContent{}, fmt.Errorf("%w: item %s has no text", news.ErrNotFound, ref.URL)
	case imageURL == "":
		return news.ArticleContent{}, fmt.Errorf("%w: item %s has no image", news.ErrNotFound, ref.URL)
	}

	return news.ArticleContent{Title: strings.TrimSpace(item.Title), ImageURL: imageURL, Body: body}, nil
}

func newer(a, b *gofeed.Item) bool {
	if a.PublishedParsed == nil {
		return false
	}
	if b.PublishedParsed == nil {
		return true
	}
	return a.PublishedParsed.After(*b.PublishedParsed)
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, e := range item.Enclosures {
		if e != nil && strings.HasPrefix(e.Type, "image/") && e.URL != "" {
			return e.URL
		}
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, key := range []string{"content", "thumbnail"} {
			for _, ext := range media[key] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	return ""
}

func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return news.CleanText(s)
	}
	return news.CleanText(doc.Text())
}
