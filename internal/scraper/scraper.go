package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/newsrepost/internal/news"
	"github.com/deusflow/newsrepost/internal/retry"
)

// Selectors locate the article parts on the listing and article pages.
type Selectors struct {
	Link      string `yaml:"link"`
	Title     string `yaml:"title"`
	Image     string `yaml:"image"`
	Paragraph string `yaml:"paragraph"`
	Skip      string `yaml:"skip"` // paragraphs containing a match are dropped
}

// HTMLFetcher reads the newest article from a listing page.
type HTMLFetcher struct {
	listingURL string
	baseURL    *url.URL
	selectors  Selectors
	client     *http.Client
}

// NewHTMLFetcher creates a fetcher. Relative links resolve against baseURL.
func NewHTMLFetcher(listingURL, baseURL string, selectors Selectors, client *http.Client) (*HTMLFetcher, error) {
	if baseURL == "" {
		baseURL = listingURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if selectors.Link == "" || selectors.Title == "" || selectors.Paragraph == "" {
		return nil, fmt.Errorf("link, title and paragraph selectors are required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTMLFetcher{listingURL: listingURL, baseURL: base, selectors: selectors, client: client}, nil
}

// LatestArticleRef returns the first link matched on the listing page.
func (f *HTMLFetcher) LatestArticleRef(ctx context.Context) (news.ArticleRef, error) {
	doc, err := f.document(ctx, f.listingURL)
	if err != nil {
		return news.ArticleRef{}, err
	}

	href, ok := doc.Find(f.selectors.Link).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return news.ArticleRef{}, fmt.Errorf("%w: no link matches %q on %s", news.ErrNotFound, f.selectors.Link, f.listingURL)
	}

	abs, err := f.resolve(href)
	if err != nil {
		return news.ArticleRef{}, err
	}
	return news.ArticleRef{URL: abs}, nil
}

// FetchArticle reads title, lead image and body text of the article page.
func (f *HTMLFetcher) FetchArticle(ctx context.Context, ref news.ArticleRef) (news.ArticleContent, error) {
	doc, err := f.document(ctx, ref.URL)
	if err != nil {
		return news.ArticleContent{}, err
	}

	title := strings.TrimSpace(doc.Find(f.selectors.Title).First().Text())
	if title == "" {
		return news.ArticleContent{}, fmt.Errorf("%w: no title on %s", news.ErrNotFound, ref.URL)
	}

	var imageURL string
	if f.selectors.Image != "" {
		if src, ok := doc.Find(f.selectors.Image).First().Attr("src"); ok && strings.TrimSpace(src) != "" {
			if imageURL, err = f.resolve(strings.TrimSpace(src)); err != nil {
				return news.ArticleContent{}, err
			}
		}
	}
	if imageURL == "" {
		return news.ArticleContent{}, fmt.Errorf("%w: no lead image on %s", news.ErrNotFound, ref.URL)
	}

	var paragraphs []string
	doc.Find(f.selectors.Paragraph).Each(func(i int, s *goquery.Selection) {
		if f.selectors.Skip != "" && s.Find(f.selectors.Skip).Length() > 0 {
			return
		}
		paragraphs = append(paragraphs, s.Text())
	})
	body := strings.TrimSpace(strings.Join(paragraphs, " "))
	if body == "" {
		return news.ArticleContent{}, fmt.Errorf("%w: empty body on %s", news.ErrNotFound, ref.URL)
	}

	return news.ArticleContent{Title: title, ImageURL: imageURL, Body: body}, nil
}

func (f *HTMLFetcher) document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d for %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}
	return doc, nil
}

func (f *HTMLFetcher) resolve(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", href, err)
	}
	return f.baseURL.ResolveReference(u).String(), nil
}

// ImageDownloader fetches lead images, retrying transient failures.
type ImageDownloader struct {
	client   *http.Client
	retry    retry.RetryConfig
	maxBytes int64 // larger images are refused
}

// NewImageDownloader creates a downloader. A nil client gets a 30s timeout.
func NewImageDownloader(client *http.Client, cfg retry.RetryConfig) *ImageDownloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImageDownloader{client: client, retry: cfg, maxBytes: 20 << 20}
}

// Download returns the raw bytes at imageURL.
func (d *ImageDownloader) Download(ctx context.Context, imageURL string) ([]byte, error) {
	var data []byte
	err := retry.WithRetry(ctx, d.retry, func() error {
		var err error
		data, err = d.downloadOnce(ctx, imageURL)
		if err != nil {
			slog.Warn("image download failed", "url", imageURL, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download image %s: %w", imageURL, err)
	}
	return data, nil
}

func (d *ImageDownloader) downloadOnce(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, retry.Permanent(fmt.Errorf("HTTP error: %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > d.maxBytes {
		return nil, retry.Permanent(fmt.Errorf("image larger than %d bytes", d.maxBytes))
	}
	return data, nil
}
