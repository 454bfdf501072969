package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deusflow/newsrepost/internal/cache"
	"github.com/deusflow/newsrepost/internal/config"
	"github.com/deusflow/newsrepost/internal/diagnostics"
	"github.com/deusflow/newsrepost/internal/gemini"
	"github.com/deusflow/newsrepost/internal/logger"
	"github.com/deusflow/newsrepost/internal/metrics"
	"github.com/deusflow/newsrepost/internal/news"
	"github.com/deusflow/newsrepost/internal/openai"
	"github.com/deusflow/newsrepost/internal/photo"
	"github.com/deusflow/newsrepost/internal/publish"
	"github.com/deusflow/newsrepost/internal/ratelimit"
	"github.com/deusflow/newsrepost/internal/retry"
	"github.com/deusflow/newsrepost/internal/rss"
	"github.com/deusflow/newsrepost/internal/scraper"
	"github.com/deusflow/newsrepost/internal/storage"
	"github.com/deusflow/newsrepost/internal/summarize"
	"github.com/deusflow/newsrepost/internal/telegram"
	"github.com/deusflow/newsrepost/internal/vk"
	"github.com/deusflow/newsrepost/internal/webhook"
)

const flushTimeout = 2 * time.Second

// Build assembles the loop from configuration. The returned cleanup closes every
// backend that was opened.
func Build(ctx context.Context, cfg *config.Config) (*Loop, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reporter := NewReporter(cfg)
	closers = append(closers, func() { reporter.Flush(flushTimeout) })

	client := &http.Client{Timeout: cfg.RequestTimeout}
	retryCfg := retry.RetryConfig{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Backoff: true}

	fetcher, err := NewFetcher(cfg.SourceConfigPath, client)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	budget := ratelimit.NewAIRateLimiter(cfg.MaxSummarizerRequests)
	summarizer, closeSummarizer, err := NewSummarizer(ctx, cfg, budget)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, closeSummarizer)

	transformer, err := NewTransformer(cfg.ImageFilters)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	ledger, closeLedger, err := OpenLedger(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, closeLedger)

	destinations, err := NewDestinations(cfg, client, retryCfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	loop, err := New(Deps{
		Fetcher:      fetcher,
		Summarizer:   summarizer,
		Images:       scraper.NewImageDownloader(client, retryCfg),
		Transformer:  transformer,
		Ledger:       ledger,
		Pending:      storage.NewPendingMarker(cfg.LedgerPath + ".pending"),
		Destinations: destinations,
		Reporter:     reporter,
		Metrics:      metrics.Global,
		Budget:       budget,
	}, Settings{
		TargetLength:   cfg.SummaryTargetLength,
		RephraseTitle:  cfg.RephraseTitle,
		MaxPostRunes:   cfg.MaxPostRunes,
		FitMarginRunes: cfg.FitMarginRunes,
		PerturbPixels:  cfg.PerturbPixels,
		Flip:           cfg.HorizontalFlip,
		IdleInterval:   cfg.IdleInterval,
		FanoutPolicy:   cfg.FanoutPolicy,
		PendingPolicy:  cfg.PendingPolicy,
		TempDir:        cfg.TempDir,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return loop, cleanup, nil
}

// NewReporter reports to Sentry when a DSN is configured and to the log otherwise.
func NewReporter(cfg *config.Config) diagnostics.Reporter {
	if cfg.SentryDSN == "" {
		return diagnostics.LogReporter{Logger: logger.Logger}
	}
	r, err := diagnostics.NewSentryReporter(cfg.SentryDSN, cfg.Environment, logger.Logger)
	if err != nil {
		logger.Warn("Sentry disabled", "err", err)
		return diagnostics.LogReporter{Logger: logger.Logger}
	}
	return r
}

// NewFetcher builds the source described by the YAML file at path.
func NewFetcher(path string, client *http.Client) (news.Fetcher, error) {
	src, err := scraper.LoadSourceConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load source config: %w", err)
	}
	if src.Kind == "rss" {
		return rss.NewFeedFetcher(src.FeedURL, client), nil
	}
	return scraper.NewHTMLFetcher(src.ListingURL, src.BaseURL, src.Selectors, client)
}

// NewSummarizer builds the configured provider behind the request budget and the cache.
func NewSummarizer(ctx context.Context, cfg *config.Config, budget *ratelimit.AIRateLimiter) (summarize.Summarizer, func(), error) {
	var (
		provider summarize.Summarizer
		closeFn  = func() {}
	)
	switch cfg.Summarizer {
	case config.SummarizerGemini:
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.SummaryLanguage)
		if err != nil {
			return nil, nil, err
		}
		provider, closeFn = c, c.Close
	case config.SummarizerOpenAI:
		provider = openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.SummaryLanguage)
	default:
		return nil, nil, fmt.Errorf("unknown summarizer %q", cfg.Summarizer)
	}

	budgeted := summarize.NewBudgeted(provider, cfg.Summarizer, budget)
	return summarize.NewCached(budgeted, cache.New(cfg.SummaryCacheTTL)), closeFn, nil
}

// NewTransformer uses the named filters, or every filter when names is empty.
func NewTransformer(names []string) (*photo.Transformer, error) {
	filters := photo.DefaultFilters()
	if len(names) > 0 {
		var err error
		if filters, err = filters.Subset(names); err != nil {
			return nil, err
		}
	}
	return photo.NewTransformer(filters, nil), nil
}

// OpenLedger opens PostgreSQL when DATABASE_URL is set and the ledger file otherwise.
func OpenLedger(ctx context.Context, cfg *config.Config) (storage.ScopedLedger, func(), error) {
	if cfg.DatabaseURL != "" {
		pl, err := storage.NewPostgresLedger(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pl, func() { pl.Close() }, nil
	}
	return storage.NewFileLedger(cfg.LedgerPath), func() {}, nil
}

// NewDestinations builds the publishers in the configured order.
func NewDestinations(cfg *config.Config, client *http.Client, retryCfg retry.RetryConfig) ([]Destination, error) {
	out := make([]Destination, 0, len(cfg.Destinations))
	for _, name := range cfg.Destinations {
		var p publish.Publisher
		switch name {
		case config.DestinationTelegram:
			p = telegram.NewChannel(cfg.TelegramToken, cfg.TelegramChatID, cfg.CrossPromoFooter,
				telegram.WithHTTPClient(client), telegram.WithRetry(retryCfg))
		case config.DestinationVK:
			p = vk.NewWall(cfg.VKAccessToken, cfg.VKGroupID, cfg.VKAPIVersion, cfg.CrossPromoFooter,
				vk.WithHTTPClient(client))
		case config.DestinationWebhook:
			p = webhook.NewChannel(cfg.WebhookURL, cfg.WebhookToken, cfg.CrossPromoFooter, client)
		default:
			return nil, fmt.Errorf("unknown destination %q", name)
		}

		opts := publish.Options{Footer: publish.FooterNone}
		if cfg.FooterFor(name) {
			opts.Footer = publish.FooterCrossPromo
		}
		out = append(out, Destination{Name: name, Publisher: p, Options: opts})
	}
	return out, nil
}
