// Package app runs the poll-publish loop: fetch the latest article, skip it when already
// published, otherwise summarize it, make its photo unique and post it to every destination.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/deusflow/newsrepost/internal/config"
	"github.com/deusflow/newsrepost/internal/diagnostics"
	"github.com/deusflow/newsrepost/internal/logger"
	"github.com/deusflow/newsrepost/internal/metrics"
	"github.com/deusflow/newsrepost/internal/news"
	"github.com/deusflow/newsrepost/internal/photo"
	"github.com/deusflow/newsrepost/internal/publish"
	"github.com/deusflow/newsrepost/internal/ratelimit"
	"github.com/deusflow/newsrepost/internal/storage"
	"github.com/deusflow/newsrepost/internal/summarize"
)

// ErrInterruptedPublish is reported when a previous run died while publishing.
var ErrInterruptedPublish = errors.New("previous publish was interrupted")

// Outcome is the result of one cycle.
type Outcome int

const (
	OutcomeDuplicate Outcome = iota
	OutcomeTooLong
	OutcomePublished
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeTooLong:
		return "too-long"
	case OutcomePublished:
		return "published"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// StageError tells which step of the cycle failed.
type StageError struct {
	Stage       string
	URL         string
	Destination string
	Err         error
}

func (e *StageError) Error() string {
	if e.Destination != "" {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Destination, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ImageFetcher downloads the lead image.
type ImageFetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// ImageTransformer makes a photo unique.
type ImageTransformer interface {
	RandomFilter() string
	Transform(src []byte, opts photo.Options) ([]byte, error)
}

// Destination is one publisher in the fan-out, in publish order.
type Destination struct {
	Name      string
	Publisher publish.Publisher
	Options   publish.Options
}

// Deps are the collaborators of the loop.
type Deps struct {
	Fetcher      news.Fetcher
	Summarizer   summarize.Summarizer
	Images       ImageFetcher
	Transformer  ImageTransformer
	Ledger       storage.Ledger
	Pending      *storage.PendingMarker // nil disables crash detection
	Destinations []Destination
	Reporter     diagnostics.Reporter
	Metrics      *metrics.Metrics
	Budget       *ratelimit.AIRateLimiter // optional, only read for stats
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Settings tune the loop.
type Settings struct {
	TargetLength   int
	RephraseTitle  bool
	MaxPostRunes   int
	FitMarginRunes int
	PerturbPixels  int
	Flip           bool
	IdleInterval   time.Duration
	FanoutPolicy   string
	PendingPolicy  string
	TempDir        string
}

type Loop struct {
	deps     Deps
	settings Settings
}

func New(deps Deps, settings Settings) (*Loop, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("app: fetcher is required")
	case deps.Summarizer == nil:
		return nil, errors.New("app: summarizer is required")
	case deps.Images == nil || deps.Transformer == nil:
		return nil, errors.New("app: image fetcher and transformer are required")
	case deps.Ledger == nil:
		return nil, errors.New("app: ledger is required")
	case len(deps.Destinations) == 0:
		return nil, errors.New("app: at least one destination is required")
	}

	if settings.FanoutPolicy == "" {
		settings.FanoutPolicy = config.FanoutAll
	}
	if settings.FanoutPolicy == config.FanoutBestEffort {
		if _, ok := deps.Ledger.(storage.ScopedLedger); !ok {
			return nil, errors.New("app: best-effort fan-out needs a ledger with per-destination scopes")
		}
	}
	if settings.PendingPolicy == "" {
		settings.PendingPolicy = config.PendingRetry
	}
	if settings.TempDir == "" {
		settings.TempDir = os.TempDir()
	}

	if deps.Reporter == nil {
		deps.Reporter = diagnostics.LogReporter{Logger: logger.Logger}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Global
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	return &Loop{deps: deps, settings: settings}, nil
}

// BudgetStats returns the summarizer request budget usage, or nil without a budget.
func (l *Loop) BudgetStats() map[string]interface{} {
	if l.deps.Budget == nil {
		return nil
	}
	return l.deps.Budget.GetStats()
}

// Run repeats cycles, sleeping the idle interval after each one, until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	logger.Info("Repost loop started", "destinations", l.destinationNames(), "idle", l.settings.IdleInterval)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.RunCycle(ctx)
		if err := l.deps.Sleep(ctx, l.settings.IdleInterval); err != nil {
			return err
		}
	}
}

// RunCycle runs one poll-publish cycle. Failures are logged and reported, never returned.
func (l *Loop) RunCycle(ctx context.Context) (outcome Outcome) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			outcome, err = OutcomeFailed, &StageError{Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
		failed := outcome == OutcomeFailed
		if failed {
			l.report(ctx, err)
		}
		l.deps.Metrics.RecordCycle(time.Since(start), failed)
		logger.Debug("Cycle finished", "outcome", outcome, "took", time.Since(start))
	}()

	outcome, err = l.cycle(ctx)
	return outcome
}

func (l *Loop) cycle(ctx context.Context) (Outcome, error) {
	ref, err := l.deps.Fetcher.LatestArticleRef(ctx)
	if err != nil {
		return OutcomeFailed, &StageError{Stage: "source", Err: err}
	}

	if err := l.recoverPending(ctx); err != nil {
		return OutcomeFailed, &StageError{Stage: "ledger", URL: ref.URL, Err: err}
	}

	seen, err := l.deps.Ledger.Contains(ctx, ref.URL)
	if err != nil {
		return OutcomeFailed, &StageError{Stage: "ledger", URL: ref.URL, Err: err}
	}
	if seen {
		logger.Debug("Latest article already published", "url", ref.URL)
		l.deps.Metrics.IncrementDuplicates()
		return OutcomeDuplicate, nil
	}

	article, err := l.deps.Fetcher.FetchArticle(ctx, ref)
	if err != nil {
		return OutcomeFailed, &StageError{Stage: "source", URL: ref.URL, Err: err}
	}

	title, text, err := l.rewrite(ctx, article)
	if err != nil {
		return OutcomeFailed, &StageError{Stage: "summarize", URL: ref.URL, Err: err}
	}

	if size := news.RenderedLength(title, text, l.settings.FitMarginRunes); size > l.settings.MaxPostRunes {
		if f, ok := l.deps.Summarizer.(summarize.Forgetter); ok {
			f.Forget(article.Title, article.Body, l.settings.TargetLength)
		}
		logger.Info("Summary too long, will retry later", "url", ref.URL, "runes", size, "max", l.settings.MaxPostRunes)
		l.deps.Metrics.IncrementTooLong()
		return OutcomeTooLong, nil
	}

	image, err := l.uniqueImage(ctx, article.ImageURL)
	if err != nil {
		return OutcomeFailed, &StageError{Stage: "image", URL: ref.URL, Err: err}
	}

	post := publish.Post{Title: title, Text: text, Image: image}
	if l.needsImagePath() {
		path, err := writeTempImage(l.settings.TempDir, image)
		if path != "" {
			defer removeTempImage(path)
		}
		if err != nil {
			return OutcomeFailed, &StageError{Stage: "image", URL: ref.URL, Err: err}
		}
		post.ImagePath = path
	}

	if err := l.publishAll(ctx, ref.URL, post); err != nil {
		return OutcomeFailed, err
	}

	logger.Info("Article published", "url", ref.URL, "title", title)
	l.deps.Metrics.RecordPublished(ref.URL)
	return OutcomePublished, nil
}

// recoverPending handles a marker left by a run that died mid-publish.
func (l *Loop) recoverPending(ctx context.Context) error {
	if l.deps.Pending == nil {
		return nil
	}
	url, err := l.deps.Pending.Pending()
	if err != nil || url == "" {
		return err
	}

	if l.settings.PendingPolicy == config.PendingSkip {
		logger.Warn("Previous publish was interrupted, marking article as seen", "url", url)
		if err := l.deps.Ledger.Add(ctx, url); err != nil {
			return err
		}
	} else {
		logger.Warn("Previous publish was interrupted, article will be published again", "url", url)
		l.deps.Reporter.Report(ctx, fmt.Errorf("%w: %s", ErrInterruptedPublish, url), "stage", "pending", "url", url)
	}
	return l.deps.Pending.Clear()
}

func (l *Loop) rewrite(ctx context.Context, article news.ArticleContent) (string, string, error) {
	text, err := l.deps.Summarizer.Summarize(ctx, article.Body, l.settings.TargetLength)
	if err != nil {
		return "", "", err
	}

	title := article.Title
	if l.settings.RephraseTitle {
		if title, err = l.deps.Summarizer.RephraseTitle(ctx, article.Title); err != nil {
			return "", "", err
		}
	}
	return strings.TrimSpace(title), strings.TrimSpace(text), nil
}

func (l *Loop) uniqueImage(ctx context.Context, url string) ([]byte, error) {
	raw, err := l.deps.Images.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	filter := l.deps.Transformer.RandomFilter()
	logger.Debug("Transforming image", "url", url, "filter", filter)
	return l.deps.Transformer.Transform(raw, photo.Options{
		Filter: filter,
		Pixels: l.settings.PerturbPixels,
		Flip:   l.settings.Flip,
	})
}

// publishAll posts to every destination and records url once all of them have it.
func (l *Loop) publishAll(ctx context.Context, url string, post publish.Post) error {
	if l.deps.Pending != nil {
		if err := l.deps.Pending.Mark(url); err != nil {
			return &StageError{Stage: "ledger", URL: url, Err: err}
		}
		defer func() {
			if err := l.deps.Pending.Clear(); err != nil {
				logger.Warn("Failed to clear pending marker", "url", url, "err", err)
			}
		}()
	}

	if l.settings.FanoutPolicy == config.FanoutBestEffort {
		if err := l.publishBestEffort(ctx, url, post); err != nil {
			return err
		}
	} else {
		for _, d := range l.deps.Destinations {
			if err := l.publishOne(ctx, d, url, post); err != nil {
				return err
			}
		}
	}

	if err := l.deps.Ledger.Add(ctx, url); err != nil {
		return &StageError{Stage: "ledger", URL: url, Err: err}
	}
	return nil
}

// publishBestEffort tries every destination not yet recorded in its own scope.
func (l *Loop) publishBestEffort(ctx context.Context, url string, post publish.Post) error {
	scoped := l.deps.Ledger.(storage.ScopedLedger)

	var errs []error
	for _, d := range l.deps.Destinations {
		ledger := scoped.Scope(d.Name)
		done, err := ledger.Contains(ctx, url)
		if err != nil {
			errs = append(errs, &StageError{Stage: "ledger", URL: url, Destination: d.Name, Err: err})
			continue
		}
		if done {
			logger.Debug("Already published to destination", "url", url, "destination", d.Name)
			continue
		}

		if err := l.publishOne(ctx, d, url, post); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := ledger.Add(ctx, url); err != nil {
			errs = append(errs, &StageError{Stage: "ledger", URL: url, Destination: d.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (l *Loop) publishOne(ctx context.Context, d Destination, url string, post publish.Post) error {
	post.Options = d.Options
	id, err := d.Publisher.Publish(ctx, post)
	if err != nil {
		return &StageError{Stage: "publish", URL: url, Destination: d.Name, Err: err}
	}
	logger.Info("Posted", "destination", d.Name, "post_id", id, "url", url)
	l.deps.Metrics.IncrementPosts(d.Name)
	return nil
}

func (l *Loop) needsImagePath() bool {
	for _, d := range l.deps.Destinations {
		if publish.NeedsImagePath(d.Publisher) {
			return true
		}
	}
	return false
}

func (l *Loop) report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	l.deps.Metrics.SetError(err.Error())

	attrs := []any{}
	var se *StageError
	if errors.As(err, &se) {
		attrs = append(attrs, "stage", se.Stage)
		if se.URL != "" {
			attrs = append(attrs, "url", se.URL)
		}
		if se.Destination != "" {
			attrs = append(attrs, "destination", se.Destination)
		}
	}
	l.deps.Reporter.Report(ctx, err, attrs...)
}

func (l *Loop) destinationNames() []string {
	names := make([]string, len(l.deps.Destinations))
	for i, d := range l.deps.Destinations {
		names[i] = d.Name
	}
	return names
}

func writeTempImage(dir string, image []byte) (string, error) {
	f, err := os.CreateTemp(dir, "newsrepost-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(image); err != nil {
		f.Close()
		return path, fmt.Errorf("write temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("write temp image: %w", err)
	}
	return path, nil
}

func removeTempImage(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove temp image", "path", path, "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
