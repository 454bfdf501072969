package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsrepost/internal/config"
	"github.com/deusflow/newsrepost/internal/metrics"
	"github.com/deusflow/newsrepost/internal/news"
	"github.com/deusflow/newsrepost/internal/photo"
	"github.com/deusflow/newsrepost/internal/publish"
	"github.com/deusflow/newsrepost/internal/storage"
)

type fakeFetcher struct {
	ref        news.ArticleRef
	refErr     error
	article    news.ArticleContent
	articleErr error
	fetches    int
}

func (f *fakeFetcher) LatestArticleRef(context.Context) (news.ArticleRef, error) {
	return f.ref, f.refErr
}

func (f *fakeFetcher) FetchArticle(context.Context, news.ArticleRef) (news.ArticleContent, error) {
	f.fetches++
	return f.article, f.articleErr
}

type fakeSummarizer struct {
	text      string
	title     string
	err       error
	calls     int
	forgotten int
}

func (s *fakeSummarizer) Summarize(context.Context, string, int) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *fakeSummarizer) RephraseTitle(context.Context, string) (string, error) {
	return s.title, s.err
}

func (s *fakeSummarizer) Forget(string, string, int) { s.forgotten++ }

type fakeImages struct {
	err error
}

func (f fakeImages) Download(context.Context, string) ([]byte, error) {
	return []byte("raw"), f.err
}

type fakeTransformer struct {
	err   error
	panic bool
	opts  photo.Options
}

func (f *fakeTransformer) RandomFilter() string { return "lofi" }

func (f *fakeTransformer) Transform(src []byte, opts photo.Options) ([]byte, error) {
	if f.panic {
		panic("decoder exploded")
	}
	f.opts = opts
	return append([]byte("unique:"), src...), f.err
}

// recordingPublisher appends its name to a shared call log.
type recordingPublisher struct {
	t         *testing.T
	name      string
	calls     *[]string
	err       error
	needsPath bool
	posts     []publish.Post
}

func (p *recordingPublisher) Publish(_ context.Context, post publish.Post) (publish.PostID, error) {
	*p.calls = append(*p.calls, p.name)
	p.posts = append(p.posts, post)
	if p.needsPath {
		data, err := os.ReadFile(post.ImagePath)
		require.NoError(p.t, err, "image file must exist while publishing")
		assert.Equal(p.t, post.Image, data)
	}
	if p.err != nil {
		return "", p.err
	}
	return publish.PostID(p.name + "-1"), nil
}

func (p *recordingPublisher) NeedsImagePath() bool { return p.needsPath }

type recordingReporter struct {
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error, _ ...any) {
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) Flush(time.Duration) {}

type harness struct {
	fetcher     *fakeFetcher
	summarizer  *fakeSummarizer
	transformer *fakeTransformer
	ledger      *storage.FileLedger
	pending     *storage.PendingMarker
	publishers  []*recordingPublisher
	calls       []string
	reporter    *recordingReporter
	metrics     *metrics.Metrics
	settings    Settings
	images      fakeImages
	tempDir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		fetcher: &fakeFetcher{
			ref:     news.ArticleRef{URL: "B"},
			article: news.ArticleContent{Title: "Cup final", ImageURL: "https://img.example/b.jpg", Body: "Long match report."},
		},
		summarizer:  &fakeSummarizer{text: "Short report.", title: "Final of the cup"},
		transformer: &fakeTransformer{},
		ledger:      storage.NewFileLedger(filepath.Join(dir, "sent_urls.txt")),
		pending:     storage.NewPendingMarker(filepath.Join(dir, "sent_urls.txt.pending")),
		reporter:    &recordingReporter{},
		metrics:     metrics.New(),
		tempDir:     t.TempDir(),
	}
	h.settings = Settings{
		TargetLength:   600,
		MaxPostRunes:   1000,
		FitMarginRunes: 50,
		PerturbPixels:  100,
		Flip:           true,
		IdleInterval:   time.Minute,
		FanoutPolicy:   config.FanoutAll,
		PendingPolicy:  config.PendingRetry,
		TempDir:        h.tempDir,
	}
	for _, name := range []string{"telegram", "webhook", "vk"} {
		h.publishers = append(h.publishers, &recordingPublisher{t: t, name: name, calls: &h.calls, needsPath: name == "vk"})
	}
	return h
}

func (h *harness) loop(t *testing.T) *Loop {
	t.Helper()
	dests := make([]Destination, len(h.publishers))
	for i, p := range h.publishers {
		dests[i] = Destination{Name: p.name, Publisher: p}
	}
	l, err := New(Deps{
		Fetcher:      h.fetcher,
		Summarizer:   h.summarizer,
		Images:       h.images,
		Transformer:  h.transformer,
		Ledger:       h.ledger,
		Pending:      h.pending,
		Destinations: dests,
		Reporter:     h.reporter,
		Metrics:      h.metrics,
		Sleep:        func(context.Context, time.Duration) error { return nil },
	}, h.settings)
	require.NoError(t, err)
	return l
}

func (h *harness) ledgerFile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.ledger.Path())
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp image must be removed")
}

func TestRunCycle_DuplicatePublishesNothing(t *testing.T) {
	h := newHarness(t)
	h.fetcher.ref = news.ArticleRef{URL: "A"}
	require.NoError(t, os.WriteFile(h.ledger.Path(), []byte("A\n"), 0644))

	outcome := h.loop(t).RunCycle(context.Background())

	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Empty(t, h.calls)
	assert.Zero(t, h.fetcher.fetches)
	assert.Zero(t, h.summarizer.calls)
	assert.Equal(t, "A\n", h.ledgerFile(t))
	assert.Empty(t, h.reporter.errs)
	assert.EqualValues(t, 1, h.metrics.DuplicatesSkipped)
}

func TestRunCycle_PublishesToEveryDestinationInOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.ledger.Path(), []byte("A\n"), 0644))

	outcome := h.loop(t).RunCycle(context.Background())

	require.Equal(t, OutcomePublished, outcome)
	assert.Equal(t, []string{"telegram", "webhook", "vk"}, h.calls)
	assert.Equal(t, "A\nB\n", h.ledgerFile(t))
	assert.Empty(t, h.reporter.errs)

	post := h.publishers[0].posts[0]
	assert.Equal(t, "Cup final", post.Title)
	assert.Equal(t, "Short report.", post.Text)
	assert.Equal(t, []byte("unique:raw"), post.Image)
	assert.Equal(t, photo.Options{Filter: "lofi", Pixels: 100, Flip: true}, h.transformer.opts)

	pending, err := h.pending.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
	h.assertNoTempFiles(t)

	assert.EqualValues(t, 1, h.metrics.ArticlesPublished)
	assert.EqualValues(t, 1, h.metrics.PostsByDestination["vk"])
}

func TestRunCycle_SecondCycleIsDuplicate(t *testing.T) {
	h := newHarness(t)
	l := h.loop(t)

	require.Equal(t, OutcomePublished, l.RunCycle(context.Background()))
	require.Equal(t, OutcomeDuplicate, l.RunCycle(context.Background()))

	assert.Len(t, h.calls, 3)
	assert.Equal(t, "B\n", h.ledgerFile(t))
}

func TestRunCycle_RephrasesTitle(t *testing.T) {
	h := newHarness(t)
	h.settings.RephraseTitle = true

	require.Equal(t, OutcomePublished, h.loop(t).RunCycle(context.Background()))
	assert.Equal(t, "Final of the cup", h.publishers[0].posts[0].Title)
}

func TestRunCycle_PublisherFailureLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	h.publishers[1].err = errors.New("endpoint down")

	outcome := h.loop(t).RunCycle(context.Background())

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{"telegram", "webhook"}, h.calls)
	assert.Empty(t, h.ledgerFile(t))
	h.assertNoTempFiles(t)

	require.Len(t, h.reporter.errs, 1)
	var se *StageError
	require.ErrorAs(t, h.reporter.errs[0], &se)
	assert.Equal(t, "publish", se.Stage)
	assert.Equal(t, "webhook", se.Destination)
	assert.Equal(t, "B", se.URL)
	assert.EqualValues(t, 1, h.metrics.CycleFailures)
	assert.False(t, h.metrics.IsHealthy)
}

func TestRunCycle_TooLongIsSilentAndRetried(t *testing.T) {
	h := newHarness(t)
	// 9 + 941 + 50 = 1000 fits, one more rune does not.
	h.fetcher.article.Title = "Cup final"
	h.summarizer.text = strings.Repeat("ю", 941)

	require.Equal(t, OutcomePublished, h.loop(t).RunCycle(context.Background()))

	h = newHarness(t)
	h.summarizer.text = strings.Repeat("ю", 942)
	l := h.loop(t)

	for range 2 {
		assert.Equal(t, OutcomeTooLong, l.RunCycle(context.Background()))
	}
	assert.Empty(t, h.calls)
	assert.Empty(t, h.ledgerFile(t))
	assert.Empty(t, h.reporter.errs)
	assert.Equal(t, 2, h.summarizer.calls)
	assert.Equal(t, 2, h.summarizer.forgotten)
	assert.EqualValues(t, 2, h.metrics.TooLongRejected)
	h.assertNoTempFiles(t)
}

func TestRunCycle_StageFailures(t *testing.T) {
	tests := []struct {
		name  string
		stage string
		setup func(h *harness)
	}{
		{"latest ref", "source", func(h *harness) { h.fetcher.refErr = news.ErrNotFound }},
		{"article", "source", func(h *harness) { h.fetcher.articleErr = news.ErrNotFound }},
		{"summary", "summarize", func(h *harness) { h.summarizer.err = errors.New("quota") }},
		{"download", "image", func(h *harness) { h.images.err = errors.New("404") }},
		{"transform", "image", func(h *harness) { h.transformer.err = photo.ErrDecode }},
		{"panic", "panic", func(h *harness) { h.transformer.panic = true }},
		{"temp dir", "image", func(h *harness) { h.settings.TempDir = filepath.Join(h.tempDir, "missing") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			outcome := h.loop(t).RunCycle(context.Background())

			assert.Equal(t, OutcomeFailed, outcome)
			assert.Empty(t, h.calls)
			assert.Empty(t, h.ledgerFile(t))
			h.assertNoTempFiles(t)

			require.Len(t, h.reporter.errs, 1)
			var se *StageError
			require.ErrorAs(t, h.reporter.errs[0], &se)
			assert.Equal(t, tt.stage, se.Stage)
		})
	}
}

func TestRunCycle_LedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.ledger = storage.NewFileLedger(t.TempDir())

	outcome := h.loop(t).RunCycle(context.Background())

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, h.calls)
	require.Len(t, h.reporter.errs, 1)
	assert.ErrorIs(t, h.reporter.errs[0], storage.ErrUnavailable)
}

func TestRunCycle_NoTempFileWithoutPathUploader(t *testing.T) {
	h := newHarness(t)
	h.publishers = h.publishers[:2]

	require.Equal(t, OutcomePublished, h.loop(t).RunCycle(context.Background()))
	for _, p := range h.publishers {
		assert.Empty(t, p.posts[0].ImagePath)
	}
}

func TestRunCycle_BestEffortRecordsEachDestination(t *testing.T) {
	h := newHarness(t)
	h.settings.FanoutPolicy = config.FanoutBestEffort
	h.publishers[1].err = errors.New("endpoint down")
	l := h.loop(t)

	assert.Equal(t, OutcomeFailed, l.RunCycle(context.Background()))
	assert.Equal(t, []string{"telegram", "webhook", "vk"}, h.calls)
	assert.Empty(t, h.ledgerFile(t))

	h.calls = nil
	h.publishers[1].err = nil
	assert.Equal(t, OutcomePublished, l.RunCycle(context.Background()))
	assert.Equal(t, []string{"webhook"}, h.calls)
	assert.Equal(t, "B\n", h.ledgerFile(t))

	for _, name := range []string{"telegram", "webhook", "vk"} {
		ok, err := h.ledger.Scope(name).Contains(context.Background(), "B")
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
}

func TestRunCycle_InterruptedPublishIsRetried(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.pending.Mark("B"))

	outcome := h.loop(t).RunCycle(context.Background())

	assert.Equal(t, OutcomePublished, outcome)
	assert.Len(t, h.calls, 3)
	require.Len(t, h.reporter.errs, 1)
	assert.ErrorIs(t, h.reporter.errs[0], ErrInterruptedPublish)

	pending, err := h.pending.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunCycle_InterruptedPublishIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.settings.PendingPolicy = config.PendingSkip
	require.NoError(t, h.pending.Mark("B"))

	outcome := h.loop(t).RunCycle(context.Background())

	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Empty(t, h.calls)
	assert.Equal(t, "B\n", h.ledgerFile(t))
	assert.Empty(t, h.reporter.errs)
}

func TestRun_SleepsAfterEveryCycleUntilCancelled(t *testing.T) {
	h := newHarness(t)
	h.fetcher.ref = news.ArticleRef{URL: "A"}
	require.NoError(t, os.WriteFile(h.ledger.Path(), []byte("A\n"), 0644))
	l := h.loop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var slept []time.Duration
	l.deps.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		if len(slept) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	err := l.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, slept)
	assert.Empty(t, h.calls)
	assert.EqualValues(t, 3, h.metrics.CyclesRun)
}

func TestRun_FailedCycleStillSleeps(t *testing.T) {
	h := newHarness(t)
	h.fetcher.refErr = errors.New("listing unreachable")
	l := h.loop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	l.deps.Sleep = func(context.Context, time.Duration) error {
		sleeps++
		cancel()
		return context.Canceled
	}

	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
	assert.Equal(t, 1, sleeps)
	assert.Len(t, h.reporter.errs, 1)
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := New(Deps{}, h.settings)
	assert.Error(t, err)

	h.settings.FanoutPolicy = config.FanoutBestEffort
	_, err = New(Deps{
		Fetcher:      h.fetcher,
		Summarizer:   h.summarizer,
		Images:       h.images,
		Transformer:  h.transformer,
		Ledger:       plainLedger{},
		Destinations: []Destination{{Name: "telegram", Publisher: h.publishers[0]}},
	}, h.settings)
	assert.ErrorContains(t, err, "per-destination scopes")
}

type plainLedger struct{}

func (plainLedger) Contains(context.Context, string) (bool, error) { return false, nil }
func (plainLedger) Add(context.Context, string) error { return nil }

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "too-long", OutcomeTooLong.String())
	assert.Equal(t, "published", OutcomePublished.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}

func TestBudgetStats(t *testing.T) {
	h := newHarness(t)
	assert.Nil(t, h.loop(t).BudgetStats())
}
