package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

var acme = models.Company{Name: "Acme Corp", Ticker: "ACME"}

// ════════════════════════════════════════════════════════════════════
// Fakes
// ════════════════════════════════════════════════════════════════════

type fakeFetcher struct {
	articles []models.Article
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, company models.Company, maxArticles, maxAgeDays int) ([]models.Article, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if maxArticles > 0 && len(f.articles) > maxArticles {
		return f.articles[:maxArticles], nil
	}
	return f.articles, nil
}

type fakeAnalyzer struct {
	failTitles map[string]bool // per-article failures
	crossErr   error
	crossHook  func() // runs at the start of AnalyzeCrossArticle
	delay      time.Duration

	mu         sync.Mutex
	concurrent int
	maxSeen    int
}

func (a *fakeAnalyzer) AnalyzeArticle(ctx context.Context, article models.Article) (*models.ArticleAnalysis, error) {
	a.mu.Lock()
	a.concurrent++
	if a.concurrent > a.maxSeen {
		a.maxSeen = a.concurrent
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.concurrent--
		a.mu.Unlock()
	}()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	if a.failTitles[article.Title] {
		return nil, errors.New("analysis rejected")
	}
	return &models.ArticleAnalysis{
		Article:   article,
		Summary:   "summary of " + article.Title,
		Sentiment: models.Sentiment{Overall: models.SentimentPositive, FinancialImpact: 1},
	}, nil
}

func (a *fakeAnalyzer) AnalyzeCrossArticle(ctx context.Context, company models.Company, analyses []models.ArticleAnalysis) (*models.CrossArticleAnalysis, error) {
	if a.crossHook != nil {
		a.crossHook()
	}
	if a.crossErr != nil {
		return nil, a.crossErr
	}
	return &models.CrossArticleAnalysis{
		Summary:      fmt.Sprintf("overall view of %s from %d articles", company.Name, len(analyses)),
		CommonThemes: []string{"earnings"},
		Distribution: models.Distribute(analyses),
	}, nil
}

type fakeLocalizer struct {
	translateErr  error
	synthErr      error
	translateHook func() // runs at the start of Translate
	calls         atomic.Int32
}

func (l *fakeLocalizer) Translate(ctx context.Context, text, lang string) (string, error) {
	l.calls.Add(1)
	if l.translateHook != nil {
		l.translateHook()
	}
	if l.translateErr != nil {
		return "", l.translateErr
	}
	return "[" + lang + "] " + text, nil
}

func (l *fakeLocalizer) Synthesize(ctx context.Context, text, lang string) (*models.AudioArtifact, error) {
	if l.synthErr != nil {
		return nil, l.synthErr
	}
	return &models.AudioArtifact{ContentHash: "hash123", Language: lang, FilePath: "/tmp/hash123.mp3"}, nil
}

type fakeStore struct {
	mu   sync.Mutex
	docs []*models.AnalysisDocument
	err  error
}

func (s *fakeStore) Save(doc *models.AnalysisDocument) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func articles(n int) []models.Article {
	out := make([]models.Article, n)
	for i := range out {
		out[i] = models.Article{
			Title:   fmt.Sprintf("Acme story %d", i),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			RawText: "Acme Corp did something notable.",
		}
	}
	return out
}

func newTestRunner(f *fakeFetcher, a *fakeAnalyzer, l *fakeLocalizer, s *fakeStore, cfg RunnerConfig) *Runner {
	return NewRunner(f, a, l, s, NewTracker(), cfg)
}

// ════════════════════════════════════════════════════════════════════
// Runner
// ════════════════════════════════════════════════════════════════════

func TestRunHappyPath(t *testing.T) {
	store := &fakeStore{}
	r := newTestRunner(
		&fakeFetcher{articles: articles(5)},
		&fakeAnalyzer{},
		&fakeLocalizer{},
		store,
		RunnerConfig{Localize: true, Language: "hi"},
	)

	var states []RunState
	r.OnUpdate(func(run Run) { states = append(states, run.State) })

	doc, err := r.Run(context.Background(), acme, 5, 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(doc.Articles) != 5 {
		t.Errorf("articles = %d, want 5", len(doc.Articles))
	}
	if doc.CrossArticleSummary == "" {
		t.Error("missing cross-article summary")
	}
	if doc.Distribution.Positive != 5 {
		t.Errorf("distribution = %+v", doc.Distribution)
	}
	if doc.LocalizedText == "" || doc.AudioRef != "hash123" {
		t.Errorf("localization missing: text=%q audio=%q", doc.LocalizedText, doc.AudioRef)
	}
	if store.saved() != 1 {
		t.Errorf("saved = %d, want 1", store.saved())
	}

	want := []RunState{StateFetching, StateAnalyzing, StateLocalizing, StateStoring, StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestRunNoArticlesFails(t *testing.T) {
	store := &fakeStore{}
	r := newTestRunner(&fakeFetcher{}, &fakeAnalyzer{}, nil, store, RunnerConfig{})

	_, err := r.Run(context.Background(), models.Company{Name: "Ghost Inc"}, 5, 30)
	if !errors.Is(err, ErrNoArticles) {
		t.Fatalf("err = %v, want ErrNoArticles", err)
	}
	if store.saved() != 0 {
		t.Error("failed run must not write a document")
	}

	runs := r.Tracker().Snapshot()
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	if runs[0].State != StateFailed || runs[0].FailedStage != StateFetching {
		t.Errorf("run = %+v, want failed at fetching", runs[0])
	}
}

func TestRunPartialArticleFailure(t *testing.T) {
	store := &fakeStore{}
	r := newTestRunner(
		&fakeFetcher{articles: articles(3)},
		&fakeAnalyzer{failTitles: map[string]bool{"Acme story 1": true}},
		nil, store, RunnerConfig{},
	)

	doc, err := r.Run(context.Background(), acme, 3, 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(doc.Articles) != 2 {
		t.Errorf("analyses = %d, want 2", len(doc.Articles))
	}
	if len(doc.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(doc.Failed))
	}
	if doc.Failed[0].Article.Title != "Acme story 1" {
		t.Errorf("failed article = %q", doc.Failed[0].Article.Title)
	}
	if store.saved() != 1 {
		t.Error("partial success is still a stored run")
	}
}

func TestRunAllArticlesFailedFails(t *testing.T) {
	store := &fakeStore{}
	fails := map[string]bool{}
	for _, a := range articles(3) {
		fails[a.Title] = true
	}
	r := newTestRunner(&fakeFetcher{articles: articles(3)}, &fakeAnalyzer{failTitles: fails}, nil, store, RunnerConfig{})

	_, err := r.Run(context.Background(), acme, 3, 30)
	if !errors.Is(err, ErrAllArticlesFailed) {
		t.Fatalf("err = %v, want ErrAllArticlesFailed", err)
	}
	if store.saved() != 0 {
		t.Error("failed run must not write a document")
	}
}

func TestRunCrossArticleFailureIsPartial(t *testing.T) {
	store := &fakeStore{}
	r := newTestRunner(
		&fakeFetcher{articles: articles(2)},
		&fakeAnalyzer{crossErr: errors.New("aggregation broke")},
		nil, store, RunnerConfig{},
	)

	doc, err := r.Run(context.Background(), acme, 2, 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.CrossArticleSummary != "" {
		t.Error("summary should be explicitly absent")
	}
	if doc.Distribution.Positive != 2 {
		t.Errorf("distribution still tallied locally: %+v", doc.Distribution)
	}
	if store.saved() != 1 {
		t.Error("document with absent aggregate is still stored")
	}
}

func TestRunLocalizationBestEffort(t *testing.T) {
	store := &fakeStore{}
	r := newTestRunner(
		&fakeFetcher{articles: articles(2)},
		&fakeAnalyzer{},
		&fakeLocalizer{translateErr: errors.New("translation down")},
		store,
		RunnerConfig{Localize: true},
	)

	doc, err := r.Run(context.Background(), acme, 2, 30)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.LocalizedText != "" || doc.AudioRef != "" {
		t.Error("failed localization must leave document unlocalized")
	}
	if store.saved() != 1 {
		t.Error("localization failure must not fail the run")
	}
}

func TestRunLocalizationDisabled(t *testing.T) {
	loc := &fakeLocalizer{}
	r := newTestRunner(&fakeFetcher{articles: articles(1)}, &fakeAnalyzer{}, loc, &fakeStore{}, RunnerConfig{Localize: false})

	if _, err := r.Run(context.Background(), acme, 1, 30); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if loc.calls.Load() != 0 {
		t.Error("localizer called despite being disabled")
	}
}

func TestRunStoreFailure(t *testing.T) {
	r := newTestRunner(
		&fakeFetcher{articles: articles(1)},
		&fakeAnalyzer{},
		nil,
		&fakeStore{err: errors.New("disk full")},
		RunnerConfig{},
	)

	_, err := r.Run(context.Background(), acme, 1, 30)
	if err == nil {
		t.Fatal("expected store error")
	}
	runs := r.Tracker().Snapshot()
	if runs[0].FailedStage != StateStoring {
		t.Errorf("failed stage = %q, want storing", runs[0].FailedStage)
	}
}

func TestRunCancelBeforeStoreChargedToAnalyzing(t *testing.T) {
	// Cancellation lands after aggregation but before the store; the
	// run never entered Storing, so the failure belongs to Analyzing.
	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeStore{}
	r := newTestRunner(
		&fakeFetcher{articles: articles(1)},
		&fakeAnalyzer{crossHook: cancel},
		nil,
		store,
		RunnerConfig{},
	)

	if _, err := r.Run(ctx, acme, 1, 30); err == nil {
		t.Fatal("expected cancellation error")
	}
	runs := r.Tracker().Snapshot()
	if runs[0].FailedStage != StateAnalyzing {
		t.Errorf("failed stage = %q, want analyzing", runs[0].FailedStage)
	}
	if store.saved() != 0 {
		t.Errorf("saved = %d, want 0", store.saved())
	}
}

func TestRunCancelBeforeStoreChargedToLocalizing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeStore{}
	r := newTestRunner(
		&fakeFetcher{articles: articles(1)},
		&fakeAnalyzer{},
		&fakeLocalizer{translateHook: cancel},
		store,
		RunnerConfig{Localize: true, Language: "hi"},
	)

	if _, err := r.Run(ctx, acme, 1, 30); err == nil {
		t.Fatal("expected cancellation error")
	}
	runs := r.Tracker().Snapshot()
	if runs[0].FailedStage != StateLocalizing {
		t.Errorf("failed stage = %q, want localizing", runs[0].FailedStage)
	}
	if store.saved() != 0 {
		t.Errorf("saved = %d, want 0", store.saved())
	}
}

func TestRunFanOutBounded(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 20 * time.Millisecond}
	r := newTestRunner(&fakeFetcher{articles: articles(8)}, analyzer, nil, &fakeStore{}, RunnerConfig{FanOut: 2})

	if _, err := r.Run(context.Background(), acme, 8, 30); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if analyzer.maxSeen > 2 {
		t.Errorf("max concurrent analyses = %d, want <= 2", analyzer.maxSeen)
	}
}

// ════════════════════════════════════════════════════════════════════
// Scheduler
// ════════════════════════════════════════════════════════════════════

type staticRoster []models.Company

func (r staticRoster) List() []models.Company { return r }

func TestSchedulerCoalescesInFlightRuns(t *testing.T) {
	fetcher := &fakeFetcher{articles: articles(1), delay: 200 * time.Millisecond}
	runner := newTestRunner(fetcher, &fakeAnalyzer{}, nil, &fakeStore{}, RunnerConfig{})
	s := NewScheduler(runner, staticRoster{acme}, time.Hour, 3)

	ctx := context.Background()
	id1, coalesced1 := s.Submit(ctx, acme, 0, 0)
	id2, coalesced2 := s.Submit(ctx, acme, 0, 0)

	if coalesced1 {
		t.Error("first submit must not coalesce")
	}
	if !coalesced2 {
		t.Error("second submit while in flight must coalesce")
	}
	if id1 != id2 {
		t.Errorf("coalesced submit returned different run id: %s vs %s", id1, id2)
	}

	s.Wait()

	// After the run finishes a new submit starts a fresh run.
	id3, coalesced3 := s.Submit(ctx, acme, 0, 0)
	if coalesced3 || id3 == id1 {
		t.Error("finished company must be runnable again")
	}
	s.Wait()
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	fetcher := &fakeFetcher{articles: articles(1), delay: 50 * time.Millisecond}
	runner := newTestRunner(fetcher, analyzer, nil, &fakeStore{}, RunnerConfig{FanOut: 1})

	roster := staticRoster{}
	for i := 0; i < 6; i++ {
		roster = append(roster, models.Company{Name: fmt.Sprintf("Company %d", i)})
	}
	s := NewScheduler(runner, roster, time.Hour, 2)

	ctx := context.Background()
	for _, c := range roster {
		s.Submit(ctx, c, 0, 0)
	}
	s.Wait()

	if analyzer.maxSeen > 2 {
		t.Errorf("max concurrent pipelines = %d, want <= 2", analyzer.maxSeen)
	}
	if fetcher.calls.Load() != 6 {
		t.Errorf("fetch calls = %d, want 6", fetcher.calls.Load())
	}
}

func TestSchedulerFailedCompanyRetriedNextPass(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{} // zero articles, every run fails
	runner := newTestRunner(fetcher, &fakeAnalyzer{}, nil, store, RunnerConfig{})
	s := NewScheduler(runner, staticRoster{acme}, time.Hour, 2)

	ctx := context.Background()
	s.pass(ctx)
	s.Wait()
	s.pass(ctx)
	s.Wait()

	if fetcher.calls.Load() != 2 {
		t.Errorf("fetch calls = %d, want one per pass", fetcher.calls.Load())
	}
	if store.saved() != 0 {
		t.Error("failing runs must not store documents")
	}
}

// ════════════════════════════════════════════════════════════════════
// Tracker
// ════════════════════════════════════════════════════════════════════

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	run := tr.Begin(acme)

	if run.State != StatePending {
		t.Errorf("initial state = %q", run.State)
	}
	if run.ID == "" {
		t.Error("missing run id")
	}

	if _, ok := tr.Transition(run.ID, StateFetching, "", nil); !ok {
		t.Fatal("transition failed")
	}
	got, ok := tr.Get(run.ID)
	if !ok || got.State != StateFetching {
		t.Errorf("run = %+v", got)
	}

	active, ok := tr.Active(acme)
	if !ok || active.ID != run.ID {
		t.Error("active run not found")
	}

	tr.Transition(run.ID, StateFailed, StateFetching, ErrNoArticles)
	got, _ = tr.Get(run.ID)
	if got.FailedStage != StateFetching {
		t.Errorf("failed stage = %q", got.FailedStage)
	}
	if !strings.Contains(got.Error, "no articles") {
		t.Errorf("error = %q", got.Error)
	}
	if got.FinishedAt.IsZero() {
		t.Error("terminal run missing finish time")
	}
	if _, ok := tr.Active(acme); ok {
		t.Error("terminal run still reported active")
	}
}

func TestTrackerUnknownRun(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Get("missing"); ok {
		t.Error("unexpected hit")
	}
	if _, ok := tr.Transition("missing", StateDone, "", nil); ok {
		t.Error("transition on unknown run succeeded")
	}
}
