package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

// ErrNoArticles is the run failure cause when the fetch stage finds
// nothing to analyze.
var ErrNoArticles = errors.New("pipeline: no articles found")

// ErrAllArticlesFailed is the run failure cause when every per-article
// analysis exhausted its retries.
var ErrAllArticlesFailed = errors.New("pipeline: analysis failed for every article")

// Fetcher fetches recent articles about a company.
type Fetcher interface {
	Fetch(ctx context.Context, company models.Company, maxArticles, maxAgeDays int) ([]models.Article, error)
}

// Analyzer produces per-article and cross-article analyses.
type Analyzer interface {
	AnalyzeArticle(ctx context.Context, article models.Article) (*models.ArticleAnalysis, error)
	AnalyzeCrossArticle(ctx context.Context, company models.Company, analyses []models.ArticleAnalysis) (*models.CrossArticleAnalysis, error)
}

// Localizer translates text and synthesizes speech from it.
type Localizer interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
	Synthesize(ctx context.Context, text, lang string) (*models.AudioArtifact, error)
}

// Store persists completed analysis documents.
type Store interface {
	Save(doc *models.AnalysisDocument) error
}

// RunnerConfig holds the pipeline settings for one runner.
type RunnerConfig struct {
	MaxArticles int // default article budget per run
	MaxAgeDays  int // default article age cutoff
	FanOut      int // concurrent per-article analyses

	Localize bool   // translate and synthesize the summary
	Language string // target language code
}

// Runner executes the pipeline for one company at a time. Per-run
// progress is recorded in the shared Tracker.
type Runner struct {
	fetcher   Fetcher
	analyzer  Analyzer
	localizer Localizer
	store     Store
	tracker   *Tracker
	cfg       RunnerConfig

	onUpdate func(Run)
}

// NewRunner wires a pipeline runner from its stage dependencies.
func NewRunner(fetcher Fetcher, analyzer Analyzer, localizer Localizer, store Store, tracker *Tracker, cfg RunnerConfig) *Runner {
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 10
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 4
	}
	if cfg.Language == "" {
		cfg.Language = "hi"
	}
	return &Runner{
		fetcher:   fetcher,
		analyzer:  analyzer,
		localizer: localizer,
		store:     store,
		tracker:   tracker,
		cfg:       cfg,
	}
}

// OnUpdate registers a callback invoked after every state transition,
// with a snapshot of the run. Used for live status broadcasting.
func (r *Runner) OnUpdate(fn func(Run)) {
	r.onUpdate = fn
}

// Tracker returns the shared run tracker.
func (r *Runner) Tracker() *Tracker { return r.tracker }

// Run executes the full pipeline for the company and returns the
// stored document. numArticles and daysBack override the configured
// defaults when positive. A failed run never writes a document, so a
// previously stored latest stays intact.
func (r *Runner) Run(ctx context.Context, company models.Company, numArticles, daysBack int) (*models.AnalysisDocument, error) {
	run := r.tracker.Begin(company)
	doc, err := r.execute(ctx, run, company, numArticles, daysBack)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Runner) execute(ctx context.Context, run Run, company models.Company, numArticles, daysBack int) (*models.AnalysisDocument, error) {
	if numArticles <= 0 {
		numArticles = r.cfg.MaxArticles
	}
	if daysBack <= 0 {
		daysBack = r.cfg.MaxAgeDays
	}

	start := time.Now()

	// Fetch.
	if err := r.transition(run.ID, StateFetching); err != nil {
		return nil, err
	}
	articles, err := r.fetcher.Fetch(ctx, company, numArticles, daysBack)
	if err != nil {
		return nil, r.fail(run.ID, StateFetching, err)
	}
	if len(articles) == 0 {
		return nil, r.fail(run.ID, StateFetching, ErrNoArticles)
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(run.ID, StateFetching, err)
	}

	// Analyze. Articles fan out up to the configured limit; a single
	// article's failure is recorded, not fatal.
	if err := r.transition(run.ID, StateAnalyzing); err != nil {
		return nil, err
	}
	analyses, failed := r.analyzeAll(ctx, articles)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(run.ID, StateAnalyzing, err)
	}
	if len(analyses) == 0 {
		return nil, r.fail(run.ID, StateAnalyzing, ErrAllArticlesFailed)
	}

	doc := &models.AnalysisDocument{
		Company:      company,
		RunTimestamp: time.Now().UTC(),
		Articles:     analyses,
		Failed:       failed,
		Distribution: models.Distribute(analyses),
	}

	// Cross-article aggregation waits for every per-article result,
	// successful or failed, which analyzeAll already guarantees.
	cross, err := r.analyzer.AnalyzeCrossArticle(ctx, company, analyses)
	if err != nil {
		// Partial success: the document ships without the aggregate,
		// explicitly absent rather than silently dropped.
		slog.Warn("cross-article analysis failed", "company", company.Name, "error", err)
	} else {
		doc.CrossArticleSummary = cross.Summary
		doc.CommonThemes = cross.CommonThemes
		doc.Divergences = cross.Divergences
		doc.Distribution = cross.Distribution
	}

	// Localize, best-effort and skippable.
	stage := StateAnalyzing
	if r.cfg.Localize && r.localizer != nil && doc.CrossArticleSummary != "" {
		if err := r.transition(run.ID, StateLocalizing); err != nil {
			return nil, err
		}
		stage = StateLocalizing
		r.localize(ctx, doc)
	}

	// Store. A cancellation caught here is charged to the stage the
	// run actually reached, since Storing was never entered.
	if err := ctx.Err(); err != nil {
		return nil, r.fail(run.ID, stage, err)
	}
	if err := r.transition(run.ID, StateStoring); err != nil {
		return nil, err
	}
	if err := r.store.Save(doc); err != nil {
		return nil, r.fail(run.ID, StateStoring, err)
	}

	if updated, ok := r.tracker.Transition(run.ID, StateDone, "", nil); ok {
		r.notify(updated)
	}
	slog.Info("run complete",
		"company", company.Name,
		"run_id", run.ID,
		"articles", len(analyses),
		"failed_articles", len(failed),
		"duration", time.Since(start).Round(time.Millisecond))
	return doc, nil
}

// analyzeAll fans per-article analysis out up to the configured limit
// and waits for every article before returning.
func (r *Runner) analyzeAll(ctx context.Context, articles []models.Article) ([]models.ArticleAnalysis, []models.FailedArticle) {
	results := make([]*models.ArticleAnalysis, len(articles))
	failures := make([]*models.FailedArticle, len(articles))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.FanOut)
	for i, article := range articles {
		g.Go(func() error {
			analysis, err := r.analyzer.AnalyzeArticle(gctx, article)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[i] = &models.FailedArticle{Article: article, Reason: err.Error()}
				return nil
			}
			results[i] = analysis
			return nil
		})
	}
	// Workers never return errors; Wait is a pure barrier here.
	_ = g.Wait()

	var analyses []models.ArticleAnalysis
	var failed []models.FailedArticle
	for i := range articles {
		if results[i] != nil {
			analyses = append(analyses, *results[i])
		} else if failures[i] != nil {
			failed = append(failed, *failures[i])
		}
	}
	return analyses, failed
}

// localize translates the cross-article summary and synthesizes audio
// for it. Failures log and leave the document unlocalized.
func (r *Runner) localize(ctx context.Context, doc *models.AnalysisDocument) {
	lang := r.cfg.Language
	translated, err := r.localizer.Translate(ctx, doc.CrossArticleSummary, lang)
	if err != nil {
		slog.Warn("translation failed, continuing without localization",
			"company", doc.Company.Name, "lang", lang, "error", err)
		return
	}
	doc.LocalizedText = translated
	doc.Language = lang

	artifact, err := r.localizer.Synthesize(ctx, translated, lang)
	if err != nil {
		slog.Warn("speech synthesis failed, continuing without audio",
			"company", doc.Company.Name, "lang", lang, "error", err)
		return
	}
	doc.AudioRef = artifact.ContentHash
}

// transition moves the run forward, honoring cancellation at every
// stage boundary. In-flight external calls are left to finish or time
// out on their own; cancellation is only observed between stages.
func (r *Runner) transition(id string, state RunState) error {
	run, ok := r.tracker.Transition(id, state, "", nil)
	if !ok {
		return fmt.Errorf("unknown run %q", id)
	}
	r.notify(run)
	return nil
}

func (r *Runner) fail(id string, stage RunState, cause error) error {
	run, ok := r.tracker.Transition(id, StateFailed, stage, cause)
	if ok {
		r.notify(run)
	}
	slog.Error("run failed",
		"company", run.Company.Name,
		"run_id", id,
		"stage", string(stage),
		"error", cause)
	return fmt.Errorf("%s stage: %w", stage, cause)
}

func (r *Runner) notify(run Run) {
	if r.onUpdate != nil {
		r.onUpdate(run)
	}
}
