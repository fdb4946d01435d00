// Package analysis turns raw news articles into structured sentiment
// analyses by prompting a text-generation model and validating its
// JSON replies against a fixed schema. Replies that fail to parse or
// carry out-of-range scores are retried, never patched up.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/newspulse-ai/newspulse/internal/config"
	"github.com/newspulse-ai/newspulse/internal/llm"
	"github.com/newspulse-ai/newspulse/pkg/models"
)

// ErrExhausted is returned when every attempt at analyzing a unit
// failed validation or transport.
var ErrExhausted = errors.New("analysis: retries exhausted")

// Generator is the text-generation dependency of the engine. The LLM
// router satisfies it.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message, opts *llm.GenerateOptions) (*llm.Response, error)
}

const (
	defaultMaxAttempts     = 3
	defaultMaxArticleChars = 5000
	defaultTemperature     = 0.2
)

// Engine analyzes articles through a Generator.
type Engine struct {
	gen             Generator
	maxAttempts     int
	maxArticleChars int
	temperature     float64
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithMaxAttempts sets how many times a single analysis request is
// attempted before giving up.
func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithMaxArticleChars caps the article text included in a prompt.
func WithMaxArticleChars(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxArticleChars = n
		}
	}
}

// WithTemperature sets the sampling temperature for analysis requests.
func WithTemperature(t float64) EngineOption {
	return func(e *Engine) {
		e.temperature = t
	}
}

// NewEngine creates an analysis engine on top of the given generator.
func NewEngine(gen Generator, opts ...EngineOption) *Engine {
	e := &Engine{
		gen:             gen,
		maxAttempts:     defaultMaxAttempts,
		maxArticleChars: defaultMaxArticleChars,
		temperature:     defaultTemperature,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig creates an engine with settings from configuration.
func NewEngineFromConfig(gen Generator, cfg config.AnalysisConfig) *Engine {
	return NewEngine(gen,
		WithMaxAttempts(cfg.MaxAttempts),
		WithMaxArticleChars(cfg.MaxArticleChars),
	)
}

// articleReply is the schema the model must produce for one article.
type articleReply struct {
	Summary   string           `json:"summary"`
	Sentiment models.Sentiment `json:"sentiment"`
	Topics    []string         `json:"topics"`
	BiasNotes string           `json:"bias_notes"`
}

// crossReply is the schema for the cross-article aggregation step.
type crossReply struct {
	Summary      string   `json:"summary"`
	CommonThemes []string `json:"common_themes"`
	Divergences  []string `json:"divergences"`
}

// AnalyzeArticle analyzes one article. The article text is truncated
// to the configured budget before prompting; the truncation is
// recorded on the result so consumers know the summary may be partial.
func (e *Engine) AnalyzeArticle(ctx context.Context, article models.Article) (*models.ArticleAnalysis, error) {
	text, truncated := truncate(article.RawText, e.maxArticleChars)

	messages := []llm.Message{
		llm.SystemMessage(articleSystemPrompt),
		llm.UserMessage(buildArticlePrompt(article, text)),
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := e.gen.Generate(ctx, messages, &llm.GenerateOptions{Temperature: e.temperature})
		if err != nil {
			lastErr = err
			continue
		}

		var reply articleReply
		if err := decodeReply(resp.Content, &reply); err != nil {
			lastErr = err
			slog.Debug("article analysis reply rejected",
				"article", article.Ref(), "attempt", attempt, "error", err)
			continue
		}
		if reply.Summary == "" {
			lastErr = fmt.Errorf("reply missing summary")
			continue
		}
		if err := reply.Sentiment.Validate(); err != nil {
			lastErr = err
			slog.Debug("article sentiment rejected",
				"article", article.Ref(), "attempt", attempt, "error", err)
			continue
		}

		return &models.ArticleAnalysis{
			Article:   article,
			Summary:   reply.Summary,
			Sentiment: reply.Sentiment,
			Topics:    reply.Topics,
			BiasNotes: reply.BiasNotes,
			Truncated: truncated,
		}, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, e.maxAttempts, lastErr)
}

// AnalyzeCrossArticle aggregates per-article analyses into common
// themes, divergences, and an overall summary for the company. The
// sentiment distribution is tallied locally, not asked of the model.
func (e *Engine) AnalyzeCrossArticle(ctx context.Context, company models.Company, analyses []models.ArticleAnalysis) (*models.CrossArticleAnalysis, error) {
	if len(analyses) == 0 {
		return nil, fmt.Errorf("no analyses to aggregate")
	}

	dist := models.Distribute(analyses)
	if len(analyses) == 1 {
		// A single article has nothing to compare against.
		return &models.CrossArticleAnalysis{
			Summary:      analyses[0].Summary,
			CommonThemes: analyses[0].Topics,
			Distribution: dist,
		}, nil
	}

	messages := []llm.Message{
		llm.SystemMessage(crossArticleSystemPrompt),
		llm.UserMessage(buildCrossArticlePrompt(company, analyses)),
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := e.gen.Generate(ctx, messages, &llm.GenerateOptions{Temperature: e.temperature})
		if err != nil {
			lastErr = err
			continue
		}

		var reply crossReply
		if err := decodeReply(resp.Content, &reply); err != nil {
			lastErr = err
			continue
		}
		if reply.Summary == "" {
			lastErr = fmt.Errorf("reply missing summary")
			continue
		}

		return &models.CrossArticleAnalysis{
			Summary:      reply.Summary,
			CommonThemes: reply.CommonThemes,
			Divergences:  reply.Divergences,
			Distribution: dist,
		}, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, e.maxAttempts, lastErr)
}

// decodeReply extracts the JSON object from a model reply and decodes
// it strictly into v. Prose around the object and markdown fences are
// tolerated; a missing or malformed object fails closed.
func decodeReply(content string, v any) error {
	raw, err := extractJSON(content)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// extractJSON returns the outermost {...} object in s.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in reply")
	}
	return s[start : end+1], nil
}

// truncate cuts s to at most max bytes, reporting whether anything
// was cut. Backs off to the previous word boundary when one is near,
// and never splits a multi-byte rune.
func truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	cut := s[:end]
	if i := strings.LastIndex(cut, " "); i > 0 && i > max-64 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut), true
}
