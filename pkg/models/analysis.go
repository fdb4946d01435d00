package models

import (
	"fmt"
	"time"
)

// Sentiment score bounds. Scores outside this range are a validation
// failure, never clamped.
const (
	SentimentMin = -5
	SentimentMax = 5
)

// Overall sentiment labels produced by the analysis engine.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentMixed    = "mixed"
)

// Sentiment holds the scored sentiment dimensions for one article.
// All integer fields are bounded to [SentimentMin, SentimentMax].
type Sentiment struct {
	Overall          string `json:"overall"`
	FinancialImpact  int    `json:"financial_impact"`
	ReputationImpact int    `json:"reputation_impact"`
	MarketReaction   int    `json:"market_reaction"`
}

// Validate checks that every scored field is within bounds and the
// overall label is one of the known values.
func (s Sentiment) Validate() error {
	switch s.Overall {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
	default:
		return fmt.Errorf("unknown overall sentiment %q", s.Overall)
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"financial_impact", s.FinancialImpact},
		{"reputation_impact", s.ReputationImpact},
		{"market_reaction", s.MarketReaction},
	} {
		if f.value < SentimentMin || f.value > SentimentMax {
			return fmt.Errorf("%s score %d outside [%d, %d]", f.name, f.value, SentimentMin, SentimentMax)
		}
	}
	return nil
}

// ArticleAnalysis is the analysis of a single article from one run.
type ArticleAnalysis struct {
	Article   Article   `json:"article"`
	Summary   string    `json:"summary"`
	Sentiment Sentiment `json:"sentiment"`
	Topics    []string  `json:"topics,omitempty"`
	BiasNotes string    `json:"bias_notes,omitempty"`

	// Truncated records that the article text was cut to the engine's
	// context budget before analysis, so the summary may be partial.
	Truncated bool `json:"truncated,omitempty"`
}

// FailedArticle records an article whose analysis exhausted retries.
// Failures are reported explicitly, never dropped silently.
type FailedArticle struct {
	Article Article `json:"article"`
	Reason  string  `json:"reason"`
}

// SentimentDistribution counts overall sentiment labels across the
// articles of one run.
type SentimentDistribution struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
	Mixed    int `json:"mixed,omitempty"`
}

// CrossArticleAnalysis aggregates the per-article analyses of a run.
type CrossArticleAnalysis struct {
	Summary      string                `json:"summary"`
	CommonThemes []string              `json:"common_themes,omitempty"`
	Divergences  []string              `json:"divergences,omitempty"`
	Distribution SentimentDistribution `json:"sentiment_distribution"`
}

// AnalysisDocument is the persisted output of one completed run for
// one company. A newer run fully replaces the latest document; it
// never merges with older ones.
type AnalysisDocument struct {
	Company      Company         `json:"company"`
	RunTimestamp time.Time       `json:"run_timestamp"`
	Articles     []ArticleAnalysis `json:"articles"`
	Failed       []FailedArticle `json:"failed_articles,omitempty"`

	CrossArticleSummary string   `json:"cross_article_summary,omitempty"`
	CommonThemes        []string `json:"common_themes,omitempty"`
	Divergences         []string `json:"divergences,omitempty"`

	Distribution SentimentDistribution `json:"sentiment_distribution"`

	// Localization output, present only when the run localized.
	LocalizedText string `json:"localized_text,omitempty"`
	Language      string `json:"language,omitempty"`
	AudioRef      string `json:"audio_ref,omitempty"`
}

// Distribute tallies the overall sentiment labels of the analyses.
func Distribute(analyses []ArticleAnalysis) SentimentDistribution {
	var d SentimentDistribution
	for _, a := range analyses {
		switch a.Sentiment.Overall {
		case SentimentPositive:
			d.Positive++
		case SentimentNegative:
			d.Negative++
		case SentimentMixed:
			d.Mixed++
		default:
			d.Neutral++
		}
	}
	return d
}

// AudioArtifact is a synthesized speech file keyed by the content hash
// of (text, language). Identical inputs always map to the same artifact.
type AudioArtifact struct {
	ContentHash string `json:"content_hash"`
	Language    string `json:"language"`
	FilePath    string `json:"file_path"`
}
