package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/newspulse-ai/newspulse/internal/llm"
	"github.com/newspulse-ai/newspulse/pkg/models"
)

// scriptedGen returns canned replies in order, then repeats the last.
type scriptedGen struct {
	replies []string
	errs    []error
	calls   int
}

func (g *scriptedGen) Generate(ctx context.Context, messages []llm.Message, opts *llm.GenerateOptions) (*llm.Response, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	reply := ""
	if len(g.replies) > 0 {
		if i >= len(g.replies) {
			i = len(g.replies) - 1
		}
		reply = g.replies[i]
	}
	return &llm.Response{Content: reply, Provider: "scripted"}, nil
}

var testArticle = models.Article{
	URL:     "https://example.com/acme-earnings",
	Title:   "Acme Corp beats earnings estimates",
	RawText: "Acme Corp reported quarterly revenue well above analyst expectations.",
	Source:  "Test Wire",
}

const goodArticleReply = `{
	"summary": "Acme Corp beat analyst expectations with strong quarterly revenue.",
	"sentiment": {"overall": "positive", "financial_impact": 4, "reputation_impact": 2, "market_reaction": 3},
	"topics": ["earnings", "revenue"],
	"bias_notes": ""
}`

func TestAnalyzeArticle(t *testing.T) {
	gen := &scriptedGen{replies: []string{goodArticleReply}}
	e := NewEngine(gen)

	got, err := e.AnalyzeArticle(context.Background(), testArticle)
	if err != nil {
		t.Fatalf("AnalyzeArticle: %v", err)
	}
	if got.Sentiment.Overall != models.SentimentPositive {
		t.Errorf("overall = %q", got.Sentiment.Overall)
	}
	if got.Sentiment.FinancialImpact != 4 {
		t.Errorf("financial_impact = %d", got.Sentiment.FinancialImpact)
	}
	if got.Truncated {
		t.Error("short article should not be marked truncated")
	}
	if got.Article.URL != testArticle.URL {
		t.Errorf("article not carried through")
	}
}

func TestAnalyzeArticleExtractsFencedJSON(t *testing.T) {
	gen := &scriptedGen{replies: []string{"Here is the analysis:\n```json\n" + goodArticleReply + "\n```"}}
	e := NewEngine(gen)

	got, err := e.AnalyzeArticle(context.Background(), testArticle)
	if err != nil {
		t.Fatalf("AnalyzeArticle: %v", err)
	}
	if got.Summary == "" {
		t.Error("summary not extracted from fenced reply")
	}
}

func TestAnalyzeArticleRetriesOutOfRangeScore(t *testing.T) {
	// First reply scores 7 — outside bounds, must be retried, not clamped.
	bad := `{
		"summary": "ok",
		"sentiment": {"overall": "positive", "financial_impact": 7, "reputation_impact": 0, "market_reaction": 0},
		"topics": [], "bias_notes": ""
	}`
	gen := &scriptedGen{replies: []string{bad, goodArticleReply}}
	e := NewEngine(gen)

	got, err := e.AnalyzeArticle(context.Background(), testArticle)
	if err != nil {
		t.Fatalf("AnalyzeArticle: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("calls = %d, want 2 (retry after invalid score)", gen.calls)
	}
	if got.Sentiment.FinancialImpact != 4 {
		t.Errorf("financial_impact = %d, want value from retried reply, never clamped", got.Sentiment.FinancialImpact)
	}
}

func TestAnalyzeArticleRetriesMalformedJSON(t *testing.T) {
	gen := &scriptedGen{replies: []string{"I cannot analyze this.", goodArticleReply}}
	e := NewEngine(gen)

	if _, err := e.AnalyzeArticle(context.Background(), testArticle); err != nil {
		t.Fatalf("AnalyzeArticle: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("calls = %d, want 2", gen.calls)
	}
}

func TestAnalyzeArticleExhaustsRetries(t *testing.T) {
	gen := &scriptedGen{replies: []string{"not json"}}
	e := NewEngine(gen, WithMaxAttempts(3))

	_, err := e.AnalyzeArticle(context.Background(), testArticle)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want 3", gen.calls)
	}
}

func TestAnalyzeArticleRecordsTruncation(t *testing.T) {
	long := testArticle
	long.RawText = strings.Repeat("Acme Corp had a very busy quarter. ", 500)

	gen := &scriptedGen{replies: []string{goodArticleReply}}
	e := NewEngine(gen, WithMaxArticleChars(1000))

	got, err := e.AnalyzeArticle(context.Background(), long)
	if err != nil {
		t.Fatalf("AnalyzeArticle: %v", err)
	}
	if !got.Truncated {
		t.Error("truncation not recorded")
	}
}

func TestAnalyzeCrossArticle(t *testing.T) {
	analyses := []models.ArticleAnalysis{
		{
			Article:   models.Article{Title: "Acme beats estimates"},
			Summary:   "Strong quarter.",
			Sentiment: models.Sentiment{Overall: models.SentimentPositive},
			Topics:    []string{"earnings"},
		},
		{
			Article:   models.Article{Title: "Acme faces lawsuit"},
			Summary:   "Legal trouble ahead.",
			Sentiment: models.Sentiment{Overall: models.SentimentNegative},
			Topics:    []string{"litigation"},
		},
	}

	gen := &scriptedGen{replies: []string{`{
		"summary": "Coverage of Acme Corp is mixed: strong earnings against new legal risk. Near-term outlook depends on the lawsuit.",
		"common_themes": ["Acme Corp"],
		"divergences": ["earnings strength vs legal exposure"]
	}`}}
	e := NewEngine(gen)

	got, err := e.AnalyzeCrossArticle(context.Background(), models.Company{Name: "Acme Corp"}, analyses)
	if err != nil {
		t.Fatalf("AnalyzeCrossArticle: %v", err)
	}
	if got.Distribution.Positive != 1 || got.Distribution.Negative != 1 {
		t.Errorf("distribution = %+v, want one positive one negative", got.Distribution)
	}
	if len(got.Divergences) != 1 {
		t.Errorf("divergences = %v", got.Divergences)
	}
}

func TestAnalyzeCrossArticleSingleArticleSkipsModel(t *testing.T) {
	analyses := []models.ArticleAnalysis{
		{
			Summary:   "Only one article.",
			Sentiment: models.Sentiment{Overall: models.SentimentNeutral},
			Topics:    []string{"general"},
		},
	}
	gen := &scriptedGen{}
	e := NewEngine(gen)

	got, err := e.AnalyzeCrossArticle(context.Background(), models.Company{Name: "Acme Corp"}, analyses)
	if err != nil {
		t.Fatalf("AnalyzeCrossArticle: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("calls = %d, single article needs no comparison", gen.calls)
	}
	if got.Summary != "Only one article." {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestAnalyzeCrossArticleEmpty(t *testing.T) {
	e := NewEngine(&scriptedGen{})
	if _, err := e.AnalyzeCrossArticle(context.Background(), models.Company{Name: "Acme Corp"}, nil); err == nil {
		t.Fatal("expected error for empty analyses")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		wantCut bool
	}{
		{"under budget", "short text", 100, false},
		{"exactly budget", "1234567890", 10, false},
		{"over budget", strings.Repeat("word ", 100), 50, true},
		{"zero budget means unlimited", strings.Repeat("x", 100), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cut := truncate(tt.input, tt.max)
			if cut != tt.wantCut {
				t.Errorf("cut = %v, want %v", cut, tt.wantCut)
			}
			if tt.max > 0 && len(got) > tt.max {
				t.Errorf("len = %d exceeds max %d", len(got), tt.max)
			}
			if !tt.wantCut && got != tt.input {
				t.Errorf("unexpected modification: %q", got)
			}
		})
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// No space anywhere, so the word-boundary backoff does not apply
	// and the cut must land on a rune boundary instead.
	devanagari := strings.Repeat("न", 40) // 3 bytes each
	got, cut := truncate(devanagari, 50)
	if !cut {
		t.Fatal("expected truncation")
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated text is invalid UTF-8: %q", got)
	}
	if len(got) > 50 {
		t.Errorf("len = %d exceeds max 50", len(got))
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, false},
		{"with prose", `Sure: {"a": 1} hope that helps`, `{"a": 1}`, false},
		{"nested", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`, false},
		{"no object", "no json here", "", true},
		{"reversed braces", "} {", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
