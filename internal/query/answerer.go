// Package query answers natural-language questions against a
// company's stored analysis corpus. Retrieval is keyword overlap over
// the latest document's article analyses; the generation request is
// constrained to cite the excerpts it used. A company with no stored
// document gets an explicit no-data answer without any external call.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newspulse-ai/newspulse/internal/llm"
	"github.com/newspulse-ai/newspulse/internal/store"
	"github.com/newspulse-ai/newspulse/pkg/models"
)

const (
	defaultMaxExcerpts = 8
	defaultMaxAttempts = 3
)

// Generator is the text-generation dependency. The LLM router
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message, opts *llm.GenerateOptions) (*llm.Response, error)
}

// DocumentSource reads the latest stored document for a company.
// The file store satisfies it.
type DocumentSource interface {
	Latest(c models.Company) (*models.AnalysisDocument, error)
}

// Answerer answers questions about a company's news coverage.
type Answerer struct {
	docs        DocumentSource
	gen         Generator
	maxExcerpts int
	maxAttempts int
}

// AnswererOption configures the answerer.
type AnswererOption func(*Answerer)

// WithMaxExcerpts bounds how many article excerpts go into the prompt.
func WithMaxExcerpts(n int) AnswererOption {
	return func(a *Answerer) {
		if n > 0 {
			a.maxExcerpts = n
		}
	}
}

// WithMaxAttempts sets the retry bound on malformed replies.
func WithMaxAttempts(n int) AnswererOption {
	return func(a *Answerer) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// NewAnswerer creates an answerer over a document source and generator.
func NewAnswerer(docs DocumentSource, gen Generator, opts ...AnswererOption) *Answerer {
	a := &Answerer{
		docs:        docs,
		gen:         gen,
		maxExcerpts: defaultMaxExcerpts,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// answerReply is the schema the model must produce.
type answerReply struct {
	Answer     string  `json:"answer"`
	Citations  []int   `json:"citations"`
	Confidence float64 `json:"confidence"`
}

// Ask answers the question from the company's latest document.
func (a *Answerer) Ask(ctx context.Context, company models.Company, question string) (*models.QueryAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	doc, err := a.docs.Latest(company)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &models.QueryAnswer{
				Company:   company.Name,
				Question:  question,
				Answer:    "No analysis data is available for this company yet. Run an analysis first.",
				NoData:    true,
				Timestamp: time.Now().UTC(),
			}, nil
		}
		return nil, fmt.Errorf("load analysis: %w", err)
	}
	if len(doc.Articles) == 0 {
		return &models.QueryAnswer{
			Company:   company.Name,
			Question:  question,
			Answer:    "The stored analysis contains no articles to answer from.",
			NoData:    true,
			Timestamp: time.Now().UTC(),
		}, nil
	}

	excerpts := a.retrieve(question, doc.Articles)

	messages := []llm.Message{
		llm.SystemMessage(answerSystemPrompt),
		llm.UserMessage(buildAnswerPrompt(company, question, excerpts)),
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := a.gen.Generate(ctx, messages, &llm.GenerateOptions{Temperature: 0.2})
		if err != nil {
			lastErr = err
			continue
		}

		var reply answerReply
		if err := decodeReply(resp.Content, &reply); err != nil {
			lastErr = err
			continue
		}
		if reply.Answer == "" {
			lastErr = fmt.Errorf("reply missing answer")
			continue
		}

		var cited []string
		for _, idx := range reply.Citations {
			if idx >= 1 && idx <= len(excerpts) {
				cited = append(cited, excerpts[idx-1].Article.Ref())
			}
		}
		if reply.Confidence < 0 {
			reply.Confidence = 0
		}
		if reply.Confidence > 1 {
			reply.Confidence = 1
		}

		return &models.QueryAnswer{
			Company:       company.Name,
			Question:      question,
			Answer:        reply.Answer,
			CitedArticles: cited,
			Confidence:    reply.Confidence,
			Timestamp:     time.Now().UTC(),
		}, nil
	}

	return nil, fmt.Errorf("answer question: %w", lastErr)
}

// retrieve scores articles by keyword overlap with the question and
// returns the best matches. With no overlap at all, the most recent
// excerpts are used so the model still sees the coverage.
func (a *Answerer) retrieve(question string, analyses []models.ArticleAnalysis) []models.ArticleAnalysis {
	qTokens := tokenize(question)

	type scored struct {
		analysis models.ArticleAnalysis
		score    int
		order    int
	}
	items := make([]scored, 0, len(analyses))
	for i, an := range analyses {
		text := an.Article.Title + " " + an.Summary + " " + strings.Join(an.Topics, " ")
		items = append(items, scored{analysis: an, score: overlap(qTokens, tokenize(text)), order: i})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].order < items[j].order
	})

	n := a.maxExcerpts
	if n > len(items) {
		n = len(items)
	}
	out := make([]models.ArticleAnalysis, 0, n)
	for _, it := range items[:n] {
		out = append(out, it.analysis)
	}
	return out
}

// stopwords excluded from overlap scoring.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "to": true,
	"of": true, "in": true, "on": true, "for": true, "with": true,
	"and": true, "or": true, "what": true, "which": true, "who": true,
	"how": true, "why": true, "when": true, "did": true, "does": true,
	"do": true, "about": true, "any": true, "has": true, "have": true,
	"this": true, "that": true, "it": true, "its": true,
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		tokens[w] = true
	}
	return tokens
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

const answerSystemPrompt = `You answer questions about a company's recent news coverage using only the numbered excerpts provided.

Rules:
- Respond with a single JSON object and nothing else.
- Base the answer strictly on the excerpts. If they do not contain the answer, say so and use an empty citations list with low confidence.
- "citations" lists the numbers of the excerpts the answer relies on.
- "confidence" is a number from 0.0 to 1.0.`

func buildAnswerPrompt(company models.Company, question string, excerpts []models.ArticleAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question about %s: %s\n\nExcerpts from analyzed news coverage:\n\n", company.Name, question)
	for i, e := range excerpts {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n", i+1, e.Article.Title, e.Summary)
		if len(e.Topics) > 0 {
			fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(e.Topics, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Respond with JSON in this structure:
{
  "answer": "...",
  "citations": [1, 2],
  "confidence": 0.8
}`)
	return sb.String()
}

// decodeReply extracts and strictly decodes the JSON object in a reply.
func decodeReply(content string, v any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in reply")
	}
	dec := json.NewDecoder(strings.NewReader(content[start : end+1]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}
