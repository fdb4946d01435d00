package analysis

import (
	"fmt"
	"strings"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

const articleSystemPrompt = `You are a financial news analyst. You analyze news articles about companies and report structured sentiment assessments.

Rules:
- Respond with a single JSON object and nothing else. No markdown, no commentary.
- "overall" must be exactly one of: "positive", "negative", "neutral", "mixed".
- "financial_impact", "reputation_impact", and "market_reaction" must be integers from -5 (strongly negative) to 5 (strongly positive).
- Base your assessment only on the article text provided. Note suspected bias or one-sided framing in "bias_notes"; leave it empty if none.`

const crossArticleSystemPrompt = `You are a financial news analyst. You compare multiple analyzed articles about one company and report how their coverage agrees and differs.

Rules:
- Respond with a single JSON object and nothing else. No markdown, no commentary.
- "summary" is a final sentiment assessment for the company in 2-3 sentences: the overall direction, the key factors driving it, and the implication for the company.
- "common_themes" lists topics covered by more than one article.
- "divergences" lists concrete points where articles disagree or cover materially different ground.`

// buildArticlePrompt formats one article for per-article analysis.
func buildArticlePrompt(article models.Article, text string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze the following news article.\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", article.Title)
	if article.Source != "" {
		fmt.Fprintf(&sb, "Source: %s\n", article.Source)
	}
	if !article.PublishedAt.IsZero() {
		fmt.Fprintf(&sb, "Published: %s\n", article.PublishedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&sb, "\nContent:\n%s\n\n", text)
	sb.WriteString(`Provide:
1. A concise summary of the article (2-3 sentences).
2. The sentiment of the article, overall and scored per dimension.
3. The main topics covered.

Respond with JSON in this structure:
{
  "summary": "...",
  "sentiment": {"overall": "positive|negative|neutral|mixed", "financial_impact": 0, "reputation_impact": 0, "market_reaction": 0},
  "topics": ["topic1", "topic2"],
  "bias_notes": ""
}`)
	return sb.String()
}

// buildCrossArticlePrompt formats the per-article analyses for the
// aggregation step.
func buildCrossArticlePrompt(company models.Company, analyses []models.ArticleAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The following articles about %s have been analyzed:\n\n", company.Name)
	for i, a := range analyses {
		fmt.Fprintf(&sb, "Article %d: %s\n", i+1, a.Article.Title)
		fmt.Fprintf(&sb, "Summary: %s\n", a.Summary)
		fmt.Fprintf(&sb, "Sentiment: %s\n", a.Sentiment.Overall)
		if len(a.Topics) > 0 {
			fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(a.Topics, ", "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, `Compare the coverage and provide:
1. A final sentiment assessment for %s in 2-3 sentences.
2. Topics common across articles.
3. Points where the articles diverge.

Respond with JSON in this structure:
{
  "summary": "...",
  "common_themes": ["theme1", "theme2"],
  "divergences": ["difference1", "difference2"]
}`, company.Name)
	return sb.String()
}
