package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

// Source represents a news source configuration. SearchURL templates
// with a %s placeholder take the URL-escaped company name; sources
// without a placeholder are fetched as-is and filtered by company
// mention.
type Source struct {
	Name      string
	SearchURL string
}

// DefaultSources lists the configured news feeds.
var DefaultSources = []Source{
	{
		Name:      "Google News",
		SearchURL: "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en",
	},
	{
		Name:      "Bing News",
		SearchURL: "https://www.bing.com/news/search?q=%s&format=rss",
	},
}

// Fetcher collects company news from RSS sources.
type Fetcher struct {
	sources   []Source
	cache     *Cache
	limiter   *RateLimiter
	parser    *gofeed.Parser
	fetchBody bool
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithSources replaces the default source list.
func WithSources(sources []Source) Option {
	return func(f *Fetcher) {
		f.sources = sources
	}
}

// WithRequestsPerSec sets the per-second request budget across sources.
func WithRequestsPerSec(n int) Option {
	return func(f *Fetcher) {
		f.limiter = NewRateLimiter(n, time.Second)
	}
}

// WithFullText controls whether the fetcher follows each article link
// to extract the page body. Disabled, articles carry only the feed
// summary as raw text.
func WithFullText(enabled bool) Option {
	return func(f *Fetcher) {
		f.fetchBody = enabled
	}
}

// New creates a fetcher with default sources.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		sources:   DefaultSources,
		cache:     NewCache(10 * time.Minute),
		limiter:   NewRateLimiter(2, time.Second), // conservative: 2 req/s
		parser:    gofeed.NewParser(),
		fetchBody: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns up to maxArticles recent, deduplicated articles about
// the company. Sources that error are skipped; an empty result is not
// an error.
func (f *Fetcher) Fetch(ctx context.Context, company models.Company, maxArticles, maxAgeDays int) ([]models.Article, error) {
	cacheKey := fmt.Sprintf("news:%s:%d:%d", company.Slug(), maxArticles, maxAgeDays)
	if cached, ok := f.cache.Get(cacheKey); ok {
		return cached.([]models.Article), nil
	}

	cutoff := time.Time{}
	if maxAgeDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -maxAgeDays)
	}

	dedup := newDeduper()
	var collected []models.Article

	for _, src := range f.sources {
		if maxArticles > 0 && len(collected) >= maxArticles {
			break
		}
		if err := ctx.Err(); err != nil {
			return collected, err
		}

		articles, err := f.fetchSource(ctx, src, company)
		if err != nil {
			// Non-critical: skip failed sources.
			slog.Warn("news source failed", "source", src.Name, "company", company.Name, "error", err)
			continue
		}

		for _, a := range articles {
			if maxArticles > 0 && len(collected) >= maxArticles {
				break
			}
			if !cutoff.IsZero() && !a.PublishedAt.IsZero() && a.PublishedAt.Before(cutoff) {
				continue
			}
			if !dedup.add(a) {
				continue
			}
			if f.fetchBody {
				if text, err := f.fetchFullText(ctx, a.URL); err == nil && text != "" {
					a.RawText = text
				}
			}
			collected = append(collected, a)
		}
	}

	sortArticlesByDate(collected)
	f.cache.Set(cacheKey, collected)
	return collected, nil
}

// fetchSource parses one source's RSS feed for the company.
func (f *Fetcher) fetchSource(ctx context.Context, src Source, company models.Company) ([]models.Article, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feedURL := src.SearchURL
	filter := false
	if strings.Contains(feedURL, "%s") {
		feedURL = fmt.Sprintf(feedURL, url.QueryEscape(company.Name))
	} else {
		// Static feed: keep only items that mention the company.
		filter = true
	}

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", src.Name, err)
	}

	keywords := companyKeywords(company)
	articles := make([]models.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		summary := cleanHTML(item.Description)
		if filter && !matchesAny(item.Title+" "+summary, keywords) {
			continue
		}
		a := models.Article{
			Title:   item.Title,
			URL:     item.Link,
			Source:  src.Name,
			RawText: summary,
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		}
		articles = append(articles, a)
	}

	return articles, nil
}

// fetchFullText downloads an article page and extracts its paragraph text.
func (f *Fetcher) fetchFullText(ctx context.Context, articleURL string) (string, error) {
	if articleURL == "" {
		return "", fmt.Errorf("empty article URL")
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, _, err := doGet(ctx, HTTPClient, articleURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse article page: %w", err)
	}

	doc.Find("script, style, nav, header, footer, aside").Remove()

	var sb strings.Builder
	doc.Find("article p, main p, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if len(text) < 40 {
			// Skip nav crumbs and captions.
			return true
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
		return sb.Len() < 20000
	})

	return sb.String(), nil
}

// --- Internal helpers ---

// deduper tracks seen URLs and normalized titles within one fetch.
type deduper struct {
	urls   map[string]bool
	titles map[string]bool
}

func newDeduper() *deduper {
	return &deduper{
		urls:   make(map[string]bool),
		titles: make(map[string]bool),
	}
}

// add reports whether the article is new, recording it if so.
func (d *deduper) add(a models.Article) bool {
	u := normalizeURL(a.URL)
	t := normalizeTitle(a.Title)
	if u != "" && d.urls[u] {
		return false
	}
	if t != "" && d.titles[t] {
		return false
	}
	if u != "" {
		d.urls[u] = true
	}
	if t != "" {
		d.titles[t] = true
	}
	return true
}

// normalizeURL strips the scheme, query string, and trailing slash so
// the same article reached via different trackers dedups.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(strings.TrimSuffix(u.Host+u.Path, "/"))
}

// normalizeTitle lowercases and collapses a title to its word content
// so near-identical headlines from syndicated copies dedup.
func normalizeTitle(title string) string {
	fields := strings.Fields(strings.ToLower(title))
	// Drop the trailing " - Publisher" tail common in aggregator feeds.
	for i, w := range fields {
		if w == "-" && i > 3 {
			fields = fields[:i]
			break
		}
	}
	return strings.Join(fields, " ")
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

// companyKeywords returns search keywords for a company.
func companyKeywords(c models.Company) []string {
	keywords := []string{strings.ToLower(c.Name)}
	if c.Ticker != "" {
		keywords = append(keywords, strings.ToLower(c.Ticker))
	}
	return keywords
}

// matchesAny checks if text contains any of the keywords (case-insensitive).
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sortArticlesByDate sorts articles by published date (newest first).
// Simple insertion sort, fine for small slices.
func sortArticlesByDate(articles []models.Article) {
	for i := 1; i < len(articles); i++ {
		key := articles[i]
		j := i - 1
		for j >= 0 && articles[j].PublishedAt.Before(key.PublishedAt) {
			articles[j+1] = articles[j]
			j--
		}
		articles[j+1] = key
	}
}
