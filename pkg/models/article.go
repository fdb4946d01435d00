package models

import "time"

// Article is a news article fetched for a company. Articles are
// immutable once fetched within a run and are persisted only embedded
// in an AnalysisDocument.
type Article struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	RawText     string    `json:"raw_text,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// Ref returns the stable reference used to cite this article in
// analyses and query answers. The URL is the natural key; the title
// is the fallback for feed items without a resolvable link.
func (a Article) Ref() string {
	if a.URL != "" {
		return a.URL
	}
	return a.Title
}
