// Package models defines the shared data structures for NewsPulse:
// companies, fetched articles, per-article and cross-article analyses,
// audio artifacts, and query results.
package models

import "strings"

// Company identifies a tracked company. Identity is the exact
// (case-sensitive) name; the ticker is informational.
type Company struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker,omitempty"`
}

// Slug returns the storage-safe identifier for the company,
// e.g. "Acme Corp" → "acme_corp". Slugs are used only for file
// paths, never for identity comparison.
func (c Company) Slug() string {
	return Slugify(c.Name)
}

// Slugify lowercases a name and replaces whitespace runs with underscores.
func Slugify(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "_")
}
