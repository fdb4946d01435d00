package models

import "time"

// QueryAnswer is the result of asking a question against a company's
// stored analysis corpus.
type QueryAnswer struct {
	Company       string    `json:"company"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	CitedArticles []string  `json:"cited_article_refs,omitempty"`
	Confidence    float64   `json:"confidence"`
	NoData        bool      `json:"no_data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// QueryRecord is a cached query result kept for the recent/trending
// endpoints. Records are ephemeral, not authoritative state.
type QueryRecord struct {
	Company   string      `json:"company"`
	Question  string      `json:"question"`
	Answer    QueryAnswer `json:"answer"`
	Hits      int         `json:"hits"`
	Timestamp time.Time   `json:"timestamp"`
}
