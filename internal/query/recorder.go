package query

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

// TrendingQuestion is a question and how often it has been asked.
type TrendingQuestion struct {
	Question string `json:"question"`
	Count    int    `json:"count"`
}

// Backend stores query records for the recent/trending endpoints.
type Backend interface {
	Record(ctx context.Context, company models.Company, rec models.QueryRecord) error
	Recent(ctx context.Context, company models.Company, n int) ([]models.QueryRecord, error)
	Trending(ctx context.Context, company models.Company, n int) ([]TrendingQuestion, error)
}

// Recorder keeps per-company query history. Writes always go to the
// in-memory backend and are mirrored to an external backend when one
// is configured, so history survives restarts and is shared across
// replicas. Reads prefer the external backend and fall back to memory
// on error, so a cache outage never blocks answering.
type Recorder struct {
	memory   *MemoryBackend
	external Backend
}

// NewRecorder creates a recorder with the given retention per company.
func NewRecorder(recentSize int) *Recorder {
	return &Recorder{memory: NewMemoryBackend(recentSize)}
}

// WithExternal attaches an external backend mirror.
func (r *Recorder) WithExternal(b Backend) *Recorder {
	r.external = b
	return r
}

// Record stores the answer of one query.
func (r *Recorder) Record(ctx context.Context, company models.Company, answer models.QueryAnswer) {
	rec := models.QueryRecord{
		Company:   company.Name,
		Question:  answer.Question,
		Answer:    answer,
		Hits:      1,
		Timestamp: time.Now().UTC(),
	}
	_ = r.memory.Record(ctx, company, rec)
	if r.external != nil {
		if err := r.external.Record(ctx, company, rec); err != nil {
			slog.Warn("external query cache write failed", "company", company.Name, "error", err)
		}
	}
}

// Recent returns the company's most recent query records, newest first.
func (r *Recorder) Recent(ctx context.Context, company models.Company, n int) []models.QueryRecord {
	if r.external != nil {
		recs, err := r.external.Recent(ctx, company, n)
		if err == nil {
			return recs
		}
		slog.Warn("external query cache read failed", "company", company.Name, "error", err)
	}
	recs, _ := r.memory.Recent(ctx, company, n)
	return recs
}

// Trending returns the company's most-asked questions.
func (r *Recorder) Trending(ctx context.Context, company models.Company, n int) []TrendingQuestion {
	if r.external != nil {
		qs, err := r.external.Trending(ctx, company, n)
		if err == nil {
			return qs
		}
		slog.Warn("external query cache read failed", "company", company.Name, "error", err)
	}
	qs, _ := r.memory.Trending(ctx, company, n)
	return qs
}

// MemoryBackend is the built-in in-process backend: a bounded ring of
// recent records and ask-counts per normalized question.
type MemoryBackend struct {
	mu     sync.RWMutex
	size   int
	recent map[string][]models.QueryRecord // company name -> newest first
	counts map[string]map[string]int       // company name -> normalized question -> count
	asked  map[string]map[string]string    // company name -> normalized -> original form
}

// NewMemoryBackend creates a memory backend keeping size records per
// company.
func NewMemoryBackend(size int) *MemoryBackend {
	if size <= 0 {
		size = 50
	}
	return &MemoryBackend{
		size:   size,
		recent: make(map[string][]models.QueryRecord),
		counts: make(map[string]map[string]int),
		asked:  make(map[string]map[string]string),
	}
}

func (m *MemoryBackend) Record(_ context.Context, company models.Company, rec models.QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := company.Name
	ring := append([]models.QueryRecord{rec}, m.recent[key]...)
	if len(ring) > m.size {
		ring = ring[:m.size]
	}
	m.recent[key] = ring

	norm := normalizeQuestion(rec.Question)
	if m.counts[key] == nil {
		m.counts[key] = make(map[string]int)
		m.asked[key] = make(map[string]string)
	}
	m.counts[key][norm]++
	if _, ok := m.asked[key][norm]; !ok {
		m.asked[key][norm] = rec.Question
	}
	return nil
}

func (m *MemoryBackend) Recent(_ context.Context, company models.Company, n int) ([]models.QueryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ring := m.recent[company.Name]
	if n <= 0 || n > len(ring) {
		n = len(ring)
	}
	out := make([]models.QueryRecord, n)
	copy(out, ring[:n])
	return out, nil
}

func (m *MemoryBackend) Trending(_ context.Context, company models.Company, n int) ([]TrendingQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := m.counts[company.Name]
	out := make([]TrendingQuestion, 0, len(counts))
	for norm, count := range counts {
		out = append(out, TrendingQuestion{Question: m.asked[company.Name][norm], Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Question < out[j].Question
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// normalizeQuestion folds case and whitespace so trivially restated
// questions count as the same one.
func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimRight(q, "?!. "))), " ")
}
