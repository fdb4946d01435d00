package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

var acme = models.Company{Name: "Acme Corp", Ticker: "ACME"}

func testDoc(ts time.Time, summary string) *models.AnalysisDocument {
	return &models.AnalysisDocument{
		Company:      acme,
		RunTimestamp: ts,
		Articles: []models.ArticleAnalysis{
			{
				Article:   models.Article{Title: "Acme in the news", URL: "https://example.com/1"},
				Summary:   summary,
				Sentiment: models.Sentiment{Overall: models.SentimentPositive, FinancialImpact: 2},
			},
		},
		CrossArticleSummary: summary,
	}
}

func TestSaveAndLatest(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := testDoc(time.Now().UTC(), "first run")
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Latest(acme)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.CrossArticleSummary != "first run" {
		t.Errorf("summary = %q", got.CrossArticleSummary)
	}
	if got.Company.Name != acme.Name {
		t.Errorf("company = %q", got.Company.Name)
	}
}

func TestLatestAbsent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Latest(models.Company{Name: "Ghost Inc"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNewRunReplacesLatest(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Save(testDoc(base, "old run")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(testDoc(base.Add(time.Hour), "new run")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Latest(acme)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.CrossArticleSummary != "new run" {
		t.Errorf("latest = %q, want new run", got.CrossArticleSummary)
	}
}

func TestHistoryOrderedAndFiltered(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		doc := testDoc(base.AddDate(0, 0, i), fmt.Sprintf("run %d", i))
		if err := s.Save(doc); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all, err := s.History(acme, time.Time{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("history len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].RunTimestamp.Before(all[i-1].RunTimestamp) {
			t.Fatal("history not in chronological order")
		}
	}

	since, err := s.History(acme, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("History since: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("filtered history len = %d, want 2", len(since))
	}
}

func TestHistoryUnknownCompany(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	docs, err := s.History(models.Company{Name: "Ghost Inc"}, time.Time{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d docs, want 0", len(docs))
	}
}

func TestDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save(testDoc(time.Now().UTC(), "to be deleted")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(acme); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Latest(acme); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
	if err := s.Delete(acme); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteLeavesAudio(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audioPath := filepath.Join(s.AudioDir(), "abc123.mp3")
	if err := os.WriteFile(audioPath, []byte("MP3"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	if err := s.Save(testDoc(time.Now().UTC(), "run")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(acme); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(audioPath); err != nil {
		t.Errorf("audio artifact removed by company delete: %v", err)
	}
}

func TestConcurrentSavesSerialize(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := testDoc(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("run %d", i))
			if err := s.Save(doc); err != nil {
				t.Errorf("Save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// The latest pointer must hold one complete document, whichever
	// writer won.
	got, err := s.Latest(acme)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got.Articles) != 1 {
		t.Errorf("document incomplete after concurrent saves: %+v", got)
	}

	history, err := s.History(acme, time.Time{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 10 {
		t.Errorf("history len = %d, want 10", len(history))
	}
}

// ════════════════════════════════════════════════════════════════════
// Company list
// ════════════════════════════════════════════════════════════════════

func TestLoadCompanyListMissingFile(t *testing.T) {
	l, err := LoadCompanyList(filepath.Join(t.TempDir(), "companies.csv"))
	if err != nil {
		t.Fatalf("LoadCompanyList: %v", err)
	}
	if len(l.List()) != 0 {
		t.Errorf("expected empty list")
	}
}

func TestLoadCompanyListCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companies.csv")
	csv := "name,ticker\nAcme Corp,ACME\nGlobex,GLBX\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := LoadCompanyList(path)
	if err != nil {
		t.Fatalf("LoadCompanyList: %v", err)
	}
	companies := l.List()
	if len(companies) != 2 {
		t.Fatalf("len = %d, want 2", len(companies))
	}
	if companies[0].Name != "Acme Corp" || companies[0].Ticker != "ACME" {
		t.Errorf("first company = %+v", companies[0])
	}
}

func TestCompanyListAddConflict(t *testing.T) {
	l, err := LoadCompanyList(filepath.Join(t.TempDir(), "companies.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Add(acme); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Add(acme); !errors.Is(err, ErrCompanyExists) {
		t.Errorf("err = %v, want ErrCompanyExists", err)
	}
	// Identity is case-sensitive: a differently cased name is distinct.
	if err := l.Add(models.Company{Name: "ACME CORP"}); err != nil {
		t.Errorf("differently cased name rejected: %v", err)
	}
}

func TestCompanyListPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companies.csv")
	l, err := LoadCompanyList(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Add(acme); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded, err := LoadCompanyList(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get("Acme Corp")
	if !ok {
		t.Fatal("company not persisted")
	}
	if got.Ticker != "ACME" {
		t.Errorf("ticker = %q", got.Ticker)
	}
}

func TestCompanyListRemove(t *testing.T) {
	l, err := LoadCompanyList(filepath.Join(t.TempDir(), "companies.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Add(acme); err != nil {
		t.Fatal(err)
	}
	if err := l.Remove("Acme Corp"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := l.Remove("Acme Corp"); !errors.Is(err, ErrCompanyNotFound) {
		t.Errorf("err = %v, want ErrCompanyNotFound", err)
	}
}
