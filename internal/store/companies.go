package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

// ErrCompanyExists is returned when adding a company whose name is
// already on the list.
var ErrCompanyExists = errors.New("store: company already exists")

// ErrCompanyNotFound is returned when a named company is not on the list.
var ErrCompanyNotFound = errors.New("store: company not found")

// CompanyList is the tracked-company roster, backed by a CSV file with
// a "name,ticker" header row. Company identity is the exact name.
type CompanyList struct {
	mu        sync.RWMutex
	path      string
	companies []models.Company
}

// LoadCompanyList reads the roster from path. A missing file yields an
// empty list; it is created on first Add.
func LoadCompanyList(path string) (*CompanyList, error) {
	l := &CompanyList{path: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open company list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse company list: %w", err)
	}

	for i, rec := range records {
		if len(rec) == 0 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		if name == "" {
			continue
		}
		// Skip a header row.
		if i == 0 && strings.EqualFold(name, "name") {
			continue
		}
		c := models.Company{Name: name}
		if len(rec) > 1 {
			c.Ticker = strings.TrimSpace(rec[1])
		}
		l.companies = append(l.companies, c)
	}
	return l, nil
}

// List returns the companies in roster order.
func (l *CompanyList) List() []models.Company {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Company, len(l.companies))
	copy(out, l.companies)
	return out
}

// Get returns the company with the exact name.
func (l *CompanyList) Get(name string) (models.Company, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.companies {
		if c.Name == name {
			return c, true
		}
	}
	return models.Company{}, false
}

// Add appends a company and persists the roster. Adding an existing
// name is a conflict.
func (l *CompanyList) Add(c models.Company) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("company name required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.companies {
		if existing.Name == c.Name {
			return ErrCompanyExists
		}
	}
	l.companies = append(l.companies, c)
	return l.persist()
}

// Remove deletes a company by exact name and persists the roster.
func (l *CompanyList) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.companies {
		if c.Name == name {
			l.companies = append(l.companies[:i], l.companies[i+1:]...)
			return l.persist()
		}
	}
	return ErrCompanyNotFound
}

// persist writes the roster CSV atomically. Must be called with mu held.
func (l *CompanyList) persist() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create company list dir: %w", err)
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write([]string{"name", "ticker"}); err != nil {
		return err
	}
	for _, c := range l.companies {
		if err := w.Write([]string{c.Name, c.Ticker}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return writeAtomic(dir, filepath.Base(l.path), []byte(sb.String()))
}
