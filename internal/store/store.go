// Package store persists analysis documents on the filesystem, one
// directory per company. Writes go through a temp file and rename so
// a reader never observes a partially written document, and saves for
// the same company serialize on a per-company lock.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

// ErrNotFound is returned when no document exists for a company.
var ErrNotFound = errors.New("store: not found")

const (
	outputDir  = "output"
	audioDir   = "audio"
	latestFile = "latest.json"

	// historyTimeFormat names history files so lexical order is
	// chronological order.
	historyTimeFormat = "20060102T150405Z"
)

// FileStore is the durable document store rooted at a data directory.
type FileStore struct {
	root  string
	locks keyedMutex
}

// New creates a file store rooted at dir, creating the layout if needed.
func New(dir string) (*FileStore, error) {
	for _, sub := range []string{outputDir, audioDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create store layout: %w", err)
		}
	}
	return &FileStore{root: dir}, nil
}

// Root returns the data directory the store is rooted at.
func (s *FileStore) Root() string { return s.root }

// AudioDir returns the shared directory for audio artifacts.
func (s *FileStore) AudioDir() string { return filepath.Join(s.root, audioDir) }

// AudioPath returns the artifact path for a content hash.
func (s *FileStore) AudioPath(contentHash string) string {
	return filepath.Join(s.AudioDir(), contentHash+".mp3")
}

func (s *FileStore) companyDir(c models.Company) string {
	return filepath.Join(s.root, outputDir, c.Slug())
}

// Save persists the document as the company's latest and appends it to
// history. The latest pointer flips atomically; concurrent saves for
// the same company serialize.
func (s *FileStore) Save(doc *models.AnalysisDocument) error {
	if doc == nil {
		return fmt.Errorf("nil document")
	}
	if doc.Company.Name == "" {
		return fmt.Errorf("document has no company")
	}
	if doc.RunTimestamp.IsZero() {
		doc.RunTimestamp = time.Now().UTC()
	}

	unlock := s.locks.lock(doc.Company.Slug())
	defer unlock()

	dir := s.companyDir(doc.Company)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create company dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	historyName := doc.RunTimestamp.UTC().Format(historyTimeFormat) + ".json"
	if err := writeAtomic(dir, historyName, data); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := writeAtomic(dir, latestFile, data); err != nil {
		return fmt.Errorf("write latest: %w", err)
	}
	return nil
}

// Latest returns the company's latest document, or ErrNotFound.
func (s *FileStore) Latest(c models.Company) (*models.AnalysisDocument, error) {
	return s.read(filepath.Join(s.companyDir(c), latestFile))
}

// History returns the company's documents ordered oldest first. A zero
// since returns everything; otherwise only runs at or after since.
func (s *FileStore) History(c models.Company, since time.Time) ([]models.AnalysisDocument, error) {
	entries, err := os.ReadDir(s.companyDir(c))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read company dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == latestFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		ts, err := time.Parse(historyTimeFormat, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	docs := make([]models.AnalysisDocument, 0, len(names))
	for _, name := range names {
		doc, err := s.read(filepath.Join(s.companyDir(c), name))
		if err != nil {
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// Delete removes every stored document for the company. Audio
// artifacts live in a shared hash-keyed directory and are left in
// place; other documents may reference the same hash.
func (s *FileStore) Delete(c models.Company) error {
	unlock := s.locks.lock(c.Slug())
	defer unlock()

	dir := s.companyDir(c)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete company data: %w", err)
	}
	return nil
}

func (s *FileStore) read(path string) (*models.AnalysisDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	var doc models.AnalysisDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// writeAtomic writes data to dir/name through a temp file and rename.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// keyedMutex serializes operations per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
