// Package pipeline drives the analysis pipeline for one company
// (fetch, analyze, localize, store) and schedules it across the
// company roster with bounded concurrency.
package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

// RunState is the lifecycle state of one company run.
type RunState string

const (
	StatePending    RunState = "pending"
	StateFetching   RunState = "fetching"
	StateAnalyzing  RunState = "analyzing"
	StateLocalizing RunState = "localizing"
	StateStoring    RunState = "storing"
	StateDone       RunState = "done"
	StateFailed     RunState = "failed"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Run records the progress of one pipeline execution for one company.
type Run struct {
	ID         string         `json:"id"`
	Company    models.Company `json:"company"`
	State      RunState       `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`

	// FailedStage and Error are set only when State is failed.
	FailedStage RunState `json:"failed_stage,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// newRunID returns a short random run identifier.
func newRunID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to a time-derived id; collisions are harmless here.
		return hex.EncodeToString([]byte(time.Now().Format("150405.000000")))[:16]
	}
	return hex.EncodeToString(b[:])
}

// Tracker is the in-memory table of runs, keyed by run ID. It is the
// single owner of run state; everything else reads snapshots.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewTracker creates an empty run tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*Run)}
}

// Begin registers a new pending run for the company and returns it.
func (t *Tracker) Begin(company models.Company) Run {
	run := Run{
		ID:        newRunID(),
		Company:   company,
		State:     StatePending,
		StartedAt: time.Now().UTC(),
	}
	t.mu.Lock()
	t.runs[run.ID] = &run
	t.mu.Unlock()
	return run
}

// Transition moves a run to a new state. Failed runs additionally
// record the stage that failed and the cause.
func (t *Tracker) Transition(id string, state RunState, failedStage RunState, cause error) (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[id]
	if !ok {
		return Run{}, false
	}
	run.State = state
	if state.Terminal() {
		run.FinishedAt = time.Now().UTC()
	}
	if state == StateFailed {
		run.FailedStage = failedStage
		if cause != nil {
			run.Error = cause.Error()
		}
	}
	return *run, true
}

// Get returns a snapshot of the run with the given ID.
func (t *Tracker) Get(id string) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Active returns the non-terminal run for the company, if any.
func (t *Tracker) Active(company models.Company) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, run := range t.runs {
		if run.Company.Name == company.Name && !run.State.Terminal() {
			return *run, true
		}
	}
	return Run{}, false
}

// Snapshot returns copies of all tracked runs.
func (t *Tracker) Snapshot() []Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Run, 0, len(t.runs))
	for _, run := range t.runs {
		out = append(out, *run)
	}
	return out
}
