package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

// CompanyLister supplies the roster the scheduler walks each pass.
type CompanyLister interface {
	List() []models.Company
}

// Scheduler fans the pipeline out across the company roster on a
// timer, holding at most maxConcurrent pipelines in flight. A pass
// that reaches a company with an active run coalesces: the company is
// skipped, not queued twice. Failed companies are simply picked up
// again on the next pass.
type Scheduler struct {
	runner    *Runner
	companies CompanyLister
	interval  time.Duration
	sem       *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]string // company name -> run ID
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler over the runner and roster.
func NewScheduler(runner *Runner, companies CompanyLister, interval time.Duration, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Scheduler{
		runner:    runner,
		companies: companies,
		interval:  interval,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		inflight:  make(map[string]string),
	}
}

// Start runs scheduled passes until the context is cancelled. The
// first pass starts immediately. Start blocks; run it in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping, waiting for in-flight runs")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// pass submits every rostered company, coalescing those in flight.
func (s *Scheduler) pass(ctx context.Context) {
	companies := s.companies.List()
	slog.Debug("scheduler pass", "companies", len(companies))
	for _, c := range companies {
		if ctx.Err() != nil {
			return
		}
		s.Submit(ctx, c, 0, 0)
	}
}

// Submit starts a pipeline run for the company unless one is already
// in flight, in which case the active run's ID is returned with
// coalesced=true. The run executes in the background under the
// concurrency limit.
func (s *Scheduler) Submit(ctx context.Context, company models.Company, numArticles, daysBack int) (runID string, coalesced bool) {
	s.mu.Lock()
	if id, ok := s.inflight[company.Name]; ok {
		s.mu.Unlock()
		slog.Debug("run coalesced", "company", company.Name, "run_id", id)
		return id, true
	}
	run := s.runner.Tracker().Begin(company)
	s.inflight[company.Name] = run.ID
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, company.Name)
			s.mu.Unlock()
		}()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.runner.fail(run.ID, StatePending, err)
			return
		}
		defer s.sem.Release(1)

		// Errors are already recorded on the run and logged.
		_, _ = s.runner.execute(ctx, run, company, numArticles, daysBack)
	}()

	return run.ID, false
}

// InFlight returns the number of active runs.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Wait blocks until all submitted runs finish. Intended for tests and
// one-shot CLI invocations.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
