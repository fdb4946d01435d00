// Package api provides the HTTP REST API server for NewsPulse.
//
// It exposes endpoints for company management, pipeline runs, stored
// sentiment results, localized audio, question answering, and
// WebSocket streaming of run progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/newspulse-ai/newspulse/internal/analysis"
	"github.com/newspulse-ai/newspulse/internal/config"
	"github.com/newspulse-ai/newspulse/internal/fetcher"
	"github.com/newspulse-ai/newspulse/internal/llm"
	"github.com/newspulse-ai/newspulse/internal/localize"
	"github.com/newspulse-ai/newspulse/internal/pipeline"
	"github.com/newspulse-ai/newspulse/internal/query"
	"github.com/newspulse-ai/newspulse/internal/store"
	"github.com/newspulse-ai/newspulse/pkg/models"
	"github.com/newspulse-ai/newspulse/web"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Server is the HTTP API server.
type Server struct {
	router    chi.Router
	cfg       *config.Config
	store     *store.FileStore
	companies *store.CompanyList
	runner    *pipeline.Runner
	scheduler *pipeline.Scheduler
	tracker   *pipeline.Tracker
	answerer  *query.Answerer
	recorder  *query.Recorder
	wsHub     *WSHub
	serveUI   bool // when true, serve the embedded web UI at /
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config) (*Server, error) {
	router, err := llm.NewRouterFromConfig(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("LLM setup failed: %w", err)
	}

	st, err := store.New(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("storage setup failed: %w", err)
	}

	companies, err := store.LoadCompanyList(cfg.Storage.CompanyFile)
	if err != nil {
		return nil, fmt.Errorf("company list setup failed: %w", err)
	}

	news := fetcher.New(fetcher.WithRequestsPerSec(cfg.Fetcher.RequestsPerSec))
	engine := analysis.NewEngineFromConfig(router, cfg.Analysis)

	var loc pipeline.Localizer
	if cfg.Localize.Enabled {
		loc = localize.New(st.AudioDir(), localize.WithMaxAttempts(cfg.Localize.MaxAttempts))
	}

	tracker := pipeline.NewTracker()
	runner := pipeline.NewRunner(news, engine, loc, st, tracker, pipeline.RunnerConfig{
		MaxArticles: cfg.Fetcher.MaxArticles,
		MaxAgeDays:  cfg.Fetcher.MaxAgeDays,
		FanOut:      cfg.Analysis.FanOut,
		Localize:    cfg.Localize.Enabled,
		Language:    cfg.Localize.Language,
	})

	interval := time.Duration(cfg.Scheduler.IntervalMinutes) * time.Minute
	sched := pipeline.NewScheduler(runner, companies, interval, cfg.Scheduler.MaxConcurrent)

	recorder := query.NewRecorder(cfg.Query.RecentSize)
	if cfg.Query.ValkeyAddr != "" {
		backend, err := query.NewValkeyBackend(cfg.Query.ValkeyAddr)
		if err != nil {
			slog.Warn("valkey unavailable, query history is in-memory only", "error", err)
		} else {
			recorder.WithExternal(backend)
		}
	}

	srv := &Server{
		cfg:       cfg,
		store:     st,
		companies: companies,
		runner:    runner,
		scheduler: sched,
		tracker:   tracker,
		answerer:  query.NewAnswerer(st, router, query.WithMaxExcerpts(cfg.Query.MaxExcerpts)),
		recorder:  recorder,
		wsHub:     NewWSHub(),
		serveUI:   true, // serve embedded web UI by default
	}

	runner.OnUpdate(func(run pipeline.Run) {
		srv.wsHub.Broadcast(WSMessage{Type: "run_update", Data: run})
	})

	srv.router = srv.buildRouter()
	return srv, nil
}

// SetServeUI controls whether the embedded web UI is served.
// Must be called before ListenAndServe.
func (s *Server) SetServeUI(enabled bool) {
	s.serveUI = enabled
	s.router = s.buildRouter()
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown. The
// background scheduler runs alongside it when a refresh interval is
// configured, and is drained before the server exits.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start WebSocket hub
	go s.wsHub.Run()

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	if s.cfg.Scheduler.IntervalMinutes > 0 {
		go s.scheduler.Start(schedCtx)
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server")
	stopSched()
	s.scheduler.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(300 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health (also available at /health)
		r.Get("/health", s.handleHealth)

		// Company roster
		r.Get("/companies", s.handleListCompanies)
		r.Post("/companies", s.handleAddCompany)
		r.Delete("/companies/{name}", s.handleRemoveCompany)

		// Pipeline runs
		r.Get("/analyze/{company}", s.handleAnalyze)
		r.Post("/analyze", s.handleAnalyzeAsync)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRunByID)

		// Stored results
		r.Get("/sentiment/{company}", s.handleSentiment)
		r.Get("/audio/{company}", s.handleAudio)
		r.Get("/data/{company}", s.handleHistory)
		r.Delete("/data/{company}", s.handleDeleteData)

		// Question answering
		r.Post("/query/{company}", s.handleQuery)
		r.Get("/query/recent/{company}", s.handleQueryRecent)
		r.Get("/query/trending/{company}", s.handleQueryTrending)

		// Configuration
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)

		// WebSocket run-status stream
		r.Get("/ws", s.handleWebSocket)
	})

	// Serve embedded web UI (SPA with fallback to index.html)
	if s.serveUI {
		s.mountSPA(r, web.DistFS())
	}

	return r
}

// mountSPA serves the embedded static export as a single-page app.
// Static assets are served directly with caching; all other paths fall
// back to index.html for client-side routing.
func (s *Server) mountSPA(r chi.Router, distFS fs.FS) {
	fileServer := http.FileServerFS(distFS)

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		rPath := strings.TrimPrefix(r.URL.Path, "/")
		if rPath == "" {
			rPath = "index.html"
		}

		f, err := distFS.Open(rPath)
		if err != nil {
			serveIndexHTML(w, r, distFS)
			return
		}
		f.Close()

		if strings.HasPrefix(rPath, "assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else if rPath == "index.html" || strings.HasSuffix(rPath, ".html") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}

		fileServer.ServeHTTP(w, r)
	})
}

// serveIndexHTML reads and serves the embedded index.html for SPA fallback.
func serveIndexHTML(w http.ResponseWriter, r *http.Request, distFS fs.FS) {
	data, err := fs.ReadFile(distFS, "index.html")
	if err != nil {
		http.Error(w, "web UI not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AddCompanyRequest is the body for POST /api/v1/companies.
type AddCompanyRequest struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker,omitempty"`
}

// AnalyzeRequest is the body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	Company     string `json:"company"`
	NumArticles int    `json:"num_articles,omitempty"`
	DaysBack    int    `json:"days_back,omitempty"`
}

// AnalyzeAccepted is the response for an enqueued analysis run.
type AnalyzeAccepted struct {
	RunID     string `json:"run_id"`
	Company   string `json:"company"`
	Coalesced bool   `json:"coalesced"` // true when joined to an already-running analysis
}

// QueryRequest is the body for POST /api/v1/query/{company}.
type QueryRequest struct {
	Question string `json:"question"`
}

// SentimentView is the presentation projection of the latest stored
// document for one company.
type SentimentView struct {
	Company      string                       `json:"company"`
	Ticker       string                       `json:"ticker,omitempty"`
	RunTimestamp time.Time                    `json:"run_timestamp"`
	Overall      string                       `json:"overall"`
	Distribution models.SentimentDistribution `json:"sentiment_distribution"`

	Summary      string   `json:"summary,omitempty"`
	CommonThemes []string `json:"common_themes,omitempty"`
	Divergences  []string `json:"divergences,omitempty"`

	Articles []ArticleSentiment `json:"articles"`
	Failed   int                `json:"failed_articles,omitempty"`

	LocalizedText string `json:"localized_text,omitempty"`
	Language      string `json:"language,omitempty"`
	HasAudio      bool   `json:"has_audio"`
}

// ArticleSentiment is the per-article slice of a SentimentView.
type ArticleSentiment struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Source      string   `json:"source,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	Overall     string   `json:"overall"`
	Financial   int      `json:"financial_impact"`
	Reputation  int      `json:"reputation_impact"`
	Market      int      `json:"market_reaction"`
	Summary     string   `json:"summary"`
	Topics      []string `json:"topics,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":    "ok",
			"version":   Version,
			"companies": len(s.companies.List()),
			"in_flight": s.scheduler.InFlight(),
			"time_utc":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.companies.List(),
	})
}

func (s *Server) handleAddCompany(w http.ResponseWriter, r *http.Request) {
	var req AddCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := models.Company{Name: strings.TrimSpace(req.Name), Ticker: strings.TrimSpace(req.Ticker)}
	if err := s.companies.Add(c); err != nil {
		if errors.Is(err, store.ErrCompanyExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    c,
	})
}

func (s *Server) handleRemoveCompany(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "company name is required")
		return
	}

	if err := s.companies.Remove(name); err != nil {
		if errors.Is(err, store.ErrCompanyNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"removed": name},
	})
}

// handleAnalyze runs the full pipeline synchronously and returns the
// stored document. num_articles and days_back query parameters
// override the configured defaults.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	numArticles := queryInt(r, "num_articles", 0)
	daysBack := queryInt(r, "days_back", 0)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, err := s.runner.Run(ctx, company, numArticles, daysBack)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoArticles) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.wsHub.Broadcast(WSMessage{
		Type: "analysis_complete",
		Data: map[string]interface{}{
			"company":  company.Name,
			"articles": len(doc.Articles),
		},
	})

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    doc,
	})
}

// handleAnalyzeAsync enqueues a run through the scheduler and returns
// immediately. A request for a company whose run is already in flight
// joins that run instead of starting a second one.
func (s *Server) handleAnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Company) == "" {
		writeError(w, http.StatusBadRequest, "company is required")
		return
	}

	company := s.resolveCompany(strings.TrimSpace(req.Company))

	// Runs outlive the request; they are bounded by the scheduler, not
	// the request context.
	runID, coalesced := s.scheduler.Submit(context.Background(), company, req.NumArticles, req.DaysBack)

	writeJSON(w, http.StatusAccepted, APIResponse{
		Success: true,
		Data: AnalyzeAccepted{
			RunID:     runID,
			Company:   company.Name,
			Coalesced: coalesced,
		},
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.tracker.Snapshot()
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    runs,
	})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.tracker.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown run: %s", id))
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    run,
	})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := s.store.Latest(company)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no analysis data for %s", company.Name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    sentimentView(doc),
	})
}

// handleAudio streams the localized audio summary from the company's
// latest run. The artifact on disk is keyed by content hash; the
// download name is derived from the company instead.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := s.store.Latest(company)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no analysis data for %s", company.Name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc.AudioRef == "" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no audio for %s", company.Name))
		return
	}

	path := s.store.AudioPath(doc.AudioRef)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("audio artifact missing for %s", company.Name))
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", company.Slug()+"_sentiment.mp3"))
	http.ServeFile(w, r, path)
}

// handleHistory returns stored runs for the company, oldest first. A
// days query parameter limits how far back to look.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var since time.Time
	if days := queryInt(r, "days", 0); days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	docs, err := s.store.History(company, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    docs,
	})
}

func (s *Server) handleDeleteData(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Delete(company); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no analysis data for %s", company.Name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"deleted": company.Name},
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	answer, err := s.answerer.Ask(ctx, company, req.Question)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.recorder.Record(ctx, company, *answer)

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    answer,
	})
}

func (s *Server) handleQueryRecent(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := queryInt(r, "limit", 10)
	records := s.recorder.Recent(r.Context(), company, n)

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    records,
	})
}

func (s *Server) handleQueryTrending(w http.ResponseWriter, r *http.Request) {
	company, err := s.companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := queryInt(r, "limit", 10)
	trending := s.recorder.Trending(r.Context(), company, n)

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    trending,
	})
}

// ============================================================
// Helpers
// ============================================================

// companyParam resolves the {company} URL parameter against the
// roster. Names not on the roster are accepted as ad-hoc companies so
// one-off analyses don't require registration first.
func (s *Server) companyParam(r *http.Request) (models.Company, error) {
	name := pathParam(r, "company")
	if name == "" {
		return models.Company{}, errors.New("company is required")
	}
	return s.resolveCompany(name), nil
}

func (s *Server) resolveCompany(name string) models.Company {
	if c, ok := s.companies.Get(name); ok {
		return c
	}
	return models.Company{Name: name}
}

func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return strings.TrimSpace(raw)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// sentimentView projects a stored document into its presentation shape.
func sentimentView(doc *models.AnalysisDocument) SentimentView {
	view := SentimentView{
		Company:       doc.Company.Name,
		Ticker:        doc.Company.Ticker,
		RunTimestamp:  doc.RunTimestamp,
		Overall:       dominantLabel(doc.Distribution),
		Distribution:  doc.Distribution,
		Summary:       doc.CrossArticleSummary,
		CommonThemes:  doc.CommonThemes,
		Divergences:   doc.Divergences,
		Failed:        len(doc.Failed),
		LocalizedText: doc.LocalizedText,
		Language:      doc.Language,
		HasAudio:      doc.AudioRef != "",
	}

	view.Articles = make([]ArticleSentiment, 0, len(doc.Articles))
	for _, a := range doc.Articles {
		entry := ArticleSentiment{
			Title:      a.Article.Title,
			URL:        a.Article.URL,
			Source:     a.Article.Source,
			Overall:    a.Sentiment.Overall,
			Financial:  a.Sentiment.FinancialImpact,
			Reputation: a.Sentiment.ReputationImpact,
			Market:     a.Sentiment.MarketReaction,
			Summary:    a.Summary,
			Topics:     a.Topics,
		}
		if !a.Article.PublishedAt.IsZero() {
			entry.PublishedAt = a.Article.PublishedAt.Format(time.RFC3339)
		}
		view.Articles = append(view.Articles, entry)
	}
	return view
}

// dominantLabel picks the most frequent overall label. Ties resolve to
// mixed: equally positive and negative coverage is not neutral.
func dominantLabel(d models.SentimentDistribution) string {
	max := d.Neutral
	label := models.SentimentNeutral
	if d.Positive > max {
		max = d.Positive
		label = models.SentimentPositive
	}
	if d.Negative > max {
		max = d.Negative
		label = models.SentimentNegative
	}
	if d.Mixed > max {
		max = d.Mixed
		label = models.SentimentMixed
	}
	if d.Positive > 0 && d.Positive == d.Negative && label != models.SentimentPositive && label != models.SentimentNegative {
		return models.SentimentMixed
	}
	return label
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSHub manages WebSocket connections and message broadcasting.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow client; disconnect
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop message if broadcast channel is full
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}
