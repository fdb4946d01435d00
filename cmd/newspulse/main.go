// NewsPulse — company news sentiment analysis service
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newspulse-ai/newspulse/api"
	"github.com/newspulse-ai/newspulse/internal/analysis"
	"github.com/newspulse-ai/newspulse/internal/config"
	"github.com/newspulse-ai/newspulse/internal/fetcher"
	"github.com/newspulse-ai/newspulse/internal/llm"
	"github.com/newspulse-ai/newspulse/internal/localize"
	"github.com/newspulse-ai/newspulse/internal/logging"
	"github.com/newspulse-ai/newspulse/internal/pipeline"
	"github.com/newspulse-ai/newspulse/internal/query"
	"github.com/newspulse-ai/newspulse/internal/store"
	"github.com/newspulse-ai/newspulse/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "newspulse",
	Short: "NewsPulse — company news sentiment analysis",
	Long: `NewsPulse fetches recent news coverage for tracked companies,
scores each article's sentiment with an LLM, aggregates the results,
and optionally localizes the summary with translated text and audio.
Stored results back a question-answering endpoint with citations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		logging.Init(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(companiesCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statusCmd)
}

// buildRunner wires the pipeline from configuration. The store and
// company list it returns are shared with the other commands.
func buildRunner() (*pipeline.Runner, *store.FileStore, *store.CompanyList, error) {
	router, err := llm.NewRouterFromConfig(cfg.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("LLM setup failed: %w", err)
	}
	st, err := store.New(cfg.Storage.Root)
	if err != nil {
		return nil, nil, nil, err
	}
	companies, err := store.LoadCompanyList(cfg.Storage.CompanyFile)
	if err != nil {
		return nil, nil, nil, err
	}

	var loc pipeline.Localizer
	if cfg.Localize.Enabled {
		loc = localize.New(st.AudioDir(), localize.WithMaxAttempts(cfg.Localize.MaxAttempts))
	}

	runner := pipeline.NewRunner(
		fetcher.New(fetcher.WithRequestsPerSec(cfg.Fetcher.RequestsPerSec)),
		analysis.NewEngineFromConfig(router, cfg.Analysis),
		loc,
		st,
		pipeline.NewTracker(),
		pipeline.RunnerConfig{
			MaxArticles: cfg.Fetcher.MaxArticles,
			MaxAgeDays:  cfg.Fetcher.MaxAgeDays,
			FanOut:      cfg.Analysis.FanOut,
			Localize:    cfg.Localize.Enabled,
			Language:    cfg.Localize.Language,
		},
	)
	return runner, st, companies, nil
}

// resolveCompany matches a name against the roster, falling back to an
// ad-hoc company for one-off analyses.
func resolveCompany(companies *store.CompanyList, name string) models.Company {
	if c, ok := companies.Get(name); ok {
		return c
	}
	return models.Company{Name: name}
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("NewsPulse %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the REST API server with the embedded dashboard. When a
scheduler interval is configured, a background scheduler refreshes
every tracked company's analysis on that interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		api.Version = version
		srv, err := api.NewServer(cfg)
		if err != nil {
			return err
		}
		if noUI, _ := cmd.Flags().GetBool("no-ui"); noUI {
			srv.SetServeUI(false)
		}

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("🌐 NewsPulse API server listening on %s\n", addr)
		return srv.ListenAndServe(addr)
	},
}

func init() {
	serveCmd.Flags().Bool("no-ui", false, "disable the embedded web dashboard")
}

// --- Analyze Command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [company]",
	Short: "Run the analysis pipeline for one company",
	Long: `Fetch recent news for the company, score sentiment per article,
aggregate across articles, localize the summary, and store the result.

Examples:
  newspulse analyze "Acme Corp"
  newspulse analyze "Acme Corp" --articles 5 --days 7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, _, companies, err := buildRunner()
		if err != nil {
			return err
		}

		company := resolveCompany(companies, strings.TrimSpace(args[0]))
		numArticles, _ := cmd.Flags().GetInt("articles")
		daysBack, _ := cmd.Flags().GetInt("days")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		fmt.Printf("🔍 Analyzing %s\n", company.Name)
		doc, err := runner.Run(ctx, company, numArticles, daysBack)
		if err != nil {
			return err
		}

		if asJSON {
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		printDocument(doc)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Int("articles", 0, "max articles to analyze (default from config)")
	analyzeCmd.Flags().Int("days", 0, "max article age in days (default from config)")
	analyzeCmd.Flags().Bool("json", false, "print the full document as JSON")
}

func printDocument(doc *models.AnalysisDocument) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  %s — %s\n", doc.Company.Name, doc.RunTimestamp.Format("2006-01-02 15:04 UTC"))
	fmt.Println("═══════════════════════════════════════")
	d := doc.Distribution
	fmt.Printf("  Sentiment: %d positive / %d negative / %d neutral / %d mixed\n",
		d.Positive, d.Negative, d.Neutral, d.Mixed)
	if doc.CrossArticleSummary != "" {
		fmt.Printf("\n  %s\n", doc.CrossArticleSummary)
	}
	if len(doc.CommonThemes) > 0 {
		fmt.Printf("\n  Themes: %s\n", strings.Join(doc.CommonThemes, ", "))
	}
	fmt.Println()
	for _, a := range doc.Articles {
		fmt.Printf("  [%s] %s\n", a.Sentiment.Overall, a.Article.Title)
		fmt.Printf("      %s\n", a.Article.URL)
	}
	for _, f := range doc.Failed {
		fmt.Printf("  [failed] %s — %s\n", f.Article.Title, f.Reason)
	}
	if doc.AudioRef != "" {
		fmt.Printf("\n  🔊 Audio summary (%s): %s.mp3\n", doc.Language, doc.AudioRef)
	}
	fmt.Println("═══════════════════════════════════════")
}

// --- Schedule Command ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the refresh scheduler in the foreground",
	Long: `Analyze every tracked company now and again on the configured
interval, until interrupted. Useful for running analysis without the
API server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, _, companies, err := buildRunner()
		if err != nil {
			return err
		}
		if len(companies.List()) == 0 {
			return fmt.Errorf("no companies tracked; add one with 'newspulse companies add'")
		}

		interval := time.Duration(cfg.Scheduler.IntervalMinutes) * time.Minute
		sched := pipeline.NewScheduler(runner, companies, interval, cfg.Scheduler.MaxConcurrent)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("⏱  Scheduling %d companies every %s (max %d concurrent)\n",
			len(companies.List()), interval, cfg.Scheduler.MaxConcurrent)
		sched.Start(ctx)
		return nil
	},
}

// --- Companies Command ---

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Manage the tracked company roster",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		companies, err := store.LoadCompanyList(cfg.Storage.CompanyFile)
		if err != nil {
			return err
		}
		list := companies.List()
		if len(list) == 0 {
			fmt.Println("No companies tracked.")
			return nil
		}
		for _, c := range list {
			if c.Ticker != "" {
				fmt.Printf("  %s (%s)\n", c.Name, c.Ticker)
			} else {
				fmt.Printf("  %s\n", c.Name)
			}
		}
		return nil
	},
}

var companiesAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a company to the roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		companies, err := store.LoadCompanyList(cfg.Storage.CompanyFile)
		if err != nil {
			return err
		}
		ticker, _ := cmd.Flags().GetString("ticker")
		c := models.Company{Name: strings.TrimSpace(args[0]), Ticker: ticker}
		if err := companies.Add(c); err != nil {
			return err
		}
		fmt.Printf("✅ Added %s\n", c.Name)
		return nil
	},
}

var companiesRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a company from the roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		companies, err := store.LoadCompanyList(cfg.Storage.CompanyFile)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(args[0])
		if err := companies.Remove(name); err != nil {
			return err
		}
		fmt.Printf("✅ Removed %s\n", name)
		return nil
	},
}

func init() {
	companiesAddCmd.Flags().String("ticker", "", "stock ticker symbol")
	companiesCmd.AddCommand(companiesListCmd)
	companiesCmd.AddCommand(companiesAddCmd)
	companiesCmd.AddCommand(companiesRemoveCmd)
}

// --- Query Command ---

var queryCmd = &cobra.Command{
	Use:   "query [company] [question]",
	Short: "Ask a question about a company's news coverage",
	Long: `Answer a natural-language question from the company's latest stored
analysis, with article citations.

Examples:
  newspulse query "Acme Corp" "How is the market reacting to the earnings report?"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := llm.NewRouterFromConfig(cfg.LLM)
		if err != nil {
			return fmt.Errorf("LLM setup failed: %w", err)
		}
		st, err := store.New(cfg.Storage.Root)
		if err != nil {
			return err
		}
		companies, err := store.LoadCompanyList(cfg.Storage.CompanyFile)
		if err != nil {
			return err
		}

		company := resolveCompany(companies, strings.TrimSpace(args[0]))
		answerer := query.NewAnswerer(st, router, query.WithMaxExcerpts(cfg.Query.MaxExcerpts))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		answer, err := answerer.Ask(ctx, company, args[1])
		if err != nil {
			return err
		}

		fmt.Printf("\n%s\n", answer.Answer)
		if len(answer.CitedArticles) > 0 {
			fmt.Println("\nSources:")
			for _, ref := range answer.CitedArticles {
				fmt.Printf("  - %s\n", ref)
			}
		}
		if !answer.NoData {
			fmt.Printf("\nConfidence: %.0f%%\n", answer.Confidence*100)
		}
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		companies, err := store.LoadCompanyList(cfg.Storage.CompanyFile)
		if err != nil {
			return err
		}

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  NewsPulse — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Time (UTC):    %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Primary, cfg.LLM.Model)
		fmt.Printf("    Storage Root:  %s\n", cfg.Storage.Root)
		fmt.Printf("    Localization:  %s (enabled: %v)\n", cfg.Localize.Language, cfg.Localize.Enabled)
		fmt.Printf("    Scheduler:     every %dm, max %d concurrent\n",
			cfg.Scheduler.IntervalMinutes, cfg.Scheduler.MaxConcurrent)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Printf("    Companies:     %d tracked\n", len(companies.List()))
		fmt.Println()

		fmt.Println("  API Keys:")
		keys := config.CheckAPIKeys(cfg)
		for _, k := range keys {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
