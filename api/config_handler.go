// Package api — configuration management endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/newspulse-ai/newspulse/internal/config"
)

// configMu serialises writes to the config file.
var configMu sync.Mutex

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	Config     config.Config `json:"config"`
	ConfigFile string        `json:"config_file"` // path to the active config file
}

// handleGetConfig returns the current (running) configuration.
// Credential values are masked before leaving the process.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:     s.cfg.Sanitized(),
			ConfigFile: config.ConfigFilePath(),
		},
	})
}

// handleUpdateConfig merges the provided partial configuration into the
// running config, persists it to disk, and returns the updated config.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	configMu.Lock()
	defer configMu.Unlock()

	// Merge non-zero values from incoming into running config.
	mergeConfig(s.cfg, &incoming)

	// Persist to disk.
	cfgPath := config.ConfigFilePath()
	if err := config.SaveToFile(s.cfg, cfgPath); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save config: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:     s.cfg.Sanitized(),
			ConfigFile: cfgPath,
		},
	})
}

// handleGetConfigKeys returns the status of all sensitive API keys.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	keys := config.CheckAPIKeys(s.cfg)
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    keys,
	})
}

// mergeConfig copies non-zero/non-empty values from src into dst.
// Credential fields are never merged from the API; keys are supplied
// through the environment only.
func mergeConfig(dst, src *config.Config) {
	// LLM
	if src.LLM.Primary != "" {
		dst.LLM.Primary = src.LLM.Primary
	}
	if src.LLM.Model != "" {
		dst.LLM.Model = src.LLM.Model
	}
	if src.LLM.Temperature != 0 {
		dst.LLM.Temperature = src.LLM.Temperature
	}
	if src.LLM.MaxTokens != 0 {
		dst.LLM.MaxTokens = src.LLM.MaxTokens
	}

	// Fetcher
	if src.Fetcher.MaxArticles != 0 {
		dst.Fetcher.MaxArticles = src.Fetcher.MaxArticles
	}
	if src.Fetcher.MaxAgeDays != 0 {
		dst.Fetcher.MaxAgeDays = src.Fetcher.MaxAgeDays
	}
	if src.Fetcher.RequestsPerSec != 0 {
		dst.Fetcher.RequestsPerSec = src.Fetcher.RequestsPerSec
	}

	// Analysis
	if src.Analysis.MaxAttempts != 0 {
		dst.Analysis.MaxAttempts = src.Analysis.MaxAttempts
	}
	if src.Analysis.MaxArticleChars != 0 {
		dst.Analysis.MaxArticleChars = src.Analysis.MaxArticleChars
	}
	if src.Analysis.FanOut != 0 {
		dst.Analysis.FanOut = src.Analysis.FanOut
	}

	// Localization
	if src.Localize.Language != "" {
		dst.Localize.Language = src.Localize.Language
	}
	if src.Localize.MaxAttempts != 0 {
		dst.Localize.MaxAttempts = src.Localize.MaxAttempts
	}

	// Scheduler
	if src.Scheduler.IntervalMinutes != 0 {
		dst.Scheduler.IntervalMinutes = src.Scheduler.IntervalMinutes
	}
	if src.Scheduler.MaxConcurrent != 0 {
		dst.Scheduler.MaxConcurrent = src.Scheduler.MaxConcurrent
	}

	// Query
	if src.Query.MaxExcerpts != 0 {
		dst.Query.MaxExcerpts = src.Query.MaxExcerpts
	}
	if src.Query.RecentSize != 0 {
		dst.Query.RecentSize = src.Query.RecentSize
	}

	// API
	if src.API.Host != "" {
		dst.API.Host = src.API.Host
	}
	if src.API.Port != 0 {
		dst.API.Port = src.API.Port
	}
	if len(src.API.CORSOrigins) > 0 {
		dst.API.CORSOrigins = src.API.CORSOrigins
	}

	// Logging
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
}
