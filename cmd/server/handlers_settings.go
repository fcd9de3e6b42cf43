package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"docfill/internal/llm"
)

// ========== Settings Endpoint ==========

var knownProviders = []string{"groq", "openai", "anthropic", "ollama"}

type settingsRequest struct {
	Provider     string `json:"provider"`
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url"`
	FastModel    string `json:"fast_model"`
	CapableModel string `json:"capable_model"`
	TokenLimit   int    `json:"token_limit"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap *int   `json:"chunk_overlap"`
	Concurrency  int    `json:"summary_concurrency"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.settings()
		jsonResp(w, map[string]interface{}{
			"provider":            cfg.LLM.Provider,
			"api_key":             maskKey(cfg.LLM.APIKey),
			"base_url":            cfg.LLM.BaseURL,
			"fast_model":          cfg.LLM.FastModel,
			"capable_model":       cfg.LLM.CapableModel,
			"token_limit":         cfg.Pipeline.TokenLimit,
			"chunk_size":          cfg.Pipeline.ChunkSize,
			"chunk_overlap":       cfg.Pipeline.ChunkOverlap,
			"summary_concurrency": cfg.Pipeline.Concurrency,
			"providers":           knownProviders,
		})

	case http.MethodPost:
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "Invalid request", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		next := s.cfg
		if req.Provider != "" && !strings.EqualFold(req.Provider, next.LLM.Provider) {
			next.LLM.Provider = strings.ToLower(req.Provider)
			// models and credentials of the previous provider do not carry over
			next.LLM.FastModel, next.LLM.CapableModel = llm.DefaultModels(next.LLM.Provider)
			next.LLM.APIKey = ""
		}
		// a masked key echoed back by the UI leaves the key unchanged
		if req.APIKey != "" && !strings.Contains(req.APIKey, "...") && req.APIKey != "****" {
			next.LLM.APIKey = req.APIKey
		}
		if req.BaseURL != "" {
			next.LLM.BaseURL = req.BaseURL
		}
		if req.FastModel != "" {
			next.LLM.FastModel = req.FastModel
		}
		if req.CapableModel != "" {
			next.LLM.CapableModel = req.CapableModel
		}
		if req.TokenLimit != 0 {
			next.Pipeline.TokenLimit = req.TokenLimit
		}
		if req.ChunkSize != 0 {
			next.Pipeline.ChunkSize = req.ChunkSize
		}
		if req.ChunkOverlap != nil {
			next.Pipeline.ChunkOverlap = *req.ChunkOverlap
		}
		if req.Concurrency != 0 {
			next.Pipeline.Concurrency = req.Concurrency
		}

		if err := next.Validate(); err != nil {
			s.mu.Unlock()
			jsonErr(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.cfg = next
		s.mu.Unlock()

		log.Printf("Settings updated: LLM=%s, fast=%s, capable=%s, limit=%d",
			next.LLM.Provider, next.LLM.FastModel, next.LLM.CapableModel, next.Pipeline.TokenLimit)
		jsonResp(w, map[string]string{"status": "saved"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
