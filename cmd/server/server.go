package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"docfill/internal/config"
	"docfill/internal/extractor"
	"docfill/internal/pipeline"
)

// Server holds all shared state. Nothing is persisted: settings and the
// last run's status live only as long as the process.
type Server struct {
	mu  sync.RWMutex
	cfg config.Config

	busy   atomic.Bool // one generation at a time
	status *RunStatus
	hub    *progressHub

	// open builds the pipeline for a run; replaced in tests.
	open func(cfg config.Config) (*pipeline.Pipeline, error)
}

func newServer(cfg config.Config) *Server {
	return &Server{
		cfg:    cfg,
		status: &RunStatus{Phase: pipeline.StageIdle},
		hub:    newProgressHub(),
		open: func(cfg config.Config) (*pipeline.Pipeline, error) {
			return cfg.Open()
		},
	}
}

func (s *Server) settings() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// RunStatus is polled by the frontend to show progress of the latest run.
type RunStatus struct {
	mu          sync.RWMutex
	Phase       pipeline.Stage         `json:"phase"`
	FilesTotal  int                    `json:"files_total"`
	FilesDone   int                    `json:"files_done"`
	ChunksTotal int                    `json:"chunks_total"`
	ChunksDone  int                    `json:"chunks_done"`
	TotalTokens int                    `json:"total_tokens"`
	Summarized  bool                   `json:"summarized"`
	Warnings    []string               `json:"warnings,omitempty"`
	FileResults []extractor.FileResult `json:"file_results,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	FinishedAt  time.Time              `json:"finished_at,omitempty"`
}

func (s *RunStatus) snapshot() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RunStatus{
		Phase:       s.Phase,
		FilesTotal:  s.FilesTotal,
		FilesDone:   s.FilesDone,
		ChunksTotal: s.ChunksTotal,
		ChunksDone:  s.ChunksDone,
		TotalTokens: s.TotalTokens,
		Summarized:  s.Summarized,
		Warnings:    append([]string(nil), s.Warnings...),
		FileResults: append([]extractor.FileResult(nil), s.FileResults...),
		Error:       s.Error,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
}

func (s *RunStatus) start(files int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = pipeline.StageIdle
	s.FilesTotal = files
	s.FilesDone = 0
	s.ChunksTotal = 0
	s.ChunksDone = 0
	s.TotalTokens = 0
	s.Summarized = false
	s.Warnings = nil
	s.FileResults = nil
	s.Error = ""
	s.StartedAt = time.Now()
	s.FinishedAt = time.Time{}
}

func (s *RunStatus) apply(ev pipeline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = ev.Stage
	if ev.Level == pipeline.LevelWarn {
		s.Warnings = append(s.Warnings, ev.Message)
	}
	if ev.Total == 0 {
		return
	}
	switch ev.Stage {
	case pipeline.StageExtracting:
		s.FilesDone = ev.Done
	case pipeline.StageSummarizing:
		s.ChunksTotal = ev.Total
		s.ChunksDone = ev.Done
	}
}

func (s *RunStatus) finish(res *pipeline.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = time.Now()
	if res != nil {
		s.Phase = res.Stage
		s.TotalTokens = res.TotalTokens
		s.Summarized = res.Summarized
		s.ChunksTotal = res.Chunks
		s.FileResults = res.Files
		s.Warnings = res.Warnings
	}
	if err != nil {
		s.Phase = pipeline.StageFailed
		s.Error = err.Error()
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// ========== Middleware ==========

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Total-Tokens, X-Summarized, X-Warnings")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Helpers ==========

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
