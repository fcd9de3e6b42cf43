package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docfill/internal/docwriter"
	"docfill/internal/metrics"
	"docfill/internal/pipeline"
)

// ========== Generation Endpoints ==========

// generateResponse is returned instead of the raw document when the client
// asks for JSON.
type generateResponse struct {
	Text        string   `json:"text"`
	Warnings    []string `json:"warnings"`
	TotalTokens int      `json:"total_tokens"`
	Summarized  bool     `json:"summarized"`
	Chunks      int      `json:"chunks"`
	Summaries   int      `json:"summaries"`
	Filename    string   `json:"filename"`
	Document    string   `json:"document"` // base64
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.busy.CompareAndSwap(false, true) {
		jsonErr(w, "A report is already being generated", http.StatusConflict)
		return
	}
	defer s.busy.Store(false)

	// Parse multipart (max 100MB)
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		jsonErr(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	templates := r.MultipartForm.File["template"]
	if len(templates) != 1 {
		jsonErr(w, "Exactly one template file is required", http.StatusBadRequest)
		return
	}
	reportFiles := r.MultipartForm.File["reports"]
	if len(reportFiles) == 0 {
		jsonErr(w, "At least one report PDF is required", http.StatusBadRequest)
		return
	}

	template, err := readUpload(templates[0], ".docx")
	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}
	reports := make([]pipeline.Document, 0, len(reportFiles))
	for _, fh := range reportFiles {
		doc, err := readUpload(fh, ".pdf")
		if err != nil {
			jsonErr(w, err.Error(), http.StatusBadRequest)
			return
		}
		reports = append(reports, doc)
	}

	p, err := s.open(s.settings())
	if err != nil {
		if errors.Is(err, pipeline.ErrNoCredential) {
			jsonErr(w, err.Error(), http.StatusPreconditionFailed)
			return
		}
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p.Progress = s.onEvent
	p.Metrics = metrics.Recorder{}

	s.status.start(len(reports))
	start := time.Now()
	res, err := p.Run(r.Context(), pipeline.Input{Template: template, Reports: reports})
	s.status.finish(res, err)
	if err != nil {
		log.Printf("Generation failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		jsonErr(w, err.Error(), statusForError(err))
		return
	}

	log.Printf("Generated report from %d files in %s (%d tokens, summarized=%v, %d warnings)",
		len(reports), time.Since(start).Round(time.Millisecond), res.TotalTokens, res.Summarized, len(res.Warnings))

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		warnings := res.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		jsonResp(w, generateResponse{
			Text:        res.Text,
			Warnings:    warnings,
			TotalTokens: res.TotalTokens,
			Summarized:  res.Summarized,
			Chunks:      res.Chunks,
			Summaries:   res.Summaries,
			Filename:    docwriter.DefaultFilename,
			Document:    base64.StdEncoding.EncodeToString(res.Document),
		})
		return
	}

	w.Header().Set("Content-Type", docwriter.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", docwriter.DefaultFilename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Document)))
	w.Header().Set("X-Total-Tokens", strconv.Itoa(res.TotalTokens))
	w.Header().Set("X-Summarized", strconv.FormatBool(res.Summarized))
	w.Header().Set("X-Warnings", strconv.Itoa(len(res.Warnings)))
	_, _ = w.Write(res.Document)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonResp(w, s.status.snapshot())
}

// onEvent fans a pipeline event out to the status tracker, the websocket
// subscribers and the log.
func (s *Server) onEvent(ev pipeline.Event) {
	s.status.apply(ev)
	s.hub.broadcast(ev)
	if ev.Level != pipeline.LevelInfo {
		log.Printf("[%s] %s", ev.Stage, ev.Message)
	}
}

func readUpload(fh *multipart.FileHeader, ext string) (pipeline.Document, error) {
	if !strings.EqualFold(filepath.Ext(fh.Filename), ext) {
		return pipeline.Document{}, fmt.Errorf("%s: expected a %s file", fh.Filename, ext)
	}
	f, err := fh.Open()
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("%s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("%s: %w", fh.Filename, err)
	}
	return pipeline.Document{Name: fh.Filename, Data: data}, nil
}

func statusForError(err error) int {
	switch {
	case pipeline.IsInputError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNoCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, pipeline.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
