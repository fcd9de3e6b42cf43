// Command server exposes report generation over HTTP.
package main

import (
	"flag"
	"log"
	"net/http"

	"docfill/internal/config"
	"docfill/internal/llm"
	"docfill/internal/metrics"
	"docfill/internal/tokens"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	handlers := map[string]http.Handler{
		"/api/generate": http.HandlerFunc(s.handleGenerate),
		"/api/status":   http.HandlerFunc(s.handleStatus),
		"/api/progress": http.HandlerFunc(s.handleProgress),
		"/api/settings": http.HandlerFunc(s.handleSettings),
		"/metrics":      metrics.Handler(),
	}
	routes := make([]string, 0, len(handlers))
	for path, h := range handlers {
		mux.Handle(path, h)
		routes = append(routes, path)
	}

	return corsMiddleware(metrics.Middleware(mux, routes...))
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $DOCFILL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.LLM.APIKey == "" && llm.NeedsAPIKey(cfg.LLM.Provider) {
		log.Printf("Warning: no API key configured for %s; set LLM_API_KEY or POST /api/settings", cfg.LLM.Provider)
	}

	// load the BPE tables before the first request
	tokens.Default()

	srv := newServer(*cfg)

	log.Printf("LLM: %s (fast=%s, capable=%s), token limit %d",
		cfg.LLM.Provider, cfg.LLM.FastModel, cfg.LLM.CapableModel, cfg.Pipeline.TokenLimit)
	log.Printf("docfill server starting on http://localhost:%s", cfg.Server.Port)
	if err := http.ListenAndServe(":"+cfg.Server.Port, srv.routes()); err != nil {
		log.Fatal(err)
	}
}
