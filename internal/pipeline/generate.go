package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docfill/internal/llm"
)

// Generator fills the template from the consolidated context with the
// capable model tier.
type Generator struct {
	Provider    llm.Provider
	Model       string
	Temperature float32
	Metrics     Recorder
}

// Generate returns the report text. A blank completion is an error.
func (g Generator) Generate(ctx context.Context, reportContext, template string) (string, error) {
	start := time.Now()
	text, err := g.Provider.Complete(ctx, llm.GeneratePrompt(reportContext, template), g.Model, g.Temperature)
	if g.Metrics != nil {
		g.Metrics.ModelCall("generate", time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	text = llm.StripCodeFence(text)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("generate: %w", llm.ErrEmptyResponse)
	}
	return text, nil
}
