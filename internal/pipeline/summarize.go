package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docfill/internal/llm"
)

// Summarizer condenses one chunk with the fast model tier.
type Summarizer struct {
	Provider    llm.Provider
	Model       string
	Temperature float32
	Metrics     Recorder
}

// Summarize returns the trimmed summary of chunk. Errors are returned to
// the caller, which decides whether they are fatal.
func (s Summarizer) Summarize(ctx context.Context, chunk string) (string, error) {
	start := time.Now()
	text, err := s.Provider.Complete(ctx, llm.SummarizePrompt(chunk), s.Model, s.Temperature)
	if s.Metrics != nil {
		s.Metrics.ModelCall("summarize", time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Reduce joins the non-empty summaries with a blank line, in the order
// given. No summaries yields "".
func Reduce(summaries []string) string {
	kept := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
