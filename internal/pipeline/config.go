package pipeline

import (
	"fmt"

	"docfill/internal/chunker"
	"docfill/internal/llm"
)

// DefaultTokenLimit is the budget above which report text is summarized
// before generation.
const DefaultTokenLimit = 6000

// Config holds the tunables of one run.
type Config struct {
	TokenLimit   int
	ChunkSize    int
	ChunkOverlap int

	FastModel           string
	CapableModel        string
	SummaryTemperature  float32
	GenerateTemperature float32

	// Concurrency bounds in-flight summary calls. 1 keeps them strictly
	// sequential in chunk order.
	Concurrency int
}

// DefaultConfig returns the defaults for the groq provider.
func DefaultConfig() Config {
	fast, capable := llm.DefaultModels("groq")
	return Config{
		TokenLimit:          DefaultTokenLimit,
		ChunkSize:           chunker.DefaultSize,
		ChunkOverlap:        chunker.DefaultOverlap,
		FastModel:           fast,
		CapableModel:        capable,
		SummaryTemperature:  0,
		GenerateTemperature: 0.1,
		Concurrency:         1,
	}
}

func (c Config) Validate() error {
	if c.TokenLimit <= 0 {
		return fmt.Errorf("token limit must be positive, got %d", c.TokenLimit)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.FastModel == "" || c.CapableModel == "" {
		return fmt.Errorf("both fast and capable models must be set")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("summary concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}
