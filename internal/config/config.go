// Package config loads docfill settings from an optional .env file, an
// optional YAML file and the environment, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docfill/internal/chunker"
	"docfill/internal/llm"
	"docfill/internal/pipeline"
)

type Config struct {
	LLM struct {
		Provider     string `yaml:"provider"`
		APIKey       string `yaml:"api_key"`
		BaseURL      string `yaml:"base_url"`
		FastModel    string `yaml:"fast_model"`
		CapableModel string `yaml:"capable_model"`
	} `yaml:"llm"`

	Pipeline struct {
		TokenLimit   int `yaml:"token_limit"`
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
		Concurrency  int `yaml:"summary_concurrency"`
	} `yaml:"pipeline"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

// providerKeyEnv names the provider-specific key variable consulted when
// LLM_API_KEY is unset.
var providerKeyEnv = map[string]string{
	"groq":      "GROQ_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// Load reads .env (if present), then the YAML file at path (or
// $DOCFILL_CONFIG when path is empty), then the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("DOCFILL_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// fields absent from the file keep their defaults
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := mergeWithEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyModelDefaults()
	return cfg, nil
}

// Default returns the built-in settings. Model names are filled in by Load
// once the provider is known.
func Default() *Config {
	cfg := &Config{}
	cfg.LLM.Provider = "groq"
	cfg.Pipeline.TokenLimit = pipeline.DefaultTokenLimit
	cfg.Pipeline.ChunkSize = chunker.DefaultSize
	cfg.Pipeline.ChunkOverlap = chunker.DefaultOverlap
	cfg.Pipeline.Concurrency = 1
	cfg.Server.Port = "8080"
	return cfg
}

func mergeWithEnv(cfg *Config) error {
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	if cfg.LLM.APIKey == "" {
		if name, ok := providerKeyEnv[cfg.LLM.Provider]; ok {
			cfg.LLM.APIKey = os.Getenv(name)
		}
	}
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.FastModel, "FAST_MODEL")
	setString(&cfg.LLM.CapableModel, "CAPABLE_MODEL")
	setString(&cfg.Server.Port, "PORT")

	for _, v := range []struct {
		dst *int
		env string
	}{
		{&cfg.Pipeline.TokenLimit, "TOKEN_LIMIT"},
		{&cfg.Pipeline.ChunkSize, "CHUNK_SIZE"},
		{&cfg.Pipeline.ChunkOverlap, "CHUNK_OVERLAP"},
		{&cfg.Pipeline.Concurrency, "SUMMARY_CONCURRENCY"},
	} {
		if err := setInt(v.dst, v.env); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", env, v, err)
	}
	*dst = n
	return nil
}

func (c *Config) applyModelDefaults() {
	fast, capable := llm.DefaultModels(c.LLM.Provider)
	if c.LLM.FastModel == "" {
		c.LLM.FastModel = fast
	}
	if c.LLM.CapableModel == "" {
		c.LLM.CapableModel = capable
	}
}

// PipelineConfig returns the run tunables.
func (c *Config) PipelineConfig() pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.TokenLimit = c.Pipeline.TokenLimit
	pc.ChunkSize = c.Pipeline.ChunkSize
	pc.ChunkOverlap = c.Pipeline.ChunkOverlap
	pc.Concurrency = c.Pipeline.Concurrency
	pc.FastModel = c.LLM.FastModel
	pc.CapableModel = c.LLM.CapableModel
	return pc
}

// Validate checks the provider name and the run tunables. A missing API key
// is not an error here; it is reported when a run is opened.
func (c *Config) Validate() error {
	if _, err := llm.NewProvider(c.LLM.Provider, c.LLM.APIKey, c.LLM.BaseURL); err != nil {
		return err
	}
	if c.Server.Port == "" {
		return fmt.Errorf("port must be set")
	}
	return c.PipelineConfig().Validate()
}

// Open builds a pipeline from the settings.
func (c *Config) Open() (*pipeline.Pipeline, error) {
	return pipeline.Open(c.PipelineConfig(), c.LLM.Provider, c.LLM.APIKey, c.LLM.BaseURL)
}
