package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Provider is the one capability the pipeline needs from a language model:
// a single-turn completion of prompt with the given model and temperature.
type Provider interface {
	Complete(ctx context.Context, prompt, model string, temperature float32) (string, error)
}

// ErrEmptyResponse is returned when the service answers without any text.
var ErrEmptyResponse = errors.New("empty response")

const (
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	AnthropicBaseURL = "https://api.anthropic.com"
	OllamaBaseURL    = "http://localhost:11434"
)

// NewProvider creates the provider named by providerName. baseURL overrides
// the provider's default endpoint when set.
func NewProvider(providerName, apiKey, baseURL string) (Provider, error) {
	providerName = strings.ToLower(providerName)
	switch providerName {
	case "groq", "":
		if baseURL == "" {
			baseURL = GroqBaseURL
		}
		return newOpenAICompatible("groq", apiKey, baseURL), nil
	case "openai":
		return newOpenAICompatible("openai", apiKey, baseURL), nil
	case "anthropic":
		if baseURL == "" {
			baseURL = AnthropicBaseURL
		}
		return &AnthropicProvider{
			apiKey: apiKey,
			url:    strings.TrimRight(baseURL, "/") + "/v1/messages",
			client: &http.Client{},
		}, nil
	case "ollama":
		if baseURL == "" {
			baseURL = OllamaBaseURL
		}
		return &OllamaProvider{serverURL: baseURL}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", providerName)
	}
}

// DefaultModels returns the fast (summaries) and capable (final report)
// model identifiers for a provider.
func DefaultModels(providerName string) (fast, capable string) {
	switch strings.ToLower(providerName) {
	case "openai":
		return openai.GPT4oMini, openai.GPT4o
	case "anthropic":
		return "claude-3-5-haiku-latest", "claude-sonnet-4-5"
	case "ollama":
		return "llama3.1:8b", "llama3.1:70b"
	default:
		return "llama-3.1-8b-instant", "llama-3.3-70b-versatile"
	}
}

// NeedsAPIKey reports whether the provider refuses to work without a key.
func NeedsAPIKey(providerName string) bool {
	return strings.ToLower(providerName) != "ollama"
}

// ==========================================
// OpenAI-compatible Provider (OpenAI, Groq)
// ==========================================
type OpenAIProvider struct {
	name   string
	client *openai.Client
}

func newOpenAICompatible(name, apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{name: name, client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt, model string, temperature float32) (string, error) {
	// go-openai drops a zero temperature as omitempty; the smallest positive
	// float is what the library documents for "deterministic".
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// ==========================================
// Anthropic Provider
// ==========================================
type AnthropicProvider struct {
	apiKey string
	url    string
	client *http.Client
}

func (p *AnthropicProvider) Complete(ctx context.Context, prompt, model string, temperature float32) (string, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"model":       model,
		"max_tokens":  4096,
		"temperature": temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request encode error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("anthropic req error: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic req error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("anthropic api error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var anthResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&anthResp); err != nil {
		return "", fmt.Errorf("anthropic json decode error: %w", err)
	}

	// Concatenate all text blocks (some models return multiple content blocks)
	var fullText string
	for _, block := range anthResp.Content {
		if block.Type == "" || block.Type == "text" {
			fullText += block.Text
		}
	}

	if strings.TrimSpace(fullText) == "" {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}
	return fullText, nil
}

// ==========================================
// Ollama Provider (local models, no key)
// ==========================================
type OllamaProvider struct {
	serverURL string
}

func (p *OllamaProvider) Complete(ctx context.Context, prompt, model string, temperature float32) (string, error) {
	m, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(p.serverURL))
	if err != nil {
		return "", fmt.Errorf("ollama init error: %w", err)
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, m, prompt, llms.WithTemperature(float64(temperature)))
	if err != nil {
		return "", fmt.Errorf("ollama error: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return text, nil
}

// StripCodeFence removes a Markdown code fence wrapped around a whole
// completion. Models sometimes fence the report even when told not to.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return text
	}
	body := strings.TrimSuffix(trimmed, "```")
	// drop the opening fence line, including any language tag
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		return text
	}
	return strings.TrimRight(body, "\n")
}
