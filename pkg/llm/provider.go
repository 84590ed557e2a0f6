package llm

import (
	"context"
	"fmt"
	"os"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type EventType int

const (
	EventToken EventType = iota
	EventDone
	EventError
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type ChatEvent struct {
	Type  EventType
	Token string
	Error error
	Usage *Usage
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ModelInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	MaxContextTokens int    `json:"max_context_tokens"`
}

type Provider interface {
	Name() string

	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)

	Models() []ModelInfo

	SupportsStreaming() bool
}

type ProviderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKeyEnv string
}

// NewProvider builds the provider named by cfg.Provider. The API key is read
// from the environment variable cfg.APIKeyEnv.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "groq", "":
		name := cfg.Provider
		if name == "" {
			name = "openai"
		}
		key := ""
		if cfg.APIKeyEnv != "" {
			key = os.Getenv(cfg.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("llm: %s is not set", cfg.APIKeyEnv)
			}
		}
		p, err := NewOpenAIProvider(key, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		p.name = name
		if cfg.Model != "" {
			p.defaultModel = cfg.Model
		}
		return p, nil
	case "ollama":
		return newOllamaProvider(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

const (
	ollamaDefaultURL   = "http://localhost:11434/v1/chat/completions"
	ollamaDefaultModel = "llama3"
)

// newOllamaProvider points the OpenAI-compatible client at a local Ollama
// server, which ignores the API key.
func newOllamaProvider(baseURL, model string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	if model == "" {
		model = ollamaDefaultModel
	}
	p, err := NewOpenAIProvider("ollama", baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: creating provider: %w", err)
	}
	p.name = "ollama"
	p.defaultModel = model
	return p, nil
}

// Collect drains events into the concatenated response text.
func Collect(events <-chan ChatEvent) (string, *Usage, error) {
	var (
		out   []byte
		usage *Usage
	)
	for ev := range events {
		switch ev.Type {
		case EventToken:
			out = append(out, ev.Token...)
		case EventDone:
			usage = ev.Usage
		case EventError:
			return string(out), usage, ev.Error
		}
	}
	return string(out), usage, nil
}
