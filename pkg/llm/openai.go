package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
	GroqAPIURL   = "https://api.groq.com/openai/v1/chat/completions"

	openaiDefaultModel = "gpt-4o-mini"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including Groq.
type OpenAIProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key not set (provide it or set OPENAI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = openaiAPIURL
	}
	return &OpenAIProvider{
		name:         "openai",
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultModel: openaiDefaultModel,
		httpClient:   &http.Client{},
	}, nil
}

func (o *OpenAIProvider) Name() string            { return o.name }
func (o *OpenAIProvider) SupportsStreaming() bool { return true }

func (o *OpenAIProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: o.defaultModel, Name: o.defaultModel, MaxContextTokens: 128000},
	}
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	apiReq := openaiRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := doLLMRequest(ctx, o.httpClient, o.name, o.baseURL, map[string]string{
		"Authorization": "Bearer " + o.apiKey,
	}, apiReq)
	if err != nil {
		return nil, err
	}

	return dispatchResponse(resp, req.Stream,
		func(body io.ReadCloser, ch chan<- ChatEvent) { o.readStream(ctx, body, ch) },
		func(body io.ReadCloser, ch chan<- ChatEvent) { o.readFull(body, ch) },
	), nil
}

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (o *OpenAIProvider) readStream(ctx context.Context, body io.ReadCloser, ch chan<- ChatEvent) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var usage Usage
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			ch <- ChatEvent{Type: EventError, Error: ctx.Err()}
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				ch <- ChatEvent{Type: EventToken, Token: choice.Delta.Content}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- ChatEvent{Type: EventError, Error: fmt.Errorf("openai: reading stream: %w", err)}
		return
	}

	ch <- ChatEvent{Type: EventDone, Usage: &usage}
}

type openaiFullResponse struct {
	Choices []openaiFullChoice `json:"choices"`
	Usage   openaiUsage        `json:"usage"`
}

type openaiFullChoice struct {
	Message openaiMessage `json:"message"`
}

func (o *OpenAIProvider) readFull(body io.ReadCloser, ch chan<- ChatEvent) {
	defer close(ch)
	defer body.Close()

	var resp openaiFullResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		ch <- ChatEvent{Type: EventError, Error: fmt.Errorf("openai: decoding response: %w", err)}
		return
	}

	for _, choice := range resp.Choices {
		if choice.Message.Content != "" {
			ch <- ChatEvent{Type: EventToken, Token: choice.Message.Content}
		}
	}

	ch <- ChatEvent{
		Type: EventDone,
		Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}
