// Package llms holds concrete Provider adapters. These are outside the
// orchestration core on purpose: pkg/providers never imports
// this package, and a deployment may ship none of it, only its own
// adapters satisfying providers.Provider. OpenAICompat is the one
// reference adapter conduit ships, covering the subset of OpenAI's
// wire format the core's InferenceRequest needs, which most hosted and
// self-hosted /chat/completions backends share.
package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/httpclient"
	"github.com/kadirpekel/conduit/pkg/providers"
)

// OpenAICompat implements providers.Provider against any OpenAI-style
// /chat/completions endpoint (OpenAI itself, Azure OpenAI, vLLM,
// Ollama's OpenAI-compatible surface, OpenRouter, ...). Settings are
// read from the merged map ProviderRegistry.Instantiate passes in:
// "api_key", "base_url" (default https://api.openai.com/v1), "model".
type OpenAICompat struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *httpclient.Client
}

// NewOpenAICompat builds the providers.Factory for this adapter, ready
// to hand to providers.Registry.Declare.
func NewOpenAICompat() providers.Factory {
	return func(cfg *config.ProviderConfig, merged map[string]string) (providers.Provider, error) {
		baseURL := merged["base_url"]
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		maxTokens := 4096
		if v := merged["max_tokens"]; v != "" {
			fmt.Sscanf(v, "%d", &maxTokens)
		}
		return &OpenAICompat{
			name:      cfg.Name,
			baseURL:   strings.TrimSuffix(baseURL, "/"),
			apiKey:    merged["api_key"],
			model:     merged["model"],
			maxTokens: maxTokens,
			httpClient: httpclient.New(
				httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
			),
		}, nil
	}
}

func (p *OpenAICompat) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAICompat) buildRequest(req providers.InferenceRequest, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	return chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

// Inference runs one non-streaming completion.
func (p *OpenAICompat) Inference(ctx context.Context, req providers.InferenceRequest) (string, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("llms: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llms: build request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", p.classify(err, status)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", p.classify(fmt.Errorf("read response: %w", err), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", p.classify(fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)), resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", p.classify(fmt.Errorf("decode response: %w", err), resp.StatusCode)
	}
	if parsed.Error != nil {
		return "", p.classify(fmt.Errorf("api error: %s", parsed.Error.Message), resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", p.classify(fmt.Errorf("no choices in response"), resp.StatusCode)
	}
	return parsed.Choices[0].Message.Content, nil
}

// InferenceStream runs a streaming completion over SSE: a bufio reader
// over "data: {json}\n\n" frames terminated by "data: [DONE]".
func (p *OpenAICompat) InferenceStream(ctx context.Context, req providers.InferenceRequest) (<-chan providers.StreamDelta, error) {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("llms: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llms: build request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, p.classify(err, status)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.classify(fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)), resp.StatusCode)
	}

	out := make(chan providers.StreamDelta, 16)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		reader := bufio.NewReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				out <- providers.StreamDelta{Done: true, Err: ctx.Err()}
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					out <- providers.StreamDelta{Done: true}
					return
				}
				out <- providers.StreamDelta{Done: true, Err: err}
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			line = line[len("data: "):]
			if bytes.Equal(line, []byte("[DONE]")) {
				out <- providers.StreamDelta{Done: true}
				return
			}

			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				out <- providers.StreamDelta{Done: true, Err: fmt.Errorf("api error: %s", chunk.Error.Message)}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				out <- providers.StreamDelta{Text: text}
			}
		}
	}()
	return out, nil
}

func (p *OpenAICompat) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// classify maps a failed call to a *providers.ProviderError, the
// transient/fatal split the router acts on: 5xx,
// 429, and network errors (status 0) are transient; other 4xx are
// fatal.
func (p *OpenAICompat) classify(err error, status int) error {
	transient := status == 0 || status == http.StatusTooManyRequests || status >= 500
	return &providers.ProviderError{ProviderName: p.name, Transient: transient, StatusCode: status, Err: err}
}

func (p *OpenAICompat) Embeddings(ctx context.Context, text string) ([]float32, error) {
	return nil, providers.ErrUnsupported
}

func (p *OpenAICompat) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	return nil, providers.ErrUnsupported
}

func (p *OpenAICompat) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	return "", providers.ErrUnsupported
}

func (p *OpenAICompat) Translate(ctx context.Context, audio io.Reader) (string, error) {
	return "", providers.ErrUnsupported
}

func (p *OpenAICompat) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return nil, providers.ErrUnsupported
}

func (p *OpenAICompat) MaxTokens() int { return p.maxTokens }

func (p *OpenAICompat) IsConfigured() bool { return p.apiKey != "" }

func (p *OpenAICompat) Services() []config.Service {
	return []config.Service{config.ServiceLLM}
}
