// Package providers implements the ProviderRegistry and ProviderRouter.
// The core never talks to a concrete model back-end; every adapter is
// reached through the Provider interface below, keeping the registry
// ignorant of OpenAI vs. Ollama specifics.
package providers

import (
	"context"
	"errors"
	"io"

	"github.com/kadirpekel/conduit/internal/config"
)

// ErrUnsupported is returned by a Provider method for a capability it
// does not declare in Services(), instead of failing ambiguously at the
// call site.
var ErrUnsupported = errors.New("provider: capability not supported")

// InferenceRequest carries everything a provider needs for one inference
// call, already resolved by the caller (ProviderRouter / AgentRuntime).
type InferenceRequest struct {
	Prompt       string
	InputTokens  int
	Model        string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	Images       [][]byte
	Stream       bool
	UseSmartest  bool
}

// StreamDelta is one incremental chunk of an in-flight inference stream.
type StreamDelta struct {
	Text string
	Done bool
	Err  error
}

// Provider is the uniform capability surface the core consumes. Concrete
// back-ends (OpenAI-style HTTP clients, local model runners) implement
// this outside the core. A provider that lacks a declared
// capability returns ErrUnsupported rather than failing ambiguously.
type Provider interface {
	Name() string

	// Inference runs one non-streaming completion.
	Inference(ctx context.Context, req InferenceRequest) (string, error)

	// InferenceStream runs a streaming completion; the returned channel
	// is closed after a StreamDelta with Done=true or Err set.
	InferenceStream(ctx context.Context, req InferenceRequest) (<-chan StreamDelta, error)

	Embeddings(ctx context.Context, text string) ([]float32, error)
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
	Translate(ctx context.Context, audio io.Reader) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)

	MaxTokens() int
	IsConfigured() bool
	Services() []config.Service
}

// HasService reports whether p declares svc.
func HasService(p Provider, svc config.Service) bool {
	for _, s := range p.Services() {
		if s == svc {
			return true
		}
	}
	return false
}

// ProviderError is the transient/fatal distinction the router acts on.
// Concrete providers return a *ProviderError whose Transient flag
// carries the split; the router never inspects HTTP status
// codes itself, keeping that knowledge in the adapter.
type ProviderError struct {
	ProviderName string
	Transient    bool
	StatusCode   int
	Err          error
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return "provider " + e.ProviderName + ": " + kind + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }
