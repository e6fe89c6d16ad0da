package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/pkg/providers"
)

func newTestProvider(t *testing.T, srv *httptest.Server) providers.Provider {
	t.Helper()
	factory := NewOpenAICompat()
	p, err := factory(&config.ProviderConfig{Name: "test-openai"}, map[string]string{
		"base_url": srv.URL,
		"api_key":  "sk-test",
		"model":    "gpt-test",
	})
	require.NoError(t, err)
	return p
}

func TestOpenAICompat_Inference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.False(t, req.Stream)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "hello back"}}},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	text, err := p.Inference(context.Background(), providers.InferenceRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello back", text)
}

func TestOpenAICompat_Inference_FatalOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Inference(context.Background(), providers.InferenceRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *providers.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Transient)
}

func TestOpenAICompat_InferenceStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"hel", "lo"} {
			b, _ := json.Marshal(chatResponse{Choices: []chatChoice{{Delta: chatMessage{Content: chunk}}}})
			_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	deltas, err := p.InferenceStream(context.Background(), providers.InferenceRequest{Prompt: "hi", Stream: true})
	require.NoError(t, err)

	var got string
	for d := range deltas {
		require.NoError(t, d.Err)
		got += d.Text
		if d.Done {
			break
		}
	}
	assert.Equal(t, "hello", got)
}

func TestOpenAICompat_UnsupportedCapabilities(t *testing.T) {
	p := newTestProvider(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	_, err := p.Embeddings(context.Background(), "x")
	assert.ErrorIs(t, err, providers.ErrUnsupported)
	_, err = p.TextToSpeech(context.Background(), "x")
	assert.ErrorIs(t, err, providers.ErrUnsupported)
	assert.Equal(t, []config.Service{config.ServiceLLM}, p.Services())
}
