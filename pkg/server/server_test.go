package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kadirpekel/conduit/internal/clock"
	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/pkg/chain"
	"github.com/kadirpekel/conduit/pkg/conversation"
	"github.com/kadirpekel/conduit/pkg/extensions"
	"github.com/kadirpekel/conduit/pkg/providers"
	"github.com/kadirpekel/conduit/pkg/runtime"
)

// fakeProvider returns a fixed reply, or err when set; stands in for a
// concrete Provider adapter the way runtime's own tests do
// (pkg/runtime/runtime_test.go).
type fakeProvider struct {
	reply string
	err   error
}

func (f *fakeProvider) Name() string { return "P1" }
func (f *fakeProvider) Inference(ctx context.Context, req providers.InferenceRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}
func (f *fakeProvider) InferenceStream(ctx context.Context, req providers.InferenceRequest) (<-chan providers.StreamDelta, error) {
	ch := make(chan providers.StreamDelta, 1)
	ch <- providers.StreamDelta{Text: f.reply, Done: true}
	close(ch)
	return ch, nil
}
func (f *fakeProvider) Embeddings(ctx context.Context, text string) ([]float32, error) {
	return nil, providers.ErrUnsupported
}
func (f *fakeProvider) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	return nil, providers.ErrUnsupported
}
func (f *fakeProvider) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	return "", providers.ErrUnsupported
}
func (f *fakeProvider) Translate(ctx context.Context, audio io.Reader) (string, error) {
	return "", providers.ErrUnsupported
}
func (f *fakeProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return nil, providers.ErrUnsupported
}
func (f *fakeProvider) MaxTokens() int             { return 4096 }
func (f *fakeProvider) IsConfigured() bool         { return true }
func (f *fakeProvider) Services() []config.Service { return []config.Service{config.ServiceLLM} }

type echoCommand struct{ desc config.CommandConfig }

func (c *echoCommand) Descriptor() config.CommandConfig { return c.desc }
func (c *echoCommand) Execute(ctx context.Context, args map[string]any, activity extensions.ActivityLogger) (extensions.Result, error) {
	text, _ := args["text"].(string)
	return extensions.Result{Text: text}, nil
}

type stubExtension struct {
	name     string
	commands map[string]extensions.Command
}

func (s *stubExtension) Name() string                           { return s.name }
func (s *stubExtension) Category() string                       { return "tool" }
func (s *stubExtension) Commands() map[string]extensions.Command { return s.commands }
func (s *stubExtension) SettingsSchema() map[string]string       { return nil }

func newTestServer(t *testing.T, reply string) *Server {
	return newTestServerWith(t, &fakeProvider{reply: reply})
}

func newTestServerWith(t *testing.T, p providers.Provider) *Server {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	convStore, err := conversation.NewSQLStore(db, "sqlite")
	require.NoError(t, err)

	provReg := providers.NewRegistry(nil)
	require.NoError(t, provReg.Declare(&config.ProviderConfig{
		Name:        "P1",
		Services:    []config.Service{config.ServiceLLM},
		MaxFailures: 3,
	}, func(cfg *config.ProviderConfig, merged map[string]string) (providers.Provider, error) {
		return p, nil
	}))
	router := providers.NewRouter(provReg, clock.New())

	extReg := extensions.NewRegistry()
	require.NoError(t, extReg.RegisterExtension(&stubExtension{
		name: "echo-ext",
		commands: map[string]extensions.Command{
			"echo": &echoCommand{desc: config.CommandConfig{
				Name: "echo",
				Arguments: []config.ArgumentDescriptor{
					{Name: "text", Type: "string", Required: true, Description: "text to echo"},
				},
			}},
		},
	}))

	rt := runtime.New(runtime.Deps{
		Providers:     router,
		Prompts:       []*config.PromptConfig{{Category: "Default", Name: "Default", Text: "{persona}{user_input}"}},
		Extensions:    extReg,
		Conversations: convStore,
	})
	agent := &config.AgentConfig{TenantID: "t1", Name: "a1", EnabledCommands: map[string]bool{"echo": true}}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	cfg := &config.Config{}
	cfg.SetDefaults()

	s := New(Deps{
		Config:        cfg,
		Runtime:       rt,
		Providers:     provReg,
		Extensions:    extReg,
		Conversations: convStore,
	})
	return s
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, "hi")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleChatCompletions_NonStreamingAutogeneratesConversation(t *testing.T) {
	s := newTestServer(t, "hello there")
	body := bytes.NewBufferString(`{"model":"a1","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)
	assert.NotEmpty(t, resp.Conversation, "an omitted conversation name must be autogenerated")

	interactions, err := s.conv.Export(context.Background(), "t1", "a1", resp.Conversation)
	require.NoError(t, err)
	require.Len(t, interactions, 2)
}

func TestHandleChatCompletions_ProviderExhaustedListsTried(t *testing.T) {
	s := newTestServerWith(t, &fakeProvider{err: &providers.ProviderError{
		ProviderName: "P1", Transient: true, StatusCode: 503,
		Err: errors.New("upstream down"),
	}})
	body := bytes.NewBufferString(`{"model":"a1","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	tried, ok := resp["tried_providers"].([]any)
	require.True(t, ok, "503 body must list the tried providers as data")
	assert.Equal(t, []any{"P1"}, tried)
}

func TestHandleChatCompletions_MissingModel(t *testing.T) {
	s := newTestServer(t, "hi")
	body := bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExtensionArgs_ReturnsJSONSchema(t *testing.T) {
	s := newTestServer(t, "hi")
	req := httptest.NewRequest(http.MethodGet, "/api/extensions/echo/args", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	schema, ok := body["schema"].(map[string]any)
	require.True(t, ok, "response must carry a derived JSON schema")
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Contains(t, schema["required"], "text")
}

func TestHandleChainRun_UnknownChain(t *testing.T) {
	s := newTestServer(t, "hi")
	body := bytes.NewBufferString(`{"user_input":"x","agent_name":"a1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chain/nope/run", body)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChainRun_Success(t *testing.T) {
	s := newTestServer(t, "hi")
	require.NoError(t, s.rt.Chains().Declare(&config.ChainConfig{
		Name: "c1",
		Steps: []config.StepConfig{
			{StepNumber: 1, PromptType: config.PromptTypeCommand, Prompt: map[string]any{
				"command": "echo",
				"args":    map[string]any{"text": "{user_input}"},
			}},
		},
	}))

	body := bytes.NewBufferString(`{"user_input":"x","agent_name":"a1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chain/c1/run", body)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chainRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(chain.StateDone), resp.State)
	assert.Equal(t, "x", resp.Output)
	assert.NotEmpty(t, resp.RunID)
}

func TestHandleChainCRUD(t *testing.T) {
	s := newTestServer(t, "hi")

	body := bytes.NewBufferString(`{"name":"c1","steps":[{"step_number":1,"prompt_type":"prompt","prompt":{"input":"{user_input}"}}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chain", body)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chain", nil)
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "c1")

	body = bytes.NewBufferString(`{"step_number":2,"prompt_type":"command","prompt":{"command":"echo","args":{"text":"{STEP1_OUTPUT}"}}}`)
	req = httptest.NewRequest(http.MethodPost, "/api/chain/c1/step", body)
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chain/c1", nil)
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var def config.ChainConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	require.Len(t, def.Steps, 2)

	body = bytes.NewBufferString(`{"prompt_type":"command","prompt":{"command":"echo","args":{"text":"fixed"}}}`)
	req = httptest.NewRequest(http.MethodPut, "/api/chain/c1/step/2", body)
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/chain/c1/step/1", nil)
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	body = bytes.NewBufferString(`{"new_name":"c2"}`)
	req = httptest.NewRequest(http.MethodPut, "/api/chain/c1", body)
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/chain/c2", nil)
	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok := s.rt.Chains().Get("c2")
	assert.False(t, ok)
}

func TestAuthMiddleware_RejectsMissingBearerToken(t *testing.T) {
	s := newTestServer(t, "hi")
	s.cfg.AgentAPIKey = "secret"

	var handler http.Handler = s.routes()
	handler = s.authMiddleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code, "health must stay excluded from auth")
}
