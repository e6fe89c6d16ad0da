package runtime

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kadirpekel/conduit/internal/clock"
	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/pkg/conversation"
	"github.com/kadirpekel/conduit/pkg/extensions"
	"github.com/kadirpekel/conduit/pkg/memory"
	"github.com/kadirpekel/conduit/pkg/providers"
)

// fakeProvider cycles through a fixed script of responses, one per call
// to Inference/InferenceStream, repeating the last entry past the end.
type fakeProvider struct {
	name      string
	responses []string
	deltas    [][]providers.StreamDelta
	calls     int
}

func (f *fakeProvider) next() string {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i]
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Inference(ctx context.Context, req providers.InferenceRequest) (string, error) {
	return f.next(), nil
}
func (f *fakeProvider) InferenceStream(ctx context.Context, req providers.InferenceRequest) (<-chan providers.StreamDelta, error) {
	i := f.calls
	f.calls++
	if i >= len(f.deltas) {
		i = len(f.deltas) - 1
	}
	script := f.deltas[i]
	ch := make(chan providers.StreamDelta, len(script))
	for _, d := range script {
		ch <- d
	}
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

// echoCommand records the args it was called with and returns a fixed
// result, standing in for a real extension's command.
type echoCommand struct {
	desc   config.CommandConfig
	result extensions.Result
}

func (c *echoCommand) Descriptor() config.CommandConfig { return c.desc }
func (c *echoCommand) Execute(ctx context.Context, args map[string]any, activity extensions.ActivityLogger) (extensions.Result, error) {
	if activity != nil {
		_ = activity.LogActivity(ctx, "echo ran")
	}
	return c.result, nil
}

type stubExtension struct {
	name     string
	commands map[string]extensions.Command
}

func (s *stubExtension) Name() string                         { return s.name }
func (s *stubExtension) Category() string                     { return "tool" }
func (s *stubExtension) Commands() map[string]extensions.Command { return s.commands }
func (s *stubExtension) SettingsSchema() map[string]string     { return nil }

func newTestConversationStore(t *testing.T) conversation.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := conversation.NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	return store
}

func newTestRouter(t *testing.T, p providers.Provider) *providers.Router {
	t.Helper()
	reg := providers.NewRegistry(nil)
	require.NoError(t, reg.Declare(&config.ProviderConfig{
		Name:        "P1",
		Services:    []config.Service{config.ServiceLLM},
		MaxFailures: 3,
	}, func(cfg *config.ProviderConfig, merged map[string]string) (providers.Provider, error) {
		return p, nil
	}))
	return providers.NewRouter(reg, clock.New())
}

func newEchoExtensions() *extensions.Registry {
	reg := extensions.NewRegistry()
	_ = reg.RegisterExtension(&stubExtension{
		name: "echo-ext",
		commands: map[string]extensions.Command{
			"echo": &echoCommand{
				desc:   config.CommandConfig{Name: "echo", Arguments: []config.ArgumentDescriptor{{Name: "text", Type: "string"}}},
				result: extensions.Result{Text: "echoed"},
			},
		},
	})
	return reg
}

func TestRuntime_PromptModeNoToolCall(t *testing.T) {
	provider := &fakeProvider{name: "P1", responses: []string{"hello there"}}
	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Prompts:       []*config.PromptConfig{{Category: "Default", Name: "Default", Text: "{persona}{user_input}"}},
		Conversations: newTestConversationStore(t),
	})
	agent := &config.AgentConfig{TenantID: "t1", Name: "a1"}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	resp, err := rt.Run(context.Background(), Request{AgentName: "a1", Conversation: "c1", UserInput: "hi"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, config.ModePrompt, resp.Mode)

	interactions, err := rt.conv.Export(context.Background(), "t1", "a1", "c1")
	require.NoError(t, err)
	require.Len(t, interactions, 2)
	assert.Equal(t, "user", interactions[0].Role)
	assert.Equal(t, "a1", interactions[1].Role)
	assert.Equal(t, "hello there", interactions[1].Message)
}

func TestRuntime_PromptModeAutonomousToolLoop(t *testing.T) {
	provider := &fakeProvider{name: "P1", responses: []string{
		"running a tool\n```json\n{ \"command\": \"echo\", \"args\": { \"text\": \"hi\" } }\n```",
		"final answer",
	}}
	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Prompts:       []*config.PromptConfig{{Category: "Default", Name: "Default", Text: "{user_input}{commands}"}},
		Extensions:    newEchoExtensions(),
		Conversations: newTestConversationStore(t),
	})
	agent := &config.AgentConfig{
		TenantID:        "t1",
		Name:            "a1",
		EnabledCommands: map[string]bool{"echo": true},
		Settings:        map[string]any{config.SettingAutonomousExecution: true},
	}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	resp, err := rt.Run(context.Background(), Request{AgentName: "a1", Conversation: "c1", UserInput: "hi"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "final answer", resp.Text)
	assert.Equal(t, 1, resp.ToolCalls)

	interactions, err := rt.conv.Export(context.Background(), "t1", "a1", "c1")
	require.NoError(t, err)
	var toolEntry *conversation.Interaction
	for i := range interactions {
		if interactions[i].Role == "tool:echo" {
			toolEntry = &interactions[i]
		}
	}
	require.NotNil(t, toolEntry)
	assert.Equal(t, "echoed", toolEntry.Message)
}

func TestRuntime_CommandMode(t *testing.T) {
	provider := &fakeProvider{name: "P1", responses: []string{"unused"}}
	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Extensions:    newEchoExtensions(),
		Conversations: newTestConversationStore(t),
	})
	agent := &config.AgentConfig{
		TenantID:        "t1",
		Name:            "a1",
		EnabledCommands: map[string]bool{"echo": true},
		Settings: map[string]any{
			config.SettingMode:            config.ModeCommand,
			config.SettingCommandName:     "echo",
			config.SettingCommandVariable: "text",
		},
	}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	resp, err := rt.Run(context.Background(), Request{AgentName: "a1", Conversation: "c1", UserInput: "hi"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "echoed", resp.Text)
	assert.Equal(t, config.ModeCommand, resp.Mode)
}

func TestRuntime_ChainMode(t *testing.T) {
	provider := &fakeProvider{name: "P1", responses: []string{"unused"}}
	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Extensions:    newEchoExtensions(),
		Conversations: newTestConversationStore(t),
	})
	agent := &config.AgentConfig{
		TenantID:        "t1",
		Name:            "a1",
		EnabledCommands: map[string]bool{"echo": true},
		Settings:        map[string]any{config.SettingMode: config.ModeChain, config.SettingChainName: "greet-chain"},
	}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	require.NoError(t, rt.Chains().Declare(&config.ChainConfig{
		Name: "greet-chain",
		Steps: []config.StepConfig{
			{StepNumber: 1, PromptType: config.PromptTypeCommand, Prompt: map[string]any{"command": "echo", "args": map[string]any{"text": "hi"}}},
		},
	}))

	resp, err := rt.Run(context.Background(), Request{AgentName: "a1", Conversation: "c1", UserInput: "hi"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "echoed", resp.Text)
	assert.Equal(t, config.ModeChain, resp.Mode)
}

func TestRuntime_StreamingForwardsFramesAndAccumulates(t *testing.T) {
	provider := &fakeProvider{name: "P1", deltas: [][]providers.StreamDelta{
		{{Text: "hel"}, {Text: "lo"}},
	}}
	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Prompts:       []*config.PromptConfig{{Category: "Default", Name: "Default", Text: "{user_input}"}},
		Conversations: newTestConversationStore(t),
	})
	agent := &config.AgentConfig{TenantID: "t1", Name: "a1"}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	run := rt.Run(context.Background(), Request{AgentName: "a1", Conversation: "c1", UserInput: "hi", Stream: true})

	var got string
	for f := range run.Frames() {
		got += f.Delta
	}
	resp, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, "hello", resp.Text)
}

func TestRuntime_UnregisteredAgentReturnsError(t *testing.T) {
	rt := New(Deps{Providers: newTestRouter(t, &fakeProvider{name: "P1"})})
	_, err := rt.Run(context.Background(), Request{AgentName: "missing", UserInput: "hi"}).Wait()
	assert.Error(t, err)
}

func TestRuntime_MemoryStoreInjectsContext(t *testing.T) {
	provider := &fakeProvider{name: "P1", responses: []string{"ack"}}
	mem := memory.NewFake()
	require.NoError(t, mem.Store(context.Background(), "t1", "a1", "c1", []string{"the sky is blue"}))

	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Prompts:       []*config.PromptConfig{{Category: "Default", Name: "Default", Text: "{context}{user_input}"}},
		Conversations: newTestConversationStore(t),
		Memory:        mem,
	})
	agent := &config.AgentConfig{TenantID: "t1", Name: "a1"}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	resp, err := rt.Run(context.Background(), Request{AgentName: "a1", Conversation: "c1", UserInput: "sky"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "ack", resp.Text)
}

func TestRuntime_RequestDeadlineCancelsRun(t *testing.T) {
	provider := &fakeProvider{name: "P1", responses: []string{"ack"}}
	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Prompts:       []*config.PromptConfig{{Category: "Default", Name: "Default", Text: "{user_input}"}},
		Conversations: newTestConversationStore(t),
		Resources:     config.ResourceConfig{RequestDeadlineS: 0},
	})
	agent := &config.AgentConfig{TenantID: "t1", Name: "a1"}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := rt.Run(ctx, Request{AgentName: "a1", Conversation: "c1", UserInput: "hi"}).Wait()
	assert.Error(t, err)
}

// log_user_input=false suppresses only the user turn; the agent's
// response must still be logged.
func TestRuntime_LogUserInputFalseSuppressesUserInteraction(t *testing.T) {
	provider := &fakeProvider{name: "P1", responses: []string{"hello there"}}
	rt := New(Deps{
		Providers:     newTestRouter(t, provider),
		Prompts:       []*config.PromptConfig{{Category: "Default", Name: "Default", Text: "{user_input}"}},
		Conversations: newTestConversationStore(t),
	})
	agent := &config.AgentConfig{
		TenantID: "t1",
		Name:     "a1",
		Settings: map[string]any{config.SettingLogUserInput: false},
	}
	agent.SetDefaults()
	require.NoError(t, rt.RegisterAgent(agent))

	resp, err := rt.Run(context.Background(), Request{AgentName: "a1", Conversation: "c1", UserInput: "hi"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)

	interactions, err := rt.conv.Export(context.Background(), "t1", "a1", "c1")
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, "a1", interactions[0].Role)
}
