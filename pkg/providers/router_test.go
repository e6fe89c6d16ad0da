package providers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conduit/internal/clock"
	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
)

// fakeClock never actually sleeps, so rotation tests run instantly.
type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time                    { return f.now }
func (f *fakeClock) Sleep(d time.Duration)              { f.now = f.now.Add(d) }
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now.Add(d)
	return ch
}

func newFakeClock() clock.Clock { return &fakeClock{now: time.Unix(0, 0)} }

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Inference(ctx context.Context, req InferenceRequest) (string, error) {
	return "", ErrUnsupported
}
func (s *stubProvider) InferenceStream(ctx context.Context, req InferenceRequest) (<-chan StreamDelta, error) {
	return nil, ErrUnsupported
}
func (s *stubProvider) Embeddings(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrUnsupported
}
func (s *stubProvider) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	return nil, ErrUnsupported
}
func (s *stubProvider) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	return "", ErrUnsupported
}
func (s *stubProvider) Translate(ctx context.Context, audio io.Reader) (string, error) {
	return "", ErrUnsupported
}
func (s *stubProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return nil, ErrUnsupported
}
func (s *stubProvider) MaxTokens() int              { return 4096 }
func (s *stubProvider) IsConfigured() bool          { return true }
func (s *stubProvider) Services() []config.Service  { return []config.Service{config.ServiceLLM} }

func TestRouter_SimplePromptSingleProvider(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Declare(&config.ProviderConfig{
		Name:        "P1",
		Services:    []config.Service{config.ServiceLLM},
		MaxFailures: 3,
	}, func(cfg *config.ProviderConfig, merged map[string]string) (Provider, error) {
		return &stubProvider{name: "P1"}, nil
	}))

	router := NewRouter(reg, newFakeClock())
	agent := &config.AgentConfig{Settings: map[string]any{config.SettingProvider: "P1", config.SettingAIModel: "m"}}

	result, provider, tried, err := Execute(router, "t1", "a1", agent, config.ServiceLLM, false,
		func(p Provider, model string) (string, error) {
			return "hi back from " + p.Name(), nil
		})

	require.NoError(t, err)
	assert.Equal(t, "hi back from P1", result)
	assert.Equal(t, "P1", provider.Name())
	assert.Len(t, tried, 0)
}

func TestRouter_RotatesOnTransientFailure(t *testing.T) {
	reg := NewRegistry(nil)
	for _, name := range []string{"P1", "P2"} {
		name := name
		require.NoError(t, reg.Declare(&config.ProviderConfig{
			Name:        name,
			Services:    []config.Service{config.ServiceLLM},
			MaxFailures: 2,
		}, func(cfg *config.ProviderConfig, merged map[string]string) (Provider, error) {
			return &stubProvider{name: name}, nil
		}))
	}

	router := NewRouter(reg, newFakeClock())
	agent := &config.AgentConfig{Settings: map[string]any{config.SettingProvider: "P1"}}

	calls := 0
	result, provider, _, err := Execute(router, "t1", "a1", agent, config.ServiceLLM, false,
		func(p Provider, model string) (string, error) {
			calls++
			if p.Name() == "P1" {
				return "", &ProviderError{ProviderName: "P1", Transient: true, Err: errs.ErrProviderTransient}
			}
			return "ok from " + p.Name(), nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok from P2", result)
	assert.Equal(t, "P2", provider.Name())
	assert.Equal(t, 3, calls) // P1 fails MaxFailures=2 times, then P2 succeeds
}

func TestRouter_ExhaustionAcrossProviders(t *testing.T) {
	reg := NewRegistry(nil)
	for _, name := range []string{"P1", "P2"} {
		name := name
		require.NoError(t, reg.Declare(&config.ProviderConfig{
			Name:        name,
			Services:    []config.Service{config.ServiceLLM},
			MaxFailures: 2,
		}, func(cfg *config.ProviderConfig, merged map[string]string) (Provider, error) {
			return &stubProvider{name: name}, nil
		}))
	}

	router := NewRouter(reg, newFakeClock())
	agent := &config.AgentConfig{Settings: map[string]any{config.SettingProvider: "P1"}}

	_, provider, tried, err := Execute(router, "t1", "a1", agent, config.ServiceLLM, false,
		func(p Provider, model string) (string, error) {
			return "", &ProviderError{ProviderName: p.Name(), Transient: true, Err: errs.ErrProviderTransient}
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProviderExhausted)
	assert.Nil(t, provider)
	assert.Len(t, tried, 2)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []string{"P1", "P2"}, exhausted.Tried)
}

func TestRouter_FatalFailureSurfacesImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Declare(&config.ProviderConfig{
		Name:        "P1",
		Services:    []config.Service{config.ServiceLLM},
		MaxFailures: 3,
	}, func(cfg *config.ProviderConfig, merged map[string]string) (Provider, error) {
		return &stubProvider{name: "P1"}, nil
	}))

	router := NewRouter(reg, newFakeClock())
	agent := &config.AgentConfig{Settings: map[string]any{config.SettingProvider: "P1"}}

	attempts := 0
	_, _, _, err := Execute(router, "t1", "a1", agent, config.ServiceLLM, false,
		func(p Provider, model string) (string, error) {
			attempts++
			return "", &ProviderError{ProviderName: "P1", Transient: false, Err: errs.ErrProviderFatal}
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProviderFatal)
	assert.Equal(t, 1, attempts)
}

func TestRouter_NoCandidatesForService(t *testing.T) {
	reg := NewRegistry(nil)
	router := NewRouter(reg, newFakeClock())
	agent := &config.AgentConfig{Settings: map[string]any{}}

	_, _, _, err := Execute(router, "t1", "a1", agent, config.ServiceVision, false,
		func(p Provider, model string) (string, error) { return "", nil })

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProviderFatal)
}
