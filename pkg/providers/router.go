package providers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/conduit/internal/clock"
	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
	"github.com/kadirpekel/conduit/pkg/observability"
)

// serviceSettingKey maps a requested Service to the agent setting that
// names its preferred provider.
func serviceSettingKey(svc config.Service) string {
	switch svc {
	case config.ServiceLLM:
		return config.SettingProvider
	case config.ServiceVision:
		return config.SettingVisionProvider
	case config.ServiceTTS:
		return config.SettingTTSProvider
	case config.ServiceEmbeddings:
		return config.SettingEmbeddingsProvider
	case config.ServiceTranscription:
		return config.SettingTranscriptionProvider
	case config.ServiceTranslation:
		return config.SettingTranslationProvider
	case config.ServiceImage:
		return config.SettingImageProvider
	default:
		return config.SettingProvider
	}
}

// dispatchKey scopes the wait-between-requests timer to one agent: the
// interval runs since the agent's last dispatch to any provider, not
// per-provider.
type dispatchKey struct {
	tenant string
	agent  string
}

// Router selects a Provider for a requested capability and rotates
// through alternates on transient failure. Failure counters live on the stack of a single Execute
// call, never on the Router itself, so they cannot leak across
// concurrent requests or tenants.
type Router struct {
	registry *Registry
	clock    clock.Clock
	metrics  *observability.Metrics

	mu            sync.Mutex
	lastDispatch  map[dispatchKey]time.Time
}

// SetMetrics attaches the Prometheus recorder. A nil receiver or nil m
// is safe; every Metrics method no-ops on nil.
func (r *Router) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// NewRouter builds a Router over reg using c as its time source.
func NewRouter(reg *Registry, c clock.Clock) *Router {
	if c == nil {
		c = clock.New()
	}
	return &Router{
		registry:     reg,
		clock:        c,
		lastDispatch: make(map[dispatchKey]time.Time),
	}
}

// Attempted describes one candidate the router tried, for diagnostics
// and the exhaustion error's tried-provider list.
type Attempted struct {
	Provider string
	Failures int
}

// ExhaustedError reports that rotation ran out of candidates. It wraps
// the ErrProviderExhausted sentinel and carries the tried-provider names
// so the HTTP responder can list them in the 503 body as data, not just
// inside the error text.
type ExhaustedError struct {
	Tried []string
	err   error
}

func (e *ExhaustedError) Error() string { return e.err.Error() }
func (e *ExhaustedError) Unwrap() error { return e.err }

// CallFunc performs the actual provider call. model is the resolved
// model parameter (after any use_smartest swap). CallFunc must classify
// its own failures as a *ProviderError so the router can tell transient
// from fatal.
type CallFunc[T any] func(p Provider, model string) (T, error)

// Execute runs the routing algorithm end to end for one request: builds
// the candidate set, orders it by the agent's preferred provider, waits
// out any remaining inter-request interval, then attempts each candidate
// up to its declared max_failures before rotating.
func Execute[T any](r *Router, tenantID, agentName string, agent *config.AgentConfig, svc config.Service, useSmartest bool, call CallFunc[T]) (T, Provider, []Attempted, error) {
	var zero T

	candidates := r.candidates(agent, svc)
	if len(candidates) == 0 {
		return zero, nil, nil, errs.New("ProviderRouter", "Execute",
			fmt.Sprintf("no provider declares service %q", svc), errs.ErrProviderFatal)
	}

	ordered := r.order(candidates, agent, svc)

	r.waitBetweenRequests(tenantID, agentName, agent)

	var tried []Attempted
	var previous string
	for _, name := range ordered {
		if previous != "" && previous != name {
			r.metrics.RecordProviderRotation(previous, name)
		}
		previous = name

		providerCfg, err := r.registry.Config(name)
		if err != nil {
			continue
		}
		maxFailures := providerCfg.MaxFailures
		if maxFailures <= 0 {
			maxFailures = 3
		}
		waitAfterFailure := r.waitAfterFailure(agent, providerCfg)

		failures := 0
		for failures < maxFailures {
			provider, instErr := r.registry.Instantiate(name, r.mergedSettings(agent, name))
			if instErr != nil {
				tried = append(tried, Attempted{Provider: name, Failures: failures})
				break // misconfiguration is fatal for this candidate; try the next
			}

			callStart := r.clock.Now()
			model := r.resolveModel(agent, name, useSmartest)
			result, callErr := call(provider, model)
			r.metrics.RecordProviderCall(name, string(svc), r.clock.Now().Sub(callStart))
			if callErr == nil {
				r.recordDispatch(tenantID, agentName)
				return result, provider, tried, nil
			}

			var perr *ProviderError
			if errors.As(callErr, &perr) && !perr.Transient {
				tried = append(tried, Attempted{Provider: name, Failures: failures + 1})
				return zero, nil, tried, errs.New("ProviderRouter", "Execute",
					fmt.Sprintf("provider %q failed fatally", name), errs.ErrProviderFatal)
			}

			failures++
			if failures < maxFailures && waitAfterFailure > 0 {
				r.clock.Sleep(waitAfterFailure)
			}
		}
		tried = append(tried, Attempted{Provider: name, Failures: failures})
	}

	names := make([]string, len(tried))
	for i, a := range tried {
		names[i] = a.Provider
	}
	return zero, nil, tried, &ExhaustedError{Tried: names, err: errs.New("ProviderRouter", "Execute",
		fmt.Sprintf("rotation exhausted candidates [%s]", strings.Join(names, ", ")), errs.ErrProviderExhausted)}
}

// candidates returns providers declaring svc, excluding the agent's own
// disabled-providers list.
func (r *Router) candidates(agent *config.AgentConfig, svc config.Service) []string {
	disabled := map[string]bool{}
	if agent != nil {
		for _, name := range agent.DisabledProviders {
			disabled[name] = true
		}
	}
	var out []string
	for _, name := range r.registry.ForService(svc) {
		if !disabled[name] {
			out = append(out, name)
		}
	}
	return out
}

// order places the agent's preferred provider (or "default") first,
// keeping the remaining candidates in their deterministic sorted order.
func (r *Router) order(candidates []string, agent *config.AgentConfig, svc config.Service) []string {
	primary := agent.StringSetting(serviceSettingKey(svc), "default")
	ordered := make([]string, 0, len(candidates))
	found := false
	for _, name := range candidates {
		if name == primary {
			found = true
		}
	}
	if found {
		ordered = append(ordered, primary)
	}
	for _, name := range candidates {
		if name != primary {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

func (r *Router) waitAfterFailure(agent *config.AgentConfig, providerCfg *config.ProviderConfig) time.Duration {
	if agent != nil {
		if v, ok := agent.Settings[config.SettingWaitAfterFailure]; ok {
			if f, ok := toFloat(v); ok {
				return time.Duration(f * float64(time.Second))
			}
		}
	}
	return time.Duration(providerCfg.WaitAfterFailure * float64(time.Second))
}

// waitBetweenRequests sleeps out whatever remains of the agent's
// inter-request interval since its last dispatch to any provider.
func (r *Router) waitBetweenRequests(tenantID, agentName string, agent *config.AgentConfig) {
	wait := agent.StringSetting(config.SettingWaitBetweenRequests, "")
	interval := 0.0
	if wait != "" {
		if f, ok := toFloat(wait); ok {
			interval = f
		}
	} else if v, ok := agent.Settings[config.SettingWaitBetweenRequests]; ok {
		if f, ok := toFloat(v); ok {
			interval = f
		}
	}
	if interval <= 0 {
		return
	}

	key := dispatchKey{tenant: tenantID, agent: agentName}
	r.mu.Lock()
	last, ok := r.lastDispatch[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	elapsed := r.clock.Now().Sub(last)
	remaining := time.Duration(interval*float64(time.Second)) - elapsed
	if remaining > 0 {
		r.clock.Sleep(remaining)
	}
}

func (r *Router) recordDispatch(tenantID, agentName string) {
	key := dispatchKey{tenant: tenantID, agent: agentName}
	r.mu.Lock()
	r.lastDispatch[key] = r.clock.Now()
	r.mu.Unlock()
}

// mergedSettings layers the provider's declared schema defaults under
// the agent's own settings map, stringifying non-string values, the way
// a per-request provider instance is built fresh from merged config.
func (r *Router) mergedSettings(agent *config.AgentConfig, providerName string) map[string]string {
	merged := map[string]string{}
	if cfg, err := r.registry.SettingsSchema(providerName); err == nil {
		for k, v := range cfg {
			merged[k] = v
		}
	}
	if agent != nil {
		for k, v := range agent.Settings {
			if s, ok := v.(string); ok {
				merged[k] = s
			} else {
				merged[k] = fmt.Sprint(v)
			}
		}
	}
	return merged
}

// resolveModel applies the use_smartest override:
// look for a provider-specific "<PROVIDER>_CODING_MODEL" setting first,
// then a generic "SMART_MODEL" override, else fall back to AI_MODEL.
func (r *Router) resolveModel(agent *config.AgentConfig, providerName string, useSmartest bool) string {
	model := agent.StringSetting(config.SettingAIModel, "")
	if !useSmartest {
		return model
	}
	specific := strings.ToUpper(providerName) + "_CODING_MODEL"
	if v := agent.StringSetting(specific, ""); v != "" {
		return v
	}
	if v := agent.StringSetting("SMART_MODEL", ""); v != "" {
		return v
	}
	return model
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
