// Package runtime implements the AgentRuntime: the
// end-to-end per-request orchestrator that ties the ProviderRouter,
// PromptAssembler, MemoryStore, CommandDispatcher, ConversationStore,
// StreamingBridge, and ChainEngine together, dispatching each request
// by its agent's mode (prompt/chain/command) with an explicit Frames
// channel carrying streamed deltas to the caller.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/conduit/internal/clock"
	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
	"github.com/kadirpekel/conduit/pkg/chain"
	"github.com/kadirpekel/conduit/pkg/conversation"
	"github.com/kadirpekel/conduit/pkg/extensions"
	"github.com/kadirpekel/conduit/pkg/memory"
	"github.com/kadirpekel/conduit/pkg/prompt"
	"github.com/kadirpekel/conduit/pkg/providers"
	"github.com/kadirpekel/conduit/pkg/registry"
)

// Deps wires every collaborator the runtime needs. Extensions may be nil
// only in tests that don't exercise mode=command or tool-calling.
type Deps struct {
	Providers     *providers.Router
	Prompts       []*config.PromptConfig
	Extensions    *extensions.Registry
	Conversations conversation.Store
	Memory        memory.Store
	Resources     config.ResourceConfig
	Clock         clock.Clock
}

// Runtime is the AgentRuntime. It owns the agent catalog and the
// ChainEngine (constructed against itself, since AgentRuntime and
// ChainEngine call back into each other for prompt_type=prompt / mode=chain
// steps — see pkg/chain/engine.go's PromptRunner/CommandRunner doc comment).
type Runtime struct {
	agents     *registry.BaseRegistry[*config.AgentConfig]
	providers  *providers.Router
	prompts    []*config.PromptConfig
	extReg     *extensions.Registry
	dispatcher *extensions.Dispatcher
	conv       conversation.Store
	mem        memory.Store
	chains     *chain.Engine
	resources  config.ResourceConfig
	clock      clock.Clock

	heavySem chan struct{}

	mu         sync.Mutex
	estimators map[string]*prompt.Estimator
}

// New builds a Runtime over deps, applying the documented resource
// defaults when Resources is the zero value.
func New(deps Deps) *Runtime {
	res := deps.Resources
	if res.MaxConcurrentHeavyTasks <= 0 {
		res.MaxConcurrentHeavyTasks = 3
	}
	if res.RequestDeadlineS <= 0 {
		res.RequestDeadlineS = 15 * 60
	}
	if res.StepDeadlineS <= 0 {
		res.StepDeadlineS = 3 * 60
	}
	if res.MaxToolLoopIterations <= 0 {
		res.MaxToolLoopIterations = 5
	}
	if res.MaxChainRecursion <= 0 {
		res.MaxChainRecursion = 8
	}

	c := deps.Clock
	if c == nil {
		c = clock.New()
	}

	var dispatcher *extensions.Dispatcher
	if deps.Extensions != nil {
		dispatcher = extensions.NewDispatcher(deps.Extensions)
	}

	r := &Runtime{
		agents:     registry.NewBaseRegistry[*config.AgentConfig](),
		providers:  deps.Providers,
		prompts:    deps.Prompts,
		extReg:     deps.Extensions,
		dispatcher: dispatcher,
		conv:       deps.Conversations,
		mem:        deps.Memory,
		resources:  res,
		clock:      c,
		heavySem:   make(chan struct{}, res.MaxConcurrentHeavyTasks),
		estimators: make(map[string]*prompt.Estimator),
	}
	r.chains = chain.NewEngine(r, r, res.MaxChainRecursion)
	return r
}

// RegisterAgent adds or replaces an agent in the runtime's catalog.
func (r *Runtime) RegisterAgent(cfg *config.AgentConfig) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("runtime: agent with a name is required")
	}
	cfg.SetDefaults()
	_ = r.agents.Remove(cfg.Name) // allow re-registration on config reload
	return r.agents.Register(cfg.Name, cfg)
}

// Agent returns a registered agent's config.
func (r *Runtime) Agent(name string) (*config.AgentConfig, bool) {
	return r.agents.Get(name)
}

// Chains exposes the runtime's ChainEngine, e.g. for `POST
// /api/chain/{name}/run` and chain CRUD in pkg/server.
func (r *Runtime) Chains() *chain.Engine {
	return r.chains
}

// Extensions exposes the runtime's ExtensionRegistry for introspection
// endpoints (`GET /api/extensions`).
func (r *Runtime) Extensions() *extensions.Registry {
	return r.extReg
}

// Dispatcher exposes the runtime's CommandDispatcher, e.g. for metrics
// wiring at startup. Nil when the runtime was built without extensions.
func (r *Runtime) Dispatcher() *extensions.Dispatcher {
	return r.dispatcher
}

// Close releases resources the runtime's collaborators hold across
// requests, currently the dispatcher's sandbox subprocesses.
func (r *Runtime) Close() {
	if r.dispatcher != nil {
		r.dispatcher.Close()
	}
}

func (r *Runtime) estimatorFor(model string) *prompt.Estimator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.estimators[model]; ok {
		return e
	}
	e, err := prompt.NewEstimator(model)
	if err != nil {
		return nil
	}
	r.estimators[model] = e
	return e
}

// acquireHeavy blocks until a heavy-task slot (chain or autonomous tool
// loop) is available, refusing work above the configured concurrency
// ceiling. Returns a release func, or an error if ctx is cancelled
// first.
func (r *Runtime) acquireHeavy(ctx context.Context) (func(), error) {
	select {
	case r.heavySem <- struct{}{}:
		return func() { <-r.heavySem }, nil
	case <-ctx.Done():
		return nil, errs.New("AgentRuntime", "acquireHeavy", "cancelled waiting for a heavy-task slot", errs.ErrCancelled)
	}
}

// requestDeadline applies the overall per-request cancellation deadline.
func (r *Runtime) requestDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.resources.RequestDeadlineS)*time.Second)
}

// stepDeadline applies the per-step deadline to a single provider/command/memory call within a larger request.
func (r *Runtime) stepDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.resources.StepDeadlineS)*time.Second)
}
