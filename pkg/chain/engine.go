package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
	"github.com/kadirpekel/conduit/pkg/observability"
	"github.com/kadirpekel/conduit/pkg/registry"
)

// PromptRunner executes a `prompt_type == "prompt"` step by routing
// through AgentRuntime. Defined here (rather than depending on
// pkg/runtime directly) to avoid a cycle: AgentRuntime depends on
// Engine to run `mode = chain`, and Engine depends back on AgentRuntime
// to run `prompt_type = prompt` steps.
type PromptRunner interface {
	RunPrompt(ctx context.Context, agentName, input string) (string, error)
}

// CommandRunner executes a `prompt_type == "command"` step via the
// CommandDispatcher.
type CommandRunner interface {
	RunCommand(ctx context.Context, agentName, commandName string, args map[string]any) (string, error)
}

// Engine is the ChainEngine: it holds the named chain catalog and runs
// scripts of steps against a PromptRunner/CommandRunner, recursing into
// itself for nested chain steps up to maxRecursion deep. catalogMu
// guards the contents of registered ChainConfigs so step CRUD cannot
// race a concurrent run reading the same definition.
type Engine struct {
	chains       *registry.BaseRegistry[*config.ChainConfig]
	prompts      PromptRunner
	commands     CommandRunner
	maxRecursion int
	metrics      *observability.Metrics

	catalogMu sync.RWMutex
}

// SetMetrics attaches the Prometheus recorder.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// NewEngine builds an Engine. maxRecursion <= 0 uses DefaultMaxRecursion.
func NewEngine(prompts PromptRunner, commands CommandRunner, maxRecursion int) *Engine {
	if maxRecursion <= 0 {
		maxRecursion = DefaultMaxRecursion
	}
	return &Engine{
		chains:       registry.NewBaseRegistry[*config.ChainConfig](),
		prompts:      prompts,
		commands:     commands,
		maxRecursion: maxRecursion,
	}
}

// Declare registers a chain definition, rejecting duplicate step numbers.
func (e *Engine) Declare(cfg *config.ChainConfig) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("chain: config with a name is required")
	}
	if err := validateSteps(cfg.Steps); err != nil {
		return err
	}
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	return e.chains.Register(cfg.Name, cfg)
}

// Get returns a declared chain's config.
func (e *Engine) Get(name string) (*config.ChainConfig, bool) {
	return e.chains.Get(name)
}

// List returns every declared chain name.
func (e *Engine) List() []string {
	names := make([]string, 0, e.chains.Count())
	for _, c := range e.chains.List() {
		names = append(names, c.Name)
	}
	return names
}

// Remove deletes a declared chain.
func (e *Engine) Remove(name string) error {
	return e.chains.Remove(name)
}

// Rename re-registers a chain under newName, failing if newName is
// already taken (uniqueness within the catalog).
func (e *Engine) Rename(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("chain: new name is required")
	}
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	cfg, ok := e.chains.Get(oldName)
	if !ok {
		return errs.New("ChainEngine", "Rename", fmt.Sprintf("chain %q is not declared", oldName), errs.ErrChainStepFailed)
	}
	if _, taken := e.chains.Get(newName); taken {
		return fmt.Errorf("chain: name %q already in use", newName)
	}
	if err := e.chains.Remove(oldName); err != nil {
		return err
	}
	cfg.Name = newName
	return e.chains.Register(newName, cfg)
}

// AddStep appends a step to a declared chain, rejecting a step_number
// already present.
func (e *Engine) AddStep(chainName string, step config.StepConfig) error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	cfg, ok := e.chains.Get(chainName)
	if !ok {
		return errs.New("ChainEngine", "AddStep", fmt.Sprintf("chain %q is not declared", chainName), errs.ErrChainStepFailed)
	}
	next := append(append([]config.StepConfig{}, cfg.Steps...), step)
	if err := validateSteps(next); err != nil {
		return err
	}
	cfg.Steps = next
	return nil
}

// UpdateStep replaces the step with step.StepNumber in place.
func (e *Engine) UpdateStep(chainName string, step config.StepConfig) error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	cfg, ok := e.chains.Get(chainName)
	if !ok {
		return errs.New("ChainEngine", "UpdateStep", fmt.Sprintf("chain %q is not declared", chainName), errs.ErrChainStepFailed)
	}
	for i := range cfg.Steps {
		if cfg.Steps[i].StepNumber == step.StepNumber {
			cfg.Steps[i] = step
			return nil
		}
	}
	return errs.New("ChainEngine", "UpdateStep",
		fmt.Sprintf("chain %q has no step %d", chainName, step.StepNumber), errs.ErrChainStepFailed)
}

// DeleteStep removes the step numbered stepNumber.
func (e *Engine) DeleteStep(chainName string, stepNumber int) error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	cfg, ok := e.chains.Get(chainName)
	if !ok {
		return errs.New("ChainEngine", "DeleteStep", fmt.Sprintf("chain %q is not declared", chainName), errs.ErrChainStepFailed)
	}
	for i := range cfg.Steps {
		if cfg.Steps[i].StepNumber == stepNumber {
			cfg.Steps = append(cfg.Steps[:i], cfg.Steps[i+1:]...)
			return nil
		}
	}
	return errs.New("ChainEngine", "DeleteStep",
		fmt.Sprintf("chain %q has no step %d", chainName, stepNumber), errs.ErrChainStepFailed)
}

// Steps returns a copy of a declared chain's step list in execution
// order, for introspection endpoints.
func (e *Engine) Steps(chainName string) ([]config.StepConfig, bool) {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	cfg, ok := e.chains.Get(chainName)
	if !ok {
		return nil, false
	}
	return orderedSteps(cfg.Steps), true
}

// Run executes chainName's steps in order against userInput and
// agentName (the default agent for steps that don't name their own),
// returning the final run (in its terminal state) and the last step's
// output.
func (e *Engine) Run(ctx context.Context, chainName, agentName, userInput string) (*Run, string, error) {
	return e.run(ctx, chainName, agentName, userInput, 0)
}

func (e *Engine) run(ctx context.Context, chainName, agentName, userInput string, depth int) (*Run, string, error) {
	if depth >= e.maxRecursion {
		run := NewRun(chainName)
		run.setState(StateFailed)
		run.Cause = errs.ErrChainRecursion
		return run, "", errs.New("ChainEngine", "run",
			fmt.Sprintf("chain %q exceeded max recursion depth %d", chainName, e.maxRecursion), errs.ErrChainRecursion)
	}

	e.catalogMu.RLock()
	cfg, ok := e.chains.Get(chainName)
	var steps []config.StepConfig
	if ok {
		steps = orderedSteps(cfg.Steps)
	}
	e.catalogMu.RUnlock()
	if !ok {
		return nil, "", errs.New("ChainEngine", "run", fmt.Sprintf("chain %q is not declared", chainName), errs.ErrChainStepFailed)
	}

	run := NewRun(chainName)
	var lastOutput string

	for _, step := range steps {
		select {
		case <-ctx.Done():
			run.setState(StateCancelled)
			e.metrics.RecordChainRun(chainName, string(StateCancelled))
			return run, lastOutput, errs.New("ChainEngine", "run", "cancelled", errs.ErrCancelled)
		default:
		}

		run.mu.Lock()
		run.CurrentStep = step.StepNumber
		run.mu.Unlock()
		run.setState(StateRunning)

		stepAgent := agentName
		if step.AgentName != "" {
			stepAgent = step.AgentName
		}
		args := resolveArgs(step.Prompt, userInput, stepAgent, run)

		stepStart := time.Now()
		var output string
		var err error
		switch step.PromptType {
		case config.PromptTypePrompt:
			output, err = e.runPromptStep(ctx, stepAgent, args)
		case config.PromptTypeCommand:
			output, err = e.runCommandStep(ctx, stepAgent, args)
		case config.PromptTypeChain:
			output, err = e.runChainStep(ctx, stepAgent, args, depth)
		default:
			err = errs.New("ChainEngine", "run", fmt.Sprintf("step %d: unknown prompt_type %q", step.StepNumber, step.PromptType), errs.ErrChainStepFailed)
		}
		e.metrics.RecordChainStep(chainName, string(step.PromptType), time.Since(stepStart))

		run.setState(StateAwaiting)

		if err != nil {
			run.mu.Lock()
			run.FailedStep = step.StepNumber
			run.Cause = err
			run.mu.Unlock()
			run.setState(StateFailed)
			e.metrics.RecordChainRun(chainName, string(StateFailed))
			cause := errs.ErrChainStepFailed
			if errors.Is(err, errs.ErrChainRecursion) {
				cause = fmt.Errorf("%w: %w", errs.ErrChainStepFailed, errs.ErrChainRecursion)
			}
			return run, lastOutput, errs.New("ChainEngine", "run",
				fmt.Sprintf("step %d failed", step.StepNumber), cause)
		}

		run.recordOutput(step.StepNumber, output)
		lastOutput = output
	}

	run.setState(StateDone)
	e.metrics.RecordChainRun(chainName, string(StateDone))
	return run, lastOutput, nil
}

func (e *Engine) runPromptStep(ctx context.Context, agentName string, args map[string]any) (string, error) {
	input, _ := args["input"].(string)
	return e.prompts.RunPrompt(ctx, agentName, input)
}

func (e *Engine) runCommandStep(ctx context.Context, agentName string, args map[string]any) (string, error) {
	name, _ := args["command"].(string)
	cmdArgs, _ := args["args"].(map[string]any)
	return e.commands.RunCommand(ctx, agentName, name, cmdArgs)
}

func (e *Engine) runChainStep(ctx context.Context, agentName string, args map[string]any, depth int) (string, error) {
	name, _ := args["chain"].(string)
	input, _ := args["input"].(string)
	_, output, err := e.run(ctx, name, agentName, input, depth+1)
	return output, err
}
