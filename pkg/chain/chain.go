// Package chain implements the ChainEngine: an ordered script of steps
// (prompt | command | sub-chain) executed as a small state machine.
package chain

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
)

// State is a chain run's current state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateAwaiting  State = "awaiting_output"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether state has no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateCancelled:
		return true
	}
	return false
}

// DefaultMaxRecursion bounds nested chain runs; see also
// ResourceConfig.MaxChainRecursion.
const DefaultMaxRecursion = 8

// Run tracks one chain execution's state.
type Run struct {
	mu sync.RWMutex

	ID          string
	ChainName   string
	State       State
	CurrentStep int
	FailedStep  int
	Cause       error

	stepOutputs map[int]string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewRun starts a Pending run for chainName, identified by a fresh
// run id.
func NewRun(chainName string) *Run {
	now := time.Now()
	return &Run{
		ID:          uuid.NewString(),
		ChainName:   chainName,
		State:       StatePending,
		stepOutputs: map[int]string{},
		createdAt:   now,
		updatedAt:   now,
	}
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = s
	r.updatedAt = time.Now()
}

func (r *Run) recordOutput(step int, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepOutputs[step] = output
	r.updatedAt = time.Now()
}

func (r *Run) output(step int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.stepOutputs[step]
	return v, ok
}

// Snapshot is a read-only view of a Run for API responses.
type Snapshot struct {
	ID          string
	ChainName   string
	State       State
	CurrentStep int
	FailedStep  int
	Cause       string
}

func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cause := ""
	if r.Cause != nil {
		cause = r.Cause.Error()
	}
	return Snapshot{
		ID:          r.ID,
		ChainName:   r.ChainName,
		State:       r.State,
		CurrentStep: r.CurrentStep,
		FailedStep:  r.FailedStep,
		Cause:       cause,
	}
}

var stepOutputToken = regexp.MustCompile(`\{STEP(\d+)_OUTPUT\}`)

// resolveArgs materializes one step's argument map by substituting
// {user_input}, {STEPk_OUTPUT}, and {agent_name} tokens in every string
// value, recursing into nested maps and lists so a command step's own
// argument map is materialized too.
func resolveArgs(raw map[string]any, userInput, agentName string, run *Run) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = resolveValue(v, userInput, agentName, run)
	}
	return out
}

func resolveValue(v any, userInput, agentName string, run *Run) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, userInput, agentName, run)
	case map[string]any:
		return resolveArgs(t, userInput, agentName, run)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, userInput, agentName, run)
		}
		return out
	default:
		return v
	}
}

func resolveString(s, userInput, agentName string, run *Run) string {
	s = strings.ReplaceAll(s, "{user_input}", userInput)
	s = strings.ReplaceAll(s, "{agent_name}", agentName)
	s = stepOutputToken.ReplaceAllStringFunc(s, func(match string) string {
		sub := stepOutputToken.FindStringSubmatch(match)
		var step int
		fmt.Sscanf(sub[1], "%d", &step)
		if out, ok := run.output(step); ok {
			return out
		}
		return ""
	})
	return s
}

// validateSteps rejects a chain with duplicate step_number values. Steps
// may be declared in any order; orderedSteps sorts them for execution.
func validateSteps(steps []config.StepConfig) error {
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if seen[s.StepNumber] {
			return errs.New("ChainEngine", "validateSteps",
				fmt.Sprintf("duplicate step_number %d", s.StepNumber), errs.ErrChainStepFailed)
		}
		seen[s.StepNumber] = true
	}
	return nil
}

func orderedSteps(steps []config.StepConfig) []config.StepConfig {
	ordered := make([]config.StepConfig, len(steps))
	copy(ordered, steps)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].StepNumber > ordered[j].StepNumber; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	return ordered
}
