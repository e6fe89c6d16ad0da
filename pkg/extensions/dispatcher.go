package extensions

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
	"github.com/kadirpekel/conduit/pkg/observability"
)

// Dispatcher is the CommandDispatcher: it resolves a
// command name, enforces the calling agent's enable-list, binds and
// coerces arguments against the command's declared descriptor, and
// guarantees a single tool:<name> interaction is recorded for the turn
// even when the command fails early. A command whose descriptor sets
// Sandboxed runs out of process through a cached SandboxedCommand, one
// plugin subprocess per binary path.
type Dispatcher struct {
	registry *Registry
	metrics  *observability.Metrics

	mu        sync.Mutex
	sandboxes map[string]*SandboxedCommand
}

// NewDispatcher builds a Dispatcher over reg.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		sandboxes: make(map[string]*SandboxedCommand),
	}
}

// Close kills every cached sandbox subprocess. Safe to call more than
// once; a later sandboxed dispatch relaunches its plugin.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sb := range d.sandboxes {
		sb.Close()
	}
	d.sandboxes = make(map[string]*SandboxedCommand)
}

// SetMetrics attaches the Prometheus recorder.
func (d *Dispatcher) SetMetrics(m *observability.Metrics) {
	d.metrics = m
}

// ToolLog is the single conversation entry the caller records for one
// command invocation. On failure
// Failed is the role's error=true marker and the message is the error
// text; otherwise the message is the result's canonical text form.
type ToolLog struct {
	Role    string
	Message string
	Failed  bool
}

func toolLog(commandName, resultText string, err error) ToolLog {
	if err != nil {
		return ToolLog{Role: "tool:" + commandName, Message: err.Error(), Failed: true}
	}
	return ToolLog{Role: "tool:" + commandName, Message: resultText}
}

// Run resolves commandName, checks it against agent's enable-list, binds
// args, executes it, and returns the result. The returned ToolLog is
// always populated (even on failure) so the caller can append exactly
// one tool:<name> interaction to the conversation.
func (d *Dispatcher) Run(ctx context.Context, agent *config.AgentConfig, commandName string, rawArgs map[string]any, activity ActivityLogger) (Result, ToolLog, error) {
	start := time.Now()

	ext, cmd, ok := d.registry.Resolve(commandName)
	if !ok {
		err := errs.New("CommandDispatcher", "Run", fmt.Sprintf("command %q is not registered", commandName), errs.ErrCommandUnknown)
		d.metrics.RecordCommandDispatch(commandName, time.Since(start), "unknown")
		return Result{}, toolLog(commandName, "", err), err
	}

	if agent != nil && !agent.CommandEnabled(commandName) {
		err := errs.New("CommandDispatcher", "Run", fmt.Sprintf("command %q is not enabled for agent %q", commandName, agent.Name), errs.ErrCommandDisabled)
		d.metrics.RecordCommandDispatch(commandName, time.Since(start), "disabled")
		return Result{}, toolLog(commandName, "", err), err
	}

	desc := cmd.Descriptor()
	bound, err := bindArguments(desc, rawArgs)
	if err != nil {
		d.metrics.RecordCommandDispatch(commandName, time.Since(start), "argument")
		return Result{}, toolLog(commandName, "", err), err
	}

	var result Result
	if desc.Sandboxed {
		result, err = d.runSandboxed(ctx, desc, bound)
	} else {
		result, err = cmd.Execute(ctx, bound, activity)
	}
	if err != nil {
		wrapped := errs.New("CommandDispatcher", "Run", fmt.Sprintf("command %q (%s) failed: %v", commandName, ext.Name(), err), errs.ErrCommandFailed)
		d.metrics.RecordCommandDispatch(commandName, time.Since(start), "failed")
		return Result{}, toolLog(commandName, "", wrapped), wrapped
	}

	d.metrics.RecordCommandDispatch(commandName, time.Since(start), "")
	return result, toolLog(commandName, result.String(), nil), nil
}

// runSandboxed routes one invocation through the plugin subprocess named
// by the descriptor, launching and caching it on first use. A plugin
// that exits non-zero or fails its RPC surfaces as a command failure
// with the subprocess's error text attached.
func (d *Dispatcher) runSandboxed(ctx context.Context, desc config.CommandConfig, args map[string]any) (Result, error) {
	if desc.Plugin == "" {
		return Result{}, errs.New("CommandDispatcher", "runSandboxed",
			fmt.Sprintf("command %q is sandboxed but declares no plugin binary", desc.Name), errs.ErrCommandFailed)
	}

	d.mu.Lock()
	sb, ok := d.sandboxes[desc.Plugin]
	if !ok {
		var err error
		sb, err = NewSandboxedCommand(desc.Plugin)
		if err != nil {
			d.mu.Unlock()
			return Result{}, errs.New("CommandDispatcher", "runSandboxed",
				fmt.Sprintf("launch plugin %q for command %q: %v", desc.Plugin, desc.Name, err), errs.ErrCommandFailed)
		}
		d.sandboxes[desc.Plugin] = sb
	}
	d.mu.Unlock()

	return sb.Execute(ctx, args, nil)
}

// bindArguments validates rawArgs against desc's declared parameters:
// fills in defaults, coerces scalar types, rejects missing required
// arguments, and either forwards or rejects unrecognized keys depending
// on AllowCatchAll.
func bindArguments(desc config.CommandConfig, rawArgs map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(desc.Arguments))
	seen := make(map[string]bool, len(desc.Arguments))

	for _, arg := range desc.Arguments {
		seen[arg.Name] = true
		v, present := rawArgs[arg.Name]
		if !present {
			if arg.Required {
				return nil, errs.New("CommandDispatcher", "bindArguments",
					fmt.Sprintf("missing required argument %q for command %q", arg.Name, desc.Name), errs.ErrArgumentInvalid)
			}
			if arg.Default != nil {
				bound[arg.Name] = arg.Default
			}
			continue
		}
		coerced, err := coerce(arg, v)
		if err != nil {
			return nil, errs.New("CommandDispatcher", "bindArguments",
				fmt.Sprintf("argument %q for command %q: %v", arg.Name, desc.Name, err), errs.ErrArgumentInvalid)
		}
		bound[arg.Name] = coerced
	}

	for k, v := range rawArgs {
		if seen[k] {
			continue
		}
		if !desc.AllowCatchAll {
			return nil, errs.New("CommandDispatcher", "bindArguments",
				fmt.Sprintf("unexpected argument %q for command %q", k, desc.Name), errs.ErrArgumentInvalid)
		}
		bound[k] = v
	}

	return bound, nil
}

func coerce(arg config.ArgumentDescriptor, v any) (any, error) {
	switch arg.Type {
	case "", "string", "json":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case "number":
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return nil, fmt.Errorf("not a number: %q", t)
			}
			return f, nil
		}
		return nil, fmt.Errorf("not a number: %v", v)
	case "bool":
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil, fmt.Errorf("not a bool: %q", t)
			}
			return b, nil
		}
		return nil, fmt.Errorf("not a bool: %v", v)
	default:
		return v, nil
	}
}
