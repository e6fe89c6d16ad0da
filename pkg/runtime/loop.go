package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
	"github.com/kadirpekel/conduit/pkg/extensions"
	"github.com/kadirpekel/conduit/pkg/prompt"
	"github.com/kadirpekel/conduit/pkg/providers"
	"github.com/kadirpekel/conduit/pkg/streaming"
)

// Request is one top-level call into the runtime (one HTTP request in
// pkg/server's terms).
type Request struct {
	AgentName    string
	Conversation string // conversation id; empty skips all ConversationStore logging
	UserInput    string
	Stream       bool
}

// Response is the outcome of a Request once its RunResult settles.
type Response struct {
	Text         string
	Partial      bool
	ToolCalls    int
	Mode         string
	Conversation string
}

// RunResult pairs a live Frames channel (meaningful when Request.Stream
// is true) with a Wait that blocks for the final Response, mirroring
// streaming.Bridge's own Frames()/Accumulated() split.
type RunResult struct {
	frames chan streaming.Frame
	done   chan struct{}
	resp   Response
	err    error
}

func newRunResult() *RunResult {
	return &RunResult{
		frames: make(chan streaming.Frame, 64),
		done:   make(chan struct{}),
	}
}

// Frames returns the channel pkg/server relays as SSE when streaming was
// requested. It is always closed once the request finishes, streamed or
// not.
func (rr *RunResult) Frames() <-chan streaming.Frame { return rr.frames }

// Wait blocks until the request is fully processed and
// returns the settled Response.
func (rr *RunResult) Wait() (Response, error) {
	<-rr.done
	return rr.resp, rr.err
}

func (rr *RunResult) finish(resp Response, err error) {
	rr.resp = resp
	rr.err = err
	close(rr.frames)
	close(rr.done)
}

// Run dispatches req by its agent's mode setting and
// returns immediately with a RunResult the caller can stream from and/or
// wait on.
func (r *Runtime) Run(ctx context.Context, req Request) *RunResult {
	rr := newRunResult()
	go r.run(ctx, req, rr)
	return rr
}

func (r *Runtime) run(ctx context.Context, req Request, rr *RunResult) {
	ctx, cancel := r.requestDeadline(ctx)
	defer cancel()

	agent, ok := r.agents.Get(req.AgentName)
	if !ok {
		rr.finish(Response{}, errs.New("AgentRuntime", "Run",
			fmt.Sprintf("agent %q is not registered", req.AgentName), errs.ErrCommandUnknown))
		return
	}

	tenantID := agent.TenantID
	logOutput := agent.BoolSetting(config.SettingLogOutput, true)
	logUserInput := agent.BoolSetting(config.SettingLogUserInput, true)

	if logUserInput && req.Conversation != "" && r.conv != nil {
		stepCtx, cancel := r.stepDeadline(ctx)
		_, _ = r.conv.Append(stepCtx, tenantID, agent.Name, req.Conversation, "user", req.UserInput, false, time.Time{})
		cancel()
	}

	mode := agent.StringSetting(config.SettingMode, config.ModePrompt)

	var resp Response
	var err error

	switch mode {
	case config.ModeChain:
		resp, err = r.runChainMode(ctx, agent, req)
	case config.ModeCommand:
		resp, err = r.runCommandMode(ctx, agent, req)
	default:
		resp, err = r.runPromptMode(ctx, agent, req, rr.frames)
	}
	resp.Mode = mode
	resp.Conversation = req.Conversation

	// The agent's own response is logged under the agent's name as its
	// role.
	if err == nil && logOutput && mode != config.ModeCommand && req.Conversation != "" && r.conv != nil {
		stepCtx, cancel := r.stepDeadline(ctx)
		_, _ = r.conv.Append(stepCtx, tenantID, agent.Name, req.Conversation, agent.Name, resp.Text, false, time.Time{})
		cancel()
	}

	rr.finish(resp, err)
}

func (r *Runtime) runChainMode(ctx context.Context, agent *config.AgentConfig, req Request) (Response, error) {
	release, err := r.acquireHeavy(ctx)
	if err != nil {
		return Response{}, err
	}
	defer release()

	chainName := agent.StringSetting(config.SettingChainName, agent.Name)
	_, output, err := r.chains.Run(ctx, chainName, agent.Name, req.UserInput)
	return Response{Text: output}, err
}

func (r *Runtime) runCommandMode(ctx context.Context, agent *config.AgentConfig, req Request) (Response, error) {
	if r.dispatcher == nil {
		return Response{}, errs.New("AgentRuntime", "Run", "no extensions registered", errs.ErrCommandUnknown)
	}
	commandName := agent.StringSetting(config.SettingCommandName, "")

	// Fixed arguments come from the agent's command_args setting; the
	// argument named by command_variable (if any) receives the request's
	// user input, so commands that declare no such argument still bind.
	args := map[string]any{}
	if raw, ok := agent.Settings[config.SettingCommandArgs]; ok {
		switch t := raw.(type) {
		case map[string]any:
			for k, v := range t {
				args[k] = v
			}
		case string:
			_ = json.Unmarshal([]byte(t), &args)
		}
	}
	if v := agent.StringSetting(config.SettingCommandVariable, ""); v != "" {
		args[v] = req.UserInput
	}

	activity := &conversationActivityLogger{runtime: r, tenant: agent.TenantID, agent: agent.Name, conversation: req.Conversation}
	result, entry, err := r.dispatcher.Run(ctx, agent, commandName, args, activity)
	if req.Conversation != "" && r.conv != nil {
		stepCtx, cancel := r.stepDeadline(ctx)
		_, _ = r.conv.Append(stepCtx, agent.TenantID, agent.Name, req.Conversation, entry.Role, entry.Message, entry.Failed, time.Time{})
		cancel()
	}
	return Response{Text: result.String()}, err
}

func (r *Runtime) runPromptMode(ctx context.Context, agent *config.AgentConfig, req Request, frames chan<- streaming.Frame) (Response, error) {
	var release func()
	if agent.BoolSetting(config.SettingAutonomousExecution, false) {
		var err error
		release, err = r.acquireHeavy(ctx)
		if err != nil {
			return Response{}, err
		}
	}

	text, partial, toolCalls, err := r.runPromptLoop(ctx, agent, req.Conversation, req.UserInput, frames, req.Stream)

	if release != nil {
		release()
	}

	return Response{Text: text, Partial: partial, ToolCalls: toolCalls}, err
}

// RunPrompt implements chain.PromptRunner: ChainEngine routes a
// `prompt_type = prompt` step here. Chain-driven prompt calls are
// ephemeral with respect to ConversationStore and never stream.
func (r *Runtime) RunPrompt(ctx context.Context, agentName, input string) (string, error) {
	agent, ok := r.agents.Get(agentName)
	if !ok {
		return "", errs.New("AgentRuntime", "RunPrompt",
			fmt.Sprintf("agent %q is not registered", agentName), errs.ErrCommandUnknown)
	}
	text, _, _, err := r.runPromptLoop(ctx, agent, "", input, nil, false)
	return text, err
}

// RunCommand implements chain.CommandRunner: ChainEngine routes a
// `prompt_type = command` step here, straight through the
// CommandDispatcher.
func (r *Runtime) RunCommand(ctx context.Context, agentName, commandName string, args map[string]any) (string, error) {
	agent, ok := r.agents.Get(agentName)
	if !ok {
		return "", errs.New("AgentRuntime", "RunCommand",
			fmt.Sprintf("agent %q is not registered", agentName), errs.ErrCommandUnknown)
	}
	if r.dispatcher == nil {
		return "", errs.New("AgentRuntime", "RunCommand", "no extensions registered", errs.ErrCommandUnknown)
	}
	result, _, err := r.dispatcher.Run(ctx, agent, commandName, args, nil)
	if err != nil {
		return "", err
	}
	return result.String(), nil
}

// runPromptLoop is the heart of a prompt-mode turn: memory retrieval,
// prompt assembly, provider dispatch, and the bounded autonomous
// tool-call loop. conversationID == "" skips history/tool-interaction
// persistence (used for chain-driven sub-calls).
func (r *Runtime) runPromptLoop(ctx context.Context, agent *config.AgentConfig, conversationID, userInput string, frames chan<- streaming.Frame, stream bool) (string, bool, int, error) {
	category := agent.StringSetting(config.SettingPromptCategory, "Default")
	name := agent.StringSetting(config.SettingPromptName, "Default")
	template, ok := prompt.ResolveTemplate(r.prompts, category, name)
	if !ok {
		return "", false, 0, errs.New("AgentRuntime", "runPromptLoop",
			fmt.Sprintf("no prompt template for (%s, %s)", category, name), errs.ErrProviderFatal)
	}

	history := r.buildHistory(ctx, agent.TenantID, agent.Name, conversationID)
	commands := r.commandCatalog(agent)

	var extraContext []string
	var finalText string
	var partial bool
	var toolCalls int

	maxIter := r.resources.MaxToolLoopIterations
	for iter := 0; iter < maxIter; iter++ {
		select {
		case <-ctx.Done():
			return finalText, true, toolCalls, errs.New("AgentRuntime", "runPromptLoop", "cancelled", errs.ErrCancelled)
		default:
		}

		snippets := r.retrieveMemory(ctx, agent, template, userInput)
		snippets = append(snippets, extraContext...)

		model := agent.StringSetting(config.SettingAIModel, "")
		built := prompt.Build(prompt.Request{
			PromptCategory: category,
			PromptName:     name,
			Template:       template,
			UserInput:      userInput,
			Persona:        agent.Persona,
			History:        history,
			HistoryLimit:   20,
			MemorySnippets: snippets,
			Commands:       commands,
			Model:          model,
		}, r.estimatorFor(model))

		text, iterPartial, err := r.callProvider(ctx, agent, built.Prompt, built.TokenCount, stream, frames)
		if err != nil {
			return finalText, true, toolCalls, err
		}
		finalText = text
		partial = iterPartial

		tc, found := parseToolCall(text)
		if !found || !agent.BoolSetting(config.SettingAutonomousExecution, false) || r.dispatcher == nil {
			break
		}

		toolCalls++
		activity := &conversationActivityLogger{runtime: r, tenant: agent.TenantID, agent: agent.Name, conversation: conversationID}
		result, entry, derr := r.dispatcher.Run(ctx, agent, tc.Command, tc.Args, activity)
		if conversationID != "" && r.conv != nil {
			stepCtx, cancel := r.stepDeadline(ctx)
			_, _ = r.conv.Append(stepCtx, agent.TenantID, agent.Name, conversationID, entry.Role, entry.Message, entry.Failed, time.Time{})
			cancel()
		}
		if derr != nil {
			break
		}
		extraContext = append(extraContext, result.String())
	}

	return finalText, partial, toolCalls, nil
}

// retrieveMemory runs MemoryStore.Recall when the template references
// {context} or the agent has websearch enabled.
func (r *Runtime) retrieveMemory(ctx context.Context, agent *config.AgentConfig, template, query string) []string {
	if r.mem == nil {
		return nil
	}
	if !prompt.NeedsMemory(template) && !agent.BoolSetting(config.SettingWebsearch, false) {
		return nil
	}
	stepCtx, cancel := r.stepDeadline(ctx)
	defer cancel()
	limit := agent.IntSetting(config.SettingWebsearchDepth, 3)
	snippets, err := r.mem.Recall(stepCtx, agent.TenantID, agent.Name, query, limit)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(snippets))
	for _, s := range snippets {
		out = append(out, s.Text)
	}
	return out
}

// buildHistory loads the conversation's recent interactions for the
// {history} placeholder.
func (r *Runtime) buildHistory(ctx context.Context, tenantID, agentName, conversationID string) []prompt.HistoryMessage {
	if conversationID == "" || r.conv == nil {
		return nil
	}
	stepCtx, cancel := r.stepDeadline(ctx)
	defer cancel()
	interactions, err := r.conv.Export(stepCtx, tenantID, agentName, conversationID)
	if err != nil {
		return nil
	}
	out := make([]prompt.HistoryMessage, 0, len(interactions))
	for _, ia := range interactions {
		out = append(out, prompt.HistoryMessage{Role: ia.Role, Message: ia.Message})
	}
	return out
}

// commandCatalog lists the agent's enabled commands for {commands}
// injection.
func (r *Runtime) commandCatalog(agent *config.AgentConfig) []prompt.CommandSummary {
	if r.extReg == nil {
		return nil
	}
	var out []prompt.CommandSummary
	for _, cmd := range r.extReg.ListCommands() {
		if !agent.CommandEnabled(cmd.Name) {
			continue
		}
		args := make([]string, 0, len(cmd.Arguments))
		for _, a := range cmd.Arguments {
			args = append(args, a.Name)
		}
		out = append(out, prompt.CommandSummary{Name: cmd.Name, Description: cmd.DisplayName, Arguments: args})
	}
	return out
}

// callProvider runs one ProviderRouter-routed inference call, streaming
// through a Bridge when requested or calling
// the provider directly otherwise.
func (r *Runtime) callProvider(ctx context.Context, agent *config.AgentConfig, renderedPrompt string, inputTokens int, stream bool, frames chan<- streaming.Frame) (string, bool, error) {
	stepCtx, cancel := r.stepDeadline(ctx)
	defer cancel()

	ir := providers.InferenceRequest{
		Prompt:      renderedPrompt,
		InputTokens: inputTokens,
		Temperature: agent.FloatSetting(config.SettingAITemperature, 0.7),
		TopP:        agent.FloatSetting(config.SettingAITopP, 0.7),
		MaxTokens:   agent.IntSetting(config.SettingMaxTokens, 4096),
		Stream:      stream,
	}

	if !stream {
		text, _, _, err := providers.Execute[string](r.providers, agent.TenantID, agent.Name, agent, config.ServiceLLM, false,
			func(p providers.Provider, model string) (string, error) {
				req := ir
				req.Model = model
				return p.Inference(stepCtx, req)
			})
		if err != nil {
			return "", false, err
		}
		return text, false, nil
	}

	ch, _, _, err := providers.Execute[<-chan providers.StreamDelta](r.providers, agent.TenantID, agent.Name, agent, config.ServiceLLM, false,
		func(p providers.Provider, model string) (<-chan providers.StreamDelta, error) {
			req := ir
			req.Model = model
			return p.InferenceStream(stepCtx, req)
		})
	if err != nil {
		return "", false, err
	}

	bridge := streaming.NewBridge()
	go bridge.Run(stepCtx, ch)

	if frames != nil {
		for f := range bridge.Frames() {
			select {
			case frames <- f:
			case <-ctx.Done():
			}
		}
	} else {
		for range bridge.Frames() {
		}
	}

	return bridge.Accumulated()
}

var _ extensions.ActivityLogger = (*conversationActivityLogger)(nil)

// conversationActivityLogger lets a running command append an
// intermediate "sub-activity" interaction directly, independent of RunCommand's own logging.
type conversationActivityLogger struct {
	runtime      *Runtime
	tenant       string
	agent        string
	conversation string
}

func (l *conversationActivityLogger) LogActivity(ctx context.Context, text string) error {
	if l.conversation == "" || l.runtime.conv == nil {
		return nil
	}
	_, err := l.runtime.conv.Append(ctx, l.tenant, l.agent, l.conversation, "system", text, false, time.Time{})
	return err
}
