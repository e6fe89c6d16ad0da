package prompt

import (
	"strings"

	"github.com/kadirpekel/conduit/internal/config"
)

// Recognized placeholder names.
const (
	PlaceholderPersona    = "persona"
	PlaceholderUserInput  = "user_input"
	PlaceholderContext    = "context"
	PlaceholderHistory    = "history"
	PlaceholderCommands   = "commands"
)

// ToolCallGrammar is the fenced-block sentinel the assembler documents
// in-prompt so the model knows how to request a command invocation.
// AgentRuntime, not PromptAssembler,
// parses blocks matching this grammar out of the model's response.
const ToolCallGrammar = "```json\n{ \"command\": \"<name>\", \"args\": { ... } }\n```"

// HistoryMessage is one entry of the recent conversation window fed to
// the assembler.
type HistoryMessage struct {
	Role    string
	Message string
}

// Request carries everything Build needs to assemble one prompt.
type Request struct {
	PromptCategory string
	PromptName     string
	Template       string // resolved PromptConfig.Text for (category, name)
	UserInput      string
	Persona        string
	History        []HistoryMessage // most-recent-last
	HistoryLimit   int              // N most recent messages to include
	MemorySnippets []string         // K retrieved snippets, already ranked
	Commands       []CommandSummary
	Model          string // for token estimation
}

// Result is the assembled prompt plus its token estimate.
type Result struct {
	Prompt       string
	TokenCount   int
	NeedsMemory  bool // true if {context} appears in the template
}

// NeedsMemory reports whether a template's placeholders require a
// memory-retrieval pass before Build is called.
func NeedsMemory(template string) bool {
	return Parse(template).Has(PlaceholderContext)
}

// Build assembles req into a single prompt string and a token estimate.
// Unknown placeholders are tolerated and replaced with empty string.
func Build(req Request, estimator *Estimator) Result {
	tmpl := Parse(req.Template)

	values := map[string]string{
		PlaceholderPersona:   req.Persona,
		PlaceholderUserInput: req.UserInput,
	}

	if tmpl.Has(PlaceholderContext) {
		values[PlaceholderContext] = strings.Join(req.MemorySnippets, "\n---\n")
	}

	if tmpl.Has(PlaceholderHistory) {
		values[PlaceholderHistory] = renderHistory(req.History, req.HistoryLimit)
	}

	if tmpl.Has(PlaceholderCommands) {
		values[PlaceholderCommands] = commandCatalog(req.Commands) + "\n\nTo invoke a command, respond with:\n" + ToolCallGrammar
	}

	rendered := tmpl.Render(values)

	count := 0
	if estimator != nil {
		count = estimator.Count(rendered)
	} else {
		count = len(rendered) / 4
	}

	return Result{
		Prompt:      rendered,
		TokenCount:  count,
		NeedsMemory: tmpl.Has(PlaceholderContext),
	}
}

func renderHistory(history []HistoryMessage, limit int) string {
	window := history
	if limit > 0 && len(history) > limit {
		window = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, m := range window {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Message)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ResolveTemplate finds the PromptConfig named exactly (category, name)
// in prompts; it does not fall back to another template. Callers pass
// (Default, Default) when an agent's settings don't override them.
func ResolveTemplate(prompts []*config.PromptConfig, category, name string) (string, bool) {
	for _, p := range prompts {
		if p.Category == category && p.Name == name {
			return p.Text, true
		}
	}
	return "", false
}
