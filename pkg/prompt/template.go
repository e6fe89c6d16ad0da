// Package prompt implements the PromptAssembler: a plain
// {placeholder} template substitution engine plus a monotonic
// input-token estimate.
package prompt

import (
	"regexp"
	"strings"
)

// placeholderRegex matches {name} tokens. There is no prefix grammar
// or optional marker; every placeholder resolves
// from one flat substitution map and absent keys are always optional.
var placeholderRegex = regexp.MustCompile(`\{[A-Za-z0-9_]+\}`)

// Template is a parsed prompt template.
type Template struct {
	raw          string
	placeholders map[string]bool
}

// Parse builds a Template, indexing which placeholders it references so
// callers can decide what data to fetch (e.g. "does {context} appear").
func Parse(raw string) *Template {
	t := &Template{raw: raw, placeholders: map[string]bool{}}
	for _, name := range ListPlaceholders(raw) {
		t.placeholders[name] = true
	}
	return t
}

// Has reports whether placeholder name appears in the template.
func (t *Template) Has(name string) bool {
	return t.placeholders[name]
}

// Render substitutes every {name} occurrence using values, leaving
// unresolved placeholders as empty string.
func (t *Template) Render(values map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(t.raw, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return ""
	})
}

// ListPlaceholders returns every distinct {name} found in raw, in
// order of first appearance.
func ListPlaceholders(raw string) []string {
	matches := placeholderRegex.FindAllString(raw, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1 : len(m)-1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// commandCatalog renders the {commands} bullet list: one line per command with its argument
// names so the model can emit a matching tool call.
func commandCatalog(commands []CommandSummary) string {
	if len(commands) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range commands {
		b.WriteString("- ")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(": ")
			b.WriteString(c.Description)
		}
		if len(c.Arguments) > 0 {
			b.WriteString(" (args: ")
			b.WriteString(strings.Join(c.Arguments, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// CommandSummary is the one-line command description the assembler
// injects at {commands}.
type CommandSummary struct {
	Name        string
	Description string
	Arguments   []string
}
