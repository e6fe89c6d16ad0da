// Package extensions implements the ExtensionRegistry and
// CommandDispatcher. Concrete tool implementations (web
// scrape, SQL, email, SSO) are out of core scope; the dispatcher only
// ever sees the Extension/Command capability surface below.
package extensions

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/conduit/internal/config"
)

// Result is what a Command returns: either plain text or a structured
// value the dispatcher serializes to JSON before logging it as a
// tool:<name> interaction.
type Result struct {
	Text       string
	Structured any
}

// String renders the canonical text form logged into the conversation.
func (r Result) String() string {
	if r.Text != "" || r.Structured == nil {
		return r.Text
	}
	return jsonString(r.Structured)
}

// ActivityLogger lets a running command emit an intermediate
// "sub-activity" interaction directly, independent of its final return
// value.
type ActivityLogger interface {
	LogActivity(ctx context.Context, text string) error
}

// Command is a single named, invocable tool exposed by an Extension.
type Command interface {
	// Descriptor returns this command's static metadata.
	Descriptor() config.CommandConfig

	// Execute binds args (already validated/defaulted by the dispatcher)
	// and runs the command. activity may be nil.
	Execute(ctx context.Context, args map[string]any, activity ActivityLogger) (Result, error)
}

// Extension groups a set of named Commands under one provider, category,
// and settings schema.
type Extension interface {
	Name() string
	Category() string
	Commands() map[string]Command
	SettingsSchema() map[string]string
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
