package extensions

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/pkg/registry"
)

// resolved is one command together with the extension that owns it, so
// Resolve can hand CommandDispatcher both in one lookup.
type resolved struct {
	extension Extension
	command   Command
}

// Registry discovers extensions and indexes every command they expose
// by name, across the full command taxonomy (AI Provider / tool /
// notifier categories).
type Registry struct {
	extensions *registry.BaseRegistry[Extension]
	commands   *registry.BaseRegistry[resolved]
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		extensions: registry.NewBaseRegistry[Extension](),
		commands:   registry.NewBaseRegistry[resolved](),
	}
}

// RegisterExtension indexes ext and every command it declares. A command
// name collision across extensions is rejected at registration time
// rather than silently shadowing one extension's tool with another's.
func (r *Registry) RegisterExtension(ext Extension) error {
	if ext == nil || ext.Name() == "" {
		return fmt.Errorf("extensions: extension with a name is required")
	}
	if err := r.extensions.Register(ext.Name(), ext); err != nil {
		return err
	}
	for name, cmd := range ext.Commands() {
		if err := r.commands.Register(name, resolved{extension: ext, command: cmd}); err != nil {
			return fmt.Errorf("extensions: command %q: %w", name, err)
		}
	}
	return nil
}

// ListExtensions returns every registered extension name, sorted.
func (r *Registry) ListExtensions() []string {
	names := make([]string, 0, r.extensions.Count())
	for _, ext := range r.extensions.List() {
		names = append(names, ext.Name())
	}
	sort.Strings(names)
	return names
}

// Commands returns the command descriptors exposed by one extension.
func (r *Registry) Commands(extName string) ([]config.CommandConfig, error) {
	ext, ok := r.extensions.Get(extName)
	if !ok {
		return nil, fmt.Errorf("extensions: %q is not registered", extName)
	}
	out := make([]config.CommandConfig, 0, len(ext.Commands()))
	for _, cmd := range ext.Commands() {
		out = append(out, cmd.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SettingsSchema returns the settings schema declared by one extension.
func (r *Registry) SettingsSchema(extName string) (map[string]string, error) {
	ext, ok := r.extensions.Get(extName)
	if !ok {
		return nil, fmt.Errorf("extensions: %q is not registered", extName)
	}
	return ext.SettingsSchema(), nil
}

// Resolve looks up a command by name across every registered extension.
func (r *Registry) Resolve(commandName string) (Extension, Command, bool) {
	res, ok := r.commands.Get(commandName)
	if !ok {
		return nil, nil, false
	}
	return res.extension, res.command, true
}

// ListCommands returns every registered command's descriptor across all
// extensions, sorted by name (used by `GET /api/extensions`).
func (r *Registry) ListCommands() []config.CommandConfig {
	out := make([]config.CommandConfig, 0, r.commands.Count())
	for _, res := range r.commands.List() {
		out = append(out, res.command.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
