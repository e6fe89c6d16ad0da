package extensions

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
)

// DeclaredExtension mounts a config-loaded ExtensionConfig as an
// Extension. Its commands carry only their descriptors: a declared
// command is executable when it is sandboxed (the dispatcher routes it
// to the plugin binary named by its descriptor) and fails cleanly when
// it declares no in-process body and no plugin.
type DeclaredExtension struct {
	cfg      *config.ExtensionConfig
	commands map[string]Command
}

// NewDeclaredExtension builds a DeclaredExtension over cfg.
func NewDeclaredExtension(cfg *config.ExtensionConfig) *DeclaredExtension {
	commands := make(map[string]Command, len(cfg.Commands))
	for name, desc := range cfg.Commands {
		if desc.Name == "" {
			desc.Name = name
		}
		commands[name] = &declaredCommand{desc: desc}
	}
	return &DeclaredExtension{cfg: cfg, commands: commands}
}

func (e *DeclaredExtension) Name() string                 { return e.cfg.Name }
func (e *DeclaredExtension) Category() string             { return e.cfg.Category }
func (e *DeclaredExtension) Commands() map[string]Command { return e.commands }
func (e *DeclaredExtension) SettingsSchema() map[string]string {
	return nil
}

// declaredCommand is the descriptor-only command behind a
// DeclaredExtension. The dispatcher never calls Execute for a sandboxed
// descriptor, so reaching it means the declaration was not runnable.
type declaredCommand struct {
	desc config.CommandConfig
}

func (c *declaredCommand) Descriptor() config.CommandConfig { return c.desc }

func (c *declaredCommand) Execute(ctx context.Context, args map[string]any, activity ActivityLogger) (Result, error) {
	return Result{}, errs.New("DeclaredExtension", "Execute",
		fmt.Sprintf("command %q has no in-process implementation; declare it sandboxed with a plugin binary", c.desc.Name),
		errs.ErrCommandFailed)
}
