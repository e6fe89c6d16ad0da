package main

import (
	"fmt"

	"github.com/kadirpekel/conduit/internal/config"
)

// ValidateCmd checks a configuration file for obvious misconfiguration
// without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return &configErr{fmt.Errorf("--config is required")}
	}

	cfg, err := config.NewLoader(cli.Config).Load()
	if err != nil {
		return &configErr{fmt.Errorf("load config: %w", err)}
	}
	if err := cfg.Server.Validate(); err != nil {
		return &configErr{fmt.Errorf("invalid configuration: %w", err)}
	}

	fmt.Printf("configuration %s is valid\n", cli.Config)
	fmt.Printf("  agents:    %d\n", len(cfg.Agents))
	fmt.Printf("  providers: %d\n", len(cfg.Providers))
	fmt.Printf("  chains:    %d\n", len(cfg.Chains))
	fmt.Printf("  prompts:   %d\n", len(cfg.Prompts))
	return nil
}
