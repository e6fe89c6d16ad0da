package main

import (
	"context"
	"fmt"
)

// ChainCmd groups chain-related sub-commands.
type ChainCmd struct {
	Run  ChainRunCmd  `cmd:"" help:"Run a declared chain once and print its final output."`
	List ChainListCmd `cmd:"" help:"List declared chains."`
}

// ChainRunCmd runs one chain to completion outside the HTTP surface,
// useful for cron jobs and local testing of a chain definition.
type ChainRunCmd struct {
	Chain string `arg:"" help:"Chain name to run."`
	Agent string `arg:"" help:"Agent name whose provider/settings the chain's steps run under."`
	Input string `arg:"" help:"User input fed to the chain's {user_input} token."`
}

func (c *ChainRunCmd) Run(cli *CLI) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.rt.Agent(c.Agent); !ok {
		return fmt.Errorf("agent %q is not registered", c.Agent)
	}
	if _, ok := a.rt.Chains().Get(c.Chain); !ok {
		return fmt.Errorf("chain %q is not declared", c.Chain)
	}

	run, output, err := a.rt.Chains().Run(ctx, c.Chain, c.Agent, c.Input)
	if run != nil {
		snap := run.Snapshot()
		fmt.Printf("chain %q [%s] finished in state %s (failed step %d)\n", snap.ChainName, snap.ID, snap.State, snap.FailedStep)
	}
	if err != nil {
		return fmt.Errorf("chain run failed: %w", err)
	}

	fmt.Println("--- final output ---")
	fmt.Println(output)
	return nil
}

// ChainListCmd lists every chain declared in the configuration.
type ChainListCmd struct{}

func (c *ChainListCmd) Run(cli *CLI) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	names := a.rt.Chains().List()
	if len(names) == 0 {
		fmt.Println("(no chains declared)")
		return nil
	}
	for _, name := range names {
		cfg, _ := a.rt.Chains().Get(name)
		fmt.Printf("%s (%d steps)\n", name, len(cfg.Steps))
	}
	return nil
}
