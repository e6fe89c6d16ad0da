package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/conduit/pkg/server"
)

// ServeCmd starts the HTTP server and blocks until SIGINT/SIGTERM:
// build a context cancelled by signal, wire every collaborator, block
// on Start, shut down gracefully.
type ServeCmd struct {
	Port int `help:"Override the configured HTTP port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Port != 0 {
		a.cfg.Server.Port = c.Port
	}

	srv := server.New(server.Deps{
		Config:        a.cfg,
		Runtime:       a.rt,
		Providers:     a.providers,
		Extensions:    a.extensions,
		Conversations: a.conv,
		Metrics:       a.metrics,
	})

	a.logger.Info("conduit server starting",
		"address", srv.Address(),
		"agents", len(a.cfg.Agents),
		"providers", len(a.cfg.Providers),
		"chains", len(a.cfg.Chains),
	)
	fmt.Printf("conduit listening on http://%s\n", srv.Address())

	if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server: %w", err)
	}
	a.logger.Info("conduit server stopped")
	return nil
}
