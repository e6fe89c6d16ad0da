// Command conduit is the server and operator CLI for the orchestration
// core: a kong.CLI struct with one Run-implementing sub-command type
// per verb.
//
// Usage:
//
//	conduit serve --config config.yaml
//	conduit chain run <chain> <agent> "input" --config config.yaml
//	conduit chat <agent> --config config.yaml
//	conduit validate --config config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	conduit "github.com/kadirpekel/conduit"
)

// CLI is the top-level command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Chain    ChainCmd    `cmd:"" help:"Chain operations."`
	Chat     ChatCmd     `cmd:"" help:"Start an interactive chat session with an agent."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to the YAML configuration file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFormat string `help:"Log format (text or json)."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(conduit.GetVersion().String())
	return nil
}

// configErr marks an error surfaced before the server/runtime started
// doing real work (bad flags, a malformed config file, a declared
// provider/agent/chain that fails to wire), mapped to exit code 1;
// everything else maps to exit code 2.
type configErr struct{ err error }

func (e *configErr) Error() string { return e.err.Error() }
func (e *configErr) Unwrap() error { return e.err }

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("conduit"),
		kong.Description("Multi-tenant agent orchestration server"),
		kong.UsageOnError(),
	)

	err := kctx.Run(&cli)
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "conduit:", err)
	var ce *configErr
	if asConfigErr(err, &ce) {
		os.Exit(1)
	}
	os.Exit(2)
}

func asConfigErr(err error, target **configErr) bool {
	for err != nil {
		if ce, ok := err.(*configErr); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
