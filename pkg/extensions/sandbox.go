package extensions

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
)

// Sandboxed commands run as hashicorp/go-plugin subprocesses rather
// than in the server's own address space. A sandboxed command is a
// single RPC call taking/returning the same args/Result shape every
// in-process Command uses, so the wire contract is one small
// hand-written net/rpc service instead of a generated one.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CONDUIT_COMMAND_PLUGIN",
	MagicCookieValue: "conduit",
}

// CommandRPC is the interface a sandboxed command plugin implements.
type CommandRPC interface {
	Descriptor() (config.CommandConfig, error)
	Execute(args map[string]any) (Result, error)
}

// CommandPlugin is the goplugin.Plugin implementation shared by host and
// client processes.
type CommandPlugin struct {
	Impl CommandRPC
}

func (p *CommandPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &commandRPCServer{impl: p.Impl}, nil
}

func (p *CommandPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &commandRPCClient{client: c}, nil
}

type commandRPCServer struct {
	impl CommandRPC
}

func (s *commandRPCServer) Descriptor(_ any, resp *config.CommandConfig) error {
	d, err := s.impl.Descriptor()
	*resp = d
	return err
}

type executeArgs struct {
	Args map[string]any
}

func (s *commandRPCServer) Execute(args executeArgs, resp *Result) error {
	r, err := s.impl.Execute(args.Args)
	*resp = r
	return err
}

type commandRPCClient struct {
	client *rpc.Client
}

func (c *commandRPCClient) Descriptor() (config.CommandConfig, error) {
	var resp config.CommandConfig
	err := c.client.Call("Plugin.Descriptor", new(any), &resp)
	return resp, err
}

func (c *commandRPCClient) Execute(args map[string]any) (Result, error) {
	var resp Result
	err := c.client.Call("Plugin.Execute", executeArgs{Args: args}, &resp)
	return resp, err
}

// SandboxedCommand adapts a subprocess plugin, launched fresh per host
// process lifetime, into a Command the dispatcher can call like any
// other. It owns the *goplugin.Client and must be closed on shutdown.
type SandboxedCommand struct {
	path   string
	client *goplugin.Client
	rpcClient CommandRPC
}

// NewSandboxedCommand launches the plugin binary at path and dials it.
func NewSandboxedCommand(path string) (*SandboxedCommand, error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"command": &CommandPlugin{},
		},
		Cmd:    exec.Command(path),
		Logger: hclog.NewNullLogger(),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errs.New("SandboxedCommand", "NewSandboxedCommand",
			fmt.Sprintf("dial plugin %q", path), err)
	}
	raw, err := rpcClient.Dispense("command")
	if err != nil {
		client.Kill()
		return nil, errs.New("SandboxedCommand", "NewSandboxedCommand",
			fmt.Sprintf("dispense plugin %q", path), err)
	}
	impl, ok := raw.(CommandRPC)
	if !ok {
		client.Kill()
		return nil, errs.New("SandboxedCommand", "NewSandboxedCommand",
			fmt.Sprintf("plugin %q does not implement CommandRPC", path), errors.New("type assertion failed"))
	}

	return &SandboxedCommand{path: path, client: client, rpcClient: impl}, nil
}

// Close terminates the plugin subprocess.
func (s *SandboxedCommand) Close() {
	s.client.Kill()
}

func (s *SandboxedCommand) Descriptor() config.CommandConfig {
	d, err := s.rpcClient.Descriptor()
	if err != nil {
		return config.CommandConfig{Name: s.path}
	}
	return d
}

// Execute runs the command in its subprocess. activity is ignored:
// sandboxed commands cannot call back into the host's conversation log
// mid-execution, only return a final Result.
func (s *SandboxedCommand) Execute(ctx context.Context, args map[string]any, activity ActivityLogger) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.rpcClient.Execute(args)
		done <- outcome{res: r, err: err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, errs.New("SandboxedCommand", "Execute", "cancelled", errs.ErrCancelled)
	case o := <-done:
		if o.err != nil {
			// o.err carries what the subprocess reported: its RPC error, or
			// the net/rpc transport error when the plugin died mid-call.
			return Result{}, errs.New("SandboxedCommand", "Execute",
				fmt.Sprintf("plugin %q: %v", s.path, o.err), errs.ErrCommandFailed)
		}
		return o.res, nil
	}
}
