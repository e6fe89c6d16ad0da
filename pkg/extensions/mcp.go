package extensions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/internal/errs"
)

// MCPConfig configures one MCP tool server to mount as an Extension.
// Only the stdio transport is wired here; sse/streamable-http would
// reuse internal/httpclient but nothing needs them yet.
type MCPConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Filter  []string
}

// MCPExtension lazily connects to an MCP server on first use and mounts
// every tool it advertises (or the Filter subset) as a Command.
type MCPExtension struct {
	cfg MCPConfig

	mu        sync.Mutex
	client    *client.Client
	connected bool
	commands  map[string]Command
	filterSet map[string]bool
}

// NewMCPExtension builds an MCPExtension that connects lazily.
func NewMCPExtension(cfg MCPConfig) *MCPExtension {
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}
	return &MCPExtension{cfg: cfg, filterSet: filterSet}
}

func (m *MCPExtension) Name() string     { return m.cfg.Name }
func (m *MCPExtension) Category() string { return "mcp" }

func (m *MCPExtension) SettingsSchema() map[string]string {
	return map[string]string{"command": m.cfg.Command}
}

// Commands connects lazily (once) and returns the mounted tool set.
func (m *MCPExtension) Commands() map[string]Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		if err := m.connect(context.Background()); err != nil {
			slog.Default().Error("mcp extension connect failed", "extension", m.cfg.Name, "error", err)
			return map[string]Command{}
		}
	}
	return m.commands
}

func (m *MCPExtension) connect(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(m.cfg.Command, toEnvSlice(m.cfg.Env), m.cfg.Args...)
	if err != nil {
		return errs.New("MCPExtension", "connect", fmt.Sprintf("create client for %q", m.cfg.Name), err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return errs.New("MCPExtension", "connect", fmt.Sprintf("start client for %q", m.cfg.Name), err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "conduit", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return errs.New("MCPExtension", "connect", fmt.Sprintf("initialize %q", m.cfg.Name), err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return errs.New("MCPExtension", "connect", fmt.Sprintf("list tools for %q", m.cfg.Name), err)
	}

	commands := make(map[string]Command, len(listResp.Tools))
	for _, t := range listResp.Tools {
		if m.filterSet != nil && !m.filterSet[t.Name] {
			continue
		}
		commands[t.Name] = &mcpCommand{
			client: mcpClient,
			desc: config.CommandConfig{
				Name:          t.Name,
				DisplayName:   t.Name,
				Category:      "mcp",
				AllowCatchAll: true,
			},
		}
	}

	m.client = mcpClient
	m.commands = commands
	m.connected = true
	return nil
}

type mcpCommand struct {
	client *client.Client
	desc   config.CommandConfig
}

func (c *mcpCommand) Descriptor() config.CommandConfig { return c.desc }

func (c *mcpCommand) Execute(ctx context.Context, args map[string]any, _ ActivityLogger) (Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = c.desc.Name
	req.Params.Arguments = args

	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		return Result{}, errs.New("mcpCommand", "Execute", fmt.Sprintf("call %q", c.desc.Name), err)
	}

	var text string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	return Result{Text: text}, nil
}

func toEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
