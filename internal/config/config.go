package config

// Config is the top-level, file-loaded document: every agent, provider,
// extension, chain, and prompt template the server knows about at
// startup, plus server and resource-monitor knobs.
// Everything here is mutable via admin ops at runtime; a per-request
// Snapshot is taken from the relevant AgentConfig only.
type Config struct {
	Server     ServerConfig               `yaml:"server" json:"server"`
	Agents     map[string]*AgentConfig    `yaml:"agents" json:"agents"`
	Providers  map[string]*ProviderConfig `yaml:"providers" json:"providers"`
	Extensions map[string]*ExtensionConfig `yaml:"extensions" json:"extensions"`
	Chains     map[string]*ChainConfig    `yaml:"chains" json:"chains"`
	Prompts    []*PromptConfig            `yaml:"prompts" json:"prompts"`

	// MCPServers are launched and mounted as Extensions at startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`

	// DisabledProviders is the process-wide denylist: providers listed
	// here are excluded from every agent's router candidate set
	// regardless of their per-agent DisabledProviders list.
	DisabledProviders []string `yaml:"disabled_providers,omitempty" json:"disabled_providers,omitempty"`
}

// SetDefaults fills every nested section with its documented defaults
// and ensures maps are non-nil.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	if c.Agents == nil {
		c.Agents = map[string]*AgentConfig{}
	}
	if c.Providers == nil {
		c.Providers = map[string]*ProviderConfig{}
	}
	if c.Extensions == nil {
		c.Extensions = map[string]*ExtensionConfig{}
	}
	if c.Chains == nil {
		c.Chains = map[string]*ChainConfig{}
	}
	// Map-keyed sections may leave the name to the key.
	for name, a := range c.Agents {
		if a.Name == "" {
			a.Name = name
		}
		a.SetDefaults()
	}
	for name, p := range c.Providers {
		if p.Name == "" {
			p.Name = name
		}
		p.SetDefaults()
	}
	for name, e := range c.Extensions {
		if e.Name == "" {
			e.Name = name
		}
		for cmdName, cmd := range e.Commands {
			if cmd.Name == "" {
				cmd.Name = cmdName
				e.Commands[cmdName] = cmd
			}
		}
	}
	for name, ch := range c.Chains {
		if ch.Name == "" {
			ch.Name = name
		}
	}
}
