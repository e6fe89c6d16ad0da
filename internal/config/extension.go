package config

// ArgumentDescriptor declares one command argument.
type ArgumentDescriptor struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"` // "string", "number", "bool", "json"
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// CommandConfig declares one named command exposed by an extension.
type CommandConfig struct {
	Name        string               `yaml:"name" json:"name"`
	DisplayName string               `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Category    string               `yaml:"category,omitempty" json:"category,omitempty"`
	Arguments   []ArgumentDescriptor `yaml:"arguments,omitempty" json:"arguments,omitempty"`

	// AllowCatchAll forwards args not matched by a descriptor instead of
	// rejecting them.
	AllowCatchAll bool `yaml:"allow_catch_all,omitempty" json:"allow_catch_all,omitempty"`

	// RequiresSettings lists agent-scoped settings (e.g. API keys) the
	// command needs before it can run.
	RequiresSettings []string `yaml:"requires_settings,omitempty" json:"requires_settings,omitempty"`

	Async     bool `yaml:"async,omitempty" json:"async,omitempty"`
	Sandboxed bool `yaml:"sandboxed,omitempty" json:"sandboxed,omitempty"`

	// Plugin is the path of the out-of-process binary backing a
	// sandboxed command; required when Sandboxed is true.
	Plugin string `yaml:"plugin,omitempty" json:"plugin,omitempty"`
}

// ExtensionConfig declares one extension and its command catalog.
type ExtensionConfig struct {
	Name     string                   `yaml:"name" json:"name"`
	Category string                   `yaml:"category,omitempty" json:"category,omitempty"`
	Commands map[string]CommandConfig `yaml:"commands" json:"commands"`
}
