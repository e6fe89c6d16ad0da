package config

// PromptConfig is a named prompt template, grouped by category (default
// "Default").
type PromptConfig struct {
	Category string `yaml:"category" json:"category"`
	Name     string `yaml:"name" json:"name"`
	Text     string `yaml:"text" json:"text"`

	// Arguments is derived from the placeholders found in Text at save
	// time.
	Arguments []string `yaml:"arguments,omitempty" json:"arguments,omitempty"`
}
