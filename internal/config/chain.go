package config

// PromptType names a chain step's target kind.
type PromptType string

const (
	PromptTypePrompt  PromptType = "prompt"
	PromptTypeCommand PromptType = "command"
	PromptTypeChain   PromptType = "chain"
)

// StepConfig is one chain step. Prompt is an argument map whose string
// values may contain the literal substitution tokens {user_input},
// {STEPn_OUTPUT}, and {agent_name}.
type StepConfig struct {
	StepNumber int            `yaml:"step_number" json:"step_number"`
	AgentName  string         `yaml:"agent_name,omitempty" json:"agent_name,omitempty"`
	PromptType PromptType     `yaml:"prompt_type" json:"prompt_type"`
	Prompt     map[string]any `yaml:"prompt" json:"prompt"`
}

// ChainConfig is a named, ordered script of steps.
type ChainConfig struct {
	Name  string       `yaml:"name" json:"name"`
	Steps []StepConfig `yaml:"steps" json:"steps"`
}
