package config

// Recognized agent setting keys. Unknown keys are preserved and passed
// through to provider adapters untouched.
const (
	SettingProvider              = "provider"
	SettingMode                  = "mode"
	SettingPromptCategory        = "prompt_category"
	SettingPromptName            = "prompt_name"
	SettingEmbeddingsProvider    = "embeddings_provider"
	SettingTTSProvider           = "tts_provider"
	SettingTranscriptionProvider = "transcription_provider"
	SettingTranslationProvider   = "translation_provider"
	SettingImageProvider         = "image_provider"
	SettingVisionProvider        = "vision_provider"
	SettingAIModel               = "AI_MODEL"
	SettingAITemperature         = "AI_TEMPERATURE"
	SettingAITopP                = "AI_TOP_P"
	SettingMaxTokens             = "MAX_TOKENS"
	SettingHelperAgentName       = "helper_agent_name"
	SettingWebsearch             = "websearch"
	SettingWebsearchDepth        = "websearch_depth"
	SettingWebsearchTimeout      = "WEBSEARCH_TIMEOUT"
	SettingWaitBetweenRequests   = "WAIT_BETWEEN_REQUESTS"
	SettingWaitAfterFailure      = "WAIT_AFTER_FAILURE"
	SettingWorkingDirectory      = "WORKING_DIRECTORY"
	SettingWorkingDirRestricted  = "WORKING_DIRECTORY_RESTRICTED"
	SettingAutonomousExecution   = "AUTONOMOUS_EXECUTION"
	SettingPersona               = "PERSONA"
	SettingChainName             = "chain_name"
	SettingCommandName           = "command_name"
	SettingCommandArgs           = "command_args"
	SettingCommandVariable       = "command_variable"
	SettingLogOutput             = "log_output"
	SettingLogUserInput          = "log_user_input"
)

// Mode values for the `mode` agent setting.
const (
	ModePrompt  = "prompt"
	ModeChain   = "chain"
	ModeCommand = "command"
)

// AgentConfig is the persisted configuration of one agent. A request-time
// Snapshot (pkg/runtime) is taken from this and never mutated mid-request.
type AgentConfig struct {
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	Name     string `yaml:"name" json:"name"`

	// Settings holds both recognized keys (above) and arbitrary
	// provider-specific keys, as string/number/bool values.
	Settings map[string]any `yaml:"settings" json:"settings"`

	// EnabledCommands is the agent's command enable-list, consulted by
	// CommandDispatcher before any command runs.
	EnabledCommands map[string]bool `yaml:"enabled_commands" json:"enabled_commands"`

	Persona         string   `yaml:"persona,omitempty" json:"persona,omitempty"`
	TrainingSources []string `yaml:"training_sources,omitempty" json:"training_sources,omitempty"`

	// DisabledProviders excludes specific providers from this agent's
	// router candidate set regardless of declared services.
	DisabledProviders []string `yaml:"disabled_providers,omitempty" json:"disabled_providers,omitempty"`
}

// StringSetting returns a string-typed setting, or def if absent/wrong type.
func (a *AgentConfig) StringSetting(key, def string) string {
	if a == nil || a.Settings == nil {
		return def
	}
	if v, ok := a.Settings[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// BoolSetting returns a bool-typed setting, or def if absent/wrong type.
func (a *AgentConfig) BoolSetting(key string, def bool) bool {
	if a == nil || a.Settings == nil {
		return def
	}
	if v, ok := a.Settings[key]; ok {
		switch t := v.(type) {
		case bool:
			return t
		case string:
			return t == "true" || t == "1" || t == "yes"
		}
	}
	return def
}

// FloatSetting returns a float64-typed setting, or def if absent/wrong type.
func (a *AgentConfig) FloatSetting(key string, def float64) float64 {
	if a == nil || a.Settings == nil {
		return def
	}
	if v, ok := a.Settings[key]; ok {
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		}
	}
	return def
}

// IntSetting returns an int-typed setting, or def if absent/wrong type.
func (a *AgentConfig) IntSetting(key string, def int) int {
	if a == nil || a.Settings == nil {
		return def
	}
	if v, ok := a.Settings[key]; ok {
		switch t := v.(type) {
		case int:
			return t
		case float64:
			return int(t)
		}
	}
	return def
}

// CommandEnabled reports whether the named command is in this agent's
// enable-list. Agents default-deny: an absent entry means disabled.
func (a *AgentConfig) CommandEnabled(name string) bool {
	if a == nil || a.EnabledCommands == nil {
		return false
	}
	return a.EnabledCommands[name]
}

// SetDefaults fills recognized settings with their documented defaults
// when absent.
func (a *AgentConfig) SetDefaults() {
	if a.Settings == nil {
		a.Settings = map[string]any{}
	}
	if a.EnabledCommands == nil {
		a.EnabledCommands = map[string]bool{}
	}
	defaults := map[string]any{
		SettingMode:                 ModePrompt,
		SettingPromptCategory:       "Default",
		SettingPromptName:           "Default",
		SettingAITemperature:        0.7,
		SettingAITopP:               0.7,
		SettingMaxTokens:            4096,
		SettingWaitBetweenRequests:  0,
		SettingWaitAfterFailure:     0,
		SettingAutonomousExecution:  false,
		SettingWorkingDirRestricted: true,
	}
	for k, v := range defaults {
		if _, ok := a.Settings[k]; !ok {
			a.Settings[k] = v
		}
	}
}
