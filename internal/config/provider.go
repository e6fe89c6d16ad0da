package config

// Service names a provider capability.
type Service string

const (
	ServiceLLM           Service = "llm"
	ServiceVision        Service = "vision"
	ServiceTTS           Service = "tts"
	ServiceEmbeddings    Service = "embeddings"
	ServiceTranscription Service = "transcription"
	ServiceTranslation   Service = "translation"
	ServiceImage         Service = "image"
)

// ProviderConfig declares one pluggable provider adapter's capabilities
// and rotation knobs. The core never hardcodes a concrete backend; this
// struct is all the router needs to reason about a provider.
type ProviderConfig struct {
	Name     string    `yaml:"name" json:"name"`
	Services []Service `yaml:"services" json:"services"`

	// SettingsSchema maps a setting name to its default value, exposed for
	// admin introspection.
	SettingsSchema map[string]string `yaml:"settings_schema,omitempty" json:"settings_schema,omitempty"`

	WaitBetweenRequests float64 `yaml:"wait_between_requests,omitempty" json:"wait_between_requests,omitempty"`
	WaitAfterFailure    float64 `yaml:"wait_after_failure,omitempty" json:"wait_after_failure,omitempty"`
	MaxFailures         int     `yaml:"max_failures,omitempty" json:"max_failures,omitempty"`
}

// SetDefaults fills the rotation knobs with their documented defaults.
func (p *ProviderConfig) SetDefaults() {
	if p.MaxFailures <= 0 {
		p.MaxFailures = 3
	}
}

// HasService reports whether the provider declares the given capability.
func (p *ProviderConfig) HasService(s Service) bool {
	for _, svc := range p.Services {
		if svc == s {
			return true
		}
	}
	return false
}
