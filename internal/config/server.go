package config

import "fmt"

// StorageBackend identifies which SQL dialect backs the ConversationStore.
type StorageBackend string

const (
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
)

// ServerConfig configures the HTTP surface and the resource model.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`

	// AgentAPIKey is the bearer token inbound requests must present.
	// Empty disables auth (local/dev only).
	AgentAPIKey string `yaml:"agent_api_key,omitempty" json:"-"`

	Database DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`

	LogLevel  string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty" json:"log_format,omitempty"`

	Resources ResourceConfig `yaml:"resources,omitempty" json:"resources,omitempty"`

	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// DatabaseConfig selects and configures the ConversationStore backend.
type DatabaseConfig struct {
	Backend StorageBackend `yaml:"backend,omitempty" json:"backend,omitempty"`

	// DSN is the driver-specific connection string. For sqlite this is a
	// file path (or ":memory:"); for postgres a libpq connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	MaxOpenConns    int `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns    int `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	CheckoutTimeout int `yaml:"checkout_timeout_seconds,omitempty" json:"checkout_timeout_seconds,omitempty"`
}

// ResourceConfig holds the shared-resource knobs: the
// connection pool (primary + overflow), the active-task monitor, and the
// two cancellation deadlines.
type ResourceConfig struct {
	PoolPrimary          int `yaml:"pool_primary,omitempty" json:"pool_primary,omitempty"`
	PoolOverflow         int `yaml:"pool_overflow,omitempty" json:"pool_overflow,omitempty"`
	PoolCheckoutTimeoutS int `yaml:"pool_checkout_timeout_seconds,omitempty" json:"pool_checkout_timeout_seconds,omitempty"`

	MaxConcurrentHeavyTasks int `yaml:"max_concurrent_heavy_tasks,omitempty" json:"max_concurrent_heavy_tasks,omitempty"`

	RequestDeadlineS int `yaml:"request_deadline_seconds,omitempty" json:"request_deadline_seconds,omitempty"`
	StepDeadlineS    int `yaml:"step_deadline_seconds,omitempty" json:"step_deadline_seconds,omitempty"`

	MaxToolLoopIterations int `yaml:"max_tool_loop_iterations,omitempty" json:"max_tool_loop_iterations,omitempty"`
	MaxChainRecursion     int `yaml:"max_chain_recursion,omitempty" json:"max_chain_recursion,omitempty"`
}

// ObservabilityConfig configures tracing/metrics emission.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled,omitempty" json:"tracing_enabled,omitempty"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	ServiceName    string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	MetricsEnabled bool   `yaml:"metrics_enabled,omitempty" json:"metrics_enabled,omitempty"`
}

// SetDefaults applies the documented defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Database.Backend == "" {
		c.Database.Backend = StorageBackendSQLite
	}
	if c.Database.DSN == "" && c.Database.Backend == StorageBackendSQLite {
		c.Database.DSN = "conduit.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 15
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.CheckoutTimeout == 0 {
		c.Database.CheckoutTimeout = 20
	}
	if c.Resources.PoolPrimary == 0 {
		c.Resources.PoolPrimary = 15
	}
	if c.Resources.PoolOverflow == 0 {
		c.Resources.PoolOverflow = 5
	}
	if c.Resources.PoolCheckoutTimeoutS == 0 {
		c.Resources.PoolCheckoutTimeoutS = 20
	}
	if c.Resources.MaxConcurrentHeavyTasks == 0 {
		c.Resources.MaxConcurrentHeavyTasks = 3
	}
	if c.Resources.RequestDeadlineS == 0 {
		c.Resources.RequestDeadlineS = 15 * 60
	}
	if c.Resources.StepDeadlineS == 0 {
		c.Resources.StepDeadlineS = 3 * 60
	}
	if c.Resources.MaxToolLoopIterations == 0 {
		c.Resources.MaxToolLoopIterations = 5
	}
	if c.Resources.MaxChainRecursion == 0 {
		c.Resources.MaxChainRecursion = 8
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "conduit"
	}
}

// Address returns the HTTP listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the server configuration for obvious misconfiguration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Database.Backend {
	case StorageBackendSQLite, StorageBackendPostgres:
	default:
		return fmt.Errorf("invalid database backend %q (valid: sqlite, postgres)", c.Database.Backend)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	return nil
}
