package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader layers a YAML config file, a .env bootstrap, and confmap
// defaults into one koanf tree.
type Loader struct {
	path string
}

// NewLoader builds a Loader for the YAML document at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads .env (if present, without overriding already-set env vars),
// loads the YAML file over a confmap of defaults, expands ${VAR} /
// ${VAR:-default} / $VAR references against the process environment,
// and unmarshals into a *Config with SetDefaults applied.
func (l *Loader) Load() (*Config, error) {
	_ = godotenv.Load() // best-effort; local/dev convenience only

	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.host": "0.0.0.0",
		"server.port": 8080,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return nil, fmt.Errorf("config: stat %s: %w", l.path, err)
		}
		if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", l.path, err)
		}
	}

	expanded, err := expandEnvInKoanf(k)
	if err != nil {
		return nil, fmt.Errorf("config: expand env vars: %w", err)
	}
	k = expanded

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// expandEnvInKoanf walks the raw config tree expanding $VAR-style
// references in every string leaf, then reloads the expanded tree back
// into k.
func expandEnvInKoanf(k *koanf.Koanf) (*koanf.Koanf, error) {
	expanded := expandEnvVarsInValue(k.Raw())
	m, ok := expanded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type after env expansion: %T", expanded)
	}
	fresh := koanf.New(".")
	if err := fresh.Load(confmap.Provider(m, "."), nil); err != nil {
		return nil, err
	}
	return fresh, nil
}

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	envSimple      = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

func expandEnvVarsInValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = expandEnvVarsInValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = expandEnvVarsInValue(val)
		}
		return out
	case string:
		return expandEnvVarsInString(t)
	default:
		return v
	}
}

func expandEnvVarsInString(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(parts[1]); ok && val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	s = envSimple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envSimple.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}
