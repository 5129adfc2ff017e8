package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading, env expansion, secret resolution and validation.
type Loader struct {
	envPattern *regexp.Regexp
	secrets    *SecretRegistry
}

// NewLoader creates a Loader with the env and file secret providers registered.
func NewLoader() *Loader {
	registry := NewSecretRegistry()
	registry.Register(&EnvProvider{})
	registry.Register(&FileProvider{})
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		secrets:    registry,
	}
}

// WithSecretRegistry swaps in a custom registry, e.g. to restrict FileProvider prefixes.
func (l *Loader) WithSecretRegistry(r *SecretRegistry) *Loader {
	l.secrets = r
	return l
}

// Load reads and parses a configuration file from disk.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes: env-expand, defaults-merge, unmarshal,
// secret-resolve, then validate.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.UnmarshalWithOptions([]byte(expanded), cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := resolveSecretRefs(cfg, l.secrets, context.Background()); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values. Unset
// variables are left untouched so a later ${scheme:ref} secret reference
// (which uses the same ${...} syntax but a lowercase scheme prefix) is never
// mistaken for an unexpanded env var.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
