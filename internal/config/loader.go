package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"limitgate/pkg/errors"
)

// Loader loads configuration from file
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a config loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true,
	}
}

// WithEnvVars enables or disables environment variable overrides
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Load reads, overrides and validates the configuration
func (l *Loader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").WithCause(err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse config").WithCause(err)
	}

	if l.envEnabled {
		if err := LoadEnv(&cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load env vars").WithCause(err)
		}
	}

	if err := l.validate(&cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "invalid configuration").WithCause(err)
	}

	return &cfg, nil
}

// validate checks required fields and cross-field consistency
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	if cfg.Auth.SigningMethod == "" {
		cfg.Auth.SigningMethod = "HS256"
	}
	switch {
	case strings.HasPrefix(cfg.Auth.SigningMethod, "HS"):
		if cfg.Auth.Secret == "" {
			return fmt.Errorf("auth secret is required for %s", cfg.Auth.SigningMethod)
		}
	case strings.HasPrefix(cfg.Auth.SigningMethod, "RS"):
		if cfg.Auth.PublicKey == "" {
			return fmt.Errorf("auth public key is required for %s", cfg.Auth.SigningMethod)
		}
	default:
		return fmt.Errorf("unsupported signing method: %s", cfg.Auth.SigningMethod)
	}

	if len(cfg.Limits.Classes) == 0 {
		return fmt.Errorf("at least one rate-limit class is required")
	}
	seen := make(map[string]bool)
	for i, class := range cfg.Limits.Classes {
		if class.Name == "" {
			return fmt.Errorf("limit class %d: name is required", i)
		}
		if seen[class.Name] {
			return fmt.Errorf("limit class %q: duplicate name", class.Name)
		}
		seen[class.Name] = true
		if class.MaxRequests <= 0 {
			return fmt.Errorf("limit class %q: maxRequests must be positive", class.Name)
		}
		if class.WindowMinutes <= 0 {
			return fmt.Errorf("limit class %q: windowMinutes must be positive", class.Name)
		}
		if class.KeyBy != "user" && class.KeyBy != "ip" {
			return fmt.Errorf("limit class %q: keyBy must be \"user\" or \"ip\"", class.Name)
		}
	}

	if len(cfg.Plans) == 0 {
		return fmt.Errorf("at least one plan is required")
	}
	plans := make(map[string]bool)
	for i, plan := range cfg.Plans {
		if plan.Plan == "" {
			return fmt.Errorf("plan %d: name is required", i)
		}
		if plans[plan.Plan] {
			return fmt.Errorf("plan %q: duplicate name", plan.Plan)
		}
		plans[plan.Plan] = true
	}
	if !plans["free"] {
		return fmt.Errorf("a \"free\" plan is required")
	}

	return nil
}
