// Package config provides configuration loading for latch.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/latch-sh/latch/internal/domain/policy"
)

// Config is the root latch configuration, loaded from latch.yaml plus
// LATCH_* environment overrides.
type Config struct {
	// Server configures the loopback authorization endpoint.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Activity configures the decision log store.
	Activity ActivityConfig `yaml:"activity" mapstructure:"activity"`

	// Settings seeds user preferences, e.g. auto-accept.
	Settings map[string]string `yaml:"settings" mapstructure:"settings"`

	// Secrets seeds the in-memory vault used by /secrets/resolve.
	// Values here are local to the user's machine.
	Secrets map[string]string `yaml:"secrets" mapstructure:"secrets"`

	// Policies are seeded into the policy store at startup.
	Policies []policy.Document `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`
}

// ServerConfig configures the loopback HTTP server.
type ServerConfig struct {
	// Addr is the listen address. Must stay on loopback; the default
	// "127.0.0.1:0" picks an ephemeral port.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port,loopback_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ApprovalTimeout bounds how long a prompt stays parked, e.g. "120s".
	ApprovalTimeout string `yaml:"approval_timeout" mapstructure:"approval_timeout" validate:"omitempty"`
}

// ActivityConfig selects and sizes the decision log store.
type ActivityConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// Path is the SQLite database file, required for the sqlite backend.
	Path string `yaml:"path" mapstructure:"path"`

	// Capacity bounds the memory backend's ring.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,gte=0"`
}

// ApprovalTimeoutDuration parses the approval timeout, returning zero when
// unset so callers fall back to the coordinator default.
func (c *Config) ApprovalTimeoutDuration() (time.Duration, error) {
	if c.Server.ApprovalTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Server.ApprovalTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid approval_timeout %q: %w", c.Server.ApprovalTimeout, err)
	}
	return d, nil
}

// Validate checks the configuration using struct tags plus cross-field
// rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("loopback_addr", validateLoopbackAddr); err != nil {
		return fmt.Errorf("registering loopback_addr validator: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if c.Activity.Backend == "sqlite" && c.Activity.Path == "" {
		return fmt.Errorf("activity.path is required when activity.backend is sqlite")
	}
	if _, err := c.ApprovalTimeoutDuration(); err != nil {
		return err
	}
	for i := range c.Policies {
		if c.Policies[i].ID == "" {
			return fmt.Errorf("policies[%d]: id is required", i)
		}
	}
	return nil
}

// validateLoopbackAddr rejects listen addresses that would expose the
// authorization server beyond the local machine.
func validateLoopbackAddr(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if addr == "" {
		return true
	}
	return strings.HasPrefix(addr, "127.") || strings.HasPrefix(addr, "localhost:") ||
		strings.HasPrefix(addr, "[::1]:")
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
