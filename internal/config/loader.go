package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     "127.0.0.1:0",
			LogLevel: "info",
		},
		Activity: ActivityConfig{
			Backend: "memory",
		},
	}
}

// Load reads the configuration file (explicit path or standard search
// locations), applies LATCH_* environment overrides, and validates the
// result. A missing file is not an error; defaults apply.
func Load(configFile string) (*Config, error) {
	cfg := Defaults()

	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile searches standard locations for latch.yaml or latch.yml.
// The explicit extension requirement keeps a `latch` binary in the working
// directory from matching.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".latch"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "latch"))
		}
	} else {
		paths = append(paths, "/etc/latch")
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "latch"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// applyEnvOverrides layers LATCH_* environment variables over the file.
// Example: LATCH_SERVER_ADDR overrides server.addr.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("LATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"server.addr",
		"server.log_level",
		"server.approval_timeout",
		"activity.backend",
		"activity.path",
	} {
		_ = v.BindEnv(key)
	}

	if val := v.GetString("server.addr"); val != "" {
		cfg.Server.Addr = val
	}
	if val := v.GetString("server.log_level"); val != "" {
		cfg.Server.LogLevel = val
	}
	if val := v.GetString("server.approval_timeout"); val != "" {
		cfg.Server.ApprovalTimeout = val
	}
	if val := v.GetString("activity.backend"); val != "" {
		cfg.Activity.Backend = val
	}
	if val := v.GetString("activity.path"); val != "" {
		cfg.Activity.Path = val
	}
}
