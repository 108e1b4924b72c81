// Package config provides configuration loading for OnGarde.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches standard locations for
// config.yaml/.yml. An explicit ONGARDE_CONFIG environment variable (or the
// configFile argument, which takes precedence) names the file directly.
func InitViper(configFile string) {
	if configFile == "" {
		configFile = os.Getenv("ONGARDE_CONFIG")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(StateDir()))
	}

	// ONGARDE_SCANNER_MODE overrides scanner.mode, etc.
	viper.SetEnvPrefix("ONGARDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches the current directory and the OnGarde state
// directory for config.yaml or config.yml.
func findConfigFile() string {
	paths := []string{".", StateDir()}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "config"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the config keys that are commonly overridden via
// environment variables. Map and slice fields (upstream, scanner.custom_rules)
// are left to the config file; Viper's env parsing for nested collections is
// not worth the surprise.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("proxy.host")
	_ = viper.BindEnv("proxy.port", "ONGARDE_PORT")
	_ = viper.BindEnv("scanner.mode")
	_ = viper.BindEnv("scanner.custom_rules_enabled")
	_ = viper.BindEnv("audit.path")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("strict_mode")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. Call InitViper first.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path of the config file that was loaded, or
// an empty string if none was found (environment-variable-only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// AuthRequired reports whether API key authentication is required for
// proxied requests (spec.md §6, ONGARDE_AUTH_REQUIRED, default true).
func AuthRequired() bool {
	if v := os.Getenv("ONGARDE_AUTH_REQUIRED"); v != "" {
		return v != "false" && v != "0"
	}
	return true
}
