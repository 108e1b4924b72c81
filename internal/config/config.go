// Package config provides configuration types for OnGarde.
//
// Configuration is loaded once at startup from config.yaml (or ONGARDE_*
// environment variables) into an immutable in-memory record; nothing in
// this package is mutated after LoadConfig returns (spec.md §2's "Config
// is loaded once and shared read-only; mutation requires restart").
package config

import (
	"os"
)

// Config is the top-level OnGarde configuration.
type Config struct {
	// Version is the config schema version, currently "1".
	Version string `yaml:"version" mapstructure:"version" validate:"required"`

	// Upstream maps a provider name (e.g. "openai", "anthropic") to its
	// HTTPS base URL. Request paths are mapped to a provider by the proxy
	// engine's routing table, not by this config (spec.md §2 step 3).
	Upstream map[string]string `yaml:"upstream" mapstructure:"upstream" validate:"required,min=1,dive,upstream_url"`

	// Credentials maps a provider name to the real API credential OnGarde
	// dispatches upstream with. The client's own Authorization header (or
	// X-OnGarde-Key fallback) is never forwarded; the proxy engine replaces
	// it with Credentials[provider] before dispatch (spec.md §4.1 step 5,
	// §6: "Authorization headers are replaced with the configured provider
	// credentials"). A provider with no entry here is dispatched with no
	// Authorization header at all, rather than leaking the caller's key.
	Credentials map[string]string `yaml:"credentials" mapstructure:"credentials" validate:"omitempty,dive,required"`

	// Proxy configures the listener.
	Proxy ProxyConfig `yaml:"proxy" mapstructure:"proxy"`

	// Scanner configures the scan engine.
	Scanner ScannerConfig `yaml:"scanner" mapstructure:"scanner"`

	// Audit configures the embedded audit store.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// StrictMode is a reserved flag (spec.md §6). When true, a single
	// startup warning is logged; it changes no other behavior.
	StrictMode bool `yaml:"strict_mode" mapstructure:"strict_mode"`

	// DevMode enables verbose logging and relaxes the bootstrap-key gate.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ProxyConfig configures the HTTP listener.
type ProxyConfig struct {
	// Host is the bind address. Defaults to "127.0.0.1" (localhost only).
	Host string `yaml:"host" mapstructure:"host" validate:"omitempty,hostname|ip"`

	// Port is the listen port. Defaults to 4242.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// ScannerConfig configures the request/response scan engine.
type ScannerConfig struct {
	// Mode selects the rule set: "full" runs regex + NLP passes; "lite"
	// runs the regex fast path only. Defaults to "full".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=full lite"`

	// CustomRulesEnabled gates the CEL-based custom rule evaluator. Default
	// false, so the hot path matches spec.md's numeric invariants when unused.
	CustomRulesEnabled bool `yaml:"custom_rules_enabled" mapstructure:"custom_rules_enabled"`

	// CustomRules is the operator-supplied set of CEL escalation rules,
	// compiled once at startup. Each can only escalate PASS to BLOCK.
	CustomRules []CustomRuleConfig `yaml:"custom_rules" mapstructure:"custom_rules" validate:"omitempty,dive"`
}

// CustomRuleConfig defines one CEL-based escalation rule.
type CustomRuleConfig struct {
	// RuleID identifies this rule in audit records.
	RuleID string `yaml:"rule_id" mapstructure:"rule_id" validate:"required"`

	// Category is a free-form label surfaced alongside rule_id.
	Category string `yaml:"category" mapstructure:"category" validate:"required"`

	// Expression is the CEL condition. Variables available: rule_id,
	// category, risk_level, upstream, roles, is_test.
	Expression string `yaml:"expression" mapstructure:"expression" validate:"required"`
}

// AuditConfig configures the embedded SQL audit store and its bounded
// async writer.
type AuditConfig struct {
	// Path is the sqlite database file path. Defaults to ~/.ongarde/audit.db.
	Path string `yaml:"path" mapstructure:"path"`

	// RetentionDays is how long audit records are kept before pruning.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// ChannelSize is the bounded audit channel's buffer capacity.
	// Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records batched per write. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is the maximum time between flushes (e.g. "1s").
	// Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval"`

	// SendTimeout bounds how long a record send blocks when the channel is
	// full before being dropped (e.g. "100ms", "0"). Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout"`

	// WarningThreshold is the channel-depth percentage (0-100) at which a
	// rate-limited warning is logged. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// RemoteWebhookURL, when set, enables the best-effort httpremote audit
	// sink alongside the primary embedded store. Never blocks the primary
	// writer.
	RemoteWebhookURL string `yaml:"remote_webhook_url" mapstructure:"remote_webhook_url" validate:"omitempty,url"`
}

// SetDefaults applies the documented defaults to zero-valued fields. Called
// after Unmarshal and before Validate.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Proxy.Host == "" {
		c.Proxy.Host = "127.0.0.1"
	}
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 4242
	}
	if c.Scanner.Mode == "" {
		c.Scanner.Mode = "full"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = defaultAuditPath()
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
}

// defaultAuditPath returns ~/.ongarde/audit.db, honoring ONGARDE_HOME when
// set (test/override hook per spec.md §6).
func defaultAuditPath() string {
	return StateDir() + "/audit.db"
}

// StateDir returns the OnGarde state directory: ONGARDE_HOME when set
// (spec.md §6, used by tests to avoid touching a real home directory),
// otherwise $HOME/.ongarde.
func StateDir() string {
	if h := os.Getenv("ONGARDE_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ongarde"
	}
	return home + "/.ongarde"
}
