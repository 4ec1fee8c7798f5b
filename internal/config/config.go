// Package config provides configuration loading for crmflow.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Each section maps onto the component it configures.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the complete crmflow configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	NLU       NLUConfig       `koanf:"nlu"`
	HubSpot   HubSpotConfig   `koanf:"hubspot"`
	Email     EmailConfig     `koanf:"email"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Server    ServerConfig    `koanf:"server"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// NLUConfig holds the language model settings for intent resolution.
type NLUConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// HubSpotConfig holds the CRM provider settings.
type HubSpotConfig struct {
	Token             Secret   `koanf:"token"`
	BaseURL           string   `koanf:"base_url"`
	DealStage         string   `koanf:"deal_stage"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// EmailConfig holds the SMTP notification settings.
type EmailConfig struct {
	SMTPServer string `koanf:"smtp_server"`
	SMTPPort   int    `koanf:"smtp_port"`
	Username   string `koanf:"username"`
	Password   Secret `koanf:"password"`
	From       string `koanf:"from"`
	Recipient  string `koanf:"recipient"`
}

// WorkflowConfig holds retry and timeout settings for run execution.
type WorkflowConfig struct {
	MaxAttempts       int      `koanf:"max_attempts"`
	InitialBackoff    Duration `koanf:"initial_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	BackoffMultiplier float64  `koanf:"backoff_multiplier"`
	CallTimeout       Duration `koanf:"call_timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Validate checks cross-cutting constraints. Component-specific
// validation happens when each component is constructed.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("workflow max_attempts must be at least 1, got %d", c.Workflow.MaxAttempts)
	}
	if c.Workflow.BackoffMultiplier < 1 {
		return fmt.Errorf("workflow backoff_multiplier must be at least 1, got %v", c.Workflow.BackoffMultiplier)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry service_name required when telemetry is enabled")
	}
	return nil
}

// NLUConfigured reports whether a usable language model credential is set.
// Placeholder values from a template config file do not count.
func (c *Config) NLUConfigured() bool {
	return c.NLU.APIKey.IsSet() && !placeholder(c.NLU.APIKey.Value())
}

// HubSpotConfigured reports whether a usable CRM credential is set.
func (c *Config) HubSpotConfigured() bool {
	return c.HubSpot.Token.IsSet() && !placeholder(c.HubSpot.Token.Value())
}

// EmailConfigured reports whether SMTP delivery is fully configured.
func (c *Config) EmailConfigured() bool {
	return c.Email.Username != "" && !placeholder(c.Email.Username) &&
		c.Email.Password.IsSet() && !placeholder(c.Email.Password.Value())
}

// placeholder matches the "your-..." values shipped in template configs.
func placeholder(v string) bool {
	return strings.HasPrefix(v, "your-")
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "crmflow"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.NLU.Provider == "" {
		cfg.NLU.Provider = "googleai"
	}

	if cfg.Workflow.MaxAttempts == 0 {
		cfg.Workflow.MaxAttempts = 3
	}
	if cfg.Workflow.InitialBackoff == 0 {
		cfg.Workflow.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Workflow.MaxBackoff == 0 {
		cfg.Workflow.MaxBackoff = Duration(30 * time.Second)
	}
	if cfg.Workflow.BackoffMultiplier == 0 {
		cfg.Workflow.BackoffMultiplier = 2.0
	}
	if cfg.Workflow.CallTimeout == 0 {
		cfg.Workflow.CallTimeout = Duration(15 * time.Second)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
}
