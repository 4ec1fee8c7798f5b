package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (HUBSPOT_TOKEN, NLU_API_KEY, EMAIL_SMTP_SERVER, ...)
//  2. YAML config file (~/.config/crmflow/config.yaml)
//  3. Hardcoded defaults
//
// A .env file in the working directory is loaded into the environment
// first, so local development can keep credentials out of the shell.
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path ~/.config/crmflow/config.yaml is used.
//
// # Security Considerations
//
// File Permissions: the configuration file must have 0600 or 0400
// permissions. World-readable files are rejected because the file may
// carry API tokens and SMTP passwords.
//
// Path Validation: only configuration files under ~/.config/crmflow/ or
// /etc/crmflow/ can be loaded. Paths outside these directories are
// rejected to prevent path traversal.
//
// File Size Limit: files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// Environment variables are lowercased and split on the first underscore
// into section and field:
//
//	HUBSPOT_TOKEN      -> hubspot.token
//	NLU_API_KEY        -> nlu.api_key
//	EMAIL_SMTP_SERVER  -> email.smtp_server
//	SERVER_PORT        -> server.port
func Load(configPath string) (*Config, error) {
	// Missing .env files are the normal case outside development.
	_ = godotenv.Load()

	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "crmflow", "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open the file once and validate through the descriptor to avoid
		// a TOCTOU race between the stat and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables are split on the first underscore only, so
	// EMAIL_SMTP_SERVER maps to email.smtp_server.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the crmflow config directory if it doesn't
// exist, with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "crmflow")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot escape the allowed directories.
	// Paths that don't exist yet validate against the literal path.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "crmflow"),
		"/etc/crmflow",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			allowed = true
			break
		}
	}

	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/crmflow/ or /etc/crmflow/")
	}

	return nil
}

// validateConfigFileProperties checks file permissions and size. Takes
// FileInfo from an already-opened file descriptor to avoid a TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
