package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, GEMLINK_CONFIG env, ./config.yaml, /etc/gemlink/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. GEMLINK_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/gemlink/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("GEMLINK_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/gemlink/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps GEMLINK_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEMLINK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GEMLINK_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("GEMLINK_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.Timeout = d
		}
	}
	if v := os.Getenv("GEMLINK_PROJECT_ID"); v != "" {
		cfg.Upstream.ProjectID = v
	}
	if v := os.Getenv("GEMLINK_CREDENTIALS"); v != "" {
		cfg.Credentials.JSON = v
	}
	if v := os.Getenv("GEMLINK_CREDENTIALS_FILE"); v != "" {
		cfg.Credentials.File = v
	}
	if v := os.Getenv("GEMLINK_CACHE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("GEMLINK_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
		cfg.Cache.Type = "redis"
	}
	if v := os.Getenv("GEMLINK_FAKE_THINKING"); v != "" {
		cfg.Thinking.Fake = parseBool(v)
	}
	if v := os.Getenv("GEMLINK_REAL_THINKING"); v != "" {
		cfg.Thinking.Real = parseBool(v)
	}
	if v := os.Getenv("GEMLINK_STREAM_THINKING_AS_CONTENT"); v != "" {
		cfg.Thinking.StreamAsContent = parseBool(v)
	}
	if v := os.Getenv("GEMLINK_THINKING_BUDGET"); v != "" {
		if budget, err := strconv.Atoi(v); err == nil {
			cfg.Thinking.Budget = budget
		}
	}
	if v := os.Getenv("GEMLINK_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}

	// GEMLINK_API_KEY: single-key shortcut, implies auth.type=apikey.
	if v := os.Getenv("GEMLINK_API_KEY"); v != "" {
		cfg.Auth.Type = "apikey"
		cfg.Auth.APIKeys = []APIKeyConfig{{Key: v, Subject: "default"}}
	}

	// GEMLINK_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("GEMLINK_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.Type = "apikey"
			cfg.Auth.APIKeys = keys
		}
	}

	if v := os.Getenv("GEMLINK_DASHBOARD_PASSWORD"); v != "" {
		cfg.Dashboard.Enabled = true
		cfg.Dashboard.Password = v
	}
	if v := os.Getenv("GEMLINK_DASHBOARD_SECRET"); v != "" {
		cfg.Dashboard.SessionSecret = v
	}
	if v := os.Getenv("GEMLINK_SETTINGS_FILE"); v != "" {
		cfg.Dashboard.SettingsFile = v
	}
	if v := os.Getenv("GEMLINK_DEBUG"); v != "" {
		cfg.Observability.Debug.Enabled = parseBool(v)
	}
}

// parseBool accepts the usual truthy spellings; anything else is false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// cache.redis_url_file -> cache.redis_url
	if cfg.Cache.RedisURLFile != "" && cfg.Cache.RedisURL == "" {
		val, err := readSecretFile(cfg.Cache.RedisURLFile)
		if err != nil {
			return fmt.Errorf("cache.redis_url_file: %w", err)
		}
		cfg.Cache.RedisURL = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	// dashboard.password_file -> dashboard.password
	if cfg.Dashboard.PasswordFile != "" && cfg.Dashboard.Password == "" {
		val, err := readSecretFile(cfg.Dashboard.PasswordFile)
		if err != nil {
			return fmt.Errorf("dashboard.password_file: %w", err)
		}
		cfg.Dashboard.Password = val
	}

	// dashboard.session_secret_file -> dashboard.session_secret
	if cfg.Dashboard.SessionSecretFile != "" && cfg.Dashboard.SessionSecret == "" {
		val, err := readSecretFile(cfg.Dashboard.SessionSecretFile)
		if err != nil {
			return fmt.Errorf("dashboard.session_secret_file: %w", err)
		}
		cfg.Dashboard.SessionSecret = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
