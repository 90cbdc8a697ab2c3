// Package config provides unified configuration for the gemlink gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (GEMLINK_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the gemlink gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Cache         CacheConfig         `yaml:"cache"`
	Thinking      ThinkingConfig      `yaml:"thinking"`
	Auth          AuthConfig          `yaml:"auth"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 300s
}

// UpstreamConfig holds Code Assist API settings.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"`   // default: https://cloudcode-pa.googleapis.com
	Timeout   time.Duration `yaml:"timeout"`    // non-streaming calls, default: 120s
	ProjectID string        `yaml:"project_id"` // optional, skips discovery when set
}

// CredentialsConfig holds the Google OAuth credential source.
// Exactly one of JSON or File should be provided.
type CredentialsConfig struct {
	JSON string `yaml:"json"` // inline oauth_creds.json content
	File string `yaml:"file"` // path to an oauth_creds.json file
}

// CacheConfig holds shared token cache settings.
type CacheConfig struct {
	Type         string `yaml:"type"`           // "memory" or "redis", default: "memory"
	RedisURL     string `yaml:"redis_url"`      // required for type=redis
	RedisURLFile string `yaml:"redis_url_file"` // _file variant for redis_url
}

// ThinkingConfig holds thinking-output behavior flags.
type ThinkingConfig struct {
	Fake            bool `yaml:"fake"`              // default: false
	Real            bool `yaml:"real"`              // default: false
	StreamAsContent bool `yaml:"stream_as_content"` // default: false
	Budget          int  `yaml:"budget"`            // thinking token budget, default: -1 (model decides)
}

// AuthConfig holds caller authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none" or "apikey", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"` // _file variant for key
	Subject string `yaml:"subject"`
}

// DashboardConfig holds dashboard endpoint settings.
type DashboardConfig struct {
	Enabled           bool          `yaml:"enabled"`             // default: false
	Password          string        `yaml:"password"`            // login password
	PasswordFile      string        `yaml:"password_file"`       // _file variant for password
	SessionSecret     string        `yaml:"session_secret"`      // JWT signing secret
	SessionSecretFile string        `yaml:"session_secret_file"` // _file variant for session_secret
	SessionTTL        time.Duration `yaml:"session_ttl"`         // default: 12h
	SettingsFile      string        `yaml:"settings_file"`       // default: settings.env
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Debug   DebugConfig   `yaml:"debug"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// DebugConfig holds debug endpoint settings.
type DebugConfig struct {
	Enabled       bool `yaml:"enabled"`         // default: false
	LogBufferSize int  `yaml:"log_buffer_size"` // default: 500
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://cloudcode-pa.googleapis.com",
			Timeout: 120 * time.Second,
		},
		Cache: CacheConfig{
			Type: "memory",
		},
		Thinking: ThinkingConfig{
			Budget: -1,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Dashboard: DashboardConfig{
			SessionTTL:   12 * time.Hour,
			SettingsFile: "settings.env",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Debug: DebugConfig{
				LogBufferSize: 500,
			},
		},
	}
}
