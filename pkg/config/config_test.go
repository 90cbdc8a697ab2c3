package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const credsJSON = `{"access_token":"ya29.local","refresh_token":"1//rt-local","expiry_date":1924992000000}`

// configFile writes a YAML document under a temp dir and returns its path.
func configFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

// secretFile writes secret material to disk for _file reference tests.
func secretFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}
	return path
}

// mustLoad runs a YAML document through the full load pipeline.
func mustLoad(t *testing.T, doc string) *Config {
	t.Helper()
	cfg, err := Load(configFile(t, doc))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	for _, tt := range []struct {
		field string
		got   any
		want  any
	}{
		{"server.port", cfg.Server.Port, 8080},
		{"server.read_timeout", cfg.Server.ReadTimeout, 30 * time.Second},
		{"server.write_timeout", cfg.Server.WriteTimeout, 300 * time.Second},
		{"upstream.base_url", cfg.Upstream.BaseURL, "https://cloudcode-pa.googleapis.com"},
		{"upstream.timeout", cfg.Upstream.Timeout, 120 * time.Second},
		{"cache.type", cfg.Cache.Type, "memory"},
		{"thinking.budget", cfg.Thinking.Budget, -1},
		{"auth.type", cfg.Auth.Type, "none"},
		{"dashboard.session_ttl", cfg.Dashboard.SessionTTL, 12 * time.Hour},
		{"dashboard.settings_file", cfg.Dashboard.SettingsFile, "settings.env"},
		{"observability.metrics.enabled", cfg.Observability.Metrics.Enabled, true},
		{"observability.metrics.path", cfg.Observability.Metrics.Path, "/metrics"},
		{"observability.debug.log_buffer_size", cfg.Observability.Debug.LogBufferSize, 500},
	} {
		if tt.got != tt.want {
			t.Errorf("default %s = %v, want %v", tt.field, tt.got, tt.want)
		}
	}
}

func TestLoadFullDocument(t *testing.T) {
	cfg := mustLoad(t, `
server:
  port: 9443
  read_timeout: 15s
  write_timeout: 240s
upstream:
  base_url: https://cloudcode.sandbox.invalid
  timeout: 45s
  project_id: gemlink-prod
credentials:
  json: '`+credsJSON+`'
cache:
  type: redis
  redis_url: redis://redis.internal:6380/1
thinking:
  fake: true
  stream_as_content: true
  budget: 8192
auth:
  type: apikey
  api_keys:
    - key: sk-team-ops
      subject: ops
    - key: sk-team-ci
      subject: ci
dashboard:
  enabled: true
  password: let-me-in
  session_secret: sign-here
  session_ttl: 2h
observability:
  metrics:
    path: /internal/metrics
  debug:
    enabled: true
    log_buffer_size: 50
`)

	if cfg.Server.Port != 9443 || cfg.Server.ReadTimeout != 15*time.Second || cfg.Server.WriteTimeout != 240*time.Second {
		t.Errorf("server = %+v, want port 9443, read 15s, write 240s", cfg.Server)
	}
	if cfg.Upstream.BaseURL != "https://cloudcode.sandbox.invalid" {
		t.Errorf("upstream.base_url = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.Timeout != 45*time.Second {
		t.Errorf("upstream.timeout = %v, want 45s", cfg.Upstream.Timeout)
	}
	if cfg.Upstream.ProjectID != "gemlink-prod" {
		t.Errorf("upstream.project_id = %q, want \"gemlink-prod\"", cfg.Upstream.ProjectID)
	}
	if cfg.Cache.Type != "redis" || cfg.Cache.RedisURL != "redis://redis.internal:6380/1" {
		t.Errorf("cache = %+v, want redis with internal URL", cfg.Cache)
	}
	if !cfg.Thinking.Fake || cfg.Thinking.Real || !cfg.Thinking.StreamAsContent {
		t.Errorf("thinking flags = %+v, want fake and stream_as_content only", cfg.Thinking)
	}
	if cfg.Thinking.Budget != 8192 {
		t.Errorf("thinking.budget = %d, want 8192", cfg.Thinking.Budget)
	}
	if cfg.Auth.Type != "apikey" || len(cfg.Auth.APIKeys) != 2 {
		t.Fatalf("auth = %+v, want apikey with 2 keys", cfg.Auth)
	}
	if cfg.Auth.APIKeys[1].Key != "sk-team-ci" || cfg.Auth.APIKeys[1].Subject != "ci" {
		t.Errorf("auth.api_keys[1] = %+v, want sk-team-ci/ci", cfg.Auth.APIKeys[1])
	}
	if cfg.Dashboard.SessionTTL != 2*time.Hour {
		t.Errorf("dashboard.session_ttl = %v, want 2h", cfg.Dashboard.SessionTTL)
	}
	if cfg.Observability.Metrics.Path != "/internal/metrics" {
		t.Errorf("observability.metrics.path = %q", cfg.Observability.Metrics.Path)
	}
	if !cfg.Observability.Debug.Enabled || cfg.Observability.Debug.LogBufferSize != 50 {
		t.Errorf("observability.debug = %+v, want enabled with buffer 50", cfg.Observability.Debug)
	}
}

func TestPartialDocumentKeepsDefaults(t *testing.T) {
	// Only a credential source is set; everything else must survive the merge.
	cfg := mustLoad(t, "credentials:\n  json: '"+credsJSON+"'\n")

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != "https://cloudcode-pa.googleapis.com" {
		t.Errorf("upstream.base_url = %q, want default", cfg.Upstream.BaseURL)
	}
	if cfg.Cache.Type != "memory" {
		t.Errorf("cache.type = %q, want default \"memory\"", cfg.Cache.Type)
	}
	if !cfg.Observability.Metrics.Enabled {
		t.Error("observability.metrics.enabled = false, want default true")
	}
}

func TestEnvOverrides(t *testing.T) {
	baseDoc := "credentials:\n  json: '" + credsJSON + "'\n"

	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "server and upstream",
			env: map[string]string{
				"GEMLINK_PORT":             "7070",
				"GEMLINK_UPSTREAM_URL":     "https://override.invalid",
				"GEMLINK_UPSTREAM_TIMEOUT": "90s",
				"GEMLINK_PROJECT_ID":       "env-project",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 7070 {
					t.Errorf("server.port = %d, want 7070", cfg.Server.Port)
				}
				if cfg.Upstream.BaseURL != "https://override.invalid" {
					t.Errorf("upstream.base_url = %q", cfg.Upstream.BaseURL)
				}
				if cfg.Upstream.Timeout != 90*time.Second {
					t.Errorf("upstream.timeout = %v, want 90s", cfg.Upstream.Timeout)
				}
				if cfg.Upstream.ProjectID != "env-project" {
					t.Errorf("upstream.project_id = %q, want \"env-project\"", cfg.Upstream.ProjectID)
				}
			},
		},
		{
			name: "redis url switches cache type",
			env:  map[string]string{"GEMLINK_REDIS_URL": "redis://env-redis:6379"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Cache.Type != "redis" {
					t.Errorf("cache.type = %q, want \"redis\"", cfg.Cache.Type)
				}
				if cfg.Cache.RedisURL != "redis://env-redis:6379" {
					t.Errorf("cache.redis_url = %q", cfg.Cache.RedisURL)
				}
			},
		},
		{
			name: "thinking flags and budget",
			env: map[string]string{
				"GEMLINK_REAL_THINKING":   "yes",
				"GEMLINK_THINKING_BUDGET": "1024",
			},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Thinking.Real {
					t.Error("thinking.real = false, want true")
				}
				if cfg.Thinking.Budget != 1024 {
					t.Errorf("thinking.budget = %d, want 1024", cfg.Thinking.Budget)
				}
			},
		},
		{
			name: "single api key enables apikey auth",
			env:  map[string]string{"GEMLINK_API_KEY": "sk-env-only"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Auth.Type != "apikey" {
					t.Errorf("auth.type = %q, want \"apikey\"", cfg.Auth.Type)
				}
				if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Key != "sk-env-only" {
					t.Errorf("auth.api_keys = %+v, want single sk-env-only entry", cfg.Auth.APIKeys)
				}
			},
		},
		{
			name: "api key list as json",
			env:  map[string]string{"GEMLINK_API_KEYS": `[{"key":"sk-a","subject":"svc-a"},{"key":"sk-b","subject":"svc-b"}]`},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Auth.Type != "apikey" {
					t.Errorf("auth.type = %q, want \"apikey\"", cfg.Auth.Type)
				}
				if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[1].Subject != "svc-b" {
					t.Errorf("auth.api_keys = %+v, want 2 entries ending with svc-b", cfg.Auth.APIKeys)
				}
			},
		},
		{
			name: "dashboard password enables dashboard",
			env: map[string]string{
				"GEMLINK_DASHBOARD_PASSWORD": "env-pass",
				"GEMLINK_DASHBOARD_SECRET":   "env-secret",
			},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Dashboard.Enabled {
					t.Error("dashboard.enabled = false, want true")
				}
				if cfg.Dashboard.Password != "env-pass" || cfg.Dashboard.SessionSecret != "env-secret" {
					t.Errorf("dashboard credentials not taken from environment: %+v", cfg.Dashboard)
				}
			},
		},
		{
			name: "debug flag",
			env:  map[string]string{"GEMLINK_DEBUG": "1"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Observability.Debug.Enabled {
					t.Error("observability.debug.enabled = false, want true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tt.check(t, mustLoad(t, baseDoc))
		})
	}
}

func TestConfigDiscoveryViaEnv(t *testing.T) {
	path := configFile(t, `
server:
  port: 9191
credentials:
  json: '`+credsJSON+`'
`)
	t.Setenv("GEMLINK_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("server.port = %d, want 9191 from GEMLINK_CONFIG file", cfg.Server.Port)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("GEMLINK_CONFIG", configFile(t, "{}\n"))
	t.Setenv("GEMLINK_CREDENTIALS", credsJSON)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Credentials.JSON != credsJSON {
		t.Errorf("credentials.json = %q, want env value", cfg.Credentials.JSON)
	}
}

func TestSecretFileReferences(t *testing.T) {
	urlFile := secretFile(t, "  redis://from-file:6379  \n")
	keyFile := secretFile(t, "sk-from-file\n")
	passFile := secretFile(t, "hunter2\n")
	signFile := secretFile(t, "jwt-signing-secret\n")

	cfg := mustLoad(t, `
credentials:
  json: '`+credsJSON+`'
cache:
  type: redis
  redis_url_file: `+urlFile+`
auth:
  type: apikey
  api_keys:
    - key_file: `+keyFile+`
      subject: file-user
dashboard:
  enabled: true
  password_file: `+passFile+`
  session_secret_file: `+signFile+`
`)

	// Surrounding whitespace is trimmed on every resolved reference.
	if cfg.Cache.RedisURL != "redis://from-file:6379" {
		t.Errorf("cache.redis_url = %q, want trimmed file content", cfg.Cache.RedisURL)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Key != "sk-from-file" {
		t.Errorf("auth.api_keys = %+v, want single key from file", cfg.Auth.APIKeys)
	}
	if cfg.Dashboard.Password != "hunter2" {
		t.Errorf("dashboard.password = %q, want file content", cfg.Dashboard.Password)
	}
	if cfg.Dashboard.SessionSecret != "jwt-signing-secret" {
		t.Errorf("dashboard.session_secret = %q, want file content", cfg.Dashboard.SessionSecret)
	}
}

func TestExplicitValueWinsOverSecretFile(t *testing.T) {
	urlFile := secretFile(t, "redis://from-file:6379")

	cfg := mustLoad(t, `
credentials:
  json: '`+credsJSON+`'
cache:
  type: redis
  redis_url: redis://explicit:6379
  redis_url_file: `+urlFile+`
`)

	if cfg.Cache.RedisURL != "redis://explicit:6379" {
		t.Errorf("cache.redis_url = %q, want explicit value over file reference", cfg.Cache.RedisURL)
	}
}

func TestValidate(t *testing.T) {
	withCreds := func(mutate func(*Config)) func(*Config) {
		return func(c *Config) {
			c.Credentials.JSON = credsJSON
			mutate(c)
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "complete config passes",
			mutate: withCreds(func(c *Config) {}),
		},
		{
			name:    "no credential source",
			mutate:  func(c *Config) {},
			wantErr: "credentials.json or credentials.file is required",
		},
		{
			name:    "zero port",
			mutate:  withCreds(func(c *Config) { c.Server.Port = 0 }),
			wantErr: "server.port must be > 0",
		},
		{
			name:    "empty upstream url",
			mutate:  withCreds(func(c *Config) { c.Upstream.BaseURL = "" }),
			wantErr: "upstream.base_url is required",
		},
		{
			name:    "unknown cache backend",
			mutate:  withCreds(func(c *Config) { c.Cache.Type = "memcached" }),
			wantErr: "cache.type must be",
		},
		{
			name:    "redis cache needs a url",
			mutate:  withCreds(func(c *Config) { c.Cache.Type = "redis" }),
			wantErr: "cache.redis_url",
		},
		{
			name:    "unknown auth type",
			mutate:  withCreds(func(c *Config) { c.Auth.Type = "oauth2" }),
			wantErr: "auth.type must be",
		},
		{
			name:    "apikey auth needs keys",
			mutate:  withCreds(func(c *Config) { c.Auth.Type = "apikey" }),
			wantErr: "auth.api_keys must not be empty",
		},
		{
			name: "dashboard needs a password",
			mutate: withCreds(func(c *Config) {
				c.Dashboard.Enabled = true
				c.Dashboard.SessionSecret = "s"
			}),
			wantErr: "dashboard.password",
		},
		{
			name: "dashboard needs a session secret",
			mutate: withCreds(func(c *Config) {
				c.Dashboard.Enabled = true
				c.Dashboard.Password = "p"
			}),
			wantErr: "dashboard.session_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
