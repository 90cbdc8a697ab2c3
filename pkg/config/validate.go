package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Upstream.BaseURL == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url is required"))
	}

	// A credential source is required; the gateway cannot mint tokens without one.
	if c.Credentials.JSON == "" && c.Credentials.File == "" {
		errs = append(errs, fmt.Errorf("credentials.json or credentials.file is required"))
	}

	switch c.Cache.Type {
	case "memory", "redis":
		// valid
	default:
		errs = append(errs, fmt.Errorf("cache.type must be \"memory\" or \"redis\", got %q", c.Cache.Type))
	}

	if c.Cache.Type == "redis" && c.Cache.RedisURL == "" {
		errs = append(errs, fmt.Errorf("cache.redis_url or cache.redis_url_file is required when cache.type is \"redis\""))
	}

	switch c.Auth.Type {
	case "none", "apikey":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\" or \"apikey\", got %q", c.Auth.Type))
	}

	if c.Auth.Type == "apikey" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
	}

	if c.Dashboard.Enabled {
		if c.Dashboard.Password == "" {
			errs = append(errs, fmt.Errorf("dashboard.password or dashboard.password_file is required when dashboard.enabled is true"))
		}
		if c.Dashboard.SessionSecret == "" {
			errs = append(errs, fmt.Errorf("dashboard.session_secret or dashboard.session_secret_file is required when dashboard.enabled is true"))
		}
	}

	return errors.Join(errs...)
}
