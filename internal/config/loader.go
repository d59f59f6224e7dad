package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and the
// documented environment variables. If configFile is empty, it searches
// for superfetch.yaml/.yml in standard locations. The search requires
// an explicit YAML extension so the binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("superfetch")
		viper.SetConfigType("yaml")
	}

	bindEnvKeys()
}

// findConfigFile searches standard locations for a superfetch config
// file with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".superfetch"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "superfetch"))
		}
	} else {
		paths = append(paths, "/etc/superfetch")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for
// superfetch.yaml or .yml. Returns the first match, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "superfetch"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds every config key to its documented environment
// variable. The names are contracts; no prefix is applied.
func bindEnvKeys() {
	_ = viper.BindEnv("server.host", "HOST")
	_ = viper.BindEnv("server.port", "PORT")
	_ = viper.BindEnv("server.allow_remote", "ALLOW_REMOTE")
	_ = viper.BindEnv("server.allowed_hosts", "ALLOWED_HOSTS")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")

	_ = viper.BindEnv("auth.mode", "AUTH_MODE")
	_ = viper.BindEnv("auth.access_tokens", "ACCESS_TOKENS")
	_ = viper.BindEnv("auth.api_key", "API_KEY")
	_ = viper.BindEnv("auth.required_scopes", "REQUIRED_SCOPES")
	_ = viper.BindEnv("auth.oauth.introspection_url", "OAUTH_INTROSPECTION_URL")
	_ = viper.BindEnv("auth.oauth.client_id", "OAUTH_CLIENT_ID")
	_ = viper.BindEnv("auth.oauth.client_secret", "OAUTH_CLIENT_SECRET")
	_ = viper.BindEnv("auth.oauth.timeout_ms", "OAUTH_TIMEOUT_MS")
	_ = viper.BindEnv("auth.oauth.resource_url", "OAUTH_RESOURCE_URL")

	_ = viper.BindEnv("fetch.user_agent", "USER_AGENT")
	_ = viper.BindEnv("fetch.url_policy", "URL_POLICY")

	_ = viper.BindEnv("transform.timeout_ms", "TRANSFORM_TIMEOUT_MS")
	_ = viper.BindEnv("transform.max_concurrent", "MAX_CONCURRENT_TRANSFORMS")
	_ = viper.BindEnv("transform.max_inline_chars", "MAX_INLINE_CHARS")

	_ = viper.BindEnv("cache.enabled", "CACHE_ENABLED")
	_ = viper.BindEnv("cache.ttl", "CACHE_TTL")

	_ = viper.BindEnv("rate_limit.max", "RATE_LIMIT_MAX")
	_ = viper.BindEnv("rate_limit.window_ms", "RATE_LIMIT_WINDOW_MS")
	_ = viper.BindEnv("rate_limit.cleanup_ms", "RATE_LIMIT_CLEANUP_MS")

	_ = viper.BindEnv("session.max_sessions", "MAX_SESSIONS")
	_ = viper.BindEnv("session.ttl_ms", "SESSION_TTL_MS")
}

// LoadConfig reads the configuration file, applies environment
// overrides and defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies environment
// overrides and defaults without validating. Commands that never serve
// remote clients (stdio, one-shot fetch) use it, so the server
// credential rules do not apply to process-local runs.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or
// "" when running on environment variables alone.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
