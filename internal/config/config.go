// Package config provides configuration types for superfetch.
//
// Configuration is environment-first: every documented environment
// variable is bound verbatim (HOST, PORT, ACCESS_TOKENS, ...). An
// optional YAML file feeds the same keys; environment values win.
package config

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Auth modes.
const (
	// AuthModeStatic verifies bearer tokens against the configured set.
	AuthModeStatic = "static"
	// AuthModeOAuth verifies bearer tokens via OAuth introspection.
	AuthModeOAuth = "oauth"
)

// defaultUserAgent identifies outbound fetches when USER_AGENT is unset.
const defaultUserAgent = "superfetch/1.0"

// Config is the top-level configuration for superfetch.
type Config struct {
	// Server configures the HTTP listener and request pipeline.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Auth configures how inbound credentials are verified.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Fetch configures outbound page retrieval.
	Fetch FetchConfig `yaml:"fetch" mapstructure:"fetch"`

	// Transform configures the HTML-to-Markdown worker pool.
	Transform TransformConfig `yaml:"transform" mapstructure:"transform"`

	// Cache configures the content cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// RateLimit configures per-IP rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Session configures the MCP session store.
	Session SessionConfig `yaml:"session" mapstructure:"session"`
}

// ServerConfig configures the HTTP server.
// TLS is out of scope; terminate it at a reverse proxy.
type ServerConfig struct {
	// Host is the address to bind (e.g. "127.0.0.1", "0.0.0.0").
	// Defaults to "127.0.0.1". Binding to a non-loopback host requires
	// AllowRemote and OAuth mode.
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the TCP port to listen on. Defaults to 3000.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// AllowRemote permits binding to a non-loopback host.
	AllowRemote bool `yaml:"allow_remote" mapstructure:"allow_remote"`

	// AllowedHosts are additional Host/Origin values the pipeline
	// accepts beyond the bind address and loopback names.
	AllowedHosts []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// Addr returns the host:port the server binds to.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsLoopback reports whether the configured host is a loopback address.
func (c *ServerConfig) IsLoopback() bool {
	host := strings.ToLower(c.Host)
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return addr.IsLoopback()
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	// Mode selects static token or OAuth introspection verification.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=static oauth"`

	// AccessTokens are the accepted bearer tokens in static mode.
	// From the environment, a comma-separated list.
	AccessTokens []string `yaml:"access_tokens" mapstructure:"access_tokens"`

	// APIKey is an additional static credential, also accepted via the
	// X-API-Key header. Static mode only.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// RequiredScopes are granted to static tokens and demanded of
	// introspected ones. Comma-separated in the environment.
	RequiredScopes []string `yaml:"required_scopes" mapstructure:"required_scopes"`

	// OAuth configures token introspection for oauth mode.
	OAuth OAuthConfig `yaml:"oauth" mapstructure:"oauth"`
}

// StaticTokens returns every credential accepted in static mode:
// the access token set plus the API key, when configured.
func (c *AuthConfig) StaticTokens() []string {
	tokens := make([]string, 0, len(c.AccessTokens)+1)
	tokens = append(tokens, c.AccessTokens...)
	if c.APIKey != "" {
		tokens = append(tokens, c.APIKey)
	}
	return tokens
}

// OAuthConfig configures the token introspection client.
type OAuthConfig struct {
	// IntrospectionURL is the RFC 7662 introspection endpoint.
	IntrospectionURL string `yaml:"introspection_url" mapstructure:"introspection_url" validate:"omitempty,url"`

	// ClientID and ClientSecret enable HTTP Basic client auth on the
	// introspection call when both are set.
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`

	// TimeoutMs bounds one introspection call. Defaults to 5000.
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`

	// ResourceURL is sent as the introspection "resource" parameter,
	// with any fragment stripped.
	ResourceURL string `yaml:"resource_url" mapstructure:"resource_url" validate:"omitempty,url"`
}

// Timeout returns the introspection timeout.
func (c *OAuthConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// FetchConfig configures outbound page retrieval.
type FetchConfig struct {
	// UserAgent is sent on outbound fetches.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// URLPolicy is an optional CEL expression evaluated against each
	// validated URL; a true result denies the fetch. Empty disables it.
	URLPolicy string `yaml:"url_policy" mapstructure:"url_policy"`
}

// TransformConfig configures the worker pool.
type TransformConfig struct {
	// TimeoutMs bounds one transform task. Defaults to 30000.
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`

	// MaxConcurrent caps pool workers. Zero derives the cap from the
	// machine's parallelism.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"omitempty,min=1"`

	// MaxInlineChars is the largest markdown payload embedded directly
	// in a tool result. Defaults to 20000.
	MaxInlineChars int `yaml:"max_inline_chars" mapstructure:"max_inline_chars" validate:"omitempty,min=1"`
}

// Timeout returns the per-task timeout.
func (c *TransformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheConfig configures the content cache.
type CacheConfig struct {
	// Enabled turns the content cache on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TTLSeconds is the entry lifetime in seconds. Defaults to 300.
	TTLSeconds int `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,min=1"`
}

// TTL returns the entry lifetime.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RateLimitConfig configures per-IP fixed-window rate limiting.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Defaults to 100.
	Max int `yaml:"max" mapstructure:"max" validate:"omitempty,min=1"`

	// WindowMs is the window length in milliseconds. Defaults to 60000.
	WindowMs int `yaml:"window_ms" mapstructure:"window_ms" validate:"omitempty,min=1"`

	// CleanupMs is the sweep interval in milliseconds. Defaults to 60000.
	CleanupMs int `yaml:"cleanup_ms" mapstructure:"cleanup_ms" validate:"omitempty,min=1"`
}

// Window returns the counting window length.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// Cleanup returns the sweeper interval.
func (c *RateLimitConfig) Cleanup() time.Duration {
	return time.Duration(c.CleanupMs) * time.Millisecond
}

// SessionConfig configures the MCP session store.
type SessionConfig struct {
	// MaxSessions caps concurrent sessions, counting reserved slots.
	// Defaults to 100.
	MaxSessions int `yaml:"max_sessions" mapstructure:"max_sessions" validate:"omitempty,min=1"`

	// TTLMs is the idle timeout in milliseconds. Defaults to 1800000.
	TTLMs int `yaml:"ttl_ms" mapstructure:"ttl_ms" validate:"omitempty,min=1"`
}

// TTL returns the session idle timeout.
func (c *SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

// SetDefaults applies default values to unset fields and normalizes
// list entries.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	c.Server.AllowedHosts = normalizeList(c.Server.AllowedHosts)

	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeStatic
	}
	c.Auth.AccessTokens = normalizeList(c.Auth.AccessTokens)
	c.Auth.RequiredScopes = normalizeList(c.Auth.RequiredScopes)
	if c.Auth.OAuth.TimeoutMs == 0 {
		c.Auth.OAuth.TimeoutMs = 5000
	}

	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultUserAgent
	}

	if c.Transform.TimeoutMs == 0 {
		c.Transform.TimeoutMs = 30000
	}
	if c.Transform.MaxInlineChars == 0 {
		c.Transform.MaxInlineChars = 20000
	}

	// Cache is on by default; viper.IsSet distinguishes "not set" from
	// an explicit false.
	if !viper.IsSet("cache.enabled") {
		c.Cache.Enabled = true
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 300
	}

	if c.RateLimit.Max == 0 {
		c.RateLimit.Max = 100
	}
	if c.RateLimit.WindowMs == 0 {
		c.RateLimit.WindowMs = 60000
	}
	if c.RateLimit.CleanupMs == 0 {
		c.RateLimit.CleanupMs = 60000
	}

	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = 100
	}
	if c.Session.TTLMs == 0 {
		c.Session.TTLMs = 1800000
	}
}

// normalizeList trims entries and drops empty ones.
func normalizeList(in []string) []string {
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
