// Package config provides environment-variable-first configuration loading
// with an optional YAML or TOML file as the base layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// defaultBodyLimit is 25 MB in bytes.
const defaultBodyLimit = 26214400

// Config holds the complete application configuration.
type Config struct {
	HTTP     HTTPConfig    `yaml:"http" toml:"http"`
	Auth     AuthConfig    `yaml:"auth" toml:"auth"`
	Storage  StorageConfig `yaml:"storage" toml:"storage"`
	Provider string        `yaml:"provider" toml:"provider"`
	SES      SESConfig     `yaml:"ses" toml:"ses"`
	Graph    GraphConfig   `yaml:"graph" toml:"graph"`
	Senders  SendersConfig `yaml:"senders" toml:"senders"`
	Mailbox  MailboxConfig `yaml:"mailbox" toml:"mailbox"`
	TLS      TLSConfig     `yaml:"tls" toml:"tls"`
	Logging  LoggingConfig `yaml:"logging" toml:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Listen    string `yaml:"listen" toml:"listen"`
	BodyLimit int    `yaml:"body_limit" toml:"body_limit"`
	// LoginRatePerMinute bounds login attempts per client IP.
	LoginRatePerMinute int `yaml:"login_rate_per_minute" toml:"login_rate_per_minute"`
}

// AuthConfig holds the single account and token settings.
type AuthConfig struct {
	Username     string        `yaml:"username" toml:"username"`
	Password     string        `yaml:"password" toml:"password"`
	PasswordHash string        `yaml:"password_hash" toml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl" toml:"token_ttl"`
}

// StorageConfig selects and configures the message store.
type StorageConfig struct {
	// Backend is "s3" or "memory". Empty selects s3 when a bucket is set.
	Backend string   `yaml:"backend" toml:"backend"`
	S3      S3Config `yaml:"s3" toml:"s3"`
}

// S3Config holds S3 bucket configuration.
type S3Config struct {
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Region          string `yaml:"region" toml:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style" toml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region" toml:"region"`
	AccessKeyID      string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key" toml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set" toml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" toml:"tenant_id"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
}

// SendersConfig controls the permitted sender list.
type SendersConfig struct {
	// Allowed is a static list of addresses and domains. When empty and SES
	// is the provider, the verified SES identities are used instead.
	Allowed  []string      `yaml:"allowed" toml:"allowed"`
	CacheTTL time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
}

// MailboxConfig tunes folder listings and upstream calls.
type MailboxConfig struct {
	ListLimit        int           `yaml:"list_limit" toml:"list_limit"`
	FetchConcurrency int           `yaml:"fetch_concurrency" toml:"fetch_concurrency"`
	CallTimeout      time.Duration `yaml:"call_timeout" toml:"call_timeout"`
}

// TLSConfig holds HTTPS listener settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
	Hostname string `yaml:"hostname" toml:"hostname"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file as the base layer, then
// overrides with environment variables. Files ending in .toml are decoded as
// TOML, anything else as YAML. Returns an error if the file does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override file values
	cfg.applyEnvVars()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// S3Configured returns true if an S3 bucket is set.
func (c *Config) S3Configured() bool {
	return c.Storage.S3.Bucket != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// StorageBackend returns the effective storage backend.
func (c *Config) StorageBackend() string {
	if c.Storage.Backend != "" {
		return c.Storage.Backend
	}
	if c.S3Configured() {
		return "s3"
	}
	return "memory"
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8080"
	c.HTTP.BodyLimit = defaultBodyLimit
	c.HTTP.LoginRatePerMinute = 10
	c.Auth.TokenTTL = 12 * time.Hour
	c.Senders.CacheTTL = 5 * time.Minute
	c.Mailbox.ListLimit = 100
	c.Mailbox.FetchConcurrency = 10
	c.Mailbox.CallTimeout = 30 * time.Second
	c.TLS.Hostname = "localhost"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setInt(&c.HTTP.BodyLimit, "HTTP_BODY_LIMIT")
	setInt(&c.HTTP.LoginRatePerMinute, "LOGIN_RATE_PER_MINUTE")

	setString(&c.Auth.Username, "AUTH_USERNAME")
	setString(&c.Auth.Password, "AUTH_PASSWORD")
	setString(&c.Auth.PasswordHash, "AUTH_PASSWORD_HASH")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setDuration(&c.Auth.TokenTTL, "TOKEN_TTL")

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	setString(&c.Storage.S3.Bucket, "S3_BUCKET")
	setString(&c.Storage.S3.Region, "S3_REGION")
	setString(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	setBool(&c.Storage.S3.UsePathStyle, "S3_USE_PATH_STYLE")
	setString(&c.Storage.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Storage.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}
	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.ConfigurationSet, "SES_CONFIGURATION_SET")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	if v := os.Getenv("ALLOWED_SENDERS"); v != "" {
		c.Senders.Allowed = splitList(v)
	}
	setDuration(&c.Senders.CacheTTL, "SENDER_CACHE_TTL")

	setInt(&c.Mailbox.ListLimit, "MAILBOX_LIST_LIMIT")
	setInt(&c.Mailbox.FetchConcurrency, "MAILBOX_FETCH_CONCURRENCY")
	setDuration(&c.Mailbox.CallTimeout, "CALL_TIMEOUT")

	setBool(&c.TLS.Enabled, "TLS_ENABLED")
	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")
	setString(&c.TLS.Hostname, "TLS_HOSTNAME")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate rejects values the service cannot start with.
func (c *Config) validate() error {
	switch c.StorageBackend() {
	case "s3":
		if !c.S3Configured() {
			return fmt.Errorf("storage backend s3 requires S3_BUCKET")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Provider {
	case "", "ses", "msgraph", "stdout":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Mailbox.ListLimit <= 0 {
		return fmt.Errorf("mailbox list limit must be positive, got %d", c.Mailbox.ListLimit)
	}
	if c.Mailbox.FetchConcurrency <= 0 {
		return fmt.Errorf("mailbox fetch concurrency must be positive, got %d", c.Mailbox.FetchConcurrency)
	}
	if c.Mailbox.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %s", c.Mailbox.CallTimeout)
	}
	if c.Senders.CacheTTL < 0 {
		return fmt.Errorf("sender cache ttl must not be negative, got %s", c.Senders.CacheTTL)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt ignores values that do not parse, like the other setters.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
