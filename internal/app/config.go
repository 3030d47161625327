package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/Safariblocks-LTD/codelock-agent/internal/credstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Default configuration values
const (
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 43110
	DefaultConfigShutdownTimeout = 5 * time.Second

	DefaultConfigAuthURL     = "https://auth.codelock.dev/oauth/authorize"
	DefaultConfigTokenURL    = "https://auth.codelock.dev/oauth/token"
	DefaultConfigRevokeURL   = "https://auth.codelock.dev/oauth/revoke"
	DefaultConfigRedirectURI = "codelock://auth/callback"
	// DefaultConfigClientID is the public OAuth2 client identifier for the
	// agent. Public client, no client secret.
	DefaultConfigClientID     = "4f1c6a2e-9b77-4e21-8d35-c0a8f3b9d614"
	DefaultConfigLoginTimeout = 5 * time.Minute

	DefaultConfigKeyringService = "codelock-agent"
	DefaultConfigKeyringKey     = "oauth-credentials"
)

// DefaultConfigScopes is the fixed scope set requested on every login.
var DefaultConfigScopes = []string{"user:profile", "scan:read", "scan:write"}

// ServerConfig holds the loopback service configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// ProviderConfig describes the authorization server.
type ProviderConfig struct {
	AuthURL     string   `json:"auth_url" validate:"required,url"`
	TokenURL    string   `json:"token_url" validate:"required,url"`
	RevokeURL   string   `json:"revoke_url" validate:"required,url"`
	ClientID    string   `json:"client_id" validate:"required"`
	RedirectURI string   `json:"redirect_uri" validate:"required"`
	Scopes      []string `json:"scopes" validate:"required,min=1"`

	// LoginTimeout bounds how long a login attempt waits for the redirect.
	LoginTimeout time.Duration `json:"login_timeout" validate:"required"`
}

// CredentialsConfig describes where the serialized credential lives.
// The keyring is the primary backend and the file the fallback; an optional
// environment variable serves as a read-only source for CI.
type CredentialsConfig struct {
	KeyringService string `json:"keyring_service" validate:"required"`
	KeyringKey     string `json:"keyring_key" validate:"required"`
	FallbackFile   string `json:"fallback_file" validate:"required"`
	EnvKey         string `json:"env_key,omitempty"`
}

// NewStore builds the credential store chain from the configuration:
// optional read-only env source first, then keyring, then the file fallback.
func (c *CredentialsConfig) NewStore() (credstore.Store, error) {
	var stores []credstore.Store

	if c.EnvKey != "" {
		envStore, err := credstore.NewEnvStore(c.EnvKey)
		if err != nil {
			return nil, fmt.Errorf("creating env credential store: %w", err)
		}
		stores = append(stores, envStore)
	}

	keyringStore, err := credstore.NewKeyringStore(c.KeyringService, c.KeyringKey)
	if err != nil {
		return nil, fmt.Errorf("creating keyring credential store: %w", err)
	}
	stores = append(stores, keyringStore)

	fileStore, err := credstore.NewFileStore(c.FallbackFile)
	if err != nil {
		return nil, fmt.Errorf("creating file credential store: %w", err)
	}
	stores = append(stores, fileStore)

	return credstore.NewChain(stores...)
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level        `json:"log_level"`
	LogFormat   LogFormat         `json:"log_format" validate:"oneof=text json"`
	Server      ServerConfig      `json:"server"`
	Shutdown    ShutdownConfig    `json:"shutdown"`
	Provider    ProviderConfig    `json:"provider"`
	Credentials CredentialsConfig `json:"credentials"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		// Text for interactive terminals, JSON when the agent runs supervised.
		if term.IsTerminal(int(os.Stderr.Fd())) {
			c.LogFormat = LogFormatText
		} else {
			c.LogFormat = LogFormatJSON
		}
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	if c.Provider.AuthURL == "" {
		c.Provider.AuthURL = DefaultConfigAuthURL
	}
	if c.Provider.TokenURL == "" {
		c.Provider.TokenURL = DefaultConfigTokenURL
	}
	if c.Provider.RevokeURL == "" {
		c.Provider.RevokeURL = DefaultConfigRevokeURL
	}
	if c.Provider.ClientID == "" {
		c.Provider.ClientID = DefaultConfigClientID
	}
	if c.Provider.RedirectURI == "" {
		c.Provider.RedirectURI = DefaultConfigRedirectURI
	}
	if len(c.Provider.Scopes) == 0 {
		c.Provider.Scopes = append([]string(nil), DefaultConfigScopes...)
	}
	if c.Provider.LoginTimeout == 0 {
		c.Provider.LoginTimeout = DefaultConfigLoginTimeout
	}

	if c.Credentials.KeyringService == "" {
		c.Credentials.KeyringService = DefaultConfigKeyringService
	}
	if c.Credentials.KeyringKey == "" {
		c.Credentials.KeyringKey = DefaultConfigKeyringKey
	}
	if c.Credentials.FallbackFile == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("credentials.fallback_file required (auto-detect failed: %w)", err)
		}
		c.Credentials.FallbackFile = filepath.Join(configDir, "codelock", "credentials.json")
	}

	return nil
}

// Validate validates the configuration using struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
