package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chrko/mb-exporter/internal/tokensource"
	"github.com/chrko/mb-exporter/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatAuto LogFormat = "auto"
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTLP LogFormat = "otlp"
)

// TokenStorageType represents the different storage backends supported for
// the persisted credential.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// keyringService namespaces the credential in the system keyring.
const keyringService = "mb-exporter"

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatAuto
	DefaultConfigServerHost      = "0.0.0.0"
	DefaultConfigServerPort      = 9867
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigStorageType     = TokenStorageTypeFile
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// OAuthConfig holds the confidential client issued in the vendor's
// developer portal.
type OAuthConfig struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`

	// RedirectURL must match the callback registered with the vendor.
	// Defaults to the oauth.redirect route on the configured server port.
	RedirectURL string `json:"redirect_url" validate:"omitempty,url"`

	// Timeout bounds each call to the vendor token endpoint.
	Timeout time.Duration `json:"timeout"`
}

// VehicleConfig identifies the vehicle whose data is exported.
type VehicleConfig struct {
	VIN string `json:"vin" validate:"required,alphanum"`

	// BaseURL overrides the production vehicledata API, for testing
	// against the vendor sandbox.
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`
}

// StorageConfig describes where the OAuth credential is persisted.
type StorageConfig struct {
	Type TokenStorageType `json:"type" validate:"required,oneof=file keyring"`

	// Storage-specific settings (mutually exclusive based on Type)
	File        string `json:"file,omitempty"`         // For file storage: path to state file
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewTokenStore creates a TokenStore from the storage configuration.
func (s *StorageConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch s.Type {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(s.File)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=auto text json otlp"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	OAuth     OAuthConfig    `json:"oauth"`
	Vehicle   VehicleConfig  `json:"vehicle"`
	Storage   StorageConfig  `json:"storage"`
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
		c.LogFormat = DefaultConfigLogFormat
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
	if c.OAuth.Timeout == 0 {
		c.OAuth.Timeout = tokensource.DefaultTimeout
	}
	if c.OAuth.RedirectURL == "" {
		// The registered callback usually points at the exporter itself.
		c.OAuth.RedirectURL = fmt.Sprintf("http://localhost:%d/oauth.redirect", c.Server.Port)
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, "mb-exporter", "state.json")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}
