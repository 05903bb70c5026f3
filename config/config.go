// Package config loads environment-based configuration for hosts of
// the libtrack client library.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/feub/libtrack-go/credentials"
	"github.com/joho/godotenv"
)

// Credential store backends.
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
)

// Config holds all environment-based configuration for the client.
type Config struct {
	// Base URL of the LibTrack API, e.g. https://libtrack.example.com.
	APIURL string `env:"LIBTRACK_API_URL"`

	// Credential store backend: "file" (bbolt) or "keyring" (OS
	// credential manager).
	CredentialBackend string `env:"LIBTRACK_CREDENTIAL_BACKEND" envDefault:"file"`

	// Path of the file-backed credential store. Defaults to
	// ~/.libtrack/credentials.db when empty.
	CredentialsPath string `env:"LIBTRACK_CREDENTIALS_PATH"`

	// When set with the file backend, the stored session record is
	// encrypted at rest with a key derived from this passphrase.
	StoragePassphrase string `env:"LIBTRACK_STORAGE_PASSPHRASE"`

	// Keyring service name for the keyring backend.
	KeyringService string `env:"LIBTRACK_KEYRING_SERVICE" envDefault:"libtrack"`

	// Timeout applied to the HTTP client the host builds from this
	// config.
	HTTPTimeout time.Duration `env:"LIBTRACK_HTTP_TIMEOUT" envDefault:"30s"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. It first
// attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("LIBTRACK_API_URL is required")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("LIBTRACK_API_URL must be an http(s) URL, got %q", c.APIURL)
	}

	switch c.CredentialBackend {
	case BackendFile, BackendKeyring:
	default:
		return fmt.Errorf("LIBTRACK_CREDENTIAL_BACKEND must be %q or %q, got %q",
			BackendFile, BackendKeyring, c.CredentialBackend)
	}

	if c.CredentialBackend == BackendKeyring && c.StoragePassphrase != "" {
		return fmt.Errorf("LIBTRACK_STORAGE_PASSPHRASE only applies to the %q backend", BackendFile)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("LIBTRACK_HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}

	return nil
}

// OpenStore constructs the configured credential store backend.
// File-backed stores also implement io.Closer; hosts should close them
// on shutdown.
func (c *Config) OpenStore() (credentials.Store, error) {
	switch c.CredentialBackend {
	case BackendKeyring:
		return credentials.NewKeyringStore(c.KeyringService), nil
	default:
		if c.CredentialsPath == "" {
			if c.StoragePassphrase != "" {
				return credentials.OpenSealed(c.StoragePassphrase)
			}

			return credentials.Open()
		}

		if c.StoragePassphrase != "" {
			return credentials.OpenSealedAt(c.CredentialsPath, c.StoragePassphrase)
		}

		return credentials.OpenAt(c.CredentialsPath)
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
