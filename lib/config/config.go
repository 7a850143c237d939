// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the identity CLI.
//
// Configuration is loaded from a single YAML file specified by:
//   - IDENTITY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed is ${VAR} and ${VAR:-default} in path
// fields, for portability across home directories.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the configuration for the identity bootstrap CLI.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	Homeserver string `yaml:"homeserver"`

	// UserID is the fully-qualified Matrix user ID
	// (e.g., "@alice:example.org"). Required when authenticating with
	// an access token; optional for password login (the login response
	// carries it).
	UserID string `yaml:"user_id"`

	// DeviceID is the device this process acts as. Required with an
	// access token; optional for password login.
	DeviceID string `yaml:"device_id"`

	// AccessTokenFile is the path to a file holding the access token.
	// When empty, the CLI logs in with a username and prompted password.
	AccessTokenFile string `yaml:"access_token_file"`

	// Username is the localpart used for password login when no access
	// token file is configured.
	Username string `yaml:"username"`

	// Storage configures server-side secret storage encryption.
	Storage StorageConfig `yaml:"storage"`

	// Cache configures the local key cache.
	Cache CacheConfig `yaml:"cache"`
}

// StorageConfig configures the secret storage keys.
type StorageConfig struct {
	// RecipientKey is the age public key secrets are encrypted to
	// (age1... format). Safe to keep in configuration.
	RecipientKey string `yaml:"recipient_key"`

	// PrivateKeyFile is the path to the age private key
	// (AGE-SECRET-KEY-1... format). Optional: without it the CLI can
	// export secrets but not import them.
	PrivateKeyFile string `yaml:"private_key_file"`
}

// CacheConfig configures the local encrypted key cache.
type CacheConfig struct {
	// Dir is the cache directory. Empty disables the cache.
	Dir string `yaml:"dir"`

	// PickleKeyFile is the path to the 32-byte cache encryption key.
	// Required when Dir is set.
	PickleKeyFile string `yaml:"pickle_key_file"`
}

// Load loads configuration from the IDENTITY_CONFIG environment
// variable. There are no fallbacks - if IDENTITY_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("IDENTITY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("IDENTITY_CONFIG environment variable not set; " +
			"set it to the path of your identity.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return &cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.AccessTokenFile = expandVars(c.AccessTokenFile, vars)
	c.Storage.PrivateKeyFile = expandVars(c.Storage.PrivateKeyFile, vars)
	c.Cache.Dir = expandVars(c.Cache.Dir, vars)
	c.Cache.PickleKeyFile = expandVars(c.Cache.PickleKeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver == "" {
		errs = append(errs, fmt.Errorf("homeserver is required"))
	} else if _, err := url.Parse(c.Homeserver); err != nil {
		errs = append(errs, fmt.Errorf("homeserver is not a valid URL: %w", err))
	}

	if c.AccessTokenFile != "" {
		if c.UserID == "" {
			errs = append(errs, fmt.Errorf("user_id is required with access_token_file"))
		}
		if c.DeviceID == "" {
			errs = append(errs, fmt.Errorf("device_id is required with access_token_file"))
		}
	} else if c.Username == "" {
		errs = append(errs, fmt.Errorf("either access_token_file or username is required"))
	}

	if c.Storage.RecipientKey == "" {
		errs = append(errs, fmt.Errorf("storage.recipient_key is required"))
	}

	if c.Cache.Dir != "" && c.Cache.PickleKeyFile == "" {
		errs = append(errs, fmt.Errorf("cache.pickle_key_file is required when cache.dir is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureCacheDir creates the cache directory if configured. The mode
// is restrictive - the directory holds encrypted key material.
func (c *Config) EnsureCacheDir() error {
	if c.Cache.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Cache.Dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Cache.Dir, err)
	}
	return nil
}

// CacheDirFor returns the cache directory, defaulting beneath the
// user cache directory when unset but wanted.
func CacheDirFor(appName string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, appName)
}
