// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Loom.
type Config struct {
	// StateDir is where session state (access tokens, device IDs,
	// sync positions) is persisted. Defaults to
	// ~/.local/state/loom.
	StateDir string `yaml:"state_dir"`

	// Accounts maps account name to its connection settings. The
	// name is local to this configuration; it never travels on the
	// wire.
	Accounts map[string]Account `yaml:"accounts"`
}

// Account is the connection configuration for one homeserver login.
type Account struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string `yaml:"homeserver_url"`

	// User is the login identifier: a localpart ("alice") or a full
	// user ID ("@alice:example.org").
	User string `yaml:"user"`

	// Password authenticates the first login. Empty means the
	// command prompts for it interactively. After the first login
	// the persisted access token is used and the password is not
	// needed again.
	Password string `yaml:"password,omitempty"`

	// DeviceName labels the device created at login.
	DeviceName string `yaml:"device_name,omitempty"`

	// AutoConnect starts this account's sync as soon as Loom
	// launches.
	AutoConnect bool `yaml:"auto_connect"`
}

// Default returns the default configuration. The config file is still
// required; these are the zero-value fills applied before loading.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		StateDir: filepath.Join(homeDir, ".local", "state", "loom"),
		Accounts: make(map[string]Account),
	}
}

// Load loads configuration from the LOOM_CONFIG environment variable.
// There are no fallbacks: if LOOM_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("LOOM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("config: LOOM_CONFIG environment variable not set; " +
			"set it to the path of your loom.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override its values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the configuration for structural problems. Called
// by LoadFile; exposed for configs built in code.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for name, account := range c.Accounts {
		if name == "" {
			return fmt.Errorf("account with empty name")
		}
		if account.HomeserverURL == "" {
			return fmt.Errorf("account %s: homeserver_url is required", name)
		}
		parsed, err := url.Parse(account.HomeserverURL)
		if err != nil {
			return fmt.Errorf("account %s: invalid homeserver_url: %w", name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("account %s: homeserver_url must be http or https, got %q", name, parsed.Scheme)
		}
		if parsed.Host == "" {
			return fmt.Errorf("account %s: homeserver_url has no host", name)
		}
		if account.User == "" {
			return fmt.Errorf("account %s: user is required", name)
		}
	}
	return nil
}

// AccountNames returns the configured account names, sorted.
func (c *Config) AccountNames() []string {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnsureStateDir creates the state directory if missing. Session
// files contain access tokens, so the directory is private.
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.StateDir, 0o700); err != nil {
		return fmt.Errorf("config: create state dir: %w", err)
	}
	return nil
}
