// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
state_dir: /tmp/loom-test-state
accounts:
  alice:
    homeserver_url: https://matrix.example.org
    user: alice
    password: hunter2
    auto_connect: true
  work:
    homeserver_url: https://chat.example.com
    user: "@alice:example.com"
`

func TestLoadFile(t *testing.T) {
	config, err := LoadFile(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if config.StateDir != "/tmp/loom-test-state" {
		t.Errorf("StateDir = %q", config.StateDir)
	}
	if got := config.AccountNames(); len(got) != 2 || got[0] != "alice" || got[1] != "work" {
		t.Errorf("AccountNames = %v, want [alice work]", got)
	}

	alice := config.Accounts["alice"]
	if alice.HomeserverURL != "https://matrix.example.org" || !alice.AutoConnect {
		t.Errorf("alice = %+v", alice)
	}
	work := config.Accounts["work"]
	if work.AutoConnect {
		t.Error("auto_connect defaulted to true")
	}
}

func TestLoadFileDefaultsStateDir(t *testing.T) {
	config, err := LoadFile(writeConfig(t, `
accounts:
  alice:
    homeserver_url: https://matrix.example.org
    user: alice
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.StateDir == "" {
		t.Error("StateDir not defaulted")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("LOOM_CONFIG", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "LOOM_CONFIG") {
		t.Fatalf("Load without LOOM_CONFIG = %v, want instructive error", err)
	}
}

func TestLoadHonorsEnvVar(t *testing.T) {
	t.Setenv("LOOM_CONFIG", writeConfig(t, validConfig))
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"no accounts", `state_dir: /tmp/x`, "at least one account"},
		{"missing homeserver", `
accounts:
  alice:
    user: alice
`, "homeserver_url is required"},
		{"bad scheme", `
accounts:
  alice:
    homeserver_url: ftp://example.org
    user: alice
`, "must be http or https"},
		{"missing user", `
accounts:
  alice:
    homeserver_url: https://example.org
`, "user is required"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, testCase.content))
			if err == nil || !strings.Contains(err.Error(), testCase.want) {
				t.Fatalf("LoadFile = %v, want error containing %q", err, testCase.want)
			}
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "accounts: [")); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := LoadFile("/nonexistent/loom.yaml"); err == nil {
		t.Fatal("missing file accepted")
	}
}
