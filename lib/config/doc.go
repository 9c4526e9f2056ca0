// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Loom's account configuration.
//
// Configuration is loaded from a single YAML file specified by:
//   - LOOM_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config
