// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads chatsync settings from TOML or JSON, fills missing
// fields from Default, applies CHATSYNC_* overrides and validates the result.
//
// # Key Types
//
//   - Config: the whole file
//   - APIConfig: Backend URL, token, retry and rate-limit settings
//   - StorageConfig: Where the session record is persisted
//   - SyncConfig: Validation, cleanup and grace-window durations
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATSYNC_*)
//   - ~/.chatsync/config.toml
//   - ~/.chatsync/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	interval := cfg.Sync.ValidationInterval()
package config
