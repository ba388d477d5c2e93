// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across chatsync.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// Time Helpers:
//   - EpochMillis, FromEpochMillis: conversion for persisted timestamps
//   - FormatAge: compact human-readable durations for CLI output
//
// # Usage
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Persist a timestamp the way the session record expects it
//	ms := util.EpochMillis(time.Now())
package util
