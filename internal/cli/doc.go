// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package cli implements the chatsync command line.

Parse turns argv into a Command and its Args using pflag; Run executes it
against an App, which wires configuration, logging, client-local storage,
the backend client, the sync manager and the session acquirer.

# Commands

	status [--check]        stored record, staleness, optional validation
	sync                    one full reconciliation pass (validate, then sweep)
	sweep [--dry-run]       orphaned session cleanup, or its plan
	session new|show|clear  acquisition: create, resolve, forget
	daemon                  manager timers in the foreground
	watch                   interactive monitor
	serve                   in-memory development session API
	config show|init|path   configuration file management

Every command accepts --json and then prints a single JSONResponse.

# Errors

Commands return errors instead of printing them. ExitCode maps an error to
the process exit code (usage 2, config 3, auth 4, network 5, not found 7,
timeout 8, anything else 1).
*/
package cli
