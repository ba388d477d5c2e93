// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package monitor is the Bubble Tea view behind "chatsync watch".

It shows the resolved session tuple, the outcome of the last reconciliation
pass and the most recent cleared/updated notifications. When the manager
clears the active session the view resolves again, which creates a fresh
session once identity has settled.

# Keys

	s  force a full reconciliation pass
	n  drop the current session and create a new one
	c  clear the stored session
	r  resolve again
	q  quit

# Usage

	events := manager.Events(ctx)
	model := monitor.New(ctx, manager, acquirer, events)
	_, err := tea.NewProgram(model).Run()
*/
package monitor
