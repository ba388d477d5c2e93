// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// daemon.go - The daemon and watch commands.
package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatsync/internal/session"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/ui/monitor"
)

// runDaemon keeps the manager's timers running until ctx is cancelled.
// When storage can be watched, a record rewritten by another process is
// resolved again.
func (a *App) runDaemon(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	detach := a.Acquirer.Attach(a.Manager.Broker())
	defer detach()

	unsubscribe := a.Manager.Subscribe(func(ev session.Event) {
		a.Log.Info().
			Str("event", string(ev.Type)).
			Str("session_id", ev.SessionID).
			Str("reason", string(ev.Reason)).
			Msg("session event")
		a.print("%s %s %s %s\n", DimStyle.Render(ev.At.Format("15:04:05")), ev.Type, ev.SessionID, ev.Reason)
	})
	defer unsubscribe()

	stopRenew := a.renewOnCleared(ctx)
	defer stopRenew()

	a.Manager.Initialize(ctx)
	defer a.Manager.Destroy()

	if st, err := a.Acquirer.Resolve(ctx, "", ""); err != nil {
		a.Log.Warn().Err(err).Msg("initial session resolution failed")
	} else if st.HasSession() {
		a.Log.Info().Str("session_id", st.SessionID).Msg("session resolved")
	}

	if w, ok := a.Local.(storage.Watcher); ok {
		err := w.Watch(ctx, func() {
			st, err := a.Acquirer.Resolve(ctx, "", "")
			if err != nil {
				a.Log.Warn().Err(err).Msg("resolution after external change failed")
				return
			}
			a.Log.Debug().Str("session_id", st.SessionID).Msg("stored session changed externally")
		})
		if err != nil {
			a.Log.Warn().Err(err).Msg("storage watch unavailable")
		}
	}

	a.print("%s", okLine(fmt.Sprintf("sync manager %s; validating every %s, sweeping every %s",
		a.Manager.State(), a.Config.Sync.ValidationInterval(), a.Config.Sync.CleanupInterval())))

	<-ctx.Done()
	return nil
}

// renewOnCleared resolves a new session whenever the manager erases the
// stored one. Resolution runs outside the publishing goroutine; the
// returned func stops it and waits.
func (a *App) renewOnCleared(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	wake := make(chan struct{}, 1)
	unsubscribe := a.Manager.Subscribe(func(ev session.Event) {
		if ev.Type != session.EventCleared {
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			st, err := a.Acquirer.Resolve(ctx, "", "")
			if err != nil {
				a.Log.Warn().Err(err).Msg("resolution after clear failed")
				continue
			}
			a.Log.Info().Str("session_id", st.SessionID).Msg("session renewed after clear")
		}
	}()

	return func() {
		unsubscribe()
		cancel()
		<-done
	}
}

// runWatch runs the interactive monitor on top of a running manager.
func (a *App) runWatch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	detach := a.Acquirer.Attach(a.Manager.Broker())
	defer detach()

	events := a.Manager.Events(ctx)
	a.Manager.Initialize(ctx)
	defer a.Manager.Destroy()

	model := monitor.New(ctx, a.Manager, a.Acquirer, events)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return &CommandError{Command: "watch", Action: "run", Err: err}
	}
	return nil
}
