// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - The session command: new, show, clear.
package cli

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/chatsync/internal/session"
	"github.com/jeranaias/chatsync/internal/storage"
)

func (a *App) runSession(ctx context.Context, args Args) error {
	switch args.Subcommand {
	case "new":
		return a.sessionNew(ctx)
	case "clear":
		return a.sessionClear()
	default:
		return a.sessionShow(ctx)
	}
}

// sessionShow resolves the session the way a chat view would on mount,
// creating one when none is stored.
func (a *App) sessionShow(ctx context.Context) error {
	st, err := a.Acquirer.Resolve(ctx, "", "")
	if err != nil {
		return &CommandError{Command: "session", Action: "resolve", Err: err}
	}
	return a.printState("session show", st)
}

func (a *App) sessionNew(ctx context.Context) error {
	if err := a.Acquirer.ClearSession(); err != nil {
		return &CommandError{Command: "session", Action: "clear", Err: err}
	}
	st, err := a.Acquirer.CreateSession(ctx)
	if err != nil {
		return &CommandError{Command: "session", Action: "new", Err: err}
	}
	return a.printState("session new", st)
}

func (a *App) sessionClear() error {
	rec, err := a.Store.Load()
	if err != nil && !errors.Is(err, storage.ErrCorrupted) {
		return &CommandError{Command: "session", Action: "load", Err: err}
	}
	if err := a.Acquirer.ClearSession(); err != nil {
		return &CommandError{Command: "session", Action: "clear", Err: err}
	}

	cleared := ""
	if rec != nil {
		cleared = rec.SessionID
	}
	if a.JSON {
		return a.respond("session clear", map[string]string{"cleared": cleared})
	}
	if cleared == "" {
		a.print("%s", DimStyle.Render("no stored session")+"\n")
		return nil
	}
	a.print("%s", okLine("cleared "+IDStyle.Render(cleared)))
	return nil
}

func (a *App) printState(command string, st session.State) error {
	if a.JSON {
		return a.respond(command, stateJSON(st))
	}
	if st.IsLoading {
		a.print("%s", warnLine("identity is still loading"))
		return nil
	}
	if !st.HasSession() {
		a.print("%s", DimStyle.Render("no session")+"\n")
		return nil
	}
	a.print("%s", row("Session", IDStyle.Render(st.SessionID)))
	if st.ProjectID != "" {
		a.print("%s", row("Project", st.ProjectID))
	}
	a.print("%s", row("Authenticated", yesNo(st.IsAuthenticated)))
	if st.ExpiresAt != 0 {
		exp := time.Unix(st.ExpiresAt, 0).UTC().Format(time.RFC3339)
		if st.IsSessionExpired {
			a.print("%s", failLine("expired "+exp))
		} else {
			a.print("%s", row("Expires", exp))
		}
	}
	return nil
}

func stateJSON(st session.State) map[string]interface{} {
	return map[string]interface{}{
		"session_id":         st.SessionID,
		"project_id":         st.ProjectID,
		"is_authenticated":   st.IsAuthenticated,
		"is_loading":         st.IsLoading,
		"is_session_expired": st.IsSessionExpired,
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
