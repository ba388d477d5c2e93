// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - The status command.
package cli

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/chatsync/internal/logging"
	"github.com/jeranaias/chatsync/internal/session"
	"github.com/jeranaias/chatsync/internal/storage"
	"github.com/jeranaias/chatsync/internal/util"
)

// StatusReport is the status command output.
type StatusReport struct {
	Present       bool                      `json:"present"`
	Corrupted     bool                      `json:"corrupted,omitempty"`
	Session       *storage.StoredSession    `json:"session,omitempty"`
	LastValidated string                    `json:"last_validated,omitempty"`
	Stale         bool                      `json:"stale"`
	Backend       string                    `json:"backend"`
	Storage       string                    `json:"storage"`
	Validation    *session.ValidationResult `json:"validation,omitempty"`
}

func (a *App) runStatus(ctx context.Context, args Args) error {
	report := StatusReport{
		Backend: a.Config.API.BaseURL,
		Storage: a.Config.Storage.Backend,
	}

	rec, err := a.Store.Load()
	switch {
	case errors.Is(err, storage.ErrCorrupted):
		report.Corrupted = true
	case err != nil:
		return &CommandError{Command: "status", Action: "load", Err: err}
	case rec != nil:
		report.Present = true
		report.Session = rec
		if at := rec.LastValidatedAt(); !at.IsZero() {
			report.LastValidated = at.UTC().Format(time.RFC3339)
			report.Stale = time.Since(at) >= a.Config.Sync.StaleAfter()
		} else {
			report.Stale = true
		}
	}

	if args.Check && rec != nil {
		v := session.NewValidator(a.Backend, a.Identity, logging.Component(a.Log, "validate"))
		result := v.Validate(ctx, *rec)
		report.Validation = &result
	}

	if a.JSON {
		return a.respond("status", report)
	}

	a.print("%s", TitleStyle.Render("chatsync status"))
	a.print("\n")
	a.print("%s", row("Backend", report.Backend))
	a.print("%s", row("Storage", report.Storage))
	a.print("%s\n", SectionStyle.Render("Stored session"))

	switch {
	case report.Corrupted:
		a.print("%s", failLine("stored record is corrupted; the next sync clears it"))
		return nil
	case !report.Present:
		a.print("%s", DimStyle.Render("none")+"\n")
		return nil
	}

	a.print("%s", row("Session", IDStyle.Render(rec.SessionID)))
	if p := rec.Project(); p != "" {
		a.print("%s", row("Project", p))
	}
	owner := rec.Owner()
	if owner == "" {
		owner = "anonymous"
	}
	a.print("%s", row("Owner", owner))
	if report.LastValidated != "" {
		a.print("%s", row("Last validated", util.FormatAge(time.Since(rec.LastValidatedAt()))+" ago"))
	} else {
		a.print("%s", row("Last validated", "never"))
	}
	if report.Stale {
		a.print("%s", warnLine("due for validation"))
	}

	if report.Validation != nil {
		a.print("%s\n", SectionStyle.Render("Validation"))
		if report.Validation.IsValid {
			a.print("%s", okLine("session is valid"))
		} else {
			a.print("%s", failLine("session is invalid: "+string(report.Validation.Reason)))
		}
	}
	return nil
}
