// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sync_cmd.go - The sync and sweep commands.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/chatsync/internal/session"
)

func (a *App) runSync(ctx context.Context) error {
	result := a.Manager.ForceSync(ctx)
	if a.JSON {
		return a.respond("sync", result)
	}

	a.print("%s", TitleStyle.Render("chatsync sync"))
	a.print("\n")
	switch {
	case !result.Present:
		a.print("%s", DimStyle.Render("no stored session")+"\n")
	case result.Valid:
		a.print("%s", okLine("session "+IDStyle.Render(result.SessionID)+" is valid"))
	case result.Erased:
		a.print("%s", failLine(fmt.Sprintf("session %s cleared (%s)", result.SessionID, result.Reason)))
	case result.Reason != session.ReasonNone:
		a.print("%s", warnLine(fmt.Sprintf("session %s invalid (%s), record already replaced", result.SessionID, result.Reason)))
	}

	if result.Sweep != nil {
		a.printSweep(*result.Sweep, false)
	}
	return nil
}

func (a *App) runSweep(ctx context.Context, args Args) error {
	var report session.SweepReport
	if args.DryRun {
		report = a.Manager.Sweeper().Plan(ctx)
	} else {
		report = a.Manager.Sweeper().Sweep(ctx)
	}

	if a.JSON {
		return a.respond("sweep", struct {
			DryRun bool                `json:"dry_run"`
			Report session.SweepReport `json:"report"`
		}{args.DryRun, report})
	}

	title := "chatsync sweep"
	if args.DryRun {
		title += " (dry run)"
	}
	a.print("%s", TitleStyle.Render(title))
	a.print("\n")
	a.printSweep(report, args.DryRun)
	return nil
}

func (a *App) printSweep(r session.SweepReport, dryRun bool) {
	a.print("%s\n", SectionStyle.Render("Sweep"))
	if r.Aborted {
		a.print("%s", warnLine("aborted: "+r.AbortCause))
		return
	}
	a.print("%s", row("Active", IDStyle.Render(r.Active)))
	a.print("%s", row("Scanned", fmt.Sprint(r.Scanned)))
	a.print("%s", row("Too recent", fmt.Sprint(len(r.TooRecent))))
	a.print("%s", row("Has messages", fmt.Sprint(len(r.HasContent))))
	if len(r.Skipped) > 0 {
		a.print("%s", row("Skipped", fmt.Sprint(len(r.Skipped))))
	}

	if dryRun {
		a.print("%s", row("Would delete", joinIDs(r.Orphaned)))
		return
	}
	a.print("%s", row("Deleted", joinIDs(r.Deleted)))
	if len(r.Failed) > 0 {
		a.print("%s", failLine("failed to delete "+joinIDs(r.Failed)))
	}
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
