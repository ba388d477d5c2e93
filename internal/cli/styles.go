// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - lipgloss styles for human-readable command output.
package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/jeranaias/chatsync/internal/ui/styles"
)

func init() {
	lipgloss.SetColorProfile(outputProfile(os.Getenv, term.IsTerminal(int(os.Stdout.Fd()))))
}

// outputProfile picks the color profile for stdout. NO_COLOR wins over
// FORCE_COLOR, which wins over terminal detection.
func outputProfile(getenv func(string) string, tty bool) termenv.Profile {
	switch {
	case getenv("NO_COLOR") != "":
		return termenv.Ascii
	case getenv("FORCE_COLOR") != "", tty:
		return termenv.ColorProfile()
	default:
		return termenv.Ascii
	}
}

// =============================================================================
// STYLES
// =============================================================================

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(styles.Cyan).MarginBottom(1)
	SectionStyle = lipgloss.NewStyle().Bold(true).Foreground(styles.Purple).MarginTop(1)
	LabelStyle   = lipgloss.NewStyle().Foreground(styles.TextSecondary).Width(20)
	ValueStyle   = lipgloss.NewStyle().Foreground(styles.TextPrimary)
	IDStyle      = lipgloss.NewStyle().Foreground(styles.Cyan)
	SuccessStyle = lipgloss.NewStyle().Foreground(styles.Emerald).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(styles.Rose).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(styles.Amber)
	DimStyle     = lipgloss.NewStyle().Foreground(styles.TextMuted)
)

// row renders an aligned "label value" line.
func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value) + "\n"
}

func marked(style lipgloss.Style, mark, msg string) string {
	return style.Render(mark) + " " + msg + "\n"
}

func okLine(msg string) string   { return marked(SuccessStyle, styles.StatusIndicators.Success, msg) }
func failLine(msg string) string { return marked(ErrorStyle, styles.StatusIndicators.Error, msg) }
func warnLine(msg string) string { return marked(WarningStyle, styles.StatusIndicators.Warning, msg) }
