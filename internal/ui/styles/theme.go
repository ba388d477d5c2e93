// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// Theme holds the styled components of the monitor view.
type Theme struct {
	Title    lipgloss.Style
	Section  lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	ID       lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Muted    lipgloss.Style
	Box      lipgloss.Style
	KeyHint  lipgloss.Style
	KeyLabel lipgloss.Style
}

// NewTheme builds the default theme.
func NewTheme() *Theme {
	return &Theme{
		Title:    lipgloss.NewStyle().Foreground(Purple).Bold(true),
		Section:  lipgloss.NewStyle().Foreground(Purple).Bold(true).MarginTop(1),
		Label:    lipgloss.NewStyle().Foreground(TextSecondary).Width(18),
		Value:    lipgloss.NewStyle().Foreground(TextPrimary),
		ID:       lipgloss.NewStyle().Foreground(Cyan),
		Success:  lipgloss.NewStyle().Foreground(Emerald).Bold(true),
		Warning:  lipgloss.NewStyle().Foreground(Amber),
		Error:    lipgloss.NewStyle().Foreground(Rose).Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(TextMuted),
		Box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Overlay).Padding(0, 1),
		KeyHint:  lipgloss.NewStyle().Foreground(Cyan).Bold(true),
		KeyLabel: lipgloss.NewStyle().Foreground(TextMuted),
	}
}

// Row renders a "label value" line.
func (t *Theme) Row(label, value string) string {
	return t.Label.Render(label) + t.Value.Render(value)
}

// Indicator renders a colored status shape followed by text.
func (t *Theme) Indicator(ok bool, text string) string {
	if ok {
		return t.Success.Render(StatusIndicators.Success) + " " + text
	}
	return t.Error.Render(StatusIndicators.Error) + " " + text
}
