// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTheme(t *testing.T) {
	theme := NewTheme()
	require.NotNil(t, theme)

	row := theme.Row("Session", "01HX")
	assert.Contains(t, row, "Session")
	assert.Contains(t, row, "01HX")
}

func TestIndicator(t *testing.T) {
	theme := NewTheme()
	assert.Contains(t, theme.Indicator(true, "valid"), StatusIndicators.Success)
	assert.Contains(t, theme.Indicator(false, "gone"), StatusIndicators.Error)
	assert.Contains(t, theme.Indicator(false, "gone"), "gone")
}

func TestStatusIndicatorsAreASCII(t *testing.T) {
	for _, s := range []string{
		StatusIndicators.Success,
		StatusIndicators.Error,
		StatusIndicators.Warning,
		StatusIndicators.Info,
		StatusIndicators.Pending,
	} {
		for _, r := range s {
			assert.Less(t, r, rune(128), "indicator %q", s)
		}
	}
}
