// Zaparoo Imager
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Imager.
//
// Zaparoo Imager is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Imager is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Imager.  If not, see <http://www.gnu.org/licenses/>.

package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Theme defines the colors used by the imager screens.
type Theme struct {
	Name                     string
	AccentColorName          string
	ErrorColorName           string
	SuccessColorName         string
	PrimitiveBackgroundColor tcell.Color
	ContrastBackgroundColor  tcell.Color
	BorderColor              tcell.Color
	PrimaryTextColor         tcell.Color
	SecondaryTextColor       tcell.Color
	InverseTextColor         tcell.Color
	ProgressFillColor        tcell.Color
	ProgressEmptyColor       tcell.Color
}

// ThemeDefault is the dark blue/yellow theme.
var ThemeDefault = Theme{
	Name: "default",

	PrimitiveBackgroundColor: tcell.ColorDarkBlue,
	ContrastBackgroundColor:  tcell.ColorBlue,
	BorderColor:              tcell.ColorLightYellow,
	PrimaryTextColor:         tcell.ColorWhite,
	SecondaryTextColor:       tcell.ColorGray,
	InverseTextColor:         tcell.ColorDarkBlue,
	ProgressFillColor:        tcell.ColorGreen,
	ProgressEmptyColor:       tcell.ColorGray,

	AccentColorName:  "yellow",
	ErrorColorName:   "red",
	SuccessColorName: "green",
}

// ThemeHighContrast uses a black background with bright yellow.
var ThemeHighContrast = Theme{
	Name: "high_contrast",

	PrimitiveBackgroundColor: tcell.NewHexColor(0x000000),
	ContrastBackgroundColor:  tcell.NewHexColor(0x000000),
	BorderColor:              tcell.ColorYellow,
	PrimaryTextColor:         tcell.ColorWhite,
	SecondaryTextColor:       tcell.ColorWhite,
	InverseTextColor:         tcell.NewHexColor(0x000000),
	ProgressFillColor:        tcell.ColorYellow,
	ProgressEmptyColor:       tcell.ColorWhite,

	AccentColorName:  "yellow",
	ErrorColorName:   "red",
	SuccessColorName: "lime",
}

// ThemeByName returns the named theme, or ThemeDefault.
func ThemeByName(name string) *Theme {
	if name == ThemeHighContrast.Name {
		return &ThemeHighContrast
	}
	return &ThemeDefault
}

// SetTheme copies t into the tview styles. tview.Styles is global, so this
// must not race with a running application.
func SetTheme(styles *tview.Theme, t *Theme) {
	styles.BorderColor = t.BorderColor
	styles.TitleColor = t.PrimaryTextColor
	styles.PrimaryTextColor = t.PrimaryTextColor
	styles.SecondaryTextColor = t.AccentColor()
	styles.ContrastSecondaryTextColor = tcell.ColorFuchsia
	styles.PrimitiveBackgroundColor = t.PrimitiveBackgroundColor
	styles.ContrastBackgroundColor = t.ContrastBackgroundColor
	styles.InverseTextColor = t.InverseTextColor
}

// AccentColor is the accent as a tcell color.
func (t *Theme) AccentColor() tcell.Color {
	return tcell.GetColor(t.AccentColorName)
}
