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

// ProgressBar is a single-row bar filled left to right.
type ProgressBar struct {
	*tview.Box
	theme      *Theme
	progress   float64
	emptyRune  rune
	filledRune rune
}

func NewProgressBar(theme *Theme) *ProgressBar {
	if theme == nil {
		theme = &ThemeDefault
	}
	return &ProgressBar{
		Box:        tview.NewBox(),
		theme:      theme,
		emptyRune:  tcell.RuneBoard,
		filledRune: tcell.RuneBlock,
	}
}

// SetProgress sets the filled fraction, clamped to [0, 1].
func (p *ProgressBar) SetProgress(progress float64) *ProgressBar {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	p.progress = progress
	return p
}

func (p *ProgressBar) GetProgress() float64 {
	return p.progress
}

func (p *ProgressBar) Draw(screen tcell.Screen) {
	p.DrawForSubclass(screen, p)

	x, y, width, height := p.GetInnerRect()
	if height <= 0 {
		return
	}

	filled := int(float64(width) * p.progress)
	fill := tcell.StyleDefault.Foreground(p.theme.ProgressFillColor)
	empty := tcell.StyleDefault.Foreground(p.theme.ProgressEmptyColor)
	for i := range width {
		if i < filled {
			screen.SetContent(x+i, y, p.filledRune, nil, fill)
		} else {
			screen.SetContent(x+i, y, p.emptyRune, nil, empty)
		}
	}
}

func CenterWidget(width, height int, p tview.Primitive) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

type PrimitiveWithSetBorder interface {
	tview.Primitive
	SetBorder(arg bool) *tview.Box
}

func pageDefaults[S PrimitiveWithSetBorder](name string, pages *tview.Pages, widget S) S {
	widget.SetBorder(true)
	pages.AddAndSwitchToPage(name, widget, true)
	return widget
}

func genericModal(
	message string,
	title string,
	buttons []string,
	action func(buttonIndex int, buttonLabel string),
) *tview.Modal {
	modal := tview.NewModal()
	modal.SetTitle(title).
		SetBorder(true).
		SetTitleAlign(tview.AlignCenter)
	modal.SetText(message)
	if len(buttons) > 0 {
		modal.AddButtons(buttons).
			SetDoneFunc(action)
	}
	return modal
}
