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
	"fmt"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/ZaparooProject/zaparoo-imager/pkg/session"
	"github.com/rivo/tview"
)

// writePage shows a running session. All methods must be called from the
// application goroutine.
type writePage struct {
	root   *tview.Flex
	theme  *Theme
	bar    *ProgressBar
	status *tview.TextView
	footer *tview.TextView
}

func newWritePage(theme *Theme, source string, dev *models.BlockDevice) *writePage {
	header := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetWordWrap(true).
		SetText(tview.Escape(fmt.Sprintf("%s\n→ %s (%s)", source, dev.Description(), dev.Path)))

	bar := NewProgressBar(theme)
	bar.SetBorder(true)

	status := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true).
		SetWordWrap(true).
		SetText("Preparing")

	footer := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetTextColor(theme.SecondaryTextColor).
		SetText("Esc to cancel")

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 2, 0, false).
		AddItem(bar, 3, 0, false).
		AddItem(status, 0, 1, false).
		AddItem(footer, 1, 0, false)
	root.SetBorder(true).SetTitle(" Writing image ")

	return &writePage{
		root:   root,
		theme:  theme,
		bar:    bar,
		status: status,
		footer: footer,
	}
}

// Update renders a progress snapshot.
func (p *writePage) Update(s *progress.Snapshot) {
	p.bar.SetProgress(s.Percent / 100)
	p.status.SetText(tview.Escape(s.String()))
}

func (p *writePage) Cancelling() {
	p.status.SetText("Cancelling...")
	p.footer.SetText("")
}

// Finish replaces the progress line with the session outcome.
func (p *writePage) Finish(res *session.Result, err error) {
	color := p.theme.SuccessColorName
	if err != nil {
		color = p.theme.ErrorColorName
	}
	if err == nil {
		p.bar.SetProgress(1)
	}

	lines := session.Describe(res, err)
	for i := range lines {
		lines[i] = tview.Escape(lines[i])
	}
	last := len(lines) - 1
	lines[last] = "[" + color + "]" + lines[last] + "[-]"

	p.status.SetText(strings.Join(lines, "\n"))
	p.footer.SetText("Press Enter to exit")
}
