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

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/rivo/tview"
)

// NewDevicePicker lists devs by description with their path underneath.
// onSelect gets a copy of the chosen device.
func NewDevicePicker(
	devs []models.BlockDevice,
	onSelect func(models.BlockDevice),
	onCancel func(),
) *tview.List {
	list := tview.NewList().
		SetWrapAround(false).
		SetSecondaryTextColor(tview.Styles.SecondaryTextColor)
	list.SetTitle(" Select target device ").SetTitleAlign(tview.AlignLeft)

	for i := range devs {
		dev := devs[i]
		secondary := dev.Path
		if dev.Removable {
			secondary += " (removable)"
		}
		shortcut := rune(0)
		if i < 9 {
			shortcut = rune('1' + i)
		}
		list.AddItem(tview.Escape(dev.Description()), tview.Escape(secondary), shortcut, func() {
			onSelect(dev)
		})
	}

	list.SetDoneFunc(onCancel)
	return list
}

func confirmText(source string, dev *models.BlockDevice) string {
	return fmt.Sprintf(
		"Write %s to %s (%s)?\n\nEverything on this device will be erased.",
		source, dev.Description(), dev.Path,
	)
}
