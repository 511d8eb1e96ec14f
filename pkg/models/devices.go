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

package models

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Partition is a child block device of a disk, with its current mountpoint
// if it has one.
type Partition struct {
	Path       string `json:"path"`
	Label      string `json:"label,omitempty"`
	Mountpoint string `json:"mountpoint,omitempty"`
}

// BlockDevice is a snapshot of one physical (or loopback) disk taken during
// a single enumeration. It is never updated in place; callers re-enumerate
// to observe changes.
type BlockDevice struct {
	ID         string      `json:"id"`
	Path       string      `json:"path"`
	Model      string      `json:"model,omitempty"`
	Label      string      `json:"label,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Partitions []Partition `json:"partitions,omitempty"`
	Size       uint64      `json:"size"`
	Removable  bool        `json:"removable"`
	ReadOnly   bool        `json:"readOnly"`
	System     bool        `json:"system"`
	Loopback   bool        `json:"loopback"`
}

// Mountpoints returns every mountpoint of the device and its partitions.
func (d *BlockDevice) Mountpoints() []string {
	mps := make([]string, 0, len(d.Partitions))
	for _, p := range d.Partitions {
		if p.Mountpoint != "" {
			mps = append(mps, p.Mountpoint)
		}
	}
	return mps
}

// Eligible reports whether the device may be selected as a write target.
func (d *BlockDevice) Eligible() bool {
	return !d.System && !d.ReadOnly
}

// Description is the human-facing one-line summary used in device lists,
// e.g. "SanDisk Ultra - boot (29.7 GiB)".
func (d *BlockDevice) Description() string {
	model := d.Model
	if model == "" {
		model = "Unknown"
	}
	if d.Label != "" {
		return fmt.Sprintf("%s - %s (%s)", model, d.Label, humanize.IBytes(d.Size))
	}
	return fmt.Sprintf("%s (%s)", model, humanize.IBytes(d.Size))
}
