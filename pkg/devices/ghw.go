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

package devices

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/jaypipes/ghw"
	"github.com/spf13/afero"
)

// GhwLister lists disks from sysfs through ghw. ghw does not report the
// disk's own read-only flag, so it is read from sysfs through Fs.
type GhwLister struct {
	Fs afero.Fs
}

func (l *GhwLister) readOnly(name string) bool {
	if l.Fs == nil {
		return false
	}
	data, err := afero.ReadFile(l.Fs, filepath.Join("/sys/block", name, "ro"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

func (l *GhwLister) List(_ context.Context) ([]RawDevice, error) {
	block, err := ghw.Block()
	if err != nil {
		return nil, fmt.Errorf("reading block info: %w", err)
	}

	devs := make([]RawDevice, 0, len(block.Disks))
	for _, disk := range block.Disks {
		if strings.HasPrefix(disk.Name, "loop") || strings.HasPrefix(disk.Name, "ram") {
			continue
		}
		raw := RawDevice{
			Name:      disk.Name,
			Path:      "/dev/" + disk.Name,
			Model:     strings.ReplaceAll(disk.Model, "_", " "),
			Size:      disk.SizeBytes,
			Removable: disk.IsRemovable,
			ReadOnly:  l.readOnly(disk.Name),
		}
		if raw.Model == "unknown" {
			raw.Model = ""
		}
		for _, p := range disk.Partitions {
			raw.Partitions = append(raw.Partitions, models.Partition{
				Path:       "/dev/" + p.Name,
				Label:      p.Label,
				Mountpoint: p.MountPoint,
			})
		}
		devs = append(devs, raw)
	}
	return devs, nil
}
