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

	"github.com/shirou/gopsutil/v4/disk"
)

// SystemMounts reads the mount table through gopsutil.
type SystemMounts struct{}

func (SystemMounts) SystemSources(ctx context.Context) (map[string]string, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	sources := make(map[string]string)
	for _, p := range parts {
		if !isSystemMountpoint(p.Mountpoint) || p.Device == "" {
			continue
		}
		sources[p.Device] = p.Mountpoint
		// /dev/disk/by-* and /dev/mapper style sources resolve to the node
		if resolved, err := filepath.EvalSymlinks(p.Device); err == nil && resolved != p.Device {
			sources[resolved] = p.Mountpoint
		}
	}
	return sources, nil
}
