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

//go:build linux

package writer

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

type fder interface {
	Fd() uintptr
}

// dropCache evicts the device's pages so a readback hits the medium. Both
// calls are best effort: BLKFLSBUF needs root and only applies to block
// devices.
func dropCache(f afero.File, path string) {
	osf, ok := f.(fder)
	if !ok {
		return
	}
	fd := int(osf.Fd()) //nolint:gosec // file descriptors fit in int
	if err := unix.Fadvise(fd, 0, 0, unix.FADV_DONTNEED); err != nil {
		log.Debug().Err(err).Str("device", path).Msg("fadvise failed")
	}
	if err := unix.IoctlSetInt(fd, unix.BLKFLSBUF, 0); err != nil {
		log.Debug().Err(err).Str("device", path).Msg("BLKFLSBUF failed")
	}
}
