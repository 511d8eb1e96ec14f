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

package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// String renders s as a single status line, for example
// "Writing 45.2% (512 MiB of 1.1 GiB) 23 MB/s, 1m20s left".
func (s *Snapshot) String() string {
	switch s.Phase {
	case PhaseIdle:
		return "Preparing"
	case PhaseFlushing:
		return "Flushing " + humanize.IBytes(uint64(max(s.Written, 0))) + " to device"
	case PhaseDone:
		return "Done"
	case PhaseWriting, PhaseVerifying:
	}

	var b strings.Builder
	phase := s.Phase.String()
	b.WriteString(strings.ToUpper(phase[:1]) + phase[1:])

	cur := uint64(max(s.Current(), 0))
	if s.Total > 0 {
		fmt.Fprintf(&b, " %.1f%% (%s of %s)", s.Percent, humanize.IBytes(cur), humanize.IBytes(uint64(s.Total)))
	} else {
		b.WriteString(" " + humanize.IBytes(cur))
	}
	if s.Rate > 0 {
		b.WriteString(" " + humanize.Bytes(uint64(s.Rate)) + "/s")
		if s.ETA > 0 {
			b.WriteString(", " + s.ETA.Round(time.Second).String() + " left")
		}
	}
	return b.String()
}
