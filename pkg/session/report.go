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

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/dustin/go-humanize"
)

// Describe renders the outcome of a session as short human-readable lines.
// res may be nil when the session never started.
func Describe(res *Result, err error) []string {
	var lines []string
	if res != nil {
		lines = append(lines, fmt.Sprintf(
			"Wrote %s to %s in %s",
			humanize.IBytes(uint64(max(res.BytesWritten, 0))),
			res.Device,
			res.Duration.Round(time.Second),
		))
		if res.Download != nil {
			lines = append(lines, describeDownload(res.Download))
		}
		lines = append(lines, describeVerification(res.Verification))
	}

	switch {
	case err == nil:
		lines = append(lines, "Image written successfully")
	case errors.Is(err, models.ErrCancelled):
		lines = append(lines, "Cancelled, the device contents are incomplete")
	default:
		lines = append(lines, "Failed: "+err.Error())
	}
	return lines
}

func describeDownload(d *DigestCheck) string {
	if d.Match {
		return "Download verification: passed"
	}
	return fmt.Sprintf("Download verification: FAILED (expected %s, got %s)", d.Expected, d.Digest)
}

func describeVerification(v *models.VerificationResult) string {
	switch {
	case v == nil:
		return "Write verification: skipped"
	case v.Match:
		return fmt.Sprintf("Write verification: passed against %s digest", v.Reference)
	case v.MismatchOffset < 0:
		return "Write verification: FAILED, the image does not match its published hash"
	case v.ExactOffset:
		return fmt.Sprintf("Write verification: FAILED at byte %d", v.MismatchOffset)
	default:
		return fmt.Sprintf("Write verification: FAILED in block starting at byte %d", v.MismatchOffset)
	}
}
