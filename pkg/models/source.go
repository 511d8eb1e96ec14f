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
	"strings"
)

// Origin says where an image is read from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Compression is the closed set of container formats the pipeline can
// decode.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionXz
	CompressionZstd
)

// Compressions lists every supported kind, in declaration order.
var Compressions = []Compression{
	CompressionNone,
	CompressionGzip,
	CompressionXz,
	CompressionZstd,
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionXz:
		return "xz"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// ParseCompression maps a config or flag value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "raw", "":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "xz":
		return CompressionXz, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnsupportedCompression, s)
	}
}

// ImageSource describes a resolved image reference. Sizes of zero mean
// unknown.
type ImageSource struct {
	Name             string      `json:"name"`
	Location         string      `json:"location"`
	ExpectedSHA256   string      `json:"expectedSha256,omitempty"`
	CompressedSize   uint64      `json:"compressedSize,omitempty"`
	UncompressedSize uint64      `json:"uncompressedSize,omitempty"`
	Origin           Origin      `json:"origin"`
	Compression      Compression `json:"compression"`
	RangeSupported   bool        `json:"rangeSupported"`
}

// SizeKnown reports whether the decoded image length is known in advance.
func (s *ImageSource) SizeKnown() bool {
	return s.UncompressedSize > 0
}
