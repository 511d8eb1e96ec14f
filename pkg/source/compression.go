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

package source

import (
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
)

var extCompression = map[string]models.Compression{
	".img":  models.CompressionNone,
	".iso":  models.CompressionNone,
	".raw":  models.CompressionNone,
	".bin":  models.CompressionNone,
	".gz":   models.CompressionGzip,
	".gzip": models.CompressionGzip,
	".xz":   models.CompressionXz,
	".zst":  models.CompressionZstd,
	".zstd": models.CompressionZstd,
}

// archive formats that hold files rather than a single image
var archiveExts = map[string]string{
	".zip":  "zip",
	".7z":   "7-zip",
	".rar":  "rar",
	".tar":  "tar",
	".bz2":  "bzip2",
	".lz4":  "lz4",
	".lzma": "lzma",
}

var contentTypeCompression = map[string]models.Compression{
	"application/gzip":             models.CompressionGzip,
	"application/x-gzip":           models.CompressionGzip,
	"application/x-xz":             models.CompressionXz,
	"application/zstd":             models.CompressionZstd,
	"application/x-zstd":           models.CompressionZstd,
	"application/octet-stream":     models.CompressionNone,
	"application/x-raw-disk-image": models.CompressionNone,
	"application/x-iso9660-image":  models.CompressionNone,
}

// FromName infers the compression kind from a file name or URL path.
// known is false when there is no extension (kind none, nil error) or the
// extension is unrecognised (err set). Remote callers fall back to the
// Content-Type in both cases.
func FromName(name string) (kind models.Compression, known bool, err error) {
	base := strings.ToLower(path.Base(name))
	if base == "." || base == "/" {
		base = ""
	}
	ext := path.Ext(base)
	if ext == "" {
		return models.CompressionNone, false, nil
	}

	if format, ok := archiveExts[ext]; ok {
		return models.CompressionNone, true, unsupported(name, format)
	}
	if kind, ok := extCompression[ext]; ok {
		if kind != models.CompressionNone && strings.HasSuffix(strings.TrimSuffix(base, ext), ".tar") {
			return models.CompressionNone, true, unsupported(name, "tar")
		}
		return kind, true, nil
	}
	return models.CompressionNone, false, fmt.Errorf("%w: unrecognised image extension %q (%s)",
		models.ErrUnsupportedCompression, ext, name)
}

// FromContentType maps a Content-Type header to a compression kind.
func FromContentType(ct string) (models.Compression, bool, error) {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return models.CompressionNone, false, nil //nolint:nilerr // unparseable means unknown
	}
	if kind, ok := contentTypeCompression[mt]; ok {
		return kind, true, nil
	}
	switch mt {
	case "application/zip", "application/x-zip-compressed", "application/x-7z-compressed",
		"application/x-tar", "application/x-bzip2":
		return models.CompressionNone, true, fmt.Errorf("%w: %s", models.ErrUnsupportedCompression, mt)
	}
	return models.CompressionNone, false, nil
}

func unsupported(name, format string) error {
	return fmt.Errorf("%w: %s archives are not supported (%s)", models.ErrUnsupportedCompression, format, name)
}
