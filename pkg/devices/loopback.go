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

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// LoopbackLister reports a single image file as a removable disk so the
// whole write path can be exercised without touching hardware.
type LoopbackLister struct {
	Fs   afero.Fs
	Path string
	Size int64
}

func NewLoopbackLister(fs afero.Fs, path string, size int64) *LoopbackLister {
	return &LoopbackLister{Fs: fs, Path: path, Size: size}
}

// Ensure creates the image as a sparse file if it does not exist yet.
func (l *LoopbackLister) Ensure() error {
	exists, err := afero.Exists(l.Fs, l.Path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", l.Path, err)
	}
	if exists {
		return nil
	}

	if err := l.Fs.MkdirAll(filepath.Dir(l.Path), 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(l.Path), err)
	}
	f, err := l.Fs.Create(l.Path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", l.Path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msgf("error closing %s", l.Path)
		}
	}()
	if err := f.Truncate(l.Size); err != nil {
		return fmt.Errorf("sizing %s: %w", l.Path, err)
	}
	log.Info().Str("device", l.Path).Int64("size", l.Size).Msg("created loopback image")
	return nil
}

func (l *LoopbackLister) List(_ context.Context) ([]RawDevice, error) {
	if err := l.Ensure(); err != nil {
		return nil, err
	}
	info, err := l.Fs.Stat(l.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", l.Path, err)
	}
	return []RawDevice{{
		Name:       "loopback",
		Path:       l.Path,
		Model:      "Loopback image",
		Label:      filepath.Base(l.Path),
		Size:       uint64(info.Size()), //nolint:gosec // file sizes are non-negative
		Removable:  true,
		Loopback:   true,
		Partitions: []models.Partition{},
	}}, nil
}
