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

// Package writer copies decoded image chunks onto the target device.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Report is the Writer's outcome. Durable is true only once every byte
// was written and the device acknowledged a sync.
type Report struct {
	BytesWritten int64
	Duration     time.Duration
	Durable      bool
}

type Writer struct {
	// OnFlush, if set, is called once every chunk is written and before
	// the device is synced.
	OnFlush func()

	fs       afero.Fs
	counters *progress.Counters
	device   models.BlockDevice
	expected int64
	written  int64
}

// New prepares a writer for device. expected is the decoded image length,
// or zero when unknown.
//
//nolint:gocritic // device snapshot copied
func New(fs afero.Fs, device models.BlockDevice, expected uint64, counters *progress.Counters) *Writer {
	if counters == nil {
		counters = &progress.Counters{}
	}
	return &Writer{
		fs:       fs,
		device:   device,
		expected: int64(expected), //nolint:gosec // image sizes fit in int64
		counters: counters,
	}
}

// Written is the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// CheckFits fails with ErrImageTooLarge when a known image length exceeds
// the device.
func CheckFits(expected, deviceSize uint64) error {
	if expected > 0 && deviceSize > 0 && expected > deviceSize {
		return models.NewStageError(models.StageWrite, 0, models.ErrImageTooLarge,
			fmt.Errorf("image is %d bytes, device is %d bytes", expected, deviceSize))
	}
	return nil
}

func (w *Writer) open() (afero.File, error) {
	flags := os.O_RDWR
	if _, isOS := w.fs.(*afero.OsFs); isOS && !w.device.Loopback {
		// on Linux an exclusive open of a block device fails with EBUSY while
		// anything holds it mounted
		flags |= os.O_EXCL
	}
	f, err := w.fs.OpenFile(w.device.Path, flags, 0)
	if err != nil {
		kind := models.ErrWrite
		if errors.Is(err, syscall.EBUSY) {
			kind = models.ErrDeviceBusy
		}
		return nil, models.NewStageError(models.StageWrite, 0, kind, err)
	}
	return f, nil
}

// Write consumes in until it is closed, writing each chunk at the next
// offset from zero, then syncs the device. It has the stream.Sink shape.
func (w *Writer) Write(ctx context.Context, in <-chan []byte) (Report, error) {
	start := time.Now()

	if err := CheckFits(uint64(w.expected), w.device.Size); err != nil { //nolint:gosec // non-negative
		return Report{}, err
	}

	f, err := w.open()
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("device", w.device.Path).Msg("error closing device")
		}
	}()

	limit := int64(w.device.Size) //nolint:gosec // device sizes fit in int64
	for {
		var chunk []byte
		var ok bool
		select {
		case <-ctx.Done():
			return Report{BytesWritten: w.written}, ctx.Err() //nolint:wrapcheck // session reports cancellation
		case chunk, ok = <-in:
		}
		if !ok {
			break
		}

		end := w.written + int64(len(chunk))
		if w.expected > 0 && end > w.expected {
			return Report{BytesWritten: w.written}, models.NewStageError(models.StageWrite, w.written,
				models.ErrCorruptStream, fmt.Errorf("image is longer than its declared %d bytes", w.expected))
		}
		if limit > 0 && end > limit {
			return Report{BytesWritten: w.written}, models.NewStageError(models.StageWrite, w.written,
				models.ErrImageTooLarge, fmt.Errorf("image does not fit on %d byte device", limit))
		}

		n, err := f.WriteAt(chunk, w.written)
		w.written += int64(n)
		w.counters.Written.Add(int64(n))
		if err == nil && n < len(chunk) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return Report{BytesWritten: w.written}, models.NewStageError(models.StageWrite, w.written,
				models.ErrWrite, err)
		}
	}

	if w.expected > 0 && w.written < w.expected {
		return Report{BytesWritten: w.written}, models.NewStageError(models.StageWrite, w.written,
			models.ErrCorruptStream, fmt.Errorf("image ended after %d of %d bytes", w.written, w.expected))
	}

	w.counters.SetPhase(progress.PhaseFlushing)
	if w.OnFlush != nil {
		w.OnFlush()
	}
	log.Debug().Str("device", w.device.Path).Int64("bytes", w.written).Msg("syncing device")
	if err := f.Sync(); err != nil {
		return Report{BytesWritten: w.written}, models.NewStageError(models.StageFlush, w.written,
			models.ErrWrite, err)
	}
	dropCache(f, w.device.Path)

	return Report{
		BytesWritten: w.written,
		Duration:     time.Since(start),
		Durable:      true,
	}, nil
}
