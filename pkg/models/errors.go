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
	"errors"
	"fmt"
)

// Error kinds. Errors surfaced by a session match one of the first seven
// with errors.Is; the rest refine them.
var (
	ErrDeviceEnumeration      = errors.New("device enumeration failed")
	ErrSourceUnavailable      = errors.New("source unavailable")
	ErrUnsupportedCompression = errors.New("unsupported compression")
	ErrCorruptStream          = errors.New("corrupt stream")
	ErrWrite                  = errors.New("write failed")
	ErrVerificationFailed     = errors.New("verification failed")
	ErrCancelled              = errors.New("cancelled")

	ErrFetch           = fmt.Errorf("%w: fetch failed", ErrSourceUnavailable)
	ErrDeviceBusy      = fmt.Errorf("%w: device busy", ErrWrite)
	ErrStaleDevice     = fmt.Errorf("%w: device changed since selection", ErrDeviceEnumeration)
	ErrProtectedDevice = fmt.Errorf("%w: device is protected", ErrWrite)
	ErrImageTooLarge   = fmt.Errorf("%w: image larger than device", ErrWrite)
)

// Stage names used in StageError.
const (
	StageEnumerate = "enumerate"
	StageResolve   = "resolve"
	StageFetch     = "fetch"
	StageDecode    = "decompress"
	StageHash      = "hash"
	StageWrite     = "write"
	StageFlush     = "flush"
	StageVerify    = "verify"
)

// StageError carries the pipeline stage and byte offset at which a session
// ended, along with the error kind and its cause.
type StageError struct {
	Kind   error
	Err    error
	Stage  string
	Offset int64
}

// NewStageError builds a StageError. A nil cause is allowed.
func NewStageError(stage string, offset int64, kind, cause error) *StageError {
	return &StageError{
		Stage:  stage,
		Offset: offset,
		Kind:   kind,
		Err:    cause,
	}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at byte %d: %v", e.Stage, e.Offset, e.Kind)
	}
	return fmt.Sprintf("%s at byte %d: %v: %v", e.Stage, e.Offset, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// AsStageError returns the outermost StageError in err's chain, if any.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
