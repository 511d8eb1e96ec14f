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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionState_ForwardOnly(t *testing.T) {
	t.Parallel()

	assert.True(t, StatePending.CanTransition(StateStreaming))
	assert.True(t, StateStreaming.CanTransition(StateFlushing))
	assert.True(t, StateFlushing.CanTransition(StateVerifying))
	assert.True(t, StateVerifying.CanTransition(StateCompleted))
	assert.True(t, StateFlushing.CanTransition(StateCompleted))

	assert.False(t, StateStreaming.CanTransition(StatePending))
	assert.False(t, StatePending.CanTransition(StateFlushing))
	assert.False(t, StateStreaming.CanTransition(StateCompleted))
	assert.False(t, StateVerifying.CanTransition(StateVerifying))
}

func TestSessionState_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	for _, terminal := range []SessionState{StateCompleted, StateFailed, StateCancelled} {
		for next := StatePending; next <= StateCancelled; next++ {
			assert.False(t, terminal.CanTransition(next), "%s -> %s", terminal, next)
		}
	}
}

func TestSessionState_FailureFromAnyActiveState(t *testing.T) {
	t.Parallel()

	for _, s := range []SessionState{StatePending, StateStreaming, StateFlushing, StateVerifying} {
		assert.True(t, s.CanTransition(StateFailed), s.String())
		assert.True(t, s.CanTransition(StateCancelled), s.String())
	}
}

func TestStageError_MatchesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := context.Canceled
	err := error(NewStageError(StageWrite, 4096, ErrCancelled, cause))

	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrWrite)
	assert.Contains(t, err.Error(), "write at byte 4096")

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, int64(4096), se.Offset)
}

func TestRefinedErrorsMatchParentKind(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrFetch, ErrSourceUnavailable)
	assert.ErrorIs(t, ErrDeviceBusy, ErrWrite)
	assert.ErrorIs(t, ErrStaleDevice, ErrDeviceEnumeration)
	assert.ErrorIs(t, ErrImageTooLarge, ErrWrite)
	assert.False(t, errors.Is(ErrDeviceBusy, ErrCancelled))
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Compression
	}{
		{"gz", CompressionGzip},
		{"GZIP", CompressionGzip},
		{"xz", CompressionXz},
		{"zst", CompressionZstd},
		{"none", CompressionNone},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseCompression("bzip2")
	require.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestBlockDevice_Description(t *testing.T) {
	t.Parallel()

	d := BlockDevice{Model: "SanDisk", Label: "boot", Size: 4 << 30}
	assert.Equal(t, "SanDisk - boot (4.0 GiB)", d.Description())

	d = BlockDevice{Size: 1 << 20}
	assert.Equal(t, "Unknown (1.0 MiB)", d.Description())
}
