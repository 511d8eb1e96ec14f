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
	"errors"
	"fmt"
	"testing"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeLister struct {
	err  error
	devs []RawDevice
}

func (f *fakeLister) List(context.Context) ([]RawDevice, error) {
	return f.devs, f.err
}

type fakeMounts map[string]string

func (f fakeMounts) SystemSources(context.Context) (map[string]string, error) {
	return f, nil
}

func sdCard() RawDevice {
	return RawDevice{
		Name:       "sdb",
		Path:       "/dev/sdb",
		Model:      "SD Card Reader ",
		Size:       32 << 30,
		Removable:  true,
		Partitions: []models.Partition{{Path: "/dev/sdb1", Label: "bootfs"}},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sources  map[string]string
		mutate   func(d *RawDevice)
		name     string
		reason   string
		system   bool
		eligible bool
	}{
		{
			name:     "removable card is eligible",
			mutate:   func(*RawDevice) {},
			eligible: true,
		},
		{
			name:   "partition mounted at root",
			mutate: func(d *RawDevice) { d.Partitions[0].Mountpoint = "/" },
			system: true,
			reason: "/dev/sdb1 mounted at /",
		},
		{
			name:   "partition mounted at boot firmware",
			mutate: func(d *RawDevice) { d.Partitions[0].Mountpoint = "/boot/firmware/" },
			system: true,
			reason: "/dev/sdb1 mounted at /boot/firmware/",
		},
		{
			name:     "ordinary mount is fine",
			mutate:   func(d *RawDevice) { d.Partitions[0].Mountpoint = "/media/pi/bootfs" },
			eligible: true,
		},
		{
			name:    "mount table source is a partition",
			mutate:  func(*RawDevice) {},
			sources: map[string]string{"/dev/sdb2": "/"},
			system:  true,
			reason:  "backs system mount /",
		},
		{
			name:    "mount table source is a listed partition",
			mutate:  func(*RawDevice) {},
			sources: map[string]string{"/dev/sdb1": "/boot"},
			system:  true,
			reason:  "backs system mount /boot",
		},
		{
			name:     "unrelated mount table source",
			mutate:   func(*RawDevice) {},
			sources:  map[string]string{"/dev/sdc1": "/", "/dev/sdb10x": "/boot"},
			eligible: true,
		},
		{
			name:   "fixed disk",
			mutate: func(d *RawDevice) { d.Removable = false },
			system: true,
			reason: "non-removable",
		},
		{
			name:   "read-only card",
			mutate: func(d *RawDevice) { d.ReadOnly = true },
			reason: "read-only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := sdCard()
			d.Partitions = append([]models.Partition(nil), d.Partitions...)
			tt.mutate(&d)

			bd := Classify(&d, tt.sources)
			assert.Equal(t, tt.system, bd.System)
			assert.Equal(t, tt.eligible, bd.Eligible())
			if tt.reason != "" {
				assert.Contains(t, bd.Reason, tt.reason)
			}
			assert.Equal(t, "SD Card Reader", bd.Model)
			assert.Equal(t, "bootfs", bd.Label, "label falls back to first partition")
		})
	}
}

func TestBelongsTo(t *testing.T) {
	t.Parallel()

	assert.True(t, belongsTo("/dev/sda1", "/dev/sda"))
	assert.True(t, belongsTo("/dev/mmcblk0p2", "/dev/mmcblk0"))
	assert.True(t, belongsTo("/dev/nvme0n1p3", "/dev/nvme0n1"))
	assert.False(t, belongsTo("/dev/sdab1", "/dev/sda"))
	assert.False(t, belongsTo("/dev/sda", "/dev/sda"))
	assert.False(t, belongsTo("/dev/sda1", ""))
}

func TestPropertyRootBackingDeviceNeverEligible(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		d := RawDevice{
			Name:      "sdx",
			Path:      "/dev/sdx",
			Size:      rapid.Uint64().Draw(t, "size"),
			Removable: rapid.Bool().Draw(t, "removable"),
			ReadOnly:  rapid.Bool().Draw(t, "ro"),
		}
		nParts := rapid.IntRange(1, 8).Draw(t, "parts")
		for i := 1; i <= nParts; i++ {
			d.Partitions = append(d.Partitions, models.Partition{Path: fmt.Sprintf("/dev/sdx%d", i)})
		}
		mp := rapid.SampledFrom(SystemMountpoints).Draw(t, "mountpoint")
		which := rapid.IntRange(0, nParts-1).Draw(t, "which")

		var sources map[string]string
		if rapid.Bool().Draw(t, "viaMountTable") {
			sources = map[string]string{d.Partitions[which].Path: mp}
		} else {
			d.Partitions[which].Mountpoint = mp
		}

		bd := Classify(&d, sources)
		if bd.Eligible() || !bd.System {
			t.Fatalf("device backing %s was classified eligible: %+v", mp, bd)
		}
	})
}

func TestEnumerator_Enumerate(t *testing.T) {
	t.Parallel()

	root := RawDevice{Name: "sda", Path: "/dev/sda", Removable: true, Size: 1 << 30}
	card := sdCard()
	e := NewEnumerator(&fakeLister{devs: []RawDevice{card, root}}, fakeMounts{"/dev/sda1": "/"})

	devs, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "/dev/sda", devs[0].Path, "sorted by path")
	assert.True(t, devs[0].System)
	assert.False(t, devs[1].System)

	eligible, err := e.Eligible(context.Background())
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "/dev/sdb", eligible[0].Path)
}

func TestEnumerator_ListerFailure(t *testing.T) {
	t.Parallel()

	e := NewEnumerator(&fakeLister{err: errors.New("lsblk missing")}, nil)
	_, err := e.Enumerate(context.Background())
	require.ErrorIs(t, err, models.ErrDeviceEnumeration)
}

func TestEnumerator_Revalidate(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{devs: []RawDevice{sdCard()}}
	e := NewEnumerator(lister, nil)
	devs, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	selected := devs[0]

	cur, err := e.Revalidate(context.Background(), selected)
	require.NoError(t, err)
	assert.Equal(t, selected.Path, cur.Path)

	t.Run("vanished", func(t *testing.T) {
		t.Parallel()
		e := NewEnumerator(&fakeLister{}, nil)
		_, err := e.Revalidate(context.Background(), selected)
		require.ErrorIs(t, err, models.ErrStaleDevice)
		require.ErrorIs(t, err, ErrNoSuchDevice)
	})

	t.Run("size changed", func(t *testing.T) {
		t.Parallel()
		d := sdCard()
		d.Size = 64 << 30
		e := NewEnumerator(&fakeLister{devs: []RawDevice{d}}, nil)
		_, err := e.Revalidate(context.Background(), selected)
		require.ErrorIs(t, err, models.ErrStaleDevice)
	})

	t.Run("now mounted as root", func(t *testing.T) {
		t.Parallel()
		e := NewEnumerator(&fakeLister{devs: []RawDevice{sdCard()}}, fakeMounts{"/dev/sdb1": "/"})
		_, err := e.Revalidate(context.Background(), selected)
		require.ErrorIs(t, err, models.ErrProtectedDevice)
		require.ErrorIs(t, err, models.ErrWrite)
	})
}

func TestLoopbackLister(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	loop := NewLoopbackLister(fs, "/data/fake_sd_card.img", 8<<20)

	e := NewDebugEnumerator(loop)
	assert.True(t, e.Debug())

	devs, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.True(t, devs[0].Loopback)
	assert.True(t, devs[0].Eligible())
	assert.Equal(t, uint64(8<<20), devs[0].Size)

	// an existing image is left alone
	require.NoError(t, afero.WriteFile(fs, "/data/fake_sd_card.img", []byte("abc"), 0o600))
	devs, err = e.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), devs[0].Size)
}

func TestDebugEnumerator_IgnoresRealDevices(t *testing.T) {
	t.Parallel()

	e := &Enumerator{lister: &fakeLister{devs: []RawDevice{sdCard()}}, debug: true}
	devs, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestNewLister(t *testing.T) {
	t.Parallel()

	l, err := NewLister("", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LsblkLister{}, l)

	l, err = NewLister("ghw", nil, afero.NewMemMapFs())
	require.NoError(t, err)
	assert.IsType(t, &GhwLister{}, l)

	_, err = NewLister("udev", nil, nil)
	require.Error(t, err)
}
