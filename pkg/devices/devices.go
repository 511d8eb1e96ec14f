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

// Package devices lists the block devices attached to the host and decides
// which of them may be written to.
package devices

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers/command"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// RawDevice is a disk as reported by a Lister, before classification.
type RawDevice struct {
	Name       string
	Path       string
	Model      string
	Label      string
	Mountpoint string
	Partitions []models.Partition
	Size       uint64
	Removable  bool
	ReadOnly   bool
	Loopback   bool
}

// Lister reports the whole-disk block devices present right now.
type Lister interface {
	List(ctx context.Context) ([]RawDevice, error)
}

// MountTable reports the sources of the running system's root and boot
// mounts, keyed by device path with the mountpoint as value.
type MountTable interface {
	SystemSources(ctx context.Context) (map[string]string, error)
}

// SystemMountpoints are the mountpoints whose backing device is never a
// valid target.
var SystemMountpoints = []string{"/", "/boot", "/boot/efi", "/boot/firmware"}

func isSystemMountpoint(mp string) bool {
	return slices.Contains(SystemMountpoints, filepath.Clean(mp))
}

// Classify derives the safety flags for d. sources comes from a MountTable
// and may be nil.
func Classify(d *RawDevice, sources map[string]string) models.BlockDevice {
	bd := models.BlockDevice{
		ID:         d.Name,
		Path:       d.Path,
		Model:      strings.TrimSpace(d.Model),
		Label:      d.Label,
		Size:       d.Size,
		Removable:  d.Removable,
		ReadOnly:   d.ReadOnly,
		Loopback:   d.Loopback,
		Partitions: d.Partitions,
	}
	if bd.ID == "" {
		bd.ID = filepath.Base(d.Path)
	}
	if bd.Label == "" {
		for _, p := range d.Partitions {
			if p.Label != "" {
				bd.Label = p.Label
				break
			}
		}
	}

	switch reason := systemReason(d, sources); {
	case reason != "":
		bd.System = true
		bd.Reason = reason
	case !d.Removable && !d.Loopback:
		bd.System = true
		bd.Reason = "non-removable"
	case d.ReadOnly:
		bd.Reason = "read-only"
	}

	return bd
}

func systemReason(d *RawDevice, sources map[string]string) string {
	if d.Mountpoint != "" && isSystemMountpoint(d.Mountpoint) {
		return "mounted at " + d.Mountpoint
	}
	for _, p := range d.Partitions {
		if p.Mountpoint != "" && isSystemMountpoint(p.Mountpoint) {
			return fmt.Sprintf("%s mounted at %s", p.Path, p.Mountpoint)
		}
	}
	for src, mp := range sources {
		if src == d.Path || belongsTo(src, d.Path) {
			return fmt.Sprintf("backs system mount %s", mp)
		}
		for _, p := range d.Partitions {
			if src == p.Path {
				return fmt.Sprintf("%s backs system mount %s", p.Path, mp)
			}
		}
	}
	return ""
}

// belongsTo reports whether part names a partition of disk, covering both
// "/dev/sda1" and "/dev/mmcblk0p1" styles.
func belongsTo(part, disk string) bool {
	if disk == "" {
		return false
	}
	rest, ok := strings.CutPrefix(part, disk)
	if !ok || rest == "" {
		return false
	}
	rest = strings.TrimPrefix(rest, "p")
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Enumerator produces classified device snapshots.
type Enumerator struct {
	lister Lister
	mounts MountTable
	debug  bool
}

// NewEnumerator enumerates real devices, using mounts to find the system
// disk. mounts may be nil when the lister already reports mountpoints.
func NewEnumerator(lister Lister, mounts MountTable) *Enumerator {
	return &Enumerator{lister: lister, mounts: mounts}
}

// NewDebugEnumerator only ever reports the loopback image.
func NewDebugEnumerator(loop *LoopbackLister) *Enumerator {
	return &Enumerator{lister: loop, debug: true}
}

// Debug reports whether the enumerator is restricted to the loopback image.
func (e *Enumerator) Debug() bool {
	return e.debug
}

// Enumerate returns a fresh snapshot of every disk, sorted by path.
func (e *Enumerator) Enumerate(ctx context.Context) ([]models.BlockDevice, error) {
	raw, err := e.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDeviceEnumeration, err)
	}

	var sources map[string]string
	if e.mounts != nil {
		sources, err = e.mounts.SystemSources(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: reading mount table: %w", models.ErrDeviceEnumeration, err)
		}
	}

	devs := make([]models.BlockDevice, 0, len(raw))
	for i := range raw {
		if e.debug && !raw[i].Loopback {
			log.Warn().Str("device", raw[i].Path).Msg("ignoring real device in debug mode")
			continue
		}
		bd := Classify(&raw[i], sources)
		log.Debug().
			Str("device", bd.Path).
			Bool("system", bd.System).
			Str("reason", bd.Reason).
			Msg("classified device")
		devs = append(devs, bd)
	}

	slices.SortFunc(devs, func(a, b models.BlockDevice) int {
		return strings.Compare(a.Path, b.Path)
	})
	return devs, nil
}

// Eligible filters Enumerate to the devices that may be written to.
func (e *Enumerator) Eligible(ctx context.Context) ([]models.BlockDevice, error) {
	devs, err := e.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	out := devs[:0]
	for i := range devs {
		if devs[i].Eligible() {
			out = append(out, devs[i])
		}
	}
	return out, nil
}

// Find returns the device whose path or ID equals ref.
func Find(devs []models.BlockDevice, ref string) (models.BlockDevice, bool) {
	for i := range devs {
		if devs[i].Path == ref || devs[i].ID == ref {
			return devs[i], true
		}
	}
	return models.BlockDevice{}, false
}

// ErrNoSuchDevice is returned when a requested device is not present.
var ErrNoSuchDevice = errors.New("no such device")

// Revalidate re-enumerates and returns the current record for selected.
// It fails if the device is gone, changed size, or is no longer eligible.
//
//nolint:gocritic // snapshot passed by value
func (e *Enumerator) Revalidate(ctx context.Context, selected models.BlockDevice) (models.BlockDevice, error) {
	devs, err := e.Enumerate(ctx)
	if err != nil {
		return models.BlockDevice{}, err
	}

	cur, ok := Find(devs, selected.Path)
	if !ok {
		return models.BlockDevice{}, fmt.Errorf("%w: %s: %w", models.ErrStaleDevice, selected.Path, ErrNoSuchDevice)
	}
	if cur.Size != selected.Size {
		return models.BlockDevice{}, fmt.Errorf("%w: %s size changed from %d to %d",
			models.ErrStaleDevice, selected.Path, selected.Size, cur.Size)
	}
	if !cur.Eligible() {
		return models.BlockDevice{}, fmt.Errorf("%w: %s: %s", models.ErrProtectedDevice, cur.Path, cur.Reason)
	}
	return cur, nil
}

// NewLister returns the Lister for a devices.backend config value.
func NewLister(backend string, cmd command.Executor, fs afero.Fs) (Lister, error) {
	switch backend {
	case "", config.BackendLsblk:
		return NewLsblkLister(cmd), nil
	case config.BackendGhw:
		return &GhwLister{Fs: fs}, nil
	default:
		return nil, fmt.Errorf("unknown device backend %q", backend)
	}
}
