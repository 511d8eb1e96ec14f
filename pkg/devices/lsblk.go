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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers/command"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
)

// LsblkArgs are the arguments passed to lsblk.
var LsblkArgs = []string{"-J", "-b", "-o", "NAME,PATH,SIZE,MODEL,TYPE,MOUNTPOINT,LABEL,RM,RO"}

// LsblkLister lists disks by running lsblk.
type LsblkLister struct {
	Cmd command.Executor
}

func NewLsblkLister(cmd command.Executor) *LsblkLister {
	if cmd == nil {
		cmd = &command.RealExecutor{}
	}
	return &LsblkLister{Cmd: cmd}
}

func (l *LsblkLister) List(ctx context.Context) ([]RawDevice, error) {
	out, err := l.Cmd.Output(ctx, "lsblk", LsblkArgs...)
	if err != nil {
		return nil, fmt.Errorf("running lsblk: %w", err)
	}
	return ParseLsblk(out)
}

// lsblk versions disagree on whether RM, RO and SIZE are JSON booleans,
// numbers or strings, so those fields are decoded leniently.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(s) {
	case "1", "true":
		*b = true
	case "0", "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}

type flexUint uint64

func (u *flexUint) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*u = flexUint(n)
	return nil
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Model      *string       `json:"model"`
	Type       string        `json:"type"`
	Mountpoint *string       `json:"mountpoint"`
	Label      *string       `json:"label"`
	Children   []lsblkDevice `json:"children"`
	Size       flexUint      `json:"size"`
	RM         flexBool      `json:"rm"`
	RO         flexBool      `json:"ro"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ParseLsblk converts `lsblk -J` output into RawDevices. Only top-level
// entries of type "disk" are kept; mountpoints of all descendants are
// collected as partitions.
func ParseLsblk(data []byte) ([]RawDevice, error) {
	var out lsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing lsblk output: %w", err)
	}

	devs := make([]RawDevice, 0, len(out.BlockDevices))
	for i := range out.BlockDevices {
		d := &out.BlockDevices[i]
		if d.Type != "disk" {
			continue
		}
		path := d.Path
		if path == "" {
			path = "/dev/" + d.Name
		}
		raw := RawDevice{
			Name:       d.Name,
			Path:       path,
			Model:      deref(d.Model),
			Label:      deref(d.Label),
			Mountpoint: deref(d.Mountpoint),
			Size:       uint64(d.Size),
			Removable:  bool(d.RM),
			ReadOnly:   bool(d.RO),
		}
		collectPartitions(d.Children, &raw.Partitions)
		devs = append(devs, raw)
	}
	return devs, nil
}

func collectPartitions(children []lsblkDevice, parts *[]models.Partition) {
	for i := range children {
		c := &children[i]
		path := c.Path
		if path == "" {
			path = "/dev/" + c.Name
		}
		*parts = append(*parts, models.Partition{
			Path:       path,
			Label:      deref(c.Label),
			Mountpoint: deref(c.Mountpoint),
		})
		collectPartitions(c.Children, parts)
	}
}
