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

// Package cli wires configuration, device enumeration, source resolution
// and a write session behind the command line flags.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/source"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Exit codes.
const (
	ExitOK           = 0
	ExitUsage        = 1
	ExitCancelled    = 2
	ExitVerification = 3
	ExitFatal        = 4
)

var ErrUsage = errors.New("usage error")

type Flags struct {
	Device   *string
	Image    *string
	Entry    *string
	Catalog  *string
	SHA256   *string
	Size     *string
	Debug    *bool
	List     *bool
	Yes      *bool
	TUI      *bool
	NoVerify *bool
	Version  *bool
}

// SetupFlags defines the imager flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Device: fs.String(
			"device",
			"",
			"target device path or id",
		),
		Image: fs.String(
			"image",
			"",
			"image URL or local path",
		),
		Entry: fs.String(
			"entry",
			"",
			"catalog entry name or path, e.g. \"Raspberry Pi OS (other)/Raspberry Pi OS Lite (64-bit)\"",
		),
		Catalog: fs.String(
			"catalog",
			"",
			"catalog URL or local path (defaults to catalog.url from config)",
		),
		SHA256: fs.String(
			"sha256",
			"",
			"expected SHA-256 of the decompressed image",
		),
		Size: fs.String(
			"size",
			"",
			"decompressed image size, e.g. 2.1GiB",
		),
		Debug: fs.Bool(
			"debug",
			false,
			"write to a loopback image instead of real devices",
		),
		List: fs.Bool(
			"list",
			false,
			"list devices and exit",
		),
		Yes: fs.Bool(
			"yes",
			false,
			"skip the confirmation prompt",
		),
		TUI: fs.Bool(
			"tui",
			false,
			"pick the device and show progress in the text ui",
		),
		NoVerify: fs.Bool(
			"no-verify",
			false,
			"skip reading the device back after writing",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

// Validate checks flag combinations that parsing alone can't.
func (f *Flags) Validate() error {
	if *f.Version || *f.List {
		return nil
	}
	switch {
	case *f.Image == "" && *f.Entry == "":
		return fmt.Errorf("%w: one of -image or -entry is required", ErrUsage)
	case *f.Image != "" && *f.Entry != "":
		return fmt.Errorf("%w: -image and -entry are mutually exclusive", ErrUsage)
	case *f.Device == "" && !*f.TUI:
		return fmt.Errorf("%w: -device is required without -tui", ErrUsage)
	}
	if _, err := f.Overrides(); err != nil {
		return err
	}
	return nil
}

// Overrides returns the user supplied digest and size.
func (f *Flags) Overrides() (source.Overrides, error) {
	var o source.Overrides
	if *f.SHA256 != "" {
		digest, err := source.NormalizeDigest(*f.SHA256)
		if err != nil {
			return o, fmt.Errorf("%w: -sha256: %w", ErrUsage, err)
		}
		o.SHA256 = digest
	}
	if *f.Size != "" {
		n, err := humanize.ParseBytes(*f.Size)
		if err != nil || n == 0 {
			return o, fmt.Errorf("%w: -size: invalid size %q", ErrUsage, *f.Size)
		}
		o.Size = n
	}
	return o, nil
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, models.ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, models.ErrVerificationFailed):
		return ExitVerification
	case errors.Is(err, ErrUsage), errors.Is(err, config.ErrSchemaMismatch):
		return ExitUsage
	default:
		return ExitFatal
	}
}

// Setup creates the user directories, starts logging and loads the
// config.
//
//nolint:gocritic // config struct copied for immutability
func Setup(dirs helpers.Dirs, defaults config.Values, writers []io.Writer) (*config.Instance, error) {
	if err := helpers.EnsureDirectories(dirs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if err := helpers.InitLogging(dirs.LogDir, writers); err != nil {
		return nil, fmt.Errorf("%w: error initializing logging: %w", ErrUsage, err)
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), dirs.ConfigDir, defaults)
	if err != nil {
		return nil, fmt.Errorf("%w: error loading config: %w", ErrUsage, err)
	}

	helpers.SetLogLevel(cfg.DebugLogging())
	log.Info().
		Str("version", config.AppVersion).
		Str("install", cfg.InstallID()).
		Msg("zaparoo imager starting")

	return cfg, nil
}
