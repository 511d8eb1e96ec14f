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


package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/zaparoo-imager/pkg/cli"
	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers"
	"github.com/rs/zerolog/log"
)

func main() {
	err := run()
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(cli.ExitCode(err))
}

func run() (returnErr error) {
	flags := cli.SetupFlags(flag.CommandLine)
	flag.Parse()

	if *flags.Version {
		_, _ = fmt.Printf("Zaparoo Imager v%s\n", config.AppVersion)
		return nil
	}
	if err := flags.Validate(); err != nil {
		flag.Usage()
		return err
	}

	dirs := helpers.DefaultDirs()
	cfg, err := cli.Setup(dirs, config.BaseDefaults, nil)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %v\n", r)
			log.Error().Msgf("panic recovered: %v", r)
			returnErr = fmt.Errorf("panic: %v", r)
		}
	}()

	if !*flags.Debug && os.Geteuid() != 0 {
		log.Warn().Msg("not running as root, device access may be refused")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cli.NewApp(cfg, dirs).Run(ctx, flags)
}
