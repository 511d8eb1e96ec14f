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


package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/catalog"
	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/ZaparooProject/zaparoo-imager/pkg/devices"
	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers/command"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/ZaparooProject/zaparoo-imager/pkg/session"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/ZaparooProject/zaparoo-imager/pkg/source"
	"github.com/ZaparooProject/zaparoo-imager/pkg/stream"
	"github.com/ZaparooProject/zaparoo-imager/pkg/ui/tui"
	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

const progressLogInterval = 5 * time.Second

// App holds the collaborators a command line run needs. Tests replace the
// filesystem, executor and streams.
type App struct {
	Fs     afero.Fs
	Cfg    *config.Instance
	Client *httpclient.Client
	Cmd    command.Executor
	Mounts devices.MountTable
	Locks  *session.Locks
	Clock  clockwork.Clock
	In     io.Reader
	Out    io.Writer
	// Screen replaces the terminal for -tui.
	Screen  tcell.Screen
	DataDir string
}

// NewApp returns an App backed by the real system.
func NewApp(cfg *config.Instance, dirs helpers.Dirs) *App {
	return &App{
		Fs:      afero.NewOsFs(),
		Cfg:     cfg,
		Client:  httpclient.NewClient(cfg.LookupAuth),
		Cmd:     &command.RealExecutor{},
		Mounts:  devices.SystemMounts{},
		Locks:   session.NewLocks(),
		Clock:   clockwork.NewRealClock(),
		In:      os.Stdin,
		Out:     os.Stdout,
		DataDir: dirs.DataDir,
	}
}

// Run performs the action selected by f.
func (a *App) Run(ctx context.Context, f *Flags) error {
	if *f.Version {
		_, _ = fmt.Fprintf(a.Out, "Zaparoo Imager v%s\n", config.AppVersion)
		return nil
	}
	if err := f.Validate(); err != nil {
		return err
	}

	enum, err := a.enumerator(*f.Debug)
	if err != nil {
		return err
	}

	if *f.List {
		return a.listDevices(ctx, enum)
	}

	src, err := a.resolveSource(ctx, f)
	if err != nil {
		return err
	}
	log.Info().
		Str("source", src.Location).
		Str("compression", src.Compression.String()).
		Uint64("size", src.UncompressedSize).
		Msg("image resolved")

	if *f.TUI {
		return a.runTUI(ctx, f, enum, &src)
	}

	dev, err := a.selectDevice(ctx, enum, *f.Device)
	if err != nil {
		return err
	}
	if !*f.Yes && !a.confirm(&src, &dev) {
		return fmt.Errorf("%w: declined at prompt", models.ErrCancelled)
	}

	res, err := a.writeWithProgress(ctx, enum, &src, dev, *f.NoVerify)
	a.printSummary(res, err)
	return err
}

func (a *App) enumerator(debug bool) (*devices.Enumerator, error) {
	if debug {
		loop := devices.NewLoopbackLister(a.Fs, a.Cfg.DebugImage(a.DataDir), a.Cfg.DebugImageSize())
		log.Warn().Str("device", loop.Path).Msg("debug mode, only the loopback image can be written")
		return devices.NewDebugEnumerator(loop), nil
	}

	lister, err := devices.NewLister(a.Cfg.DevicesBackend(), a.Cmd, a.Fs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	return devices.NewEnumerator(lister, a.Mounts), nil
}

func (a *App) listDevices(ctx context.Context, enum *devices.Enumerator) error {
	devs, err := enum.Enumerate(ctx)
	if err != nil {
		return err //nolint:wrapcheck // already carries the enumeration kind
	}
	if len(devs) == 0 {
		_, _ = fmt.Fprintln(a.Out, "No devices found")
		return nil
	}
	for i := range devs {
		d := &devs[i]
		status := "eligible"
		if !d.Eligible() {
			status = "protected: " + d.Reason
		}
		_, _ = fmt.Fprintf(a.Out, "%-24s %s [%s]\n", d.Path, d.Description(), status)
	}
	return nil
}

func (a *App) resolveSource(ctx context.Context, f *Flags) (models.ImageSource, error) {
	o, err := f.Overrides()
	if err != nil {
		return models.ImageSource{}, err
	}
	resolver := source.NewResolver(a.Client, a.Fs)

	if *f.Image != "" {
		src, err := resolver.Resolve(ctx, *f.Image, o)
		if err != nil {
			return src, fmt.Errorf("resolving %s: %w", *f.Image, err)
		}
		return src, nil
	}

	ref := *f.Catalog
	if ref == "" {
		ref = a.Cfg.CatalogURL()
	}
	cat, err := catalog.Load(ctx, a.Client, a.Fs, ref)
	if err != nil {
		return models.ImageSource{}, err //nolint:wrapcheck // Load names the catalog
	}
	entry, err := catalog.Find(cat.Flatten(), *f.Entry)
	if err != nil {
		return models.ImageSource{}, err //nolint:wrapcheck // Find includes suggestions
	}
	src, err := resolver.ResolveEntry(ctx, entry, o)
	if err != nil {
		return src, fmt.Errorf("resolving %s: %w", entry.Path, err)
	}
	return src, nil
}

// selectDevice finds ref among the enumerated devices and refuses
// protected ones.
func (a *App) selectDevice(ctx context.Context, enum *devices.Enumerator, ref string) (models.BlockDevice, error) {
	devs, err := enum.Enumerate(ctx)
	if err != nil {
		return models.BlockDevice{}, err //nolint:wrapcheck // already carries the enumeration kind
	}
	dev, ok := devices.Find(devs, ref)
	if !ok {
		return dev, fmt.Errorf("%w: %s: %w", models.ErrDeviceEnumeration, ref, devices.ErrNoSuchDevice)
	}
	if !dev.Eligible() {
		return dev, fmt.Errorf("%w: %s: %s", models.ErrProtectedDevice, dev.Path, dev.Reason)
	}
	return dev, nil
}

func (a *App) confirm(src *models.ImageSource, dev *models.BlockDevice) bool {
	label := fmt.Sprintf(
		"Write %s to %s (%s)? Everything on the device will be erased.",
		src.Name, dev.Description(), dev.Path,
	)
	return helpers.YesNoPrompt(a.In, a.Out, label, false)
}

//nolint:gocritic // device snapshot is copied into the session
func (a *App) runSession(
	ctx context.Context,
	enum *devices.Enumerator,
	src *models.ImageSource,
	dev models.BlockDevice,
	counters *progress.Counters,
	noVerify bool,
) (*session.Result, error) {
	deps := session.Deps{
		Fs:             a.Fs,
		Client:         a.Client,
		Enumerator:     enum,
		Locks:          a.Locks,
		Counters:       counters,
		InstallID:      a.Cfg.InstallID(),
		Pipeline:       stream.OptionsFromConfig(a.Cfg, counters),
		VerifyReadSize: a.Cfg.ChunkSize(),
		Verify:         a.Cfg.VerifyEnabled() && !noVerify,
	}
	res, err := session.New(*src, dev, deps).Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("session failed")
	}
	return res, err //nolint:wrapcheck // StageError carries stage and offset
}

// writeWithProgress runs the session while printing a status line.
//
//nolint:gocritic // device snapshot is copied into the session
func (a *App) writeWithProgress(
	ctx context.Context,
	enum *devices.Enumerator,
	src *models.ImageSource,
	dev models.BlockDevice,
	noVerify bool,
) (*session.Result, error) {
	counters := &progress.Counters{}
	meter := progress.NewMeter(counters, a.Clock)
	throttle := rate.Sometimes{Interval: progressLogInterval}

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		meter.Watch(watchCtx, progress.DefaultInterval, func(s progress.Snapshot) {
			line := s.String()
			_, _ = fmt.Fprintf(a.Out, "\r%-72s", line)
			throttle.Do(func() {
				log.Info().Str("device", dev.Path).Msg(line)
			})
		})
	}()

	res, err := a.runSession(ctx, enum, src, dev, counters, noVerify)
	stopWatch()
	wg.Wait()
	_, _ = fmt.Fprintln(a.Out)
	return res, err
}

func (a *App) runTUI(ctx context.Context, f *Flags, enum *devices.Enumerator, src *models.ImageSource) error {
	opts := tui.Options{
		Screen:      a.Screen,
		Clock:       a.Clock,
		SourceName:  src.Name,
		SkipConfirm: *f.Yes,
		Run: func(ctx context.Context, dev models.BlockDevice, counters *progress.Counters) (*session.Result, error) {
			return a.runSession(ctx, enum, src, dev, counters, *f.NoVerify)
		},
	}

	if *f.Device != "" {
		dev, err := a.selectDevice(ctx, enum, *f.Device)
		if err != nil {
			return err
		}
		opts.Selected = &dev
	} else {
		devs, err := enum.Eligible(ctx)
		if err != nil {
			return err //nolint:wrapcheck // already carries the enumeration kind
		}
		opts.Devices = devs
	}

	res, err := tui.Run(ctx, opts)
	if res != nil {
		a.printSummary(res, err)
	}
	return err //nolint:wrapcheck // session errors pass through for exit codes
}

func (a *App) printSummary(res *session.Result, err error) {
	for _, line := range session.Describe(res, err) {
		_, _ = fmt.Fprintln(a.Out, line)
	}
}
