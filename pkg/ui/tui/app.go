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

// Package tui is the interactive front end: pick a device, confirm, then
// watch the write and verification progress.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/ZaparooProject/zaparoo-imager/pkg/session"
	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	PagePicker  = "picker"
	PageConfirm = "confirm"
	PageWrite   = "write"

	writeWidth  = 72
	writeHeight = 14
)

var ErrNoDevices = errors.New("no eligible devices")

// Runner performs the write on dev, publishing progress through counters.
type Runner func(ctx context.Context, dev models.BlockDevice, counters *progress.Counters) (*session.Result, error)

type Options struct {
	// Screen replaces the terminal, for tests.
	Screen tcell.Screen
	Clock  clockwork.Clock
	Theme  *Theme
	Run    Runner
	// Selected skips the picker.
	Selected    *models.BlockDevice
	SourceName  string
	Devices     []models.BlockDevice
	Interval    time.Duration
	SkipConfirm bool
}

// Run drives the picker, confirmation and progress screens until the user
// exits. Leaving before a write starts returns ErrCancelled.
//
//nolint:gocritic // options are copied once per run
func Run(ctx context.Context, opts Options) (*session.Result, error) {
	if opts.Run == nil {
		return nil, errors.New("tui: no runner")
	}
	if opts.Selected == nil && len(opts.Devices) == 0 {
		return nil, ErrNoDevices
	}
	theme := opts.Theme
	if theme == nil {
		theme = &ThemeDefault
	}
	SetTheme(&tview.Styles, theme)

	app := tview.NewApplication()
	if opts.Screen != nil {
		app.SetScreen(opts.Screen)
	}
	pages := tview.NewPages()

	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()

	var (
		wg       sync.WaitGroup
		started  bool
		finished bool
		page     *writePage
		res      *session.Result
		runErr   error
	)

	start := func(dev models.BlockDevice) {
		started = true
		page = newWritePage(theme, opts.SourceName, &dev)
		pages.AddAndSwitchToPage(PageWrite, CenterWidget(writeWidth, writeHeight, page.root), true)

		counters := &progress.Counters{}
		meter := progress.NewMeter(counters, opts.Clock)
		watchCtx, stopWatch := context.WithCancel(writeCtx)
		watchDone := make(chan struct{})

		go func() {
			defer close(watchDone)
			meter.Watch(watchCtx, opts.Interval, func(s progress.Snapshot) {
				app.QueueUpdateDraw(func() {
					if !finished {
						page.Update(&s)
					}
				})
			})
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := opts.Run(writeCtx, dev, counters)
			stopWatch()
			<-watchDone
			final := meter.Sample()
			app.QueueUpdateDraw(func() {
				res, runErr = r, err
				finished = true
				page.Update(&final)
				page.Finish(r, err)
				if ctx.Err() != nil {
					app.Stop()
				}
			})
		}()
	}

	confirm := func(dev models.BlockDevice) {
		if opts.SkipConfirm {
			start(dev)
			return
		}
		modal := genericModal(
			confirmText(opts.SourceName, &dev),
			"Confirm",
			[]string{"Write", "Cancel"},
			func(idx int, _ string) {
				pages.RemovePage(PageConfirm)
				switch {
				case idx == 0:
					start(dev)
				case opts.Selected == nil:
					pages.SwitchToPage(PagePicker)
				default:
					app.Stop()
				}
			},
		)
		pages.AddPage(PageConfirm, modal, true, true)
	}

	if opts.Selected != nil {
		pages.AddPage(PagePicker, tview.NewBox(), true, true)
		confirm(*opts.Selected)
	} else {
		pageDefaults(PagePicker, pages, NewDevicePicker(opts.Devices, confirm, app.Stop))
	}

	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch {
		case finished && (ev.Key() == tcell.KeyEnter || ev.Key() == tcell.KeyEscape):
			app.Stop()
			return nil
		case ev.Key() != tcell.KeyCtrlC && ev.Key() != tcell.KeyEscape:
			return ev
		case finished || !started:
			if ev.Key() == tcell.KeyEscape && pages.HasPage(PageConfirm) {
				return ev
			}
			app.Stop()
			return nil
		default:
			log.Info().Msg("write cancelled from tui")
			cancelWrite()
			page.Cancelling()
			return nil
		}
	})

	appDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// handled on the event loop like a keypress
			app.QueueEvent(tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModNone))
		case <-appDone:
		}
	}()

	err := app.SetRoot(pages, true).Run()
	close(appDone)
	wg.Wait()

	if err != nil {
		return res, fmt.Errorf("tui: %w", err)
	}
	if !started {
		return nil, fmt.Errorf("%w: no device written", models.ErrCancelled)
	}
	return res, runErr
}
