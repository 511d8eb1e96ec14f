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


package tui

import (
	"context"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/session"
	"github.com/stretchr/testify/require"
)

const uiTimeout = 3 * time.Second

// TestAppRunner runs Run in a goroutine against a simulation screen so
// tests can inject keys and wait on what is drawn.
type TestAppRunner struct {
	t      *testing.T
	screen *TestScreen
	done   chan struct{}
	res    *session.Result
	err    error
}

func NewTestAppRunner(ctx context.Context, t *testing.T, opts Options) *TestAppRunner {
	t.Helper()

	screen := NewTestScreen(t, 80, 25)
	opts.Screen = screen.SimulationScreen
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Millisecond
	}

	r := &TestAppRunner{
		t:      t,
		screen: screen,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		r.res, r.err = Run(ctx, opts)
	}()
	return r
}

func (r *TestAppRunner) Screen() *TestScreen {
	return r.screen
}

// WaitForText fails the test if text is not drawn within uiTimeout.
func (r *TestAppRunner) WaitForText(text string) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		return r.screen.ContainsText(text)
	}, uiTimeout, 10*time.Millisecond, "%q never appeared", text)
}

// Wait blocks until Run returns.
func (r *TestAppRunner) Wait() (*session.Result, error) {
	r.t.Helper()
	select {
	case <-r.done:
		return r.res, r.err
	case <-time.After(uiTimeout):
		r.t.Fatal("tui did not exit")
		return nil, nil
	}
}
