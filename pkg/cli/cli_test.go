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
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"

	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/session"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/ZaparooProject/zaparoo-imager/pkg/testing/helpers"
	"github.com/ZaparooProject/zaparoo-imager/pkg/testing/mocks"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dataDir  = "/data"
	loopPath = "/data/fake_sd_card.img"
	loopSize = 1 << 20
)

func parseFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	fs := flag.NewFlagSet("imager", flag.ContinueOnError)
	f := SetupFlags(fs)
	require.NoError(t, fs.Parse(args))
	return f
}

type testApp struct {
	*App
	fs  *helpers.FSHelper
	out *bytes.Buffer
}

func newTestApp(t *testing.T, stdin string) *testApp {
	t.Helper()
	fs := helpers.NewMemoryFS()
	defaults := config.BaseDefaults
	defaults.Devices.DebugImageSize = loopSize
	defaults.Verify.BlockSize = 4096
	cfg, err := config.NewConfig(fs.Fs, "/config", defaults)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &testApp{
		App: &App{
			Fs:      fs.Fs,
			Cfg:     cfg,
			Client:  httpclient.NewClient(nil),
			Cmd:     helpers.NewMockCommandExecutor(),
			Mounts:  &mocks.MockMountTable{},
			Locks:   session.NewLocks(),
			Clock:   clockwork.NewFakeClock(),
			In:      strings.NewReader(stdin),
			Out:     out,
			DataDir: dataDir,
		},
		fs:  fs,
		out: out,
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want int
	}{
		{name: "success", err: nil, want: ExitOK},
		{name: "usage", err: fmt.Errorf("%w: bad flag", ErrUsage), want: ExitUsage},
		{name: "schema", err: config.ErrSchemaMismatch, want: ExitUsage},
		{name: "cancelled", err: models.NewStageError(models.StageWrite, 10, models.ErrCancelled, context.Canceled), want: ExitCancelled},
		{name: "context", err: context.Canceled, want: ExitCancelled},
		{name: "verification", err: models.NewStageError(models.StageVerify, 0, models.ErrVerificationFailed, nil), want: ExitVerification},
		{name: "write", err: models.ErrDeviceBusy, want: ExitFatal},
		{name: "source", err: models.ErrFetch, want: ExitFatal},
		{name: "other", err: errors.New("boom"), want: ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFlags_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "image and device", args: []string{"-image", "a.img", "-device", "/dev/sdb"}},
		{name: "entry with tui", args: []string{"-entry", "Raspberry Pi OS", "-tui"}},
		{name: "list only", args: []string{"-list"}},
		{name: "version only", args: []string{"-version"}},
		{name: "no source", args: []string{"-device", "/dev/sdb"}, wantErr: true},
		{name: "two sources", args: []string{"-image", "a.img", "-entry", "x", "-device", "/dev/sdb"}, wantErr: true},
		{name: "no device", args: []string{"-image", "a.img"}, wantErr: true},
		{name: "bad digest", args: []string{"-image", "a.img", "-device", "d", "-sha256", "xyz"}, wantErr: true},
		{name: "bad size", args: []string{"-image", "a.img", "-device", "d", "-size", "lots"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := parseFlags(t, tt.args...).Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUsage)
				assert.Equal(t, ExitUsage, ExitCode(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFlags_Overrides(t *testing.T) {
	t.Parallel()

	digest := strings.Repeat("AB", 32)
	f := parseFlags(t, "-sha256", digest, "-size", "2MiB")
	o, err := f.Overrides()
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(digest), o.SHA256)
	assert.Equal(t, uint64(2<<20), o.Size)
}

func TestApp_Version(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "")
	require.NoError(t, a.Run(context.Background(), parseFlags(t, "-version")))
	assert.Contains(t, a.out.String(), "Zaparoo Imager v"+config.AppVersion)
}

func TestApp_ListDebug(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "")
	require.NoError(t, a.Run(context.Background(), parseFlags(t, "-debug", "-list")))

	out := a.out.String()
	assert.Contains(t, out, loopPath)
	assert.Contains(t, out, "Loopback image")
	assert.Contains(t, out, "[eligible]")
}
