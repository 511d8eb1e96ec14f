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

package helpers

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d := Dirs{
		ConfigDir: filepath.Join(root, "config", "nested"),
		DataDir:   filepath.Join(root, "data"),
		LogDir:    filepath.Join(root, "logs"),
	}

	require.NoError(t, EnsureDirectories(d))
	require.NoError(t, EnsureDirectories(d), "existing directories are fine")

	for _, dir := range []string{d.ConfigDir, d.DataDir, d.LogDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		if runtime.GOOS != "windows" {
			assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
		}
	}
}

func TestDefaultDirs(t *testing.T) {
	t.Parallel()

	d := DefaultDirs()
	assert.Equal(t, config.AppName, filepath.Base(d.ConfigDir))
	assert.Equal(t, config.AppName, filepath.Base(d.DataDir))
	assert.Equal(t, config.AppName, filepath.Base(d.LogDir))
}

func TestYesNoPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		def   bool
		want  bool
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "full no", input: "NO\n", def: true, want: false},
		{name: "empty uses default", input: "\n", def: true, want: true},
		{name: "eof uses default", input: "", def: false, want: false},
		{name: "retries on junk", input: "maybe\nyes\n", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			got := YesNoPrompt(strings.NewReader(tt.input), &out, "Write?", tt.def)

			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Write?")
		})
	}
}
