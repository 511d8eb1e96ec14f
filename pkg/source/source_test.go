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

package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ZaparooProject/zaparoo-imager/pkg/catalog"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/ZaparooProject/zaparoo-imager/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var digest = strings.Repeat("ab", 32)

func newResolver(fs *helpers.FSHelper) *Resolver {
	if fs == nil {
		fs = helpers.NewMemoryFS()
	}
	return NewResolver(httpclient.NewClient(nil), fs.Fs)
}

func TestFromName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    models.Compression
		known   bool
		wantErr bool
	}{
		{"raspios.img", models.CompressionNone, true, false},
		{"ubuntu.iso", models.CompressionNone, true, false},
		{"disk.RAW", models.CompressionNone, true, false},
		{"firmware.bin", models.CompressionNone, true, false},
		{"image", models.CompressionNone, false, false},
		{"/images/raspios.img.xz", models.CompressionXz, true, false},
		{"a.img.gz", models.CompressionGzip, true, false},
		{"a.gzip", models.CompressionGzip, true, false},
		{"a.img.zst", models.CompressionZstd, true, false},
		{"a.ZSTD", models.CompressionZstd, true, false},
		{"a.zip", models.CompressionNone, true, true},
		{"a.img.bz2", models.CompressionNone, true, true},
		{"a.7z", models.CompressionNone, true, true},
		{"rootfs.tar.gz", models.CompressionNone, true, true},
		{"a.dmg", models.CompressionNone, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, known, err := FromName(tt.name)
			assert.Equal(t, tt.known, known)
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrUnsupportedCompression)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestFromContentType(t *testing.T) {
	t.Parallel()

	kind, known, err := FromContentType("application/x-xz")
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, models.CompressionXz, kind)

	kind, known, err = FromContentType("application/gzip; charset=binary")
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, models.CompressionGzip, kind)

	_, known, err = FromContentType("application/zip")
	assert.True(t, known)
	require.ErrorIs(t, err, models.ErrUnsupportedCompression)

	_, known, err = FromContentType("text/html")
	require.NoError(t, err)
	assert.False(t, known)

	_, known, err = FromContentType("")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestNormalizeDigest(t *testing.T) {
	t.Parallel()

	got, err := NormalizeDigest("  " + strings.ToUpper(digest) + "\n")
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	got, err = NormalizeDigest("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NormalizeDigest("abc")
	require.ErrorIs(t, err, ErrInvalidDigest)

	_, err = NormalizeDigest(strings.Repeat("zz", 32))
	require.ErrorIs(t, err, ErrInvalidDigest)
}

func TestResolve_Local(t *testing.T) {
	t.Parallel()

	fs := helpers.NewMemoryFS()
	require.NoError(t, fs.CreateFile("/images/os.img", make([]byte, 4096)))
	require.NoError(t, fs.CreateFile("/images/os.img.xz", make([]byte, 100)))
	require.NoError(t, fs.CreateFile("/images/os.zip", make([]byte, 100)))
	r := newResolver(fs)

	src, err := r.Resolve(context.Background(), "/images/os.img", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.OriginLocal, src.Origin)
	assert.Equal(t, models.CompressionNone, src.Compression)
	assert.Equal(t, uint64(4096), src.CompressedSize)
	assert.Equal(t, uint64(4096), src.UncompressedSize)
	assert.Equal(t, "os.img", src.Name)
	assert.Empty(t, src.ExpectedSHA256)

	src, err = r.Resolve(context.Background(), "/images/os.img.xz", Overrides{SHA256: digest, Size: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, models.CompressionXz, src.Compression)
	assert.Equal(t, uint64(100), src.CompressedSize)
	assert.Equal(t, uint64(1<<20), src.UncompressedSize)
	assert.Equal(t, digest, src.ExpectedSHA256)

	_, err = r.Resolve(context.Background(), "/images/os.zip", Overrides{})
	require.ErrorIs(t, err, models.ErrUnsupportedCompression)

	_, err = r.Resolve(context.Background(), "/images/missing.img", Overrides{})
	require.ErrorIs(t, err, models.ErrSourceUnavailable)

	_, err = r.Resolve(context.Background(), "/images", Overrides{})
	require.ErrorIs(t, err, models.ErrSourceUnavailable)

	_, err = r.Resolve(context.Background(), "/images/os.img", Overrides{SHA256: "nope"})
	require.ErrorIs(t, err, ErrInvalidDigest)
}

func TestResolve_Remote(t *testing.T) {
	t.Parallel()

	data := helpers.Pattern(5000)
	srv := helpers.NewImageServer(t, data, helpers.ImageServerOptions{})

	src, err := newResolver(nil).Resolve(context.Background(), srv.URL+"/images/raspios.img.xz", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.OriginRemote, src.Origin)
	assert.Equal(t, models.CompressionXz, src.Compression)
	assert.Equal(t, uint64(5000), src.CompressedSize)
	assert.Zero(t, src.UncompressedSize)
	assert.True(t, src.RangeSupported)
	assert.Equal(t, "raspios.img.xz", src.Name)
	assert.Zero(t, srv.Gets(), "HEAD is enough")
}

func TestResolve_RemoteHeadRefused(t *testing.T) {
	t.Parallel()

	srv := helpers.NewImageServer(t, helpers.Pattern(777), helpers.ImageServerOptions{NoHead: true})

	src, err := newResolver(nil).Resolve(context.Background(), srv.URL+"/os.img.zst", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.CompressionZstd, src.Compression)
	assert.Equal(t, uint64(777), src.CompressedSize)
	assert.True(t, src.RangeSupported)
	assert.Equal(t, []string{"bytes=0-0"}, srv.Ranges())
}

func TestResolve_RemoteNoRanges(t *testing.T) {
	t.Parallel()

	srv := helpers.NewImageServer(t, helpers.Pattern(300), helpers.ImageServerOptions{
		NoHead:      true,
		IgnoreRange: true,
	})

	src, err := newResolver(nil).Resolve(context.Background(), srv.URL+"/os.img", Overrides{})
	require.NoError(t, err)
	assert.False(t, src.RangeSupported)
	assert.Equal(t, uint64(300), src.CompressedSize)
}

func TestResolve_RemoteContentType(t *testing.T) {
	t.Parallel()

	srv := helpers.NewImageServer(t, helpers.Pattern(10), helpers.ImageServerOptions{
		ContentType: "application/x-gzip",
	})

	src, err := newResolver(nil).Resolve(context.Background(), srv.URL+"/download", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.CompressionGzip, src.Compression)

	// an explicit extension beats the header
	src, err = newResolver(nil).Resolve(context.Background(), srv.URL+"/download.img", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.CompressionNone, src.Compression)

	// unknown extension, known header
	src, err = newResolver(nil).Resolve(context.Background(), srv.URL+"/download.php", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, models.CompressionGzip, src.Compression)

	zipSrv := helpers.NewImageServer(t, helpers.Pattern(10), helpers.ImageServerOptions{
		ContentType: "application/zip",
	})
	_, err = newResolver(nil).Resolve(context.Background(), zipSrv.URL+"/download", Overrides{})
	require.ErrorIs(t, err, models.ErrUnsupportedCompression)
}

func TestResolve_RemoteErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	r := newResolver(nil)

	_, err := r.Resolve(context.Background(), srv.URL+"/missing.img.xz", Overrides{})
	require.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "404")

	_, err = r.Resolve(context.Background(), "https:///nohost.img", Overrides{})
	require.ErrorIs(t, err, models.ErrSourceUnavailable)

	// archives are rejected before any request is made
	_, err = r.Resolve(context.Background(), "https://unreachable.invalid/os.zip", Overrides{})
	require.ErrorIs(t, err, models.ErrUnsupportedCompression)

	_, err = r.Resolve(context.Background(), "http://127.0.0.1:1/os.img", Overrides{})
	require.ErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestResolveEntry(t *testing.T) {
	t.Parallel()

	srv := helpers.NewImageServer(t, helpers.Pattern(1234), helpers.ImageServerOptions{})
	e := &catalog.Entry{
		Path:          "Other/Tiny OS",
		Name:          "Tiny OS",
		URL:           srv.URL + "/tiny.img.xz",
		ExtractSHA256: digest,
		ExtractSize:   8192,
	}

	src, err := newResolver(nil).ResolveEntry(context.Background(), e, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "Tiny OS", src.Name)
	assert.Equal(t, models.CompressionXz, src.Compression)
	assert.Equal(t, uint64(8192), src.UncompressedSize)
	assert.Equal(t, uint64(1234), src.CompressedSize, "probe fills the missing download size")
	assert.Equal(t, digest, src.ExpectedSHA256)

	other := strings.Repeat("cd", 32)
	src, err = newResolver(nil).ResolveEntry(context.Background(), e, Overrides{SHA256: other})
	require.NoError(t, err)
	assert.Equal(t, other, src.ExpectedSHA256)
}

func TestContentRangeTotal(t *testing.T) {
	t.Parallel()

	n, ok := contentRangeTotal("bytes 0-0/1234")
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), n)

	_, ok = contentRangeTotal("bytes 0-0/*")
	assert.False(t, ok)
	_, ok = contentRangeTotal("garbage")
	assert.False(t, ok)
}
