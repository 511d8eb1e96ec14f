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

// Package source turns a user's image reference into a validated
// models.ImageSource before anything is written.
package source

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/catalog"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrInvalidDigest = errors.New("expected sha256 must be 64 hex characters")

// Overrides are user-supplied facts that take precedence over anything
// the resolver discovers.
type Overrides struct {
	SHA256 string
	Size   uint64
}

type Resolver struct {
	client *httpclient.Client
	fs     afero.Fs
}

func NewResolver(client *httpclient.Client, fs afero.Fs) *Resolver {
	return &Resolver{client: client, fs: fs}
}

// NormalizeDigest lower-cases and checks a hex SHA-256. An empty string is
// allowed and means no expected hash.
func NormalizeDigest(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	if len(s) != 64 {
		return "", fmt.Errorf("%w: got %d characters", ErrInvalidDigest, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDigest, err)
	}
	return s, nil
}

// Resolve accepts an http(s) URL or a local path.
func (r *Resolver) Resolve(ctx context.Context, ref string, o Overrides) (models.ImageSource, error) {
	digest, err := NormalizeDigest(o.SHA256)
	if err != nil {
		return models.ImageSource{}, err
	}

	var src models.ImageSource
	if looksRemote(ref) {
		src, err = r.resolveRemote(ctx, models.ImageSource{Location: ref, Origin: models.OriginRemote})
	} else {
		src, err = r.resolveLocal(ref)
	}
	if err != nil {
		return models.ImageSource{}, err
	}
	return applyOverrides(src, digest, o.Size), nil
}

// ResolveEntry probes a catalog entry's URL. Catalog sizes and hashes are
// kept unless overridden.
func (r *Resolver) ResolveEntry(ctx context.Context, e *catalog.Entry, o Overrides) (models.ImageSource, error) {
	digest, err := NormalizeDigest(o.SHA256)
	if err != nil {
		return models.ImageSource{}, err
	}
	src, err := r.resolveRemote(ctx, e.Source())
	if err != nil {
		return models.ImageSource{}, err
	}
	return applyOverrides(src, digest, o.Size), nil
}

//nolint:gocritic // small value type
func applyOverrides(src models.ImageSource, digest string, size uint64) models.ImageSource {
	if digest != "" {
		src.ExpectedSHA256 = digest
	}
	if size > 0 {
		src.UncompressedSize = size
	}
	log.Info().
		Str("name", src.Name).
		Str("origin", src.Origin.String()).
		Str("compression", src.Compression.String()).
		Uint64("compressedSize", src.CompressedSize).
		Uint64("uncompressedSize", src.UncompressedSize).
		Bool("ranges", src.RangeSupported).
		Bool("sha256", src.ExpectedSHA256 != "").
		Msg("resolved image source")
	return src
}

// looksRemote decides by scheme alone so that malformed URLs are reported
// as bad URLs rather than missing files.
func looksRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrSourceUnavailable, fmt.Sprintf(format, args...))
}

func (r *Resolver) resolveLocal(ref string) (models.ImageSource, error) {
	p := filepath.Clean(ref)
	kind, _, err := FromName(p)
	if err != nil {
		return models.ImageSource{}, err
	}

	fi, err := r.fs.Stat(p)
	if err != nil {
		return models.ImageSource{}, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, err)
	}
	if fi.IsDir() {
		return models.ImageSource{}, unavailable("%s is a directory", p)
	}

	size := uint64(fi.Size()) //nolint:gosec // file sizes are non-negative
	src := models.ImageSource{
		Name:           filepath.Base(p),
		Location:       p,
		Origin:         models.OriginLocal,
		Compression:    kind,
		CompressedSize: size,
		RangeSupported: true,
	}
	if kind == models.CompressionNone {
		src.UncompressedSize = size
	}
	return src, nil
}

//nolint:gocritic // small value type
func (r *Resolver) resolveRemote(ctx context.Context, src models.ImageSource) (models.ImageSource, error) {
	u, err := url.Parse(src.Location)
	if err != nil {
		return models.ImageSource{}, unavailable("invalid URL %q: %v", src.Location, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return models.ImageSource{}, unavailable("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return models.ImageSource{}, unavailable("URL %q has no host", src.Location)
	}
	if src.Name == "" {
		src.Name = path.Base(u.Path)
	}

	kind, known, nameErr := FromName(u.Path)
	if known && nameErr != nil {
		return models.ImageSource{}, nameErr
	}

	p, err := r.probe(ctx, src.Location)
	if err != nil {
		return models.ImageSource{}, err
	}

	if !known {
		ctKind, ctKnown, ctErr := FromContentType(p.contentType)
		switch {
		case ctErr != nil:
			return models.ImageSource{}, ctErr
		case ctKnown:
			kind = ctKind
		case nameErr != nil:
			return models.ImageSource{}, nameErr
		}
	}

	src.Compression = kind
	src.RangeSupported = p.ranges
	if src.CompressedSize == 0 {
		src.CompressedSize = p.length
	}
	return src, nil
}

type probeResult struct {
	contentType string
	length      uint64
	ranges      bool
}

// probe checks the URL is reachable. Servers that refuse HEAD get a
// one-byte ranged GET instead.
func (r *Resolver) probe(ctx context.Context, loc string) (probeResult, error) {
	resp, err := r.client.Head(ctx, loc)
	if err != nil {
		return probeResult{}, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res := probeResult{
			contentType: resp.Header.Get("Content-Type"),
			ranges:      strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
		}
		if resp.ContentLength > 0 {
			res.length = uint64(resp.ContentLength)
		}
		return res, nil
	case resp.StatusCode == http.StatusMethodNotAllowed ||
		resp.StatusCode == http.StatusNotImplemented ||
		resp.StatusCode == http.StatusForbidden:
		log.Debug().Str("url", loc).Int("status", resp.StatusCode).Msg("HEAD refused, probing with ranged GET")
		return r.probeGet(ctx, loc)
	default:
		return probeResult{}, unavailable("%s: %s", loc, resp.Status)
	}
}

func (r *Resolver) probeGet(ctx context.Context, loc string) (probeResult, error) {
	resp, err := r.client.Probe(ctx, loc)
	if err != nil {
		return probeResult{}, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	res := probeResult{contentType: resp.Header.Get("Content-Type")}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		res.ranges = true
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			res.length = total
		}
	case http.StatusOK:
		if resp.ContentLength > 0 {
			res.length = uint64(resp.ContentLength)
		}
	default:
		return probeResult{}, unavailable("%s: %s", loc, resp.Status)
	}
	return res, nil
}

// contentRangeTotal parses the complete length from "bytes 0-0/1234".
func contentRangeTotal(h string) (uint64, bool) {
	_, total, ok := strings.Cut(h, "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
