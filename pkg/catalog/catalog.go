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

// Package catalog reads OS image catalogs in the Raspberry Pi Imager
// os_list JSON shape and resolves entries by name or category path.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// maxCatalogSize caps how much of a catalog response is read.
const maxCatalogSize = 32 << 20

var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is a parsed os_list document.
type Catalog struct {
	Imager Imager `json:"imager"`
	OSList []Item `json:"os_list"`
}

// Imager is the catalog header. It is informational only.
type Imager struct {
	LatestVersion string         `json:"latest_version"`
	URL           string         `json:"url"`
	Devices       []DeviceFilter `json:"devices"`
}

// DeviceFilter is a hardware family the catalog can filter entries by.
type DeviceFilter struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Default     bool     `json:"default"`
}

// Item is either a category (with Subitems) or an installable image.
type Item struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	URL                 string   `json:"url,omitempty"`
	SubitemsURL         string   `json:"subitems_url,omitempty"`
	ExtractSHA256       string   `json:"extract_sha256,omitempty"`
	ImageDownloadSHA256 string   `json:"image_download_sha256,omitempty"`
	ReleaseDate         string   `json:"release_date,omitempty"`
	InitFormat          string   `json:"init_format,omitempty"`
	Architecture        string   `json:"architecture,omitempty"`
	Subitems            []Item   `json:"subitems,omitempty"`
	Devices             []string `json:"devices,omitempty"`
	ExtractSize         uint64   `json:"extract_size,omitempty"`
	ImageDownloadSize   uint64   `json:"image_download_size,omitempty"`
}

// IsCategory reports whether the item groups other items.
func (i *Item) IsCategory() bool {
	return len(i.Subitems) > 0 || i.SubitemsURL != ""
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if c.OSList == nil {
		return nil, fmt.Errorf("%w: missing os_list", ErrInvalidCatalog)
	}
	return &c, nil
}

// IsRemote reports whether ref is fetched over HTTP rather than read from
// a file.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Load reads a catalog from an http(s) URL or a file path. Failures are
// ErrSourceUnavailable.
func Load(ctx context.Context, client *httpclient.Client, fs afero.Fs, ref string) (*Catalog, error) {
	var data []byte
	var err error
	if IsRemote(ref) {
		data, err = fetch(ctx, client, ref)
	} else {
		data, err = afero.ReadFile(fs, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load catalog %s: %w", models.ErrSourceUnavailable, ref, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, ref, err)
	}
	log.Info().
		Str("catalog", ref).
		Int("items", len(c.OSList)).
		Str("latestVersion", c.Imager.LatestVersion).
		Msg("loaded catalog")
	return c, nil
}

func fetch(ctx context.Context, client *httpclient.Client, ref string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, config.CatalogTimeout)
	defer cancel()

	resp, err := client.Get(ctx, ref)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by Load
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing catalog response")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		log.Warn().Str("contentType", ct).Msg("catalog served with non-JSON content type")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog body: %w", err)
	}
	return data, nil
}
