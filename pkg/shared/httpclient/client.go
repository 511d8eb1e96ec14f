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

package httpclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
)

// CredentialLookup returns credentials for a request URL, or nil.
type CredentialLookup func(reqURL string) *config.CredentialEntry

// AuthTransport adds an Authorization header from auth.toml to every
// request whose URL has a matching entry.
type AuthTransport struct {
	Base   http.RoundTripper
	Lookup CredentialLookup
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if t.Lookup != nil {
		if creds := t.Lookup(req.URL.String()); creds != nil {
			req = req.Clone(req.Context())
			if creds.Bearer != "" {
				req.Header.Set("Authorization", "Bearer "+creds.Bearer)
			} else if creds.Username != "" {
				auth := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
				req.Header.Set("Authorization", "Basic "+auth)
			}
		}
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform HTTP round trip: %w", err)
	}
	return resp, nil
}

// DefaultTransport bounds connection setup and time to first header but not
// body transfer, since image downloads run for minutes.
var DefaultTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ResponseHeaderTimeout: 30 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	MaxIdleConns:          10,
	MaxIdleConnsPerHost:   2,
	IdleConnTimeout:       90 * time.Second,
}

type Client struct {
	*http.Client
	UserAgent string
}

// NewClient creates a client without an overall deadline, for streaming.
func NewClient(lookup CredentialLookup) *Client {
	return NewClientWithTimeout(lookup, 0)
}

// NewClientWithTimeout creates a client whose requests, bodies included,
// must finish within timeout. Zero disables the deadline.
func NewClientWithTimeout(lookup CredentialLookup, timeout time.Duration) *Client {
	return &Client{
		Client: &http.Client{
			Transport: &AuthTransport{
				Base:   DefaultTransport,
				Lookup: lookup,
			},
			Timeout: timeout,
		},
		UserAgent: config.UserAgent + "/" + config.AppVersion,
	}
}

func (c *Client) do(ctx context.Context, method, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error performing %s request: %w", method, err)
	}
	return resp, nil
}

// Get performs a GET request and returns the response.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// Head performs a HEAD request and returns the response.
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	return c.do(ctx, http.MethodHead, url, nil)
}

// GetRange requests url starting at byte offset. An offset of zero sends no
// Range header. Servers may ignore the header and answer 200 with the whole
// body, so callers must check the status.
func (c *Client) GetRange(ctx context.Context, url string, offset int64) (*http.Response, error) {
	if offset <= 0 {
		return c.Get(ctx, url)
	}
	h := http.Header{}
	h.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	return c.do(ctx, http.MethodGet, url, h)
}

// Probe requests only the first byte of url.
func (c *Client) Probe(ctx context.Context, url string) (*http.Response, error) {
	h := http.Header{}
	h.Set("Range", "bytes=0-0")
	return c.do(ctx, http.MethodGet, url, h)
}
