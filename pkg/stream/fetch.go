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

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Opener opens the raw source starting at a byte offset. Errors wrapped
// with backoff.Permanent are not retried.
type Opener interface {
	Open(ctx context.Context, offset int64) (io.ReadCloser, error)
}

// NewOpener returns the Opener for src.
func NewOpener(src *models.ImageSource, client *httpclient.Client, fs afero.Fs) Opener {
	if src.Origin == models.OriginRemote {
		return &HTTPOpener{Client: client, URL: src.Location}
	}
	return &FileOpener{Fs: fs, Path: src.Location}
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return "unexpected http status: " + e.Status
}

// Transient reports whether retrying the request may succeed.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

type HTTPOpener struct {
	Client *httpclient.Client
	URL    string
}

func (o *HTTPOpener) Open(ctx context.Context, offset int64) (io.ReadCloser, error) {
	resp, err := o.Client.GetRange(ctx, o.URL, offset)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by the client
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			_ = resp.Body.Close()
			return nil, backoff.Permanent(fmt.Errorf("server resumed at byte %d, wanted %d", start, offset))
		}
		return resp.Body, nil
	case http.StatusOK:
		if offset == 0 {
			return resp.Body, nil
		}
		log.Debug().Int64("offset", offset).Msg("server ignored range request, skipping prefix")
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("skipping to byte %d: %w", offset, err)
		}
		return resp.Body, nil
	default:
		_ = resp.Body.Close()
		serr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
		if serr.Transient() {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
}

func contentRangeStart(h string) (int64, bool) {
	rest, ok := strings.CutPrefix(h, "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// FileOpener reads a local image through an afero.Fs.
type FileOpener struct {
	Fs   afero.Fs
	Path string
}

func (o *FileOpener) Open(_ context.Context, offset int64) (io.ReadCloser, error) {
	f, err := o.Fs.Open(o.Path)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to open %s: %w", o.Path, err))
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to seek %s: %w", o.Path, err)
		}
	}
	return f, nil
}

var errShortBody = errors.New("source ended before its declared size")

// fetch copies the source into out in chunks, reopening at the current
// offset after transient failures. The failure budget resets whenever an
// attempt makes progress.
func (p *Pipeline) fetch(ctx context.Context, out chan<- []byte) error {
	defer close(out)

	var offset int64
	failures := 0

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.opts.BackoffInitial
	exp.MaxInterval = p.opts.BackoffMax

	attempt := func() (struct{}, error) {
		start := offset
		err := p.fetchOnce(ctx, &offset, out)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if offset > start {
			failures = 0
			exp.Reset()
		}
		failures++
		if failures > p.opts.Retries {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(exp),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Int64("offset", offset).Int("attempt", failures).
				Msgf("fetch failed, retrying in %s", next)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err() //nolint:wrapcheck // cancellation is reported by the caller
		}
		return models.NewStageError(models.StageFetch, offset, models.ErrFetch, err)
	}
	return nil
}

func (p *Pipeline) fetchOnce(ctx context.Context, offset *int64, out chan<- []byte) error {
	rc, err := p.opener.Open(ctx, *offset)
	if err != nil {
		return err //nolint:wrapcheck // classified by the retry loop
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing source")
		}
	}()

	for {
		buf := make([]byte, p.opts.ChunkSize)
		n, err := fill(rc, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err() //nolint:wrapcheck // checked by caller
			}
			*offset += int64(n)
			p.counters.Fetched.Add(int64(n))
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			if size := int64(p.src.CompressedSize); size > 0 && *offset < size {
				return fmt.Errorf("%w: got %d of %d bytes", errShortBody, *offset, size)
			}
			return nil
		default:
			return fmt.Errorf("reading source at byte %d: %w", *offset, err)
		}
	}
}

// fill reads until buf is full or r fails. Unlike io.ReadFull it passes the
// reader's own error through unchanged, so a clean io.EOF after a partial
// read stays io.EOF.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		nn, err := r.Read(buf[n:])
		n += nn
		if err != nil {
			return n, err //nolint:wrapcheck // callers classify raw reader errors
		}
	}
	return n, nil
}
