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

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/ulikunitz/xz"
)

// NewDecoder wraps r with the decoder for kind. Decoders read their input
// incrementally, so r may deliver data in pieces of any size.
func NewDecoder(kind models.Compression, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case models.CompressionNone:
		return io.NopCloser(r), nil
	case models.CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		return zr, nil
	case models.CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz header: %w", err)
		}
		return io.NopCloser(xr), nil
	case models.CompressionZstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedCompression, kind)
	}
}

// chanReader turns the fetch stage's chunk channel into an io.Reader.
type chanReader struct {
	ctx context.Context //nolint:containedctx // reader lives only inside one stage
	ch  <-chan []byte
	buf []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		select {
		case <-r.ctx.Done():
			return 0, r.ctx.Err() //nolint:wrapcheck // inspected by decode
		case b, ok := <-r.ch:
			if !ok {
				return 0, io.EOF
			}
			r.buf = b
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// decode runs the decompressor between the fetch and tee stages.
func (p *Pipeline) decode(ctx context.Context, in <-chan []byte, out chan<- []byte) error {
	defer close(out)

	var decoded int64
	src := &chanReader{ctx: ctx, ch: in}

	dec, err := NewDecoder(p.src.Compression, src)
	if err != nil {
		return p.decodeError(ctx, decoded, err)
	}
	defer func() {
		if closeErr := dec.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing decoder")
		}
	}()

	for {
		buf := make([]byte, p.opts.ChunkSize)
		n, err := fill(dec, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err() //nolint:wrapcheck // the failing stage's error wins
			}
			decoded += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return p.decodeError(ctx, decoded, err)
		}
	}
}

// decodeError classifies a decoder failure. When another stage has already
// failed or the session was cancelled the decoder only saw a truncated
// input, so the context error is returned and the first stage error wins.
func (p *Pipeline) decodeError(ctx context.Context, decoded int64, err error) error {
	if ctx.Err() != nil {
		return ctx.Err() //nolint:wrapcheck // see above
	}
	if errors.Is(err, models.ErrUnsupportedCompression) {
		return models.NewStageError(models.StageDecode, decoded, models.ErrUnsupportedCompression, err)
	}
	return models.NewStageError(models.StageDecode, decoded, models.ErrCorruptStream, err)
}
