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

// Package stream moves an image from its source to a sink as a chain of
// goroutine stages joined by bounded channels: fetch, decompress and a
// hash-tee that fingerprints what the sink receives.
package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/config"
	"github.com/ZaparooProject/zaparoo-imager/pkg/integrity"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Counters       *progress.Counters
	ChunkSize      int
	QueueDepth     int
	BlockSize      int
	Retries        int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// OptionsFromConfig reads the pipeline settings from cfg.
func OptionsFromConfig(cfg *config.Instance, counters *progress.Counters) Options {
	return Options{
		Counters:       counters,
		ChunkSize:      cfg.ChunkSize(),
		QueueDepth:     cfg.QueueDepth(),
		BlockSize:      cfg.VerifyBlockSize(),
		Retries:        cfg.FetchRetries(),
		BackoffInitial: cfg.BackoffInitial(),
		BackoffMax:     cfg.BackoffMax(),
	}
}

func (o *Options) withDefaults() {
	if o.Counters == nil {
		o.Counters = &progress.Counters{}
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = config.DefaultChunkSize
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = config.DefaultQueueDepth
	}
	if o.BlockSize <= 0 {
		o.BlockSize = config.DefaultVerifyBlockSize
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = config.DefaultBackoffInitial
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = config.DefaultBackoffMax
	}
}

// Sink consumes decoded chunks in order. It must drain in until it is
// closed or return an error; chunks must not be retained after the next
// receive.
type Sink func(ctx context.Context, in <-chan []byte) error

// Result describes the decoded stream as it was handed to the sink.
type Result struct {
	Index  *integrity.Index
	Digest string
	Length int64
}

type Pipeline struct {
	opener   Opener
	counters *progress.Counters
	src      models.ImageSource
	opts     Options
}

//nolint:gocritic // source copied so the pipeline owns it
func New(src models.ImageSource, opener Opener, opts Options) *Pipeline {
	opts.withDefaults()
	return &Pipeline{
		src:      src,
		opener:   opener,
		opts:     opts,
		counters: opts.Counters,
	}
}

// Run streams the source into sink. All stages share one context: the
// first failure cancels the others and is the error returned. When ctx
// itself is cancelled the returned error is the context's error.
func (p *Pipeline) Run(ctx context.Context, sink Sink) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	fetched := make(chan []byte, p.opts.QueueDepth)
	decoded := make(chan []byte, p.opts.QueueDepth)
	teed := make(chan []byte, p.opts.QueueDepth)

	h := sha256.New()
	idx := integrity.NewBuilder(p.opts.BlockSize)
	var length int64

	g.Go(func() error { return p.fetch(gctx, fetched) })
	g.Go(func() error { return p.decode(gctx, fetched, decoded) })
	g.Go(func() error {
		n, err := p.tee(gctx, decoded, teed, h, idx)
		length = n
		return err
	})
	g.Go(func() error { return sink(gctx, teed) })

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err() //nolint:wrapcheck // callers report cancellation with their own offset
		}
		return nil, err //nolint:wrapcheck // stage errors are already StageErrors
	}

	res := &Result{
		Digest: hex.EncodeToString(h.Sum(nil)),
		Index:  idx.Finish(),
		Length: length,
	}
	log.Debug().
		Str("sha256", res.Digest).
		Int64("bytes", res.Length).
		Msg(res.Index.String())
	return res, nil
}

// tee forwards chunks unchanged while hashing them.
func (p *Pipeline) tee(
	ctx context.Context,
	in <-chan []byte,
	out chan<- []byte,
	h hash.Hash,
	idx *integrity.Builder,
) (int64, error) {
	defer close(out)

	var n int64
	for {
		var chunk []byte
		var ok bool
		select {
		case <-ctx.Done():
			return n, ctx.Err() //nolint:wrapcheck // the failing stage's error wins
		case chunk, ok = <-in:
		}
		if !ok {
			return n, nil
		}

		// neither writer can fail
		_, _ = h.Write(chunk)
		_, _ = idx.Write(chunk)

		select {
		case out <- chunk:
		case <-ctx.Done():
			return n, ctx.Err() //nolint:wrapcheck // see above
		}
		n += int64(len(chunk))
		p.counters.Decoded.Add(int64(len(chunk)))
	}
}

// Drain is a Sink that discards its input. It is used to check a source
// against its expected hash without a target.
func Drain(ctx context.Context, in <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck // cancellation
		case _, ok := <-in:
			if !ok {
				return nil
			}
		}
	}
}

// CheckDigest compares a tee digest with an expected lower-case hex SHA-256.
func CheckDigest(res *Result, expected string) error {
	if expected == "" || expected == res.Digest {
		return nil
	}
	return models.NewStageError(models.StageHash, res.Length, models.ErrVerificationFailed,
		fmt.Errorf("image sha256 %s does not match expected %s", res.Digest, expected))
}
