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

// Package verify reads a written device region back and checks it against
// the digest and block index captured while the image was streamed.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/ZaparooProject/zaparoo-imager/pkg/stream"
	"github.com/ZaparooProject/zaparoo-imager/pkg/writer"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const defaultReadSize = 1 << 20

var (
	ErrNotDurable  = errors.New("write was not confirmed durable")
	ErrNoReference = errors.New("no digest to verify against")
)

type Verifier struct {
	fs       afero.Fs
	counters *progress.Counters
	readSize int
}

// New returns a Verifier reading through fs. readSize is rounded down to a
// whole number of index blocks at verify time; zero picks 1 MiB.
func New(fs afero.Fs, counters *progress.Counters, readSize int) *Verifier {
	if counters == nil {
		counters = &progress.Counters{}
	}
	if readSize <= 0 {
		readSize = defaultReadSize
	}
	return &Verifier{
		fs:       fs,
		counters: counters,
		readSize: readSize,
	}
}

// Verify hashes the first rep.BytesWritten bytes of path. The digest is
// compared with expected when it is set, otherwise with the stream digest
// in res. The returned result is filled in even when the error is
// ErrVerificationFailed.
func (v *Verifier) Verify(
	ctx context.Context,
	path string,
	rep writer.Report,
	res *stream.Result,
	expected string,
) (models.VerificationResult, error) {
	result := models.VerificationResult{MismatchOffset: -1}

	if !rep.Durable {
		return result, models.NewStageError(models.StageVerify, 0, models.ErrWrite, ErrNotDurable)
	}

	result.Expected = expected
	result.Reference = models.ReferenceExternal
	if expected == "" {
		if res == nil || res.Digest == "" {
			return result, models.NewStageError(models.StageVerify, 0, models.ErrVerificationFailed, ErrNoReference)
		}
		result.Expected = res.Digest
		result.Reference = models.ReferenceStream
	}

	f, err := v.fs.Open(path)
	if err != nil {
		return result, models.NewStageError(models.StageVerify, 0, models.ErrVerificationFailed,
			fmt.Errorf("failed to open %s for readback: %w", path, err))
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("device", path).Msg("error closing device after readback")
		}
	}()

	v.counters.SetPhase(progress.PhaseVerifying)
	log.Info().Str("device", path).Int64("bytes", rep.BytesWritten).
		Str("reference", result.Reference.String()).Msg("verifying written image")

	sc := newScanner(res, v.readSize)
	buf := make([]byte, sc.readSize)
	h := sha256.New()

	for result.BytesRead < rep.BytesWritten {
		if err := ctx.Err(); err != nil {
			return result, err //nolint:wrapcheck // session reports cancellation
		}

		want := min(int64(len(buf)), rep.BytesWritten-result.BytesRead)
		chunk := buf[:want]
		n, err := f.ReadAt(chunk, result.BytesRead)
		if int64(n) == want && errors.Is(err, io.EOF) {
			err = nil
		}
		if err == nil && int64(n) < want {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return result, models.NewStageError(models.StageVerify, result.BytesRead+int64(n),
				models.ErrVerificationFailed, fmt.Errorf("readback failed: %w", err))
		}

		// writes to a hash never fail
		_, _ = h.Write(chunk)
		sc.check(result.BytesRead, chunk)

		result.BytesRead += want
		v.counters.Verified.Add(want)
	}

	result.Digest = hex.EncodeToString(h.Sum(nil))
	result.Match = result.Digest == result.Expected
	if result.Match {
		log.Info().Str("sha256", result.Digest).Msg("write verified")
		return result, nil
	}

	result.MismatchOffset = sc.offset
	result.ExactOffset = sc.exact
	offset := result.MismatchOffset
	if offset < 0 {
		// the device holds exactly what was streamed, so the source itself
		// did not match its published hash
		offset = result.BytesRead
	}
	log.Error().
		Str("sha256", result.Digest).
		Str("expected", result.Expected).
		Int64("offset", result.MismatchOffset).
		Bool("exact", result.ExactOffset).
		Msg("verification failed")
	return result, models.NewStageError(models.StageVerify, offset, models.ErrVerificationFailed,
		fmt.Errorf("readback sha256 %s does not match %s digest %s",
			result.Digest, result.Reference, result.Expected))
}

// scanner walks readback chunks block by block against the stream index
// and remembers the first divergence.
type scanner struct {
	res      *stream.Result
	readSize int
	offset   int64
	exact    bool
	done     bool
}

func newScanner(res *stream.Result, readSize int) *scanner {
	sc := &scanner{res: res, readSize: readSize, offset: -1}
	if res == nil || res.Index == nil || res.Index.BlockSize <= 0 {
		sc.done = true
		return sc
	}
	bs := res.Index.BlockSize
	sc.readSize = max(bs, readSize/bs*bs)
	return sc
}

// check expects chunks that start on a block boundary.
func (sc *scanner) check(base int64, chunk []byte) {
	if sc.done {
		return
	}
	idx := sc.res.Index
	for pos := 0; pos < len(chunk); pos += idx.BlockSize {
		n := int((base + int64(pos)) / int64(idx.BlockSize))
		if n >= len(idx.Blocks) {
			sc.done = true
			return
		}
		end := min(pos+idx.BlockSize, len(chunk))
		if end-pos < idx.BlockSize && base+int64(end) < idx.Length {
			// readback ended inside a block the stream filled further
			sc.offset = base + int64(end)
			sc.done = true
			return
		}
		offset, exact, differs := idx.Locate(n, chunk[pos:end])
		if differs {
			sc.offset = offset
			sc.exact = exact
			sc.done = true
			return
		}
	}
}
