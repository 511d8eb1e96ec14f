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

// Package session runs one image onto one device: revalidate the target,
// stream and write, flush, then read back and verify.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/devices"
	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/ZaparooProject/zaparoo-imager/pkg/stream"
	"github.com/ZaparooProject/zaparoo-imager/pkg/verify"
	"github.com/ZaparooProject/zaparoo-imager/pkg/writer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Deps are the collaborators a session needs. Fs, Enumerator and Locks
// are required.
type Deps struct {
	Fs         afero.Fs
	Client     *httpclient.Client
	Enumerator *devices.Enumerator
	Locks      *Locks
	Counters   *progress.Counters
	// Opener replaces the source opener derived from the ImageSource.
	Opener         stream.Opener
	InstallID      string
	Pipeline       stream.Options
	VerifyReadSize int
	Verify         bool
}

// DigestCheck is the comparison of the streamed image with its published
// hash, before anything is read back.
type DigestCheck struct {
	Digest   string `json:"digest"`
	Expected string `json:"expected"`
	Match    bool   `json:"match"`
}

// Result is the reported outcome. BytesWritten is set for every outcome,
// including failure and cancellation.
type Result struct {
	StartedAt    time.Time                  `json:"startedAt"`
	Download     *DigestCheck               `json:"download,omitempty"`
	Verification *models.VerificationResult `json:"verification,omitempty"`
	SessionID    string                     `json:"sessionId"`
	Device       string                     `json:"device"`
	Duration     time.Duration              `json:"duration"`
	BytesWritten int64                      `json:"bytesWritten"`
	State        models.SessionState        `json:"state"`
}

// Complete reports whether the image was fully written and, when enabled,
// verified.
func (r *Result) Complete() bool {
	return r.State == models.StateCompleted
}

type Session struct {
	startedAt time.Time
	deps      Deps
	logger    zerolog.Logger
	counters  *progress.Counters
	id        string
	src       models.ImageSource
	device    models.BlockDevice
	mu        syncutil.Mutex
	state     models.SessionState
}

// New creates a pending session. Nothing is touched until Run.
//
//nolint:gocritic // source and device snapshots are copied into the session
func New(src models.ImageSource, device models.BlockDevice, deps Deps) *Session {
	counters := deps.Counters
	if counters == nil {
		counters = &progress.Counters{}
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		src:      src,
		device:   device,
		deps:     deps,
		counters: counters,
		state:    models.StatePending,
		logger: log.With().
			Str("session", id).
			Str("install", deps.InstallID).
			Str("device", device.Path).
			Logger(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Counters() *progress.Counters { return s.counters }

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves the session forward. An illegal transition is a bug, so
// it is logged and refused rather than applied.
func (s *Session) advance(next models.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransition(next) {
		s.logger.Error().
			Str("from", s.state.String()).
			Str("to", next.String()).
			Msg("refusing session state transition")
		return false
	}
	s.logger.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("session state")
	s.state = next
	return true
}

// Run executes the session once. The Result is always returned; the error
// is nil only when the result is complete.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.startedAt = time.Now()
	res := &Result{
		SessionID: s.id,
		Device:    s.device.Path,
		StartedAt: s.startedAt,
	}

	err := s.run(ctx, res)

	res.BytesWritten = s.counters.Written.Load()
	res.Duration = time.Since(s.startedAt)
	if err != nil {
		err = s.fail(ctx, err)
	} else {
		s.advance(models.StateCompleted)
		s.counters.SetPhase(progress.PhaseDone)
		s.logger.Info().
			Int64("bytes", res.BytesWritten).
			Dur("duration", res.Duration).
			Msg("session completed")
	}
	res.State = s.State()
	return res, err
}

// fail records the terminal state for err and normalises cancellation
// into ErrCancelled carrying the bytes written so far.
func (s *Session) fail(ctx context.Context, err error) error {
	written := s.counters.Written.Load()
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		stage := models.StageWrite
		if s.State() == models.StateVerifying {
			stage = models.StageVerify
		}
		s.advance(models.StateCancelled)
		s.logger.Warn().Int64("bytes", written).Msg("session cancelled, device contents are incomplete")
		if errors.Is(err, models.ErrCancelled) {
			return err
		}
		return models.NewStageError(stage, written, models.ErrCancelled, err)
	}

	s.advance(models.StateFailed)
	s.logger.Error().Err(err).Int64("bytes", written).Msg("session failed")
	return err
}

func (s *Session) run(ctx context.Context, res *Result) error {
	if s.deps.Enumerator.Debug() && !s.device.Loopback {
		return models.NewStageError(models.StageEnumerate, 0, models.ErrProtectedDevice,
			errors.New("only the loopback image may be written in debug mode"))
	}

	release, err := s.deps.Locks.TryAcquire(s.device.Path, s.id)
	if err != nil {
		return models.NewStageError(models.StageWrite, 0, models.ErrDeviceBusy, err)
	}
	defer release()

	// the snapshot the user chose is not trusted: re-check it now
	cur, err := s.deps.Enumerator.Revalidate(ctx, s.device)
	if err != nil {
		return models.NewStageError(models.StageEnumerate, 0, kindOf(err), err)
	}
	s.device = cur

	if err := writer.CheckFits(s.src.UncompressedSize, cur.Size); err != nil {
		return err //nolint:wrapcheck // already a StageError
	}

	if !s.advance(models.StateStreaming) {
		return fmt.Errorf("%w: session already run", models.ErrWrite)
	}
	s.counters.SetTotal(int64(s.src.UncompressedSize)) //nolint:gosec // image sizes fit in int64
	s.counters.SetPhase(progress.PhaseWriting)
	s.logger.Info().
		Str("source", s.src.Location).
		Str("compression", s.src.Compression.String()).
		Uint64("size", s.src.UncompressedSize).
		Msg("session started")

	w := writer.New(s.deps.Fs, cur, s.src.UncompressedSize, s.counters)
	w.OnFlush = func() { s.advance(models.StateFlushing) }

	var rep writer.Report
	sink := func(ctx context.Context, in <-chan []byte) error {
		var werr error
		rep, werr = w.Write(ctx, in)
		return werr
	}

	opener := s.deps.Opener
	if opener == nil {
		opener = stream.NewOpener(&s.src, s.deps.Client, s.deps.Fs)
	}
	opts := s.deps.Pipeline
	opts.Counters = s.counters

	sres, err := stream.New(s.src, opener, opts).Run(ctx, sink)
	if err != nil {
		return err //nolint:wrapcheck // stage errors and ctx errors pass through
	}
	if !rep.Durable {
		return models.NewStageError(models.StageFlush, rep.BytesWritten, models.ErrWrite, verify.ErrNotDurable)
	}

	if s.src.ExpectedSHA256 != "" {
		res.Download = &DigestCheck{
			Digest:   sres.Digest,
			Expected: s.src.ExpectedSHA256,
			Match:    sres.Digest == s.src.ExpectedSHA256,
		}
		if res.Download.Match {
			s.logger.Info().Str("sha256", sres.Digest).Msg("download verified")
		} else {
			s.logger.Error().Str("sha256", sres.Digest).Str("expected", s.src.ExpectedSHA256).
				Msg("downloaded image does not match its published hash")
		}
	}

	if !s.deps.Verify {
		s.logger.Info().Msg("write verification disabled")
		return stream.CheckDigest(sres, s.src.ExpectedSHA256) //nolint:wrapcheck // StageError
	}

	s.advance(models.StateVerifying)
	vr, err := verify.New(s.deps.Fs, s.counters, s.deps.VerifyReadSize).
		Verify(ctx, cur.Path, rep, sres, s.src.ExpectedSHA256)
	res.Verification = &vr
	return err //nolint:wrapcheck // StageError or ctx error
}

// kindOf picks the sentinel to report for a revalidation failure.
func kindOf(err error) error {
	for _, kind := range []error{
		models.ErrProtectedDevice,
		models.ErrStaleDevice,
		models.ErrDeviceEnumeration,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return models.ErrDeviceEnumeration
}
