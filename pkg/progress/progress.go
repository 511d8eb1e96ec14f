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

// Package progress holds the lock-free byte counters a write session
// updates and the Meter renderers use to turn them into rate and ETA.
package progress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
)

const DefaultInterval = 500 * time.Millisecond

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseWriting
	PhaseFlushing
	PhaseVerifying
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWriting:
		return "writing"
	case PhaseFlushing:
		return "flushing"
	case PhaseVerifying:
		return "verifying"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Counters are updated by pipeline stages and read by renderers without
// locking. Fetched counts source bytes, the rest count image bytes.
type Counters struct {
	Fetched  atomic.Int64
	Decoded  atomic.Int64
	Written  atomic.Int64
	Verified atomic.Int64
	total    atomic.Int64
	phase    atomic.Int32
}

// SetTotal records the expected image length. Zero means unknown.
func (c *Counters) SetTotal(n int64) { c.total.Store(n) }

func (c *Counters) Total() int64 { return c.total.Load() }

func (c *Counters) SetPhase(p Phase) { c.phase.Store(int32(p)) }

func (c *Counters) Phase() Phase { return Phase(c.phase.Load()) }

// Snapshot is a consistent-enough view of Counters at one instant.
type Snapshot struct {
	Phase    Phase
	Fetched  int64
	Decoded  int64
	Written  int64
	Verified int64
	Total    int64
	// Rate is bytes per second for the active phase.
	Rate float64
	// ETA is zero when the total or rate is unknown.
	ETA time.Duration
	// Percent is below 100 until the phase is PhaseDone.
	Percent float64
}

// Current is the byte count that drives the active phase.
func (s *Snapshot) Current() int64 {
	if s.Phase == PhaseVerifying {
		return s.Verified
	}
	return s.Written
}

// Meter samples Counters and smooths the transfer rate.
type Meter struct {
	clock     clockwork.Clock
	counters  *Counters
	lastAt    time.Time
	lastBytes int64
	rate      float64
	mu        syncutil.Mutex
	lastPhase Phase
}

func NewMeter(c *Counters, clock clockwork.Clock) *Meter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Meter{
		clock:    clock,
		counters: c,
		lastAt:   clock.Now(),
	}
}

const smoothing = 0.3

// Sample reads the counters and updates the rate estimate.
func (m *Meter) Sample() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Phase:    m.counters.Phase(),
		Fetched:  m.counters.Fetched.Load(),
		Decoded:  m.counters.Decoded.Load(),
		Written:  m.counters.Written.Load(),
		Verified: m.counters.Verified.Load(),
		Total:    m.counters.Total(),
	}

	now := m.clock.Now()
	cur := s.Current()
	if s.Phase != m.lastPhase {
		m.lastPhase = s.Phase
		m.lastBytes = cur
		m.lastAt = now
		m.rate = 0
	} else if elapsed := now.Sub(m.lastAt); elapsed > 0 {
		inst := float64(cur-m.lastBytes) / elapsed.Seconds()
		if m.rate == 0 {
			m.rate = inst
		} else {
			m.rate = smoothing*inst + (1-smoothing)*m.rate
		}
		m.lastBytes = cur
		m.lastAt = now
	}
	s.Rate = m.rate

	switch {
	case s.Phase == PhaseDone:
		s.Percent = 100
	case s.Total > 0:
		s.Percent = min(float64(cur)/float64(s.Total)*100, 99.9)
		if s.Rate > 0 && cur < s.Total {
			s.ETA = time.Duration(float64(s.Total-cur) / s.Rate * float64(time.Second))
		}
	}

	return s
}

// Watch calls fn with a fresh Snapshot every interval until ctx is done,
// then once more with the final state.
func (m *Meter) Watch(ctx context.Context, interval time.Duration, fn func(Snapshot)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fn(m.Sample())
			return
		case <-ticker.Chan():
			fn(m.Sample())
		}
	}
}
