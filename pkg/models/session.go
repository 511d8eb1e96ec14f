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

package models

import "fmt"

// SessionState is the lifecycle position of a write session. States only
// ever move forward, in declaration order, except that Failed and Cancelled
// may be entered from any non-terminal state.
type SessionState int

const (
	StatePending SessionState = iota
	StateStreaming
	StateFlushing
	StateVerifying
	StateCompleted
	StateFailed
	StateCancelled
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateVerifying:
		return "verifying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether moving from s to next is allowed.
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateFailed, StateCancelled:
		return true
	case StateCompleted:
		// verification may be disabled, so completion can follow a flush
		return s == StateFlushing || s == StateVerifying
	case StatePending, StateStreaming, StateFlushing, StateVerifying:
		return next == s+1
	default:
		return false
	}
}

// Reference names what a verification digest was compared against.
type Reference int

const (
	// ReferenceStream is the digest captured by the hash-tee while writing.
	ReferenceStream Reference = iota
	// ReferenceExternal is a digest supplied by the catalog or the user.
	ReferenceExternal
)

func (r Reference) String() string {
	if r == ReferenceExternal {
		return "external"
	}
	return "stream"
}

// VerificationResult is the outcome of reading a written region back.
// MismatchOffset is -1 when there is no mismatch or it can't be located.
type VerificationResult struct {
	Digest         string    `json:"digest"`
	Expected       string    `json:"expected"`
	MismatchOffset int64     `json:"mismatchOffset"`
	BytesRead      int64     `json:"bytesRead"`
	Reference      Reference `json:"reference"`
	Match          bool      `json:"match"`
	// ExactOffset is false when MismatchOffset is only the start of the
	// first divergent block.
	ExactOffset bool `json:"exactOffset"`
}
