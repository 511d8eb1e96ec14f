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

package session

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
)

// Locks records which device paths have an active session.
type Locks struct {
	held map[string]string
	mu   syncutil.Mutex
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]string)}
}

// TryAcquire claims device for sessionID without waiting. The returned
// release func is safe to call more than once.
func (l *Locks) TryAcquire(device, sessionID string) (release func(), err error) {
	key := filepath.Clean(device)

	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s is in use by session %s", models.ErrDeviceBusy, key, holder)
	}
	l.held[key] = sessionID

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == sessionID {
				delete(l.held, key)
			}
		})
	}, nil
}

// Holder returns the session holding device, if any.
func (l *Locks) Holder(device string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.held[filepath.Clean(device)]
	return id, ok
}
