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

package helpers

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// ImageServerOptions injects faults into an ImageServer.
type ImageServerOptions struct {
	ContentType string
	// FailStatus is returned for the first FailCount GET requests.
	FailStatus int
	FailCount  int
	// TruncateCount GET responses are cut off halfway through their body.
	TruncateCount int
	IgnoreRange   bool
	NoHead        bool
}

// ImageServer serves a byte slice over HTTP with optional range support.
type ImageServer struct {
	*httptest.Server
	data   []byte
	ranges []string
	opts   ImageServerOptions
	gets   int
	mu     sync.Mutex
}

// NewImageServer starts a server for data that is closed with the test.
func NewImageServer(t *testing.T, data []byte, opts ImageServerOptions) *ImageServer {
	t.Helper()

	s := &ImageServer{data: data, opts: opts}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Gets returns the number of GET requests served so far.
func (s *ImageServer) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Ranges returns the Range header of every GET request, in order.
func (s *ImageServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func (s *ImageServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.opts.ContentType != "" {
		w.Header().Set("Content-Type", s.opts.ContentType)
	}
	if !s.opts.IgnoreRange {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	switch r.Method {
	case http.MethodHead:
		if s.opts.NoHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.gets++
	n := s.gets
	s.ranges = append(s.ranges, r.Header.Get("Range"))
	s.mu.Unlock()

	if n <= s.opts.FailCount {
		w.WriteHeader(s.opts.FailStatus)
		return
	}

	start, end := 0, len(s.data)-1
	status := http.StatusOK
	if rng := r.Header.Get("Range"); rng != "" && !s.opts.IgnoreRange {
		if a, b, ok := parseRange(rng, len(s.data)); ok {
			start, end = a, b
			status = http.StatusPartialContent
			w.Header().Set("Content-Range",
				"bytes "+strconv.Itoa(a)+"-"+strconv.Itoa(b)+"/"+strconv.Itoa(len(s.data)))
		} else {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
	}

	body := s.data[start : end+1]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	if n <= s.opts.FailCount+s.opts.TruncateCount {
		_, _ = w.Write(body[:len(body)/2])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = w.Write(body)
}

func parseRange(h string, size int) (start, end int, ok bool) {
	spec, found := strings.CutPrefix(h, "bytes=")
	if !found {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	a, err := strconv.Atoi(first)
	if err != nil || a >= size {
		return 0, 0, false
	}
	b := size - 1
	if last != "" {
		b, err = strconv.Atoi(last)
		if err != nil || b < a {
			return 0, 0, false
		}
		b = min(b, size-1)
	}
	return a, b, true
}
