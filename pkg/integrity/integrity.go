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

// Package integrity records a compact per-block fingerprint of a byte
// stream so a later readback can find where it first differs without
// keeping the stream itself.
//
// Each block stores a CRC-32 and two sums modulo the prime 2^31-1: the
// plain byte sum and the position-weighted sum. When exactly one byte of a
// block changes, the ratio of the two sum deltas is its 1-based position.
// The CRC confirms the repair, so any other damage pattern falls back to
// reporting the start of the block.
package integrity

import (
	"fmt"
	"hash/crc32"
)

const (
	modulus          = 1<<31 - 1
	DefaultBlockSize = 64 << 10
)

// Block is the fingerprint of one block.
type Block struct {
	CRC      uint32
	Sum      uint32
	Weighted uint32
}

// Fingerprint computes the Block for data.
func Fingerprint(data []byte) Block {
	var sum, weighted uint64
	for i, b := range data {
		sum += uint64(b)
		weighted = (weighted + uint64(i+1)*uint64(b)) % modulus
	}
	return Block{
		CRC:      crc32.ChecksumIEEE(data),
		Sum:      uint32(sum % modulus),
		Weighted: uint32(weighted),
	}
}

// Index is the ordered list of block fingerprints for a stream.
type Index struct {
	Blocks    []Block
	BlockSize int
	Length    int64
}

// BlockOffset is the stream offset of block n.
func (x *Index) BlockOffset(n int) int64 {
	return int64(n) * int64(x.BlockSize)
}

// Locate compares data, the current contents of block n, against the
// recorded fingerprint. It returns the offset of the first differing byte
// within the stream, whether that offset is exact, and whether the block
// differs at all.
func (x *Index) Locate(n int, data []byte) (offset int64, exact, differs bool) {
	if n < 0 || n >= len(x.Blocks) {
		return -1, false, false
	}
	want := x.Blocks[n]
	got := Fingerprint(data)
	if got == want {
		return -1, false, false
	}

	start := x.BlockOffset(n)
	pos, ok := singleByteFault(want, got, data)
	if !ok {
		return start, false, true
	}
	return start + int64(pos), true, true
}

// singleByteFault solves for the one byte whose change explains the sum
// deltas and checks the answer against the recorded CRC.
func singleByteFault(want, got Block, data []byte) (int, bool) {
	d1 := (uint64(got.Sum) + modulus - uint64(want.Sum)) % modulus
	d2 := (uint64(got.Weighted) + modulus - uint64(want.Weighted)) % modulus
	if d1 == 0 {
		return 0, false
	}

	pos := int(d2*modInverse(d1)%modulus) - 1
	if pos < 0 || pos >= len(data) {
		return 0, false
	}

	// d1 is the signed byte change folded into the field
	delta := int64(d1)
	if delta > modulus/2 {
		delta -= modulus
	}
	orig := int64(data[pos]) - delta
	if orig < 0 || orig > 255 {
		return 0, false
	}

	repaired := make([]byte, len(data))
	copy(repaired, data)
	repaired[pos] = byte(orig)
	if crc32.ChecksumIEEE(repaired) != want.CRC {
		return 0, false
	}
	return pos, true
}

func modInverse(a uint64) uint64 {
	// Fermat: a^(p-2) mod p
	result, base, exp := uint64(1), a%modulus, uint64(modulus-2)
	for exp > 0 {
		if exp&1 == 1 {
			result = result * base % modulus
		}
		base = base * base % modulus
		exp >>= 1
	}
	return result
}

// Builder accumulates an Index from sequential writes of any size.
type Builder struct {
	partial   []byte
	index     Index
	blockSize int
}

func NewBuilder(blockSize int) *Builder {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Builder{
		blockSize: blockSize,
		partial:   make([]byte, 0, blockSize),
		index:     Index{BlockSize: blockSize},
	}
}

// Write never fails.
func (b *Builder) Write(p []byte) (int, error) {
	n := len(p)
	b.index.Length += int64(n)
	for len(p) > 0 {
		take := min(b.blockSize-len(b.partial), len(p))
		b.partial = append(b.partial, p[:take]...)
		p = p[take:]
		if len(b.partial) == b.blockSize {
			b.index.Blocks = append(b.index.Blocks, Fingerprint(b.partial))
			b.partial = b.partial[:0]
		}
	}
	return n, nil
}

// Finish closes the trailing short block and returns the Index. The
// Builder must not be written to afterwards.
func (b *Builder) Finish() *Index {
	if len(b.partial) > 0 {
		b.index.Blocks = append(b.index.Blocks, Fingerprint(b.partial))
		b.partial = nil
	}
	idx := b.index
	return &idx
}

func (x *Index) String() string {
	return fmt.Sprintf("integrity index: %d blocks of %d bytes, %d total", len(x.Blocks), x.BlockSize, x.Length)
}
