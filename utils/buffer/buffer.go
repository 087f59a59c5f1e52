// elPrep: a high-performance tool for analyzing SAM/BAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elprep/blob/master/LICENSE.txt>.

// Package buffer provides the growable byte buffer used as
// serialization scratch space by the record codecs.
package buffer

import (
	"encoding/binary"
	"strconv"
	"sync"
)

// Buffer is a growable byte buffer. The zero value is an empty
// buffer ready to use.
//
// Any call that may grow the buffer can move its backing storage, so
// slices returned by Bytes must not be retained across such calls.
type Buffer struct {
	buf []byte
}

// Make returns a buffer with at least the given capacity.
func Make(capacity int) Buffer {
	return Buffer{buf: make([]byte, 0, capacity)}
}

// Wrap returns an empty buffer that reuses the storage of p.
func Wrap(p []byte) Buffer {
	return Buffer{buf: p[:0]}
}

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int { return len(b.buf) }

// Cap returns the capacity of the backing storage.
func (b *Buffer) Cap() int { return cap(b.buf) }

// Bytes returns a view of the buffer contents.
func (b *Buffer) Bytes() []byte { return b.buf }

func (b *Buffer) String() string { return string(b.buf) }

// Resize makes sure the capacity is at least minCapacity. Capacity
// grows geometrically and never shrinks.
func (b *Buffer) Resize(minCapacity int) {
	if minCapacity < 0 {
		panic("buffer: negative capacity")
	}
	if minCapacity <= cap(b.buf) {
		return
	}
	newCap := cap(b.buf)
	if newCap < 64 {
		newCap = 64
	}
	for newCap < minCapacity {
		if newCap > maxCapacity>>1 {
			newCap = minCapacity
			break
		}
		newCap <<= 1
	}
	buf := make([]byte, len(b.buf), newCap)
	copy(buf, b.buf)
	b.buf = buf
}

const maxCapacity = int(^uint(0) >> 1)

// Grow extends the buffer by n bytes and returns the index of the
// first new byte, so that the caller can fill b.Bytes()[index:].
func (b *Buffer) Grow(n int) (index int) {
	index = len(b.buf)
	if n > maxCapacity-index {
		panic("buffer: capacity overflow")
	}
	b.Resize(index + n)
	b.buf = b.buf[:index+n]
	return index
}

// Truncate discards all but the first n bytes.
func (b *Buffer) Truncate(n int) {
	b.buf = b.buf[:n]
}

// Append appends p.
func (b *Buffer) Append(p []byte) {
	copy(b.buf[b.Grow(len(p)):], p)
}

// AppendString appends s.
func (b *Buffer) AppendString(s string) {
	copy(b.buf[b.Grow(len(s)):], s)
}

// AppendByte appends c.
func (b *Buffer) AppendByte(c byte) {
	b.buf[b.Grow(1)] = c
}

// AppendUint16 appends v in little-endian byte order.
func (b *Buffer) AppendUint16(v uint16) {
	binary.LittleEndian.PutUint16(b.buf[b.Grow(2):], v)
}

// AppendUint32 appends v in little-endian byte order.
func (b *Buffer) AppendUint32(v uint32) {
	binary.LittleEndian.PutUint32(b.buf[b.Grow(4):], v)
}

// PutUint32 overwrites the four bytes at index with v in
// little-endian byte order.
func (b *Buffer) PutUint32(index int, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[index:], v)
}

// AppendInt appends the decimal text of i.
func (b *Buffer) AppendInt(i int64) {
	b.Resize(len(b.buf) + 20)
	b.buf = strconv.AppendInt(b.buf, i, 10)
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Clear sets the length to 0 and keeps the capacity.
func (b *Buffer) Clear() {
	b.buf = b.buf[:0]
}

// Release detaches the backing storage and returns it. The caller
// owns the returned slice; the buffer is empty afterwards.
func (b *Buffer) Release() []byte {
	buf := b.buf
	b.buf = nil
	return buf
}

var pool = sync.Pool{New: func() interface{} {
	return new(Buffer)
}}

/*
Reserve uses a sync.Pool to either reuse or make an empty Buffer,
possibly with capacity left over from earlier use.

Use Put to return buffers to the pool.
*/
func Reserve() *Buffer {
	b := pool.Get().(*Buffer)
	b.Clear()
	return b
}

// Put returns b to the pool used by Reserve.
func Put(b *Buffer) {
	pool.Put(b)
}
