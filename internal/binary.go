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

package internal

import (
	"encoding/binary"
	"io"
)

// Decoder reads little-endian values from a stream. The first error
// sticks: later reads return zero values, and Err reports it. A
// stream that ends in the middle of a value reports
// io.ErrUnexpectedEOF, one that ends before it io.EOF.
type Decoder struct {
	r   io.Reader
	buf [8]byte
	Err error
}

// NewDecoder returns a Decoder for r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReadFull fills p.
func (d *Decoder) ReadFull(p []byte) {
	if d.Err != nil {
		return
	}
	_, d.Err = io.ReadFull(d.r, p)
}

func (d *Decoder) Uint8() uint8 {
	d.ReadFull(d.buf[:1])
	if d.Err != nil {
		return 0
	}
	return d.buf[0]
}

func (d *Decoder) Uint16() uint16 {
	d.ReadFull(d.buf[:2])
	if d.Err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(d.buf[:2])
}

func (d *Decoder) Uint32() uint32 {
	d.ReadFull(d.buf[:4])
	if d.Err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(d.buf[:4])
}

func (d *Decoder) Int32() int32 {
	return int32(d.Uint32())
}

func (d *Decoder) Uint64() uint64 {
	d.ReadFull(d.buf[:8])
	if d.Err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:8])
}

// Bytes reads n bytes into a new slice.
func (d *Decoder) Bytes(n int) []byte {
	if d.Err != nil {
		return nil
	}
	p := make([]byte, n)
	d.ReadFull(p)
	return p
}

// AppendUint16 and friends append the little-endian encoding of a
// value to p.
func AppendUint16(p []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(p, v)
}

func AppendUint32(p []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(p, v)
}

func AppendInt32(p []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(p, uint32(v))
}

func AppendUint64(p []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(p, v)
}
