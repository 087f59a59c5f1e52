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

package bgzf

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/buffer"
)

const (
	// MaxBlockSize is the maximum size of a compressed block, and of
	// the data it decompresses to.
	MaxBlockSize = 0x10000

	// BlockDataSize is the amount of data a Writer puts into one
	// block, chosen so that incompressible data still fits.
	BlockDataSize = 0xff00

	headerSize  = 18
	trailerSize = 8

	// reads and writes up to smallSize bytes that stay within the
	// resident block are served by a direct copy
	smallSize = 256
)

var bgzfEOF = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

var bgzfHeader = [headerSize]byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x00, 0x00,
}

// block is one BGZF block, either as read from a file or as
// prepared for writing.
type block struct {
	seq    int
	offset int64 // file offset of the block, -1 if not yet known
	size   int   // compressed size of the whole member
	raw    []byte
	data   []byte
	crc32  uint32
	isize  uint32
}

var blockPool = sync.Pool{New: func() interface{} {
	return &block{
		raw:  make([]byte, 0, MaxBlockSize),
		data: make([]byte, 0, MaxBlockSize),
	}
}}

func getBlock() *block {
	b := blockPool.Get().(*block)
	b.raw = b.raw[:0]
	b.data = b.data[:0]
	b.offset = -1
	return b
}

func putBlock(b *block) {
	if b != nil {
		blockPool.Put(b)
	}
}

func formatError(offset int64, format string, args ...interface{}) error {
	return utils.NewFormatError("bgzf", offset, format, args...)
}

// readRawBlock reads the compressed block at the given file offset
// from r into b.raw. It returns io.EOF only if r is exhausted before
// the first byte of the block.
func readRawBlock(r io.Reader, offset int64, b *block) error {
	var hdr [12]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return errors.Wrapf(utils.ErrTruncated, "bgzf: partial block header at offset %v (%v bytes)", offset, n)
		}
		return utils.NewIOError("bgzf: read block header", err)
	}
	if hdr[0] != 0x1f || hdr[1] != 0x8b || hdr[2] != 8 {
		return formatError(offset, "not a gzip member")
	}
	if hdr[3]&4 == 0 {
		return formatError(offset, "gzip member without extra field")
	}
	xlen := int(binary.LittleEndian.Uint16(hdr[10:12]))
	extra := b.raw[:xlen]
	if _, err := io.ReadFull(r, extra); err != nil {
		return truncated(offset, err)
	}
	bsize := -1
	for i, slen := 0, 0; i+4 <= xlen; i += 4 + slen {
		slen = int(binary.LittleEndian.Uint16(extra[i+2 : i+4]))
		if extra[i] == 'B' && extra[i+1] == 'C' && slen == 2 && i+6 <= xlen {
			bsize = int(binary.LittleEndian.Uint16(extra[i+4:i+6])) + 1
			break
		}
	}
	if bsize < 0 {
		return formatError(offset, "missing BC extra subfield in BGZF header")
	}
	rest := bsize - 12 - xlen
	if rest < trailerSize {
		return formatError(offset, "block size %v too small", bsize)
	}
	b.raw = b.raw[:rest]
	if _, err := io.ReadFull(r, b.raw); err != nil {
		return truncated(offset, err)
	}
	b.offset = offset
	b.size = bsize
	tail := b.raw[rest-trailerSize:]
	b.crc32 = binary.LittleEndian.Uint32(tail[0:4])
	b.isize = binary.LittleEndian.Uint32(tail[4:8])
	b.raw = b.raw[:rest-trailerSize]
	if b.isize > MaxBlockSize {
		return formatError(offset, "decompressed size %v exceeds the maximum block size", b.isize)
	}
	return nil
}

func truncated(offset int64, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(utils.ErrTruncated, "bgzf: partial block at offset %v", offset)
	}
	return utils.NewIOError("bgzf: read block", err)
}

var flateReaderPool sync.Pool

// inflate decompresses b.raw into b.data and verifies the trailer.
func inflate(b *block) error {
	source := bytes.NewReader(b.raw)
	var fr io.ReadCloser
	if pooled := flateReaderPool.Get(); pooled == nil {
		fr = flate.NewReader(source)
	} else {
		fr = pooled.(io.ReadCloser)
		if err := fr.(flate.Resetter).Reset(source, nil); err != nil {
			fr = flate.NewReader(source)
		}
	}
	defer flateReaderPool.Put(fr)
	b.data = b.data[:int(b.isize)]
	if _, err := io.ReadFull(fr, b.data); err != nil {
		return formatError(b.offset, "corrupt deflate stream: %v", err)
	}
	if crc32.ChecksumIEEE(b.data) != b.crc32 {
		return formatError(b.offset, "CRC-32 mismatch")
	}
	return nil
}

// deflater compresses blocks at one compression level.
type deflater struct {
	level int
	pool  sync.Pool
}

func newDeflater(level int) (*deflater, error) {
	if _, err := flate.NewWriter(io.Discard, level); err != nil {
		return nil, errors.Wrap(err, "bgzf")
	}
	return &deflater{level: level}, nil
}

// deflate compresses b.data into b.raw as one complete BGZF member.
func (d *deflater) deflate(b *block) error {
	if err := d.deflateLevel(b, d.level); err != nil {
		return err
	}
	if len(b.raw) > MaxBlockSize {
		return d.deflateLevel(b, flate.NoCompression)
	}
	return nil
}

func (d *deflater) deflateLevel(b *block, level int) error {
	out := buffer.Wrap(b.raw)
	out.Resize(MaxBlockSize + headerSize + trailerSize)
	out.Append(bgzfHeader[:])
	var fw *flate.Writer
	if pooled := d.pool.Get(); pooled != nil && level == d.level {
		fw = pooled.(*flate.Writer)
		fw.Reset(&out)
	} else {
		if pooled != nil {
			d.pool.Put(pooled)
		}
		var err error
		if fw, err = flate.NewWriter(&out, level); err != nil {
			return errors.Wrap(err, "bgzf")
		}
	}
	if _, err := fw.Write(b.data); err != nil {
		return errors.Wrap(err, "bgzf: deflate")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, "bgzf: deflate")
	}
	if level == d.level {
		d.pool.Put(fw)
	}
	index := out.Grow(trailerSize)
	raw := out.Bytes()
	binary.LittleEndian.PutUint32(raw[index:index+4], crc32.ChecksumIEEE(b.data))
	binary.LittleEndian.PutUint32(raw[index+4:index+8], uint32(len(b.data)))
	if len(raw) <= MaxBlockSize {
		binary.LittleEndian.PutUint16(raw[16:18], uint16(len(raw)-1))
	}
	b.raw = raw
	b.size = len(raw)
	return nil
}
