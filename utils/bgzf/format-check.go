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
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/exascience/elhts/utils"
)

// Content is the kind of data a stream holds, as far as its first
// block tells.
type Content int

// The recognized kinds of content.
const (
	Unknown Content = iota
	Gzip            // gzip, but not BGZF
	BGZF            // BGZF holding neither BAM nor BCF
	BAM
	BCF
)

func (c Content) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case BGZF:
		return "BGZF"
	case BAM:
		return "BAM"
	case BCF:
		return "BCF"
	default:
		return "unknown"
	}
}

// Sniff identifies the content of buf without consuming input. The
// buffer must be able to hold MaxBlockSize bytes.
func Sniff(buf *bufio.Reader) (Content, error) {
	if ok, err := IsGzip(buf); err != nil {
		if err == io.EOF {
			return Unknown, nil
		}
		return Unknown, utils.NewIOError("bgzf: sniff", err)
	} else if !ok {
		return Unknown, nil
	}
	header, _ := buf.Peek(headerSize)
	if !IsBGZF(header) {
		return Gzip, nil
	}
	bsize := int(binary.LittleEndian.Uint16(header[16:18])) + 1
	raw, err := buf.Peek(bsize)
	switch err {
	case nil:
	case bufio.ErrBufferFull:
		return BGZF, nil
	default:
		return BGZF, truncated(0, io.ErrUnexpectedEOF)
	}
	b := getBlock()
	defer putBlock(b)
	if err := readRawBlock(bytes.NewReader(raw), 0, b); err != nil {
		return BGZF, err
	}
	if err := inflate(b); err != nil {
		return BGZF, err
	}
	switch {
	case bytes.HasPrefix(b.data, []byte("BAM\x01")):
		return BAM, nil
	case bytes.HasPrefix(b.data, []byte("BCF\x02")):
		return BCF, nil
	}
	return BGZF, nil
}

// NewAnyReader returns a reader of the decompressed data of buf for
// BGZF and plain gzip input, and buf itself otherwise.
func NewAnyReader(buf *bufio.Reader, workers int) (io.Reader, Content, error) {
	content, err := Sniff(buf)
	if err != nil {
		return nil, content, err
	}
	switch content {
	case Unknown:
		return buf, content, nil
	case Gzip:
		r, err := gzip.NewReader(buf)
		if err != nil {
			return nil, content, formatError(0, "%v", err)
		}
		return r, content, nil
	default:
		return NewReader(buf, workers), content, nil
	}
}
