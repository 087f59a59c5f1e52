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

// Package bgzf implements the BGZF block compression format: a
// concatenation of gzip members of at most 64 KiB each, addressed by
// 64-bit virtual offsets, and terminated by an empty EOF block.
package bgzf

import (
	"bytes"
	"io"
	"os"

	"github.com/exascience/elhts/utils"
)

// IsGzip determines if the the given byte scanner produces
// a gzip file. It uses ReadByte and UnreadByte to check
// only the initial byte from the input.
func IsGzip(scanner io.ByteScanner) (bool, error) {
	b, err := scanner.ReadByte()
	if err != nil {
		return false, err
	}
	if err := scanner.UnreadByte(); err != nil {
		return false, err
	}
	return b == 0x1f, nil
}

// IsBGZF reports whether header, the first bytes of a file, start a
// BGZF block.
func IsBGZF(header []byte) bool {
	return len(header) >= headerSize && bytes.Equal(header[:4], bgzfHeader[:4]) &&
		header[12] == 'B' && header[13] == 'C'
}

// CheckEOF reports whether rs ends with the BGZF EOF block. The
// position of rs is restored afterwards.
func CheckEOF(rs io.ReadSeeker) (bool, error) {
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, utils.NewIOError("bgzf: check EOF", err)
	}
	defer func() { _, _ = rs.Seek(pos, io.SeekStart) }()
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return false, utils.NewIOError("bgzf: check EOF", err)
	}
	if size < int64(len(bgzfEOF)) {
		return false, nil
	}
	if _, err := rs.Seek(size-int64(len(bgzfEOF)), io.SeekStart); err != nil {
		return false, utils.NewIOError("bgzf: check EOF", err)
	}
	var tail [28]byte
	if _, err := io.ReadFull(rs, tail[:]); err != nil {
		return false, utils.NewIOError("bgzf: check EOF", err)
	}
	return bytes.Equal(tail[:], bgzfEOF), nil
}

// Open opens the named BGZF file for reading with the given number
// of decompression workers. Closing the Reader closes the file.
func Open(name string, workers int) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, utils.NewIOError("bgzf: open", err)
	}
	r := NewReader(f, workers)
	r.closer = f
	return r, nil
}

// Create creates the named BGZF file. Closing the Writer writes the
// EOF block and closes the file.
func Create(name string, level, workers int) (*Writer, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, utils.NewIOError("bgzf: create", err)
	}
	w, err := NewWriterWorkers(f, level, workers)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}
