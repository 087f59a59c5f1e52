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

import "fmt"

// Offset is a BGZF virtual offset: the file offset of a compressed
// block in the upper 48 bits, and the offset into the decompressed
// block in the lower 16 bits. Offsets order like the positions they
// address.
type Offset uint64

// NewOffset combines a block file offset and an in-block offset.
func NewOffset(file int64, block uint16) Offset {
	return Offset(uint64(file)<<16 | uint64(block))
}

// File returns the file offset of the compressed block.
func (o Offset) File() int64 { return int64(o >> 16) }

// Block returns the offset into the decompressed block.
func (o Offset) Block() uint16 { return uint16(o) }

func (o Offset) String() string {
	return fmt.Sprintf("%d:%d", o.File(), o.Block())
}

// Chunk is the half-open range [Begin, End) of virtual offsets.
type Chunk struct {
	Begin, End Offset
}

func (c Chunk) String() string {
	return fmt.Sprintf("[%v, %v)", c.Begin, c.End)
}
