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

package sam

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/exascience/elhts/utils"
)

// CigarOpType is the operation of a CIGAR element.
type CigarOpType uint8

// CIGAR operations, in their BAM encoding.
const (
	CigarMatch CigarOpType = iota
	CigarInsertion
	CigarDeletion
	CigarSkipped
	CigarSoftClipped
	CigarHardClipped
	CigarPadded
	CigarEqual
	CigarMismatch
	CigarBack
)

// CigarOperations lists the operation letters by BAM code.
const CigarOperations = "MIDNSHP=XB"

// MaxCigarOpLength is the longest length a CIGAR element can hold.
const MaxCigarOpLength = 1<<28 - 1

var cigarOperationsTable [256]int8

func init() {
	for i := range cigarOperationsTable {
		cigarOperationsTable[i] = -1
	}
	for i, c := range []byte(CigarOperations) {
		cigarOperationsTable[c] = int8(i)
	}
}

func (t CigarOpType) String() string {
	if int(t) < len(CigarOperations) {
		return CigarOperations[t : t+1]
	}
	return "?"
}

// ConsumesQuery reports whether the operation consumes read bases.
func (t CigarOpType) ConsumesQuery() bool {
	switch t {
	case CigarMatch, CigarInsertion, CigarSoftClipped, CigarEqual, CigarMismatch:
		return true
	default:
		return false
	}
}

// ConsumesReference reports whether the operation consumes reference
// bases.
func (t CigarOpType) ConsumesReference() bool {
	switch t {
	case CigarMatch, CigarDeletion, CigarSkipped, CigarEqual, CigarMismatch:
		return true
	default:
		return false
	}
}

// CigarOp is a CIGAR element as stored in BAM: length<<4 | op.
type CigarOp uint32

// invalidCigarOp stands for elements that cannot be packed.
const invalidCigarOp = CigarOp(0xF)

// NewCigarOp packs an operation and a length. A length outside
// [0, MaxCigarOpLength] or an unknown operation yields an element
// that is not Valid, which Encode rejects.
func NewCigarOp(op CigarOpType, length int) CigarOp {
	if length < 0 || length > MaxCigarOpLength || op > CigarBack {
		return invalidCigarOp
	}
	return CigarOp(uint32(length)<<4 | uint32(op))
}

// Valid reports whether op has a known operation.
func (op CigarOp) Valid() bool { return op.Op() <= CigarBack }

func (op CigarOp) Op() CigarOpType { return CigarOpType(op & 0xF) }
func (op CigarOp) Len() int        { return int(op >> 4) }

func (op CigarOp) String() string {
	return strconv.Itoa(op.Len()) + op.Op().String()
}

// ParseCigar parses a textual CIGAR. "*" and "" yield no operations.
func ParseCigar(cigar string) ([]CigarOp, error) {
	if cigar == "*" || cigar == "" {
		return nil, nil
	}
	ops := make([]CigarOp, 0, len(cigar)/2)
	for i := 0; i < len(cigar); {
		j := i
		for j < len(cigar) && '0' <= cigar[j] && cigar[j] <= '9' {
			j++
		}
		if j == i || j == len(cigar) {
			return nil, utils.NewFormatError("cigar", int64(i), "missing length or operation in %q", cigar)
		}
		length, err := strconv.ParseUint(cigar[i:j], 10, 32)
		if err != nil || length > MaxCigarOpLength {
			return nil, utils.NewFormatError("cigar", int64(i), "invalid length in %q", cigar)
		}
		op := cigarOperationsTable[cigar[j]]
		if op < 0 {
			return nil, utils.NewFormatError("cigar", int64(j), "invalid CIGAR operation %q in %q", cigar[j], cigar)
		}
		ops = append(ops, NewCigarOp(CigarOpType(op), int(length)))
		i = j + 1
	}
	return ops, nil
}

// FormatCigar returns the textual form of ops, "*" if there are none.
func FormatCigar(ops []CigarOp) string {
	if len(ops) == 0 {
		return "*"
	}
	var sb strings.Builder
	for _, op := range ops {
		sb.WriteString(op.String())
	}
	return sb.String()
}

// QueryLength sums the lengths of the operations that consume read
// bases.
func QueryLength(ops []CigarOp) int {
	var length int
	for _, op := range ops {
		if op.Op().ConsumesQuery() {
			length += op.Len()
		}
	}
	return length
}

// ReferenceLength sums the lengths of the operations that consume
// reference bases.
func ReferenceLength(ops []CigarOp) int64 {
	var length int64
	for _, op := range ops {
		if op.Op().ConsumesReference() {
			length += int64(op.Len())
		}
	}
	return length
}

// Cigar is a view of the CIGAR of a record. It shares the record's
// storage, and becomes invalid when the record's buffer is
// reallocated.
type Cigar struct {
	data []byte
}

func (c Cigar) Len() int { return len(c.data) >> 2 }

func (c Cigar) At(i int) CigarOp {
	return CigarOp(binary.LittleEndian.Uint32(c.data[i<<2:]))
}

// Set replaces element i. Changing the reference length of a
// record's CIGAR does not update its bin.
func (c Cigar) Set(i int, op CigarOp) {
	binary.LittleEndian.PutUint32(c.data[i<<2:], uint32(op))
}

// Ops copies the view into a slice.
func (c Cigar) Ops() []CigarOp {
	ops := make([]CigarOp, c.Len())
	for i := range ops {
		ops[i] = c.At(i)
	}
	return ops
}

func (c Cigar) QueryLength() int {
	var length int
	for i, n := 0, c.Len(); i < n; i++ {
		if op := c.At(i); op.Op().ConsumesQuery() {
			length += op.Len()
		}
	}
	return length
}

func (c Cigar) ReferenceLength() int64 {
	var length int64
	for i, n := 0, c.Len(); i < n; i++ {
		if op := c.At(i); op.Op().ConsumesReference() {
			length += int64(op.Len())
		}
	}
	return length
}

func (c Cigar) String() string {
	return FormatCigar(c.Ops())
}
