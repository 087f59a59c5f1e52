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
	"math"

	"github.com/pkg/errors"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/nibbles"
)

const (
	refIDIndex     = 0
	posIndex       = refIDIndex + 4
	lReadNameIndex = posIndex + 4
	mapqIndex      = lReadNameIndex + 1
	binIndex       = mapqIndex + 1
	nCigarOpIndex  = binIndex + 2
	flagIndex      = nCigarOpIndex + 2
	lSeqIndex      = flagIndex + 2
	nextRefIDIndex = lSeqIndex + 4
	nextPosIndex   = nextRefIDIndex + 4
	tlenIndex      = nextPosIndex + 4
	readNameIndex  = tlenIndex + 4
)

// MemPolicy controls how a record manages its buffer. It is not
// serialized.
type MemPolicy uint32

const (
	// ReserveAux keeps spare capacity after the aux fields, so that
	// aux updates rarely reallocate.
	ReserveAux MemPolicy = 1 << iota
)

const auxReserve = 64

// A Record is a BAM alignment record, held in its binary encoding.
// Accessors decode fields on demand, and views such as Cigar, Seq
// and Qual share the record's storage. Mutations may reallocate the
// storage, which invalidates earlier views.
//
// A Record is not safe for concurrent mutation.
type Record struct {
	data   []byte
	nCigar int
	Policy MemPolicy
}

func recordError(offset int, format string, args ...interface{}) error {
	return utils.NewFormatError("bam", int64(offset), format, args...)
}

// Decode returns a record for raw, the encoding of one alignment
// without the leading block_size. The record takes ownership of raw.
func Decode(raw []byte) (*Record, error) {
	rec := new(Record)
	if err := rec.Unmarshal(raw); err != nil {
		return nil, err
	}
	return rec, nil
}

// Unmarshal is like Decode, but reuses rec. On error, rec is left
// empty.
func (rec *Record) Unmarshal(raw []byte) error {
	rec.data = rec.data[:0]
	rec.nCigar = 0
	if len(raw) < readNameIndex {
		return recordError(0, "record of %v bytes shorter than the fixed fields", len(raw))
	}
	lReadName := int(raw[lReadNameIndex])
	if lReadName < 1 {
		return recordError(lReadNameIndex, "empty read name")
	}
	nCigar := int(binary.LittleEndian.Uint16(raw[nCigarOpIndex:]))
	lSeq := int64(int32(binary.LittleEndian.Uint32(raw[lSeqIndex:])))
	if lSeq < 0 {
		return recordError(lSeqIndex, "negative sequence length %v", lSeq)
	}
	need := int64(readNameIndex+lReadName) + int64(nCigar)*4 + (lSeq+1)>>1 + lSeq
	if need > int64(len(raw)) {
		return recordError(0, "record of %v bytes too short for its variable fields (%v bytes)", len(raw), need)
	}
	if raw[readNameIndex+lReadName-1] != 0 {
		return recordError(readNameIndex+lReadName-1, "read name not NUL terminated")
	}
	rec.data = raw
	rec.nCigar = nCigar
	it := rec.AuxIter()
	var cg Aux
	for it.Next() {
		if aux := it.Aux(); aux.Tag() == cgTag {
			cg = aux
		}
	}
	if err := it.Err(); err != nil {
		rec.data = rec.data[:0]
		rec.nCigar = 0
		return err
	}
	if cg != nil && rec.hasCigarPlaceholder() {
		return rec.restoreLongCigar(cg)
	}
	return nil
}

var cgTag = Tag{'C', 'G'}

func (rec *Record) hasCigarPlaceholder() bool {
	if rec.nCigar != 2 {
		return false
	}
	c := rec.Cigar()
	first, second := c.At(0), c.At(1)
	return first.Op() == CigarSoftClipped && first.Len() == rec.SeqLen() &&
		second.Op() == CigarSkipped
}

// restoreLongCigar moves a CIGAR stored in a CG:B:I field into the
// CIGAR position, replacing the placeholder.
func (rec *Record) restoreLongCigar(cg Aux) error {
	arr, _ := cg.Array()
	if arr.Subtype() != 'I' {
		return recordError(rec.auxOffset(), "CG field of subtype %q instead of I", arr.Subtype())
	}
	cigarOff, seqOff := rec.cigarOffset(), rec.seqOffset()
	data := make([]byte, 0, len(rec.data)-len(cg)-8+4*arr.Len())
	data = append(data, rec.data[:cigarOff]...)
	data = append(data, arr.data[:4*arr.Len()]...)
	data = append(data, rec.data[seqOff:rec.auxOffset()]...)
	it := rec.AuxIter()
	for it.Next() {
		if aux := it.Aux(); aux.Tag() != cgTag {
			data = append(data, aux...)
		}
	}
	rec.data = data
	rec.nCigar = arr.Len()
	binary.LittleEndian.PutUint16(rec.data[nCigarOpIndex:], 0)
	return nil
}

func (rec *Record) lReadName() int { return int(rec.data[lReadNameIndex]) }

func (rec *Record) cigarOffset() int { return readNameIndex + rec.lReadName() }

func (rec *Record) seqOffset() int { return rec.cigarOffset() + rec.nCigar<<2 }

func (rec *Record) qualOffset() int { return rec.seqOffset() + (rec.SeqLen()+1)>>1 }

func (rec *Record) auxOffset() int { return rec.qualOffset() + rec.SeqLen() }

func (rec *Record) RefID() int32 {
	return int32(binary.LittleEndian.Uint32(rec.data[refIDIndex:]))
}

func (rec *Record) SetRefID(refID int32) {
	binary.LittleEndian.PutUint32(rec.data[refIDIndex:], uint32(refID))
}

// Pos is the 0-based leftmost mapping position.
func (rec *Record) Pos() int64 {
	return int64(int32(binary.LittleEndian.Uint32(rec.data[posIndex:])))
}

// SetPos also updates the bin.
func (rec *Record) SetPos(pos int64) {
	binary.LittleEndian.PutUint32(rec.data[posIndex:], uint32(int32(pos)))
	rec.UpdateBin()
}

func (rec *Record) MapQ() uint8 { return rec.data[mapqIndex] }

func (rec *Record) SetMapQ(mapq uint8) { rec.data[mapqIndex] = mapq }

func (rec *Record) Bin() uint16 {
	return binary.LittleEndian.Uint16(rec.data[binIndex:])
}

// UpdateBin recomputes the bin from the position and the CIGAR.
func (rec *Record) UpdateBin() {
	binary.LittleEndian.PutUint16(rec.data[binIndex:], computeBin(rec.Pos(), rec.End()))
}

func computeBin(beg, end int64) uint16 {
	return uint16(index.RegionToBin(beg, end, index.DefaultMinShift, index.DefaultDepth))
}

func (rec *Record) Flag() Flag {
	return Flag(binary.LittleEndian.Uint16(rec.data[flagIndex:]))
}

func (rec *Record) SetFlag(flag Flag) {
	binary.LittleEndian.PutUint16(rec.data[flagIndex:], uint16(flag))
}

func (rec *Record) IsMultiple() bool      { return rec.Flag().IsMultiple() }
func (rec *Record) IsProper() bool        { return rec.Flag().IsProper() }
func (rec *Record) IsUnmapped() bool      { return rec.Flag().IsUnmapped() }
func (rec *Record) IsNextUnmapped() bool  { return rec.Flag().IsNextUnmapped() }
func (rec *Record) IsReversed() bool      { return rec.Flag().IsReversed() }
func (rec *Record) IsNextReversed() bool  { return rec.Flag().IsNextReversed() }
func (rec *Record) IsFirst() bool         { return rec.Flag().IsFirst() }
func (rec *Record) IsLast() bool          { return rec.Flag().IsLast() }
func (rec *Record) IsSecondary() bool     { return rec.Flag().IsSecondary() }
func (rec *Record) IsQCFailed() bool      { return rec.Flag().IsQCFailed() }
func (rec *Record) IsDuplicate() bool     { return rec.Flag().IsDuplicate() }
func (rec *Record) IsSupplementary() bool { return rec.Flag().IsSupplementary() }

// SeqLen is the number of bases, l_seq.
func (rec *Record) SeqLen() int {
	return int(int32(binary.LittleEndian.Uint32(rec.data[lSeqIndex:])))
}

func (rec *Record) NextRefID() int32 {
	return int32(binary.LittleEndian.Uint32(rec.data[nextRefIDIndex:]))
}

func (rec *Record) SetNextRefID(refID int32) {
	binary.LittleEndian.PutUint32(rec.data[nextRefIDIndex:], uint32(refID))
}

func (rec *Record) NextPos() int64 {
	return int64(int32(binary.LittleEndian.Uint32(rec.data[nextPosIndex:])))
}

func (rec *Record) SetNextPos(pos int64) {
	binary.LittleEndian.PutUint32(rec.data[nextPosIndex:], uint32(int32(pos)))
}

func (rec *Record) TLen() int64 {
	return int64(int32(binary.LittleEndian.Uint32(rec.data[tlenIndex:])))
}

func (rec *Record) SetTLen(tlen int64) {
	binary.LittleEndian.PutUint32(rec.data[tlenIndex:], uint32(int32(tlen)))
}

// Name returns the read name.
func (rec *Record) Name() string {
	return string(rec.data[readNameIndex : rec.cigarOffset()-1])
}

// Cigar returns a view of the CIGAR.
func (rec *Record) Cigar() Cigar {
	return Cigar{data: rec.data[rec.cigarOffset():rec.seqOffset()]}
}

// Sequence is a view of the 4-bit encoded bases of a record.
type Sequence struct {
	nibbles.Nibbles
}

// Base returns the letter of base i.
func (s Sequence) Base(i int) byte { return nibbles.DecodeBase(s.Get(i)) }

// SetBase stores the letter b at position i. Letters outside the
// BAM alphabet are stored as N.
func (s Sequence) SetBase(i int, b byte) { s.Set(i, nibbles.EncodeBase(b)) }

// Seq returns a view of the bases.
func (rec *Record) Seq() Sequence {
	return Sequence{nibbles.ReflectMake(rec.SeqLen(), 0, rec.data[rec.seqOffset():rec.qualOffset()])}
}

// Qual returns a view of the phred base qualities, without offset.
// Missing qualities are stored as 0xff.
func (rec *Record) Qual() []byte {
	return rec.data[rec.qualOffset():rec.auxOffset()]
}

// QueryLength is the number of read bases consumed by the CIGAR.
func (rec *Record) QueryLength() int { return rec.Cigar().QueryLength() }

// ReferenceLength is the number of reference bases covered by the
// CIGAR.
func (rec *Record) ReferenceLength() int64 { return rec.Cigar().ReferenceLength() }

// End returns the 0-based exclusive end of the alignment on the
// reference. Unmapped records and records whose CIGAR consumes no
// reference bases cover one base.
func (rec *Record) End() int64 {
	pos := rec.Pos()
	if rec.IsUnmapped() {
		return pos + 1
	}
	if length := rec.ReferenceLength(); length > 0 {
		return pos + length
	}
	return pos + 1
}

// Overlaps reports whether the record overlaps region.
func (rec *Record) Overlaps(region index.Region) bool {
	return region.Overlaps(int(rec.RefID()), rec.Pos(), rec.End())
}

// Copy returns a deep copy.
func (rec *Record) Copy() *Record {
	return &Record{
		data:   append(make([]byte, 0, rec.capacityFor(len(rec.data))), rec.data...),
		nCigar: rec.nCigar,
		Policy: rec.Policy,
	}
}

func (rec *Record) capacityFor(size int) int {
	if rec.Policy&ReserveAux != 0 {
		return size + auxReserve
	}
	return size
}

// AuxIter returns an iterator over the aux fields.
func (rec *Record) AuxIter() *AuxIter {
	off := rec.auxOffset()
	return &AuxIter{data: rec.data[off:], base: off}
}

// Aux returns the field with the given tag.
func (rec *Record) Aux(tag string) (Aux, error) {
	t, err := NewTag(tag)
	if err != nil {
		return nil, err
	}
	aux, _, err := rec.findAux(t)
	return aux, err
}

func (rec *Record) findAux(tag Tag) (Aux, int, error) {
	it := rec.AuxIter()
	for it.Next() {
		if aux := it.Aux(); aux.Tag() == tag {
			return aux, it.base + it.offset - len(aux), nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, -1, err
	}
	return nil, -1, utils.NotFound("aux field", tag.String())
}

// splice replaces data[off:off+n] by repl.
func (rec *Record) splice(off, n int, repl []byte) {
	size := len(rec.data) - n + len(repl)
	if size > cap(rec.data) {
		data := make([]byte, size, rec.capacityFor(size))
		copy(data, rec.data[:off])
		copy(data[off+len(repl):], rec.data[off+n:])
		copy(data[off:], repl)
		rec.data = data
		return
	}
	tail := rec.data[off+n:]
	rec.data = rec.data[:size]
	copy(rec.data[off+len(repl):], tail)
	copy(rec.data[off:], repl)
}

// SetAux replaces the value of an existing field in place, or appends
// a new field. See appendAux for the accepted value types.
func (rec *Record) SetAux(tag string, value interface{}) error {
	t, err := NewTag(tag)
	if err != nil {
		return err
	}
	field, err := appendAux(nil, t, value)
	if err != nil {
		return err
	}
	aux, off, err := rec.findAux(t)
	switch {
	case err == nil:
		rec.splice(off, len(aux), field)
	case errors.Is(err, utils.ErrNotFound):
		rec.splice(len(rec.data), 0, field)
	default:
		return err
	}
	return nil
}

// AppendAux appends a field without checking for an existing one.
func (rec *Record) AppendAux(tag string, value interface{}) error {
	t, err := NewTag(tag)
	if err != nil {
		return err
	}
	field, err := appendAux(nil, t, value)
	if err != nil {
		return err
	}
	rec.splice(len(rec.data), 0, field)
	return nil
}

// DeleteAux removes the field with the given tag.
func (rec *Record) DeleteAux(tag string) error {
	t, err := NewTag(tag)
	if err != nil {
		return err
	}
	aux, off, err := rec.findAux(t)
	if err != nil {
		return err
	}
	rec.splice(off, len(aux), nil)
	return nil
}

// Fields are the values of a new record. Empty Seq or Qual stand for
// "*"; missing qualities are stored as 0xff.
type Fields struct {
	Name      string
	Flag      Flag
	RefID     int32
	Pos       int64
	MapQ      uint8
	Cigar     []CigarOp
	NextRefID int32
	NextPos   int64
	TLen      int64
	Seq       string
	Qual      []byte
	Aux       utils.SmallMap[Tag, interface{}]
	Policy    MemPolicy
}

// Encode serializes fields into a new record, computing the bin and
// all lengths.
func Encode(fields *Fields) (*Record, error) {
	name := fields.Name
	if name == "" {
		name = "*"
	}
	if len(name) > math.MaxUint8-1 {
		return nil, errors.Errorf("bam: read name of %v characters too long", len(name))
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return nil, errors.New("bam: read name contains NUL")
		}
	}
	if fields.Pos < -1 || fields.Pos > math.MaxInt32 || fields.NextPos < -1 || fields.NextPos > math.MaxInt32 {
		return nil, errors.Errorf("bam: position %v or %v out of range", fields.Pos, fields.NextPos)
	}
	seq := fields.Seq
	if seq == "*" {
		seq = ""
	}
	if len(fields.Qual) != 0 && len(fields.Qual) != len(seq) {
		return nil, errors.Errorf("bam: %v qualities for %v bases", len(fields.Qual), len(seq))
	}
	for i, op := range fields.Cigar {
		if !op.Valid() {
			return nil, errors.Errorf("bam: invalid CIGAR element %v, lengths are at most %v", i, MaxCigarOpLength)
		}
	}
	if len(seq) != 0 && len(fields.Cigar) != 0 {
		if qlen := QueryLength(fields.Cigar); qlen != len(seq) {
			return nil, errors.Errorf("bam: CIGAR query length %v differs from sequence length %v", qlen, len(seq))
		}
	}
	end := fields.Pos + 1
	if !fields.Flag.IsUnmapped() {
		if length := ReferenceLength(fields.Cigar); length > 0 {
			end = fields.Pos + length
		}
	}

	size := readNameIndex + len(name) + 1 + 4*len(fields.Cigar) + (len(seq)+1)>>1 + len(seq)
	data := make([]byte, 0, size+64)
	data = internal.AppendInt32(data, fields.RefID)
	data = internal.AppendInt32(data, int32(fields.Pos))
	data = append(data, byte(len(name)+1), fields.MapQ)
	data = internal.AppendUint16(data, computeBin(fields.Pos, end))
	nCigar := len(fields.Cigar)
	if nCigar > math.MaxUint16 {
		data = internal.AppendUint16(data, 0)
	} else {
		data = internal.AppendUint16(data, uint16(nCigar))
	}
	data = internal.AppendUint16(data, uint16(fields.Flag))
	data = internal.AppendInt32(data, int32(len(seq)))
	data = internal.AppendInt32(data, fields.NextRefID)
	data = internal.AppendInt32(data, int32(fields.NextPos))
	data = internal.AppendInt32(data, int32(fields.TLen))
	data = append(append(data, name...), 0)
	for _, op := range fields.Cigar {
		data = internal.AppendUint32(data, uint32(op))
	}
	data = append(data, nibbles.FromBases(seq).Bytes()...)
	if len(fields.Qual) == 0 {
		for i := 0; i < len(seq); i++ {
			data = append(data, 0xff)
		}
	} else {
		data = append(data, fields.Qual...)
	}
	for _, entry := range fields.Aux {
		if entry.Key == cgTag {
			return nil, errors.New("bam: CG is reserved for long CIGARs")
		}
		var err error
		if data, err = appendAux(data, entry.Key, entry.Value); err != nil {
			return nil, err
		}
	}
	rec := &Record{data: data, nCigar: nCigar, Policy: fields.Policy}
	if rec.Policy&ReserveAux == 0 {
		rec.data = data[:len(data):len(data)]
	} else if cap(data)-len(data) < auxReserve {
		rec.data = append(make([]byte, 0, rec.capacityFor(len(data))), data...)
	}
	return rec, nil
}

// MarshalBAM appends the encoding of rec, including block_size, to
// out. A CIGAR of more than 65535 operations is written to a CG:B:I
// field, with a placeholder CIGAR of a soft clip of the whole read
// followed by a skip over the reference length.
func (rec *Record) MarshalBAM(out []byte) []byte {
	if rec.nCigar <= math.MaxUint16 {
		out = internal.AppendInt32(out, int32(len(rec.data)))
		start := len(out)
		out = append(out, rec.data...)
		binary.LittleEndian.PutUint16(out[start+nCigarOpIndex:], uint16(rec.nCigar))
		return out
	}
	cigar := rec.Cigar()
	sizeIndex := len(out)
	out = internal.AppendInt32(out, 0)
	start := len(out)
	out = append(out, rec.data[:rec.cigarOffset()]...)
	binary.LittleEndian.PutUint16(out[start+nCigarOpIndex:], 2)
	out = internal.AppendUint32(out, uint32(NewCigarOp(CigarSoftClipped, rec.SeqLen())))
	out = internal.AppendUint32(out, uint32(NewCigarOp(CigarSkipped, int(cigar.ReferenceLength()))))
	out = append(out, rec.data[rec.seqOffset():]...)
	out = append(out, 'C', 'G', 'B', 'I')
	out = internal.AppendUint32(out, uint32(cigar.Len()))
	out = append(out, cigar.data...)
	binary.LittleEndian.PutUint32(out[sizeIndex:], uint32(len(out)-start))
	return out
}

// Size is the length of the encoding, without block_size.
func (rec *Record) Size() int {
	return len(rec.data)
}
