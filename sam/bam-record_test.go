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
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elhts/utils"
)

func encodeTestRecord(t *testing.T, name string, refID int32, pos int64, cigar, seq string) *Record {
	t.Helper()
	ops, err := ParseCigar(cigar)
	require.NoError(t, err)
	rec, err := Encode(&Fields{
		Name:      name,
		RefID:     refID,
		Pos:       pos,
		MapQ:      60,
		Cigar:     ops,
		NextRefID: -1,
		NextPos:   -1,
		Seq:       seq,
	})
	require.NoError(t, err)
	return rec
}

// roundTrip marshals rec and decodes the result.
func roundTrip(t *testing.T, rec *Record) *Record {
	t.Helper()
	raw := rec.MarshalBAM(nil)
	require.Equal(t, len(raw)-4, int(binary.LittleEndian.Uint32(raw)))
	decoded, err := Decode(raw[4:])
	require.NoError(t, err)
	return decoded
}

func TestEncodeDecode(t *testing.T) {
	rec, err := Encode(&Fields{
		Name:      "read1",
		Flag:      Multiple | First | Reversed,
		RefID:     1,
		Pos:       16383,
		MapQ:      42,
		Cigar:     []CigarOp{NewCigarOp(CigarMatch, 3), NewCigarOp(CigarDeletion, 2), NewCigarOp(CigarMatch, 2)},
		NextRefID: 1,
		NextPos:   20000,
		TLen:      -300,
		Seq:       "ACGTN",
		Qual:      []byte{30, 31, 32, 33, 2},
		Aux: utils.SmallMap[Tag, interface{}]{
			{Key: Tag{'N', 'M'}, Value: 2},
			{Key: Tag{'R', 'G'}, Value: "grp1"},
		},
	})
	require.NoError(t, err)

	got := roundTrip(t, rec)
	assert.Equal(t, "read1", got.Name())
	assert.Equal(t, Multiple|First|Reversed, got.Flag())
	assert.True(t, got.IsReversed())
	assert.False(t, got.IsUnmapped())
	assert.Equal(t, int32(1), got.RefID())
	assert.Equal(t, int64(16383), got.Pos())
	assert.Equal(t, uint8(42), got.MapQ())
	assert.Equal(t, "3M2D2M", got.Cigar().String())
	assert.Equal(t, int32(1), got.NextRefID())
	assert.Equal(t, int64(20000), got.NextPos())
	assert.Equal(t, int64(-300), got.TLen())
	assert.Equal(t, 5, got.SeqLen())
	assert.Equal(t, "ACGTN", got.Seq().String())
	assert.Equal(t, byte('G'), got.Seq().Base(2))
	assert.Equal(t, []byte{30, 31, 32, 33, 2}, got.Qual())
	assert.Equal(t, int64(16383+7), got.End())
	assert.Equal(t, 5, got.QueryLength())
	assert.Equal(t, int64(7), got.ReferenceLength())
	// [16383, 16390) crosses the first 16 kb window boundary
	assert.Equal(t, uint16(585), got.Bin())

	nm, err := got.Aux("NM")
	require.NoError(t, err)
	v, err := nm.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, byte('C'), nm.Type())
	rg, err := got.Aux("RG")
	require.NoError(t, err)
	s, err := rg.Text()
	require.NoError(t, err)
	assert.Equal(t, "grp1", s)
}

func TestEncodeDefaults(t *testing.T) {
	rec, err := Encode(&Fields{RefID: -1, Pos: -1, NextRefID: -1, NextPos: -1, Flag: Unmapped, Seq: "AC"})
	require.NoError(t, err)
	assert.Equal(t, "*", rec.Name())
	assert.Equal(t, []byte{0xff, 0xff}, rec.Qual())
	assert.Equal(t, 0, rec.Cigar().Len())
	assert.Equal(t, uint16(4680), rec.Bin())
	assert.Equal(t, int64(0), rec.End())
}

func TestEncodeErrors(t *testing.T) {
	for _, fields := range []*Fields{
		{Name: strings.Repeat("x", 255)},
		{Name: "a\x00b"},
		{Seq: "ACGT", Qual: []byte{1, 2}},
		{Seq: "ACGT", Cigar: []CigarOp{NewCigarOp(CigarMatch, 3)}},
		{Pos: 1 << 31},
		{Cigar: []CigarOp{NewCigarOp(CigarMatch, 10), NewCigarOp(CigarSkipped, MaxCigarOpLength+1)}},
		{Seq: "ACGT", Cigar: []CigarOp{NewCigarOp(CigarMatch, 4), CigarOp(0xE)}},
		{Aux: utils.SmallMap[Tag, interface{}]{{Key: Tag{'X', 'X'}, Value: struct{}{}}}},
		{Aux: utils.SmallMap[Tag, interface{}]{{Key: Tag{'X', 'X'}, Value: int64(1) << 40}}},
	} {
		_, err := Encode(fields)
		assert.Error(t, err, "%+v", fields)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := encodeTestRecord(t, "r", 0, 10, "4M", "ACGT").MarshalBAM(nil)[4:]

	_, err := Decode(valid[:20])
	assert.True(t, errors.Is(err, utils.ErrFormat))

	noName := append([]byte(nil), valid...)
	noName[lReadNameIndex] = 0
	_, err = Decode(noName)
	assert.True(t, errors.Is(err, utils.ErrFormat))

	noNUL := append([]byte(nil), valid...)
	noNUL[readNameIndex+1] = 'x'
	_, err = Decode(noNUL)
	assert.True(t, errors.Is(err, utils.ErrFormat))

	_, err = Decode(valid[:len(valid)-1])
	assert.True(t, errors.Is(err, utils.ErrFormat))

	badAux := append(append([]byte(nil), valid...), 'X', 'X', 'Q', 1)
	_, err = Decode(badAux)
	assert.True(t, errors.Is(err, utils.ErrFormat))

	shortArray := append(append([]byte(nil), valid...), 'X', 'X', 'B', 'i', 10, 0, 0, 0, 1, 2)
	_, err = Decode(shortArray)
	assert.True(t, errors.Is(err, utils.ErrFormat))
}

func TestSetters(t *testing.T) {
	rec := encodeTestRecord(t, "r", 0, 100, "50M", strings.Repeat("A", 50))
	assert.Equal(t, uint16(4681), rec.Bin())
	rec.SetPos(1 << 14)
	assert.Equal(t, int64(1<<14), rec.Pos())
	assert.Equal(t, uint16(4682), rec.Bin())
	rec.SetFlag(Duplicate | Unmapped)
	assert.True(t, rec.IsDuplicate())
	assert.Equal(t, int64(1<<14+1), rec.End())
	rec.SetMapQ(3)
	rec.SetRefID(2)
	rec.SetNextRefID(2)
	rec.SetNextPos(7)
	rec.SetTLen(-9)
	got := roundTrip(t, rec)
	assert.Equal(t, uint8(3), got.MapQ())
	assert.Equal(t, int32(2), got.RefID())
	assert.Equal(t, int32(2), got.NextRefID())
	assert.Equal(t, int64(7), got.NextPos())
	assert.Equal(t, int64(-9), got.TLen())

	seq := got.Seq()
	seq.SetBase(0, 'c')
	seq.SetBase(1, 'Z')
	assert.Equal(t, "CN", got.Seq().String()[:2])
}

func TestAuxUpdates(t *testing.T) {
	rec := encodeTestRecord(t, "r", 0, 100, "4M", "ACGT")
	require.NoError(t, rec.SetAux("NM", 3))
	require.NoError(t, rec.SetAux("XS", "hello world"))
	require.NoError(t, rec.SetAux("NM", 300))
	require.NoError(t, rec.SetAux("XF", float32(1.5)))
	require.NoError(t, rec.SetAux("XA", byte('c')))
	require.NoError(t, rec.SetAux("BC", []uint8{0, 127, 128, 255}))
	require.NoError(t, rec.SetAux("XH", ByteArray{0x1a, 0xe3}))
	require.NoError(t, rec.SetAux("XN", -5))
	require.NoError(t, rec.SetAux("XI", []int32{-1, 70000}))

	var tags []string
	it := rec.AuxIter()
	for it.Next() {
		tags = append(tags, it.Aux().Tag().String())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"NM", "XS", "XF", "XA", "BC", "XH", "XN", "XI"}, tags)

	rec = roundTrip(t, rec)
	nm, err := rec.Aux("NM")
	require.NoError(t, err)
	assert.Equal(t, byte('S'), nm.Type())
	assert.Equal(t, "NM:i:300", nm.String())

	xn, _ := rec.Aux("XN")
	assert.Equal(t, int64(-5), xn.Value())
	assert.Equal(t, byte('c'), xn.Type())

	xs, _ := rec.Aux("XS")
	_, err = xs.Int()
	assert.True(t, errors.Is(err, utils.ErrTypeMismatch))
	assert.Equal(t, "XS:Z:hello world", xs.String())

	xf, _ := rec.Aux("XF")
	f, err := xf.Float()
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	assert.Equal(t, "XF:f:1.5", xf.String())

	xa, _ := rec.Aux("XA")
	c, err := xa.Char()
	require.NoError(t, err)
	assert.Equal(t, byte('c'), c)

	bc, _ := rec.Aux("BC")
	arr, err := bc.Array()
	require.NoError(t, err)
	assert.Equal(t, 4, arr.Len())
	assert.Equal(t, byte('C'), arr.Subtype())
	assert.Equal(t, int64(255), arr.Int(3))
	assert.Equal(t, "BC:B:C,0,127,128,255", bc.String())
	assert.Equal(t, []uint8{0, 127, 128, 255}, bc.Value())

	xh, _ := rec.Aux("XH")
	h, err := xh.Text()
	require.NoError(t, err)
	assert.Equal(t, "1AE3", h)
	assert.Equal(t, ByteArray{0x1a, 0xe3}, xh.Value())

	xi, _ := rec.Aux("XI")
	assert.Equal(t, []int32{-1, 70000}, xi.Value())

	require.NoError(t, rec.DeleteAux("NM"))
	_, err = rec.Aux("NM")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	assert.True(t, errors.Is(rec.DeleteAux("NM"), utils.ErrNotFound))
	_, err = rec.Aux("ZZ")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	_, err = rec.Aux("TOO")
	assert.Error(t, err)

	require.NoError(t, rec.AppendAux("XS", "again"))
	n := 0
	it = rec.AuxIter()
	for it.Next() {
		if it.Aux().Tag() == (Tag{'X', 'S'}) {
			n++
		}
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, "ACGT", rec.Seq().String())
}

func TestReserveAux(t *testing.T) {
	rec, err := Encode(&Fields{Name: "r", Seq: "ACGT", NextRefID: -1, Policy: ReserveAux})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cap(rec.data)-len(rec.data), auxReserve)
	before := &rec.data[0]
	require.NoError(t, rec.SetAux("NM", 1))
	assert.Same(t, before, &rec.data[0])

	plain, err := Encode(&Fields{Name: "r", Seq: "ACGT", NextRefID: -1})
	require.NoError(t, err)
	assert.Equal(t, len(plain.data), cap(plain.data))
}

func TestCopy(t *testing.T) {
	rec := encodeTestRecord(t, "r", 0, 100, "4M", "ACGT")
	cp := rec.Copy()
	cp.SetMapQ(1)
	require.NoError(t, cp.SetAux("NM", 1))
	assert.Equal(t, uint8(60), rec.MapQ())
	_, err := rec.Aux("NM")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestLongCigar(t *testing.T) {
	const n = 70000
	ops := make([]CigarOp, n)
	for i := range ops {
		if i%2 == 0 {
			ops[i] = NewCigarOp(CigarMatch, 1)
		} else {
			ops[i] = NewCigarOp(CigarInsertion, 1)
		}
	}
	rec, err := Encode(&Fields{
		Name:      "long",
		RefID:     0,
		Pos:       1000,
		Cigar:     ops,
		NextRefID: -1,
		NextPos:   -1,
		Seq:       strings.Repeat("A", n),
		Aux:       utils.SmallMap[Tag, interface{}]{{Key: Tag{'N', 'M'}, Value: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, n, rec.Cigar().Len())
	assert.Equal(t, int64(1000+n/2), rec.End())

	raw := rec.MarshalBAM(nil)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[4+nCigarOpIndex:]))
	placeholder, err := Decode(append([]byte(nil), raw[4:]...))
	require.NoError(t, err)
	assert.Equal(t, n, placeholder.Cigar().Len())
	assert.Equal(t, ops, placeholder.Cigar().Ops())
	assert.Equal(t, int64(1000+n/2), placeholder.End())
	_, err = placeholder.Aux("CG")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	_, err = placeholder.Aux("NM")
	assert.NoError(t, err)
	assert.Equal(t, raw, placeholder.MarshalBAM(nil))

	_, err = Encode(&Fields{Aux: utils.SmallMap[Tag, interface{}]{{Key: Tag{'C', 'G'}, Value: []uint32{1}}}})
	assert.Error(t, err)
}

func TestFlagString(t *testing.T) {
	flag := Multiple | Reversed | Supplementary
	assert.Equal(t, "PAIRED,REVERSE,SUPPLEMENTARY", flag.String())
	parsed, err := ParseFlag("paired,REVERSE,SUPPLEMENTARY")
	require.NoError(t, err)
	assert.Equal(t, flag, parsed)
	_, err = ParseFlag("PAIRED,BOGUS")
	assert.Error(t, err)
	assert.True(t, flag.Every(Multiple|Reversed))
	assert.False(t, flag.Every(Multiple|Unmapped))
	assert.True(t, flag.NotAny(Unmapped|Duplicate))
}
