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

package vcf

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/buffer"
)

func split(t *testing.T, rec *Record) (shared, indiv []byte) {
	t.Helper()
	var buf buffer.Buffer
	require.NoError(t, rec.Encode(&buf))
	data := buf.Bytes()
	lShared := binary.LittleEndian.Uint32(data)
	lIndiv := binary.LittleEndian.Uint32(data[4:])
	require.Equal(t, 8+int(lShared+lIndiv), len(data))
	return data[8 : 8+lShared], data[8+lShared:]
}

func reencode(t *testing.T, rec *Record, hdr *Header) *Record {
	t.Helper()
	shared, indiv := split(t, rec)
	got, err := Decode(shared, indiv, hdr)
	require.NoError(t, err)
	return got
}

func testVariant(t *testing.T, hdr *Header, pos int64, alleles ...string) *Record {
	t.Helper()
	rec := NewRecord(hdr)
	rec.RefID = 0
	rec.Pos = pos
	require.NoError(t, rec.SetAlleles(alleles...))
	return rec
}

func TestEncodeDecodeInfo(t *testing.T) {
	hdr := testHeader(t)
	rec := testVariant(t, hdr, 99, "A", "G")
	require.NoError(t, rec.UpdateInfoInt32(hdr, "DP", 37))

	shared, indiv := split(t, rec)
	assert.Empty(t, indiv)
	assert.Equal(t, []byte{
		0, 0, 0, 0, 99, 0, 0, 0, 1, 0, 0, 0, 0x01, 0x00, 0x80, 0x7f,
		1, 0, 2, 0, 2, 0, 0, 0,
		0x07, 0x17, 'A', 0x17, 'G', 0x00, 0x11, 2, 0x11, 37,
	}, shared)

	got, err := Decode(shared, indiv, hdr)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "G"}, got.Alleles)
	assert.Equal(t, "", got.ID)
	assert.True(t, IsFloatMissing(got.Qual))
	assert.Equal(t, 2, got.NSamples)
	assert.Empty(t, got.Filters)

	dp, err := got.InfoInt32(hdr, "DP")
	require.NoError(t, err)
	assert.Equal(t, []int32{37}, dp)

	_, err = got.InfoFloat(hdr, "AF")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
	_, err = got.InfoFloat(hdr, "DP")
	assert.True(t, errors.Is(err, utils.ErrTypeMismatch), "%v", err)
	_, err = got.InfoInt32(hdr, "XX")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
	err = got.UpdateInfoFloat(hdr, "DP", 1)
	assert.True(t, errors.Is(err, utils.ErrTypeMismatch), "%v", err)
	err = got.UpdateInfoInt32(hdr, "GQ", 1)
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
}

func TestInfoUpdates(t *testing.T) {
	hdr := testHeader(t)
	rec := testVariant(t, hdr, 99, "N", "<DEL>")
	counts := make([]int32, 20)
	for i := range counts {
		counts[i] = int32(i * 20)
	}
	counts[3] = Int32Missing
	require.NoError(t, rec.UpdateInfoInt32(hdr, "CNT", counts...))
	require.NoError(t, rec.UpdateInfoFloat(hdr, "AF", 0.25))
	require.NoError(t, rec.UpdateInfoString(hdr, "NOTE", "deletion"))
	require.NoError(t, rec.UpdateInfoFlag(hdr, "DB", true))
	require.NoError(t, rec.UpdateInfoInt32(hdr, "END", 500))
	assert.Equal(t, int64(401), rec.RefLen)
	assert.Equal(t, int64(500), rec.End())

	got := reencode(t, rec, hdr)
	assert.Equal(t, int64(401), got.RefLen)
	cnt, err := got.InfoInt32(hdr, "CNT")
	require.NoError(t, err)
	assert.Equal(t, counts, cnt)
	af, err := got.InfoFloat(hdr, "AF")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25}, af)
	note, err := got.InfoString(hdr, "NOTE")
	require.NoError(t, err)
	assert.Equal(t, "deletion", note)
	db, err := got.InfoFlag(hdr, "DB")
	require.NoError(t, err)
	assert.True(t, db)
	_, err = got.InfoString(hdr, "AF")
	assert.True(t, errors.Is(err, utils.ErrTypeMismatch), "%v", err)

	require.NoError(t, got.UpdateInfoFlag(hdr, "DB", false))
	db, err = got.InfoFlag(hdr, "DB")
	require.NoError(t, err)
	assert.False(t, db)
	_, err = got.InfoFlag(hdr, "XX")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)

	require.NoError(t, got.DeleteInfo(hdr, "END"))
	assert.Equal(t, int64(1), got.RefLen)
	_, err = got.InfoInt32(hdr, "END")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
	err = got.DeleteInfo(hdr, "END")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)

	require.NoError(t, got.UpdateInfoFloat(hdr, "AF"))
	_, err = got.InfoFloat(hdr, "AF")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
	assert.Len(t, got.Info, 2)
}

func TestFilters(t *testing.T) {
	hdr := testHeader(t)
	rec := testVariant(t, hdr, 0, "A")
	has, err := rec.HasFilter(hdr, ".")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, rec.AddFilter(hdr, "q10"))
	assert.Equal(t, []int{1}, rec.Filters)
	require.NoError(t, rec.AddFilter(hdr, "q10"))
	assert.Equal(t, []int{1}, rec.Filters)
	require.NoError(t, rec.AddFilter(hdr, PASS))
	assert.Equal(t, []int{0}, rec.Filters)
	require.NoError(t, rec.AddFilter(hdr, "q10"))
	assert.Equal(t, []int{1}, rec.Filters)

	has, err = rec.HasFilter(hdr, "q10")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = rec.HasFilter(hdr, PASS)
	require.NoError(t, err)
	assert.False(t, has)
	has, err = rec.HasFilter(hdr, ".")
	require.NoError(t, err)
	assert.False(t, has)

	got := reencode(t, rec, hdr)
	assert.Equal(t, []int{1}, got.Filters)

	require.NoError(t, rec.RemoveFilter(hdr, "q10"))
	assert.Empty(t, rec.Filters)
	err = rec.AddFilter(hdr, "DP")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
}

func formatRecord(t *testing.T, hdr *Header) *Record {
	t.Helper()
	rec := testVariant(t, hdr, 99, "A", "G")
	rec.SetID("rs1")
	rec.Qual = 29.5
	require.NoError(t, rec.AddFilter(hdr, PASS))
	require.NoError(t, rec.UpdateInfoInt32(hdr, "DP", 37))
	require.NoError(t, rec.UpdateInfoFlag(hdr, "DB", true))
	require.NoError(t, rec.UpdateFormatInt32(hdr, "GQ", []int32{30, Int32Missing}))
	require.NoError(t, rec.UpdateFormatString(hdr, "FT", []string{"ok", "lowq"}))
	het, hom := AllelesToGenotype(0, 1, false), AllelesToGenotype(1, 1, true)
	require.NoError(t, rec.UpdateGenotypes(hdr, []int32{het[0], het[1], hom[0], hom[1]}))
	require.NoError(t, rec.UpdateFormatFloat(hdr, "HQ", []float32{10, 15, FloatMissing(), FloatVectorEnd()}))
	return rec
}

func TestFormatFields(t *testing.T) {
	hdr := testHeader(t)
	rec := formatRecord(t, hdr)
	gt, err := hdr.KeyID("GT")
	require.NoError(t, err)
	assert.Equal(t, gt, rec.Format[0].Key)

	got := reencode(t, rec, hdr)
	gq, err := got.FormatInt32(hdr, "GQ")
	require.NoError(t, err)
	assert.Equal(t, []int32{30, Int32Missing}, gq)
	ft, err := got.FormatString(hdr, "FT")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "lowq"}, ft)
	hq, err := got.FormatFloat(hdr, "HQ")
	require.NoError(t, err)
	require.Len(t, hq, 4)
	assert.True(t, IsFloatMissing(hq[2]))
	assert.True(t, IsFloatVectorEnd(hq[3]))

	values, err := got.Genotypes(hdr)
	require.NoError(t, err)
	gts := SplitGenotypes(values, got.NSamples)
	assert.Equal(t, "0/1", gts[0].String())
	assert.Equal(t, "1|1", gts[1].String())

	_, err = got.FormatInt32(hdr, "FT")
	assert.True(t, errors.Is(err, utils.ErrTypeMismatch), "%v", err)
	err = got.UpdateFormatFloat(hdr, "GQ", []float32{1, 2})
	assert.True(t, errors.Is(err, utils.ErrTypeMismatch), "%v", err)
	assert.Error(t, got.UpdateFormatInt32(hdr, "GQ", []int32{1, 2, 3}))
	assert.Error(t, got.UpdateFormatString(hdr, "FT", []string{"x"}))

	require.NoError(t, got.UpdateFormatInt32(hdr, "GQ", nil))
	_, err = got.FormatInt32(hdr, "GQ")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
}

func TestAppendVCF(t *testing.T) {
	hdr := testHeader(t)
	rec := formatRecord(t, hdr)
	const want = "chr1\t100\trs1\tA\tG\t29.5\tPASS\tDP=37;DB\tGT:GQ:FT:HQ\t0/1:30:ok:10,15\t1|1:.:lowq:.\n"
	line, err := rec.AppendVCF(nil, hdr)
	require.NoError(t, err)
	assert.Equal(t, want, string(line))

	line, err = reencode(t, rec, hdr).AppendVCF(nil, hdr)
	require.NoError(t, err)
	assert.Equal(t, want, string(line))

	bare := testVariant(t, hdr, 0, "C")
	bare.Format = nil
	line, err = bare.AppendVCF([]byte("x"), hdr)
	require.NoError(t, err)
	assert.Equal(t, "xchr1\t1\t.\tC\t.\t.\t.\t.\n", string(line))

	bare.RefID = 7
	_, err = bare.AppendVCF(nil, hdr)
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
}

func TestDecodeErrors(t *testing.T) {
	hdr := testHeader(t)
	rec := formatRecord(t, hdr)
	shared, indiv := split(t, rec)

	check := func(shared, indiv []byte, hdr *Header) {
		t.Helper()
		_, err := Decode(shared, indiv, hdr)
		assert.True(t, errors.Is(err, utils.ErrFormat), "%v", err)
	}
	check(shared[:20], indiv, hdr)
	check(shared[:len(shared)-1], indiv, hdr)
	check(append(append([]byte(nil), shared...), 0), indiv, hdr)
	check(shared, indiv[:len(indiv)-1], hdr)
	check(shared, append(append([]byte(nil), indiv...), 0), hdr)

	bad := append([]byte(nil), shared...)
	binary.LittleEndian.PutUint32(bad, 5)
	check(bad, indiv, hdr)

	noSamples, err := ParseHeader("##fileformat=VCFv4.3\n##contig=<ID=chr1>\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n")
	require.NoError(t, err)
	check(shared, indiv, noSamples)

	info := testVariant(t, hdr, 5, "A")
	require.NoError(t, info.UpdateInfoInt32(hdr, "DP", 3))
	info.Info[0].Key = 1
	shared, indiv = split(t, info)
	check(shared, indiv, hdr)
}

func TestEncodeErrors(t *testing.T) {
	hdr := testHeader(t)
	var buf buffer.Buffer
	rec := testVariant(t, hdr, 5, "A")
	rec.Pos = 1 << 31
	assert.Error(t, rec.Encode(&buf))

	rec = testVariant(t, hdr, 5, "A")
	rec.Format = []Field{{Key: 9, Value: IntValue([]int32{1})}}
	assert.Error(t, rec.Encode(&buf))
	assert.Error(t, rec.SetAlleles())
}

func TestRecordReuse(t *testing.T) {
	hdr := testHeader(t)
	shared, indiv := split(t, formatRecord(t, hdr))
	var rec Record
	require.NoError(t, rec.Unmarshal(shared, indiv, hdr))
	cp := rec.Copy()

	other := testVariant(t, hdr, 7, "TT", "T")
	s2, i2 := split(t, other)
	require.NoError(t, rec.Unmarshal(s2, i2, hdr))
	assert.Equal(t, []string{"TT", "T"}, rec.Alleles)
	assert.Empty(t, rec.Format)

	line, err := cp.AppendVCF(nil, hdr)
	require.NoError(t, err)
	assert.Equal(t, "chr1\t100\trs1\tA\tG\t29.5\tPASS\tDP=37;DB\tGT:GQ:FT:HQ\t0/1:30:ok:10,15\t1|1:.:lowq:.\n", string(line))

	assert.True(t, rec.Overlaps(index.Region{RefID: 0, Beg: 8, End: 9}))
	assert.False(t, rec.Overlaps(index.Region{RefID: 0, Beg: 9, End: 20}))
	assert.False(t, rec.Overlaps(index.Region{RefID: 1, Beg: 0, End: 20}))
}
