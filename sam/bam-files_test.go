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
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

func testHeader() *Header {
	return NewHeader("", "coordinate", []Reference{
		{Name: "chr1", Length: 1000000},
		{Name: "chr2", Length: 500000},
	})
}

func testRecords(t *testing.T) []*Record {
	seq := strings.Repeat("ACGTA", 10)
	recs := []*Record{
		encodeTestRecord(t, "r100", 0, 100, "50M", seq),
		encodeTestRecord(t, "r500", 0, 500, "50M", seq),
		encodeTestRecord(t, "r10000", 0, 10000, "50M", seq),
		encodeTestRecord(t, "s200", 1, 200, "50M", seq),
	}
	unmapped, err := Encode(&Fields{Name: "u", Flag: Unmapped, RefID: -1, Pos: -1, NextRefID: -1, NextPos: -1, Seq: "ACGT"})
	require.NoError(t, err)
	return append(recs, unmapped)
}

func writeTestBAM(t *testing.T, opts WriterOptions) ([]byte, *index.Index) {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader(), opts)
	require.NoError(t, err)
	for _, rec := range testRecords(t) {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.Index()
}

func indexedOptions() WriterOptions {
	return WriterOptions{Level: flate.DefaultCompression, Workers: 2, Index: &index.Options{}}
}

func TestHeaderRoundTrip(t *testing.T) {
	hdr := testHeader()
	assert.Equal(t, "@HD\tVN:1.6\tSO:coordinate\n@SQ\tSN:chr1\tLN:1000000\n@SQ\tSN:chr2\tLN:500000\n", hdr.Text)
	assert.Equal(t, "coordinate", hdr.SortOrder())

	got, err := ReadHeader(bytes.NewReader(hdr.AppendBAM(nil)))
	require.NoError(t, err)
	assert.Equal(t, hdr.Text, got.Text)
	assert.Equal(t, hdr.References, got.References)

	id, err := got.ReferenceID("chr2")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	_, err = got.ReferenceID("chrM")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	name, err := got.ReferenceName(-1)
	require.NoError(t, err)
	assert.Equal(t, "*", name)
	assert.Equal(t, int64(-1), got.ReferenceLength(5))

	sq, err := got.Lines("@SQ")
	require.NoError(t, err)
	require.Len(t, sq, 2)
	ln, _ := sq[1].Get(sqLN)
	assert.Equal(t, "500000", ln)

	_, err = ReadHeader(strings.NewReader("BAM\x02"))
	assert.True(t, errors.Is(err, utils.ErrFormat))
}

func TestReadWrite(t *testing.T) {
	data, idx := writeTestBAM(t, WriterOptions{Level: flate.BestSpeed, Workers: 3})
	assert.Nil(t, idx)

	r, err := NewReader(bytes.NewReader(data), 2)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, testHeader().Text, r.Header.Text)

	var names []string
	var rec Record
	for {
		err := r.Read(&rec)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, rec.Name())
	}
	assert.Equal(t, []string{"r100", "r500", "r10000", "s200", "u"}, names)
	assert.Equal(t, io.EOF, r.Read(&rec))
}

func TestTruncatedBAM(t *testing.T) {
	data, _ := writeTestBAM(t, DefaultWriterOptions())
	r, err := NewReader(bytes.NewReader(data[:len(data)-28]), 1)
	require.NoError(t, err)
	var rec Record
	for err == nil {
		err = r.Read(&rec)
	}
	assert.True(t, errors.Is(err, utils.ErrTruncated), "%v", err)
}

func queryNames(t *testing.T, r *Reader, idx *index.Index, region string) []string {
	t.Helper()
	it, err := r.QueryString(idx, region)
	require.NoError(t, err)
	var names []string
	for {
		rec, err := it.Next()
		if err == io.EOF {
			return names
		}
		require.NoError(t, err)
		names = append(names, rec.Name())
	}
}

func TestIndexOnWrite(t *testing.T) {
	data, idx := writeTestBAM(t, indexedOptions())
	require.NotNil(t, idx)
	assert.Equal(t, index.BAI, idx.Format)
	require.NotNil(t, idx.NoCoordinate)
	assert.Equal(t, uint64(1), *idx.NoCoordinate)
	require.Len(t, idx.References, 2)
	assert.Equal(t, uint64(3), idx.References[0].Stats.Mapped)

	r, err := NewReader(bytes.NewReader(data), 1)
	require.NoError(t, err)
	built, err := BuildIndex(r, index.Options{})
	require.NoError(t, err)
	assert.Equal(t, idx, built)

	assert.Equal(t, []string{"r500"}, queryNames(t, r, idx, "chr1:400-600"))
	assert.Equal(t, []string{"r100", "r500", "r10000"}, queryNames(t, r, idx, "chr1"))
	assert.Equal(t, []string{"r100"}, queryNames(t, r, idx, "chr1:150-150"))
	assert.Equal(t, []string{"r500", "r10000"}, queryNames(t, r, idx, "chr1:151"))
	assert.Empty(t, queryNames(t, r, idx, "chr1:151-499"))
	assert.Equal(t, []string{"s200"}, queryNames(t, r, idx, "chr2:1-1,000"))
	assert.Empty(t, queryNames(t, r, idx, "chr2:300-400"))

	_, err = r.QueryString(idx, "chrM:1-10")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestCSIOnWrite(t *testing.T) {
	opts := indexedOptions()
	opts.Index = &index.Options{Format: index.CSI}
	data, idx := writeTestBAM(t, opts)
	assert.Equal(t, index.CSI, idx.Format)

	r, err := NewReader(bytes.NewReader(data), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"r500"}, queryNames(t, r, idx, "chr1:400-600"))
}

func TestUnsortedWrite(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader(), indexedOptions())
	require.NoError(t, err)
	recs := testRecords(t)
	require.NoError(t, w.Write(recs[1]))
	err = w.Write(recs[0])
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	assert.True(t, errors.Is(err, utils.ErrFormat), "%v", err)
}

func TestCreateWithIndex(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "sample.bam")
	w, err := Create(name, testHeader(), indexedOptions())
	require.NoError(t, err)
	for _, rec := range testRecords(t) {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(dir, "sample.bam.bai"))
	require.NoError(t, err)
	found, err := index.Find(name)
	require.NoError(t, err)
	idx, err := index.ReadFile(found)
	require.NoError(t, err)
	assert.Equal(t, w.Index(), idx)

	r, err := Open(name, 2)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{"r500"}, queryNames(t, r, idx, "chr1:400-600"))
}

func TestAppendSAM(t *testing.T) {
	hdr := testHeader()
	rec, err := Encode(&Fields{
		Name:      "q1",
		Flag:      Multiple | First,
		RefID:     0,
		Pos:       99,
		MapQ:      30,
		Cigar:     []CigarOp{NewCigarOp(CigarMatch, 4)},
		NextRefID: 0,
		NextPos:   199,
		TLen:      104,
		Seq:       "ACGT",
		Qual:      []byte{0, 10, 20, 30},
		Aux:       utils.SmallMap[Tag, interface{}]{{Key: Tag{'N', 'M'}, Value: 1}},
	})
	require.NoError(t, err)
	line, err := rec.AppendSAM(nil, hdr)
	require.NoError(t, err)
	assert.Equal(t, "q1\t65\tchr1\t100\t30\t4M\t=\t200\t104\tACGT\t!+5?\tNM:i:1\n", string(line))

	unmapped, err := Encode(&Fields{Flag: Unmapped, RefID: -1, Pos: -1, NextRefID: -1, NextPos: -1})
	require.NoError(t, err)
	line, err = unmapped.AppendSAM(nil, hdr)
	require.NoError(t, err)
	assert.Equal(t, "*\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*\n", string(line))

	var out bytes.Buffer
	bw := bufio.NewWriter(&out)
	require.NoError(t, hdr.FormatSAM(bw))
	require.NoError(t, bw.Flush())
	assert.Equal(t, hdr.Text, out.String())
}

func TestReadErrorOffset(t *testing.T) {
	good := encodeTestRecord(t, "r", 0, 10, "4M", "ACGT").MarshalBAM(nil)
	bad := append([]byte(nil), good...)
	bad[4+lReadNameIndex] = 0
	var buf bytes.Buffer
	w, err := bgzf.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	for _, p := range [][]byte{testHeader().AppendBAM(nil), good, bad} {
		_, err = w.Write(p)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()), 1)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, r.Read(&rec))
	offset := r.Tell()
	err = r.Read(&rec)
	var fe *utils.FormatError
	require.True(t, errors.As(err, &fe), "%v", err)
	assert.Equal(t, int64(offset), fe.Offset)
	assert.Equal(t, "record byte 8: empty read name", fe.Msg)
}

func TestIteratorErrorIsSticky(t *testing.T) {
	// records too long to share a block
	seq := strings.Repeat("ACGTTGCA", 3750)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader(), indexedOptions())
	require.NoError(t, err)
	for _, pos := range []int64{100, 500, 900} {
		require.NoError(t, w.Write(encodeTestRecord(t, "r"+strconv.FormatInt(pos, 10), 0, pos, "30000M", seq)))
	}
	require.NoError(t, w.Close())
	data, idx := buf.Bytes(), w.Index()

	r, err := NewReader(bytes.NewReader(data), 1)
	require.NoError(t, err)
	var offsets []bgzf.Offset
	var rec Record
	for {
		offset := r.Tell()
		if err := r.Read(&rec); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		offsets = append(offsets, offset)
	}
	require.Len(t, offsets, 3)
	require.NotEqual(t, offsets[0].File(), offsets[1].File())

	corrupt := append([]byte(nil), data...)
	corrupt[offsets[1].File()+20] ^= 0xff
	r, err = NewReader(bytes.NewReader(corrupt), 1)
	require.NoError(t, err)
	it, err := r.QueryString(idx, "chr1")
	require.NoError(t, err)
	first, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "r100", first.Name())

	_, err = it.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
	assert.True(t, errors.Is(err, utils.ErrFormat), "%v", err)
	for i := 0; i < 3; i++ {
		again, nerr := it.Next()
		assert.Nil(t, again)
		assert.Equal(t, err, nerr)
	}
}
