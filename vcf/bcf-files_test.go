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
	"bytes"
	"encoding/binary"
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

func testVariants(t *testing.T, hdr *Header) []*Record {
	t.Helper()
	v100 := formatRecord(t, hdr)
	v100.SetID("v100")

	v500 := testVariant(t, hdr, 499, "N", "<DEL>")
	v500.SetID("v500")
	require.NoError(t, v500.UpdateInfoInt32(hdr, "END", 1000))

	v10000 := testVariant(t, hdr, 9999, "C", "T")
	v10000.SetID("v10000")
	require.NoError(t, v10000.AddFilter(hdr, "q10"))

	w200 := testVariant(t, hdr, 199, "G", "A")
	w200.RefID = 1
	w200.SetID("w200")
	return []*Record{v100, v500, v10000, w200}
}

func writeTestBCF(t *testing.T, opts WriterOptions) ([]byte, *index.Index) {
	t.Helper()
	hdr := testHeader(t)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, hdr, opts)
	require.NoError(t, err)
	for _, rec := range testVariants(t, hdr) {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.Index()
}

func indexedOptions() WriterOptions {
	return WriterOptions{Level: flate.DefaultCompression, Workers: 2, Index: &index.Options{}}
}

func readIDs(t *testing.T, r *Reader) []string {
	t.Helper()
	var ids []string
	var rec Record
	for {
		err := r.Read(&rec)
		if err == io.EOF {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
}

func TestReadWrite(t *testing.T) {
	data, idx := writeTestBCF(t, WriterOptions{Level: flate.BestSpeed, Workers: 3})
	assert.Nil(t, idx)

	r, err := NewReader(bytes.NewReader(data), 2)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, testHeaderText, r.Header.Text())

	start := r.Tell()
	var rec Record
	require.NoError(t, r.Read(&rec))
	line, err := rec.AppendVCF(nil, r.Header)
	require.NoError(t, err)
	assert.Equal(t, "chr1\t100\tv100\tA\tG\t29.5\tPASS\tDP=37;DB\tGT:GQ:FT:HQ\t0/1:30:ok:10,15\t1|1:.:lowq:.\n", string(line))
	require.NoError(t, r.Read(&rec))
	assert.Equal(t, int64(1000), rec.End())

	require.NoError(t, r.Seek(start))
	assert.Equal(t, []string{"v100", "v500", "v10000", "w200"}, readIDs(t, r))
	assert.Equal(t, io.EOF, r.Read(&rec))
}

func TestTruncatedBCF(t *testing.T) {
	data, _ := writeTestBCF(t, DefaultWriterOptions())
	r, err := NewReader(bytes.NewReader(data[:len(data)-28]), 1)
	require.NoError(t, err)
	var rec Record
	for err == nil {
		err = r.Read(&rec)
	}
	assert.True(t, errors.Is(err, utils.ErrTruncated), "%v", err)

	_, err = NewReader(bytes.NewReader(nil), 1)
	assert.Error(t, err)
}

func TestWriteSampleMismatch(t *testing.T) {
	hdr := testHeader(t)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, hdr, DefaultWriterOptions())
	require.NoError(t, err)
	rec := testVariant(t, hdr, 1, "A")
	rec.NSamples = 1
	assert.True(t, errors.Is(w.Write(rec), utils.ErrFormat))
	require.NoError(t, w.Close())
}

func queryIDs(t *testing.T, r *Reader, idx *index.Index, region string) []string {
	t.Helper()
	it, err := r.QueryString(idx, region)
	require.NoError(t, err)
	var ids []string
	for {
		rec, err := it.Next()
		if err == io.EOF {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
}

func TestIndexOnWrite(t *testing.T) {
	data, idx := writeTestBCF(t, indexedOptions())
	require.NotNil(t, idx)
	assert.Equal(t, index.CSI, idx.Format)
	assert.Equal(t, index.DefaultMinShift, idx.MinShift)
	require.Len(t, idx.References, 2)
	assert.Equal(t, uint64(3), idx.References[0].Stats.Mapped)
	assert.Equal(t, uint64(1), idx.References[1].Stats.Mapped)

	r, err := NewReader(bytes.NewReader(data), 1)
	require.NoError(t, err)
	built, err := BuildIndex(r, index.Options{})
	require.NoError(t, err)
	assert.Equal(t, idx, built)

	assert.Equal(t, []string{"v500"}, queryIDs(t, r, idx, "chr1:600-700"))
	assert.Equal(t, []string{"v100", "v500", "v10000"}, queryIDs(t, r, idx, "chr1"))
	assert.Equal(t, []string{"v100"}, queryIDs(t, r, idx, "chr1:100-100"))
	assert.Equal(t, []string{"v500", "v10000"}, queryIDs(t, r, idx, "chr1:101"))
	assert.Empty(t, queryIDs(t, r, idx, "chr1:1001-9999"))
	assert.Equal(t, []string{"w200"}, queryIDs(t, r, idx, "chr2"))

	it := r.Query(idx, index.Region{RefID: 1, Name: "chr2", Beg: 300, End: 400})
	assert.Equal(t, "chr2:301-400", it.Region().String())
	_, err = it.Next()
	assert.Equal(t, io.EOF, err)

	_, err = r.QueryString(idx, "chrM")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestUnsortedWrite(t *testing.T) {
	hdr := testHeader(t)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, hdr, indexedOptions())
	require.NoError(t, err)
	recs := testVariants(t, hdr)
	require.NoError(t, w.Write(recs[1]))
	err = w.Write(recs[0])
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	assert.True(t, errors.Is(err, utils.ErrFormat), "%v", err)
}

func TestCreateWithIndex(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "calls.bcf")
	hdr := testHeader(t)
	w, err := Create(name, hdr, indexedOptions())
	require.NoError(t, err)
	for _, rec := range testVariants(t, hdr) {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(dir, "calls.bcf.csi"))
	require.NoError(t, err)
	found, err := index.Find(name)
	require.NoError(t, err)
	idx, err := index.ReadFile(found)
	require.NoError(t, err)
	assert.Equal(t, w.Index(), idx)

	r, err := Open(name, 2)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{"v10000"}, queryIDs(t, r, idx, "chr1:5,000-20,000"))

	_, err = Create(filepath.Join(dir, "bai.bcf"), hdr, WriterOptions{Index: &index.Options{Format: index.BAI, MinShift: 12}})
	assert.Error(t, err)
	_, err = Create(filepath.Join(dir, "bai.bcf"), hdr, WriterOptions{Index: &index.Options{Format: index.BAI}})
	assert.True(t, errors.Is(err, utils.ErrFormat), "%v", err)
	_, err = os.Stat(filepath.Join(dir, "bai.bcf.bai"))
	assert.True(t, os.IsNotExist(err))

	r2, err := Open(name, 1)
	require.NoError(t, err)
	defer r2.Close()
	_, err = BuildIndex(r2, index.Options{Format: index.BAI})
	assert.True(t, errors.Is(err, utils.ErrFormat), "%v", err)
}

func TestReadErrorOffset(t *testing.T) {
	hdr := testHeader(t)
	shared, indiv := split(t, testVariant(t, hdr, 99, "A", "G"))
	bad := append(append([]byte(nil), shared...), 0)
	appendRecord := func(out, shared, indiv []byte) []byte {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(shared)))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(indiv)))
		return append(append(out, shared...), indiv...)
	}
	var buf bytes.Buffer
	w, err := bgzf.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	for _, p := range [][]byte{hdr.AppendBCF(nil), appendRecord(nil, shared, indiv), appendRecord(nil, bad, indiv)} {
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
	assert.Contains(t, fe.Msg, "bytes after the last INFO field")
}

func TestIteratorErrorIsSticky(t *testing.T) {
	hdr := testHeader(t)
	// records too long to share a block
	ref := strings.Repeat("ACGTTGCA", 5000)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, hdr, indexedOptions())
	require.NoError(t, err)
	for _, pos := range []int64{99, 499, 899} {
		rec := testVariant(t, hdr, pos, ref, "A")
		rec.SetID("v" + strconv.FormatInt(pos+1, 10))
		require.NoError(t, w.Write(rec))
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
	assert.Equal(t, "v100", first.ID)

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
