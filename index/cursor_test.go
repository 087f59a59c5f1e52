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

package index

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elhts/utils/bgzf"
)

func TestCursor(t *testing.T) {
	var buf bytes.Buffer
	w, err := bgzf.NewWriterWorkers(&buf, -1, 1)
	require.NoError(t, err)
	var offsets []bgzf.Offset
	for i := uint64(0); i < 10; i++ {
		off, err := w.Tell()
		require.NoError(t, err)
		offsets = append(offsets, off)
		require.NoError(t, binary.Write(w, binary.LittleEndian, i))
		if i%2 == 1 {
			require.NoError(t, w.Flush())
		}
	}
	off, err := w.Tell()
	require.NoError(t, err)
	offsets = append(offsets, off)
	require.NoError(t, w.Close())

	chunks := []bgzf.Chunk{
		{Begin: offsets[1], End: offsets[4]},
		{Begin: offsets[7], End: offsets[8]},
		{Begin: offsets[9], End: offsets[10]},
	}
	r := bgzf.NewReader(bytes.NewReader(buf.Bytes()), 2)
	defer r.Close()
	cursor := NewCursor(r, chunks)
	var got []uint64
	for {
		err := cursor.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var v uint64
		require.NoError(t, binary.Read(r, binary.LittleEndian, &v))
		got = append(got, v)
	}
	assert.Equal(t, []uint64{1, 2, 3, 7, 9}, got)
	assert.Equal(t, io.EOF, cursor.Next())
}

func TestCursorEmpty(t *testing.T) {
	r := bgzf.NewReader(bytes.NewReader(nil), 1)
	assert.Equal(t, io.EOF, NewCursor(r, nil).Next())
}
