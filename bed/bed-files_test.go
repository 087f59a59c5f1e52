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

package bed

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

type dict []string

func (d dict) ReferenceID(name string) (int, error) {
	for i, n := range d {
		if n == name {
			return i, nil
		}
	}
	return -1, utils.NotFound("reference", name)
}

func (d dict) ReferenceLength(int) int64 { return 1000 }

var testDict = dict{"chr1", "chr2"}

const testBED = `browser position chr1:1-100
track name=targets
# exons
chr2	10	20
chr1	0	100	exon1	500	+
chr1 150 160
`

func TestParse(t *testing.T) {
	regions, err := Parse("test.bed", bufio.NewReader(strings.NewReader(testBED)), testDict, 1)
	require.NoError(t, err)
	assert.Equal(t, []index.Region{
		{RefID: 1, Name: "chr2", Beg: 10, End: 20},
		{RefID: 0, Name: "chr1", Beg: 0, End: 100},
		{RefID: 0, Name: "chr1", Beg: 150, End: 160},
	}, regions)
}

func TestParseErrors(t *testing.T) {
	for _, line := range []string{
		"chr1\t10",
		"chr1\tx\t20",
		"chr1\t-1\t20",
		"chr1\t30\t20",
		"chr1\t10\t20\tname\t1001",
		"chr1\t10\t20\tname\t0\t*",
	} {
		_, err := Parse("test.bed", bufio.NewReader(strings.NewReader("chr2\t1\t2\n"+line+"\n")), testDict, 1)
		assert.True(t, errors.Is(err, utils.ErrFormat), "%q: %v", line, err)
		assert.Contains(t, err.Error(), "offset 10", line)
	}
	_, err := Parse("test.bed", bufio.NewReader(strings.NewReader("chrX\t1\t2\n")), testDict, 1)
	assert.True(t, errors.Is(err, utils.ErrNotFound), "%v", err)
}

func TestReadCompressedFile(t *testing.T) {
	var buf bytes.Buffer
	w, err := bgzf.NewWriter(&buf, -1)
	require.NoError(t, err)
	_, err = w.Write([]byte(testBED))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	name := filepath.Join(t.TempDir(), "targets.bed.gz")
	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0666))

	regions, err := ReadFile(name, testDict, 2)
	require.NoError(t, err)
	assert.Len(t, regions, 3)

	_, err = ReadFile(name+".missing", testDict, 2)
	assert.True(t, errors.Is(err, utils.ErrIO), "%v", err)
}
