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
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elhts/utils"
)

func TestCigarOpPacking(t *testing.T) {
	lengths := []int{0, 1, 2, 15, 16, 65535, 65536, MaxCigarOpLength - 1, MaxCigarOpLength}
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		lengths = append(lengths, rnd.Intn(MaxCigarOpLength+1))
	}
	for op := CigarMatch; op <= CigarMismatch; op++ {
		for _, length := range lengths {
			c := NewCigarOp(op, length)
			if !assert.Equal(t, op, c.Op()) || !assert.Equal(t, length, c.Len()) {
				return
			}
		}
	}
	assert.Equal(t, CigarOp(50<<4|0), NewCigarOp(CigarMatch, 50))
	assert.Equal(t, "3S", NewCigarOp(CigarSoftClipped, 3).String())

	for _, c := range []CigarOp{
		NewCigarOp(CigarMatch, MaxCigarOpLength+1),
		NewCigarOp(CigarMatch, 1<<32+5),
		NewCigarOp(CigarDeletion, -1),
		NewCigarOp(CigarBack+1, 10),
	} {
		assert.False(t, c.Valid(), "%v", c)
	}
	assert.True(t, NewCigarOp(CigarBack, MaxCigarOpLength).Valid())
}

func TestParseCigar(t *testing.T) {
	ops, err := ParseCigar("5S10M2I3D1N4=2X6H1P")
	require.NoError(t, err)
	assert.Equal(t, []CigarOp{
		NewCigarOp(CigarSoftClipped, 5),
		NewCigarOp(CigarMatch, 10),
		NewCigarOp(CigarInsertion, 2),
		NewCigarOp(CigarDeletion, 3),
		NewCigarOp(CigarSkipped, 1),
		NewCigarOp(CigarEqual, 4),
		NewCigarOp(CigarMismatch, 2),
		NewCigarOp(CigarHardClipped, 6),
		NewCigarOp(CigarPadded, 1),
	}, ops)
	assert.Equal(t, "5S10M2I3D1N4=2X6H1P", FormatCigar(ops))
	assert.Equal(t, 5+10+2+4+2, QueryLength(ops))
	assert.Equal(t, int64(10+3+1+4+2), ReferenceLength(ops))

	ops, err = ParseCigar("*")
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Equal(t, "*", FormatCigar(nil))

	for _, bad := range []string{"M", "10", "10Q", "5M3", "268435456M"} {
		_, err := ParseCigar(bad)
		assert.True(t, errors.Is(err, utils.ErrFormat), bad)
	}
}

func TestCigarView(t *testing.T) {
	rec := encodeTestRecord(t, "r", 0, 100, "2S8M", "ACGTACGTAC")
	c := rec.Cigar()
	require.Equal(t, 2, c.Len())
	assert.Equal(t, NewCigarOp(CigarSoftClipped, 2), c.At(0))
	assert.Equal(t, "2S8M", c.String())
	assert.Equal(t, 10, c.QueryLength())
	assert.Equal(t, int64(8), c.ReferenceLength())

	c.Set(1, NewCigarOp(CigarEqual, 8))
	assert.Equal(t, "2S8=", rec.Cigar().String())
}
