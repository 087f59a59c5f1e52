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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinNumbers(t *testing.T) {
	assert.Equal(t, uint32(0), BinFirst(0))
	assert.Equal(t, uint32(1), BinFirst(1))
	assert.Equal(t, uint32(73), BinFirst(3))
	assert.Equal(t, uint32(4681), BinFirst(5))
	assert.Equal(t, uint32(37450), PseudoBin(DefaultDepth))
	assert.Equal(t, uint32(585), BinParent(4681))
	assert.Equal(t, uint32(73), BinParent(585))
	assert.Equal(t, uint32(0), BinParent(1))
	assert.Equal(t, int64(1)<<29, MaxCoordinate(DefaultMinShift, DefaultDepth))
}

func TestRegionToBin(t *testing.T) {
	assert.Equal(t, uint32(4681), RegionToBin(0, 1, 14, 5))
	assert.Equal(t, uint32(4682), RegionToBin(1<<14, 1<<14+100, 14, 5))
	assert.Equal(t, uint32(585), RegionToBin(0, 1<<14+1, 14, 5))
	assert.Equal(t, uint32(0), RegionToBin(0, 1<<29, 14, 5))
	assert.Equal(t, 5, BinLevel(4681))
	assert.Equal(t, 4, BinLevel(585))
	assert.Equal(t, 0, BinLevel(0))
}

func TestRegionToBinFinestLevel(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		window := rnd.Int63n(1 << 15)
		beg := window<<14 + rnd.Int63n(1<<14)
		end := beg + 1 + rnd.Int63n((window+1)<<14-beg)
		bin := RegionToBin(beg, end, DefaultMinShift, DefaultDepth)
		if !assert.Equal(t, DefaultDepth, BinLevel(bin), "[%v, %v)", beg, end) {
			return
		}
		assert.Equal(t, window, binWindow(bin, DefaultDepth))
	}
}

func TestRegionToBinsContainsRecordBins(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		beg := rnd.Int63n(1 << 24)
		end := beg + 1 + rnd.Int63n(1<<18)
		bins := RegionToBins(beg, end, DefaultMinShift, DefaultDepth, nil)
		// any record overlapping the query has its bin in the set
		recBeg := beg + rnd.Int63n(end-beg)
		recEnd := recBeg + 1 + rnd.Int63n(1<<16)
		bin := RegionToBin(recBeg, recEnd, DefaultMinShift, DefaultDepth)
		assert.True(t, bins.Test(uint(bin)), "bin %v of [%v, %v) for query [%v, %v)", bin, recBeg, recEnd, beg, end)
	}
}

func TestRegionToBinsFirstWindow(t *testing.T) {
	bins := RegionToBins(0, 1, DefaultMinShift, DefaultDepth, nil)
	var got []uint
	for i, ok := bins.NextSet(0); ok; i, ok = bins.NextSet(i + 1) {
		got = append(got, i)
	}
	assert.Equal(t, []uint{0, 1, 9, 73, 585, 4681}, got)
	assert.Zero(t, RegionToBins(10, 10, DefaultMinShift, DefaultDepth, nil).Count())
}

func TestBinWindow(t *testing.T) {
	assert.Equal(t, int64(3), binWindow(4681+3, DefaultDepth))
	assert.Equal(t, int64(8), binWindow(585+1, DefaultDepth))
	assert.Equal(t, int64(0), binWindow(0, DefaultDepth))
}
