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
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Binning scheme defaults, shared by BAI and CSI: the finest bins span
// 1<<14 bases, and each of the 5 coarser levels is 8 times wider.
const (
	DefaultMinShift = 14
	DefaultDepth    = 5

	// MaxPos stands for the end of a reference of unknown length.
	MaxPos = int64(math.MaxInt32)<<32 | math.MaxInt32
)

// BinFirst returns the number of the first bin at the given level.
// Level 0 is the single bin covering everything.
func BinFirst(level int) uint32 {
	return uint32(((1 << (3 * level)) - 1) / 7)
}

// BinParent returns the bin one level up that contains bin.
func BinParent(bin uint32) uint32 {
	return (bin - 1) >> 3
}

// BinLevel returns the level of bin, 0 for the root and depth for the
// finest bins.
func BinLevel(bin uint32) int {
	level := 0
	for b := bin; b != 0; b = BinParent(b) {
		level++
	}
	return level
}

// PseudoBin returns the bin number used for per-reference statistics,
// one past the last real bin. For the BAI scheme this is 37450.
func PseudoBin(depth int) uint32 {
	return BinFirst(depth+1) + 1
}

// MaxCoordinate returns the first coordinate the scheme cannot index.
func MaxCoordinate(minShift, depth int) int64 {
	return 1 << (minShift + 3*depth)
}

// RegionToBin returns the smallest bin that fully contains the
// 0-based half-open interval [beg, end).
func RegionToBin(beg, end int64, minShift, depth int) uint32 {
	end--
	s, t := minShift, ((1<<(3*depth))-1)/7
	for level := depth; level > 0; level-- {
		if beg>>s == end>>s {
			return uint32(t + int(beg>>s))
		}
		s += 3
		t -= 1 << (3 * (level - 1))
	}
	return 0
}

// RegionToBins sets in bins every bin, at any level, that may hold
// records overlapping [beg, end), and returns bins. A nil bins
// allocates a new set.
func RegionToBins(beg, end int64, minShift, depth int, bins *bitset.BitSet) *bitset.BitSet {
	if bins == nil {
		bins = bitset.New(uint(BinFirst(depth + 1)))
	}
	if beg < 0 {
		beg = 0
	}
	s := minShift + 3*depth
	if max := int64(1) << s; end > max {
		end = max
	}
	if beg >= end {
		return bins
	}
	end--
	for level, t := 0, 0; level <= depth; level++ {
		b, e := t+int(beg>>s), t+int(end>>s)
		for i := b; i <= e; i++ {
			bins.Set(uint(i))
		}
		s -= 3
		t += 1 << (3 * level)
	}
	return bins
}

// binWindow returns the first linear index window covered by bin.
func binWindow(bin uint32, depth int) int64 {
	level := BinLevel(bin)
	return int64(bin-BinFirst(level)) << (3 * (depth - level))
}
