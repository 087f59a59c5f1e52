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

// Package intervals sorts and merges lists of genomic regions.
package intervals

import (
	"sort"

	"github.com/exascience/pargo/parallel"
	psort "github.com/exascience/pargo/sort"

	"github.com/exascience/elhts/index"
)

func less(r1, r2 index.Region) bool {
	if r1.RefID != r2.RefID {
		return r1.RefID < r2.RefID
	}
	return r1.Beg < r2.Beg
}

// SortByStart sorts regions by reference id, then by start position.
func SortByStart(regions []index.Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		return less(regions[i], regions[j])
	})
}

type stableRegionSorter []index.Region

func (s stableRegionSorter) SequentialSort(i, j int) {
	SortByStart(s[i:j])
}

func (s stableRegionSorter) NewTemp() psort.StableSorter {
	return stableRegionSorter(make([]index.Region, len(s)))
}

func (s stableRegionSorter) Len() int {
	return len(s)
}

func (s stableRegionSorter) Less(i, j int) bool {
	return less(s[i], s[j])
}

func (s stableRegionSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableRegionSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// ParallelSortByStart sorts regions like SortByStart, using a
// parallel stable sort.
func ParallelSortByStart(regions []index.Region) {
	psort.StableSort(stableRegionSorter(regions))
}

// extend grows r1 to cover r2 if they are on the same reference and
// overlap or touch. r2.Beg >= r1.Beg must hold.
func extend(r1 *index.Region, r2 index.Region) bool {
	if r2.RefID != r1.RefID || r2.Beg > r1.End {
		return false
	}
	if r2.End > r1.End {
		r1.End = r2.End
	}
	return true
}

// Flatten merges overlapping and adjacent regions. regions must be
// sorted by SortByStart. The result shares memory with regions, is
// sorted, and no two of its regions overlap.
func Flatten(regions []index.Region) []index.Region {
	if len(regions) == 0 {
		return regions
	}
	result := regions[:1]
	for _, r := range regions[1:] {
		if !extend(&result[len(result)-1], r) {
			result = append(result, r)
		}
	}
	return result
}

const parallelFlattenGrainSize = 0x1000

// ParallelFlatten is Flatten with a parallel divide and conquer.
func ParallelFlatten(regions []index.Region) []index.Region {
	if len(regions) < parallelFlattenGrainSize {
		return Flatten(regions)
	}
	half := len(regions) >> 1
	left, right := regions[:half], regions[half:]
	parallel.Do(
		func() { left = ParallelFlatten(left) },
		func() { right = ParallelFlatten(right) },
	)
	for len(right) > 0 && extend(&left[len(left)-1], right[0]) {
		right = right[1:]
	}
	return append(left, right...)
}

// Normalize sorts and flattens regions in place.
func Normalize(regions []index.Region) []index.Region {
	ParallelSortByStart(regions)
	return ParallelFlatten(regions)
}

// Overlap reports whether [beg, end) on refID overlaps any of the
// regions, which must be normalized.
func Overlap(regions []index.Region, refID int, beg, end int64) bool {
	for left, right := 0, len(regions)-1; left <= right; {
		mid := (left + right) / 2
		r := regions[mid]
		switch {
		case r.RefID > refID || (r.RefID == refID && r.Beg >= end):
			right = mid - 1
		case r.RefID < refID || r.End <= beg:
			left = mid + 1
		default:
			return true
		}
	}
	return false
}

// Intersect returns the regions that overlap [beg, end) on refID.
// regions must be normalized. The result shares memory with regions.
func Intersect(regions []index.Region, refID int, beg, end int64) []index.Region {
	n := len(regions)
	return regions[sort.Search(n, func(i int) bool {
		r := regions[i]
		return r.RefID > refID || (r.RefID == refID && r.End > beg)
	}):sort.Search(n, func(i int) bool {
		r := regions[i]
		return r.RefID > refID || (r.RefID == refID && r.Beg >= end)
	})]
}
