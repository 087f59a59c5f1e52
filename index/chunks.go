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
	"sort"

	psort "github.com/exascience/pargo/sort"

	"github.com/exascience/elhts/utils/bgzf"
)

// SortChunks sorts chunks by their begin offsets, stable for equal
// begins.
func SortChunks(chunks []bgzf.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Begin < chunks[j].Begin
	})
}

type stableChunkSorter []bgzf.Chunk

func (s stableChunkSorter) SequentialSort(i, j int) {
	SortChunks(s[i:j])
}

func (s stableChunkSorter) NewTemp() psort.StableSorter {
	return stableChunkSorter(make([]bgzf.Chunk, len(s)))
}

func (s stableChunkSorter) Len() int {
	return len(s)
}

func (s stableChunkSorter) Less(i, j int) bool {
	return s[i].Begin < s[j].Begin
}

func (s stableChunkSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableChunkSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

const parallelSortGrainSize = 0x1000

// ParallelSortChunks is SortChunks for long chunk lists, such as the
// result of a whole-reference query.
func ParallelSortChunks(chunks []bgzf.Chunk) {
	if len(chunks) < parallelSortGrainSize {
		SortChunks(chunks)
		return
	}
	psort.StableSort(stableChunkSorter(chunks))
}

// extend merges c into chunk if they overlap, touch, or meet within
// the same compressed block, which would be decompressed anyway.
func extend(chunk *bgzf.Chunk, c bgzf.Chunk) bool {
	if c.Begin > chunk.End && c.Begin.File() != chunk.End.File() {
		return false
	}
	if c.End > chunk.End {
		chunk.End = c.End
	}
	return true
}

// Flatten merges the chunks of a sorted list in place and returns the
// merged prefix.
func Flatten(chunks []bgzf.Chunk) []bgzf.Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	i := 0
	for _, c := range chunks[1:] {
		if !extend(&chunks[i], c) {
			i++
			chunks[i] = c
		}
	}
	return chunks[:i+1]
}

// MergeChunks sorts and flattens chunks.
func MergeChunks(chunks []bgzf.Chunk) []bgzf.Chunk {
	ParallelSortChunks(chunks)
	return Flatten(chunks)
}
