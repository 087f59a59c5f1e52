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

// Package index implements the BAI and CSI binning indexes: per
// reference, a map from bins to the chunks of the compressed file
// holding records in that bin, plus a linear index of the smallest
// record offset per 16 kb window.
package index

import (
	"sort"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/exascience/pargo/parallel"
	"github.com/pkg/errors"

	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

// Format is the on-disk layout of an index.
type Format int

// The supported index formats.
const (
	BAI Format = iota + 1
	CSI
)

func (f Format) String() string {
	switch f {
	case BAI:
		return "BAI"
	case CSI:
		return "CSI"
	default:
		return "unknown"
	}
}

// Extension returns the conventional file extension, with dot.
func (f Format) Extension() string {
	if f == CSI {
		return ".csi"
	}
	return ".bai"
}

type (
	// Bin holds the chunks of one bin. LOffset is the smallest offset
	// of a record overlapping the bin's first window, as stored in
	// CSI files.
	Bin struct {
		Number  uint32
		LOffset bgzf.Offset
		Chunks  []bgzf.Chunk
	}

	// Stats are the per-reference statistics kept in the pseudo-bin.
	Stats struct {
		Begin, End       bgzf.Offset
		Mapped, Unmapped uint64
	}

	// Reference is the index of one reference sequence.
	Reference struct {
		Bins   map[uint32]*Bin
		Linear []bgzf.Offset
		Stats  *Stats
	}

	// Index is a complete binning index. Once built or read it is not
	// modified, and can be shared by concurrent queries.
	Index struct {
		Format       Format
		MinShift     int
		Depth        int
		Aux          []byte
		References   []Reference
		NoCoordinate *uint64
	}
)

// SortedBins returns the bins of ref in increasing bin number.
func (ref *Reference) SortedBins() []*Bin {
	bins := make([]*Bin, 0, len(ref.Bins))
	for _, bin := range ref.Bins {
		bins = append(bins, bin)
	}
	sort.Slice(bins, func(i, j int) bool {
		return bins[i].Number < bins[j].Number
	})
	return bins
}

// minOffset returns the lower bound on offsets of records that can
// overlap a query starting at beg.
func (idx *Index) minOffset(ref *Reference, beg int64) bgzf.Offset {
	if n := len(ref.Linear); n > 0 {
		w := beg >> idx.MinShift
		if w >= int64(n) {
			w = int64(n) - 1
		}
		return ref.Linear[w]
	}
	bin := RegionToBin(beg, beg+1, idx.MinShift, idx.Depth)
	for {
		if b, ok := ref.Bins[bin]; ok {
			return b.LOffset
		}
		if bin == 0 {
			return 0
		}
		bin = BinParent(bin)
	}
}

// Chunks returns the sorted, merged chunks that hold every record of
// reference refID overlapping the 0-based half-open interval
// [beg, end).
func (idx *Index) Chunks(refID int, beg, end int64) []bgzf.Chunk {
	if refID < 0 || refID >= len(idx.References) {
		return nil
	}
	ref := &idx.References[refID]
	if len(ref.Bins) == 0 {
		return nil
	}
	if beg < 0 {
		beg = 0
	}
	bins := RegionToBins(beg, end, idx.MinShift, idx.Depth, nil)
	minOff := idx.minOffset(ref, beg)
	var chunks []bgzf.Chunk
	for i, ok := bins.NextSet(0); ok; i, ok = bins.NextSet(i + 1) {
		if bin, found := ref.Bins[uint32(i)]; found {
			for _, c := range bin.Chunks {
				if c.End > minOff {
					chunks = append(chunks, c)
				}
			}
		}
	}
	return MergeChunks(chunks)
}

// Options select the format and binning scheme of a new index. Zero
// fields take defaults: BAI with the default scheme, or CSI with the
// default scheme when only the format is set to CSI.
type Options struct {
	Format   Format
	MinShift int
	Depth    int
}

// Normalize fills in defaults and checks that the format can store
// the binning scheme.
func (o Options) Normalize() (Options, error) {
	if o.MinShift == 0 {
		o.MinShift = DefaultMinShift
	}
	if o.Depth == 0 {
		o.Depth = DefaultDepth
	}
	if o.Format == 0 {
		if o.MinShift == DefaultMinShift && o.Depth == DefaultDepth {
			o.Format = BAI
		} else {
			o.Format = CSI
		}
	}
	switch {
	case o.MinShift < 1 || o.Depth < 1 || o.MinShift+3*o.Depth > 62:
		return o, errors.Errorf("index: invalid binning scheme min_shift=%v depth=%v", o.MinShift, o.Depth)
	case o.Format == BAI && (o.MinShift != DefaultMinShift || o.Depth != DefaultDepth):
		return o, errors.Errorf("index: BAI requires min_shift=%v depth=%v", DefaultMinShift, DefaultDepth)
	case o.Format != BAI && o.Format != CSI:
		return o, errors.Errorf("index: unknown format %v", int(o.Format))
	}
	return o, nil
}

// NewBuilder returns a Builder for o, which must be normalized.
func (o Options) NewBuilder() *Builder {
	b := NewBuilder(o.MinShift, o.Depth)
	b.format = o.Format
	return b
}

// ParseFormat parses "bai" or "csi", in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "bai":
		return BAI, nil
	case "csi":
		return CSI, nil
	default:
		return 0, errors.Errorf("index: unknown format %q", s)
	}
}

// Builder builds an Index from records pushed in file order.
type Builder struct {
	format          Format
	minShift, depth int
	refs            []Reference
	seen            *bitset.BitSet
	current         int
	lastPos         int64
	noCoordinate    uint64
	err             error
}

// NewBuilder returns a Builder for the given binning scheme.
func NewBuilder(minShift, depth int) *Builder {
	return &Builder{
		minShift: minShift,
		depth:    depth,
		seen:     bitset.New(0),
		current:  -1,
	}
}

func (b *Builder) fail(format string, args ...interface{}) error {
	b.err = utils.NewFormatError("index", -1, format, args...)
	return b.err
}

// Push adds a record of reference refID covering the 0-based
// half-open interval [beg, end), stored in the given chunk of the
// file. Records with refID < 0 are counted as having no coordinate.
// Records must come sorted by reference and start position, and
// records without coordinate must come last.
func (b *Builder) Push(refID int, beg, end int64, chunk bgzf.Chunk, mapped bool) error {
	if b.err != nil {
		return b.err
	}
	if refID < 0 {
		b.noCoordinate++
		b.current = -2
		return nil
	}
	if refID != b.current {
		if b.current == -2 {
			return b.fail("record with coordinate after records without coordinate")
		}
		if b.seen.Test(uint(refID)) || refID < b.current {
			return b.fail("records not sorted by reference: reference %v seen again", refID)
		}
		b.seen.Set(uint(refID))
		b.current = refID
		b.lastPos = -1 << 62
		for len(b.refs) <= refID {
			b.refs = append(b.refs, Reference{})
		}
	}
	if beg < b.lastPos {
		return b.fail("records not sorted by position: %v after %v on reference %v", beg, b.lastPos, refID)
	}
	if max := MaxCoordinate(b.minShift, b.depth); end > max {
		return b.fail("position %v beyond maximum %v of the binning scheme", end, max)
	}
	b.lastPos = beg
	if end <= beg {
		end = beg + 1
	}
	ref := &b.refs[refID]
	if ref.Bins == nil {
		ref.Bins = make(map[uint32]*Bin)
		ref.Stats = &Stats{Begin: chunk.Begin}
	}
	number := RegionToBin(beg, end, b.minShift, b.depth)
	bin, ok := ref.Bins[number]
	if !ok {
		bin = &Bin{Number: number}
		ref.Bins[number] = bin
	}
	if n := len(bin.Chunks); n == 0 || !extend(&bin.Chunks[n-1], chunk) {
		bin.Chunks = append(bin.Chunks, chunk)
	}
	first, last := beg>>b.minShift, (end-1)>>b.minShift
	if first < 0 {
		first = 0
	}
	for int64(len(ref.Linear)) <= last {
		ref.Linear = append(ref.Linear, 0)
	}
	for w := first; w <= last; w++ {
		if ref.Linear[w] == 0 {
			ref.Linear[w] = chunk.Begin
		}
	}
	ref.Stats.End = chunk.End
	if mapped {
		ref.Stats.Mapped++
	} else {
		ref.Stats.Unmapped++
	}
	return nil
}

// Finish completes the index for nRefs references. Empty linear
// index windows take the offset of the preceding window, and each
// bin gets its CSI lower bound offset.
func (b *Builder) Finish(nRefs int) (*Index, error) {
	if b.err != nil {
		return nil, b.err
	}
	for len(b.refs) < nRefs {
		b.refs = append(b.refs, Reference{})
	}
	refs := b.refs
	parallel.Range(0, len(refs), 0, func(low, high int) {
		for i := low; i < high; i++ {
			ref := &refs[i]
			for w := 1; w < len(ref.Linear); w++ {
				if ref.Linear[w] == 0 {
					ref.Linear[w] = ref.Linear[w-1]
				}
			}
			for _, bin := range ref.Bins {
				if n := int64(len(ref.Linear)); n > 0 {
					w := binWindow(bin.Number, b.depth)
					if w >= n {
						w = n - 1
					}
					bin.LOffset = ref.Linear[w]
				}
			}
		}
	})
	noCoordinate := b.noCoordinate
	format := b.format
	if format == 0 {
		format = CSI
		if b.minShift == DefaultMinShift && b.depth == DefaultDepth {
			format = BAI
		}
	}
	return &Index{
		Format:       format,
		MinShift:     b.minShift,
		Depth:        b.depth,
		References:   refs,
		NoCoordinate: &noCoordinate,
	}, nil
}
