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
	"io"

	"github.com/pkg/errors"

	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

var (
	baiMagic = []byte("BAI\x01")
	csiMagic = []byte("CSI\x01")
)

// maxCount bounds counts read from index files, so that corrupt
// counts fail instead of exhausting memory.
const maxCount = 1 << 28

func indexError(source string, format string, args ...interface{}) error {
	return utils.NewFormatError(source, -1, format, args...)
}

func decodeError(source string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return indexError(source, "unexpected end of index")
	}
	if errors.Is(err, utils.ErrFormat) || errors.Is(err, utils.ErrTruncated) || errors.Is(err, utils.ErrIO) {
		return err
	}
	return utils.NewIOError(source+": read", err)
}

func readCount(d *internal.Decoder, source, what string) (int, error) {
	n := d.Int32()
	if d.Err != nil {
		return 0, decodeError(source, d.Err)
	}
	if n < 0 || n > maxCount {
		return 0, indexError(source, "invalid number of %v: %v", what, n)
	}
	return int(n), nil
}

func readChunks(d *internal.Decoder, source string) ([]bgzf.Chunk, error) {
	n, err := readCount(d, source, "chunks")
	if err != nil {
		return nil, err
	}
	chunks := make([]bgzf.Chunk, n)
	for i := range chunks {
		chunks[i].Begin = bgzf.Offset(d.Uint64())
		chunks[i].End = bgzf.Offset(d.Uint64())
	}
	if d.Err != nil {
		return nil, decodeError(source, d.Err)
	}
	return chunks, nil
}

func statsFromChunks(source string, chunks []bgzf.Chunk) (*Stats, error) {
	if len(chunks) != 2 {
		return nil, indexError(source, "pseudo-bin with %v chunks instead of 2", len(chunks))
	}
	return &Stats{
		Begin:    chunks[0].Begin,
		End:      chunks[0].End,
		Mapped:   uint64(chunks[1].Begin),
		Unmapped: uint64(chunks[1].End),
	}, nil
}

// readNoCoordinate reads the optional trailing count of records
// without coordinate.
func readNoCoordinate(d *internal.Decoder, source string) (*uint64, error) {
	n := d.Uint64()
	switch d.Err {
	case nil:
		return &n, nil
	case io.EOF:
		d.Err = nil
		return nil, nil
	default:
		return nil, decodeError(source, d.Err)
	}
}

// ReadBAI reads a BAI index.
func ReadBAI(r io.Reader) (*Index, error) {
	const source = "bai"
	d := internal.NewDecoder(r)
	magic := d.Bytes(4)
	if d.Err != nil {
		return nil, decodeError(source, d.Err)
	}
	if !bytes.Equal(magic, baiMagic) {
		return nil, indexError(source, "invalid magic %q", magic)
	}
	nRef, err := readCount(d, source, "references")
	if err != nil {
		return nil, err
	}
	idx := &Index{
		Format:     BAI,
		MinShift:   DefaultMinShift,
		Depth:      DefaultDepth,
		References: make([]Reference, nRef),
	}
	pseudo := PseudoBin(DefaultDepth)
	for i := range idx.References {
		ref := &idx.References[i]
		nBin, err := readCount(d, source, "bins")
		if err != nil {
			return nil, err
		}
		if nBin > 0 {
			ref.Bins = make(map[uint32]*Bin, nBin)
		}
		for j := 0; j < nBin; j++ {
			number := d.Uint32()
			chunks, err := readChunks(d, source)
			if err != nil {
				return nil, err
			}
			if number == pseudo {
				if ref.Stats, err = statsFromChunks(source, chunks); err != nil {
					return nil, err
				}
				continue
			}
			if number > pseudo {
				return nil, indexError(source, "invalid bin number %v", number)
			}
			ref.Bins[number] = &Bin{Number: number, Chunks: chunks}
		}
		nIntv, err := readCount(d, source, "intervals")
		if err != nil {
			return nil, err
		}
		if nIntv > 0 {
			ref.Linear = make([]bgzf.Offset, nIntv)
		}
		for j := range ref.Linear {
			ref.Linear[j] = bgzf.Offset(d.Uint64())
		}
		if d.Err != nil {
			return nil, decodeError(source, d.Err)
		}
		for _, bin := range ref.Bins {
			if n := int64(nIntv); n > 0 {
				w := binWindow(bin.Number, DefaultDepth)
				if w >= n {
					w = n - 1
				}
				bin.LOffset = ref.Linear[w]
			}
		}
	}
	if idx.NoCoordinate, err = readNoCoordinate(d, source); err != nil {
		return nil, err
	}
	return idx, nil
}

func appendChunks(p []byte, chunks []bgzf.Chunk) []byte {
	p = internal.AppendInt32(p, int32(len(chunks)))
	for _, c := range chunks {
		p = internal.AppendUint64(p, uint64(c.Begin))
		p = internal.AppendUint64(p, uint64(c.End))
	}
	return p
}

func appendStats(p []byte, s *Stats) []byte {
	return appendChunks(p, []bgzf.Chunk{
		{Begin: s.Begin, End: s.End},
		{Begin: bgzf.Offset(s.Mapped), End: bgzf.Offset(s.Unmapped)},
	})
}

func statsCount(ref *Reference) int {
	if ref.Stats != nil {
		return 1
	}
	return 0
}

// WriteBAI writes idx in BAI format. The index must use the default
// binning scheme.
func WriteBAI(w io.Writer, idx *Index) error {
	if idx.MinShift != DefaultMinShift || idx.Depth != DefaultDepth {
		return errors.Errorf("bai: binning scheme min_shift=%v depth=%v cannot be stored as BAI", idx.MinShift, idx.Depth)
	}
	p := append([]byte(nil), baiMagic...)
	p = internal.AppendInt32(p, int32(len(idx.References)))
	for i := range idx.References {
		ref := &idx.References[i]
		p = internal.AppendInt32(p, int32(len(ref.Bins)+statsCount(ref)))
		for _, bin := range ref.SortedBins() {
			p = internal.AppendUint32(p, bin.Number)
			p = appendChunks(p, bin.Chunks)
		}
		if ref.Stats != nil {
			p = internal.AppendUint32(p, PseudoBin(DefaultDepth))
			p = appendStats(p, ref.Stats)
		}
		p = internal.AppendInt32(p, int32(len(ref.Linear)))
		for _, off := range ref.Linear {
			p = internal.AppendUint64(p, uint64(off))
		}
	}
	if idx.NoCoordinate != nil {
		p = internal.AppendUint64(p, *idx.NoCoordinate)
	}
	_, err := w.Write(p)
	return utils.NewIOError("bai: write", err)
}
