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

	"github.com/klauspost/compress/flate"

	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

// ReadCSI reads a BGZF-compressed CSI index.
func ReadCSI(r io.Reader) (idx *Index, err error) {
	const source = "csi"
	br := bgzf.NewReader(r, 1)
	defer func() {
		if nerr := br.Close(); err == nil && nerr != nil {
			idx, err = nil, nerr
		}
	}()
	d := internal.NewDecoder(br)
	magic := d.Bytes(4)
	if d.Err != nil {
		return nil, decodeError(source, d.Err)
	}
	if !bytes.Equal(magic, csiMagic) {
		return nil, indexError(source, "invalid magic %q", magic)
	}
	minShift, depth := int(d.Int32()), int(d.Int32())
	if d.Err != nil {
		return nil, decodeError(source, d.Err)
	}
	if minShift <= 0 || depth <= 0 || minShift+3*depth > 62 {
		return nil, indexError(source, "invalid binning scheme min_shift=%v depth=%v", minShift, depth)
	}
	lAux, err := readCount(d, source, "auxiliary bytes")
	if err != nil {
		return nil, err
	}
	aux := d.Bytes(lAux)
	nRef, err := readCount(d, source, "references")
	if err != nil {
		return nil, err
	}
	idx = &Index{
		Format:     CSI,
		MinShift:   minShift,
		Depth:      depth,
		Aux:        aux,
		References: make([]Reference, nRef),
	}
	pseudo := PseudoBin(depth)
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
			loffset := bgzf.Offset(d.Uint64())
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
			ref.Bins[number] = &Bin{Number: number, LOffset: loffset, Chunks: chunks}
		}
	}
	if idx.NoCoordinate, err = readNoCoordinate(d, source); err != nil {
		return nil, err
	}
	return idx, nil
}

// WriteCSI writes idx in CSI format, compressed with BGZF.
func WriteCSI(w io.Writer, idx *Index) error {
	bw, err := bgzf.NewWriterWorkers(w, flate.DefaultCompression, 1)
	if err != nil {
		return err
	}
	p := append([]byte(nil), csiMagic...)
	p = internal.AppendInt32(p, int32(idx.MinShift))
	p = internal.AppendInt32(p, int32(idx.Depth))
	p = internal.AppendInt32(p, int32(len(idx.Aux)))
	p = append(p, idx.Aux...)
	p = internal.AppendInt32(p, int32(len(idx.References)))
	for i := range idx.References {
		ref := &idx.References[i]
		p = internal.AppendInt32(p, int32(len(ref.Bins)+statsCount(ref)))
		for _, bin := range ref.SortedBins() {
			p = internal.AppendUint32(p, bin.Number)
			p = internal.AppendUint64(p, uint64(bin.LOffset))
			p = appendChunks(p, bin.Chunks)
		}
		if ref.Stats != nil {
			p = internal.AppendUint32(p, PseudoBin(idx.Depth))
			p = internal.AppendUint64(p, 0)
			p = appendStats(p, ref.Stats)
		}
	}
	if idx.NoCoordinate != nil {
		p = internal.AppendUint64(p, *idx.NoCoordinate)
	}
	if _, err := bw.Write(p); err != nil {
		_ = bw.Close()
		return err
	}
	return bw.Close()
}

// Write writes idx in its own format.
func (idx *Index) Write(w io.Writer) error {
	if idx.Format == CSI {
		return WriteCSI(w, idx)
	}
	return WriteBAI(w, idx)
}

// Read reads a BAI or CSI index, detected from its contents.
func Read(r io.Reader) (*Index, error) {
	var buf [4]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, utils.NewIOError("index: read", err)
	}
	head := buf[:n]
	r = io.MultiReader(bytes.NewReader(head), r)
	switch {
	case bytes.Equal(head, baiMagic):
		return ReadBAI(r)
	case n >= 2 && head[0] == 0x1f && head[1] == 0x8b:
		return ReadCSI(r)
	default:
		return nil, indexError("index", "neither a BAI nor a CSI index")
	}
}
