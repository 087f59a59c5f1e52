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

package vcf

import (
	"context"
	"encoding/binary"
	"io"
	"runtime"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
	"github.com/exascience/elhts/utils/buffer"
)

// maxRecordSize bounds l_shared+l_indiv, so that corrupt sizes fail
// instead of exhausting memory.
const maxRecordSize = 1 << 30

// minSharedSize is the size of the fixed fields of a record.
const minSharedSize = 24

// Reader reads variant records from a BCF stream.
type Reader struct {
	Header *Header
	bgzf   *bgzf.Reader
	buf    [8]byte
}

// NewReader reads the header of the BCF stream r and returns a Reader
// positioned at the first record. See bgzf.NewReader for workers.
func NewReader(r io.Reader, workers int) (*Reader, error) {
	return NewReaderContext(context.Background(), r, workers)
}

// NewReaderContext is NewReader with cooperative cancellation.
func NewReaderContext(ctx context.Context, r io.Reader, workers int) (*Reader, error) {
	return newReader(bgzf.NewReaderContext(ctx, r, workers))
}

// Open opens the named BCF file.
func Open(name string, workers int) (*Reader, error) {
	br, err := bgzf.Open(name, workers)
	if err != nil {
		return nil, err
	}
	return newReader(br)
}

func newReader(br *bgzf.Reader) (*Reader, error) {
	hdr, err := ReadHeader(br)
	if err != nil {
		_ = br.Close()
		return nil, err
	}
	return &Reader{Header: hdr, bgzf: br}, nil
}

// Read reads the next record into rec, reusing its storage. It
// returns io.EOF after the last record.
func (r *Reader) Read(rec *Record) error {
	offset := r.bgzf.Tell()
	if _, err := io.ReadFull(r.bgzf, r.buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return utils.NewFormatError("bcf", int64(offset), "truncated record sizes")
		}
		return err
	}
	lShared := binary.LittleEndian.Uint32(r.buf[:4])
	lIndiv := binary.LittleEndian.Uint32(r.buf[4:])
	size := uint64(lShared) + uint64(lIndiv)
	if lShared < minSharedSize || size > maxRecordSize {
		return utils.NewFormatError("bcf", int64(offset), "invalid record sizes %v and %v", lShared, lIndiv)
	}
	if cap(rec.raw) < int(size) {
		rec.raw = make([]byte, size)
	} else {
		rec.raw = rec.raw[:size]
	}
	if _, err := io.ReadFull(r.bgzf, rec.raw); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return utils.NewFormatError("bcf", int64(offset), "truncated record")
		}
		return err
	}
	return utils.InRecord(rec.unmarshal(int(lShared), r.Header), int64(offset))
}

// Tell returns the virtual offset of the next record.
func (r *Reader) Tell() bgzf.Offset {
	return r.bgzf.Tell()
}

// Seek positions the reader at a virtual offset, which must be the
// start of a record.
func (r *Reader) Seek(off bgzf.Offset) error {
	return r.bgzf.Seek(off)
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	return r.bgzf.Close()
}

// WriterOptions configure a Writer.
type WriterOptions struct {
	// Level is a compress/flate compression level.
	Level   int
	Workers int
	// Index, when not nil, builds an index while writing. The format
	// defaults to CSI.
	Index *index.Options
}

// DefaultWriterOptions compress at the default level on all cores,
// without index.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{Level: flate.DefaultCompression, Workers: runtime.GOMAXPROCS(0)}
}

// indexOptions defaults to CSI. BAI cannot index BCF, since its
// readers only resolve BAM reference ids.
func indexOptions(opts *index.Options) (index.Options, error) {
	o := *opts
	switch o.Format {
	case 0:
		o.Format = index.CSI
	case index.BAI:
		return o, errors.Wrap(utils.ErrFormat, "bcf: BCF files are indexed with CSI, not BAI")
	}
	return o.Normalize()
}

// Writer writes a BCF stream, optionally building its index on the
// fly. Records must be written in coordinate order when indexing.
type Writer struct {
	header    *Header
	bgzf      *bgzf.Writer
	recorder  *index.Recorder
	buf       buffer.Buffer
	idx       *index.Index
	indexPath string
	err       error
}

// NewWriter writes the header of a BCF stream to w.
func NewWriter(w io.Writer, hdr *Header, opts WriterOptions) (*Writer, error) {
	return NewWriterContext(context.Background(), w, hdr, opts)
}

// NewWriterContext is NewWriter with cooperative cancellation.
func NewWriterContext(ctx context.Context, w io.Writer, hdr *Header, opts WriterOptions) (*Writer, error) {
	if opts.Index != nil {
		if _, err := indexOptions(opts.Index); err != nil {
			return nil, err
		}
	}
	bw, err := bgzf.NewWriterContext(ctx, w, opts.Level, opts.Workers)
	if err != nil {
		return nil, err
	}
	return newWriter(bw, hdr, opts)
}

// Create creates the named BCF file. With opts.Index set, Close also
// writes the index next to it.
func Create(name string, hdr *Header, opts WriterOptions) (*Writer, error) {
	var indexPath string
	if opts.Index != nil {
		o, err := indexOptions(opts.Index)
		if err != nil {
			return nil, err
		}
		indexPath = index.Path(name, o.Format)
	}
	bw, err := bgzf.Create(name, opts.Level, opts.Workers)
	if err != nil {
		return nil, err
	}
	w, err := newWriter(bw, hdr, opts)
	if err != nil {
		return nil, err
	}
	w.indexPath = indexPath
	return w, nil
}

func newWriter(bw *bgzf.Writer, hdr *Header, opts WriterOptions) (*Writer, error) {
	w := &Writer{header: hdr, bgzf: bw}
	if opts.Index != nil {
		o, err := indexOptions(opts.Index)
		if err == nil {
			w.recorder, err = index.NewRecorder(bw, o)
		}
		if err != nil {
			_ = bw.Close()
			return nil, err
		}
	}
	if _, err := bw.Write(hdr.AppendBCF(nil)); err != nil {
		_ = bw.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		_ = bw.Close()
		return nil, err
	}
	return w, nil
}

// Write appends rec. Its number of samples must match the header.
func (w *Writer) Write(rec *Record) error {
	if w.err != nil {
		return w.err
	}
	if rec.NSamples != len(w.header.samples) {
		return utils.NewFormatError("bcf", -1, "record with %v samples, header declares %v", rec.NSamples, len(w.header.samples))
	}
	w.buf.Clear()
	if err := rec.Encode(&w.buf); err != nil {
		return err
	}
	if w.recorder != nil {
		w.err = w.recorder.Write(w.buf.Bytes(), int(rec.RefID), rec.Pos, rec.End(), true)
	} else {
		_, w.err = w.bgzf.Write(w.buf.Bytes())
	}
	return w.err
}

// Close flushes all data and writes the EOF block, then completes the
// index, if any. The index is written next to a file opened with
// Create.
func (w *Writer) Close() error {
	err := w.bgzf.Close()
	if w.err == nil {
		w.err = err
	}
	if w.err == nil && w.recorder != nil {
		w.idx, w.err = w.recorder.Finish(len(w.header.contigs))
		if w.err == nil && w.indexPath != "" {
			w.err = index.WriteFile(w.indexPath, w.idx)
		}
	}
	return w.err
}

// Index returns the index built while writing, after Close.
func (w *Writer) Index() *index.Index {
	return w.idx
}

// BuildIndex indexes the records of r, from its current position to
// the end. The records must be sorted by coordinate. The format
// defaults to CSI.
func BuildIndex(r *Reader, opts index.Options) (*index.Index, error) {
	opts, err := indexOptions(&opts)
	if err != nil {
		return nil, err
	}
	builder := opts.NewBuilder()
	var rec Record
	for {
		beg := r.Tell()
		if err := r.Read(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		end := r.Tell()
		if err := builder.Push(int(rec.RefID), rec.Pos, rec.End(), bgzf.Chunk{Begin: beg, End: end}, true); err != nil {
			return nil, err
		}
	}
	return builder.Finish(len(r.Header.contigs))
}
