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
	"context"
	"encoding/binary"
	"io"
	"runtime"

	"github.com/klauspost/compress/flate"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

// maxRecordSize bounds block_size, so that corrupt sizes fail instead
// of exhausting memory.
const maxRecordSize = 1 << 30

// Reader reads alignment records from a BAM stream.
type Reader struct {
	Header *Header
	bgzf   *bgzf.Reader
	buf    [4]byte
}

// NewReader reads the header of the BAM stream r and returns a Reader
// positioned at the first record. See bgzf.NewReader for workers.
func NewReader(r io.Reader, workers int) (*Reader, error) {
	return NewReaderContext(context.Background(), r, workers)
}

// NewReaderContext is NewReader with cooperative cancellation.
func NewReaderContext(ctx context.Context, r io.Reader, workers int) (*Reader, error) {
	return newReader(bgzf.NewReaderContext(ctx, r, workers))
}

// Open opens the named BAM file.
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
			return utils.NewFormatError("bam", int64(offset), "truncated record size")
		}
		return err
	}
	size := int32(binary.LittleEndian.Uint32(r.buf[:]))
	if size < readNameIndex || size > maxRecordSize {
		return utils.NewFormatError("bam", int64(offset), "invalid record size %v", size)
	}
	data := rec.data[:0]
	if cap(data) < int(size) {
		data = make([]byte, size, rec.capacityFor(int(size)))
	} else {
		data = data[:size]
	}
	if _, err := io.ReadFull(r.bgzf, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return utils.NewFormatError("bam", int64(offset), "truncated record")
		}
		return err
	}
	return utils.InRecord(rec.Unmarshal(data), int64(offset))
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
	// Index, when not nil, builds an index while writing.
	Index *index.Options
}

// DefaultWriterOptions compress at the default level on all cores,
// without index.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{Level: flate.DefaultCompression, Workers: runtime.GOMAXPROCS(0)}
}

// Writer writes a BAM stream, optionally building its index on the
// fly. Records must be written in coordinate order when indexing.
type Writer struct {
	header    *Header
	bgzf      *bgzf.Writer
	recorder  *index.Recorder
	buf       []byte
	idx       *index.Index
	indexPath string
	err       error
}

// NewWriter writes the header of a BAM stream to w.
func NewWriter(w io.Writer, hdr *Header, opts WriterOptions) (*Writer, error) {
	return NewWriterContext(context.Background(), w, hdr, opts)
}

// NewWriterContext is NewWriter with cooperative cancellation.
func NewWriterContext(ctx context.Context, w io.Writer, hdr *Header, opts WriterOptions) (*Writer, error) {
	if opts.Index != nil {
		if _, err := opts.Index.Normalize(); err != nil {
			return nil, err
		}
	}
	bw, err := bgzf.NewWriterContext(ctx, w, opts.Level, opts.Workers)
	if err != nil {
		return nil, err
	}
	return newWriter(bw, hdr, opts)
}

// Create creates the named BAM file. With opts.Index set, Close also
// writes the index next to it.
func Create(name string, hdr *Header, opts WriterOptions) (*Writer, error) {
	var indexPath string
	if opts.Index != nil {
		indexOptions, err := opts.Index.Normalize()
		if err != nil {
			return nil, err
		}
		indexPath = index.Path(name, indexOptions.Format)
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
		recorder, err := index.NewRecorder(bw, *opts.Index)
		if err != nil {
			_ = bw.Close()
			return nil, err
		}
		w.recorder = recorder
	}
	if _, err := bw.Write(hdr.AppendBAM(nil)); err != nil {
		_ = bw.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		_ = bw.Close()
		return nil, err
	}
	return w, nil
}

// Write appends rec.
func (w *Writer) Write(rec *Record) error {
	if w.err != nil {
		return w.err
	}
	w.buf = rec.MarshalBAM(w.buf[:0])
	if w.recorder != nil {
		w.err = w.recorder.Write(w.buf, int(rec.RefID()), rec.Pos(), rec.End(), !rec.IsUnmapped())
	} else {
		_, w.err = w.bgzf.Write(w.buf)
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
		w.idx, w.err = w.recorder.Finish(len(w.header.References))
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
// the end. The records must be sorted by coordinate.
func BuildIndex(r *Reader, opts index.Options) (*index.Index, error) {
	opts, err := opts.Normalize()
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
		if err := builder.Push(int(rec.RefID()), rec.Pos(), rec.End(), bgzf.Chunk{Begin: beg, End: end}, !rec.IsUnmapped()); err != nil {
			return nil, err
		}
	}
	return builder.Finish(len(r.Header.References))
}
