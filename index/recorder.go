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
	"github.com/exascience/elhts/utils/bgzf"
)

type pendingEntry struct {
	refID      int
	beg, end   int64
	mapped     bool
	uBeg, uEnd int64
}

// resolveBatch is the number of pending entries that triggers
// resolving their offsets.
const resolveBatch = 1 << 12

// A Recorder builds an index while records are written to a BGZF
// stream. Virtual offsets of records are only known once their blocks
// are compressed, so entries are queued with uncompressed positions
// and pushed to the builder in batches.
type Recorder struct {
	w       *bgzf.Writer
	builder *Builder
	pending []pendingEntry
}

// NewRecorder returns a recorder for w.
func NewRecorder(w *bgzf.Writer, opts Options) (*Recorder, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	return &Recorder{w: w, builder: opts.NewBuilder()}, nil
}

// Write writes one encoded record to the stream and queues its index
// entry. A record that fits a block is not split across blocks.
func (r *Recorder) Write(record []byte, refID int, beg, end int64, mapped bool) error {
	if err := r.w.FlushTry(len(record)); err != nil {
		return err
	}
	uBeg := r.w.Position()
	if _, err := r.w.Write(record); err != nil {
		return err
	}
	r.pending = append(r.pending, pendingEntry{
		refID:  refID,
		beg:    beg,
		end:    end,
		mapped: mapped,
		uBeg:   uBeg,
		uEnd:   r.w.Position(),
	})
	if len(r.pending) >= resolveBatch {
		return r.resolve(false)
	}
	return nil
}

// resolve pushes pending entries whose blocks have been written. With
// all set, every block must have been written.
func (r *Recorder) resolve(all bool) error {
	i := 0
	for ; i < len(r.pending); i++ {
		p := &r.pending[i]
		beg, err := r.w.Resolve(p.uBeg)
		if err != nil {
			if all {
				return err
			}
			break
		}
		end, err := r.w.Resolve(p.uEnd)
		if err != nil {
			if all {
				return err
			}
			break
		}
		if err := r.builder.Push(p.refID, p.beg, p.end, bgzf.Chunk{Begin: beg, End: end}, p.mapped); err != nil {
			return err
		}
	}
	r.pending = r.pending[:copy(r.pending, r.pending[i:])]
	return nil
}

// Finish completes the index. The stream must have been closed.
func (r *Recorder) Finish(nRefs int) (*Index, error) {
	if err := r.resolve(true); err != nil {
		return nil, err
	}
	return r.builder.Finish(nRefs)
}
