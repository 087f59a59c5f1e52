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
	"io"

	"github.com/exascience/elhts/utils/bgzf"
)

// Cursor walks a BGZF reader through a sorted list of
// non-overlapping chunks, such as the result of Index.Chunks.
type Cursor struct {
	r       *bgzf.Reader
	chunks  []bgzf.Chunk
	i       int
	started bool
	err     error
}

// NewCursor returns a Cursor for chunks over r. Nothing is read
// until the first call to Next.
func NewCursor(r *bgzf.Reader, chunks []bgzf.Chunk) *Cursor {
	return &Cursor{r: r, chunks: chunks}
}

// Next positions the reader at the start of the next record to
// decode, seeking to the next chunk when the current one is
// exhausted. It returns io.EOF after the last chunk.
func (c *Cursor) Next() error {
	if c.err != nil {
		return c.err
	}
	if c.started {
		if c.r.Tell() < c.chunks[c.i].End {
			return nil
		}
		c.i++
	}
	for ; c.i < len(c.chunks); c.i++ {
		chunk := c.chunks[c.i]
		pos := c.r.Tell()
		if c.started && pos >= chunk.End {
			continue
		}
		if !c.started || pos < chunk.Begin {
			if err := c.r.Seek(chunk.Begin); err != nil {
				c.err = err
				return err
			}
		}
		c.started = true
		return nil
	}
	c.err = io.EOF
	return io.EOF
}

// Chunk returns the chunk the cursor is in.
func (c *Cursor) Chunk() bgzf.Chunk {
	if c.i < len(c.chunks) {
		return c.chunks[c.i]
	}
	return bgzf.Chunk{}
}
