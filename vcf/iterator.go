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
	"io"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
)

// Iterator yields the records of a Reader that overlap a region.
type Iterator struct {
	r      *Reader
	region index.Region
	cursor *index.Cursor
	rec    Record
	err    error
}

// Query returns an iterator over the records overlapping region. The
// iterator moves the reader, so only one iterator should use a reader
// at a time.
func (r *Reader) Query(idx *index.Index, region index.Region) *Iterator {
	return &Iterator{
		r:      r,
		region: region,
		cursor: index.NewCursor(r.bgzf, idx.Chunks(region.RefID, region.Beg, region.End)),
	}
}

// QueryString parses a region string against the contigs of the
// header and queries it.
func (r *Reader) QueryString(idx *index.Index, region string) (*Iterator, error) {
	reg, err := index.ParseRegion(region, r.Header)
	if err != nil {
		return nil, err
	}
	return r.Query(idx, reg), nil
}

// Region returns the queried region.
func (it *Iterator) Region() index.Region {
	return it.region
}

// Next returns the next overlapping record, or io.EOF at the end.
// The record is reused by the following call.
func (it *Iterator) Next() (*Record, error) {
	if it.err != nil {
		return nil, it.err
	}
	for {
		if err := it.cursor.Next(); err != nil {
			it.err = err
			return nil, err
		}
		offset := it.r.Tell()
		if err := it.r.Read(&it.rec); err != nil {
			if err == io.EOF {
				err = utils.NewFormatError("bcf", int64(offset), "index chunk beyond the last record")
			}
			it.err = err
			return nil, err
		}
		refID := int(it.rec.RefID)
		switch {
		case refID < 0 || refID > it.region.RefID || (refID == it.region.RefID && it.rec.Pos >= it.region.End):
			it.err = io.EOF
			return nil, io.EOF
		case it.rec.Overlaps(it.region):
			return &it.rec, nil
		}
	}
}
