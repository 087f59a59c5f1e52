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
	"fmt"
	"strconv"
	"strings"

	"github.com/exascience/elhts/utils"
)

// Dictionary maps reference names to ids and lengths. Headers of
// BAM and BCF files implement it.
type Dictionary interface {
	// ReferenceID fails with an error matching utils.ErrNotFound for
	// unknown names.
	ReferenceID(name string) (int, error)
	// ReferenceLength returns -1 if the length is unknown.
	ReferenceLength(id int) int64
}

// Region is a 0-based half-open interval on one reference.
type Region struct {
	RefID    int
	Name     string
	Beg, End int64
}

// Overlaps reports whether [beg, end) on reference refID overlaps r.
// Empty intervals overlap when they sit inside r.
func (r Region) Overlaps(refID int, beg, end int64) bool {
	if refID != r.RefID {
		return false
	}
	if end <= beg {
		end = beg + 1
	}
	return beg < r.End && end > r.Beg
}

// String formats r in the 1-based inclusive region syntax.
func (r Region) String() string {
	if r.End == MaxPos {
		if r.Beg == 0 {
			return r.Name
		}
		return fmt.Sprintf("%v:%v", r.Name, r.Beg+1)
	}
	return fmt.Sprintf("%v:%v-%v", r.Name, r.Beg+1, r.End)
}

func regionError(s, format string, args ...interface{}) error {
	return utils.NewFormatError("region", -1, "%q: %v", s, fmt.Sprintf(format, args...))
}

func parsePosition(s, region string) (int64, error) {
	v, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0, regionError(region, "invalid position %q", s)
	}
	return v, nil
}

func wholeReference(dict Dictionary, id int, name string) Region {
	end := dict.ReferenceLength(id)
	if end < 0 {
		end = MaxPos
	}
	return Region{RefID: id, Name: name, Beg: 0, End: end}
}

// ParseRegion parses name, name:start, or name:start-end, with
// 1-based inclusive positions that may contain commas, into a 0-based
// half-open Region. A string that is a reference name as a whole is
// never split, so names containing colons are supported.
func ParseRegion(s string, dict Dictionary) (Region, error) {
	if s == "" {
		return Region{}, regionError(s, "empty region")
	}
	if id, err := dict.ReferenceID(s); err == nil {
		return wholeReference(dict, id, s), nil
	}
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		return Region{}, utils.NotFound("reference", s)
	}
	name, span := s[:colon], s[colon+1:]
	id, err := dict.ReferenceID(name)
	if err != nil {
		return Region{}, err
	}
	region := wholeReference(dict, id, name)
	startText, endText, hasEnd := strings.Cut(span, "-")
	start, err := parsePosition(startText, s)
	if err != nil {
		return Region{}, err
	}
	if start < 1 {
		return Region{}, regionError(s, "start %v before first position 1", start)
	}
	region.Beg = start - 1
	if hasEnd {
		end, err := parsePosition(endText, s)
		if err != nil {
			return Region{}, err
		}
		if end < start {
			return Region{}, regionError(s, "end %v before start %v", end, start)
		}
		region.End = end
	}
	return region, nil
}
