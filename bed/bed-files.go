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

// Package bed reads region lists from BED files. See
// https://genome.ucsc.edu/FAQ/FAQformat.html#format1
package bed

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

// Optional BED fields that are validated. The others are ignored.
const (
	brName = iota
	brScore
	brStrand
)

func checkOptionalFields(fields []string) string {
	for i, val := range fields {
		switch i {
		case brScore:
			if score, err := strconv.Atoi(val); err != nil || score < 0 || score > 1000 {
				return "invalid score field " + val
			}
		case brStrand:
			if val != "+" && val != "-" && val != "." {
				return "invalid strand field " + val
			}
		}
	}
	return ""
}

// Parse reads BED lines from a plain, gzip or BGZF compressed reader.
// Header, track and browser lines are skipped. BED coordinates are
// 0-based and half-open, like index.Region. Reference names are
// resolved through dict.
func Parse(source string, r *bufio.Reader, dict index.Dictionary, workers int) ([]index.Region, error) {
	in, _, err := bgzf.NewAnyReader(r, workers)
	if err != nil {
		return nil, err
	}
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}
	var regions []index.Region
	var offset int64
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		lineOffset := offset
		offset += int64(len(line)) + 1
		if line == "" ||
			strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "track") ||
			strings.HasPrefix(line, "browser") {
			continue
		}
		data := strings.Fields(line)
		if len(data) < 3 {
			return nil, utils.NewFormatError(source, lineOffset, "BED line with %v fields", len(data))
		}
		refID, err := dict.ReferenceID(data[0])
		if err != nil {
			return nil, err
		}
		beg, err := strconv.ParseInt(data[1], 10, 64)
		if err != nil || beg < 0 {
			return nil, utils.NewFormatError(source, lineOffset, "invalid start %q", data[1])
		}
		end, err := strconv.ParseInt(data[2], 10, 64)
		if err != nil || end < beg {
			return nil, utils.NewFormatError(source, lineOffset, "invalid end %q", data[2])
		}
		if msg := checkOptionalFields(data[3:]); msg != "" {
			return nil, utils.NewFormatError(source, lineOffset, "%v", msg)
		}
		regions = append(regions, index.Region{RefID: refID, Name: data[0], Beg: beg, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, utils.NewIOError(source, err)
	}
	return regions, nil
}

// ReadFile is Parse on a named file.
func ReadFile(name string, dict index.Dictionary, workers int) (regions []index.Region, err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, utils.NewIOError("open BED file", err)
	}
	defer func() {
		if nerr := f.Close(); err == nil && nerr != nil {
			err = utils.NewIOError("close BED file", nerr)
		}
	}()
	return Parse(name, bufio.NewReader(f), dict, workers)
}
