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
	"bufio"
	"strconv"
)

// AppendSAM appends the SAM text line of rec, with its newline, to
// out. Reference ids are resolved through hdr.
func (rec *Record) AppendSAM(out []byte, hdr *Header) ([]byte, error) {
	rname, err := hdr.ReferenceName(int(rec.RefID()))
	if err != nil {
		return nil, err
	}
	rnext, err := hdr.ReferenceName(int(rec.NextRefID()))
	if err != nil {
		return nil, err
	}
	if rnext == rname && rname != "*" {
		rnext = "="
	}
	out = append(append(out, rec.Name()...), '\t')
	out = append(strconv.AppendUint(out, uint64(rec.Flag()), 10), '\t')
	out = append(append(out, rname...), '\t')
	out = append(strconv.AppendInt(out, rec.Pos()+1, 10), '\t')
	out = append(strconv.AppendUint(out, uint64(rec.MapQ()), 10), '\t')
	out = append(append(out, rec.Cigar().String()...), '\t')
	out = append(append(out, rnext...), '\t')
	out = append(strconv.AppendInt(out, rec.NextPos()+1, 10), '\t')
	out = append(strconv.AppendInt(out, rec.TLen(), 10), '\t')
	if rec.SeqLen() == 0 {
		out = append(out, '*')
	} else {
		out = append(out, rec.Seq().String()...)
	}
	out = append(out, '\t')
	if qual := rec.Qual(); len(qual) == 0 || qual[0] == 0xff {
		out = append(out, '*')
	} else {
		for _, q := range qual {
			out = append(out, q+33)
		}
	}
	it := rec.AuxIter()
	for it.Next() {
		out = it.Aux().appendSAM(append(out, '\t'))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// FormatSAM writes the header text, adding a final newline when
// missing.
func (hdr *Header) FormatSAM(out *bufio.Writer) error {
	if _, err := out.WriteString(hdr.Text); err != nil {
		return err
	}
	if n := len(hdr.Text); n > 0 && hdr.Text[n-1] != '\n' {
		return out.WriteByte('\n')
	}
	return nil
}
