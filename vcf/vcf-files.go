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
	"bufio"
	"encoding/binary"
	"math"
	"strconv"
)

func appendFloat(out []byte, f float32) []byte {
	if IsFloatMissing(f) {
		return append(out, '.')
	}
	return strconv.AppendFloat(out, float64(f), 'g', -1, 32)
}

// appendValues formats the elements [from, from+n) of v, stopping at
// the end of the vector. An empty vector is ".".
func appendValues(out []byte, v Value, from, n int) []byte {
	start := len(out)
	switch {
	case v.Type == TypeChar:
		out = append(out, trimNUL(v.Data[from:from+n])...)
	case v.Type.IsInt():
		for i := from; i < from+n; i++ {
			x := v.int32At(i)
			if x == Int32VectorEnd {
				break
			}
			if i > from {
				out = append(out, ',')
			}
			if x == Int32Missing {
				out = append(out, '.')
			} else {
				out = strconv.AppendInt(out, int64(x), 10)
			}
		}
	case v.Type == TypeFloat:
		for i := from; i < from+n; i++ {
			f := math.Float32frombits(binary.LittleEndian.Uint32(v.Data[4*i:]))
			if IsFloatVectorEnd(f) {
				break
			}
			if i > from {
				out = append(out, ',')
			}
			out = appendFloat(out, f)
		}
	}
	if len(out) == start {
		out = append(out, '.')
	}
	return out
}

func appendKey(out []byte, hdr *Header, id int) ([]byte, error) {
	name, err := hdr.KeyName(id)
	if err != nil {
		return nil, err
	}
	return append(out, name...), nil
}

// AppendVCF appends the VCF text line of rec, with its newline, to
// out. Ids are resolved through hdr.
func (rec *Record) AppendVCF(out []byte, hdr *Header) ([]byte, error) {
	chrom, err := hdr.ReferenceName(int(rec.RefID))
	if err != nil {
		return nil, err
	}
	out = append(append(out, chrom...), '\t')
	out = append(strconv.AppendInt(out, rec.Pos+1, 10), '\t')
	if rec.ID == "" {
		out = append(out, '.')
	} else {
		out = append(out, rec.ID...)
	}
	out = append(out, '\t')
	if len(rec.Alleles) == 0 {
		out = append(out, ".\t."...)
	} else {
		out = append(out, rec.Alleles[0]...)
		out = append(out, '\t')
		if len(rec.Alleles) == 1 {
			out = append(out, '.')
		}
		for i, alt := range rec.Alleles[1:] {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, alt...)
		}
	}
	out = append(appendFloat(append(out, '\t'), rec.Qual), '\t')
	if len(rec.Filters) == 0 {
		out = append(out, '.')
	}
	for i, id := range rec.Filters {
		if i > 0 {
			out = append(out, ';')
		}
		if out, err = appendKey(out, hdr, id); err != nil {
			return nil, err
		}
	}
	out = append(out, '\t')
	if len(rec.Info) == 0 {
		out = append(out, '.')
	}
	for i, f := range rec.Info {
		if i > 0 {
			out = append(out, ';')
		}
		if out, err = appendKey(out, hdr, f.Key); err != nil {
			return nil, err
		}
		if f.Count > 0 && f.Type != TypeMissing {
			out = appendValues(append(out, '='), f.Value, 0, f.Count)
		}
	}
	if rec.NSamples > 0 && len(rec.Format) > 0 {
		out = append(out, '\t')
		gt := -1
		for i, f := range rec.Format {
			if i > 0 {
				out = append(out, ':')
			}
			if out, err = appendKey(out, hdr, f.Key); err != nil {
				return nil, err
			}
			if name, _ := hdr.KeyName(f.Key); name == "GT" && f.Type.IsInt() {
				gt = i
			}
		}
		for s := 0; s < rec.NSamples; s++ {
			out = append(out, '\t')
			for i, f := range rec.Format {
				if i > 0 {
					out = append(out, ':')
				}
				if i == gt {
					g := make(Genotype, f.Count)
					for j := range g {
						g[j] = f.int32At(s*f.Count + j)
					}
					out = append(out, g.String()...)
				} else {
					out = appendValues(out, f.Value, s*f.Count, f.Count)
				}
			}
		}
	}
	return append(out, '\n'), nil
}

// FormatVCF writes the header text.
func (hdr *Header) FormatVCF(out *bufio.Writer) error {
	_, err := out.WriteString(hdr.Text())
	return err
}
