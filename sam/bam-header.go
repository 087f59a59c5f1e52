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
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/utils"
)

// bamMagic is the magic string for the BAM format.
const bamMagic = "BAM\x01"

// Reference is an entry of the BAM sequence dictionary.
type Reference struct {
	Name   string
	Length int64
}

// Header is a BAM header: the SAM header text, kept verbatim, and the
// binary sequence dictionary that record reference ids index into.
type Header struct {
	Text       string
	References []Reference
	ids        map[string]int
}

var (
	sqSN = utils.Intern("SN")
	sqLN = utils.Intern("LN")
	hdVN = utils.Intern("VN")
	hdSO = utils.Intern("SO")
)

// NewHeader returns a header for the given references. An empty text
// gets a generated @HD line with the given sort order, and one @SQ
// line per reference.
func NewHeader(text, sortOrder string, references []Reference) *Header {
	if text == "" {
		var sb strings.Builder
		hd := utils.Fields{{Key: hdVN, Value: "1.6"}}
		if sortOrder != "" {
			hd.Set(hdSO, sortOrder)
		}
		sb.WriteString(FormatHeaderLine("@HD", hd))
		for _, ref := range references {
			sb.WriteString(FormatHeaderLine("@SQ", utils.Fields{
				{Key: sqSN, Value: ref.Name},
				{Key: sqLN, Value: strconv.FormatInt(ref.Length, 10)},
			}))
		}
		text = sb.String()
	}
	hdr := &Header{Text: text, References: references}
	hdr.index()
	return hdr
}

func (hdr *Header) index() {
	hdr.ids = make(map[string]int, len(hdr.References))
	for i, ref := range hdr.References {
		if _, dup := hdr.ids[ref.Name]; !dup {
			hdr.ids[ref.Name] = i
		}
	}
}

// ReferenceID returns the id of the named reference.
func (hdr *Header) ReferenceID(name string) (int, error) {
	if hdr.ids == nil {
		hdr.index()
	}
	if id, ok := hdr.ids[name]; ok {
		return id, nil
	}
	return -1, utils.NotFound("reference", name)
}

// ReferenceName returns the name of reference id, "*" for -1.
func (hdr *Header) ReferenceName(id int) (string, error) {
	if id == -1 {
		return "*", nil
	}
	if id < 0 || id >= len(hdr.References) {
		return "", utils.NotFound("reference id", strconv.Itoa(id))
	}
	return hdr.References[id].Name, nil
}

// ReferenceLength returns the length of reference id, or -1.
func (hdr *Header) ReferenceLength(id int) int64 {
	if id < 0 || id >= len(hdr.References) {
		return -1
	}
	return hdr.References[id].Length
}

// Lines returns the header lines with the given code, such as "@RG",
// as ordered fields.
func (hdr *Header) Lines(code string) ([]utils.Fields, error) {
	var result []utils.Fields
	for _, line := range strings.Split(hdr.Text, "\n") {
		if !strings.HasPrefix(line, code+"\t") {
			continue
		}
		fields, err := ParseHeaderLine(line[len(code)+1:])
		if err != nil {
			return nil, err
		}
		result = append(result, fields)
	}
	return result, nil
}

// SortOrder returns the SO field of the @HD line, or "unknown".
func (hdr *Header) SortOrder() string {
	if lines, err := hdr.Lines("@HD"); err == nil && len(lines) > 0 {
		if so, ok := lines[0].Get(hdSO); ok {
			return so
		}
	}
	return "unknown"
}

// ParseHeaderLine parses the tab-separated TAG:VALUE fields of a
// header line, without its record type code.
func ParseHeaderLine(line string) (utils.Fields, error) {
	var fields utils.Fields
	for _, field := range strings.Split(strings.TrimRight(line, "\r"), "\t") {
		if len(field) < 3 || field[2] != ':' {
			return nil, utils.NewFormatError("sam header", -1, "incorrectly formatted field %q", field)
		}
		key := utils.Intern(field[:2])
		if fields.Index(key) >= 0 {
			return nil, utils.NewFormatError("sam header", -1, "duplicate field tag %v in a header line", field[:2])
		}
		fields = append(fields, utils.SmallMapEntry[utils.Symbol, string]{Key: key, Value: field[3:]})
	}
	return fields, nil
}

// FormatHeaderLine formats a header line, with its newline.
func FormatHeaderLine(code string, fields utils.Fields) string {
	var sb strings.Builder
	sb.WriteString(code)
	for _, entry := range fields {
		sb.WriteByte('\t')
		sb.WriteString(*entry.Key)
		sb.WriteByte(':')
		sb.WriteString(entry.Value)
	}
	sb.WriteByte('\n')
	return sb.String()
}

// maxHeaderSize bounds l_text and l_name read from a file, so that
// corrupt lengths fail instead of exhausting memory.
const maxHeaderSize = 1 << 30

func headerError(format string, args ...interface{}) error {
	return utils.NewFormatError("bam header", -1, format, args...)
}

func headerDecodeError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return headerError("unexpected end of header")
	}
	if errors.Is(err, utils.ErrFormat) || errors.Is(err, utils.ErrTruncated) || errors.Is(err, utils.ErrIO) {
		return err
	}
	return utils.NewIOError("bam: read header", err)
}

// ReadHeader reads a BAM header from the decompressed stream r.
func ReadHeader(r io.Reader) (*Header, error) {
	d := internal.NewDecoder(r)
	magic := d.Bytes(4)
	if d.Err != nil {
		return nil, headerDecodeError(d.Err)
	}
	if string(magic) != bamMagic {
		return nil, headerError("invalid magic %q", magic)
	}
	lText := d.Int32()
	if d.Err == nil && (lText < 0 || lText > maxHeaderSize) {
		return nil, headerError("invalid text length %v", lText)
	}
	text := d.Bytes(int(lText))
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	nRef := d.Int32()
	if d.Err != nil {
		return nil, headerDecodeError(d.Err)
	}
	if nRef < 0 || nRef > maxHeaderSize {
		return nil, headerError("invalid number of references %v", nRef)
	}
	references := make([]Reference, 0, nRef)
	for i := int32(0); i < nRef; i++ {
		lName := d.Int32()
		if d.Err == nil && (lName < 1 || lName > maxHeaderSize) {
			return nil, headerError("invalid reference name length %v", lName)
		}
		name := d.Bytes(int(lName))
		lRef := d.Uint32()
		if d.Err != nil {
			return nil, headerDecodeError(d.Err)
		}
		if name[len(name)-1] != 0 {
			return nil, headerError("reference name not NUL terminated")
		}
		references = append(references, Reference{
			Name:   *utils.Intern(string(name[:len(name)-1])),
			Length: int64(lRef),
		})
	}
	hdr := &Header{Text: string(text), References: references}
	hdr.index()
	return hdr, nil
}

// AppendBAM appends the binary encoding of the header to out.
func (hdr *Header) AppendBAM(out []byte) []byte {
	out = append(out, bamMagic...)
	out = internal.AppendInt32(out, int32(len(hdr.Text)))
	out = append(out, hdr.Text...)
	out = internal.AppendInt32(out, int32(len(hdr.References)))
	for _, ref := range hdr.References {
		out = internal.AppendInt32(out, int32(len(ref.Name)+1))
		out = append(append(out, ref.Name...), 0)
		out = internal.AppendUint32(out, uint32(ref.Length))
	}
	return out
}
