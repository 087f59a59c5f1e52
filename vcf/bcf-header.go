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
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/utils"
)

// The supported VCF file format version.
const (
	FileFormatVersion           = "VCFv4.3"
	fileFormatKey               = "fileformat"
	fileFormatVersionLinePrefix = "##fileformat=VCFv4."
	bcfMagic                    = "BCF\x02\x02"
)

// DefaultHeaderColumns for VCF files.
var DefaultHeaderColumns = []string{"CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}

// FieldType is the declared type of an INFO or FORMAT key.
type FieldType uint8

// The different VCF field types.
const (
	InvalidType FieldType = iota
	Integer
	Float
	Flag
	Character
	String
)

var fieldTypeNames = [...]string{"", "Integer", "Float", "Flag", "Character", "String"}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) && t != InvalidType {
		return fieldTypeNames[t]
	}
	return "Invalid"
}

func parseFieldType(s string) FieldType {
	for i, name := range fieldTypeNames {
		if i > 0 && name == s {
			return FieldType(i)
		}
	}
	return InvalidType
}

// Constants for format information Number entries.
const (
	NumberA int32 = -1 * (1 + iota)
	NumberR
	NumberG
	NumberDot
	InvalidNumber
)

func parseNumber(s string) int32 {
	switch s {
	case "a", "A":
		return NumberA
	case "r", "R":
		return NumberR
	case "g", "G":
		return NumberG
	case ".":
		return NumberDot
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 0 {
		return InvalidNumber
	}
	return int32(n)
}

// Commonly used keys.
var (
	idKey          = utils.Intern("ID")
	numberKey      = utils.Intern("Number")
	typeKey        = utils.Intern("Type")
	descriptionKey = utils.Intern("Description")
	idxKey         = utils.Intern("IDX")
	lengthKey      = utils.Intern("length")
)

// PASS is the filter with dictionary id 0.
const PASS = "PASS"

// Definition is the declaration of an INFO or FORMAT key.
type Definition struct {
	Number      int32
	Type        FieldType
	Description string
}

// HeaderLine is a ## meta-information line. Structured lines have
// Fields, the others only a Value.
type HeaderLine struct {
	Key    string
	Value  string
	Fields utils.Fields
}

// Contig is an entry of the contig dictionary.
type Contig struct {
	Name string
	// Length is -1 when not declared.
	Length int64
}

type dictEntry struct {
	name         string
	filter       bool
	info, format *Definition
}

// Header is a VCF header: its meta-information lines, the sample
// names, and the dictionaries that BCF records refer to by integer
// id. Strings (FILTER, INFO and FORMAT ids) and contigs have separate
// dictionaries. PASS is always string 0.
type Header struct {
	Version   string
	lines     []HeaderLine
	samples   []string
	sampleIDs map[string]int
	dict      []dictEntry
	dictIDs   map[string]int
	contigs   []Contig
	contigIDs map[string]int
}

func newHeader() *Header {
	return &Header{
		Version:   FileFormatVersion,
		sampleIDs: make(map[string]int),
		dict:      []dictEntry{{name: PASS, filter: true}},
		dictIDs:   map[string]int{PASS: 0},
		contigIDs: make(map[string]int),
	}
}

// NewHeader returns a header with the PASS filter line.
func NewHeader() *Header {
	hdr := newHeader()
	_ = hdr.AddLine("FILTER", utils.MakeFields([][2]string{{"ID", PASS}, {"Description", "All filters passed"}}))
	return hdr
}

func headerError(format string, args ...interface{}) error {
	return utils.NewFormatError("vcf header", -1, format, args...)
}

// register assigns a dictionary id to name, honoring an IDX field.
func register(ids map[string]int, used func(id int) bool, n int, name string, fields utils.Fields) (id int, isNew bool, err error) {
	idx := -1
	if s, ok := fields.Get(idxKey); ok {
		i, err := strconv.Atoi(s)
		if err != nil || i < 0 {
			return 0, false, headerError("invalid IDX %q for %v", s, name)
		}
		idx = i
	}
	if id, ok := ids[name]; ok {
		if idx >= 0 && idx != id {
			return 0, false, headerError("IDX %v of %v conflicts with %v", idx, name, id)
		}
		return id, false, nil
	}
	if idx < 0 {
		idx = n
	}
	if used(idx) {
		return 0, false, headerError("IDX %v of %v already in use", idx, name)
	}
	ids[name] = idx
	return idx, true, nil
}

func (hdr *Header) dictEntry(name string, fields utils.Fields) (*dictEntry, error) {
	id, isNew, err := register(hdr.dictIDs, func(id int) bool {
		return id < len(hdr.dict) && hdr.dict[id].name != ""
	}, len(hdr.dict), name, fields)
	if err != nil {
		return nil, err
	}
	for len(hdr.dict) <= id {
		hdr.dict = append(hdr.dict, dictEntry{})
	}
	if isNew {
		hdr.dict[id].name = name
	}
	return &hdr.dict[id], nil
}

func parseDefinition(kind, id string, fields utils.Fields) (*Definition, error) {
	def := &Definition{Number: InvalidNumber}
	if s, ok := fields.Get(numberKey); ok {
		def.Number = parseNumber(s)
	}
	if def.Number == InvalidNumber {
		return nil, headerError("%v %v: missing or invalid Number", kind, id)
	}
	if s, ok := fields.Get(typeKey); ok {
		def.Type = parseFieldType(s)
	}
	if def.Type == InvalidType || (def.Type == Flag && kind == "FORMAT") {
		return nil, headerError("%v %v: missing or invalid Type", kind, id)
	}
	if def.Type == Flag && def.Number != 0 {
		return nil, headerError("%v %v: Flag with Number %v", kind, id, def.Number)
	}
	def.Description, _ = fields.Get(descriptionKey)
	return def, nil
}

// AddLine adds a structured line, such as AddLine("INFO", fields) for
// ##INFO=<...>, and updates the dictionaries. Fields must contain ID.
func (hdr *Header) AddLine(key string, fields utils.Fields) error {
	id, ok := fields.Get(idKey)
	if !ok || id == "" {
		return headerError("##%v line without ID", key)
	}
	switch key {
	case "INFO", "FORMAT":
		def, err := parseDefinition(key, id, fields)
		if err != nil {
			return err
		}
		entry, err := hdr.dictEntry(id, fields)
		if err != nil {
			return err
		}
		slot := &entry.info
		if key == "FORMAT" {
			slot = &entry.format
		}
		if *slot != nil {
			return headerError("duplicate %v definition of %v", key, id)
		}
		*slot = def
	case "FILTER":
		entry, err := hdr.dictEntry(id, fields)
		if err != nil {
			return err
		}
		if entry.filter && id != PASS {
			return headerError("duplicate FILTER definition of %v", id)
		}
		entry.filter = true
		if id == PASS {
			for _, line := range hdr.lines {
				if line.Key == "FILTER" && line.Fields != nil {
					if lid, _ := line.Fields.Get(idKey); lid == PASS {
						return nil
					}
				}
			}
		}
	case "contig":
		length := int64(-1)
		if s, ok := fields.Get(lengthKey); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n < 0 {
				return headerError("contig %v: invalid length %q", id, s)
			}
			length = n
		}
		cid, isNew, err := register(hdr.contigIDs, func(id int) bool {
			return id < len(hdr.contigs) && hdr.contigs[id].Name != ""
		}, len(hdr.contigs), id, fields)
		if err != nil {
			return err
		}
		if !isNew {
			return headerError("duplicate contig %v", id)
		}
		for len(hdr.contigs) <= cid {
			hdr.contigs = append(hdr.contigs, Contig{Length: -1})
		}
		hdr.contigs[cid] = Contig{Name: id, Length: length}
	}
	hdr.lines = append(hdr.lines, HeaderLine{Key: key, Fields: fields})
	return nil
}

// AddMeta adds an unstructured line, such as ##source=elhts. The
// fileformat line sets Version instead.
func (hdr *Header) AddMeta(key, value string) error {
	if key == "" || strings.ContainsAny(key, "=\n") || strings.Contains(value, "\n") {
		return headerError("invalid meta-information line %q=%q", key, value)
	}
	if key == fileFormatKey {
		hdr.Version = value
		return nil
	}
	hdr.lines = append(hdr.lines, HeaderLine{Key: key, Value: value})
	return nil
}

// AddContig declares a contig with a length, or -1 for none.
func (hdr *Header) AddContig(name string, length int64) error {
	fields := utils.Fields{{Key: idKey, Value: name}}
	if length >= 0 {
		fields = append(fields, utils.SmallMapEntry[utils.Symbol, string]{Key: lengthKey, Value: strconv.FormatInt(length, 10)})
	}
	return hdr.AddLine("contig", fields)
}

// AddSample appends a sample column.
func (hdr *Header) AddSample(name string) error {
	if name == "" || strings.ContainsAny(name, "\t\n") {
		return headerError("invalid sample name %q", name)
	}
	if _, dup := hdr.sampleIDs[name]; dup {
		return headerError("duplicate sample %v", name)
	}
	hdr.sampleIDs[name] = len(hdr.samples)
	hdr.samples = append(hdr.samples, name)
	return nil
}

// Samples returns the sample names in column order.
func (hdr *Header) Samples() []string {
	return hdr.samples
}

// SampleID returns the column index of a sample.
func (hdr *Header) SampleID(name string) (int, error) {
	if id, ok := hdr.sampleIDs[name]; ok {
		return id, nil
	}
	return -1, utils.NotFound("sample", name)
}

// Lines returns the structured lines with the given key.
func (hdr *Header) Lines(key string) []utils.Fields {
	var result []utils.Fields
	for _, line := range hdr.lines {
		if line.Key == key && line.Fields != nil {
			result = append(result, line.Fields)
		}
	}
	return result
}

// Meta returns the values of the unstructured lines with the given
// key.
func (hdr *Header) Meta(key string) []string {
	var result []string
	for _, line := range hdr.lines {
		if line.Key == key && line.Fields == nil {
			result = append(result, line.Value)
		}
	}
	return result
}

// KeyID returns the string dictionary id of a FILTER, INFO or FORMAT
// id.
func (hdr *Header) KeyID(name string) (int, error) {
	if id, ok := hdr.dictIDs[name]; ok {
		return id, nil
	}
	return -1, utils.NotFound("key", name)
}

// KeyName returns the name for a string dictionary id.
func (hdr *Header) KeyName(id int) (string, error) {
	if id < 0 || id >= len(hdr.dict) || hdr.dict[id].name == "" {
		return "", utils.NotFound("key id", strconv.Itoa(id))
	}
	return hdr.dict[id].name, nil
}

func (hdr *Header) entry(id int) *dictEntry {
	if id < 0 || id >= len(hdr.dict) || hdr.dict[id].name == "" {
		return nil
	}
	return &hdr.dict[id]
}

func (hdr *Header) lookup(kind, name string) (int, *Definition, error) {
	id, ok := hdr.dictIDs[name]
	if ok {
		entry := &hdr.dict[id]
		switch kind {
		case "INFO":
			if entry.info != nil {
				return id, entry.info, nil
			}
		case "FORMAT":
			if entry.format != nil {
				return id, entry.format, nil
			}
		case "FILTER":
			if entry.filter {
				return id, nil, nil
			}
		}
	}
	return -1, nil, utils.NotFound(kind+" key", name)
}

// Info returns the declaration of an INFO key.
func (hdr *Header) Info(name string) (*Definition, error) {
	_, def, err := hdr.lookup("INFO", name)
	return def, err
}

// Format returns the declaration of a FORMAT key.
func (hdr *Header) Format(name string) (*Definition, error) {
	_, def, err := hdr.lookup("FORMAT", name)
	return def, err
}

// References returns the contig dictionary.
func (hdr *Header) References() []Contig {
	return hdr.contigs
}

// ReferenceID returns the id of the named contig.
func (hdr *Header) ReferenceID(name string) (int, error) {
	if id, ok := hdr.contigIDs[name]; ok {
		return id, nil
	}
	return -1, utils.NotFound("contig", name)
}

// ReferenceName returns the name of contig id.
func (hdr *Header) ReferenceName(id int) (string, error) {
	if id < 0 || id >= len(hdr.contigs) || hdr.contigs[id].Name == "" {
		return "", utils.NotFound("contig id", strconv.Itoa(id))
	}
	return hdr.contigs[id].Name, nil
}

// ReferenceLength returns the length of contig id, or -1.
func (hdr *Header) ReferenceLength(id int) int64 {
	if id < 0 || id >= len(hdr.contigs) {
		return -1
	}
	return hdr.contigs[id].Length
}

func formatFields(sb *strings.Builder, fields utils.Fields) {
	sb.WriteByte('<')
	for i, entry := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(*entry.Key)
		sb.WriteByte('=')
		switch key := *entry.Key; {
		case key == "Description" || key == "Source" || key == "Version" || needsQuotes(entry.Value):
			FormatString(sb, entry.Value)
		default:
			sb.WriteString(entry.Value)
		}
	}
	sb.WriteByte('>')
}

// Text renders the header as VCF text, ending with the #CHROM line.
func (hdr *Header) Text() string {
	var sb strings.Builder
	sb.WriteString("##" + fileFormatKey + "=")
	sb.WriteString(hdr.Version)
	sb.WriteByte('\n')
	for _, line := range hdr.lines {
		sb.WriteString("##")
		sb.WriteString(line.Key)
		sb.WriteByte('=')
		if line.Fields != nil {
			formatFields(&sb, line.Fields)
		} else {
			sb.WriteString(line.Value)
		}
		sb.WriteByte('\n')
	}
	sb.WriteByte('#')
	sb.WriteString(strings.Join(DefaultHeaderColumns, "\t"))
	if len(hdr.samples) > 0 {
		sb.WriteString("\tFORMAT")
		for _, sample := range hdr.samples {
			sb.WriteByte('\t')
			sb.WriteString(sample)
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}

// ParseHeader parses VCF header text, from the fileformat line to
// the #CHROM line.
func ParseHeader(text string) (*Header, error) {
	lines := strings.Split(strings.TrimRight(text, "\x00\n"), "\n")
	if !strings.HasPrefix(lines[0], fileFormatVersionLinePrefix) {
		return nil, headerError("invalid first line %q", lines[0])
	}
	hdr := newHeader()
	hdr.Version = strings.TrimRight(lines[0][len("##"+fileFormatKey+"="):], "\r")
	var sc StringScanner
	for i, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "##") {
			if !strings.HasPrefix(line, "#CHROM") {
				return nil, headerError("unexpected line %q", line)
			}
			if i+2 != len(lines) {
				return nil, headerError("lines after the #CHROM line")
			}
			return hdr, hdr.parseColumns(line[1:])
		}
		sc.Reset(line[2:])
		key, found := sc.readUntilByte('=')
		if !found || key == "" {
			return nil, headerError("invalid syntax in line %q", line)
		}
		if key == fileFormatKey {
			return nil, headerError("multiple fileformat lines")
		}
		if sc.Len() > 0 && sc.data[sc.index] == '<' {
			fields := sc.ParseMetaInformation()
			if err := sc.Err(); err != nil {
				return nil, err
			}
			if err := hdr.AddLine(key, fields); err != nil {
				return nil, err
			}
		} else if err := hdr.AddMeta(key, sc.data[sc.index:]); err != nil {
			return nil, err
		}
	}
	return nil, headerError("missing #CHROM line")
}

func (hdr *Header) parseColumns(line string) error {
	columns := strings.Split(line, "\t")
	if len(columns) < len(DefaultHeaderColumns) {
		return headerError("%v header columns instead of at least %v", len(columns), len(DefaultHeaderColumns))
	}
	for i, name := range DefaultHeaderColumns {
		if columns[i] != name {
			return headerError("header column %v is %q instead of %q", i+1, columns[i], name)
		}
	}
	columns = columns[len(DefaultHeaderColumns):]
	if len(columns) == 0 {
		return nil
	}
	if columns[0] != "FORMAT" {
		return headerError("header column %q instead of FORMAT", columns[0])
	}
	for _, sample := range columns[1:] {
		if err := hdr.AddSample(sample); err != nil {
			return err
		}
	}
	return nil
}

// maxHeaderSize bounds l_text, so that a corrupt length fails instead
// of exhausting memory.
const maxHeaderSize = 1 << 30

func headerDecodeError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return headerError("unexpected end of header")
	}
	if errors.Is(err, utils.ErrFormat) || errors.Is(err, utils.ErrTruncated) || errors.Is(err, utils.ErrIO) {
		return err
	}
	return utils.NewIOError("bcf: read header", err)
}

// ReadHeader reads a BCF header from the decompressed stream r.
func ReadHeader(r io.Reader) (*Header, error) {
	d := internal.NewDecoder(r)
	magic := d.Bytes(len(bcfMagic))
	if d.Err != nil {
		return nil, headerDecodeError(d.Err)
	}
	if string(magic) != bcfMagic {
		return nil, headerError("invalid magic %q", magic)
	}
	lText := d.Uint32()
	if d.Err == nil && lText > maxHeaderSize {
		return nil, headerError("invalid text length %v", lText)
	}
	text := d.Bytes(int(lText))
	if d.Err != nil {
		return nil, headerDecodeError(d.Err)
	}
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return ParseHeader(string(text))
}

// AppendBCF appends the binary encoding of the header to out.
func (hdr *Header) AppendBCF(out []byte) []byte {
	text := hdr.Text()
	out = append(out, bcfMagic...)
	out = internal.AppendUint32(out, uint32(len(text)+1))
	out = append(out, text...)
	return append(out, 0)
}
