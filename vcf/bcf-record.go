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
	"math"

	"github.com/pkg/errors"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/buffer"
)

// Field is an INFO or FORMAT entry: a string dictionary id and its
// typed value.
type Field struct {
	Key int
	Value
}

// Record is a variant record. Pos is 0-based; RefLen is the length of
// the reference allele, or the span given by INFO END. An empty ID is
// written as missing.
//
// Values decoded by Unmarshal share the storage of the record, which
// is reused by the next Unmarshal. Use Copy to keep a record.
type Record struct {
	RefID    int32
	Pos      int64
	RefLen   int64
	Qual     float32
	ID       string
	Alleles  []string
	Filters  []int
	Info     []Field
	Format   []Field
	NSamples int
	raw      []byte
}

const (
	maxAlleles = math.MaxUint16
	maxInfo    = math.MaxUint16
	maxFormat  = math.MaxUint8
	maxSamples = 1<<24 - 1
)

// NewRecord returns an empty record for the samples of hdr, with
// missing quality.
func NewRecord(hdr *Header) *Record {
	return &Record{RefID: -1, Pos: -1, Qual: FloatMissing(), NSamples: len(hdr.samples)}
}

// Decode decodes the shared and per-sample parts of a record. Keys,
// filters and the number of samples are checked against hdr.
func Decode(shared, indiv []byte, hdr *Header) (*Record, error) {
	rec := new(Record)
	if err := rec.Unmarshal(shared, indiv, hdr); err != nil {
		return nil, err
	}
	return rec, nil
}

// Unmarshal is Decode into an existing record.
func (rec *Record) Unmarshal(shared, indiv []byte, hdr *Header) error {
	rec.raw = append(append(rec.raw[:0], shared...), indiv...)
	return rec.unmarshal(len(shared), hdr)
}

// unmarshal decodes rec.raw, whose first lShared bytes are the shared
// part.
func (rec *Record) unmarshal(lShared int, hdr *Header) error {
	shared, indiv := rec.raw[:lShared:lShared], rec.raw[lShared:]
	d := decoder{data: shared}
	refID := int32(d.uint32())
	pos := int32(d.uint32())
	rlen := int32(d.uint32())
	qual := d.uint32()
	nAlleleInfo := d.uint32()
	nFmtSample := d.uint32()
	if d.err != nil {
		return d.err
	}
	nAllele, nInfo := int(nAlleleInfo>>16), int(nAlleleInfo&0xffff)
	nFmt, nSample := int(nFmtSample>>24), int(nFmtSample&0xffffff)
	switch {
	case refID < -1 || int(refID) >= len(hdr.contigs):
		d.fail("contig id %v not in header", refID)
	case pos < -1:
		d.fail("invalid position %v", pos)
	case rlen < 0:
		d.fail("invalid reference length %v", rlen)
	case nSample != len(hdr.samples):
		d.fail("%v samples, header declares %v", nSample, len(hdr.samples))
	}
	if d.err != nil {
		return d.err
	}
	rec.RefID, rec.Pos, rec.RefLen = refID, int64(pos), int64(rlen)
	rec.Qual = math.Float32frombits(qual)
	rec.NSamples = nSample

	rec.ID = d.typedString()
	rec.Alleles = rec.Alleles[:0]
	for i := 0; i < nAllele; i++ {
		rec.Alleles = append(rec.Alleles, d.typedString())
	}
	rec.Filters = rec.Filters[:0]
	for _, id := range d.typedInts() {
		if e := hdr.entry(int(id)); e == nil || !e.filter {
			d.fail("undeclared FILTER id %v", id)
		}
		rec.Filters = append(rec.Filters, int(id))
	}
	rec.Info = rec.Info[:0]
	for i := 0; i < nInfo && d.err == nil; i++ {
		key := int(d.typedInt())
		v := d.value(1)
		if e := hdr.entry(key); d.err == nil && (e == nil || e.info == nil) {
			d.fail("undeclared INFO id %v", key)
		}
		rec.Info = append(rec.Info, Field{Key: key, Value: v})
	}
	if d.err == nil && d.offset != len(shared) {
		d.fail("%v bytes after the last INFO field", len(shared)-d.offset)
	}
	if d.err != nil {
		return d.err
	}

	d = decoder{data: indiv, base: int64(len(shared))}
	rec.Format = rec.Format[:0]
	for i := 0; i < nFmt && d.err == nil; i++ {
		key := int(d.typedInt())
		v := d.value(nSample)
		if e := hdr.entry(key); d.err == nil && (e == nil || e.format == nil) {
			d.fail("undeclared FORMAT id %v", key)
		}
		rec.Format = append(rec.Format, Field{Key: key, Value: v})
	}
	if d.err == nil && d.offset != len(indiv) {
		d.fail("%v bytes after the last FORMAT field", len(indiv)-d.offset)
	}
	return d.err
}

func (rec *Record) check() error {
	switch {
	case rec.NSamples < 0 || rec.NSamples > maxSamples:
		return errors.Errorf("bcf: %v samples", rec.NSamples)
	case len(rec.Alleles) > maxAlleles:
		return errors.Errorf("bcf: %v alleles", len(rec.Alleles))
	case len(rec.Info) > maxInfo:
		return errors.Errorf("bcf: %v INFO fields", len(rec.Info))
	case len(rec.Format) > maxFormat:
		return errors.Errorf("bcf: %v FORMAT fields", len(rec.Format))
	case rec.Pos < -1 || rec.Pos > math.MaxInt32:
		return errors.Errorf("bcf: position %v out of range", rec.Pos)
	case rec.RefLen < 0 || rec.RefLen > math.MaxInt32:
		return errors.Errorf("bcf: reference length %v out of range", rec.RefLen)
	}
	for _, f := range rec.Info {
		if !f.Type.valid() || len(f.Data) != f.Count*f.Type.Size() {
			return errors.Errorf("bcf: INFO id %v holds %v bytes for %v values of type %v", f.Key, len(f.Data), f.Count, f.Type)
		}
	}
	for _, f := range rec.Format {
		if !f.Type.valid() || f.Type == TypeMissing || len(f.Data) != f.Count*rec.NSamples*f.Type.Size() {
			return errors.Errorf("bcf: FORMAT id %v holds %v bytes for %v samples of %v values of type %v", f.Key, len(f.Data), rec.NSamples, f.Count, f.Type)
		}
	}
	return nil
}

// Encode appends l_shared, l_indiv and both parts of the record to
// buf.
func (rec *Record) Encode(buf *buffer.Buffer) error {
	if err := rec.check(); err != nil {
		return err
	}
	head := buf.Grow(8)
	start := buf.Len()
	buf.AppendUint32(uint32(rec.RefID))
	buf.AppendUint32(uint32(int32(rec.Pos)))
	buf.AppendUint32(uint32(rec.RefLen))
	buf.AppendUint32(math.Float32bits(rec.Qual))
	buf.AppendUint32(uint32(len(rec.Alleles))<<16 | uint32(len(rec.Info)))
	buf.AppendUint32(uint32(len(rec.Format))<<24 | uint32(rec.NSamples))
	putTypedString(buf, rec.ID)
	for _, allele := range rec.Alleles {
		putTypedString(buf, allele)
	}
	filters := make([]int32, len(rec.Filters))
	for i, id := range rec.Filters {
		filters[i] = int32(id)
	}
	putTypedInts(buf, filters)
	for _, f := range rec.Info {
		putTypedInt(buf, int32(f.Key))
		putValue(buf, f.Value)
	}
	mid := buf.Len()
	for _, f := range rec.Format {
		putTypedInt(buf, int32(f.Key))
		putValue(buf, f.Value)
	}
	buf.PutUint32(head, uint32(mid-start))
	buf.PutUint32(head+4, uint32(buf.Len()-mid))
	return nil
}

// Copy returns a deep copy that does not share storage with rec.
func (rec *Record) Copy() *Record {
	cp := *rec
	cp.raw = nil
	cp.Alleles = append([]string(nil), rec.Alleles...)
	cp.Filters = append([]int(nil), rec.Filters...)
	cp.Info = copyFields(rec.Info)
	cp.Format = copyFields(rec.Format)
	return &cp
}

func copyFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	result := make([]Field, len(fields))
	for i, f := range fields {
		f.Data = append([]byte(nil), f.Data...)
		result[i] = f
	}
	return result
}

// End returns the 0-based exclusive end of the record on the
// reference, covering at least one base.
func (rec *Record) End() int64 {
	if rec.RefLen > 0 {
		return rec.Pos + rec.RefLen
	}
	return rec.Pos + 1
}

// Overlaps reports whether the record overlaps region.
func (rec *Record) Overlaps(region index.Region) bool {
	return region.Overlaps(int(rec.RefID), rec.Pos, rec.End())
}

// SetID sets the ID column; "" and "." are missing.
func (rec *Record) SetID(id string) {
	if id == "." {
		id = ""
	}
	rec.ID = id
}

// SetAlleles sets the reference and alternate alleles, and the
// reference length to the length of the reference allele. Update END
// afterwards for symbolic alleles.
func (rec *Record) SetAlleles(alleles ...string) error {
	if len(alleles) == 0 || len(alleles) > maxAlleles {
		return errors.Errorf("bcf: %v alleles", len(alleles))
	}
	rec.Alleles = append(rec.Alleles[:0], alleles...)
	rec.RefLen = int64(len(alleles[0]))
	return nil
}

func findField(fields []Field, id int) int {
	for i := range fields {
		if fields[i].Key == id {
			return i
		}
	}
	return -1
}

// AddFilter adds a declared filter. Adding PASS removes all other
// filters, adding any other filter removes PASS.
func (rec *Record) AddFilter(hdr *Header, name string) error {
	id, _, err := hdr.lookup("FILTER", name)
	if err != nil {
		return err
	}
	if id == 0 {
		rec.Filters = append(rec.Filters[:0], 0)
		return nil
	}
	filters := rec.Filters[:0]
	for _, f := range rec.Filters {
		switch f {
		case 0:
		case id:
			return nil
		default:
			filters = append(filters, f)
		}
	}
	rec.Filters = append(filters, id)
	return nil
}

// RemoveFilter removes a declared filter, if present.
func (rec *Record) RemoveFilter(hdr *Header, name string) error {
	id, _, err := hdr.lookup("FILTER", name)
	if err != nil {
		return err
	}
	filters := rec.Filters[:0]
	for _, f := range rec.Filters {
		if f != id {
			filters = append(filters, f)
		}
	}
	rec.Filters = filters
	return nil
}

// HasFilter reports whether a filter is set. The name "." tests for
// no filter at all.
func (rec *Record) HasFilter(hdr *Header, name string) (bool, error) {
	if name == "." {
		return len(rec.Filters) == 0, nil
	}
	id, _, err := hdr.lookup("FILTER", name)
	if err != nil {
		return false, err
	}
	for _, f := range rec.Filters {
		if f == id {
			return true, nil
		}
	}
	return false, nil
}

func (rec *Record) field(fields []Field, hdr *Header, kind, key string) (*Field, error) {
	id, _, err := hdr.lookup(kind, key)
	if err != nil {
		return nil, err
	}
	if i := findField(fields, id); i >= 0 {
		return &fields[i], nil
	}
	return nil, utils.NotFound(kind+" field", key)
}

// InfoInt32 returns the values of an integer INFO field, with
// Int32Missing and Int32VectorEnd for reserved values.
func (rec *Record) InfoInt32(hdr *Header, key string) ([]int32, error) {
	f, err := rec.field(rec.Info, hdr, "INFO", key)
	if err != nil {
		return nil, err
	}
	if !f.Type.IsInt() {
		return nil, utils.TypeMismatch(key, f.Type, "integer")
	}
	return f.Int32s(), nil
}

// InfoFloat returns the values of a float INFO field.
func (rec *Record) InfoFloat(hdr *Header, key string) ([]float32, error) {
	f, err := rec.field(rec.Info, hdr, "INFO", key)
	if err != nil {
		return nil, err
	}
	if f.Type != TypeFloat {
		return nil, utils.TypeMismatch(key, f.Type, TypeFloat)
	}
	return f.Float32s(), nil
}

// InfoString returns the value of a string or character INFO field.
func (rec *Record) InfoString(hdr *Header, key string) (string, error) {
	f, err := rec.field(rec.Info, hdr, "INFO", key)
	if err != nil {
		return "", err
	}
	if f.Type != TypeChar {
		return "", utils.TypeMismatch(key, f.Type, TypeChar)
	}
	return f.Text(), nil
}

// InfoFlag reports whether a flag is set. An absent flag is not an
// error, but an undeclared one is.
func (rec *Record) InfoFlag(hdr *Header, key string) (bool, error) {
	f, err := rec.field(rec.Info, hdr, "INFO", key)
	switch {
	case errors.Is(err, utils.ErrNotFound) && hdr.hasInfo(key):
		return false, nil
	case err != nil:
		return false, err
	case f.Type == TypeFloat || f.Type == TypeChar:
		return false, utils.TypeMismatch(key, f.Type, Flag)
	}
	return true, nil
}

func (hdr *Header) hasInfo(key string) bool {
	_, err := hdr.Info(key)
	return err == nil
}

// updateInfo replaces or appends an INFO field, or removes it.
func (rec *Record) updateInfo(hdr *Header, key string, want FieldType, v Value, remove bool) error {
	id, def, err := hdr.lookup("INFO", key)
	if err != nil {
		return err
	}
	if def.Type != want && !(want == String && def.Type == Character) {
		return utils.TypeMismatch(key, def.Type, want)
	}
	i := findField(rec.Info, id)
	switch {
	case remove:
		if i >= 0 {
			rec.Info = append(rec.Info[:i], rec.Info[i+1:]...)
		}
	case i >= 0:
		rec.Info[i].Value = v
	default:
		if len(rec.Info) == maxInfo {
			return errors.Errorf("bcf: too many INFO fields")
		}
		rec.Info = append(rec.Info, Field{Key: id, Value: v})
	}
	return nil
}

// UpdateInfoInt32 sets an integer INFO field. No values remove it.
// Setting END also sets RefLen.
func (rec *Record) UpdateInfoInt32(hdr *Header, key string, values ...int32) error {
	if err := rec.updateInfo(hdr, key, Integer, IntValue(values), len(values) == 0); err != nil {
		return err
	}
	if key == "END" {
		if len(values) > 0 && values[0] > 0 && int64(values[0]) > rec.Pos {
			rec.RefLen = int64(values[0]) - rec.Pos
		} else if len(rec.Alleles) > 0 {
			rec.RefLen = int64(len(rec.Alleles[0]))
		}
	}
	return nil
}

// UpdateInfoFloat sets a float INFO field. No values remove it.
func (rec *Record) UpdateInfoFloat(hdr *Header, key string, values ...float32) error {
	return rec.updateInfo(hdr, key, Float, FloatValue(values), len(values) == 0)
}

// UpdateInfoString sets a string or character INFO field.
func (rec *Record) UpdateInfoString(hdr *Header, key, value string) error {
	return rec.updateInfo(hdr, key, String, StringValue(value), false)
}

// UpdateInfoFlag sets or clears a flag.
func (rec *Record) UpdateInfoFlag(hdr *Header, key string, set bool) error {
	return rec.updateInfo(hdr, key, Flag, FlagValue(), !set)
}

// DeleteInfo removes an INFO field. Removing END resets RefLen to
// the length of the reference allele.
func (rec *Record) DeleteInfo(hdr *Header, key string) error {
	id, _, err := hdr.lookup("INFO", key)
	if err != nil {
		return err
	}
	i := findField(rec.Info, id)
	if i < 0 {
		return utils.NotFound("INFO field", key)
	}
	rec.Info = append(rec.Info[:i], rec.Info[i+1:]...)
	if key == "END" && len(rec.Alleles) > 0 {
		rec.RefLen = int64(len(rec.Alleles[0]))
	}
	return nil
}

// FormatInt32 returns the values of an integer FORMAT field for all
// samples, len(values)/NSamples per sample.
func (rec *Record) FormatInt32(hdr *Header, key string) ([]int32, error) {
	f, err := rec.field(rec.Format, hdr, "FORMAT", key)
	if err != nil {
		return nil, err
	}
	if !f.Type.IsInt() {
		return nil, utils.TypeMismatch(key, f.Type, "integer")
	}
	return f.Int32s(), nil
}

// FormatFloat returns the values of a float FORMAT field for all
// samples.
func (rec *Record) FormatFloat(hdr *Header, key string) ([]float32, error) {
	f, err := rec.field(rec.Format, hdr, "FORMAT", key)
	if err != nil {
		return nil, err
	}
	if f.Type != TypeFloat {
		return nil, utils.TypeMismatch(key, f.Type, TypeFloat)
	}
	return f.Float32s(), nil
}

// FormatString returns one string per sample.
func (rec *Record) FormatString(hdr *Header, key string) ([]string, error) {
	f, err := rec.field(rec.Format, hdr, "FORMAT", key)
	if err != nil {
		return nil, err
	}
	if f.Type != TypeChar {
		return nil, utils.TypeMismatch(key, f.Type, TypeChar)
	}
	result := make([]string, rec.NSamples)
	for i := range result {
		result[i] = trimNUL(f.Data[i*f.Count : (i+1)*f.Count])
	}
	return result, nil
}

// updateFormat replaces or adds a FORMAT field. New GT fields go
// first.
func (rec *Record) updateFormat(hdr *Header, key string, want FieldType, v Value, remove bool) error {
	id, def, err := hdr.lookup("FORMAT", key)
	if err != nil {
		return err
	}
	if key != "GT" && def.Type != want && !(want == String && def.Type == Character) {
		return utils.TypeMismatch(key, def.Type, want)
	}
	i := findField(rec.Format, id)
	switch {
	case remove:
		if i >= 0 {
			rec.Format = append(rec.Format[:i], rec.Format[i+1:]...)
		}
	case i >= 0:
		rec.Format[i].Value = v
	case len(rec.Format) == maxFormat:
		return errors.Errorf("bcf: too many FORMAT fields")
	case key == "GT":
		rec.Format = append(rec.Format, Field{})
		copy(rec.Format[1:], rec.Format)
		rec.Format[0] = Field{Key: id, Value: v}
	default:
		rec.Format = append(rec.Format, Field{Key: id, Value: v})
	}
	return nil
}

func (rec *Record) perSample(n int) (int, error) {
	if rec.NSamples == 0 || n%rec.NSamples != 0 {
		return 0, errors.Errorf("bcf: %v values for %v samples", n, rec.NSamples)
	}
	return n / rec.NSamples, nil
}

// UpdateFormatInt32 sets an integer FORMAT field from the
// concatenated values of all samples, padded with Int32VectorEnd. No
// values remove it.
func (rec *Record) UpdateFormatInt32(hdr *Header, key string, values []int32) error {
	if len(values) == 0 {
		return rec.updateFormat(hdr, key, Integer, Value{}, true)
	}
	count, err := rec.perSample(len(values))
	if err != nil {
		return err
	}
	v := IntValue(values)
	v.Count = count
	return rec.updateFormat(hdr, key, Integer, v, false)
}

// UpdateFormatFloat sets a float FORMAT field from the concatenated
// values of all samples. No values remove it.
func (rec *Record) UpdateFormatFloat(hdr *Header, key string, values []float32) error {
	if len(values) == 0 {
		return rec.updateFormat(hdr, key, Float, Value{}, true)
	}
	count, err := rec.perSample(len(values))
	if err != nil {
		return err
	}
	v := FloatValue(values)
	v.Count = count
	return rec.updateFormat(hdr, key, Float, v, false)
}

// UpdateFormatString sets a string FORMAT field with one value per
// sample. Shorter values are padded with NUL bytes.
func (rec *Record) UpdateFormatString(hdr *Header, key string, values []string) error {
	if len(values) != rec.NSamples || rec.NSamples == 0 {
		return errors.Errorf("bcf: %v strings for %v samples", len(values), rec.NSamples)
	}
	width := 1
	for _, s := range values {
		if len(s) > width {
			width = len(s)
		}
	}
	buf := buffer.Make(width * len(values))
	for _, s := range values {
		buf.AppendString(s)
		for i := len(s); i < width; i++ {
			buf.AppendByte(0)
		}
	}
	return rec.updateFormat(hdr, key, String, Value{Type: TypeChar, Count: width, Data: buf.Bytes()}, false)
}

// UpdateGenotypes sets GT from the concatenated genotype integers of
// all samples, such as built with AllelesToGenotype. No values remove
// it.
func (rec *Record) UpdateGenotypes(hdr *Header, values []int32) error {
	return rec.UpdateFormatInt32(hdr, "GT", values)
}

// Genotypes returns the GT integers of all samples. SplitGenotypes
// separates them by sample.
func (rec *Record) Genotypes(hdr *Header) ([]int32, error) {
	return rec.FormatInt32(hdr, "GT")
}
