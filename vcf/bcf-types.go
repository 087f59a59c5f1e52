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
	"encoding/binary"
	"math"

	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/buffer"
)

// Type is the type of a typed value in a BCF record.
type Type uint8

// The BCF value types. A typed value with TypeMissing and no elements
// encodes a flag.
const (
	TypeMissing Type = 0
	TypeInt8    Type = 1
	TypeInt16   Type = 2
	TypeInt32   Type = 3
	TypeFloat   Type = 5
	TypeChar    Type = 7
)

var typeSizes = [8]int{TypeInt8: 1, TypeInt16: 2, TypeInt32: 4, TypeFloat: 4, TypeChar: 1}

// Size returns the size of one element in bytes.
func (t Type) Size() int {
	if int(t) >= len(typeSizes) {
		return 0
	}
	return typeSizes[t]
}

// IsInt reports whether t is one of the integer types.
func (t Type) IsInt() bool {
	return t == TypeInt8 || t == TypeInt16 || t == TypeInt32
}

func (t Type) valid() bool {
	return t == TypeMissing || t.Size() > 0
}

func (t Type) String() string {
	switch t {
	case TypeMissing:
		return "missing"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeFloat:
		return "float"
	case TypeChar:
		return "char"
	default:
		return "invalid"
	}
}

// Reserved integer values. Integers are handled as int32 at the API,
// and narrower encodings map their own reserved values onto these.
const (
	Int8Missing     = math.MinInt8
	Int8VectorEnd   = math.MinInt8 + 1
	Int16Missing    = math.MinInt16
	Int16VectorEnd  = math.MinInt16 + 1
	Int32Missing    = math.MinInt32
	Int32VectorEnd  = math.MinInt32 + 1
	int8MinValue    = math.MinInt8 + 8
	int16MinValue   = math.MinInt16 + 8
	floatMissing    = 0x7F800001
	floatVectorEnd  = 0x7F800002
	maxInlineCount  = 15
	maxSharedFields = math.MaxUint16
)

// FloatMissing returns the float with the missing bit pattern. It is
// a NaN, so use IsFloatMissing to test for it.
func FloatMissing() float32 { return math.Float32frombits(floatMissing) }

// FloatVectorEnd returns the float with the end-of-vector bit pattern.
func FloatVectorEnd() float32 { return math.Float32frombits(floatVectorEnd) }

// IsFloatMissing compares the exact bit pattern of f.
func IsFloatMissing(f float32) bool { return math.Float32bits(f) == floatMissing }

// IsFloatVectorEnd compares the exact bit pattern of f.
func IsFloatVectorEnd(f float32) bool { return math.Float32bits(f) == floatVectorEnd }

// IntType returns the narrowest integer type that holds all values.
// Reserved values fit every type.
func IntType(values []int32) Type {
	t := TypeInt8
	for _, v := range values {
		if v == Int32Missing || v == Int32VectorEnd {
			continue
		}
		switch {
		case v < int16MinValue || v > math.MaxInt16:
			return TypeInt32
		case v < int8MinValue || v > math.MaxInt8:
			t = TypeInt16
		}
	}
	return t
}

// Value is a typed vector as stored in a record. INFO values hold
// Count elements; FORMAT values hold Count elements per sample.
// Integers keep their encoded width; use the accessors to convert.
type Value struct {
	Type  Type
	Count int
	Data  []byte
}

// IntValue encodes values with the narrowest integer type.
func IntValue(values []int32) Value {
	t := IntType(values)
	buf := buffer.Make(len(values) * t.Size())
	putInts(&buf, t, values)
	return Value{Type: t, Count: len(values), Data: buf.Bytes()}
}

// FloatValue encodes values as floats, keeping their bit patterns.
func FloatValue(values []float32) Value {
	buf := buffer.Make(4 * len(values))
	for _, f := range values {
		buf.AppendUint32(math.Float32bits(f))
	}
	return Value{Type: TypeFloat, Count: len(values), Data: buf.Bytes()}
}

// StringValue encodes s as characters.
func StringValue(s string) Value {
	return Value{Type: TypeChar, Count: len(s), Data: []byte(s)}
}

// FlagValue is the value of a set INFO flag.
func FlagValue() Value {
	return Value{Type: TypeMissing}
}

// Len returns the total number of elements.
func (v Value) Len() int {
	if size := v.Type.Size(); size > 0 {
		return len(v.Data) / size
	}
	return 0
}

// Int32s converts integer elements to int32, mapping reserved values.
// It returns nil for other types.
func (v Value) Int32s() []int32 {
	if !v.Type.IsInt() {
		return nil
	}
	n := v.Len()
	result := make([]int32, n)
	for i := range result {
		result[i] = v.int32At(i)
	}
	return result
}

func (v Value) int32At(i int) int32 {
	switch v.Type {
	case TypeInt8:
		switch x := int8(v.Data[i]); x {
		case Int8Missing:
			return Int32Missing
		case Int8VectorEnd:
			return Int32VectorEnd
		default:
			return int32(x)
		}
	case TypeInt16:
		switch x := int16(binary.LittleEndian.Uint16(v.Data[2*i:])); x {
		case Int16Missing:
			return Int32Missing
		case Int16VectorEnd:
			return Int32VectorEnd
		default:
			return int32(x)
		}
	default:
		return int32(binary.LittleEndian.Uint32(v.Data[4*i:]))
	}
}

// Float32s returns float elements, or nil for other types.
func (v Value) Float32s() []float32 {
	if v.Type != TypeFloat {
		return nil
	}
	result := make([]float32, v.Len())
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(v.Data[4*i:]))
	}
	return result
}

// Text returns character data up to the first NUL.
func (v Value) Text() string {
	return trimNUL(v.Data)
}

func trimNUL(p []byte) string {
	for i, c := range p {
		if c == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}

func putInts(buf *buffer.Buffer, t Type, values []int32) {
	switch t {
	case TypeInt8:
		for _, v := range values {
			switch v {
			case Int32Missing:
				v = Int8Missing
			case Int32VectorEnd:
				v = Int8VectorEnd
			}
			buf.AppendByte(byte(int8(v)))
		}
	case TypeInt16:
		for _, v := range values {
			switch v {
			case Int32Missing:
				v = Int16Missing
			case Int32VectorEnd:
				v = Int16VectorEnd
			}
			buf.AppendUint16(uint16(int16(v)))
		}
	default:
		for _, v := range values {
			buf.AppendUint32(uint32(v))
		}
	}
}

// putDescriptor appends the type byte of a typed value, followed by a
// typed integer count when it does not fit the type byte.
func putDescriptor(buf *buffer.Buffer, count int, t Type) {
	if count < maxInlineCount {
		buf.AppendByte(byte(count<<4) | byte(t))
		return
	}
	buf.AppendByte(maxInlineCount<<4 | byte(t))
	putTypedInt(buf, int32(count))
}

func putTypedInt(buf *buffer.Buffer, v int32) {
	values := [1]int32{v}
	t := IntType(values[:])
	buf.AppendByte(1<<4 | byte(t))
	putInts(buf, t, values[:])
}

func putTypedInts(buf *buffer.Buffer, values []int32) {
	if len(values) == 0 {
		putDescriptor(buf, 0, TypeMissing)
		return
	}
	t := IntType(values)
	putDescriptor(buf, len(values), t)
	putInts(buf, t, values)
}

func putTypedString(buf *buffer.Buffer, s string) {
	putDescriptor(buf, len(s), TypeChar)
	buf.AppendString(s)
}

func putValue(buf *buffer.Buffer, v Value) {
	putDescriptor(buf, v.Count, v.Type)
	buf.Append(v.Data)
}

// decoder reads typed values from a record buffer. The first error
// sticks.
type decoder struct {
	data   []byte
	offset int
	base   int64
	err    error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = utils.NewFormatError("bcf", d.base+int64(d.offset), format, args...)
	}
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.data)-d.offset {
		d.fail("%v bytes needed, %v left", n, len(d.data)-d.offset)
		return nil
	}
	p := d.data[d.offset : d.offset+n : d.offset+n]
	d.offset += n
	return p
}

func (d *decoder) uint32() uint32 {
	if p := d.bytes(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (d *decoder) descriptor() (Type, int) {
	p := d.bytes(1)
	if p == nil {
		return TypeMissing, 0
	}
	t, count := Type(p[0]&0xF), int(p[0]>>4)
	if !t.valid() {
		d.fail("invalid value type %v", p[0]&0xF)
		return TypeMissing, 0
	}
	if count == maxInlineCount {
		n := d.typedInt()
		if n < 0 {
			d.fail("negative value count %v", n)
			return TypeMissing, 0
		}
		count = int(n)
	}
	return t, count
}

// typedInt reads a typed value holding one integer.
func (d *decoder) typedInt() int32 {
	p := d.bytes(1)
	if p == nil {
		return 0
	}
	t, count := Type(p[0]&0xF), int(p[0]>>4)
	if !t.IsInt() || count != 1 {
		d.fail("expected a typed integer, found %v of %v", count, t)
		return 0
	}
	data := d.bytes(t.Size())
	if data == nil {
		return 0
	}
	return Value{Type: t, Count: 1, Data: data}.int32At(0)
}

// value reads a typed value of count elements per sample.
func (d *decoder) value(samples int) Value {
	t, count := d.descriptor()
	if d.err != nil {
		return Value{}
	}
	size := int64(count) * int64(samples) * int64(t.Size())
	if size > int64(len(d.data)-d.offset) {
		d.fail("value of %v bytes exceeds record", size)
		return Value{}
	}
	return Value{Type: t, Count: count, Data: d.bytes(int(size))}
}

func (d *decoder) typedString() string {
	v := d.value(1)
	if v.Type != TypeChar && (v.Type != TypeMissing || v.Count != 0) {
		d.fail("expected a typed string, found %v", v.Type)
	}
	return v.Text()
}

func (d *decoder) typedInts() []int32 {
	v := d.value(1)
	if v.Count > 0 && !v.Type.IsInt() {
		d.fail("expected typed integers, found %v", v.Type)
		return nil
	}
	return v.Int32s()
}
