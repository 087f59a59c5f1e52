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
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/utils"
)

// Tag is the two-character key of an auxiliary field.
type Tag [2]byte

// NewTag converts a two-character string to a Tag.
func NewTag(s string) (Tag, error) {
	if len(s) != 2 {
		return Tag{}, errors.Errorf("invalid aux tag %q", s)
	}
	return Tag{s[0], s[1]}, nil
}

func (t Tag) String() string { return string(t[:]) }

// ByteArray is the value of an H (hex) field.
type ByteArray []byte

// Aux is a view of one auxiliary field of a record: the tag, the type
// character, and the value.
type Aux []byte

func (a Aux) Tag() Tag   { return Tag{a[0], a[1]} }
func (a Aux) Type() byte { return a[2] }

func (a Aux) value() []byte { return a[3:] }

func (a Aux) mismatch(requested string) error {
	return utils.TypeMismatch(a.Tag().String(), string(a.Type()), requested)
}

// Int returns the value of a c, C, s, S, i or I field.
func (a Aux) Int() (int64, error) {
	v := a.value()
	switch a.Type() {
	case 'c':
		return int64(int8(v[0])), nil
	case 'C':
		return int64(v[0]), nil
	case 's':
		return int64(int16(binary.LittleEndian.Uint16(v))), nil
	case 'S':
		return int64(binary.LittleEndian.Uint16(v)), nil
	case 'i':
		return int64(int32(binary.LittleEndian.Uint32(v))), nil
	case 'I':
		return int64(binary.LittleEndian.Uint32(v)), nil
	default:
		return 0, a.mismatch("integer")
	}
}

// Float returns the value of an f field.
func (a Aux) Float() (float64, error) {
	if a.Type() != 'f' {
		return 0, a.mismatch("float")
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(a.value()))), nil
}

// Text returns the value of a Z or H field, without the NUL.
func (a Aux) Text() (string, error) {
	switch a.Type() {
	case 'Z', 'H':
		v := a.value()
		return string(v[:len(v)-1]), nil
	default:
		return "", a.mismatch("string")
	}
}

// Char returns the value of an A field.
func (a Aux) Char() (byte, error) {
	if a.Type() != 'A' {
		return 0, a.mismatch("character")
	}
	return a.value()[0], nil
}

// Array returns a view of the value of a B field.
func (a Aux) Array() (AuxArray, error) {
	if a.Type() != 'B' {
		return AuxArray{}, a.mismatch("array")
	}
	v := a.value()
	return AuxArray{
		subtype: v[0],
		n:       int(binary.LittleEndian.Uint32(v[1:5])),
		data:    v[5:],
	}, nil
}

// AuxArray is a view of a B field value.
type AuxArray struct {
	subtype byte
	n       int
	data    []byte
}

// Subtype is one of cCsSiIf.
func (a AuxArray) Subtype() byte { return a.subtype }
func (a AuxArray) Len() int      { return a.n }

// Int returns element i of an integer array, or the truncated value
// of a float array.
func (a AuxArray) Int(i int) int64 {
	switch a.subtype {
	case 'c':
		return int64(int8(a.data[i]))
	case 'C':
		return int64(a.data[i])
	case 's':
		return int64(int16(binary.LittleEndian.Uint16(a.data[i<<1:])))
	case 'S':
		return int64(binary.LittleEndian.Uint16(a.data[i<<1:]))
	case 'i':
		return int64(int32(binary.LittleEndian.Uint32(a.data[i<<2:])))
	case 'I':
		return int64(binary.LittleEndian.Uint32(a.data[i<<2:]))
	default:
		return int64(a.Float(i))
	}
}

// Float returns element i as a float.
func (a AuxArray) Float(i int) float64 {
	if a.subtype == 'f' {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(a.data[i<<2:])))
	}
	return float64(a.Int(i))
}

func auxElementSize(subtype byte) int {
	switch subtype {
	case 'c', 'C':
		return 1
	case 's', 'S':
		return 2
	case 'i', 'I', 'f':
		return 4
	default:
		return 0
	}
}

// Value returns the value as a byte (A), int64 (cCsSiI), float32 (f),
// string (Z), ByteArray (H), or a []int8, []uint8, []int16,
// []uint16, []int32, []uint32 or []float32 (B).
func (a Aux) Value() interface{} {
	v := a.value()
	switch a.Type() {
	case 'A':
		return v[0]
	case 'f':
		return math.Float32frombits(binary.LittleEndian.Uint32(v))
	case 'Z':
		return string(v[:len(v)-1])
	case 'H':
		result, err := hex.DecodeString(string(v[:len(v)-1]))
		if err != nil {
			return string(v[:len(v)-1])
		}
		return ByteArray(result)
	case 'B':
		arr, _ := a.Array()
		return arr.Value()
	default:
		i, _ := a.Int()
		return i
	}
}

// Value copies the array into a typed slice.
func (a AuxArray) Value() interface{} {
	switch a.subtype {
	case 'c':
		result := make([]int8, a.n)
		for i := range result {
			result[i] = int8(a.data[i])
		}
		return result
	case 'C':
		return append([]uint8(nil), a.data[:a.n]...)
	case 's':
		result := make([]int16, a.n)
		for i := range result {
			result[i] = int16(a.Int(i))
		}
		return result
	case 'S':
		result := make([]uint16, a.n)
		for i := range result {
			result[i] = uint16(a.Int(i))
		}
		return result
	case 'i':
		result := make([]int32, a.n)
		for i := range result {
			result[i] = int32(a.Int(i))
		}
		return result
	case 'I':
		result := make([]uint32, a.n)
		for i := range result {
			result[i] = uint32(a.Int(i))
		}
		return result
	default:
		result := make([]float32, a.n)
		for i := range result {
			result[i] = float32(a.Float(i))
		}
		return result
	}
}

// String formats the field as in SAM text, e.g. "NM:i:1".
func (a Aux) String() string {
	return string(a.appendSAM(nil))
}

func (a Aux) appendSAM(out []byte) []byte {
	out = append(out, a[0], a[1], ':')
	v := a.value()
	switch t := a.Type(); t {
	case 'A':
		out = append(out, "A:"...)
		out = append(out, v[0])
	case 'f':
		f, _ := a.Float()
		out = append(out, "f:"...)
		out = strconv.AppendFloat(out, f, 'g', -1, 32)
	case 'Z', 'H':
		out = append(out, t, ':')
		out = append(out, v[:len(v)-1]...)
	case 'B':
		arr, _ := a.Array()
		out = append(out, "B:"...)
		out = append(out, arr.subtype)
		for i := 0; i < arr.n; i++ {
			out = append(out, ',')
			if arr.subtype == 'f' {
				out = strconv.AppendFloat(out, arr.Float(i), 'g', -1, 32)
			} else {
				out = strconv.AppendInt(out, arr.Int(i), 10)
			}
		}
	default:
		i, _ := a.Int()
		out = append(out, "i:"...)
		out = strconv.AppendInt(out, i, 10)
	}
	return out
}

// auxSize returns the size of the field at the start of data.
func auxSize(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, errors.New("aux field shorter than tag and type")
	}
	size := 3
	switch t := data[2]; t {
	case 'A', 'c', 'C':
		size++
	case 's', 'S':
		size += 2
	case 'i', 'I', 'f':
		size += 4
	case 'Z', 'H':
		for i := 3; i < len(data); i++ {
			if data[i] == 0 {
				return i + 1, nil
			}
		}
		return 0, errors.Errorf("aux field %v: missing NUL", Tag{data[0], data[1]})
	case 'B':
		if len(data) < 8 {
			return 0, errors.Errorf("aux field %v: truncated array header", Tag{data[0], data[1]})
		}
		elem := auxElementSize(data[3])
		if elem == 0 {
			return 0, errors.Errorf("aux field %v: invalid array subtype %q", Tag{data[0], data[1]}, data[3])
		}
		n := int64(binary.LittleEndian.Uint32(data[4:8]))
		if 8+n*int64(elem) > int64(len(data)) {
			return 0, errors.Errorf("aux field %v: array exceeds record", Tag{data[0], data[1]})
		}
		size = 8 + int(n)*elem
	default:
		return 0, errors.Errorf("aux field %v: invalid type %q", Tag{data[0], data[1]}, t)
	}
	if size > len(data) {
		return 0, errors.Errorf("aux field %v: value exceeds record", Tag{data[0], data[1]})
	}
	return size, nil
}

// AuxIter scans the auxiliary fields of a record in order.
type AuxIter struct {
	data   []byte
	offset int
	base   int
	aux    Aux
	err    error
}

// Next advances to the next field and reports whether there is one.
func (it *AuxIter) Next() bool {
	if it.err != nil || it.offset >= len(it.data) {
		return false
	}
	size, err := auxSize(it.data[it.offset:])
	if err != nil {
		it.err = utils.NewFormatError("bam", int64(it.base+it.offset), "%v", err)
		return false
	}
	it.aux = Aux(it.data[it.offset : it.offset+size : it.offset+size])
	it.offset += size
	return true
}

// Aux returns the current field.
func (it *AuxIter) Aux() Aux { return it.aux }

// Err returns the error that stopped the iteration, if any.
func (it *AuxIter) Err() error { return it.err }

// appendAux appends the binary encoding of a field, dispatching on
// the type of value. Integers get the narrowest type that holds them.
// Accepted types: byte (A); int, int32, int64, uint32 (cCsSiI);
// float32, float64 (f); string (Z); ByteArray (H); []int8, []uint8,
// []int16, []uint16, []int32, []uint32, []float32 (B).
func appendAux(out []byte, tag Tag, value interface{}) ([]byte, error) {
	out = append(out, tag[0], tag[1])
	switch val := value.(type) {
	case byte:
		return append(out, 'A', val), nil
	case int:
		return appendAuxInt(out, tag, int64(val))
	case int32:
		return appendAuxInt(out, tag, int64(val))
	case uint32:
		return appendAuxInt(out, tag, int64(val))
	case int64:
		return appendAuxInt(out, tag, val)
	case float32:
		return internal.AppendUint32(append(out, 'f'), math.Float32bits(val)), nil
	case float64:
		return internal.AppendUint32(append(out, 'f'), math.Float32bits(float32(val))), nil
	case string:
		for i := 0; i < len(val); i++ {
			if val[i] == 0 {
				return nil, errors.Errorf("aux field %v: string contains NUL", tag)
			}
		}
		out = append(append(out, 'Z'), val...)
		return append(out, 0), nil
	case ByteArray:
		out = append(out, 'H')
		out = append(out, hexUpper(val)...)
		return append(out, 0), nil
	case []int8:
		out = appendArrayHeader(out, 'c', len(val))
		for _, v := range val {
			out = append(out, byte(v))
		}
		return out, nil
	case []uint8:
		out = appendArrayHeader(out, 'C', len(val))
		return append(out, val...), nil
	case []int16:
		out = appendArrayHeader(out, 's', len(val))
		for _, v := range val {
			out = internal.AppendUint16(out, uint16(v))
		}
		return out, nil
	case []uint16:
		out = appendArrayHeader(out, 'S', len(val))
		for _, v := range val {
			out = internal.AppendUint16(out, v)
		}
		return out, nil
	case []int32:
		out = appendArrayHeader(out, 'i', len(val))
		for _, v := range val {
			out = internal.AppendInt32(out, v)
		}
		return out, nil
	case []uint32:
		out = appendArrayHeader(out, 'I', len(val))
		for _, v := range val {
			out = internal.AppendUint32(out, v)
		}
		return out, nil
	case []float32:
		out = appendArrayHeader(out, 'f', len(val))
		for _, v := range val {
			out = internal.AppendUint32(out, math.Float32bits(v))
		}
		return out, nil
	default:
		return nil, errors.Errorf("aux field %v: unsupported value type %T", tag, value)
	}
}

func appendAuxInt(out []byte, tag Tag, val int64) ([]byte, error) {
	if val < 0 {
		switch {
		case val >= math.MinInt8:
			return append(out, 'c', byte(int8(val))), nil
		case val >= math.MinInt16:
			return internal.AppendUint16(append(out, 's'), uint16(val)), nil
		case val >= math.MinInt32:
			return internal.AppendUint32(append(out, 'i'), uint32(val)), nil
		}
		return nil, errors.Errorf("aux field %v: integer %v too small", tag, val)
	}
	switch {
	case val <= math.MaxUint8:
		return append(out, 'C', uint8(val)), nil
	case val <= math.MaxUint16:
		return internal.AppendUint16(append(out, 'S'), uint16(val)), nil
	case val <= math.MaxUint32:
		return internal.AppendUint32(append(out, 'I'), uint32(val)), nil
	}
	return nil, errors.Errorf("aux field %v: integer %v too large", tag, val)
}

func appendArrayHeader(out []byte, subtype byte, n int) []byte {
	return internal.AppendUint32(append(out, 'B', subtype), uint32(n))
}

func hexUpper(p []byte) []byte {
	const digits = "0123456789ABCDEF"
	result := make([]byte, 0, 2*len(p))
	for _, b := range p {
		result = append(result, digits[b>>4], digits[b&0xF])
	}
	return result
}
