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

// Package nibbles packs sequences of 4-bit values two per byte, high
// nibble first, as used for the bases of BAM alignment records.
package nibbles

import "log"

// Nibbles is a view of a sequence of 4-bit values stored in a byte
// slice. The low bit of info is the offset of the first nibble in the
// first byte, the remaining bits hold the length.
type Nibbles struct {
	info  int
	bytes []byte
}

// Bases maps 4-bit base codes to their IUPAC letters.
const Bases = "=ACMGRSVTWYHKDBN"

var baseCodes [256]byte

func init() {
	for i := range baseCodes {
		baseCodes[i] = 15
	}
	for code, b := range []byte(Bases) {
		baseCodes[b] = byte(code)
		if 'A' <= b && b <= 'Z' {
			baseCodes[b+'a'-'A'] = byte(code)
		}
	}
}

// EncodeBase returns the 4-bit code of a base letter. Unknown letters
// map to N.
func EncodeBase(b byte) byte {
	return baseCodes[b]
}

// DecodeBase returns the letter for a 4-bit base code.
func DecodeBase(code byte) byte {
	return Bases[code&0xF]
}

// Len returns the number of nibbles.
func (n Nibbles) Len() int {
	return n.info >> 1
}

func (n Nibbles) offset() int {
	return n.info & 1
}

// Make allocates n zero nibbles.
func Make(n int) Nibbles {
	return Nibbles{
		info:  n << 1,
		bytes: make([]byte, (n+1)>>1),
	}
}

// ReflectMake returns a view of len nibbles stored in bytes, starting
// at the given nibble offset (0 or 1). The bytes are shared, not
// copied.
func ReflectMake(len, offset int, bytes []byte) Nibbles {
	return Nibbles{
		info:  (len << 1) | (offset & 1),
		bytes: bytes,
	}
}

// FromBases packs a string of base letters.
func FromBases(s string) Nibbles {
	n := Make(len(s))
	for i := 0; i+1 < len(s); i += 2 {
		n.bytes[i>>1] = baseCodes[s[i]]<<4 | baseCodes[s[i+1]]
	}
	if len(s)&1 == 1 {
		n.bytes[len(s)>>1] = baseCodes[s[len(s)-1]] << 4
	}
	return n
}

// Bytes returns the packed bytes. Only meaningful for offset 0 views.
func (n Nibbles) Bytes() []byte {
	return n.bytes[:(n.Len()+1)>>1]
}

// Get returns the nibble at index.
func (n Nibbles) Get(index int) byte {
	if index >= n.Len() {
		log.Panic("index out of range")
	}
	index += n.offset()
	i := index >> 1
	bit := index & 1
	return 0xF & (n.bytes[i] >> uint((1^bit)<<2))
}

// Set stores the low 4 bits of value at index.
func (n Nibbles) Set(index int, value byte) {
	if index >= n.Len() {
		log.Panic("index out of range")
	}
	index += n.offset()
	i := index >> 1
	bit := index & 1
	n.bytes[i] = ((0xF << uint(bit<<2)) & n.bytes[i]) | ((0xF & value) << uint((1^bit)<<2))
}

// String decodes the nibbles as base letters.
func (n Nibbles) String() string {
	length := n.Len()
	b := make([]byte, length)
	for i := 0; i < length; i++ {
		b[i] = Bases[n.Get(i)]
	}
	return string(b)
}
