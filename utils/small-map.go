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

package utils

// SmallMapEntry is one key/value pair of a SmallMap.
type SmallMapEntry[K comparable, V any] struct {
	Key   K
	Value V
}

// A SmallMap is an ordered list of key/value pairs with unique keys.
// Lookups are linear, which is faster than a Go map for the handful
// of entries found in header lines and record fields. Entries keep
// the order in which their keys were first set.
type SmallMap[K comparable, V any] []SmallMapEntry[K, V]

// Get returns the value for key.
func (m SmallMap[K, V]) Get(key K) (value V, ok bool) {
	for _, entry := range m {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return value, false
}

// Index returns the position of key, or -1.
func (m SmallMap[K, V]) Index(key K) int {
	for index, entry := range m {
		if entry.Key == key {
			return index
		}
	}
	return -1
}

// Set replaces the value of an existing key in place, or appends a
// new entry.
func (m *SmallMap[K, V]) Set(key K, value V) {
	for index := range *m {
		if (*m)[index].Key == key {
			(*m)[index].Value = value
			return
		}
	}
	*m = append(*m, SmallMapEntry[K, V]{key, value})
}

// Fields is the ordered key/value list of a structured header line,
// such as ID=DP,Number=1,Type=Integer.
type Fields = SmallMap[Symbol, string]

// MakeFields builds Fields from key/value pairs, in order.
func MakeFields(pairs [][2]string) Fields {
	fields := make(Fields, 0, len(pairs))
	for _, pair := range pairs {
		fields.Set(Intern(pair[0]), pair[1])
	}
	return fields
}
