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

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIntern(t *testing.T) {
	a := Intern("DP")
	b := Intern(string([]byte{'D', 'P'}))
	assert.True(t, a == b)
	assert.Equal(t, "DP", *a)
	assert.False(t, Intern("AF") == a)
}

func TestSmallMapOrder(t *testing.T) {
	var m SmallMap[int32, string]
	m.Set(3, "c")
	m.Set(1, "a")
	m.Set(3, "C")
	m.Set(2, "b")
	assert.Equal(t, SmallMap[int32, string]{{3, "C"}, {1, "a"}, {2, "b"}}, m)
	v, ok := m.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, m.Index(2))
}

func TestMakeFields(t *testing.T) {
	fields := MakeFields([][2]string{{"ID", "DP"}, {"Number", "1"}, {"Type", "Integer"}})
	assert.Len(t, fields, 3)
	assert.True(t, fields[0].Key == Intern("ID"))
	typ, _ := fields.Get(Intern("Type"))
	assert.Equal(t, "Integer", typ)
}

func TestErrorTaxonomy(t *testing.T) {
	err := errors.Wrap(NewFormatError("bam", 12, "bad %v", "tag"), "decode")
	assert.True(t, errors.Is(err, ErrFormat))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "offset 12")

	ioErr := NewIOError("read", io.ErrClosedPipe)
	assert.True(t, errors.Is(ioErr, ErrIO))
	assert.True(t, errors.Is(ioErr, io.ErrClosedPipe))
	assert.Nil(t, NewIOError("read", nil))

	assert.True(t, errors.Is(NotFound("reference", "chr9"), ErrNotFound))
	assert.True(t, errors.Is(TypeMismatch("DP", "Float", "Integer"), ErrTypeMismatch))
}

func TestInRecord(t *testing.T) {
	err := InRecord(NewFormatError("bam", 8, "empty read name"), 70000)
	assert.True(t, errors.Is(err, ErrFormat))
	assert.Equal(t, "bam: invalid format at offset 70000: record byte 8: empty read name", err.Error())

	err = InRecord(errors.Wrap(NewFormatError("bcf", -1, "bad key"), "info"), 42)
	assert.Equal(t, "bcf: invalid format at offset 42: bad key", err.Error())

	notFound := NotFound("key", "XX")
	assert.Equal(t, notFound, InRecord(notFound, 42))
	assert.Nil(t, InRecord(nil, 42))
}
