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
	"fmt"

	"github.com/pkg/errors"
)

// Error categories shared by all elhts packages. Use errors.Is to
// test for them; the concrete errors carry position or operation
// context.
var (
	ErrFormat       = errors.New("invalid format")
	ErrIO           = errors.New("i/o failure")
	ErrNotFound     = errors.New("not found")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrTruncated    = errors.New("truncated stream: missing BGZF EOF block")
)

// FormatError reports malformed input. Offset is a byte offset in the
// stream or record the error was detected at, or -1 if unknown.
type FormatError struct {
	Source string
	Offset int64
	Msg    string
}

// NewFormatError formats a FormatError for the given source.
func NewFormatError(source string, offset int64, format string, args ...interface{}) *FormatError {
	return &FormatError{Source: source, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func (e *FormatError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%v: invalid format: %v", e.Source, e.Msg)
	}
	return fmt.Sprintf("%v: invalid format at offset %v: %v", e.Source, e.Offset, e.Msg)
}

// Is reports whether target is ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// InRecord moves a FormatError reported relative to a record to
// offset, the stream position of the record. The record-relative
// offset is kept in the message. Other errors are returned unchanged.
func InRecord(err error, offset int64) error {
	var fe *FormatError
	if !errors.As(err, &fe) {
		return err
	}
	if fe.Offset < 0 {
		return &FormatError{Source: fe.Source, Offset: offset, Msg: fe.Msg}
	}
	return &FormatError{Source: fe.Source, Offset: offset, Msg: fmt.Sprintf("record byte %v: %v", fe.Offset, fe.Msg)}
}

// IOError wraps a failure of an underlying reader, writer or seeker.
type IOError struct {
	Op  string
	Err error
}

// NewIOError returns nil if err is nil.
func NewIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Is reports whether target is ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NotFound returns an error matching ErrNotFound for the given kind
// of lookup, e.g. NotFound("reference", "chr7").
func NotFound(kind, name string) error {
	return errors.Wrapf(ErrNotFound, "%v %q", kind, name)
}

// TypeMismatch returns an error matching ErrTypeMismatch.
func TypeMismatch(key string, stored, requested interface{}) error {
	return errors.Wrapf(ErrTypeMismatch, "%v is stored as %v, requested %v", key, stored, requested)
}
