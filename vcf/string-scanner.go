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
	"strings"

	"github.com/exascience/elhts/utils"
)

// A StringScanner scans the value of a structured header line, such
// as <ID=DP,Number=1,Type=Integer,Description="Depth">.
//
// The zero StringScanner is valid and empty.
type StringScanner struct {
	index int
	data  string
	err   error
}

// Reset resets the scanner, and initializes it with the given string.
func (sc *StringScanner) Reset(s string) {
	sc.index = 0
	sc.data = s
	sc.err = nil
}

// Len returns the number of bytes that still need to be scanned.
func (sc *StringScanner) Len() int {
	return len(sc.data) - sc.index
}

// Err returns the first error encountered.
func (sc *StringScanner) Err() error {
	return sc.err
}

func (sc *StringScanner) fail(format string, args ...interface{}) {
	if sc.err == nil {
		args = append(args, sc.data)
		sc.err = utils.NewFormatError("vcf header", -1, format+": %v", args...)
	}
}

// SkipSpace skips ' ' bytes.
func (sc *StringScanner) SkipSpace() {
	for end := sc.index; end < len(sc.data); end++ {
		if sc.data[end] != ' ' {
			sc.index = end
			return
		}
	}
	sc.index = len(sc.data)
}

func (sc *StringScanner) readUntilByte(c byte) (s string, found bool) {
	start := sc.index
	for end := sc.index; end < len(sc.data); end++ {
		if sc.data[end] == c {
			sc.index = end + 1
			return sc.data[start:end], true
		}
	}
	sc.index = len(sc.data)
	return sc.data[start:], false
}

// ParseMetaField parses one key=value pair. Quoted values may contain
// backslash escapes.
func (sc *StringScanner) ParseMetaField() (key, value string) {
	if sc.err != nil {
		return
	}
	sc.SkipSpace()
	start := sc.index
	for ; sc.index < len(sc.data); sc.index++ {
		if c := sc.data[sc.index]; c == ' ' || c == '=' {
			break
		}
	}
	key = sc.data[start:sc.index]
	sc.SkipSpace()
	if sc.index >= len(sc.data) || sc.data[sc.index] != '=' {
		sc.fail("invalid key=value pair in a meta-information line")
		return
	}
	sc.index++
	if sc.index < len(sc.data) && sc.data[sc.index] == '"' {
		sc.index++
		var buf strings.Builder
		for ; sc.index < len(sc.data); sc.index++ {
			switch sc.data[sc.index] {
			case '"':
				sc.index++
				return key, buf.String()
			case '\\':
				sc.index++
				if sc.index == len(sc.data) {
					continue
				}
			}
			_ = buf.WriteByte(sc.data[sc.index])
		}
		sc.fail("missing closing \" in a meta-information line")
		return key, buf.String()
	}
	start = sc.index
	for ; sc.index < len(sc.data); sc.index++ {
		if c := sc.data[sc.index]; c == ' ' || c == ',' || c == '>' {
			return key, sc.data[start:sc.index]
		}
	}
	sc.fail("missing closing > in a meta-information line")
	return key, sc.data[start:]
}

// ParseMetaInformation parses a bracketed list of fields. Keys must
// be unique.
func (sc *StringScanner) ParseMetaInformation() (fields utils.Fields) {
	if sc.err != nil {
		return nil
	}
	if sc.index >= len(sc.data) || sc.data[sc.index] != '<' {
		sc.fail("missing open angle bracket in a meta-information line")
		return nil
	}
	sc.index++
	for {
		key, value := sc.ParseMetaField()
		if sc.err != nil {
			return nil
		}
		sym := utils.Intern(key)
		if fields.Index(sym) >= 0 {
			sc.fail("duplicate field key %v in a meta-information line", key)
			return nil
		}
		fields = append(fields, utils.SmallMapEntry[utils.Symbol, string]{Key: sym, Value: value})
		sc.SkipSpace()
		if sc.index < len(sc.data) {
			if c := sc.data[sc.index]; c == ',' {
				sc.index++
				continue
			} else if c == '>' {
				sc.index++
				break
			}
		}
		sc.fail("invalid syntax in a meta-information line")
		return nil
	}
	if fields.Index(idKey) < 0 {
		sc.fail("missing ID in a meta-information line")
		return nil
	}
	return fields
}

// FormatString writes str in double quotes, escaping quotes and
// backslashes.
func FormatString(sb *strings.Builder, str string) {
	_ = sb.WriteByte('"')
	for i := 0; i < len(str); i++ {
		b := str[i]
		if b == '"' || b == '\\' {
			_ = sb.WriteByte('\\')
		}
		_ = sb.WriteByte(b)
	}
	_ = sb.WriteByte('"')
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', ' ', ',', '<', '>', '=', '\\':
			return true
		}
	}
	return false
}
