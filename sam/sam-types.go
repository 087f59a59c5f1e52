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
	"strings"

	"github.com/pkg/errors"
)

// Flag is the bitwise FLAG field of an alignment record.
type Flag uint16

// Flag bits.
const (
	Multiple      Flag = 0x1
	Proper        Flag = 0x2
	Unmapped      Flag = 0x4
	NextUnmapped  Flag = 0x8
	Reversed      Flag = 0x10
	NextReversed  Flag = 0x20
	First         Flag = 0x40
	Last          Flag = 0x80
	Secondary     Flag = 0x100
	QCFailed      Flag = 0x200
	Duplicate     Flag = 0x400
	Supplementary Flag = 0x800
)

var flagNames = [...]string{
	"PAIRED", "PROPER_PAIR", "UNMAP", "MUNMAP", "REVERSE", "MREVERSE",
	"READ1", "READ2", "SECONDARY", "QCFAIL", "DUP", "SUPPLEMENTARY",
}

func (flag Flag) IsMultiple() bool      { return (flag & Multiple) != 0 }
func (flag Flag) IsProper() bool        { return (flag & Proper) != 0 }
func (flag Flag) IsUnmapped() bool      { return (flag & Unmapped) != 0 }
func (flag Flag) IsNextUnmapped() bool  { return (flag & NextUnmapped) != 0 }
func (flag Flag) IsReversed() bool      { return (flag & Reversed) != 0 }
func (flag Flag) IsNextReversed() bool  { return (flag & NextReversed) != 0 }
func (flag Flag) IsFirst() bool         { return (flag & First) != 0 }
func (flag Flag) IsLast() bool          { return (flag & Last) != 0 }
func (flag Flag) IsSecondary() bool     { return (flag & Secondary) != 0 }
func (flag Flag) IsQCFailed() bool      { return (flag & QCFailed) != 0 }
func (flag Flag) IsDuplicate() bool     { return (flag & Duplicate) != 0 }
func (flag Flag) IsSupplementary() bool { return (flag & Supplementary) != 0 }

func (flag Flag) Every(f Flag) bool    { return (flag & f) == f }
func (flag Flag) Some(f Flag) bool     { return (flag & f) != 0 }
func (flag Flag) NotEvery(f Flag) bool { return (flag & f) != f }
func (flag Flag) NotAny(f Flag) bool   { return (flag & f) == 0 }

// String returns the comma-separated names of the set bits, in the
// style of samtools flags, e.g. "PAIRED,REVERSE".
func (flag Flag) String() string {
	var names []string
	for i, name := range flagNames {
		if flag&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// ParseFlag parses a comma-separated list of flag names as produced
// by Flag.String.
func ParseFlag(s string) (Flag, error) {
	var flag Flag
	if s == "" {
		return 0, nil
	}
	for _, name := range strings.Split(s, ",") {
		found := false
		for i, n := range flagNames {
			if strings.EqualFold(n, name) {
				flag |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Errorf("unknown flag %q", name)
		}
	}
	return flag, nil
}
