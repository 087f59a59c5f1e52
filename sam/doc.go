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

// Package sam reads and writes BAM files: the binary alignment
// record codec, the BAM header, and region queries through a BAI or
// CSI index.
//
// Records keep their binary encoding, and accessors decode fields on
// demand. Views returned by Cigar, Seq, Qual and Aux share the
// record's storage; they stay valid until the record is mutated in a
// way that reallocates it, or reused by a Reader or Iterator.
package sam
