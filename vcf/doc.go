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

// Package vcf reads and writes BCF files: the VCF header with its
// string and contig dictionaries, the binary variant record codec,
// and region queries through a CSI index. Records can be rendered as
// VCF text lines.
//
// Integer values are exposed as int32 regardless of their encoded
// width, with Int32Missing and Int32VectorEnd standing for the
// reserved values. Genotypes use the BCF allele encoding, see
// EncodeAllele.
package vcf
