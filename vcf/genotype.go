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
	"strconv"
	"strings"
)

// EncodeAllele returns the genotype integer of an allele index, with
// -1 for a missing allele. The phased bit describes the separator
// before the allele.
func EncodeAllele(allele int, phased bool) int32 {
	v := int32(allele+1) << 1
	if phased {
		v |= 1
	}
	return v
}

// DecodeAllele is the inverse of EncodeAllele.
func DecodeAllele(v int32) (allele int, phased bool) {
	return int(v>>1) - 1, v&1 != 0
}

// AllelesToGenotype encodes a diploid genotype. Only the second
// allele carries the phasing.
func AllelesToGenotype(a, b int, phased bool) [2]int32 {
	return [2]int32{EncodeAllele(a, false), EncodeAllele(b, phased)}
}

// GenotypeToAlleles decodes a diploid genotype.
func GenotypeToAlleles(g [2]int32) (a, b int, phased bool) {
	a, _ = DecodeAllele(g[0])
	b, phased = DecodeAllele(g[1])
	return a, b, phased
}

// GenotypeIndex returns the position of the unordered diploid
// genotype a/b in the order of Number=G fields.
func GenotypeIndex(a, b int) int {
	if a > b {
		a, b = b, a
	}
	return b*(b+1)/2 + a
}

// GenotypeIndexToAlleles is the inverse of GenotypeIndex, with a <= b.
func GenotypeIndexToAlleles(i int) (a, b int) {
	for b = 0; (b+1)*(b+2)/2 <= i; b++ {
	}
	return i - b*(b+1)/2, b
}

// Genotype is the GT vector of one sample, padded with
// Int32VectorEnd for lower ploidy.
type Genotype []int32

// SplitGenotypes splits the GT values of a record by sample.
func SplitGenotypes(values []int32, samples int) []Genotype {
	if samples <= 0 || len(values)%samples != 0 {
		return nil
	}
	n := len(values) / samples
	result := make([]Genotype, samples)
	for i := range result {
		result[i] = Genotype(values[i*n : (i+1)*n : (i+1)*n])
	}
	return result
}

// Ploidy returns the number of alleles before the end of the vector.
func (g Genotype) Ploidy() int {
	for i, v := range g {
		if v == Int32VectorEnd {
			return i
		}
	}
	return len(g)
}

// Allele returns the allele index at i, -1 if missing.
func (g Genotype) Allele(i int) int {
	a, _ := DecodeAllele(g[i])
	return a
}

// IsPhased reports whether every allele after the first is phased.
func (g Genotype) IsPhased() bool {
	n := g.Ploidy()
	for i := 1; i < n; i++ {
		if g[i]&1 == 0 {
			return false
		}
	}
	return n > 1
}

// IsMissing reports whether all alleles are missing.
func (g Genotype) IsMissing() bool {
	n := g.Ploidy()
	for i := 0; i < n; i++ {
		if g.Allele(i) >= 0 {
			return false
		}
	}
	return true
}

// IsHom reports whether all alleles are called and equal.
func (g Genotype) IsHom() bool {
	n := g.Ploidy()
	if n == 0 {
		return false
	}
	first := g.Allele(0)
	for i := 0; i < n; i++ {
		if a := g.Allele(i); a < 0 || a != first {
			return false
		}
	}
	return true
}

// IsHet reports whether all alleles are called and at least two
// differ.
func (g Genotype) IsHet() bool {
	n := g.Ploidy()
	if n < 2 {
		return false
	}
	for i := 0; i < n; i++ {
		if g.Allele(i) < 0 {
			return false
		}
	}
	return !g.IsHom()
}

// String formats g as in VCF text, such as "0/1" or ".|.".
func (g Genotype) String() string {
	var sb strings.Builder
	n := g.Ploidy()
	for i := 0; i < n; i++ {
		a, phased := DecodeAllele(g[i])
		if i > 0 {
			if phased {
				sb.WriteByte('|')
			} else {
				sb.WriteByte('/')
			}
		}
		if a < 0 {
			sb.WriteByte('.')
		} else {
			sb.WriteString(strconv.Itoa(a))
		}
	}
	if n == 0 {
		return "."
	}
	return sb.String()
}
