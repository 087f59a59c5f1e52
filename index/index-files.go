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

package index

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/utils"
)

// ReadFile reads the named BAI or CSI index. The file is memory
// mapped while it is decoded.
func ReadFile(name string) (idx *Index, err error) {
	m, err := internal.MapFile(name)
	if err != nil {
		return nil, utils.NewIOError("index: open", err)
	}
	defer func() {
		if nerr := m.Close(); err == nil && nerr != nil {
			idx, err = nil, utils.NewIOError("index: unmap", nerr)
		}
	}()
	return Read(bytes.NewReader(m.Data))
}

// WriteFile writes idx to the named file in its own format. The file
// is replaced atomically.
func WriteFile(name string, idx *Index) error {
	var encodeErr error
	err := internal.WriteFileAtomic(name, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if encodeErr = idx.Write(w); encodeErr != nil {
			return encodeErr
		}
		return w.Flush()
	})
	if encodeErr != nil {
		return encodeErr
	}
	return utils.NewIOError("index: write "+name, err)
}

// Path returns the conventional index file name for a data file.
func Path(dataPath string, format Format) string {
	return dataPath + format.Extension()
}

// Find returns the name of an existing index for the data file,
// trying the .csi and .bai suffixes, and the .bai that replaces a
// .bam suffix.
func Find(dataPath string) (string, error) {
	candidates := []string{Path(dataPath, CSI), Path(dataPath, BAI)}
	if base, found := strings.CutSuffix(dataPath, ".bam"); found {
		candidates = append(candidates, base+".bai")
	}
	for _, name := range candidates {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
	}
	return "", utils.NotFound("index for", dataPath)
}
