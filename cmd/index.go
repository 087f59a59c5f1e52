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

package cmd

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/internal"
	"github.com/exascience/elhts/sam"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
	"github.com/exascience/elhts/vcf"
)

var indexCmd = &cobra.Command{
	Use:   "index [flags] file...",
	Short: "Index coordinate-sorted BAM and BCF files",
	Long: `Index coordinate-sorted BAM and BCF files.

The index is written next to each file, with a .bai or .csi suffix.
BAM files get a BAI index unless a CSI index or a non-default binning
scheme is requested; BCF files always get a CSI index. A directory
argument stands for the .bam and .bcf files it contains.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, files []string) error {
		opts, err := config.indexOptions()
		if err != nil {
			return err
		}
		jobs, _ := cmd.Flags().GetInt("jobs")
		progress, _ := cmd.Flags().GetBool("progress")
		return runPhase(cmd, "Indexing files.", 1, func() error {
			return indexFiles(files, opts, jobs, progress)
		})
	},
}

func init() {
	RootCmd.AddCommand(indexCmd)
	flags := indexCmd.Flags()
	flags.Bool("csi", false, "write CSI instead of BAI indexes")
	flags.String("index-format", "", "index format, bai or csi")
	flags.IntP("min-shift", "m", 0, "bit width of the smallest bins, 14 by default")
	flags.IntP("depth", "d", 0, "number of bin levels below the root, 5 by default")
	flags.IntP("jobs", "J", 1, "number of files indexed concurrently")
	flags.Bool("progress", false, "show a progress bar")
}

func indexFiles(files []string, opts index.Options, jobs int, progress bool) error {
	if jobs < 1 {
		jobs = 1
	}
	files, err := expandFiles(files)
	if err != nil {
		return err
	}

	var pbs *mpb.Progress
	var bar *mpb.Bar
	if progress {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("indexed files: ", decor.WC{W: len("indexed files: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
	}

	workers := config.Threads / jobs
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(jobs)
	for _, name := range files {
		name := name
		g.Go(func() error {
			start := time.Now()
			err := indexFile(name, opts, workers)
			if bar != nil && err == nil {
				bar.EwmaIncrement(time.Since(start))
			}
			return err
		})
	}
	err = g.Wait()
	if pbs != nil {
		if err != nil {
			bar.Abort(false)
		}
		pbs.Wait()
	}
	return err
}

// expandFiles replaces directories by the BAM and BCF files in them.
func expandFiles(files []string) (result []string, err error) {
	for _, name := range files {
		if err := checkExist(name); err != nil {
			return nil, err
		}
		if info, err := os.Stat(name); err != nil || !info.IsDir() {
			result = append(result, name)
			continue
		}
		entries, err := internal.Directory(name)
		if err != nil {
			return nil, utils.NewIOError("index", err)
		}
		sort.Strings(entries)
		for _, entry := range entries {
			switch filepath.Ext(entry) {
			case ".bam", ".bcf":
				result = append(result, filepath.Join(name, entry))
			}
		}
	}
	return result, nil
}

func indexFile(name string, opts index.Options, workers int) (err error) {
	content, err := sniffFile(name)
	if err != nil {
		return err
	}
	var idx *index.Index
	switch content {
	case bgzf.BAM:
		var r *sam.Reader
		if r, err = sam.Open(name, workers); err != nil {
			return errors.Wrap(err, name)
		}
		defer closeFile(r, &err)
		idx, err = sam.BuildIndex(r, opts)
	case bgzf.BCF:
		var r *vcf.Reader
		if r, err = vcf.Open(name, workers); err != nil {
			return errors.Wrap(err, name)
		}
		defer closeFile(r, &err)
		if opts.Format == index.BAI {
			log.Warningf("%v: BCF files get a CSI index, not BAI", name)
			opts.Format = index.CSI
		}
		idx, err = vcf.BuildIndex(r, opts)
	default:
		return errors.Wrapf(utils.ErrFormat, "%v: cannot index %v data", name, content)
	}
	if err != nil {
		return errors.Wrap(err, name)
	}
	path := index.Path(name, idx.Format)
	if err := index.WriteFile(path, idx); err != nil {
		return err
	}
	if full, err := internal.FullPathname(path); err == nil {
		path = full
	}
	log.Infof("Wrote %v index %v", idx.Format, path)
	return nil
}
