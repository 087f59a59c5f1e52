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
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/exascience/elhts/bed"
	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/intervals"
	"github.com/exascience/elhts/sam"
	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
	"github.com/exascience/elhts/vcf"
)

var viewCmd = &cobra.Command{
	Use:   "view [flags] file [region...]",
	Short: "Print a BAM file as SAM text, or a BCF file as VCF text",
	Long: `Print a BAM file as SAM text, or a BCF file as VCF text.

Regions have the form ref, ref:start or ref:start-end, with 1-based
inclusive coordinates, and need an index next to the file. Records
overlapping several regions are printed once per region. Regions read
from a BED file with --regions-file are merged first, and each record
is printed once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		flags := cmd.Flags()
		headerOnly, _ := flags.GetBool("header-only")
		noHeader, _ := flags.GetBool("no-header")
		if headerOnly && noHeader {
			return errors.New("--header-only and --no-header exclude each other")
		}
		output, _ := flags.GetString("output")
		force, _ := flags.GetBool("force")
		regionsFile, _ := flags.GetString("regions-file")
		if regionsFile != "" && len(args) > 1 {
			return errors.New("--regions-file and region arguments exclude each other")
		}

		var w io.Writer = os.Stdout
		if output != "" && output != "-" {
			if err := checkCreate(output, force); err != nil {
				return err
			}
			var f *os.File
			if f, err = os.Create(output); err != nil {
				return utils.NewIOError("view", err)
			}
			defer closeFile(f, &err)
			w = f
		}
		out := bufio.NewWriterSize(w, 1<<16)
		err = runPhase(cmd, "Printing records.", 1, func() error {
			return view(args[0], args[1:], regionsFile, out, !noHeader, !headerOnly)
		})
		if ferr := out.Flush(); err == nil {
			err = ferr
		}
		return err
	},
}

func init() {
	RootCmd.AddCommand(viewCmd)
	flags := viewCmd.Flags()
	flags.BoolP("header-only", "H", false, "print only the header")
	flags.Bool("no-header", false, "print only the records")
	flags.StringP("output", "o", "-", "output `file`, - for stdout")
	flags.BoolP("force", "f", false, "overwrite an existing output file")
	flags.StringP("regions-file", "L", "", "print the records overlapping the regions of a BED `file`")
}

func view(name string, regions []string, regionsFile string, out *bufio.Writer, header, records bool) error {
	content, err := sniffFile(name)
	if err != nil {
		return err
	}
	switch content {
	case bgzf.BAM:
		return viewBAM(name, regions, regionsFile, out, header, records)
	case bgzf.BCF:
		return viewBCF(name, regions, regionsFile, out, header, records)
	default:
		return errors.Wrapf(utils.ErrFormat, "%v: cannot view %v data", name, content)
	}
}

func loadIndex(name string) (*index.Index, error) {
	path, err := index.Find(name)
	if err != nil {
		return nil, errors.Wrap(err, "region queries need an index, see elhts index")
	}
	idx, err := index.ReadFile(path)
	if err != nil {
		return nil, err
	}
	log.Debugf("Loaded %v index %v", idx.Format, path)
	return idx, nil
}

// A queryPlan lists the regions to print. Merged regions come from a
// BED file and are normalized.
type queryPlan struct {
	regions []index.Region
	merged  bool
}

func planQueries(regions []string, regionsFile string, dict index.Dictionary) (plan queryPlan, err error) {
	if regionsFile != "" {
		if plan.regions, err = bed.ReadFile(regionsFile, dict, config.Threads); err != nil {
			return plan, err
		}
		n := len(plan.regions)
		plan.regions = intervals.Normalize(plan.regions)
		plan.merged = true
		log.Debugf("Merged %v BED regions into %v", n, len(plan.regions))
		return plan, nil
	}
	for _, s := range regions {
		region, err := index.ParseRegion(s, dict)
		if err != nil {
			return plan, err
		}
		plan.regions = append(plan.regions, region)
	}
	return plan, nil
}

// seen reports whether a record found for region i was already
// printed for an earlier merged region.
func (p queryPlan) seen(i int, refID int, beg, end int64) bool {
	return p.merged && intervals.Overlap(p.regions[:i], refID, beg, end)
}

func viewBAM(name string, regions []string, regionsFile string, out *bufio.Writer, header, records bool) (err error) {
	r, err := sam.Open(name, config.Threads)
	if err != nil {
		return err
	}
	defer closeFile(r, &err)
	if header {
		if err := r.Header.FormatSAM(out); err != nil {
			return err
		}
	}
	if !records {
		return nil
	}
	var line []byte
	printRecord := func(rec *sam.Record) (err error) {
		if line, err = rec.AppendSAM(line[:0], r.Header); err == nil {
			_, err = out.Write(line)
		}
		return err
	}
	if len(regions) == 0 && regionsFile == "" {
		var rec sam.Record
		for {
			if err := r.Read(&rec); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			if err := printRecord(&rec); err != nil {
				return err
			}
		}
	}
	plan, err := planQueries(regions, regionsFile, r.Header)
	if err != nil {
		return err
	}
	idx, err := loadIndex(name)
	if err != nil {
		return err
	}
	for i, region := range plan.regions {
		it := r.Query(idx, region)
		for {
			rec, err := it.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			if plan.seen(i, int(rec.RefID()), rec.Pos(), rec.End()) {
				continue
			}
			if err := printRecord(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func viewBCF(name string, regions []string, regionsFile string, out *bufio.Writer, header, records bool) (err error) {
	r, err := vcf.Open(name, config.Threads)
	if err != nil {
		return err
	}
	defer closeFile(r, &err)
	if header {
		if err := r.Header.FormatVCF(out); err != nil {
			return err
		}
	}
	if !records {
		return nil
	}
	var line []byte
	printRecord := func(rec *vcf.Record) (err error) {
		if line, err = rec.AppendVCF(line[:0], r.Header); err == nil {
			_, err = out.Write(line)
		}
		return err
	}
	if len(regions) == 0 && regionsFile == "" {
		var rec vcf.Record
		for {
			if err := r.Read(&rec); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			if err := printRecord(&rec); err != nil {
				return err
			}
		}
	}
	plan, err := planQueries(regions, regionsFile, r.Header)
	if err != nil {
		return err
	}
	idx, err := loadIndex(name)
	if err != nil {
		return err
	}
	for i, region := range plan.regions {
		it := r.Query(idx, region)
		for {
			rec, err := it.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			if plan.seen(i, int(rec.RefID), rec.Pos, rec.End()) {
				continue
			}
			if err := printRecord(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
