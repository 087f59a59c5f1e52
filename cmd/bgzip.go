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
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

var bgzipCmd = &cobra.Command{
	Use:   "bgzip [flags] [file]",
	Short: "Compress a file to BGZF, or decompress BGZF and gzip files",
	Long: `Compress a file to BGZF, or decompress BGZF and gzip files.

Without a file, bgzip reads stdin and writes stdout. A file is
compressed to file.gz, or decompressed to its name without the .gz
suffix. The input file is kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		decompress, _ := flags.GetBool("decompress")
		stdout, _ := flags.GetBool("stdout")
		output, _ := flags.GetString("output")
		force, _ := flags.GetBool("force")
		progress, _ := flags.GetBool("progress")

		input := "-"
		if len(args) == 1 {
			input = args[0]
		}
		switch {
		case stdout || (input == "-" && output == ""):
			output = "-"
		case output != "":
		case decompress:
			base, found := strings.CutSuffix(input, ".gz")
			if !found {
				return errors.Errorf("%v: unknown suffix, use --output", input)
			}
			output = base
		default:
			output = input + ".gz"
		}
		msg := "Compressing."
		if decompress {
			msg = "Decompressing."
		}
		return runPhase(cmd, msg, 1, func() error {
			return bgzip(input, output, decompress, force, progress)
		})
	},
}

func init() {
	RootCmd.AddCommand(bgzipCmd)
	flags := bgzipCmd.Flags()
	flags.BoolP("decompress", "d", false, "decompress")
	flags.Bool("stdout", false, "write to stdout")
	flags.StringP("output", "o", "", "output `file`")
	flags.BoolP("force", "f", false, "overwrite an existing output file")
	flags.Bool("progress", false, "show a progress bar")
}

func bgzip(input, output string, decompress, force, progress bool) (err error) {
	var in io.Reader = os.Stdin
	var size int64
	if input != "-" {
		if err := checkExist(input); err != nil {
			return err
		}
		f, err := os.Open(input)
		if err != nil {
			return utils.NewIOError("bgzip", err)
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		in = f
	}

	var pbs *mpb.Progress
	if progress && size > 0 {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar := pbs.AddBar(size,
			mpb.PrependDecorators(
				decor.Name(filepath.Base(input)+": "),
				decor.Counters(decor.SizeB1024(0), "% .1f / % .1f"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.Name(" "),
				decor.AverageSpeed(decor.SizeB1024(0), "% .1f"),
			),
		)
		proxy := bar.ProxyReader(in)
		defer func() {
			if err != nil {
				bar.Abort(false)
			}
			_ = proxy.Close()
			pbs.Wait()
		}()
		in = proxy
	}

	var out io.Writer = os.Stdout
	if output != "-" {
		if err := checkCreate(output, force); err != nil {
			return err
		}
		var f *os.File
		if f, err = os.Create(output); err != nil {
			return utils.NewIOError("bgzip", err)
		}
		defer closeFile(f, &err)
		out = f
	}
	if decompress {
		return inflateStream(in, out)
	}
	return deflateStream(in, out)
}

func deflateStream(in io.Reader, out io.Writer) error {
	w, err := bgzf.NewWriterWorkers(out, config.Level, config.Threads)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func inflateStream(in io.Reader, out io.Writer) (err error) {
	r, content, err := bgzf.NewAnyReader(bufio.NewReaderSize(in, bgzf.MaxBlockSize), config.Threads)
	if err != nil {
		return err
	}
	if content == bgzf.Unknown {
		return errors.Wrap(utils.ErrFormat, "bgzip: input is not compressed")
	}
	log.Debugf("decompressing %v data", content)
	if c, ok := r.(io.Closer); ok {
		defer closeFile(c, &err)
	}
	_, err = io.Copy(out, r)
	return err
}
