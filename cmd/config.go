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
	"runtime"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/exascience/elhts/index"
	"github.com/exascience/elhts/utils"
)

const defaultConfigFile = "~/.elhts.toml"

// Config holds the defaults read from the configuration file. Command
// line flags override them.
type Config struct {
	Threads     int    `toml:"threads"`
	Level       int    `toml:"level"`
	MinShift    int    `toml:"min_shift"`
	Depth       int    `toml:"depth"`
	IndexFormat string `toml:"index_format"`
}

func defaultConfig() Config {
	return Config{Level: flate.DefaultCompression}
}

// loadConfig reads a TOML configuration file. An empty name selects
// the default file, which need not exist.
func loadConfig(name string) (Config, error) {
	cfg := defaultConfig()
	explicit := name != ""
	if !explicit {
		name = defaultConfigFile
	}
	path, err := homedir.Expand(name)
	if err != nil {
		return cfg, errors.Wrap(err, "config")
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, utils.NewIOError("config: open", err)
	}
	defer f.Close()
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(utils.ErrFormat, "config %v: %v", path, err)
	}
	return cfg, cfg.check()
}

// override applies the flags set on the command line, and fills in
// the number of threads.
func (c *Config) override(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("threads") {
		c.Threads, _ = flags.GetInt("threads")
	}
	if flags.Changed("level") {
		c.Level, _ = flags.GetInt("level")
	}
	if flags.Changed("min-shift") {
		c.MinShift, _ = flags.GetInt("min-shift")
	}
	if flags.Changed("depth") {
		c.Depth, _ = flags.GetInt("depth")
	}
	if flags.Changed("index-format") {
		c.IndexFormat, _ = flags.GetString("index-format")
	}
	if csi, _ := flags.GetBool("csi"); csi {
		c.IndexFormat = "csi"
	}
	if c.Threads <= 0 {
		c.Threads = runtime.GOMAXPROCS(0)
	}
	return c.check()
}

func (c *Config) check() error {
	if c.Level < flate.HuffmanOnly || c.Level > flate.BestCompression {
		return errors.Errorf("invalid compression level %v", c.Level)
	}
	if c.MinShift < 0 || c.Depth < 0 {
		return errors.Errorf("invalid binning scheme min_shift=%v depth=%v", c.MinShift, c.Depth)
	}
	_, err := c.indexOptions()
	return err
}

// indexOptions leaves the format open when the configuration does not
// name one, so that BAM and BCF files get their own default.
func (c *Config) indexOptions() (index.Options, error) {
	opts := index.Options{MinShift: c.MinShift, Depth: c.Depth}
	switch strings.ToLower(c.IndexFormat) {
	case "":
	case "bai":
		opts.Format = index.BAI
	case "csi":
		opts.Format = index.CSI
	default:
		return opts, errors.Errorf("unknown index format %q", c.IndexFormat)
	}
	return opts, nil
}
