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

// Package cmd implements the elhts command line: indexing, viewing
// and BGZF (de)compression of BAM and BCF files.
package cmd

import (
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"github.com/mattn/go-colorable"
	"github.com/shenwei356/go-logging"
	"github.com/spf13/cobra"

	"github.com/exascience/elhts/utils"
)

var log = logging.MustGetLogger(utils.ProgramName)

var logFormat = logging.MustStringFormatter(`%{time:15:04:05.000} [%{level:.4s}] %{message}`)

func setLogBackend(w io.Writer, level logging.Level) {
	backend := logging.AddModuleLevel(logging.NewBackendFormatter(logging.NewLogBackend(w, "", 0), logFormat))
	backend.SetLevel(level, "")
	log.SetBackend(backend)
}

// RootCmd is the elhts command. Subcommands register themselves in
// their init functions.
var RootCmd = &cobra.Command{
	Use:               utils.ProgramName,
	Short:             "Read, write and index BAM and BCF files",
	Long:              ProgramMessage,
	Version:           utils.ProgramVersion,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the command line, and exits with status 1 after
// logging the first error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	setLogBackend(colorable.NewColorableStderr(), logging.INFO)

	flags := RootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "configuration `file` (default "+defaultConfigFile+")")
	flags.IntP("threads", "j", 0, "number of worker threads, 0 for all cores")
	flags.IntP("level", "l", flate.DefaultCompression, "compression level from 0 to 9, -1 for the default")
	flags.BoolP("verbose", "v", false, "print debug messages")
	flags.BoolP("quiet", "q", false, "only print errors")
	flags.String("log-path", "", "also write the log to a file under this `directory`")
	flags.String("profile", "", "write CPU profiles to files with this name `prefix`")
	flags.Bool("timed", false, "log the elapsed time of each phase")
}

// config holds the effective settings of the running command.
var config Config

func setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	verbose, _ := flags.GetBool("verbose")
	quiet, _ := flags.GetBool("quiet")
	level := logging.INFO
	switch {
	case quiet:
		level = logging.ERROR
	case verbose:
		level = logging.DEBUG
	}
	setLogBackend(colorable.NewColorableStderr(), level)

	configFile, _ := flags.GetString("config")
	var err error
	if config, err = loadConfig(configFile); err != nil {
		return err
	}
	if err = config.override(cmd); err != nil {
		return err
	}
	if logPath, _ := flags.GetString("log-path"); logPath != "" {
		if err = setLogOutput(logPath, level); err != nil {
			return err
		}
	}
	log.Debugf("configuration: %+v", config)
	return nil
}
