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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/shenwei356/go-logging"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/exascience/elhts/utils"
	"github.com/exascience/elhts/utils/bgzf"
)

// ProgramMessage is the long description of the elhts binary.
var ProgramMessage = fmt.Sprint(
	utils.ProgramName, " version ", utils.ProgramVersion,
	" compiled with ", runtime.Version(),
	" - see ", utils.ProgramURL, " for more information.",
)

func checkExist(filename string) error {
	if filename == "" {
		return errors.New("missing filename")
	}
	_, err := os.Stat(filename)
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return errors.Errorf("file %v does not exist", filename)
	case os.IsPermission(err):
		return errors.Errorf("no permission to read file %v", filename)
	default:
		return errors.Wrapf(err, "when trying to access file %v", filename)
	}
}

// checkCreate fails early for outputs that cannot be created, and for
// existing outputs unless force is set.
func checkCreate(filename string, force bool) error {
	if filename == "" {
		return errors.New("missing filename")
	}
	if _, err := os.Stat(filename); err == nil {
		if force {
			return nil
		}
		return errors.Errorf("file %v already exists", filename)
	}
	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err == nil {
		err = os.WriteFile(filename, nil, 0666)
	}
	if err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("no permission to create file %v", filename)
		}
		return errors.Wrapf(err, "when trying to create file %v", filename)
	}
	return os.Remove(filename)
}

// closeFile closes c, and reports its error unless *err is set.
func closeFile(c io.Closer, err *error) {
	if cerr := c.Close(); *err == nil {
		*err = cerr
	}
}

// sniffFile identifies the content of a file from its first block.
func sniffFile(name string) (content bgzf.Content, err error) {
	if err := checkExist(name); err != nil {
		return bgzf.Unknown, err
	}
	f, err := os.Open(name)
	if err != nil {
		return bgzf.Unknown, utils.NewIOError("open", err)
	}
	defer closeFile(f, &err)
	content, err = bgzf.Sniff(bufio.NewReaderSize(f, bgzf.MaxBlockSize))
	if err != nil {
		return content, errors.Wrap(err, name)
	}
	log.Debugf("%v holds %v data", name, content)
	return content, nil
}

func createLogFilename() string {
	t := time.Now()
	zone, _ := t.Zone()
	return fmt.Sprintf("logs/elhts/elhts-%d-%02d-%02d-%02d-%02d-%02d-%09d-%v.log", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

// setLogOutput redirects stderr, and with it the log, to a new file
// under path, while keeping a copy of the log on the original stderr.
func setLogOutput(path string, level logging.Level) error {
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "log file")
		}
		path = home
	}
	fullPath := filepath.Join(path, createLogFilename())
	if err := os.MkdirAll(filepath.Dir(fullPath), 0700); err != nil {
		return utils.NewIOError("log file", err)
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return utils.NewIOError("log file", err)
	}
	fmt.Fprintln(f, ProgramMessage)

	orgStderr, err := unix.Dup(2)
	if err != nil {
		return errors.Wrap(err, "log file")
	}
	ferr := os.NewFile(uintptr(orgStderr), "/dev/stderr")
	if err := unix.Dup2(int(f.Fd()), 2); err != nil {
		return errors.Wrap(err, "log file")
	}

	setLogBackend(io.MultiWriter(f, colorable.NewColorable(ferr)), level)
	log.Infof("Created log file at %v", fullPath)
	log.Infof("Command line: %v", os.Args)
	return nil
}

func timedRun(timed bool, profile, msg string, phase int64, f func() error) error {
	if profile != "" {
		filename := profile + strconv.FormatInt(phase, 10) + ".prof"
		file, err := os.Create(filename)
		if err != nil {
			return utils.NewIOError("profile", err)
		}
		defer file.Close()
		if err := pprof.StartCPUProfile(file); err != nil {
			return errors.Wrap(err, "profile")
		}
		defer pprof.StopCPUProfile()
	}
	if timed {
		log.Info(msg)
		start := time.Now()
		defer func() {
			log.Infof("Elapsed time: %v", time.Since(start))
		}()
	}
	return f()
}

// runPhase is timedRun configured from the persistent flags.
func runPhase(cmd *cobra.Command, msg string, phase int64, f func() error) error {
	timed, _ := cmd.Flags().GetBool("timed")
	profile, _ := cmd.Flags().GetString("profile")
	return timedRun(timed, profile, msg, phase, f)
}
