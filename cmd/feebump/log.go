// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/feebump/feebump"
	"github.com/btcsuite/feebump/pkg/psbtv2"
	"github.com/jrick/logrotate/rotator"
)

const (
	// logFileThresholdKB is the size at which the log file is rolled.
	logFileThresholdKB = 10 * 1024

	// maxLogRolls is the number of rolled log files kept.
	maxLogRolls = 3
)

// logWriter implements an io.Writer that outputs to standard error and, once
// it is initialized, to the log rotator. Standard output carries the
// results.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stderr.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}

	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it write to the backend.
var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is the file output of the backend. It is nil until
	// initLogRotator is called and should be closed on shutdown.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("FBCL")
	fbmpLog = backendLog.Logger("FBMP")
	psbtLog = backendLog.Logger("PSBT")
)

func init() {
	feebump.UseLogger(fbmpLog)
	psbtv2.UseLogger(psbtLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"FBCL": log,
	"FBMP": fbmpLog,
	"PSBT": psbtLog,
}

// initLogRotator initializes the log rotator to write logs to logFile and
// create roll files in the same directory.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, logFileThresholdKB, false, maxLogRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	logRotator = r

	return nil
}

// setLogLevels sets the logging level of every subsystem. Invalid levels
// default to info.
func setLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
