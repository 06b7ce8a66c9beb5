// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// feebump builds fee bump PSBTs from JSON request files.
//
// Each request file holds one operation: analyze, cancel, accelerate or
// cpfp. The responses are written to stdout as a JSON array in the order of
// the files given. Logs go to stderr and to a rotated log file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

func main() {
	if err := feebumpMain(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// feebumpMain is the real main function. It is necessary to work around the
// fact that deferred functions do not run when os.Exit() is called.
func feebumpMain() error {
	cfg, files, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if !cfg.NoLogFile {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		if err := initLogRotator(logFile); err != nil {
			return err
		}
		defer logRotator.Close()
	}
	setLogLevels(cfg.DebugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	responses, err := processFiles(ctx, cfg, files)
	if err != nil {
		return err
	}

	indent := cfg.Indent || term.IsTerminal(int(os.Stdout.Fd()))
	if err := writeResponses(os.Stdout, responses, indent); err != nil {
		return err
	}

	if n := failed(responses); n > 0 {
		return fmt.Errorf("%d of %d requests failed", n, len(responses))
	}

	return nil
}
