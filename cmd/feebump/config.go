// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/feebump/pkg/btcunit"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel    = "info"
	defaultLogFilename = "feebump.log"
	defaultLogDirname  = "logs"
)

var (
	feebumpHomeDir = btcutil.AppDataDir("feebump", false)
	defaultLogDir  = filepath.Join(feebumpHomeDir, defaultLogDirname)

	// errConflictingNetworks is returned when more than one network flag
	// is set.
	errConflictingNetworks = errors.New("the testnet, regtest, signet " +
		"and simnet params can't be used together -- choose one")

	// errNoRequests is returned when no request file is given.
	errNoRequests = errors.New("no request files given")
)

// config defines the configuration options for feebump.
//
// See loadConfig for details on the configuration load process.
type config struct {
	TestNet3       bool   `long:"testnet" description:"Use the test network for requests without a network"`
	RegressionTest bool   `long:"regtest" description:"Use the regression test network for requests without a network"`
	SigNet         bool   `long:"signet" description:"Use the signet test network for requests without a network"`
	SimNet         bool   `long:"simnet" description:"Use the simulation test network for requests without a network"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	NoLogFile      bool   `long:"nologfile" description:"Only log to stderr"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Strict         bool   `long:"strict" description:"Fail instead of warning when a request deviates from the recommended strategy or leaves dust"`
	FullRBF        bool   `long:"fullrbf" description:"Replace transactions that do not signal RBF"`
	MaxFeeRate     string `long:"maxfeerate" description:"Reject results paying at least this many sat/vB"`
	Parallel       int    `short:"j" long:"parallel" description:"Number of requests processed at once"`
	Indent         bool   `long:"indent" description:"Indent the JSON output even when stdout is not a terminal"`

	params     *chaincfg.Params
	maxFeeRate btcunit.SatPerVByte
}

// netName returns the name used when referring to a bitcoin network. The
// log directory of testnet version 3 is "testnet".
func netName(chainParams *chaincfg.Params) string {
	switch chainParams.Net {
	case wire.TestNet3:
		return "testnet"
	default:
		return chainParams.Name
	}
}

// loadConfig parses the command line arguments into a config and returns
// the remaining arguments, the request files.
func loadConfig(args []string) (*config, []string, error) {
	// Default config.
	cfg := config{
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Parallel:   runtime.NumCPU(),
		params:     &chaincfg.MainNetParams,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = "[OPTIONS] request.json..."

	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}

		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		numNets++
		cfg.params = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		cfg.params = &chaincfg.RegressionNetParams
	}
	if cfg.SigNet {
		numNets++
		cfg.params = &chaincfg.SigNetParams
	}
	if cfg.SimNet {
		numNets++
		cfg.params = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		return nil, nil, fmt.Errorf("loadConfig: %w",
			errConflictingNetworks)
	}

	if _, ok := btclog.LevelFromString(cfg.DebugLevel); !ok {
		return nil, nil, fmt.Errorf("loadConfig: the specified debug "+
			"level [%v] is invalid", cfg.DebugLevel)
	}

	if cfg.MaxFeeRate != "" {
		cfg.maxFeeRate, err = btcunit.ParseSatPerVByte(cfg.MaxFeeRate)
		if err != nil {
			return nil, nil, fmt.Errorf("loadConfig: invalid "+
				"maxfeerate: %w", err)
		}

		if !cfg.maxFeeRate.IsPositive() {
			return nil, nil, fmt.Errorf("loadConfig: maxfeerate "+
				"must be positive, got %v", cfg.maxFeeRate)
		}
	}

	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}

	if len(remainingArgs) == 0 {
		return nil, nil, errNoRequests
	}

	// Logs are namespaced per network.
	cfg.LogDir = filepath.Join(
		cleanAndExpandPath(cfg.LogDir), netName(cfg.params),
	)

	return &cfg, remainingArgs, nil
}

// cleanAndExpandPath expands a leading ~ and cleans the path.
func cleanAndExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
