package main

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig checks the flag parsing and its checks.
func TestLoadConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		args       []string
		wantErr    bool
		wantParams *chaincfg.Params
		wantFiles  []string
	}{
		{
			name:       "mainnet by default",
			args:       []string{"a.json"},
			wantParams: &chaincfg.MainNetParams,
			wantFiles:  []string{"a.json"},
		},
		{
			name:       "regtest",
			args:       []string{"--regtest", "a.json", "b.json"},
			wantParams: &chaincfg.RegressionNetParams,
			wantFiles:  []string{"a.json", "b.json"},
		},
		{
			name:       "signet",
			args:       []string{"--signet", "a.json"},
			wantParams: &chaincfg.SigNetParams,
			wantFiles:  []string{"a.json"},
		},
		{
			name:    "conflicting networks",
			args:    []string{"--testnet", "--simnet", "a.json"},
			wantErr: true,
		},
		{
			name:    "bad debug level",
			args:    []string{"--debuglevel=loud", "a.json"},
			wantErr: true,
		},
		{
			name:    "bad max fee rate",
			args:    []string{"--maxfeerate=fast", "a.json"},
			wantErr: true,
		},
		{
			name:    "zero max fee rate",
			args:    []string{"--maxfeerate=0", "a.json"},
			wantErr: true,
		},
		{
			name:    "no request files",
			args:    []string{"--regtest"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus", "a.json"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, files, err := loadConfig(tc.args)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantParams.Name, cfg.params.Name)
			require.Equal(t, tc.wantFiles, files)
			require.Equal(t, netName(cfg.params), filepath.Base(cfg.LogDir))
			require.Positive(t, cfg.Parallel)
		})
	}
}

// TestLoadConfigOptions checks the options passed on to the requests.
func TestLoadConfigOptions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	cfg, _, err := loadConfig([]string{
		"--testnet", "--strict", "--fullrbf", "--maxfeerate=250.5",
		"-j", "0", "--logdir", logDir, "a.json",
	})
	require.NoError(t, err)

	require.True(t, cfg.Strict)
	require.True(t, cfg.FullRBF)
	require.InDelta(t, 250.5, cfg.maxFeeRate.Float64(), 1e-9)
	require.Equal(t, 1, cfg.Parallel)
	require.Equal(t, filepath.Join(logDir, "testnet"), cfg.LogDir)
}
