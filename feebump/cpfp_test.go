package feebump

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// cpfpOptions returns the options of a CPFP fixture. The parent UTXO is
// keyed by the txid computed from the parent transaction.
func cpfpOptions(t *testing.T, f *cpfpFixture) CPFPOptions {
	t.Helper()

	params, err := ParseNetwork(f.Network)
	require.NoError(t, err)

	parentTx, err := decodeTxHex(f.ParentTransaction.Hex)
	require.NoError(t, err)

	parent := *f.ParentUtxo
	parent.Txid = parentTx.TxHash()

	return CPFPOptions{
		BaseOptions: BaseOptions{
			TxHex:           f.ParentTransaction.Hex,
			Params:          params,
			TargetFeeRate:   f.TargetFeeRate,
			AbsoluteFee:     btcutil.Amount(f.ParentTransaction.Fee),
			AvailableUTXOs:  f.AvailableUtxos,
			ScriptType:      f.ScriptType,
			RequiredSigners: f.RequiredSigners,
			TotalSigners:    f.TotalSigners,
			DustThreshold:   btcutil.Amount(f.DustThreshold),
			GlobalXpubs:     f.GlobalXpubs,
		},
		SpendableOutputIndex: f.SpendableOutputIndex,
		ChangeAddress:        decodeAddress(t, f.ChangeAddress, params),
		ParentUTXO:           &parent,
	}
}

// TestCPFPFixtures checks the child built for a received and for a sent
// parent.
func TestCPFPFixtures(t *testing.T) {
	t.Parallel()

	fixtures := loadCPFPFixtures(t).CpfpPsbtFixtures

	testCases := []struct {
		name        string
		fixture     *cpfpFixture
		parentTxid  string
		parentVSize uint64
		childFee    btcutil.Amount
		change      btcutil.Amount
	}{
		{
			name:        "received payment",
			fixture:     fixtures.ReceivingTransaction[0],
			parentTxid:  "706566f191b2d2c2f412b3f77013caa8815db467dec7aa3ff24bd7c5bccc9bdb",
			parentVSize: 154,
			childFee:    8623,
			change:      99991377,
		},
		{
			name:        "sent payment",
			fixture:     fixtures.SentTransaction[0],
			parentTxid:  "c04265be523006e5394a9a917a852231144000aa9926b42597cec62ea8d3c88b",
			parentVSize: 189,
			childFee:    9290,
			change:      399988690,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Build the options from the fixture.
			opts := cpfpOptions(t, tc.fixture)

			// Act: Build the child.
			result, err := CPFP(opts)
			require.NoError(t, err)

			// Assert: One input spending the parent output, one
			// change output, and a package rate at the target.
			tmpl := result.Template
			require.Len(t, tmpl.Inputs(),
				tc.fixture.Expected.ChildInputCount)
			require.Len(t, tmpl.Outputs(),
				tc.fixture.Expected.ChildOutputCount)
			require.Len(t, tmpl.GlobalXpubs(), 3)

			in := tmpl.Inputs()[0]
			require.Equal(t, tc.parentTxid, in.Txid().String())
			require.Equal(t, uint32(tc.fixture.SpendableOutputIndex),
				in.Vout())

			require.Equal(t, tc.childFee, tmpl.CurrentFee())
			require.Equal(t, tc.change, tmpl.Outputs()[0].Amount())

			a, err := NewTransactionAnalyzer(opts.analyzerConfig())
			require.NoError(t, err)
			require.Equal(t, tc.parentVSize, a.VSize().Uint64())

			packageSize := a.VSize().Add(tmpl.EstimatedVSize())
			packageRate := btcunitRate(
				a.Fee()+tmpl.CurrentFee(), packageSize.Uint64(),
			)
			require.True(t, packageRate.GreaterThanOrEqual(
				tc.fixture.TargetFeeRate,
			))
			require.InDelta(t, tc.fixture.Expected.CombinedFeeRate,
				packageRate.Float64(), 0.1)

			// The PSBT carries the parent outpoint and the xpubs.
			parsed, err := FromPsbt(result.Psbt, tmpl.Config())
			require.NoError(t, err)
			require.Equal(t, tc.parentTxid,
				parsed.Inputs()[0].Txid().String())
			require.Len(t, parsed.GlobalXpubs(), 3)
			require.Equal(t, tc.change, parsed.Outputs()[0].Amount())
		})
	}
}

// TestCPFPParentLookup checks how the parent output is found.
func TestCPFPParentLookup(t *testing.T) {
	t.Parallel()

	f := loadCPFPFixtures(t).CpfpPsbtFixtures.SentTransaction[0]

	t.Run("from available utxos", func(t *testing.T) {
		t.Parallel()

		opts := cpfpOptions(t, f)
		opts.AvailableUTXOs = []*UTXO{opts.ParentUTXO}
		opts.ParentUTXO = nil

		result, err := CPFP(opts)
		require.NoError(t, err)
		require.Len(t, result.Template.Inputs(), 1)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		opts := cpfpOptions(t, f)
		opts.ParentUTXO = nil

		_, err := CPFP(opts)
		require.ErrorIs(t, err, ErrNoEligibleInput)
	})

	t.Run("wrong outpoint", func(t *testing.T) {
		t.Parallel()

		opts := cpfpOptions(t, f)
		opts.ParentUTXO.Vout = 0

		_, err := CPFP(opts)
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

// TestCPFPErrors checks the failures of CPFP.
func TestCPFPErrors(t *testing.T) {
	t.Parallel()

	f := loadCPFPFixtures(t).CpfpPsbtFixtures.ReceivingTransaction[0]

	testCases := []struct {
		name    string
		modify  func(t *testing.T, opts *CPFPOptions)
		wantErr error
	}{
		{
			name: "dust output",
			modify: func(_ *testing.T, opts *CPFPOptions) {
				opts.DustThreshold = 100_000_000
			},
			wantErr: ErrCPFPNotPossible,
		},
		{
			name: "output index out of range",
			modify: func(_ *testing.T, opts *CPFPOptions) {
				opts.SpendableOutputIndex = 2
			},
			wantErr: ErrOutputIndex,
		},
		{
			name: "no change address",
			modify: func(_ *testing.T, opts *CPFPOptions) {
				opts.ChangeAddress = nil
			},
			wantErr: ErrInvalidOutput,
		},
		{
			name: "strict with replacement recommended",
			modify: func(_ *testing.T, opts *CPFPOptions) {
				opts.Strictness = Strict
			},
			wantErr: ErrStrategyMismatch,
		},
		{
			name: "child cannot pay",
			modify: func(t *testing.T, opts *CPFPOptions) {
				opts.TargetFeeRate = mustRate(t, "700000")
				opts.MaxFeeRate = mustRate(t, "10000000")
			},
			wantErr: ErrInsufficientFunds,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts := cpfpOptions(t, f)
			tc.modify(t, &opts)

			result, err := CPFP(opts)
			require.ErrorIs(t, err, tc.wantErr)
			require.Nil(t, result)
		})
	}
}
