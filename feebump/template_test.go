package feebump

import (
	"encoding/hex"
	"slices"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/feebump/pkg/btcunit"
	"github.com/btcsuite/feebump/pkg/psbtv2"
	"github.com/stretchr/testify/require"
)

const (
	testCancelAddress = "bcrt1qyzx24m8dt0e78yrdl2kuz0czr2xwtfl8frfxj5s672" +
		"a0783a9eeq5f8l7m"

	testChangeAddress = "bcrt1qjxne0ryn375h2a945vud7f5zsa0gt0lyaapkm0asw" +
		"pt9dyj8lqcq94eqw4"

	testXpub = "tpubDCiNatUPEtNj633QZvvfweoL4VziJe33CVGi4ZKEquVsNmRnwkfqxp4QZM" +
		"p1GcjcVScyXru3qGna19QH9tTEsqVV7Jf8vgAKTDPFfoYQZZf"

	testTxid = "50571d20b9c25dce74c1347bb273e1b05ba60b8f1678976ea46b7315" +
		"1ddf2d13"
)

// newTestTemplate returns an empty regtest 2-of-3 P2WSH template.
func newTestTemplate(t *testing.T,
	rate btcunit.SatPerVByte) *TransactionTemplate {

	t.Helper()

	tmpl, err := NewTransactionTemplate(TemplateConfig{
		TargetFeeRate:   rate,
		Params:          &chaincfg.RegressionNetParams,
		ScriptType:      P2WSH,
		RequiredSigners: 2,
		TotalSigners:    3,
	})
	require.NoError(t, err)

	return tmpl
}

// testInput returns an input of amount with a witness utxo. The txid is
// derived from seed.
func testInput(t *testing.T, seed byte,
	amount btcutil.Amount) *TxInputTemplate {

	t.Helper()

	var txid chainhash.Hash
	txid[0] = seed
	txid[31] = 0xff

	in := NewTxInputTemplate(txid, uint32(seed), amount)
	in.SetWitnessUtxo(wire.NewTxOut(
		int64(amount), testPkScript(t, testChangeAddress),
	))
	in.EnableRBF()

	return in
}

// testOutput returns an output paying amount to addr.
func testOutput(t *testing.T, addr string, amount btcutil.Amount,
	locked bool) *TxOutputTemplate {

	t.Helper()

	out, err := NewTxOutputTemplate(
		decodeAddress(t, addr, &chaincfg.RegressionNetParams), amount,
		locked,
	)
	require.NoError(t, err)

	return out
}

func testPkScript(t *testing.T, addr string) []byte {
	t.Helper()

	script, err := txscript.PayToAddrScript(
		decodeAddress(t, addr, &chaincfg.RegressionNetParams),
	)
	require.NoError(t, err)

	return script
}

// TestTemplateBalance checks that adjusting the change makes the template
// pay exactly its target fees.
func TestTemplateBalance(t *testing.T) {
	t.Parallel()

	// Arrange: Two inputs, a payment and a change output at 10 sat/vb.
	tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
	tmpl.AddInput(testInput(t, 1, 150_000_000))
	tmpl.AddInput(testInput(t, 2, 50_000_000))
	tmpl.AddOutput(testOutput(t, testCancelAddress, 100_000_000, true))
	tmpl.AddOutput(testOutput(t, testChangeAddress, 0, false))

	require.Equal(t, uint64(306), tmpl.EstimatedVSize().Uint64())
	require.Equal(t, btcutil.Amount(3060), tmpl.TargetFeesToPay())
	require.False(t, tmpl.NeedsChangeOutput())
	require.True(t, tmpl.NeedsChange())

	// Act: Adjust the change.
	require.NoError(t, tmpl.AdjustChangeOutput())

	// Assert: Inputs equal outputs plus the target fees.
	require.Equal(t, btcutil.Amount(99_996_940), tmpl.ChangeAmount())
	require.Equal(t, tmpl.TotalInputAmount(),
		tmpl.TotalOutputAmount()+tmpl.CurrentFee())
	require.Equal(t, tmpl.TargetFeesToPay(), tmpl.CurrentFee())
	require.True(t, tmpl.AreFeesPaid())
	require.True(t, tmpl.FeeRateSatisfied())
	require.NoError(t, tmpl.Validate())
}

// TestAdjustChangeOutput checks the dust and shortfall handling of the
// change adjustment.
func TestAdjustChangeOutput(t *testing.T) {
	t.Parallel()

	rate := btcunit.NewSatPerVByte(10)

	t.Run("dust change is dropped", func(t *testing.T) {
		t.Parallel()

		// 1 input and 2 outputs are 202 vbytes, 2020 sat at 10
		// sat/vb, leaving 480 sat of change.
		tmpl := newTestTemplate(t, rate)
		tmpl.AddInput(testInput(t, 1, 100_000))
		tmpl.AddOutput(testOutput(t, testCancelAddress, 97_500, true))
		tmpl.AddOutput(testOutput(t, testChangeAddress, 0, false))

		require.NoError(t, tmpl.AdjustChangeOutput())
		require.Len(t, tmpl.Outputs(), 1)
		require.Empty(t, tmpl.MalleableOutputs())
		require.Equal(t, btcutil.Amount(2500), tmpl.CurrentFee())
		require.Empty(t, tmpl.Warnings())
	})

	t.Run("dust sole output is kept", func(t *testing.T) {
		t.Parallel()

		// 1 input and 1 output are 159 vbytes, 1590 sat.
		tmpl := newTestTemplate(t, rate)
		tmpl.AddInput(testInput(t, 1, 2000))
		tmpl.AddOutput(testOutput(t, testChangeAddress, 0, false))

		require.NoError(t, tmpl.AdjustChangeOutput())
		require.Len(t, tmpl.Outputs(), 1)
		require.Equal(t, btcutil.Amount(410), tmpl.ChangeAmount())
		require.Len(t, tmpl.Warnings(), 1)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		t.Parallel()

		tmpl := newTestTemplate(t, rate)
		tmpl.AddInput(testInput(t, 1, 1000))
		tmpl.AddOutput(testOutput(t, testCancelAddress, 900, true))
		tmpl.AddOutput(testOutput(t, testChangeAddress, 0, false))

		err := tmpl.AdjustChangeOutput()
		require.ErrorIs(t, err, ErrInsufficientFunds)
		require.Zero(t, tmpl.ChangeAmount())
	})

	t.Run("no change output", func(t *testing.T) {
		t.Parallel()

		tmpl := newTestTemplate(t, rate)
		tmpl.AddInput(testInput(t, 1, 1000))
		tmpl.AddOutput(testOutput(t, testCancelAddress, 900, true))

		require.NoError(t, tmpl.AdjustChangeOutput())
		require.Equal(t, btcutil.Amount(100), tmpl.CurrentFee())
	})
}

// TestValidate checks each validation failure in order.
func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		build   func(t *testing.T) *TransactionTemplate
		wantErr error
	}{
		{
			name: "valid",
			build: func(t *testing.T) *TransactionTemplate {
				tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
				tmpl.AddInput(testInput(t, 1, 100_000))
				tmpl.AddOutput(testOutput(
					t, testCancelAddress, 90_000, true,
				))

				return tmpl
			},
		},
		{
			name: "missing utxo data",
			build: func(t *testing.T) *TransactionTemplate {
				tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
				tmpl.AddInput(NewTxInputTemplate(
					chainhash.Hash{1}, 0, 100_000,
				))

				return tmpl
			},
			wantErr: ErrMissingUtxoData,
		},
		{
			name: "invalid input",
			build: func(t *testing.T) *TransactionTemplate {
				in := NewTxInputTemplate(chainhash.Hash{}, 0, 1000)
				in.SetWitnessUtxo(wire.NewTxOut(1000, nil))

				tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(1))
				tmpl.AddInput(in)

				return tmpl
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "change output without value",
			build: func(t *testing.T) *TransactionTemplate {
				tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
				tmpl.AddInput(testInput(t, 1, 100_000))
				tmpl.AddOutput(testOutput(
					t, testCancelAddress, 90_000, true,
				))
				tmpl.AddOutput(testOutput(
					t, testChangeAddress, 0, false,
				))

				return tmpl
			},
			wantErr: ErrInvalidOutput,
		},
		{
			name: "fee below target",
			build: func(t *testing.T) *TransactionTemplate {
				tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
				tmpl.AddInput(testInput(t, 1, 100_000))
				tmpl.AddOutput(testOutput(
					t, testCancelAddress, 99_000, true,
				))

				return tmpl
			},
			wantErr: ErrFeeTooLow,
		},
		{
			name: "absurd fee rate",
			build: func(t *testing.T) *TransactionTemplate {
				tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
				tmpl.AddInput(testInput(t, 1, 1_000_000))
				tmpl.AddOutput(testOutput(
					t, testCancelAddress, 800_000, true,
				))

				return tmpl
			},
			wantErr: ErrFeeRateTooLarge,
		},
		{
			name: "absurd absolute fee",
			build: func(t *testing.T) *TransactionTemplate {
				tmpl, err := NewTransactionTemplate(TemplateConfig{
					TargetFeeRate:  btcunit.NewSatPerVByte(10),
					Params:         &chaincfg.RegressionNetParams,
					ScriptType:     P2WSH,
					MaxAbsoluteFee: 5000,
				})
				require.NoError(t, err)

				tmpl.AddInput(testInput(t, 1, 100_000))
				tmpl.AddOutput(testOutput(
					t, testCancelAddress, 90_000, true,
				))

				return tmpl
			},
			wantErr: ErrAbsoluteFeeTooLarge,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tmpl := tc.build(t)

			// Validation does not change the template, so repeated
			// calls agree.
			first := tmpl.Validate()
			second := tmpl.Validate()

			if tc.wantErr == nil {
				require.NoError(t, first)
				require.NoError(t, second)

				return
			}

			require.ErrorIs(t, first, tc.wantErr)
			require.Equal(t, first.Error(), second.Error())

			_, err := tmpl.ToPsbt(true)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

// TestNeedsChangeOutput checks the change output decision.
func TestNeedsChangeOutput(t *testing.T) {
	t.Parallel()

	// Arrange: One input paying a locked output at 10 sat/vb. One input
	// and one output cost 1590 sat, a change output 430 sat more.
	tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
	tmpl.AddInput(testInput(t, 1, 100_000))
	tmpl.AddOutput(testOutput(t, testCancelAddress, 97_500, true))

	// Assert: 910 sat of excess exceeds the dust threshold but cannot
	// pay for a change output and leave more than dust in it.
	require.True(t, tmpl.NeedsChangeOutput())
	require.False(t, tmpl.NeedsChange())

	// Act: Add value.
	tmpl.AddInput(testInput(t, 2, 100_000))

	// Assert: Now both hold.
	require.True(t, tmpl.NeedsChangeOutput())
	require.True(t, tmpl.NeedsChange())

	// A malleable output already takes the change.
	tmpl.AddOutput(testOutput(t, testChangeAddress, 0, false))
	require.False(t, tmpl.NeedsChangeOutput())
}

// TestTemplateMutation checks the plain mutators.
func TestTemplateMutation(t *testing.T) {
	t.Parallel()

	tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(1))
	tmpl.AddOutput(testOutput(t, testCancelAddress, 1000, true))
	tmpl.AddOutput(testOutput(t, testChangeAddress, 0, false))

	require.ErrorIs(t, tmpl.RemoveOutput(2), ErrOutputIndex)
	require.ErrorIs(t, tmpl.RemoveOutput(-1), ErrOutputIndex)
	require.NoError(t, tmpl.RemoveOutput(0))
	require.Len(t, tmpl.Outputs(), 1)
	require.True(t, tmpl.Outputs()[0].IsMalleable())

	// The returned slices are copies.
	outputs := tmpl.Outputs()
	outputs[0] = nil
	require.NotNil(t, tmpl.Outputs()[0])

	xpub := GlobalXpub{Xpub: testXpub, Path: []uint32{1, 2, 3}}
	require.NoError(t, tmpl.AddGlobalXpub(xpub))
	require.ErrorIs(t, tmpl.AddGlobalXpub(xpub), ErrDuplicateXpub)
	require.Len(t, tmpl.GlobalXpubs(), 1)
}

// TestNewTransactionTemplateErrors checks the rejected configs.
func TestNewTransactionTemplateErrors(t *testing.T) {
	t.Parallel()

	valid := TemplateConfig{
		TargetFeeRate: btcunit.NewSatPerVByte(1),
		Params:        &chaincfg.RegressionNetParams,
		ScriptType:    P2WSH,
	}

	testCases := []struct {
		name    string
		modify  func(cfg *TemplateConfig)
		wantErr error
	}{
		{
			name:    "no network",
			modify:  func(cfg *TemplateConfig) { cfg.Params = nil },
			wantErr: ErrUnknownNetwork,
		},
		{
			name:    "no script type",
			modify:  func(cfg *TemplateConfig) { cfg.ScriptType = 0 },
			wantErr: ErrUnknownScriptType,
		},
		{
			name: "quorum",
			modify: func(cfg *TemplateConfig) {
				cfg.RequiredSigners = 3
				cfg.TotalSigners = 2
			},
			wantErr: ErrInvalidQuorum,
		},
		{
			name:    "negative dust threshold",
			modify:  func(cfg *TemplateConfig) { cfg.DustThreshold = -1 },
			wantErr: ErrNegativeAmount,
		},
		{
			name: "duplicate xpub",
			modify: func(cfg *TemplateConfig) {
				xpub := GlobalXpub{Xpub: testXpub}
				cfg.GlobalXpubs = []GlobalXpub{xpub, xpub}
			},
			wantErr: ErrDuplicateXpub,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tc.modify(&cfg)

			_, err := NewTransactionTemplate(cfg)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

// TestPsbtTxidRoundTrip checks that a txid given in display order is
// written to the PSBT in internal order and read back unchanged.
func TestPsbtTxidRoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange: An input built from a UTXO with a display order txid.
	txid, err := chainhash.NewHashFromStr(testTxid)
	require.NoError(t, err)

	in, err := FromUTXO(&UTXO{
		Txid:  *txid,
		Vout:  3,
		Value: 100_000,
		WitnessUtxo: wire.NewTxOut(
			100_000, testPkScript(t, testChangeAddress),
		),
	})
	require.NoError(t, err)

	tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
	tmpl.AddInput(in)
	tmpl.AddOutput(testOutput(t, testCancelAddress, 90_000, true))

	// Act: Encode and decode the PSBT.
	encoded, err := tmpl.ToPsbt(true)
	require.NoError(t, err)

	packet, err := tmpl.ToPacket()
	require.NoError(t, err)

	parsed, err := FromPsbt(encoded, tmpl.Config())
	require.NoError(t, err)

	// Assert: The packet holds the reversed bytes and the txid survives.
	display, err := hex.DecodeString(testTxid)
	require.NoError(t, err)
	slices.Reverse(display)
	require.Equal(t, display, packet.Inputs[0].PreviousTxid[:])

	require.Equal(t, testTxid, parsed.Inputs()[0].Txid().String())
	require.Equal(t, uint32(3), parsed.Inputs()[0].Vout())
	require.Equal(t, btcutil.Amount(100_000), parsed.Inputs()[0].Amount())
	require.False(t, parsed.Inputs()[0].Sequence().IsSome())

	out := parsed.Outputs()[0]
	require.False(t, out.IsMalleable())
	require.Equal(t, testCancelAddress, out.Address().EncodeAddress())
	require.Equal(t, btcutil.Amount(90_000), out.Amount())
}

// TestToPacket checks the layout of the produced packet.
func TestToPacket(t *testing.T) {
	t.Parallel()

	tmpl := newTestTemplate(t, btcunit.NewSatPerVByte(10))
	tmpl.AddInput(testInput(t, 1, 100_000))
	tmpl.AddOutput(testOutput(t, testCancelAddress, 90_000, true))

	packet, err := tmpl.ToPacket()
	require.NoError(t, err)

	require.Equal(t, psbtv2.DefaultTxVersion, packet.TxVersion)
	require.Equal(t, uint8(3), packet.TxModifiable.UnwrapOr(0))
	require.Len(t, packet.Inputs, 1)
	require.Equal(t, RBFSequence, packet.Inputs[0].Sequence.UnwrapOr(0))

	require.Len(t, packet.Outputs, 1)
	require.Equal(t, int64(90_000), packet.Outputs[0].Amount)

	// An output without value cannot be encoded, even unvalidated.
	tmpl.AddOutput(testOutput(t, testChangeAddress, 0, false))

	_, err = tmpl.ToPacket()
	require.ErrorIs(t, err, ErrInvalidOutput)

	_, err = tmpl.ToPsbt(false)
	require.ErrorIs(t, err, ErrInvalidOutput)
}

// TestFromPsbt checks the reconstruction of inputs from either kind of
// utxo data.
func TestFromPsbt(t *testing.T) {
	t.Parallel()

	cfg := TemplateConfig{
		TargetFeeRate: btcunit.NewSatPerVByte(1),
		Params:        &chaincfg.RegressionNetParams,
		ScriptType:    P2WSH,
	}

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 7}, nil, nil))
	prevTx.AddTxOut(wire.NewTxOut(1000, testPkScript(t, testCancelAddress)))
	prevTx.AddTxOut(wire.NewTxOut(2500, testPkScript(t, testChangeAddress)))

	output := psbtv2.Output{
		Amount: 2000,
		Script: testPkScript(t, testCancelAddress),
	}

	t.Run("non-witness utxo", func(t *testing.T) {
		t.Parallel()

		packet := psbtv2.New()
		require.NoError(t, packet.AddInput(psbtv2.Input{
			PreviousTxid:   prevTx.TxHash(),
			OutputIndex:    1,
			NonWitnessUtxo: prevTx,
		}))
		require.NoError(t, packet.AddOutput(output))

		encoded, err := packet.B64Encode()
		require.NoError(t, err)

		tmpl, err := FromPsbt(encoded, cfg)
		require.NoError(t, err)
		require.Equal(t, btcutil.Amount(2500), tmpl.TotalInputAmount())
		require.Equal(t, btcutil.Amount(500), tmpl.CurrentFee())
		require.True(t, tmpl.Inputs()[0].HasRequiredFieldsForPSBT())
	})

	t.Run("missing utxo data", func(t *testing.T) {
		t.Parallel()

		packet := psbtv2.New()
		require.NoError(t, packet.AddInput(psbtv2.Input{
			PreviousTxid: prevTx.TxHash(),
		}))
		require.NoError(t, packet.AddOutput(output))

		encoded, err := packet.B64Encode()
		require.NoError(t, err)

		_, err = FromPsbt(encoded, cfg)
		require.ErrorIs(t, err, ErrMissingUtxoData)
	})

	t.Run("non-standard output", func(t *testing.T) {
		t.Parallel()

		packet := psbtv2.New()
		require.NoError(t, packet.AddInput(psbtv2.Input{
			PreviousTxid: prevTx.TxHash(),
			WitnessUtxo:  prevTx.TxOut[0],
		}))
		require.NoError(t, packet.AddOutput(psbtv2.Output{
			Amount: 500,
			Script: []byte{txscript.OP_TRUE},
		}))

		encoded, err := packet.B64Encode()
		require.NoError(t, err)

		_, err = FromPsbt(encoded, cfg)
		require.ErrorIs(t, err, ErrInvalidOutput)
	})

	t.Run("not a psbt", func(t *testing.T) {
		t.Parallel()

		_, err := FromPsbt("bm90IGEgcHNidA==", cfg)
		require.Error(t, err)
	})
}
