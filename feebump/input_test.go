package feebump

import (
	"math"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestInputSequence checks the sequence setters and the RBF signal.
func TestInputSequence(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		sequence int64
		wantErr  error
		wantRBF  bool
	}{
		{name: "zero", sequence: 0, wantRBF: true},
		{name: "rbf", sequence: int64(RBFSequence), wantRBF: true},
		{name: "final minus one", sequence: math.MaxUint32 - 1},
		{name: "final", sequence: math.MaxUint32},
		{
			name:     "negative",
			sequence: -1,
			wantErr:  ErrInvalidSequence,
		},
		{
			name:     "too large",
			sequence: math.MaxUint32 + 1,
			wantErr:  ErrInvalidSequence,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			in := NewTxInputTemplate(chainhash.Hash{1}, 0, 1000)

			err := in.SetSequence(tc.sequence)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.False(t, in.Sequence().IsSome())

				return
			}

			require.NoError(t, err)
			require.Equal(t, uint32(tc.sequence),
				in.Sequence().UnwrapOr(0))
			require.Equal(t, tc.wantRBF, in.IsRBFEnabled())
		})
	}
}

// TestInputRBFHelpers checks enabling and disabling the RBF signal.
func TestInputRBFHelpers(t *testing.T) {
	t.Parallel()

	in := NewTxInputTemplate(chainhash.Hash{1}, 0, 1000)

	// An input without a sequence is final.
	require.False(t, in.IsRBFEnabled())

	in.EnableRBF()
	require.True(t, in.IsRBFEnabled())
	require.Equal(t, fn.Some(RBFSequence), in.Sequence())

	in.DisableRBF()
	require.False(t, in.IsRBFEnabled())
	require.Equal(t, fn.Some(FinalSequence), in.Sequence())
}

// TestSetNonWitnessUtxo checks that the previous transaction must match
// the outpoint.
func TestSetNonWitnessUtxo(t *testing.T) {
	t.Parallel()

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	prevTx.AddTxOut(wire.NewTxOut(5000, []byte{0x51}))

	t.Run("matching", func(t *testing.T) {
		t.Parallel()

		in := NewTxInputTemplate(prevTx.TxHash(), 0, 5000)
		require.NoError(t, in.SetNonWitnessUtxo(prevTx))
		require.Equal(t, prevTx, in.NonWitnessUtxo())
		require.True(t, in.HasRequiredFieldsForPSBT())
	})

	t.Run("other transaction", func(t *testing.T) {
		t.Parallel()

		in := NewTxInputTemplate(chainhash.Hash{1}, 0, 5000)
		err := in.SetNonWitnessUtxo(prevTx)
		require.ErrorIs(t, err, ErrNonWitnessUtxoMismatch)
		require.Nil(t, in.NonWitnessUtxo())
		require.False(t, in.HasRequiredFieldsForPSBT())
	})

	t.Run("missing output", func(t *testing.T) {
		t.Parallel()

		in := NewTxInputTemplate(prevTx.TxHash(), 1, 5000)
		err := in.SetNonWitnessUtxo(prevTx)
		require.ErrorIs(t, err, ErrNonWitnessUtxoMismatch)
	})
}

// TestInputAmount checks that negative amounts are rejected.
func TestInputAmount(t *testing.T) {
	t.Parallel()

	in := NewTxInputTemplate(chainhash.Hash{1}, 0, 1000)
	require.ErrorIs(t, in.SetAmount(-1), ErrNegativeAmount)
	require.EqualValues(t, 1000, in.Amount())

	require.NoError(t, in.SetAmount(2000))
	require.EqualValues(t, 2000, in.Amount())
	require.True(t, in.IsValid())

	zero := NewTxInputTemplate(chainhash.Hash{}, 0, 1000)
	require.False(t, zero.IsValid())
}

// TestUTXOConversion checks that a UTXO survives the conversion to an
// input and back.
func TestUTXOConversion(t *testing.T) {
	t.Parallel()

	f := loadRBFFixtures(t).ExactRbfFixtures.AcceleratedRbf[0]
	utxo := f.AvailableUtxos[0]

	in, err := FromUTXO(utxo)
	require.NoError(t, err)

	require.Equal(t, utxo.OutPoint(), in.OutPoint())
	require.Equal(t, utxo.Value, in.Amount())
	require.Equal(t, utxo.WitnessUtxo, in.WitnessUtxo())
	require.Equal(t, utxo.WitnessScript, in.WitnessScript())
	require.Len(t, in.Bip32Derivations(), len(utxo.Bip32Derivations))

	back := in.ToUTXO()
	require.Equal(t, utxo.OutPoint(), back.OutPoint())
	require.Equal(t, utxo.Value, back.Value)
	require.Equal(t, utxo.WitnessScript, back.WitnessScript)
	require.Equal(t, utxo.Sequence, back.Sequence)

	// A missing sequence comes back as the RBF sequence.
	bare := NewTxInputTemplate(chainhash.Hash{1}, 0, 1000)
	require.Equal(t, fn.Some(RBFSequence), bare.ToUTXO().Sequence)

	// A previous transaction of another outpoint is rejected.
	bad := *utxo
	bad.PrevTx = wire.NewMsgTx(2)
	_, err = FromUTXO(&bad)
	require.ErrorIs(t, err, ErrNonWitnessUtxoMismatch)
}
