// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// RBFSequence is the canonical sequence of an input that signals
	// replaceability.
	RBFSequence uint32 = wire.MaxTxInSequenceNum - 2

	// FinalSequence is the sequence of a final input.
	FinalSequence uint32 = wire.MaxTxInSequenceNum

	// rbfSequenceLimit is the lowest sequence that does not signal
	// replaceability.
	rbfSequenceLimit uint32 = wire.MaxTxInSequenceNum - 1
)

// TxInputTemplate is an input of a transaction being assembled. Its outpoint
// is fixed at construction.
type TxInputTemplate struct {
	txid chainhash.Hash
	vout uint32

	amount   btcutil.Amount
	sequence fn.Option[uint32]

	nonWitnessUtxo *wire.MsgTx
	witnessUtxo    *wire.TxOut
	redeemScript   []byte
	witnessScript  []byte
	derivations    []*psbt.Bip32Derivation
}

// NewTxInputTemplate creates an input spending txid:vout. The amount may be
// set later once it is known.
func NewTxInputTemplate(txid chainhash.Hash, vout uint32,
	amount btcutil.Amount) *TxInputTemplate {

	return &TxInputTemplate{
		txid:   txid,
		vout:   vout,
		amount: amount,
	}
}

// FromUTXO creates an input from wallet data. Every UTXO field is carried
// over unchanged.
func FromUTXO(utxo *UTXO) (*TxInputTemplate, error) {
	in := NewTxInputTemplate(utxo.Txid, utxo.Vout, utxo.Value)
	in.sequence = utxo.Sequence

	if utxo.PrevTx != nil {
		if err := in.SetNonWitnessUtxo(utxo.PrevTx); err != nil {
			return nil, err
		}
	}

	in.witnessUtxo = utxo.WitnessUtxo
	in.redeemScript = utxo.RedeemScript
	in.witnessScript = utxo.WitnessScript
	in.derivations = utxo.Bip32Derivations

	return in, nil
}

// ToUTXO converts the input back to wallet data. An input without a
// sequence gets the RBF signalling sequence.
func (i *TxInputTemplate) ToUTXO() *UTXO {
	return &UTXO{
		Txid:             i.txid,
		Vout:             i.vout,
		Value:            i.amount,
		Sequence:         fn.Some(i.sequence.UnwrapOr(RBFSequence)),
		PrevTx:           i.nonWitnessUtxo,
		WitnessUtxo:      i.witnessUtxo,
		RedeemScript:     i.redeemScript,
		WitnessScript:    i.witnessScript,
		Bip32Derivations: i.derivations,
	}
}

// Txid returns the hash of the transaction holding the spent output.
func (i *TxInputTemplate) Txid() chainhash.Hash {
	return i.txid
}

// Vout returns the index of the spent output.
func (i *TxInputTemplate) Vout() uint32 {
	return i.vout
}

// OutPoint returns the spent outpoint.
func (i *TxInputTemplate) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: i.txid, Index: i.vout}
}

// Amount returns the value of the spent output.
func (i *TxInputTemplate) Amount() btcutil.Amount {
	return i.amount
}

// SetAmount sets the value of the spent output.
func (i *TxInputTemplate) SetAmount(amount btcutil.Amount) error {
	if amount < 0 {
		return fmt.Errorf("%w: input %v: %v", ErrNegativeAmount,
			i.OutPoint(), amount)
	}

	i.amount = amount

	return nil
}

// Sequence returns the sequence of the input, if set.
func (i *TxInputTemplate) Sequence() fn.Option[uint32] {
	return i.sequence
}

// SetSequence sets the sequence. Values outside the uint32 range are
// rejected.
func (i *TxInputTemplate) SetSequence(sequence int64) error {
	if sequence < 0 || sequence > math.MaxUint32 {
		return fmt.Errorf("%w: %d", ErrInvalidSequence, sequence)
	}

	i.sequence = fn.Some(uint32(sequence))

	return nil
}

// EnableRBF sets the canonical replaceable sequence.
func (i *TxInputTemplate) EnableRBF() {
	i.sequence = fn.Some(RBFSequence)
}

// DisableRBF sets the final sequence.
func (i *TxInputTemplate) DisableRBF() {
	i.sequence = fn.Some(FinalSequence)
}

// IsRBFEnabled reports whether the input signals replaceability. An input
// without a sequence is final.
func (i *TxInputTemplate) IsRBFEnabled() bool {
	return isReplaceable(i.sequence.UnwrapOr(FinalSequence))
}

// isReplaceable is the BIP 125 signal check of a single sequence.
func isReplaceable(sequence uint32) bool {
	return sequence < rbfSequenceLimit
}

// NonWitnessUtxo returns the full previous transaction.
func (i *TxInputTemplate) NonWitnessUtxo() *wire.MsgTx {
	return i.nonWitnessUtxo
}

// SetNonWitnessUtxo attaches the full previous transaction. It must hash to
// the txid of the input and hold the spent output.
func (i *TxInputTemplate) SetNonWitnessUtxo(tx *wire.MsgTx) error {
	if hash := tx.TxHash(); hash != i.txid {
		return fmt.Errorf("%w: %v is not %v", ErrNonWitnessUtxoMismatch,
			hash, i.txid)
	}

	if int(i.vout) >= len(tx.TxOut) {
		return fmt.Errorf("%w: %v has %d outputs, spending %d",
			ErrNonWitnessUtxoMismatch, i.txid, len(tx.TxOut), i.vout)
	}

	i.nonWitnessUtxo = tx

	return nil
}

// WitnessUtxo returns the value and script pair of the spent output.
func (i *TxInputTemplate) WitnessUtxo() *wire.TxOut {
	return i.witnessUtxo
}

// SetWitnessUtxo attaches the value and script pair of the spent output.
func (i *TxInputTemplate) SetWitnessUtxo(txOut *wire.TxOut) {
	i.witnessUtxo = txOut
}

// RedeemScript returns the P2SH redeem script.
func (i *TxInputTemplate) RedeemScript() []byte {
	return i.redeemScript
}

// SetRedeemScript sets the P2SH redeem script.
func (i *TxInputTemplate) SetRedeemScript(script []byte) {
	i.redeemScript = script
}

// WitnessScript returns the witness script.
func (i *TxInputTemplate) WitnessScript() []byte {
	return i.witnessScript
}

// SetWitnessScript sets the witness script.
func (i *TxInputTemplate) SetWitnessScript(script []byte) {
	i.witnessScript = script
}

// Bip32Derivations returns the key derivations of the signers.
func (i *TxInputTemplate) Bip32Derivations() []*psbt.Bip32Derivation {
	return i.derivations
}

// AddBip32Derivation appends a signer key derivation.
func (i *TxInputTemplate) AddBip32Derivation(d *psbt.Bip32Derivation) {
	i.derivations = append(i.derivations, d)
}

// IsValid reports whether the input has an outpoint and a non negative
// amount.
func (i *TxInputTemplate) IsValid() bool {
	return i.amount >= 0 && i.txid != (chainhash.Hash{})
}

// HasRequiredFieldsForPSBT reports whether a signer can verify the spent
// value, which needs a witness or a non-witness utxo.
func (i *TxInputTemplate) HasRequiredFieldsForPSBT() bool {
	return i.nonWitnessUtxo != nil || i.witnessUtxo != nil
}

// String returns the outpoint and amount of the input.
func (i *TxInputTemplate) String() string {
	return fmt.Sprintf("%v:%d (%v)", i.txid, i.vout, i.amount)
}
