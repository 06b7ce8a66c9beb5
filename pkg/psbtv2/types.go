// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtv2

// GlobalType is the set of types that are used at the global scope level
// within the PSBT.
type GlobalType uint8

const (
	// UnsignedTxType is the global key of a version 0 packet. It must not
	// appear in a version 2 packet.
	UnsignedTxType GlobalType = 0x00

	// XpubType houses a global xpub. The key data is the 78 byte BIP32
	// serialization and the value is the fingerprint and path.
	XpubType GlobalType = 0x01

	// TxVersionType is the version of the transaction being built.
	TxVersionType GlobalType = 0x02

	// FallbackLocktimeType is the locktime to use if no input requires a
	// specific one.
	FallbackLocktimeType GlobalType = 0x03

	// InputCountType is the number of input maps following the globals.
	InputCountType GlobalType = 0x04

	// OutputCountType is the number of output maps following the inputs.
	OutputCountType GlobalType = 0x05

	// TxModifiableType holds the modifiable flags bitfield.
	TxModifiableType GlobalType = 0x06

	// VersionType is the PSBT version number.
	VersionType GlobalType = 0xfb
)

// InputType is the set of types that are defined for each input included
// within the PSBT.
type InputType uint8

const (
	// NonWitnessUtxoType has no key data and the full previous
	// transaction as value.
	NonWitnessUtxoType InputType = 0x00

	// WitnessUtxoType has no key data and a serialized TxOut as value.
	WitnessUtxoType InputType = 0x01

	// RedeemScriptInputType has no key data and the redeem script as
	// value.
	RedeemScriptInputType InputType = 0x04

	// WitnessScriptInputType has no key data and the witness script as
	// value.
	WitnessScriptInputType InputType = 0x05

	// Bip32DerivationInputType has the public key as key data and the
	// fingerprint and path as value.
	Bip32DerivationInputType InputType = 0x06

	// PreviousTxidType is the txid of the spent output, in the internal
	// little-endian byte order.
	PreviousTxidType InputType = 0x0e

	// OutputIndexType is the index of the spent output.
	OutputIndexType InputType = 0x0f

	// SequenceType is the input sequence. Absent means 0xffffffff.
	SequenceType InputType = 0x10
)

// OutputType is the set of types defined per output within the PSBT.
type OutputType uint8

const (
	// RedeemScriptOutputType has no key data and the redeem script of
	// the output as value.
	RedeemScriptOutputType OutputType = 0x00

	// WitnessScriptOutputType has no key data and the witness script of
	// the output as value.
	WitnessScriptOutputType OutputType = 0x01

	// Bip32DerivationOutputType has the public key as key data and the
	// fingerprint and path as value.
	Bip32DerivationOutputType OutputType = 0x02

	// AmountType is the output amount as a little-endian int64.
	AmountType OutputType = 0x03

	// ScriptType is the output script.
	ScriptType OutputType = 0x04
)

// TxModifiable flags.
const (
	// InputsModifiable signals that inputs may be added or removed.
	InputsModifiable uint8 = 1 << 0

	// OutputsModifiable signals that outputs may be added or removed.
	OutputsModifiable uint8 = 1 << 1

	// SighashSingle signals that a SIGHASH_SINGLE signature exists.
	SighashSingle uint8 = 1 << 2
)
