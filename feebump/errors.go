// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import "errors"

var (
	// ErrInvalidTransaction is returned when the transaction to analyze
	// cannot be decoded or has no inputs or outputs.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidTxid is returned for a txid that is not 32 bytes of hex.
	ErrInvalidTxid = errors.New("invalid txid")

	// ErrInvalidSequence is returned for a sequence outside the uint32
	// range.
	ErrInvalidSequence = errors.New("sequence out of range")

	// ErrNonWitnessUtxoMismatch is returned when a previous transaction
	// does not match the outpoint of the input it is attached to.
	ErrNonWitnessUtxoMismatch = errors.New("non-witness utxo does not " +
		"match input")

	// ErrImmutableOutput is returned when the amount of a locked output
	// is changed.
	ErrImmutableOutput = errors.New("cannot modify a locked output")

	// ErrZeroLockedOutput is returned when a locked output has no value.
	ErrZeroLockedOutput = errors.New("locked output must have a " +
		"positive amount")

	// ErrNegativeAmount is returned for negative input or output
	// amounts.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrMissingUtxoData is returned for inputs that carry neither a
	// witness nor a non-witness utxo.
	ErrMissingUtxoData = errors.New("input has no witness or " +
		"non-witness utxo")

	// ErrInvalidInput is returned by validation for an input with an
	// unusable txid or amount.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidOutput is returned by validation for an output without
	// an address or with a non positive amount.
	ErrInvalidOutput = errors.New("invalid output")

	// ErrOutputIndex is returned when an output index is out of range.
	ErrOutputIndex = errors.New("output index out of range")

	// ErrDuplicateXpub is returned when a global xpub is added twice.
	ErrDuplicateXpub = errors.New("duplicate global xpub")

	// ErrInsufficientFunds is returned when the inputs cannot pay for
	// the outputs and the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnbalanced is returned when a template does not balance after
	// its change output was adjusted.
	ErrUnbalanced = errors.New("transaction does not balance")

	// ErrFeeTooLow is returned when a template pays less than its target
	// fee or a replacement pays less than the minimum RBF fee.
	ErrFeeTooLow = errors.New("fee too low")

	// ErrFeeRateTooLarge is returned when the fee rate of a template
	// reaches the absurd fee rate ceiling.
	ErrFeeRateTooLarge = errors.New("fee rate is absurdly high")

	// ErrAbsoluteFeeTooLarge is returned when the fee of a template
	// reaches the absurd absolute fee ceiling.
	ErrAbsoluteFeeTooLarge = errors.New("absolute fee is absurdly high")

	// ErrNoEligibleInput is returned when none of the original inputs
	// can be found among the available UTXOs.
	ErrNoEligibleInput = errors.New("no original input found in " +
		"available UTXOs")

	// ErrRBFNotPossible is returned when the original transaction does
	// not signal replaceability and full RBF was not requested.
	ErrRBFNotPossible = errors.New("RBF is not possible for this " +
		"transaction")

	// ErrCPFPNotPossible is returned when the original transaction has
	// no spendable output to build a child from.
	ErrCPFPNotPossible = errors.New("CPFP is not possible for this " +
		"transaction")

	// ErrStrategyMismatch is returned in strict mode when the requested
	// strategy is not the recommended one.
	ErrStrategyMismatch = errors.New("strategy is not the recommended " +
		"one")

	// ErrTargetFeeRateTooLow is returned when the target fee rate does
	// not exceed the fee rate of the original transaction.
	ErrTargetFeeRateTooLow = errors.New("target fee rate must exceed " +
		"the original fee rate")

	// ErrChangeSelection is returned when an acceleration request sets
	// both or neither of the change index and the change address.
	ErrChangeSelection = errors.New("exactly one of change index and " +
		"change address must be set")

	// ErrDustOutput is returned in strict mode when an output would be
	// below the dust threshold.
	ErrDustOutput = errors.New("output below dust threshold")

	// ErrPackageFeeRate is returned in strict mode when a CPFP package
	// does not reach the target fee rate.
	ErrPackageFeeRate = errors.New("package fee rate below target")

	// ErrUnknownScriptType is returned for unsupported script types.
	ErrUnknownScriptType = errors.New("unknown script type")

	// ErrUnknownNetwork is returned for unsupported network names.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrInvalidDerivationPath is returned for malformed BIP32 paths.
	ErrInvalidDerivationPath = errors.New("invalid derivation path")

	// ErrInvalidQuorum is returned when the required signers exceed the
	// total signers or either is zero.
	ErrInvalidQuorum = errors.New("invalid multisig quorum")
)
