// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feebump

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/feebump/pkg/btcunit"
)

// ScriptType is the multisig script type of the wallet that owns the inputs
// of a transaction. It selects the size estimation formula.
type ScriptType uint8

const (
	// P2SH is a legacy pay-to-script-hash multisig.
	P2SH ScriptType = iota + 1

	// P2SHP2WSH is a witness script hash multisig nested in P2SH.
	P2SHP2WSH

	// P2WSH is a native witness script hash multisig.
	P2WSH
)

const (
	// txOverheadSize is the version and locktime of a transaction.
	txOverheadSize = 8

	// segwitMarkerSize is the marker and flag of a witness transaction.
	segwitMarkerSize = 2

	// multisigSigSize is a DER signature with sighash byte and its push.
	multisigSigSize = 1 + 72

	// multisigKeySize is a compressed public key and its push.
	multisigKeySize = 1 + 33

	// multisigScriptOverhead is OP_m, OP_n and OP_CHECKMULTISIG.
	multisigScriptOverhead = 3

	// legacyInputOverhead is the outpoint and sequence of an input.
	legacyInputOverhead = txsizes.RedeemP2WPKHInputSize - 1

	// nestedInputSize is a P2SH-P2WSH input without witness: outpoint,
	// sequence and the 35 byte script sig pushing the witness program.
	nestedInputSize = legacyInputOverhead + 35

	// p2shOutputSize is the serialized size of a P2SH output.
	p2shOutputSize = 8 + 1 + txsizes.NestedP2WPKHPkScriptSize

	// p2wshOutputSize is the serialized size of a P2WSH output. Its 34
	// byte script has the same length as a taproot output script.
	p2wshOutputSize = 8 + 1 + txsizes.P2TRPkScriptSize

	// nestedTxOverhead is the non-input, non-output part of a nested
	// segwit transaction, counts included.
	nestedTxOverhead = 10
)

// String returns the canonical name of the script type.
func (s ScriptType) String() string {
	switch s {
	case P2SH:
		return "P2SH"

	case P2SHP2WSH:
		return "P2SH_P2WSH"

	case P2WSH:
		return "P2WSH"

	default:
		return fmt.Sprintf("ScriptType(%d)", uint8(s))
	}
}

// ParseScriptType parses a script type name. Both P2SH_P2WSH and
// P2SH-P2WSH are accepted for the nested type.
func ParseScriptType(name string) (ScriptType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "P2SH":
		return P2SH, nil

	case "P2SH_P2WSH", "P2SH-P2WSH":
		return P2SHP2WSH, nil

	case "P2WSH":
		return P2WSH, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScriptType, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ScriptType) MarshalText() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ScriptType) UnmarshalText(text []byte) error {
	parsed, err := ParseScriptType(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// checkQuorum verifies an m-of-n multisig quorum.
func checkQuorum(m, n int) error {
	if m < 1 || n < m || n > txscript.MaxPubKeysPerMultiSig {
		return fmt.Errorf("%w: %d-of-%d", ErrInvalidQuorum, m, n)
	}

	return nil
}

// EstimateVSize returns the estimated virtual size of a transaction with the
// given number of inputs and outputs, every input spending an m-of-n
// multisig of this script type and every output paying to one.
func (s ScriptType) EstimateVSize(inputs, outputs, m, n int) (btcunit.VByte,
	error) {

	if err := s.validate(); err != nil {
		return btcunit.VByte{}, err
	}

	if err := checkQuorum(m, n); err != nil {
		return btcunit.VByte{}, err
	}

	if inputs < 0 || outputs < 0 {
		return btcunit.VByte{}, fmt.Errorf("negative input or output " +
			"count")
	}

	return s.estimateVSize(inputs, outputs, m, n), nil
}

// validate returns an error for values outside the enumeration.
func (s ScriptType) validate() error {
	switch s {
	case P2SH, P2SHP2WSH, P2WSH:
		return nil

	default:
		return fmt.Errorf("%w: %v", ErrUnknownScriptType, s)
	}
}

// estimateVSize is EstimateVSize for arguments that were already checked.
func (s ScriptType) estimateVSize(inputs, outputs, m,
	n int) btcunit.VByte {

	var weight int
	switch s {
	case P2SH:
		weight = blockchain.WitnessScaleFactor *
			legacySize(inputs, outputs, m, n)

	case P2SHP2WSH:
		base := nestedInputSize*inputs + p2shOutputSize*outputs +
			nestedTxOverhead

		weight = blockchain.WitnessScaleFactor*base +
			witnessSize(inputs, m, n)

	case P2WSH:
		base := txOverheadSize + varIntSize(inputs) +
			txsizes.RedeemP2WPKHInputSize*inputs +
			varIntSize(outputs) + p2wshOutputSize*outputs

		weight = blockchain.WitnessScaleFactor*base +
			witnessSize(inputs, m, n)
	}

	vsize := (weight + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return btcunit.NewVByte(uint64(vsize))
}

// outputSize is the serialized size of one output of this script type, the
// size a change output adds to a transaction.
func (s ScriptType) outputSize() btcunit.VByte {
	if s == P2WSH {
		return btcunit.NewVByte(p2wshOutputSize)
	}

	return btcunit.NewVByte(p2shOutputSize)
}

// multisigScriptSize is the size of an m-of-n OP_CHECKMULTISIG script.
func multisigScriptSize(n int) int {
	return multisigScriptOverhead + multisigKeySize*n
}

// witnessSize is the size of the witness data of a transaction whose inputs
// all spend an m-of-n witness script, marker and flag included.
func witnessSize(inputs, m, n int) int {
	if inputs == 0 {
		return 0
	}

	script := multisigScriptSize(n)

	// The stack holds the empty CHECKMULTISIG dummy, m signatures and
	// the witness script.
	perInput := varIntSize(m+2) + 1 + multisigSigSize*m +
		varIntSize(script) + script

	return segwitMarkerSize + varIntSize(inputs) + perInput*inputs
}

// legacySize is the size of a transaction whose inputs all spend an m-of-n
// P2SH multisig.
func legacySize(inputs, outputs, m, n int) int {
	redeem := multisigScriptSize(n)
	sigScript := 1 + multisigSigSize*m + pushSize(redeem) + redeem
	input := legacyInputOverhead + varIntSize(sigScript) + sigScript

	return input*inputs + p2shOutputSize*outputs + txOverheadSize +
		varIntSize(inputs) + varIntSize(outputs)
}

// pushSize is the size of the opcode pushing data of the given length.
func pushSize(length int) int {
	switch {
	case length < txscript.OP_PUSHDATA1:
		return 1

	case length <= 0xff:
		return 2

	default:
		return 3
	}
}

func varIntSize(n int) int {
	return wire.VarIntSerializeSize(uint64(n))
}
