// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbtv2 implements version 2 Partially Signed Bitcoin Transactions
// as defined in BIP 370. Unlike version 0, a version 2 packet carries no
// global unsigned transaction; every input and output map holds the fields
// needed to construct it.
//
// The BIP 174 value types for derivations and unknown records are shared
// with github.com/btcsuite/btcd/btcutil/psbt, and version 0 packets parsed by
// that package can be converted with FromV0.
package psbtv2

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// Version is the PSBT version produced by this package.
	Version uint32 = 2

	// DefaultTxVersion is the transaction version of new packets.
	DefaultTxVersion int32 = 2

	// xpubKeyLength is the length of a BIP32 serialized extended key
	// without its checksum.
	xpubKeyLength = 78

	// MaxPsbtValueLength is the size of the largest value accepted when
	// parsing.
	MaxPsbtValueLength = 4000000

	// MaxPsbtKeyLength is the length of the largest key accepted when
	// parsing.
	MaxPsbtKeyLength = 10000
)

// psbtMagic is the separator that starts every serialized packet.
var psbtMagic = [5]byte{0x70, 0x73, 0x62, 0x74, 0xff}

var (
	// ErrInvalidPsbtFormat is returned for any serialization that does
	// not follow BIP 174 and BIP 370.
	ErrInvalidPsbtFormat = errors.New("invalid PSBT serialization format")

	// ErrInvalidMagicBytes is returned when the magic prefix is missing.
	ErrInvalidMagicBytes = errors.New("invalid PSBT magic bytes")

	// ErrDuplicateKey is returned when a key repeats within a map.
	ErrDuplicateKey = errors.New("duplicate PSBT key")

	// ErrUnsupportedVersion is returned for PSBT versions other than 0
	// and 2.
	ErrUnsupportedVersion = errors.New("unsupported PSBT version")

	// ErrDuplicateXpub is returned when the same xpub is added twice to
	// the global map.
	ErrDuplicateXpub = errors.New("duplicate global xpub")

	// ErrInvalidDerivation is returned for BIP32 derivation records with
	// an invalid public key.
	ErrInvalidDerivation = errors.New("invalid bip32 derivation")
)

// Input is a single BIP 370 input map.
type Input struct {
	// PreviousTxid is the hash of the transaction holding the spent
	// output. Like every chainhash.Hash it is kept in internal byte order,
	// which is also the order it is serialized in.
	PreviousTxid chainhash.Hash

	// OutputIndex is the index of the spent output.
	OutputIndex uint32

	// Sequence is only serialized when set.
	Sequence fn.Option[uint32]

	NonWitnessUtxo  *wire.MsgTx
	WitnessUtxo     *wire.TxOut
	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*psbt.Bip32Derivation
	Unknowns        []*psbt.Unknown
}

// OutPoint returns the outpoint spent by the input.
func (i *Input) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: i.PreviousTxid, Index: i.OutputIndex}
}

// Output is a single BIP 370 output map.
type Output struct {
	Amount          int64
	Script          []byte
	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*psbt.Bip32Derivation
	Unknowns        []*psbt.Unknown
}

// Packet is a version 2 PSBT: one global map followed by one map per input
// and one per output. The input and output counts are not stored; they are
// the lengths of Inputs and Outputs.
type Packet struct {
	TxVersion        int32
	FallbackLocktime uint32

	// TxModifiable is the PSBT_GLOBAL_TX_MODIFIABLE bitfield.
	TxModifiable fn.Option[uint8]

	// XPubs are serialized in insertion order.
	XPubs []psbt.XPub

	Inputs   []Input
	Outputs  []Output
	Unknowns []*psbt.Unknown
}

// New returns an empty packet with the default transaction version.
func New() *Packet {
	return &Packet{
		TxVersion: DefaultTxVersion,
	}
}

// InputCount returns the number of input maps.
func (p *Packet) InputCount() int {
	return len(p.Inputs)
}

// OutputCount returns the number of output maps.
func (p *Packet) OutputCount() int {
	return len(p.Outputs)
}

// AddInput appends an input map.
func (p *Packet) AddInput(in Input) error {
	if err := checkDerivations(in.Bip32Derivation); err != nil {
		return fmt.Errorf("input %v: %w", in.OutPoint(), err)
	}

	p.Inputs = append(p.Inputs, in)

	return nil
}

// AddOutput appends an output map.
func (p *Packet) AddOutput(out Output) error {
	if len(out.Script) == 0 {
		return fmt.Errorf("%w: output %d has no script",
			ErrInvalidPsbtFormat, len(p.Outputs))
	}

	if err := checkDerivations(out.Bip32Derivation); err != nil {
		return fmt.Errorf("output %d: %w", len(p.Outputs), err)
	}

	p.Outputs = append(p.Outputs, out)

	return nil
}

// AddGlobalXpub appends a global xpub record. The extended key must be the
// 78 byte BIP32 serialization and must not already be present.
func (p *Packet) AddGlobalXpub(xpub psbt.XPub) error {
	if len(xpub.ExtendedKey) != xpubKeyLength {
		return fmt.Errorf("%w: xpub key is %d bytes",
			ErrInvalidPsbtFormat, len(xpub.ExtendedKey))
	}

	for _, existing := range p.XPubs {
		if bytes.Equal(existing.ExtendedKey, xpub.ExtendedKey) {
			return ErrDuplicateXpub
		}
	}

	p.XPubs = append(p.XPubs, xpub)

	return nil
}

// UnsignedTx assembles the transaction described by the packet. Inputs
// without a sequence get the final sequence number.
func (p *Packet) UnsignedTx() *wire.MsgTx {
	tx := wire.NewMsgTx(p.TxVersion)
	tx.LockTime = p.FallbackLocktime

	for i := range p.Inputs {
		in := &p.Inputs[i]
		op := in.OutPoint()

		txIn := wire.NewTxIn(&op, nil, nil)
		txIn.Sequence = in.Sequence.UnwrapOr(wire.MaxTxInSequenceNum)
		tx.AddTxIn(txIn)
	}

	for _, out := range p.Outputs {
		tx.AddTxOut(wire.NewTxOut(out.Amount, out.Script))
	}

	return tx
}

// SanityCheck verifies that the packet can be serialized and describes a
// transaction.
func (p *Packet) SanityCheck() error {
	if len(p.Inputs) == 0 || len(p.Outputs) == 0 {
		return fmt.Errorf("%w: packet needs inputs and outputs",
			ErrInvalidPsbtFormat)
	}

	seen := make(map[wire.OutPoint]struct{}, len(p.Inputs))
	for i := range p.Inputs {
		op := p.Inputs[i].OutPoint()
		if _, ok := seen[op]; ok {
			return fmt.Errorf("%w: outpoint %v spent twice",
				ErrInvalidPsbtFormat, op)
		}
		seen[op] = struct{}{}
	}

	for i, out := range p.Outputs {
		if len(out.Script) == 0 || out.Amount < 0 {
			return fmt.Errorf("%w: output %d is incomplete",
				ErrInvalidPsbtFormat, i)
		}
	}

	return nil
}

// checkDerivations makes sure every derivation carries a valid compressed
// public key.
func checkDerivations(derivations []*psbt.Bip32Derivation) error {
	for _, d := range derivations {
		if len(d.PubKey) != btcec.PubKeyBytesLenCompressed {
			return fmt.Errorf("%w: pubkey %x", ErrInvalidDerivation,
				d.PubKey)
		}

		if _, err := btcec.ParsePubKey(d.PubKey); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDerivation, err)
		}
	}

	return nil
}

// FromV0 converts a version 0 packet into an equivalent version 2 packet.
func FromV0(v0 *psbt.Packet) (*Packet, error) {
	tx := v0.UnsignedTx
	if tx == nil {
		return nil, fmt.Errorf("%w: missing unsigned tx",
			ErrInvalidPsbtFormat)
	}

	if len(v0.Inputs) != len(tx.TxIn) || len(v0.Outputs) != len(tx.TxOut) {
		return nil, fmt.Errorf("%w: map count does not match unsigned tx",
			ErrInvalidPsbtFormat)
	}

	p := &Packet{
		TxVersion:        tx.Version,
		FallbackLocktime: tx.LockTime,
	}

	// Global xpubs of a version 0 packet surface as unknown records.
	for _, kv := range v0.Unknowns {
		if len(kv.Key) == 1+xpubKeyLength &&
			GlobalType(kv.Key[0]) == XpubType {

			xpub, err := readXPub(kv.Key[1:], kv.Value)
			if err != nil {
				return nil, err
			}

			if err := p.AddGlobalXpub(*xpub); err != nil {
				return nil, err
			}

			continue
		}

		p.Unknowns = append(p.Unknowns, kv)
	}

	for i, txIn := range tx.TxIn {
		pIn := v0.Inputs[i]
		p.Inputs = append(p.Inputs, Input{
			PreviousTxid:    txIn.PreviousOutPoint.Hash,
			OutputIndex:     txIn.PreviousOutPoint.Index,
			Sequence:        fn.Some(txIn.Sequence),
			NonWitnessUtxo:  pIn.NonWitnessUtxo,
			WitnessUtxo:     pIn.WitnessUtxo,
			RedeemScript:    pIn.RedeemScript,
			WitnessScript:   pIn.WitnessScript,
			Bip32Derivation: pIn.Bip32Derivation,
			Unknowns:        pIn.Unknowns,
		})
	}

	for i, txOut := range tx.TxOut {
		pOut := v0.Outputs[i]
		p.Outputs = append(p.Outputs, Output{
			Amount:          txOut.Value,
			Script:          txOut.PkScript,
			RedeemScript:    pOut.RedeemScript,
			WitnessScript:   pOut.WitnessScript,
			Bip32Derivation: pOut.Bip32Derivation,
			Unknowns:        pOut.Unknowns,
		})
	}

	log.Debugf("Converted version 0 PSBT %v to version 2", tx.TxHash())

	return p, nil
}
